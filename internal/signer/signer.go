// Package signer loads the local signing key. Simulations only need
// the derived address; the key itself never leaves the struct and is
// never echoed into errors or results.
package signer

import (
	"crypto/ecdsa"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	apperr "github.com/ggonzalez94/ethquery/internal/errors"
)

type Local struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// FromHex parses a hex-encoded secp256k1 key, with or without the 0x
// prefix. Parse errors never include the offending material.
func FromHex(raw string) (*Local, error) {
	clean := strings.TrimPrefix(strings.TrimSpace(raw), "0x")
	if clean == "" {
		return nil, apperr.New(apperr.CodeWallet, "empty private key")
	}
	pk, err := crypto.HexToECDSA(clean)
	if err != nil {
		return nil, apperr.New(apperr.CodeWallet, "private key is not a valid secp256k1 scalar")
	}
	return &Local{privateKey: pk, address: crypto.PubkeyToAddress(pk.PublicKey)}, nil
}

// FromFile reads a hex key from disk.
func FromFile(path string) (*Local, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeIO, "read private key file", err)
	}
	return FromHex(string(buf))
}

func (s *Local) Address() common.Address {
	return s.address
}
