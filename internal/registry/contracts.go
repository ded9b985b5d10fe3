package registry

import (
	"github.com/ethereum/go-ethereum/common"

	apperr "github.com/ggonzalez94/ethquery/internal/errors"
)

// Contracts holds the protocol-level addresses for one chain. Token
// addresses live in the registry itself; these are the fixed venue
// contracts quotes and swaps go through.
type Contracts struct {
	QuoterV2   common.Address
	SwapRouter common.Address
}

var contractsByChain = map[uint64]Contracts{
	// Ethereum mainnet.
	1: {
		QuoterV2:   common.HexToAddress("0x61fFE014bA17989E743c5F6cB21bF9697530B21e"),
		SwapRouter: common.HexToAddress("0xE592427A0AEce92De3Edee1F18E0157C05861564"),
	},
}

// ContractsFor returns the venue contracts for the given chain.
func ContractsFor(chainID uint64) (Contracts, error) {
	c, ok := contractsByChain[chainID]
	if !ok {
		return Contracts{}, apperr.Newf(apperr.CodeConfig, "no venue contracts configured for chain %d", chainID)
	}
	return c, nil
}
