// Package balance reads native and ERC-20 balances and renders them
// as exact decimal strings.
package balance

import (
	"context"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/ggonzalez94/ethquery/internal/amount"
	apperr "github.com/ggonzalez94/ethquery/internal/errors"
	"github.com/ggonzalez94/ethquery/internal/registry"
)

// Node is the slice of the node client the resolver needs.
type Node interface {
	BalanceAt(ctx context.Context, account common.Address) (*big.Int, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg) ([]byte, error)
}

// Result is one resolved balance. Formatted is a decimal string
// scaled by the asset's decimals; Raw is the untouched base-unit
// integer.
type Result struct {
	Symbol    string `json:"symbol"`
	Raw       string `json:"raw"`
	Decimals  uint8  `json:"decimals"`
	Formatted string `json:"formatted"`
	Token     string `json:"token,omitempty"`
}

type Resolver struct {
	node     Node
	registry *registry.Registry
	erc20    abi.ABI
}

func NewResolver(node Node, reg *registry.Registry) *Resolver {
	return &Resolver{
		node:     node,
		registry: reg,
		erc20:    registry.MustABI(registry.ERC20MinimalABI),
	}
}

// Get resolves the balance of wallet. An empty token means the native
// asset; otherwise token is a symbol or ERC-20 address.
func (r *Resolver) Get(ctx context.Context, wallet, token string) (*Result, error) {
	owner, err := parseWallet(wallet)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(token) == "" {
		return r.native(ctx, owner)
	}
	return r.erc20Balance(ctx, owner, token)
}

func parseWallet(wallet string) (common.Address, error) {
	s := strings.TrimSpace(wallet)
	if !common.IsHexAddress(s) {
		return common.Address{}, apperr.Newf(apperr.CodeInvalidParams, "malformed wallet address %q", wallet)
	}
	return common.HexToAddress(s), nil
}

func (r *Resolver) native(ctx context.Context, owner common.Address) (*Result, error) {
	raw, err := r.node.BalanceAt(ctx, owner)
	if err != nil {
		return nil, err
	}
	return &Result{
		Symbol:    "ETH",
		Raw:       raw.String(),
		Decimals:  18,
		Formatted: amount.FormatBaseUnits(raw, 18),
	}, nil
}

func (r *Resolver) erc20Balance(ctx context.Context, owner common.Address, token string) (*Result, error) {
	tok, err := r.registry.Resolve(ctx, token)
	if err != nil {
		return nil, err
	}

	data, err := r.erc20.Pack("balanceOf", owner)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, "pack balanceOf", err)
	}
	out, err := r.node.CallContract(ctx, ethereum.CallMsg{To: &tok.Address, Data: data})
	if err != nil {
		return nil, err
	}
	vals, err := r.erc20.Unpack("balanceOf", out)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeUpstream, "malformed balanceOf response", err)
	}
	raw := vals[0].(*big.Int)

	return &Result{
		Symbol:    tok.Symbol,
		Raw:       raw.String(),
		Decimals:  tok.Decimals,
		Formatted: amount.FormatBaseUnits(raw, tok.Decimals),
		Token:     tok.Address.Hex(),
	}, nil
}
