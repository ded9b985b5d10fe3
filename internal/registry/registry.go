// Package registry maintains token metadata for one chain. Known
// tokens are seeded at startup; unknown ERC-20 addresses are
// discovered on chain the first time they are referenced and kept for
// the life of the process. Discovery of the same address by
// concurrent callers is collapsed to a single round of contract
// calls, and the first completed discovery wins.
package registry

import (
	"context"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	apperr "github.com/ggonzalez94/ethquery/internal/errors"
	"github.com/ggonzalez94/ethquery/internal/node"
)

// QuoteCurrency names the denomination of a price.
type QuoteCurrency string

const (
	QuoteUSD QuoteCurrency = "USD"
	QuoteETH QuoteCurrency = "ETH"
)

// ParseQuoteCurrency normalizes a client-supplied currency. An empty
// value defaults to USD.
func ParseQuoteCurrency(s string) (QuoteCurrency, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "USD":
		return QuoteUSD, nil
	case "ETH":
		return QuoteETH, nil
	default:
		return "", apperr.Newf(apperr.CodeInvalidParams, "unsupported quote currency %q", s)
	}
}

// Token is one registry entry. Feeds maps a quote currency to the
// Chainlink aggregator that prices the token directly in it; a
// discovered token has no feeds.
type Token struct {
	Address        common.Address
	Symbol         string
	Decimals       uint8
	Feeds          map[QuoteCurrency]common.Address
	DefaultFeeTier uint32
}

// Feed returns the direct aggregator for the given quote, if any.
func (t Token) Feed(q QuoteCurrency) (common.Address, bool) {
	a, ok := t.Feeds[q]
	return a, ok
}

// NodeReader is the slice of the node client discovery needs.
type NodeReader interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg) ([]byte, error)
}

var _ NodeReader = (*node.Client)(nil)

// Registry is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	byAddress map[common.Address]Token
	bySymbol  map[string]common.Address

	node  NodeReader
	store *Store
	group singleflight.Group
	erc20 abi.ABI
	log   logrus.FieldLogger
}

// Options configures New. Store and Logger are optional.
type Options struct {
	ChainID uint64
	Node    NodeReader
	Store   *Store
	Logger  logrus.FieldLogger
}

// New builds a registry seeded with the chain's default tokens plus
// whatever the persistent store remembers from earlier runs.
func New(opts Options) (*Registry, error) {
	log := opts.Logger
	if log == nil {
		log = logrus.New()
	}
	r := &Registry{
		byAddress: make(map[common.Address]Token),
		bySymbol:  make(map[string]common.Address),
		node:      opts.Node,
		store:     opts.Store,
		erc20:     MustABI(ERC20MinimalABI),
		log:       log,
	}
	for _, t := range DefaultTokens(opts.ChainID) {
		r.add(t)
	}
	if opts.Store != nil {
		stored, err := opts.Store.All()
		if err != nil {
			return nil, err
		}
		for _, t := range stored {
			r.add(t)
		}
	}
	return r, nil
}

// add inserts under first-insert-wins. Caller must not hold r.mu.
func (r *Registry) add(t Token) Token {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.byAddress[t.Address]; ok {
		return existing
	}
	r.byAddress[t.Address] = t
	key := strings.ToUpper(t.Symbol)
	if _, taken := r.bySymbol[key]; !taken && key != "" {
		r.bySymbol[key] = t.Address
	}
	return t
}

// Lookup returns a token already known to the registry.
func (r *Registry) Lookup(addr common.Address) (Token, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.byAddress[addr]
	return t, ok
}

// BySymbol resolves a case-insensitive symbol to a known token.
func (r *Registry) BySymbol(symbol string) (Token, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	addr, ok := r.bySymbol[strings.ToUpper(symbol)]
	if !ok {
		return Token{}, false
	}
	return r.byAddress[addr], true
}

// Ensure returns the token for an address, discovering its metadata
// on chain if it has never been seen. Concurrent calls for the same
// address share one discovery; whichever discovery lands first is the
// entry every caller sees.
func (r *Registry) Ensure(ctx context.Context, addr common.Address) (Token, error) {
	if t, ok := r.Lookup(addr); ok {
		return t, nil
	}
	v, err, _ := r.group.Do(addr.Hex(), func() (any, error) {
		if t, ok := r.Lookup(addr); ok {
			return t, nil
		}
		t, err := r.discover(ctx, addr)
		if err != nil {
			return Token{}, err
		}
		t = r.add(t)
		if r.store != nil {
			if err := r.store.Put(t); err != nil {
				r.log.WithError(err).WithField("token", t.Address.Hex()).Warn("token cache write failed")
			}
		}
		return t, nil
	})
	if err != nil {
		return Token{}, err
	}
	return v.(Token), nil
}

// Resolve accepts either a 0x address or a known symbol.
func (r *Registry) Resolve(ctx context.Context, identifier string) (Token, error) {
	s := strings.TrimSpace(identifier)
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		if !common.IsHexAddress(s) {
			return Token{}, apperr.Newf(apperr.CodeInvalidParams, "malformed address %q", identifier)
		}
		return r.Ensure(ctx, common.HexToAddress(s))
	}
	if t, ok := r.BySymbol(s); ok {
		return t, nil
	}
	return Token{}, apperr.Newf(apperr.CodeInvalidParams, "unknown token symbol or address %q", identifier)
}

// QuoteToken returns the stable leg used when a quote currency has to
// be expressed as an on-chain asset. USD maps to USDC, ETH to WETH.
func (r *Registry) QuoteToken(q QuoteCurrency) (Token, error) {
	var symbol string
	switch q {
	case QuoteUSD:
		symbol = "USDC"
	case QuoteETH:
		symbol = "WETH"
	default:
		return Token{}, apperr.Newf(apperr.CodeInvalidParams, "unsupported quote currency %q", string(q))
	}
	t, ok := r.BySymbol(symbol)
	if !ok {
		return Token{}, apperr.Newf(apperr.CodeConfig, "quote asset %s not registered", symbol)
	}
	return t, nil
}

// discover reads decimals() and symbol() from the contract. decimals
// is load-bearing for every amount conversion, so a failure there
// rejects the token; a missing symbol only costs us a display name.
func (r *Registry) discover(ctx context.Context, addr common.Address) (Token, error) {
	decimals, err := r.callUint8(ctx, addr, "decimals")
	if err != nil {
		if _, ok := node.AsRevert(err); ok {
			return Token{}, apperr.Wrap(apperr.CodeInvalidParams, "address is not an ERC-20 token", err)
		}
		return Token{}, err
	}

	symbol, err := r.callString(ctx, addr, "symbol")
	if err != nil {
		r.log.WithField("token", addr.Hex()).Debug("symbol lookup failed, using placeholder")
		symbol = "ERC20"
	}

	r.log.WithFields(logrus.Fields{
		"token":    addr.Hex(),
		"symbol":   symbol,
		"decimals": decimals,
	}).Info("discovered token")

	return Token{Address: addr, Symbol: symbol, Decimals: decimals}, nil
}

func (r *Registry) callUint8(ctx context.Context, addr common.Address, method string) (uint8, error) {
	out, err := r.call(ctx, addr, method)
	if err != nil {
		return 0, err
	}
	vals, err := r.erc20.Unpack(method, out)
	if err != nil {
		return 0, apperr.Wrap(apperr.CodeUpstream, "malformed "+method+" response", err)
	}
	return vals[0].(uint8), nil
}

func (r *Registry) callString(ctx context.Context, addr common.Address, method string) (string, error) {
	out, err := r.call(ctx, addr, method)
	if err != nil {
		return "", err
	}
	vals, err := r.erc20.Unpack(method, out)
	if err != nil {
		return "", apperr.Wrap(apperr.CodeUpstream, "malformed "+method+" response", err)
	}
	return vals[0].(string), nil
}

func (r *Registry) call(ctx context.Context, addr common.Address, method string) ([]byte, error) {
	data, err := r.erc20.Pack(method)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, "pack "+method, err)
	}
	return r.node.CallContract(ctx, ethereum.CallMsg{To: &addr, Data: data})
}
