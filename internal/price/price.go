// Package price resolves token prices. Strategies are tried in a
// fixed order of trust: a direct Chainlink feed, then a price pivoted
// through ETH across two feeds, then an on-chain market quote. The
// first strategy that produces a positive price wins.
package price

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"github.com/ggonzalez94/ethquery/internal/amount"
	apperr "github.com/ggonzalez94/ethquery/internal/errors"
	"github.com/ggonzalez94/ethquery/internal/registry"
)

// Source labels identify which strategy produced a price.
const (
	SourceChainlinkDirect = "chainlink-direct"
	SourceChainlinkPivot  = "chainlink-pivot"
	SourceMarketSpot      = "market-spot"
)

// pivotQuoScale is the output precision of pivoted divisions.
const pivotQuoScale = 18

// Node is the slice of the node client the engine needs.
type Node interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg) ([]byte, error)
}

// Result is one resolved price. Decimals is the scale the price
// string was rendered at.
type Result struct {
	Base      string `json:"base"`
	Quote     string `json:"quote"`
	Price     string `json:"price"`
	Source    string `json:"source"`
	Decimals  uint8  `json:"decimals"`
	Stale     bool   `json:"stale"`
	UpdatedAt int64  `json:"updated_at,omitempty"`
}

type Engine struct {
	node       Node
	registry   *registry.Registry
	contracts  registry.Contracts
	staleAfter time.Duration
	aggregator abi.ABI
	quoter     abi.ABI
	log        logrus.FieldLogger
}

type Options struct {
	Node       Node
	Registry   *registry.Registry
	Contracts  registry.Contracts
	StaleAfter time.Duration
	Logger     logrus.FieldLogger
}

func NewEngine(opts Options) *Engine {
	log := opts.Logger
	if log == nil {
		log = logrus.New()
	}
	return &Engine{
		node:       opts.Node,
		registry:   opts.Registry,
		contracts:  opts.Contracts,
		staleAfter: opts.StaleAfter,
		aggregator: registry.MustABI(registry.ChainlinkAggregatorABI),
		quoter:     registry.MustABI(registry.UniswapV3QuoterV2ABI),
		log:        log,
	}
}

// Get prices a token in the given currency (USD or ETH, USD when
// empty). Strategy failures are collected; only when every strategy
// has failed does the call error.
func (e *Engine) Get(ctx context.Context, token, currency string) (*Result, error) {
	quote, err := registry.ParseQuoteCurrency(currency)
	if err != nil {
		return nil, err
	}
	tok, err := e.registry.Resolve(ctx, token)
	if err != nil {
		return nil, err
	}

	type strategy struct {
		source string
		run    func(context.Context, registry.Token, registry.QuoteCurrency) (*Result, error)
	}
	strategies := []strategy{
		{SourceChainlinkDirect, e.direct},
		{SourceChainlinkPivot, e.pivot},
		{SourceMarketSpot, e.marketSpot},
	}

	var failures []string
	for _, s := range strategies {
		res, err := s.run(ctx, tok, quote)
		if err == nil {
			return res, nil
		}
		e.log.WithFields(logrus.Fields{
			"token":  tok.Symbol,
			"source": s.source,
		}).WithError(err).Debug("price strategy failed")
		failures = append(failures, fmt.Sprintf("%s: %v", s.source, err))
	}
	return nil, apperr.Newf(apperr.CodePrice, "no price available for %s/%s (%s)",
		tok.Symbol, quote, strings.Join(failures, "; "))
}

// direct reads the token's own aggregator for the requested quote.
func (e *Engine) direct(ctx context.Context, tok registry.Token, quote registry.QuoteCurrency) (*Result, error) {
	feed, ok := tok.Feed(quote)
	if !ok {
		return nil, fmt.Errorf("no direct %s feed", quote)
	}
	obs, err := e.readFeed(ctx, feed)
	if err != nil {
		return nil, err
	}
	return e.result(tok, quote, obs.price, SourceChainlinkDirect, obs.updatedAt), nil
}

// pivot derives the price through ETH using the token's other feed
// and the canonical ETH/USD feed.
func (e *Engine) pivot(ctx context.Context, tok registry.Token, quote registry.QuoteCurrency) (*Result, error) {
	weth, err := e.registry.QuoteToken(registry.QuoteETH)
	if err != nil {
		return nil, err
	}
	ethUSDFeed, ok := weth.Feed(registry.QuoteUSD)
	if !ok {
		return nil, fmt.Errorf("no ETH/USD feed registered")
	}

	switch quote {
	case registry.QuoteUSD:
		// base/ETH multiplied by ETH/USD.
		baseFeed, ok := tok.Feed(registry.QuoteETH)
		if !ok {
			return nil, fmt.Errorf("no %s/ETH feed to pivot through", tok.Symbol)
		}
		base, err := e.readFeed(ctx, baseFeed)
		if err != nil {
			return nil, err
		}
		ethUSD, err := e.readFeed(ctx, ethUSDFeed)
		if err != nil {
			return nil, err
		}
		price := amount.Mul(base.price, ethUSD.price)
		return e.result(tok, quote, price, SourceChainlinkPivot, older(base.updatedAt, ethUSD.updatedAt)), nil

	case registry.QuoteETH:
		// base/USD divided by ETH/USD.
		baseFeed, ok := tok.Feed(registry.QuoteUSD)
		if !ok {
			return nil, fmt.Errorf("no %s/USD feed to pivot through", tok.Symbol)
		}
		base, err := e.readFeed(ctx, baseFeed)
		if err != nil {
			return nil, err
		}
		ethUSD, err := e.readFeed(ctx, ethUSDFeed)
		if err != nil {
			return nil, err
		}
		if ethUSD.price.IsZero() {
			return nil, fmt.Errorf("ETH/USD feed answered zero")
		}
		price, err := amount.Quo(base.price, ethUSD.price, pivotQuoScale)
		if err != nil {
			return nil, err
		}
		return e.result(tok, quote, price, SourceChainlinkPivot, older(base.updatedAt, ethUSD.updatedAt)), nil
	}
	return nil, fmt.Errorf("unsupported quote %q", quote)
}

// marketSpot quotes a representative unit of the token against the
// quote asset on the swap venue. A market quote is an instantaneous
// observation, so it is never flagged stale.
func (e *Engine) marketSpot(ctx context.Context, tok registry.Token, quote registry.QuoteCurrency) (*Result, error) {
	quoteTok, err := e.registry.QuoteToken(quote)
	if err != nil {
		return nil, err
	}
	if quoteTok.Address == tok.Address {
		return nil, fmt.Errorf("base and quote are the same asset")
	}

	// One whole token in base units.
	amountIn := amount.Pow10(tok.Decimals)
	fee := tok.DefaultFeeTier
	if fee == 0 {
		fee = 3000
	}

	params := struct {
		TokenIn           common.Address
		TokenOut          common.Address
		AmountIn          *big.Int
		Fee               *big.Int
		SqrtPriceLimitX96 *big.Int
	}{tok.Address, quoteTok.Address, amountIn, big.NewInt(int64(fee)), big.NewInt(0)}

	data, err := e.quoter.Pack("quoteExactInputSingle", params)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, "pack quote", err)
	}
	out, err := e.node.CallContract(ctx, ethereum.CallMsg{To: &e.contracts.QuoterV2, Data: data})
	if err != nil {
		return nil, err
	}
	vals, err := e.quoter.Unpack("quoteExactInputSingle", out)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeUpstream, "malformed quoter response", err)
	}
	amountOut := vals[0].(*big.Int)
	if amountOut.Sign() <= 0 {
		return nil, fmt.Errorf("venue quoted zero output")
	}

	price := amount.Decimal{Value: amountOut, Scale: quoteTok.Decimals}
	return &Result{
		Base:     tok.Symbol,
		Quote:    string(quote),
		Price:    price.String(),
		Source:   SourceMarketSpot,
		Decimals: quoteTok.Decimals,
	}, nil
}

type observation struct {
	price     amount.Decimal
	updatedAt time.Time
}

// readFeed reads latestRoundData and the feed's decimals. Zero and
// negative answers are strategy failures, not prices.
func (e *Engine) readFeed(ctx context.Context, feed common.Address) (observation, error) {
	decData, err := e.aggregator.Pack("decimals")
	if err != nil {
		return observation{}, apperr.Wrap(apperr.CodeInternal, "pack decimals", err)
	}
	decOut, err := e.node.CallContract(ctx, ethereum.CallMsg{To: &feed, Data: decData})
	if err != nil {
		return observation{}, err
	}
	decVals, err := e.aggregator.Unpack("decimals", decOut)
	if err != nil {
		return observation{}, apperr.Wrap(apperr.CodeUpstream, "malformed feed decimals", err)
	}
	decimals := decVals[0].(uint8)

	roundData, err := e.aggregator.Pack("latestRoundData")
	if err != nil {
		return observation{}, apperr.Wrap(apperr.CodeInternal, "pack latestRoundData", err)
	}
	roundOut, err := e.node.CallContract(ctx, ethereum.CallMsg{To: &feed, Data: roundData})
	if err != nil {
		return observation{}, err
	}
	roundVals, err := e.aggregator.Unpack("latestRoundData", roundOut)
	if err != nil {
		return observation{}, apperr.Wrap(apperr.CodeUpstream, "malformed round data", err)
	}
	answer := roundVals[1].(*big.Int)
	updatedAt := roundVals[3].(*big.Int)

	if answer.Sign() <= 0 {
		return observation{}, fmt.Errorf("feed %s answered %s", feed.Hex(), answer)
	}
	return observation{
		price:     amount.Decimal{Value: answer, Scale: decimals},
		updatedAt: time.Unix(updatedAt.Int64(), 0).UTC(),
	}, nil
}

func (e *Engine) result(tok registry.Token, quote registry.QuoteCurrency, price amount.Decimal, source string, updatedAt time.Time) *Result {
	stale := e.staleAfter > 0 && time.Since(updatedAt) > e.staleAfter
	return &Result{
		Base:      tok.Symbol,
		Quote:     string(quote),
		Price:     price.String(),
		Source:    source,
		Decimals:  price.Scale,
		Stale:     stale,
		UpdatedAt: updatedAt.Unix(),
	}
}

// older returns the earlier of two feed timestamps; a derived price
// is only as fresh as its oldest input.
func older(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}
