// Package swap builds and dry-runs venue swap transactions. Nothing
// here ever broadcasts: the output is router calldata plus the gas
// estimate and simulated outcome, for the caller to submit or discard.
package swap

import (
	"context"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/sirupsen/logrus"

	"github.com/ggonzalez94/ethquery/internal/amount"
	apperr "github.com/ggonzalez94/ethquery/internal/errors"
	"github.com/ggonzalez94/ethquery/internal/node"
	"github.com/ggonzalez94/ethquery/internal/registry"
	"github.com/ggonzalez94/ethquery/internal/signer"
)

const (
	// How long a built transaction stays valid on chain.
	deadlineWindow = 10 * time.Minute

	defaultSlippageBps = 100
	maxSlippageBps     = 10_000
	defaultFeeTier     = 3000
)

// Node is the slice of the node client the engine needs.
type Node interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg) ([]byte, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
}

// Request describes one desired swap. AmountIn is in the input
// token's base units. SlippageBps nil means the default tolerance;
// zero means none at all.
type Request struct {
	TokenIn     string
	TokenOut    string
	AmountIn    string
	SlippageBps *uint32
	FeeTier     uint32
	PriceLimit  string
	Recipient   string
}

// Result is a fully prepared, simulated, unsent swap.
type Result struct {
	TokenIn           string `json:"token_in"`
	TokenOut          string `json:"token_out"`
	AmountIn          string `json:"amount_in"`
	AmountOutEstimate string `json:"amount_out_estimate"`
	AmountOutMin      string `json:"amount_out_min"`
	AmountOutMinRaw   string `json:"amount_out_min_raw"`
	SlippageBps       uint32 `json:"slippage_bps"`
	FeeTier           uint32 `json:"fee_tier"`
	Router            string `json:"router"`
	CalldataHex       string `json:"calldata_hex"`
	GasEstimate       uint64 `json:"gas_estimate"`
	Deadline          int64  `json:"deadline"`
	Sender            string `json:"sender"`
}

type Engine struct {
	node      Node
	registry  *registry.Registry
	contracts registry.Contracts
	signer    *signer.Local
	quoter    abi.ABI
	router    abi.ABI
	log       logrus.FieldLogger
	now       func() time.Time
}

type Options struct {
	Node      Node
	Registry  *registry.Registry
	Contracts registry.Contracts
	Signer    *signer.Local
	Logger    logrus.FieldLogger
}

func NewEngine(opts Options) *Engine {
	log := opts.Logger
	if log == nil {
		log = logrus.New()
	}
	return &Engine{
		node:      opts.Node,
		registry:  opts.Registry,
		contracts: opts.Contracts,
		signer:    opts.Signer,
		quoter:    registry.MustABI(registry.UniswapV3QuoterV2ABI),
		router:    registry.MustABI(registry.UniswapV3RouterABI),
		log:       log,
		now:       time.Now,
	}
}

// Simulate quotes the swap, applies the slippage floor, packs router
// calldata, estimates gas, and dry-runs the call from the signer's
// address. Parameter validation happens before any network traffic.
func (e *Engine) Simulate(ctx context.Context, req Request) (*Result, error) {
	if e.signer == nil {
		return nil, apperr.New(apperr.CodeWallet, "no wallet configured: swaps require a signing key")
	}

	amountIn, err := amount.ParseBaseUnits(req.AmountIn)
	if err != nil {
		return nil, err
	}
	if amountIn.Sign() <= 0 {
		return nil, apperr.New(apperr.CodeInvalidParams, "amount_in must be positive")
	}

	slippage := uint32(defaultSlippageBps)
	if req.SlippageBps != nil {
		slippage = *req.SlippageBps
	}
	if slippage > maxSlippageBps {
		return nil, apperr.Newf(apperr.CodeInvalidParams, "slippage_bps %d exceeds %d", slippage, maxSlippageBps)
	}

	fee := req.FeeTier
	if fee == 0 {
		fee = defaultFeeTier
	}

	priceLimit := big.NewInt(0)
	if s := strings.TrimSpace(req.PriceLimit); s != "" {
		priceLimit, err = amount.ParseBaseUnits(s)
		if err != nil {
			return nil, apperr.Newf(apperr.CodeInvalidParams, "malformed price_limit %q", req.PriceLimit)
		}
	}

	recipient := e.signer.Address()
	if s := strings.TrimSpace(req.Recipient); s != "" {
		if !common.IsHexAddress(s) {
			return nil, apperr.Newf(apperr.CodeInvalidParams, "malformed recipient %q", req.Recipient)
		}
		recipient = common.HexToAddress(s)
	}

	tokenIn, err := e.registry.Resolve(ctx, req.TokenIn)
	if err != nil {
		return nil, err
	}
	tokenOut, err := e.registry.Resolve(ctx, req.TokenOut)
	if err != nil {
		return nil, err
	}
	if tokenIn.Address == tokenOut.Address {
		return nil, apperr.New(apperr.CodeInvalidParams, "token_in and token_out are the same asset")
	}

	estimatedOut, err := e.quote(ctx, tokenIn, tokenOut, amountIn, fee, priceLimit)
	if err != nil {
		return nil, err
	}

	minOut := amount.ApplySlippageFloor(estimatedOut, slippage)
	deadline := e.now().Add(deadlineWindow).Unix()

	calldata, err := e.packSwap(tokenIn, tokenOut, fee, recipient, deadline, amountIn, minOut, priceLimit)
	if err != nil {
		return nil, err
	}

	from := e.signer.Address()
	msg := ethereum.CallMsg{
		From: from,
		To:   &e.contracts.SwapRouter,
		Data: calldata,
	}

	gas, err := e.node.EstimateGas(ctx, msg)
	if err != nil {
		return nil, simulationError(err)
	}
	if _, err := e.node.CallContract(ctx, msg); err != nil {
		return nil, simulationError(err)
	}

	e.log.WithFields(logrus.Fields{
		"token_in":  tokenIn.Symbol,
		"token_out": tokenOut.Symbol,
		"gas":       gas,
	}).Info("swap simulated")

	return &Result{
		TokenIn:           tokenIn.Address.Hex(),
		TokenOut:          tokenOut.Address.Hex(),
		AmountIn:          amountIn.String(),
		AmountOutEstimate: amount.FormatBaseUnits(estimatedOut, tokenOut.Decimals),
		AmountOutMin:      amount.FormatBaseUnits(minOut, tokenOut.Decimals),
		AmountOutMinRaw:   minOut.String(),
		SlippageBps:       slippage,
		FeeTier:           fee,
		Router:            e.contracts.SwapRouter.Hex(),
		CalldataHex:       hexutil.Encode(calldata),
		GasEstimate:       gas,
		Deadline:          deadline,
		Sender:            from.Hex(),
	}, nil
}

// quote asks the venue quoter what the swap would currently return.
func (e *Engine) quote(ctx context.Context, in, out registry.Token, amountIn *big.Int, fee uint32, priceLimit *big.Int) (*big.Int, error) {
	params := struct {
		TokenIn           common.Address
		TokenOut          common.Address
		AmountIn          *big.Int
		Fee               *big.Int
		SqrtPriceLimitX96 *big.Int
	}{in.Address, out.Address, amountIn, big.NewInt(int64(fee)), priceLimit}

	data, err := e.quoter.Pack("quoteExactInputSingle", params)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, "pack quote", err)
	}
	raw, err := e.node.CallContract(ctx, ethereum.CallMsg{To: &e.contracts.QuoterV2, Data: data})
	if err != nil {
		if rev, ok := node.AsRevert(err); ok {
			return nil, apperr.Wrap(apperr.CodeSwap, "no route for pair at fee tier "+rev.Reason, err)
		}
		return nil, err
	}
	vals, err := e.quoter.Unpack("quoteExactInputSingle", raw)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeUpstream, "malformed quoter response", err)
	}
	amountOut := vals[0].(*big.Int)
	if amountOut.Sign() <= 0 {
		return nil, apperr.New(apperr.CodeSwap, "venue quoted zero output for the pair")
	}
	return amountOut, nil
}

func (e *Engine) packSwap(in, out registry.Token, fee uint32, recipient common.Address, deadline int64, amountIn, minOut, priceLimit *big.Int) ([]byte, error) {
	params := struct {
		TokenIn           common.Address
		TokenOut          common.Address
		Fee               *big.Int
		Recipient         common.Address
		Deadline          *big.Int
		AmountIn          *big.Int
		AmountOutMinimum  *big.Int
		SqrtPriceLimitX96 *big.Int
	}{in.Address, out.Address, big.NewInt(int64(fee)), recipient, big.NewInt(deadline), amountIn, minOut, priceLimit}

	data, err := e.router.Pack("exactInputSingle", params)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, "pack swap calldata", err)
	}
	return data, nil
}

// simulationError classifies a failed estimate or dry run. Reverts
// carry the decoded reason; anything else is an upstream problem.
func simulationError(err error) error {
	if rev, ok := node.AsRevert(err); ok {
		if rev.Reason != "" {
			return apperr.Wrap(apperr.CodeSwap, "swap would revert: "+rev.Reason, err)
		}
		return apperr.Wrap(apperr.CodeSwap, "swap would revert", err)
	}
	if apperr.CodeOf(err) != apperr.CodeInternal {
		return err
	}
	return apperr.Wrap(apperr.CodeSwap, "swap simulation failed", err)
}
