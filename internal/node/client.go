// Package node wraps the Ethereum JSON-RPC client with the read-only call
// surface the engines need: per-call timeouts, a rate limiter, failure
// classification, and a single retry on transient errors. Contract-level
// reverts are semantic and never retried.
package node

import (
	"context"
	"encoding/hex"
	"errors"
	"math/big"
	"net"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	apperr "github.com/ggonzalez94/ethquery/internal/errors"
	"github.com/ggonzalez94/ethquery/internal/metrics"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const retryBackoff = 150 * time.Millisecond

type Options struct {
	Timeout      time.Duration
	RateLimitRPS float64
	Metrics      *metrics.Metrics
	Logger       logrus.FieldLogger
}

type Client struct {
	eth     *ethclient.Client
	limiter *rate.Limiter
	timeout time.Duration
	metrics *metrics.Metrics
	log     logrus.FieldLogger
}

// Dial connects to the node over HTTP. The underlying transport uses
// retryablehttp for connection-level resilience; semantic retry policy
// lives in this wrapper.
func Dial(ctx context.Context, url string, opts Options) (*Client, error) {
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = 1
	retryClient.RetryWaitMin = 100 * time.Millisecond
	retryClient.RetryWaitMax = 500 * time.Millisecond
	retryClient.Logger = nil

	rpcClient, err := rpc.DialOptions(ctx, url, rpc.WithHTTPClient(retryClient.StandardClient()))
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeUpstream, "connect rpc", err)
	}
	return NewClient(ethclient.NewClient(rpcClient), opts), nil
}

// NewClient wraps an already-dialed ethclient. Used directly by tests.
func NewClient(eth *ethclient.Client, opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	limit := rate.Inf
	if opts.RateLimitRPS > 0 {
		limit = rate.Limit(opts.RateLimitRPS)
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Nop()
	}
	var logger logrus.FieldLogger = opts.Logger
	if opts.Logger == nil {
		logger = logrus.New()
	}
	return &Client{
		eth:     eth,
		limiter: rate.NewLimiter(limit, 1),
		timeout: opts.Timeout,
		metrics: opts.Metrics,
		log:     logger.WithField("component", "node"),
	}
}

func (c *Client) Close() {
	c.eth.Close()
}

func (c *Client) ChainID(ctx context.Context) (*big.Int, error) {
	var out *big.Int
	err := c.do(ctx, "eth_chainId", func(ctx context.Context) error {
		var err error
		out, err = c.eth.ChainID(ctx)
		return err
	})
	return out, err
}

// BalanceAt reads the native balance at the latest block.
func (c *Client) BalanceAt(ctx context.Context, account common.Address) (*big.Int, error) {
	var out *big.Int
	err := c.do(ctx, "eth_getBalance", func(ctx context.Context) error {
		var err error
		out, err = c.eth.BalanceAt(ctx, account, nil)
		return err
	})
	return out, err
}

// CallContract executes a read-only eth_call against the latest block.
func (c *Client) CallContract(ctx context.Context, msg ethereum.CallMsg) ([]byte, error) {
	var out []byte
	err := c.do(ctx, "eth_call", func(ctx context.Context) error {
		var err error
		out, err = c.eth.CallContract(ctx, msg, nil)
		return err
	})
	return out, err
}

func (c *Client) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	var out uint64
	err := c.do(ctx, "eth_estimateGas", func(ctx context.Context) error {
		var err error
		out, err = c.eth.EstimateGas(ctx, msg)
		return err
	})
	return out, err
}

// do runs one node call with the shared policy: wait for the limiter,
// bound the round-trip with the per-call timeout, and retry exactly once
// on a transient failure.
func (c *Client) do(ctx context.Context, method string, call func(ctx context.Context) error) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return apperr.Wrap(apperr.CodeUpstream, "rate limiter interrupted", err)
	}

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 {
			c.metrics.NodeRetries.Inc()
			c.log.WithField("method", method).Debug("retrying transient node failure")
			select {
			case <-ctx.Done():
				return apperr.Wrap(apperr.CodeUpstream, "request cancelled", ctx.Err())
			case <-time.After(retryBackoff):
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		err := call(callCtx)
		cancel()
		if err == nil {
			c.metrics.NodeCalls.WithLabelValues(method, "ok").Inc()
			return nil
		}

		if reason, ok := revertReason(err); ok {
			c.metrics.NodeCalls.WithLabelValues(method, "revert").Inc()
			return &RevertError{Reason: reason, Err: err}
		}
		c.metrics.NodeCalls.WithLabelValues(method, "error").Inc()
		lastErr = err
	}
	return apperr.Wrap(apperr.CodeUpstream, "node call failed: "+method, lastErr)
}

// RevertError marks a contract-level failure. It is terminal for the call
// that produced it; retrying cannot change the outcome.
type RevertError struct {
	Reason string
	Err    error
}

func (e *RevertError) Error() string {
	if e.Reason != "" {
		return "execution reverted: " + e.Reason
	}
	return e.Err.Error()
}

func (e *RevertError) Unwrap() error { return e.Err }

// AsRevert reports whether err (anywhere in its chain) is a contract revert.
func AsRevert(err error) (*RevertError, bool) {
	var target *RevertError
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// revertReason classifies a node-call failure. JSON-RPC errors carrying
// revert data, or the standard execution-revert codes, are semantic;
// everything else (timeouts, network errors, 5xx) counts as transient.
func revertReason(err error) (string, bool) {
	if err == nil {
		return "", false
	}
	var dataErr rpc.DataError
	if errors.As(err, &dataErr) && dataErr.ErrorData() != nil {
		reason := decodeRevertData(dataErr.ErrorData())
		if reason == "" {
			reason = strings.TrimPrefix(err.Error(), "execution reverted: ")
		}
		return reason, true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return "", false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return "", false
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "execution reverted") || strings.Contains(msg, "revert") {
		return strings.TrimPrefix(err.Error(), "execution reverted: "), true
	}
	return "", false
}

// decodeRevertData unpacks the Error(string) payload a node attaches to a
// revert, when present.
func decodeRevertData(data any) string {
	raw, ok := data.(string)
	if !ok {
		return ""
	}
	raw = strings.TrimPrefix(strings.TrimSpace(raw), "0x")
	if raw == "" {
		return ""
	}
	buf, err := hex.DecodeString(raw)
	if err != nil {
		return ""
	}
	reason, err := abi.UnpackRevert(buf)
	if err != nil {
		return ""
	}
	return reason
}
