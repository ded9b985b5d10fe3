// Package server runs the line-delimited JSON-RPC 2.0 loop over
// stdio. Each line on stdin is one request; each response is one line
// on stdout. Logs go to stderr so the protocol stream stays clean.
package server

import (
	"bufio"
	"context"
	"encoding/json"
	"io"

	"github.com/sirupsen/logrus"

	"github.com/ggonzalez94/ethquery/internal/balance"
	apperr "github.com/ggonzalez94/ethquery/internal/errors"
	"github.com/ggonzalez94/ethquery/internal/price"
	"github.com/ggonzalez94/ethquery/internal/swap"
)

// Generously sized for a single request line.
const maxLineBytes = 1 << 20

// Backend is what the server dispatches tool calls to.
type Backend interface {
	GetBalance(ctx context.Context, wallet, token string) (*balance.Result, error)
	GetTokenPrice(ctx context.Context, token, currency string) (*price.Result, error)
	SwapTokens(ctx context.Context, req swap.Request) (*swap.Result, error)
}

type Server struct {
	backend Backend
	in      io.Reader
	out     io.Writer
	log     logrus.FieldLogger
}

func New(backend Backend, in io.Reader, out io.Writer, log logrus.FieldLogger) *Server {
	if log == nil {
		log = logrus.New()
	}
	return &Server{backend: backend, in: in, out: out, log: log}
}

type request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

type response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *wireError      `json:"error,omitempty"`
}

type wireError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type balanceParams struct {
	Address string `json:"address"`
	Token   string `json:"token"`
}

type priceParams struct {
	Base  string `json:"base"`
	Quote string `json:"quote"`
}

type swapParams struct {
	FromToken      string  `json:"from_token"`
	ToToken        string  `json:"to_token"`
	AmountInWei    string  `json:"amount_in_wei"`
	SlippageBps    *uint32 `json:"slippage_bps"`
	Fee            uint32  `json:"fee"`
	Recipient      string  `json:"recipient"`
	SqrtPriceLimit string  `json:"sqrt_price_limit"`
}

// Run reads requests until stdin closes or the context is canceled.
func (s *Server) Run(ctx context.Context) error {
	scanner := bufio.NewScanner(s.in)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req request
		if err := json.Unmarshal(line, &req); err != nil {
			s.write(response{JSONRPC: "2.0", ID: nullID(), Error: &wireError{
				Code:    int(apperr.CodeSerialization),
				Message: "request is not valid JSON",
			}})
			continue
		}

		result, err := s.dispatch(ctx, req)
		if req.ID == nil {
			// Notification: run the call, never answer.
			continue
		}
		if err != nil {
			s.log.WithField("method", req.Method).WithError(err).Warn("request failed")
			s.write(response{JSONRPC: "2.0", ID: req.ID, Error: toWire(err)})
			continue
		}
		s.write(response{JSONRPC: "2.0", ID: req.ID, Result: result})
	}
	if err := scanner.Err(); err != nil {
		return apperr.Wrap(apperr.CodeIO, "read request stream", err)
	}
	return nil
}

func (s *Server) dispatch(ctx context.Context, req request) (any, error) {
	switch req.Method {
	case "get_balance":
		var p balanceParams
		if err := decodeParams(req.Params, &p); err != nil {
			return nil, err
		}
		return s.backend.GetBalance(ctx, p.Address, p.Token)

	case "get_token_price":
		var p priceParams
		if err := decodeParams(req.Params, &p); err != nil {
			return nil, err
		}
		return s.backend.GetTokenPrice(ctx, p.Base, p.Quote)

	case "swap_tokens":
		var p swapParams
		if err := decodeParams(req.Params, &p); err != nil {
			return nil, err
		}
		return s.backend.SwapTokens(ctx, swap.Request{
			TokenIn:     p.FromToken,
			TokenOut:    p.ToToken,
			AmountIn:    p.AmountInWei,
			SlippageBps: p.SlippageBps,
			FeeTier:     p.Fee,
			PriceLimit:  p.SqrtPriceLimit,
			Recipient:   p.Recipient,
		})

	default:
		return nil, apperr.Newf(apperr.CodeNotFound, "unknown method %q", req.Method)
	}
}

func decodeParams(raw json.RawMessage, target any) error {
	if len(raw) == 0 {
		return apperr.New(apperr.CodeInvalidParams, "params are required")
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return apperr.Wrap(apperr.CodeInvalidParams, "malformed params", err)
	}
	return nil
}

// toWire flattens an error into a JSON-RPC error object. Only the
// message string crosses the wire; wrapped causes stay in the logs.
func toWire(err error) *wireError {
	if typed, ok := apperr.As(err); ok {
		return &wireError{Code: int(typed.Code), Message: typed.Error()}
	}
	return &wireError{Code: int(apperr.CodeInternal), Message: err.Error()}
}

func (s *Server) write(resp response) {
	enc := json.NewEncoder(s.out)
	if err := enc.Encode(resp); err != nil {
		s.log.WithError(err).Error("write response")
	}
}

func nullID() json.RawMessage {
	return json.RawMessage("null")
}
