// Package nodetest runs a scriptable JSON-RPC node for tests.
package nodetest

import (
	"encoding/hex"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

type rpcRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	ID      json.RawMessage   `json:"id"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
}

// RPCError mirrors the JSON-RPC error object, including optional revert data.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Handler produces a JSON-RPC result (or error) for one method invocation.
type Handler func(params []json.RawMessage) (any, *RPCError)

// CallMsg is the decoded first parameter of eth_call / eth_estimateGas.
type CallMsg struct {
	From  string `json:"from"`
	To    string `json:"to"`
	Data  string `json:"data"`
	Value string `json:"value"`
}

func (m CallMsg) ToAddress() common.Address {
	return common.HexToAddress(m.To)
}

func (m CallMsg) Input() []byte {
	clean := strings.TrimPrefix(strings.TrimSpace(m.Data), "0x")
	buf, _ := hex.DecodeString(clean)
	return buf
}

// CallHandler serves contract calls routed by target address and calldata.
type CallHandler func(msg CallMsg) ([]byte, *RPCError)

type Server struct {
	*httptest.Server
	t *testing.T

	mu       sync.Mutex
	handlers map[string]Handler
	onCall   CallHandler
	calls    map[string]int
}

// New starts a fake node that answers eth_chainId with chain id 1 by
// default. Register more methods with Handle, and contract calls with
// HandleCalls.
func New(t *testing.T) *Server {
	t.Helper()
	s := &Server{
		t:        t,
		handlers: map[string]Handler{},
		calls:    map[string]int{},
	}
	s.Handle("eth_chainId", func([]json.RawMessage) (any, *RPCError) {
		return "0x1", nil
	})
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(s.Close)
	return s
}

func (s *Server) Handle(method string, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[method] = h
}

// HandleCalls installs the contract-call router used for eth_call and, when
// no explicit handler exists, eth_estimateGas.
func (s *Server) HandleCalls(h CallHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onCall = h
}

// Calls reports how many times a method has been invoked.
func (s *Server) Calls(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[method]
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var req rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	s.calls[req.Method]++
	handler := s.handlers[req.Method]
	onCall := s.onCall
	s.mu.Unlock()

	if handler == nil && req.Method == "eth_call" && onCall != nil {
		handler = func(params []json.RawMessage) (any, *RPCError) {
			msg, err := decodeCallMsg(params)
			if err != nil {
				return nil, &RPCError{Code: -32602, Message: err.Error()}
			}
			out, rpcErr := onCall(msg)
			if rpcErr != nil {
				return nil, rpcErr
			}
			return "0x" + hex.EncodeToString(out), nil
		}
	}
	if handler == nil {
		writeResponse(w, req.ID, nil, &RPCError{Code: -32601, Message: "method not supported in test: " + req.Method})
		return
	}
	result, rpcErr := handler(req.Params)
	writeResponse(w, req.ID, result, rpcErr)
}

func decodeCallMsg(params []json.RawMessage) (CallMsg, error) {
	var msg CallMsg
	if len(params) == 0 {
		return msg, nil
	}
	err := json.Unmarshal(params[0], &msg)
	return msg, err
}

func writeResponse(w http.ResponseWriter, id json.RawMessage, result any, rpcErr *RPCError) {
	w.Header().Set("Content-Type", "application/json")
	resp := map[string]any{
		"jsonrpc": "2.0",
		"id":      decodeID(id),
	}
	if rpcErr != nil {
		resp["error"] = rpcErr
	} else {
		resp["result"] = result
	}
	_ = json.NewEncoder(w).Encode(resp)
}

func decodeID(raw json.RawMessage) any {
	if len(raw) == 0 {
		return 1
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return 1
	}
	return out
}

// Revert builds the JSON-RPC error a node reports for a contract revert,
// with the reason ABI-encoded as Error(string) data.
func Revert(reason string) *RPCError {
	return &RPCError{
		Code:    3,
		Message: "execution reverted: " + reason,
		Data:    "0x" + hex.EncodeToString(EncodeRevertReason(reason)),
	}
}

// HexBig renders a big.Int as a 0x-prefixed quantity.
func HexBig(v *big.Int) string {
	return "0x" + v.Text(16)
}

// HexUint renders a uint64 as a 0x-prefixed quantity.
func HexUint(v uint64) string {
	return "0x" + new(big.Int).SetUint64(v).Text(16)
}

// Uint256 ABI-encodes one unsigned integer return value.
func Uint256(v *big.Int) []byte {
	out := make([]byte, 32)
	v.FillBytes(out)
	return out
}

// Uint256Words ABI-encodes a sequence of uint-like return values.
func Uint256Words(values ...*big.Int) []byte {
	out := make([]byte, 0, 32*len(values))
	for _, v := range values {
		out = append(out, Uint256(v)...)
	}
	return out
}

// ABIString ABI-encodes one string return value.
func ABIString(s string) []byte {
	out := make([]byte, 0, 96+len(s))
	out = append(out, Uint256(big.NewInt(32))...)
	out = append(out, Uint256(big.NewInt(int64(len(s))))...)
	padded := make([]byte, (len(s)+31)/32*32)
	copy(padded, s)
	return append(out, padded...)
}

// EncodeRevertReason ABI-encodes an Error(string) payload.
func EncodeRevertReason(reason string) []byte {
	selector := []byte{0x08, 0xc3, 0x79, 0xa0}
	return append(selector, ABIString(reason)...)
}
