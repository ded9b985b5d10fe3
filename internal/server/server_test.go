package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/ggonzalez94/ethquery/internal/balance"
	apperr "github.com/ggonzalez94/ethquery/internal/errors"
	"github.com/ggonzalez94/ethquery/internal/price"
	"github.com/ggonzalez94/ethquery/internal/swap"
)

type fakeBackend struct {
	balanceCalls int
	lastWallet   string
	lastToken    string
	swapReq      swap.Request
	err          error
}

func (f *fakeBackend) GetBalance(_ context.Context, wallet, token string) (*balance.Result, error) {
	f.balanceCalls++
	f.lastWallet = wallet
	f.lastToken = token
	if f.err != nil {
		return nil, f.err
	}
	return &balance.Result{Symbol: "ETH", Decimals: 18, Formatted: "1.5", Raw: "1500000000000000000"}, nil
}

func (f *fakeBackend) GetTokenPrice(_ context.Context, token, currency string) (*price.Result, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &price.Result{Base: token, Quote: "USD", Price: "2500", Source: price.SourceChainlinkDirect}, nil
}

func (f *fakeBackend) SwapTokens(_ context.Context, req swap.Request) (*swap.Result, error) {
	f.swapReq = req
	if f.err != nil {
		return nil, f.err
	}
	return &swap.Result{GasEstimate: 210000}, nil
}

func run(t *testing.T, backend Backend, input string) []response {
	t.Helper()
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	var out bytes.Buffer
	srv := New(backend, strings.NewReader(input), &out, log)
	if err := srv.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	var responses []response
	sc := bufio.NewScanner(&out)
	for sc.Scan() {
		var resp response
		if err := json.Unmarshal(sc.Bytes(), &resp); err != nil {
			t.Fatalf("bad response line %q: %v", sc.Text(), err)
		}
		responses = append(responses, resp)
	}
	return responses
}

func TestGetBalanceRequest(t *testing.T) {
	backend := &fakeBackend{}
	resps := run(t, backend, `{"jsonrpc":"2.0","id":1,"method":"get_balance","params":{"address":"0xabc","token":"USDC"}}`+"\n")

	if len(resps) != 1 {
		t.Fatalf("expected 1 response, got %d", len(resps))
	}
	if resps[0].Error != nil {
		t.Fatalf("unexpected error %+v", resps[0].Error)
	}
	if backend.lastWallet != "0xabc" || backend.lastToken != "USDC" {
		t.Fatalf("params not forwarded: %q %q", backend.lastWallet, backend.lastToken)
	}
}

func TestSwapParamsForwarded(t *testing.T) {
	backend := &fakeBackend{}
	run(t, backend, `{"jsonrpc":"2.0","id":7,"method":"swap_tokens","params":{"from_token":"USDC","to_token":"WETH","amount_in_wei":"1000000","slippage_bps":50,"fee":500}}`+"\n")

	req := backend.swapReq
	if req.TokenIn != "USDC" || req.TokenOut != "WETH" || req.AmountIn != "1000000" {
		t.Fatalf("swap request not forwarded: %+v", req)
	}
	if req.SlippageBps == nil || *req.SlippageBps != 50 {
		t.Fatalf("slippage not forwarded: %+v", req.SlippageBps)
	}
	if req.FeeTier != 500 {
		t.Fatalf("fee not forwarded: %d", req.FeeTier)
	}
}

func TestAbsentSlippageStaysNil(t *testing.T) {
	backend := &fakeBackend{}
	run(t, backend, `{"jsonrpc":"2.0","id":7,"method":"swap_tokens","params":{"from_token":"A","to_token":"B","amount_in_wei":"1"}}`+"\n")

	if backend.swapReq.SlippageBps != nil {
		t.Fatal("absent slippage should stay nil so the engine applies its default")
	}
}

func TestUnknownMethod(t *testing.T) {
	resps := run(t, &fakeBackend{}, `{"jsonrpc":"2.0","id":2,"method":"eth_sendRawTransaction","params":{}}`+"\n")

	if resps[0].Error == nil || resps[0].Error.Code != int(apperr.CodeNotFound) {
		t.Fatalf("expected method-not-found, got %+v", resps[0].Error)
	}
}

func TestBackendErrorCodeOnWire(t *testing.T) {
	backend := &fakeBackend{err: apperr.New(apperr.CodeWallet, "no wallet configured")}
	resps := run(t, backend, `{"jsonrpc":"2.0","id":3,"method":"get_balance","params":{"address":"0xabc"}}`+"\n")

	if resps[0].Error == nil || resps[0].Error.Code != int(apperr.CodeWallet) {
		t.Fatalf("expected wallet code, got %+v", resps[0].Error)
	}
}

func TestMalformedJSON(t *testing.T) {
	resps := run(t, &fakeBackend{}, "{not json\n")

	if resps[0].Error == nil || resps[0].Error.Code != int(apperr.CodeSerialization) {
		t.Fatalf("expected parse error, got %+v", resps[0].Error)
	}
}

func TestNotificationGetsNoResponse(t *testing.T) {
	backend := &fakeBackend{}
	resps := run(t, backend, `{"jsonrpc":"2.0","method":"get_balance","params":{"address":"0xabc"}}`+"\n")

	if len(resps) != 0 {
		t.Fatalf("notification answered: %+v", resps)
	}
	if backend.balanceCalls != 1 {
		t.Fatal("notification was not executed")
	}
}

func TestBlankLinesSkipped(t *testing.T) {
	resps := run(t, &fakeBackend{}, "\n\n"+`{"jsonrpc":"2.0","id":1,"method":"get_balance","params":{"address":"0xabc"}}`+"\n")

	if len(resps) != 1 {
		t.Fatalf("expected 1 response, got %d", len(resps))
	}
}
