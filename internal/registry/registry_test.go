package registry

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"path/filepath"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	apperr "github.com/ggonzalez94/ethquery/internal/errors"
	"github.com/ggonzalez94/ethquery/internal/node"
)

type fakeNode struct {
	mu       sync.Mutex
	calls    int
	decimals func() ([]byte, error)
	symbol   func() ([]byte, error)
}

func (f *fakeNode) CallContract(_ context.Context, msg ethereum.CallMsg) ([]byte, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	erc20 := MustABI(ERC20MinimalABI)
	switch {
	case bytes.Equal(msg.Data, erc20.Methods["decimals"].ID):
		return f.decimals()
	case bytes.Equal(msg.Data, erc20.Methods["symbol"].ID):
		return f.symbol()
	}
	return nil, errors.New("unexpected call")
}

func (f *fakeNode) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func uint8Result(v uint8) []byte {
	return common.LeftPadBytes(big.NewInt(int64(v)).Bytes(), 32)
}

func stringResult(t *testing.T, s string) []byte {
	t.Helper()
	erc20 := MustABI(ERC20MinimalABI)
	out, err := erc20.Methods["symbol"].Outputs.Pack(s)
	if err != nil {
		t.Fatalf("pack string: %v", err)
	}
	return out
}

func newTestRegistry(t *testing.T, n NodeReader) *Registry {
	t.Helper()
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	r, err := New(Options{ChainID: 1, Node: n, Logger: log})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return r
}

func TestEnsureDiscoversOnce(t *testing.T) {
	fake := &fakeNode{
		decimals: func() ([]byte, error) { return uint8Result(9), nil },
		symbol:   func() ([]byte, error) { return stringResult(t, "FOO"), nil },
	}
	r := newTestRegistry(t, fake)

	addr := common.HexToAddress("0x1111111111111111111111111111111111111111")
	tok, err := r.Ensure(context.Background(), addr)
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if tok.Symbol != "FOO" || tok.Decimals != 9 {
		t.Fatalf("unexpected token %+v", tok)
	}

	again, err := r.Ensure(context.Background(), addr)
	if err != nil {
		t.Fatalf("Ensure again: %v", err)
	}
	if again.Symbol != "FOO" {
		t.Fatalf("unexpected token on second lookup %+v", again)
	}
	if got := fake.callCount(); got != 2 {
		t.Fatalf("expected 2 contract calls total, got %d", got)
	}
}

func TestEnsureSeededTokenSkipsNetwork(t *testing.T) {
	fake := &fakeNode{
		decimals: func() ([]byte, error) { return nil, errors.New("should not be called") },
		symbol:   func() ([]byte, error) { return nil, errors.New("should not be called") },
	}
	r := newTestRegistry(t, fake)

	usdc := common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")
	tok, err := r.Ensure(context.Background(), usdc)
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if tok.Symbol != "USDC" || tok.Decimals != 6 {
		t.Fatalf("unexpected token %+v", tok)
	}
	if fake.callCount() != 0 {
		t.Fatal("seeded lookup hit the network")
	}
}

func TestDecimalsRevertRejectsToken(t *testing.T) {
	fake := &fakeNode{
		decimals: func() ([]byte, error) {
			return nil, &node.RevertError{Reason: "", Err: errors.New("execution reverted")}
		},
	}
	r := newTestRegistry(t, fake)

	addr := common.HexToAddress("0x2222222222222222222222222222222222222222")
	_, err := r.Ensure(context.Background(), addr)
	if apperr.CodeOf(err) != apperr.CodeInvalidParams {
		t.Fatalf("expected invalid params, got %v", err)
	}
	if _, ok := r.Lookup(addr); ok {
		t.Fatal("rejected token was cached")
	}
}

func TestSymbolFailureUsesPlaceholder(t *testing.T) {
	fake := &fakeNode{
		decimals: func() ([]byte, error) { return uint8Result(18), nil },
		symbol:   func() ([]byte, error) { return nil, errors.New("timeout") },
	}
	r := newTestRegistry(t, fake)

	addr := common.HexToAddress("0x3333333333333333333333333333333333333333")
	tok, err := r.Ensure(context.Background(), addr)
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if tok.Symbol != "ERC20" {
		t.Fatalf("expected placeholder symbol, got %q", tok.Symbol)
	}
	if tok.Decimals != 18 {
		t.Fatalf("expected decimals 18, got %d", tok.Decimals)
	}
}

func TestFirstInsertWins(t *testing.T) {
	r := newTestRegistry(t, &fakeNode{})
	addr := common.HexToAddress("0x4444444444444444444444444444444444444444")

	first := r.add(Token{Address: addr, Symbol: "AAA", Decimals: 8})
	second := r.add(Token{Address: addr, Symbol: "BBB", Decimals: 12})
	if first.Symbol != "AAA" || second.Symbol != "AAA" {
		t.Fatalf("later insert displaced the first: %+v", second)
	}
	if tok, _ := r.Lookup(addr); tok.Decimals != 8 {
		t.Fatalf("registry holds %+v", tok)
	}
}

func TestResolve(t *testing.T) {
	r := newTestRegistry(t, &fakeNode{})

	tok, err := r.Resolve(context.Background(), "weth")
	if err != nil {
		t.Fatalf("Resolve symbol: %v", err)
	}
	if tok.Symbol != "WETH" {
		t.Fatalf("unexpected token %+v", tok)
	}

	if _, err := r.Resolve(context.Background(), "0xnothex"); apperr.CodeOf(err) != apperr.CodeInvalidParams {
		t.Fatalf("malformed address: expected invalid params, got %v", err)
	}
	if _, err := r.Resolve(context.Background(), "NOPE"); apperr.CodeOf(err) != apperr.CodeInvalidParams {
		t.Fatalf("unknown symbol: expected invalid params, got %v", err)
	}
}

func TestQuoteToken(t *testing.T) {
	r := newTestRegistry(t, &fakeNode{})

	usd, err := r.QuoteToken(QuoteUSD)
	if err != nil || usd.Symbol != "USDC" {
		t.Fatalf("USD quote token: %v %+v", err, usd)
	}
	eth, err := r.QuoteToken(QuoteETH)
	if err != nil || eth.Symbol != "WETH" {
		t.Fatalf("ETH quote token: %v %+v", err, eth)
	}
}

func TestParseQuoteCurrency(t *testing.T) {
	cases := []struct {
		in   string
		want QuoteCurrency
		ok   bool
	}{
		{"", QuoteUSD, true},
		{"usd", QuoteUSD, true},
		{"ETH", QuoteETH, true},
		{"eth", QuoteETH, true},
		{"JPY", "", false},
	}
	for _, tc := range cases {
		got, err := ParseQuoteCurrency(tc.in)
		if tc.ok && (err != nil || got != tc.want) {
			t.Errorf("ParseQuoteCurrency(%q) = %v, %v", tc.in, got, err)
		}
		if !tc.ok && err == nil {
			t.Errorf("ParseQuoteCurrency(%q) accepted", tc.in)
		}
	}
}

func TestStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store, err := OpenStore(filepath.Join(dir, "tokens.db"), filepath.Join(dir, "tokens.lock"))
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	defer store.Close()

	tok := Token{
		Address:  common.HexToAddress("0x5555555555555555555555555555555555555555"),
		Symbol:   "FIVE",
		Decimals: 5,
	}
	if err := store.Put(tok); err != nil {
		t.Fatalf("Put: %v", err)
	}
	// A second write for the same address must not clobber the first.
	if err := store.Put(Token{Address: tok.Address, Symbol: "OTHER", Decimals: 1}); err != nil {
		t.Fatalf("Put duplicate: %v", err)
	}

	all, err := store.All()
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected 1 token, got %d", len(all))
	}
	if all[0].Symbol != "FIVE" || all[0].Decimals != 5 {
		t.Fatalf("stored token mutated: %+v", all[0])
	}
}
