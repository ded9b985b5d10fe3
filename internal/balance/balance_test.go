package balance

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	apperr "github.com/ggonzalez94/ethquery/internal/errors"
	"github.com/ggonzalez94/ethquery/internal/registry"
)

type fakeNode struct {
	balance   *big.Int
	balanceOf map[common.Address]*big.Int
	calls     int
}

func (f *fakeNode) BalanceAt(_ context.Context, _ common.Address) (*big.Int, error) {
	f.calls++
	if f.balance == nil {
		return nil, errors.New("no balance configured")
	}
	return f.balance, nil
}

func (f *fakeNode) CallContract(_ context.Context, msg ethereum.CallMsg) ([]byte, error) {
	f.calls++
	erc20 := registry.MustABI(registry.ERC20MinimalABI)
	if len(msg.Data) >= 4 && bytes.Equal(msg.Data[:4], erc20.Methods["balanceOf"].ID) {
		if v, ok := f.balanceOf[*msg.To]; ok {
			return common.LeftPadBytes(v.Bytes(), 32), nil
		}
	}
	return nil, errors.New("unexpected call")
}

func newTestResolver(t *testing.T, n Node) *Resolver {
	t.Helper()
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	reg, err := registry.New(registry.Options{ChainID: 1, Logger: log})
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	return NewResolver(n, reg)
}

func TestNativeBalance(t *testing.T) {
	// 1.5 ETH in wei.
	wei, _ := new(big.Int).SetString("1500000000000000000", 10)
	r := newTestResolver(t, &fakeNode{balance: wei})

	res, err := r.Get(context.Background(), "0x000000000000000000000000000000000000dEaD", "")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if res.Symbol != "ETH" || res.Decimals != 18 {
		t.Fatalf("unexpected asset %+v", res)
	}
	if res.Formatted != "1.5" {
		t.Fatalf("expected balance 1.5, got %q", res.Formatted)
	}
	if res.Raw != wei.String() {
		t.Fatalf("raw mismatch: %q", res.Raw)
	}
}

func TestTokenBalance(t *testing.T) {
	usdc := common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")
	fake := &fakeNode{balanceOf: map[common.Address]*big.Int{
		usdc: big.NewInt(2500000), // 2.5 USDC at 6 decimals
	}}
	r := newTestResolver(t, fake)

	res, err := r.Get(context.Background(), "0x000000000000000000000000000000000000dEaD", "USDC")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if res.Symbol != "USDC" || res.Decimals != 6 {
		t.Fatalf("unexpected asset %+v", res)
	}
	if res.Formatted != "2.5" {
		t.Fatalf("expected balance 2.5, got %q", res.Formatted)
	}
	if res.Token != usdc.Hex() {
		t.Fatalf("token address missing: %+v", res)
	}
}

func TestMalformedWalletFailsBeforeNetwork(t *testing.T) {
	fake := &fakeNode{}
	r := newTestResolver(t, fake)

	_, err := r.Get(context.Background(), "0x1234", "")
	if apperr.CodeOf(err) != apperr.CodeInvalidParams {
		t.Fatalf("expected invalid params, got %v", err)
	}
	if fake.calls != 0 {
		t.Fatal("network was touched for a malformed address")
	}
}

func TestUnknownTokenSymbol(t *testing.T) {
	r := newTestResolver(t, &fakeNode{})

	_, err := r.Get(context.Background(), "0x000000000000000000000000000000000000dEaD", "NOPE")
	if apperr.CodeOf(err) != apperr.CodeInvalidParams {
		t.Fatalf("expected invalid params, got %v", err)
	}
}
