package node

import (
	"context"
	"encoding/json"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	apperr "github.com/ggonzalez94/ethquery/internal/errors"
	"github.com/ggonzalez94/ethquery/internal/node/nodetest"
)

func testClient(t *testing.T, srv *nodetest.Server) *Client {
	t.Helper()
	eth, err := ethclient.Dial(srv.URL)
	if err != nil {
		t.Fatalf("dial fake node: %v", err)
	}
	t.Cleanup(eth.Close)
	return NewClient(eth, Options{Timeout: 2 * time.Second})
}

func TestBalanceAt(t *testing.T) {
	srv := nodetest.New(t)
	oneEth, _ := new(big.Int).SetString("1000000000000000000", 10)
	srv.Handle("eth_getBalance", func([]json.RawMessage) (any, *nodetest.RPCError) {
		return nodetest.HexBig(oneEth), nil
	})

	client := testClient(t, srv)
	got, err := client.BalanceAt(context.Background(), common.HexToAddress("0x1"))
	if err != nil {
		t.Fatalf("BalanceAt failed: %v", err)
	}
	if got.Cmp(oneEth) != 0 {
		t.Fatalf("expected 1 ETH in wei, got %s", got)
	}
}

func TestTransientFailureRetriedOnce(t *testing.T) {
	srv := nodetest.New(t)
	attempts := 0
	srv.Handle("eth_getBalance", func([]json.RawMessage) (any, *nodetest.RPCError) {
		attempts++
		if attempts == 1 {
			return nil, &nodetest.RPCError{Code: -32000, Message: "connection reset by peer"}
		}
		return nodetest.HexBig(big.NewInt(42)), nil
	})

	client := testClient(t, srv)
	got, err := client.BalanceAt(context.Background(), common.HexToAddress("0x1"))
	if err != nil {
		t.Fatalf("expected retry to recover, got %v", err)
	}
	if got.Int64() != 42 {
		t.Fatalf("unexpected balance: %s", got)
	}
	if attempts != 2 {
		t.Fatalf("expected exactly 2 attempts, got %d", attempts)
	}
}

func TestTransientFailureSurfacedAfterRetry(t *testing.T) {
	srv := nodetest.New(t)
	attempts := 0
	srv.Handle("eth_getBalance", func([]json.RawMessage) (any, *nodetest.RPCError) {
		attempts++
		return nil, &nodetest.RPCError{Code: -32000, Message: "node overloaded"}
	})

	client := testClient(t, srv)
	_, err := client.BalanceAt(context.Background(), common.HexToAddress("0x1"))
	if err == nil {
		t.Fatal("expected upstream error")
	}
	if apperr.CodeOf(err) != apperr.CodeUpstream {
		t.Fatalf("expected upstream code, got %d", apperr.CodeOf(err))
	}
	if attempts != 2 {
		t.Fatalf("expected exactly 2 attempts, got %d", attempts)
	}
}

func TestRevertNotRetried(t *testing.T) {
	srv := nodetest.New(t)
	srv.HandleCalls(func(nodetest.CallMsg) ([]byte, *nodetest.RPCError) {
		return nil, nodetest.Revert("SPL")
	})

	client := testClient(t, srv)
	to := common.HexToAddress("0x2")
	_, err := client.CallContract(context.Background(), ethereum.CallMsg{To: &to})
	if err == nil {
		t.Fatal("expected revert error")
	}
	rev, ok := AsRevert(err)
	if !ok {
		t.Fatalf("expected RevertError, got %v", err)
	}
	if rev.Reason != "SPL" {
		t.Fatalf("expected decoded revert reason SPL, got %q", rev.Reason)
	}
	if srv.Calls("eth_call") != 1 {
		t.Fatalf("revert must not be retried, saw %d calls", srv.Calls("eth_call"))
	}
}

func TestEstimateGas(t *testing.T) {
	srv := nodetest.New(t)
	srv.Handle("eth_estimateGas", func([]json.RawMessage) (any, *nodetest.RPCError) {
		return nodetest.HexUint(21000), nil
	})

	client := testClient(t, srv)
	to := common.HexToAddress("0x2")
	gas, err := client.EstimateGas(context.Background(), ethereum.CallMsg{To: &to})
	if err != nil {
		t.Fatalf("EstimateGas failed: %v", err)
	}
	if gas != 21000 {
		t.Fatalf("expected 21000, got %d", gas)
	}
}
