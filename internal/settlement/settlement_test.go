package settlement

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"EasyCash-SDK/internal/types"
)

var txHashPattern = regexp.MustCompile(`^0x[0-9a-f]{32}$`)

type stubHeights struct {
	height uint64
	err    error
	chain  types.ChainID
}

func (s *stubHeights) BlockHeight(_ context.Context, chain types.ChainID) (uint64, error) {
	s.chain = chain
	return s.height, s.err
}

func request() types.TransactionRequest {
	return types.TransactionRequest{IntentType: types.IntentTransfer, Amount: "1", Asset: "USDC", SourceChain: types.ChainBase}
}

func TestSimulatedReceipt(t *testing.T) {
	s := NewSimulated(WithLatency(0))
	receipt, err := s.Execute(context.Background(), request(), types.RouteQuote{EstimatedFee: "0.05 USDC"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !txHashPattern.MatchString(receipt.TxHash) {
		t.Fatalf("unexpected tx hash %q", receipt.TxHash)
	}
	if receipt.BlockHeight != DefaultBlockHeight {
		t.Fatalf("expected default height, got %d", receipt.BlockHeight)
	}
}

func TestSimulatedUsesDestinationHeight(t *testing.T) {
	heights := &stubHeights{height: 777}
	s := NewSimulated(WithLatency(0), WithHeightReader(heights))

	req := request()
	req.TargetChain = types.ChainPtr(types.ChainSolana)
	receipt, err := s.Execute(context.Background(), req, types.RouteQuote{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if receipt.BlockHeight != 777 || heights.chain != types.ChainSolana {
		t.Fatalf("expected destination chain height, got %d from %s", receipt.BlockHeight, heights.chain)
	}
}

func TestSimulatedHeightFailureFallsBack(t *testing.T) {
	s := NewSimulated(WithLatency(0), WithHeightReader(&stubHeights{err: errors.New("rpc down")}))
	receipt, err := s.Execute(context.Background(), request(), types.RouteQuote{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if receipt.BlockHeight != DefaultBlockHeight {
		t.Fatalf("expected fallback height, got %d", receipt.BlockHeight)
	}
}

func TestSimulatedHonoursDeadline(t *testing.T) {
	s := NewSimulated(WithLatency(time.Second))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := s.Execute(ctx, request(), types.RouteQuote{}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestTxHashesAreUnique(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 1000; i++ {
		h := NewTxHash()
		if _, dup := seen[h]; dup {
			t.Fatalf("duplicate hash %s", h)
		}
		seen[h] = struct{}{}
	}
}
