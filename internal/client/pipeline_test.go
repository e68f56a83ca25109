package client

import (
	"testing"
	"time"

	"github.com/rawblock/kangaroo-engine/internal/protocol"
)

func dp(kIdx uint64) protocol.DP {
	return protocol.DP{X: [4]uint64{kIdx, 0, 0, 0}, KIdx: kIdx}
}

func TestPopBatchReturnsNilWhenNothingArrivesWithinTimeout(t *testing.T) {
	p := NewPipeline()
	got := p.PopBatch(10, 20*time.Millisecond, 10*time.Millisecond)
	if got != nil {
		t.Fatalf("got %v, want nil", got)
	}
}

func TestPushThenPopReturnsExactlyWhatWasPushed(t *testing.T) {
	p := NewPipeline()
	p.PushBatch([]protocol.DP{dp(1), dp(2), dp(3)})

	got := p.PopBatch(10, time.Second, 10*time.Millisecond)
	if len(got) != 3 {
		t.Fatalf("got %d items, want 3", len(got))
	}
}

func TestPopBatchRespectsMaxCount(t *testing.T) {
	p := NewPipeline()
	p.PushBatch([]protocol.DP{dp(1), dp(2), dp(3), dp(4), dp(5)})

	got := p.PopBatch(2, time.Second, 10*time.Millisecond)
	if len(got) != 2 {
		t.Fatalf("got %d items, want 2", len(got))
	}
	if p.Depth() != 3 {
		t.Fatalf("depth = %d, want 3 remaining", p.Depth())
	}
}

func TestPopBatchCoalescesArrivalsWithinBatchingDelay(t *testing.T) {
	p := NewPipeline()
	p.PushBatch([]protocol.DP{dp(1)})

	go func() {
		time.Sleep(5 * time.Millisecond)
		p.PushBatch([]protocol.DP{dp(2), dp(3)})
	}()

	got := p.PopBatch(10, time.Second, 50*time.Millisecond)
	if len(got) != 3 {
		t.Fatalf("got %d items, want 3 (coalesced)", len(got))
	}
}

func TestPushedEqualsPoppedPlusDepthAtQuiescence(t *testing.T) {
	p := NewPipeline()
	p.PushBatch([]protocol.DP{dp(1), dp(2), dp(3), dp(4)})
	p.PopBatch(2, time.Second, 10*time.Millisecond)

	pushed, popped := p.Counters()
	if pushed != popped+uint64(p.Depth()) {
		t.Fatalf("pushed=%d popped=%d depth=%d: conservation violated", pushed, popped, p.Depth())
	}
}

func TestRequestShutdownDrainsThenReturnsNil(t *testing.T) {
	p := NewPipeline()
	p.PushBatch([]protocol.DP{dp(1), dp(2)})
	p.RequestShutdown()

	first := p.PopBatch(10, time.Second, 10*time.Millisecond)
	if len(first) != 2 {
		t.Fatalf("got %d items on first drain, want 2", len(first))
	}

	second := p.PopBatch(10, 20*time.Millisecond, 10*time.Millisecond)
	if second != nil {
		t.Fatalf("got %v after shutdown drained, want nil", second)
	}
}
