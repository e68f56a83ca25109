package partition

import (
	"errors"
	"testing"
	"time"
)

func TestAssignCarvesContiguousNonOverlappingRanges(t *testing.T) {
	p := New(16, 4, 0, DefaultGracePeriod)

	r1, err := p.Assign("worker-a")
	if err != nil {
		t.Fatalf("Assign worker-a: %v", err)
	}
	r2, err := p.Assign("worker-b")
	if err != nil {
		t.Fatalf("Assign worker-b: %v", err)
	}
	if r1.Start.Cmp(r2.Start) == 0 {
		t.Fatalf("two workers got the same range start")
	}
	if r1.End.Cmp(r2.Start) != 0 {
		t.Fatalf("ranges are not contiguous: r1.End=%s r2.Start=%s", r1.End, r2.Start)
	}
}

func TestAssignReturnsSameRangeOnRepeatedCallsForSameWorker(t *testing.T) {
	p := New(16, 2, 0, DefaultGracePeriod)
	r1, _ := p.Assign("worker-a")
	r2, _ := p.Assign("worker-a")
	if r1 != r2 {
		t.Fatalf("same worker got two distinct range objects")
	}
}

func TestCompletedRangeIsNotReissuedToItsOwner(t *testing.T) {
	p := New(16, 2, 0, DefaultGracePeriod)
	r1, _ := p.Assign("worker-a")
	p.RecordProgress("worker-a", 1.0)

	r2, err := p.Assign("worker-a")
	if err != nil {
		t.Fatalf("Assign after completion: %v", err)
	}
	if r1 == r2 {
		t.Fatalf("a completed range was reissued to its own owner")
	}
}

func TestDisconnectedRangeIsReclaimedAfterGracePeriod(t *testing.T) {
	p := New(16, 1, 0, 10*time.Second)
	r1, _ := p.Assign("worker-a")

	now := time.Now()
	p.Disconnect("worker-a", now)

	if n := p.ReclaimExpired(now.Add(5 * time.Second)); n != 0 {
		t.Fatalf("reclaimed %d ranges before grace period elapsed, want 0", n)
	}
	if n := p.ReclaimExpired(now.Add(11 * time.Second)); n != 1 {
		t.Fatalf("reclaimed %d ranges after grace period elapsed, want 1", n)
	}

	r2, err := p.Assign("worker-b")
	if err != nil {
		t.Fatalf("Assign worker-b: %v", err)
	}
	if r2.Start.Cmp(r1.Start) != 0 || r2.End.Cmp(r1.End) != 0 {
		t.Fatalf("worker-b did not receive the reclaimed range")
	}
	if r2.AssignedTo != "worker-b" {
		t.Fatalf("reclaimed range AssignedTo = %q, want worker-b", r2.AssignedTo)
	}
}

func TestReconnectBeforeGracePeriodKeepsOriginalOwner(t *testing.T) {
	p := New(16, 1, 0, 10*time.Second)
	r1, _ := p.Assign("worker-a")
	now := time.Now()
	p.Disconnect("worker-a", now)

	r1Again, err := p.Assign("worker-a")
	if err != nil {
		t.Fatalf("Assign worker-a (reconnect): %v", err)
	}
	if r1Again != r1 {
		t.Fatalf("reconnecting worker did not get its own range back")
	}

	if n := p.ReclaimExpired(now.Add(20 * time.Second)); n != 0 {
		t.Fatalf("reclaimed %d ranges for a worker that already reconnected, want 0", n)
	}
}

func TestAssignReturnsErrExhaustedWhenSpaceIsFullyCarved(t *testing.T) {
	p := New(2, 1, 0, DefaultGracePeriod) // width covers the whole 2^2 space in one shot
	if _, err := p.Assign("worker-a"); err != nil {
		t.Fatalf("first Assign: %v", err)
	}
	if _, err := p.Assign("worker-b"); !errors.Is(err, ErrExhausted) {
		t.Fatalf("second Assign error = %v, want ErrExhausted", err)
	}
}
