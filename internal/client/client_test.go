package client

import (
	"context"
	"math/big"
	"math/rand"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rawblock/kangaroo-engine/internal/config"
	"github.com/rawblock/kangaroo-engine/internal/curve"
	"github.com/rawblock/kangaroo-engine/internal/protocol"
)

func TestConnectPerformsHandshakeAndReturnsAcceptedResponse(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	target := curve.ScalarBaseMult(curve.ScalarFromUint64(42))
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		req := make([]byte, 4+2+protocol.ClientIDLen+1)
		total := 0
		for total < len(req) {
			n, err := conn.Read(req[total:])
			total += n
			if err != nil {
				return
			}
		}
		if _, err := protocol.DecodeHandshakeRequest(req); err != nil {
			return
		}

		resp := protocol.HandshakeResponse{
			Accepted: true,
			DPBits:   8,
			Px:       target.X(),
			Py:       target.Y(),
		}
		conn.Write(resp.Encode())
	}()

	w := NewWorker(config.Client{ServerAddr: ln.Addr().String(), IntervalBits: 16, CPULanes: 1})
	conn, resp, err := w.connect(context.Background())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer conn.Close()

	if !resp.Accepted {
		t.Fatalf("response not accepted")
	}
	if resp.DPBits != 8 {
		t.Fatalf("DPBits = %d, want 8", resp.DPBits)
	}
	if resp.Px != target.X() {
		t.Fatalf("Px mismatch")
	}
}

func TestServeConnectionReturnsStoppedOnStopFrame(t *testing.T) {
	w := NewWorker(config.Client{ServerAddr: "unused", IntervalBits: 16, CPULanes: 1})
	pipeline := NewPipeline()
	running := &atomic.Bool{}
	running.Store(true)

	mgr, _ := testLaneSetup(t)
	reg := newRegistry(mgr)

	serverSide, clientSide := net.Pipe()
	defer serverSide.Close()

	resultCh := make(chan struct {
		stopped bool
		err     error
	}, 1)
	go func() {
		stopped, err := w.serveConnection(context.Background(), clientSide, pipeline, running, reg)
		resultCh <- struct {
			stopped bool
			err     error
		}{stopped, err}
	}()

	var key [32]byte
	big.NewInt(12345).FillBytes(key[:])
	if err := protocol.WriteFrame(serverSide, protocol.MsgStop, protocol.EncodeStop(key)); err != nil {
		t.Fatalf("write STOP: %v", err)
	}

	select {
	case res := <-resultCh:
		if !res.stopped {
			t.Fatalf("serveConnection did not report stopped")
		}
		if res.err != nil {
			t.Fatalf("serveConnection returned error %v, want nil", res.err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("serveConnection did not return after STOP")
	}
}

func TestServeConnectionAppliesResetKangarooFromServer(t *testing.T) {
	w := NewWorker(config.Client{ServerAddr: "unused", IntervalBits: 16, CPULanes: 1})
	pipeline := NewPipeline()
	running := &atomic.Bool{}
	running.Store(true)

	mgr, _ := testLaneSetup(t)
	rng := rand.New(rand.NewSource(42))
	cohort := mgr.NewCohort(2, 0, rng)
	reg := newRegistry(mgr)
	for _, k := range cohort {
		reg.add(k)
	}
	target := cohort[0]
	origKIdx := target.KIdx

	serverSide, clientSide := net.Pipe()
	defer serverSide.Close()
	defer clientSide.Close()

	ctx, cancel := context.WithCancel(context.Background())
	resultCh := make(chan struct{})
	go func() {
		w.serveConnection(ctx, clientSide, pipeline, running, reg)
		close(resultCh)
	}()

	if err := protocol.WriteFrame(serverSide, protocol.MsgResetKangaroo, protocol.EncodeResetKangaroo(origKIdx)); err != nil {
		t.Fatalf("write RESET_KANGAROO: %v", err)
	}

	// give the read loop a moment to apply the reset, then tear down via
	// context cancellation (the clean, non-STOP exit path).
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-resultCh:
	case <-time.After(2 * time.Second):
		t.Fatalf("serveConnection did not exit after context cancellation")
	}

	if target.KIdx == origKIdx {
		t.Fatalf("RESET_KANGAROO from server did not reset the kangaroo")
	}
}
