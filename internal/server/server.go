// Package server implements the Server Frontend (spec §4.G): the TCP
// accept loop, one handler goroutine per worker connection, routing of
// incoming DPs into the central store, and the periodic statistics and
// checkpoint passes.
package server

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"math/big"
	"net"
	"sync"
	"time"

	"github.com/rawblock/kangaroo-engine/internal/config"
	"github.com/rawblock/kangaroo-engine/internal/curve"
	"github.com/rawblock/kangaroo-engine/internal/dpstore"
	"github.com/rawblock/kangaroo-engine/internal/kangaroo"
	"github.com/rawblock/kangaroo-engine/internal/partition"
	"github.com/rawblock/kangaroo-engine/internal/protocol"
	"github.com/rawblock/kangaroo-engine/internal/storage"
)

// handshakeRequestLen is the fixed wire length of the unframed connect
// handshake request (spec §6): MAGIC(4)|VERSION(2)|CLIENT_ID(16)|N(1).
const handshakeRequestLen = 4 + 2 + protocol.ClientIDLen + 1

// handshakeResponseLen is the fixed wire length of the handshake reply.
const handshakeResponseLen = 4 + 2 + 1 + 1 + 32*5

// workerConn tracks the bookkeeping the server needs per connected worker,
// beyond what the Work Partitioner already owns.
type workerConn struct {
	clientID string
	conn     net.Conn
	mu       sync.Mutex // guards writes; one writer at a time per connection
	lastSeen time.Time
	lastSeq  uint64
}

func (w *workerConn) send(t protocol.MsgType, payload []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return protocol.WriteFrame(w.conn, t, payload)
}

// Server owns the DP store, the work partitioner, and the collision
// resolver, and fronts them with a TCP listener.
type Server struct {
	cfg    config.Server
	store  *dpstore.Store
	parts  *partition.Partitioner
	resolv *dpstore.Resolver

	mu          sync.Mutex
	conns       map[string]*workerConn // clientID (hex) -> connection
	kIdxSource  map[uint64]string      // last clientID observed sending this kIdx
	foundKey    *big.Int
	stopped     bool
	stopCh      chan struct{}
	stoppedOnce sync.Once

	hub    *Hub          // optional dashboard websocket hub; nil if no HTTP dashboard is running
	db     *storage.Store // optional Postgres history; nil if none configured
	dpMask uint64         // spec §7 kind 3: a stored DP must satisfy x & dpMask == 0
}

// AttachHub wires the dashboard websocket hub so the stats loop can
// broadcast snapshots to connected browsers.
func (s *Server) AttachHub(h *Hub) { s.hub = h }

// AttachStorage wires optional Postgres persistence: every resolved
// collision (recovered or not) and each periodic stats sample get a row.
func (s *Server) AttachStorage(db *storage.Store) {
	s.db = db
	s.resolv.SetCollisionObserver(func(event dpstore.CollisionEvent, recovered bool, key curve.Scalar) {
		ev := storage.CollisionEvent{
			TameKIdx:  event.Tame.KIdx,
			WildKIdx:  event.Wild.KIdx,
			X:         event.Tame.X,
			Recovered: recovered,
		}
		if recovered {
			ev.Key = key.BigInt()
		}
		if err := s.db.SaveCollisionEvent(context.Background(), ev); err != nil {
			log.Printf("server: failed to persist collision event: %v", err)
		}
	})
}

// New builds a Server around cfg. numWorkersHint sizes the Work
// Partitioner's initial range width.
func New(cfg config.Server, numWorkersHint int) *Server {
	store := dpstore.New(dpstore.Config{BucketBits: cfg.BucketBits, ShardBits: cfg.ShardBits})
	parts := partition.New(cfg.IntervalBits, numWorkersHint, cfg.OvershootFactor, cfg.GracePeriod)

	s := &Server{
		cfg:        cfg,
		store:      store,
		parts:      parts,
		conns:      make(map[string]*workerConn),
		kIdxSource: make(map[uint64]string),
		stopCh:     make(chan struct{}),
		dpMask:     kangaroo.DPMask(cfg.DPBits),
	}
	s.resolv = dpstore.NewResolver(store, cfg.Target, cfg.WildOffset, s.onReset, s.onFound)
	return s
}

// NewFromCheckpoint builds a Server around cfg like New, but seeds the DP
// store from store (as returned by partition.ReadCheckpoint) instead of an
// empty one, resuming a previously interrupted search.
func NewFromCheckpoint(cfg config.Server, numWorkersHint int, store *dpstore.Store) *Server {
	parts := partition.New(cfg.IntervalBits, numWorkersHint, cfg.OvershootFactor, cfg.GracePeriod)
	s := &Server{
		cfg:        cfg,
		store:      store,
		parts:      parts,
		conns:      make(map[string]*workerConn),
		kIdxSource: make(map[uint64]string),
		stopCh:     make(chan struct{}),
		dpMask:     kangaroo.DPMask(cfg.DPBits),
	}
	s.resolv = dpstore.NewResolver(store, cfg.Target, cfg.WildOffset, s.onReset, s.onFound)
	return s
}

// Store exposes the DP store for the HTTP dashboard and checkpoint writer.
func (s *Server) Store() *dpstore.Store { return s.store }

// FoundKey returns the recovered private key, or nil if the search is
// still running.
func (s *Server) FoundKey() *big.Int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.foundKey
}

// Done is closed once a key has been found and every worker told to stop.
func (s *Server) Done() <-chan struct{} { return s.stopCh }

func (s *Server) onFound(f dpstore.Found) {
	s.mu.Lock()
	if s.foundKey != nil {
		s.mu.Unlock()
		return
	}
	s.foundKey = f.Key.BigInt()
	conns := make([]*workerConn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	log.Printf("server: FOUND key=%x — signalling %d worker(s) to stop", s.foundKey, len(conns))
	var keyBytes [32]byte
	s.foundKey.FillBytes(keyBytes[:])
	for _, c := range conns {
		if err := c.send(protocol.MsgStop, protocol.EncodeStop(keyBytes)); err != nil {
			log.Printf("server: failed to send STOP to %s: %v", c.clientID, err)
		}
	}
	s.stoppedOnce.Do(func() { close(s.stopCh) })
}

func (s *Server) onReset(rd dpstore.ResetDirective) {
	s.mu.Lock()
	clientID, ok := s.kIdxSource[rd.KIdx]
	var c *workerConn
	if ok {
		c = s.conns[clientID]
	}
	s.mu.Unlock()
	if c == nil {
		return
	}
	if err := c.send(protocol.MsgResetKangaroo, protocol.EncodeResetKangaroo(rd.KIdx)); err != nil {
		log.Printf("server: failed to send RESET_KANGAROO(kIdx=%d) to %s: %v", rd.KIdx, clientID, err)
	}
}

// Run listens on ln, accepting worker connections until ctx is cancelled
// or the key is found (s.Done() fires once every connected worker has
// been sent STOP). It also drives the collision resolver and the
// grace-period reaper.
func (s *Server) Run(ctx context.Context, ln net.Listener) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go s.resolv.Run(runCtx)
	go s.reapLoop(runCtx)
	go s.statsLoop(runCtx)
	if s.cfg.CheckpointPath != "" && s.cfg.CheckpointPeriod > 0 {
		go s.checkpointLoop(runCtx)
	}

	go func() {
		select {
		case <-runCtx.Done():
		case <-s.Done():
			cancel()
		}
	}()

	go func() {
		<-runCtx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-runCtx.Done():
				return nil
			default:
				return fmt.Errorf("server: accept: %w", err)
			}
		}
		go s.handleConn(runCtx, conn)
	}
}

func (s *Server) reapLoop(ctx context.Context) {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := s.parts.ReclaimExpired(now); n > 0 {
				log.Printf("server: reclaimed %d range(s) past grace period", n)
			}
		}
	}
}

func (s *Server) statsLoop(ctx context.Context) {
	interval := s.cfg.StatsInterval
	if interval <= 0 {
		interval = config.DefaultStatsInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := s.store.Snapshot()
			log.Printf("server: stats addOK=%d tame=%d wild=%d sameHerd=%d crossHerd=%d",
				stats.AddOK, stats.TameEntries, stats.WildEntries, stats.SameHerdCollisions, stats.CrossHerdCollisions)
			if s.hub != nil {
				if b, err := json.Marshal(stats); err == nil {
					s.hub.Broadcast(b)
				}
			}
			if s.db != nil {
				s.mu.Lock()
				workers := len(s.conns)
				s.mu.Unlock()
				snap := storage.StatsSnapshot{
					AddOK:               stats.AddOK,
					TrueDuplicates:      stats.TrueDuplicates,
					SameHerdCollisions:  stats.SameHerdCollisions,
					CrossHerdCollisions: stats.CrossHerdCollisions,
					TameEntries:         stats.TameEntries,
					WildEntries:         stats.WildEntries,
					ConnectedWorkers:    workers,
				}
				if err := s.db.SaveStatsSnapshot(context.Background(), snap); err != nil {
					log.Printf("server: failed to persist stats snapshot: %v", err)
				}
			}
		}
	}
}

func (s *Server) checkpointLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.CheckpointPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			header := partition.CheckpointHeader{
				N:      uint8(s.cfg.IntervalBits),
				DPBits: uint8(s.cfg.DPBits),
				Px:     s.cfg.Target.X(),
				Py:     s.cfg.Target.Y(),
			}
			header.WildOffset = s.cfg.WildOffset.Bytes()
			if err := partition.WriteCheckpoint(s.cfg.CheckpointPath, header, s.store); err != nil {
				log.Printf("server: checkpoint write failed: %v", err)
			}
		}
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	clientID, err := s.handshake(conn)
	if err != nil {
		log.Printf("server: handshake with %s failed: %v", conn.RemoteAddr(), err)
		conn.Close()
		return
	}

	wc := &workerConn{clientID: clientID, conn: conn, lastSeen: time.Now()}
	s.mu.Lock()
	s.conns[clientID] = wc
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.conns, clientID)
		s.mu.Unlock()
		s.parts.Disconnect(clientID, time.Now())
		conn.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msgType, payload, err := protocol.ReadFrame(conn)
		if err != nil {
			log.Printf("server: connection %s closed: %v", clientID, err)
			return
		}
		wc.lastSeen = time.Now()

		switch msgType {
		case protocol.MsgDPBatch:
			s.handleDPBatch(wc, payload)
		case protocol.MsgStats:
			stats, err := protocol.DecodeStats(payload)
			if err != nil {
				log.Printf("server: bad STATS from %s: %v", clientID, err)
				continue
			}
			log.Printf("server: %s reports pushed=%d popped=%d ops=%d", clientID, stats.Pushed, stats.Popped, stats.OpsCount)
		case protocol.MsgPing:
			ts, err := protocol.DecodePing(payload)
			if err == nil {
				_ = wc.send(protocol.MsgPing, protocol.EncodePing(ts))
			}
		default:
			log.Printf("server: %s sent unexpected message type %s; dropping connection", clientID, msgType)
			return
		}
	}
}

func (s *Server) handleDPBatch(wc *workerConn, payload []byte) {
	dps, err := protocol.DecodeDPBatch(payload)
	if err != nil {
		log.Printf("server: bad DP_BATCH from %s: %v", wc.clientID, err)
		return
	}

	// spec §7 kind 3: a DP whose x doesn't actually satisfy the
	// distinguished-point mask is corrupt (bit flip in transit, a buggy
	// lane, a stale dpMask from a previous handshake) — reject just that
	// entry and keep serving the rest of the batch and the connection.
	accepted := dps[:0]
	for _, dp := range dps {
		if dp.X[3]&s.dpMask != 0 {
			log.Printf("server: rejecting corrupt DP from %s: kIdx=%d x&dpMask != 0", wc.clientID, dp.KIdx)
			continue
		}
		accepted = append(accepted, dp)
	}
	dps = accepted

	s.mu.Lock()
	for _, dp := range dps {
		s.kIdxSource[dp.KIdx] = wc.clientID
	}
	s.mu.Unlock()

	for _, dp := range dps {
		s.store.Add(dp)
	}

	wc.lastSeq++
	if err := wc.send(protocol.MsgDPAck, protocol.EncodeDPAck(wc.lastSeq)); err != nil {
		log.Printf("server: failed to ack %s: %v", wc.clientID, err)
	}
}

func (s *Server) handshake(conn net.Conn) (string, error) {
	req := make([]byte, handshakeRequestLen)
	if err := readFullWithDeadline(conn, req); err != nil {
		return "", fmt.Errorf("read handshake request: %w", err)
	}
	hreq, err := protocol.DecodeHandshakeRequest(req)
	if err != nil {
		return "", err
	}
	clientID := hex.EncodeToString(hreq.ClientID[:])

	r, err := s.parts.Assign(clientID)
	if err != nil {
		resp := protocol.HandshakeResponse{Accepted: false}
		conn.Write(resp.Encode())
		return "", fmt.Errorf("assign range to %s: %w", clientID, err)
	}

	var px, py, wo, start, end [32]byte
	px = s.cfg.Target.X()
	py = s.cfg.Target.Y()
	wo = s.cfg.WildOffset.Bytes()
	r.Start.FillBytes(start[:])
	r.End.FillBytes(end[:])

	resp := protocol.HandshakeResponse{
		Accepted:   true,
		DPBits:     uint8(s.cfg.DPBits),
		Px:         px,
		Py:         py,
		WildOffset: wo,
		RangeStart: start,
		RangeEnd:   end,
	}
	if _, err := conn.Write(resp.Encode()); err != nil {
		return "", fmt.Errorf("write handshake response: %w", err)
	}
	return clientID, nil
}

func readFullWithDeadline(conn net.Conn, buf []byte) error {
	conn.SetReadDeadline(time.Now().Add(protocol.DefaultIOTimeout))
	defer conn.SetReadDeadline(time.Time{})
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return err
		}
	}
	return nil
}
