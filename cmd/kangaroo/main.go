// Command kangaroo is the single binary for both the server and the
// client worker halves of the distributed Pollard's Kangaroo engine
// (spec §6's CLI surface). Which half runs is selected by -s.
package main

import (
	"bufio"
	"context"
	"encoding/hex"
	"fmt"
	"log"
	"math/big"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli"

	"github.com/rawblock/kangaroo-engine/internal/client"
	"github.com/rawblock/kangaroo-engine/internal/config"
	"github.com/rawblock/kangaroo-engine/internal/curve"
	"github.com/rawblock/kangaroo-engine/internal/dpstore"
	"github.com/rawblock/kangaroo-engine/internal/partition"
	"github.com/rawblock/kangaroo-engine/internal/server"
	"github.com/rawblock/kangaroo-engine/internal/storage"
)

// Exit codes (spec §6): 0 success, 1 usage error, 2 I/O error,
// 3 protocol error, 4 graceful shutdown without a result.
const (
	exitSuccess     = 0
	exitUsageError  = 1
	exitIOError     = 2
	exitProtocolErr = 3
	exitNoResult    = 4
)

func main() {
	app := cli.NewApp()
	app.Name = "kangaroo"
	app.Usage = "distributed Pollard's Kangaroo solver for secp256k1 discrete logs"
	app.Flags = []cli.Flag{
		cli.BoolFlag{Name: "s", Usage: "run as server"},
		cli.IntFlag{Name: "sp", Value: config.DefaultServerPort, Usage: "server: listen port"},
		cli.IntFlag{Name: "d", Value: config.DefaultDPBits, Usage: "server: distinguished-point bits"},
		cli.StringFlag{Name: "o", Usage: "server: result output file"},
		cli.StringFlag{Name: "postgres", EnvVar: "KANGAROO_POSTGRES_DSN", Usage: "server: optional Postgres DSN for collision/stats history"},
		cli.StringFlag{Name: "dashboard", Usage: "server: optional HTTP dashboard bind address, e.g. :8090"},

		cli.StringFlag{Name: "c", Usage: "client: server address host[:port]"},
		cli.IntFlag{Name: "t", Value: 1, Usage: "client: number of CPU lanes"},
		cli.BoolFlag{Name: "gpu", Usage: "client: also run a GPU lane"},
		cli.IntFlag{Name: "gpuId", Usage: "client: GPU device index"},

		cli.StringFlag{Name: "w", Usage: "checkpoint file path (server only; ignored by the client, see DESIGN.md)"},
		cli.IntFlag{Name: "wi", Value: 60, Usage: "checkpoint write interval, seconds"},
	}
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		log.Printf("kangaroo: %v", err)
		os.Exit(exitCodeFor(err))
	}
}

// exitErr lets run() communicate a specific spec §6 exit code without
// every call site threading an int back through cli's error return.
type exitErr struct {
	code int
	err  error
}

func (e *exitErr) Error() string { return e.err.Error() }

func exitCodeFor(err error) int {
	if ee, ok := err.(*exitErr); ok {
		return ee.code
	}
	return exitUsageError
}

func run(c *cli.Context) error {
	targetPath := c.Args().First()
	if targetPath == "" {
		return &exitErr{exitUsageError, fmt.Errorf("missing positional target file")}
	}
	target, intervalBits, err := readTargetFile(targetPath)
	if err != nil {
		return &exitErr{exitIOError, fmt.Errorf("read target file: %w", err)}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		<-sig
		cancel()
	}()

	if c.Bool("s") {
		return runServer(ctx, c, target, intervalBits)
	}
	return runClient(ctx, c, intervalBits)
}

// readTargetFile parses the CLI target file (spec §6: "positional target
// file (containing N and the public key)"): line 1 is N in decimal, line
// 2 is the hex-encoded SEC1 public key (compressed or uncompressed).
func readTargetFile(path string) (curve.Point, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return curve.Point{}, 0, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	lines := make([]string, 0, 2)
	for scanner.Scan() && len(lines) < 2 {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		lines = append(lines, line)
	}
	if err := scanner.Err(); err != nil {
		return curve.Point{}, 0, err
	}
	if len(lines) < 2 {
		return curve.Point{}, 0, fmt.Errorf("target file must have an interval-bits line and a public-key line")
	}

	n, err := strconv.Atoi(lines[0])
	if err != nil {
		return curve.Point{}, 0, fmt.Errorf("bad interval bits %q: %w", lines[0], err)
	}
	pubBytes, err := hex.DecodeString(lines[1])
	if err != nil {
		return curve.Point{}, 0, fmt.Errorf("bad public key hex: %w", err)
	}
	p, err := curve.ParsePublicKey(pubBytes)
	if err != nil {
		return curve.Point{}, 0, err
	}
	return p, n, nil
}

// defaultWildOffset picks the interval midpoint, the classic choice for
// Pollard's Kangaroo: it puts the wild herd's expected meeting point near
// the center of [0, 2^n), minimizing expected total work.
func defaultWildOffset(intervalBits int) curve.Scalar {
	mid := new(big.Int).Lsh(big.NewInt(1), uint(intervalBits-1))
	return curve.NewScalar(mid)
}

func runServer(ctx context.Context, c *cli.Context, target curve.Point, intervalBits int) error {
	cfg := config.Server{
		Port:             c.Int("sp"),
		DPBits:           c.Int("d"),
		BucketBits:       config.DefaultBucketBits,
		ShardBits:        config.DefaultShardBits,
		CheckpointPath:   c.String("w"),
		CheckpointPeriod: time.Duration(c.Int("wi")) * time.Second,
		ResultPath:       c.String("o"),
		IntervalBits:     intervalBits,
		Target:           target,
		WildOffset:       defaultWildOffset(intervalBits),
		GracePeriod:      config.DefaultGracePeriod,
		OvershootFactor:  config.DefaultOvershoot,
		StatsInterval:    config.DefaultStatsInterval,
		PostgresDSN:      c.String("postgres"),
		DashboardAddr:    c.String("dashboard"),
	}
	if err := cfg.Validate(); err != nil {
		return &exitErr{exitUsageError, err}
	}

	storeCfg := dpstore.Config{BucketBits: cfg.BucketBits, ShardBits: cfg.ShardBits}

	var srv *server.Server
	if cfg.CheckpointPath != "" {
		if _, restored, err := partition.ReadCheckpoint(cfg.CheckpointPath, storeCfg); err == nil {
			log.Printf("kangaroo: resumed from checkpoint %s", cfg.CheckpointPath)
			srv = server.NewFromCheckpoint(cfg, 8, restored)
		} else if !os.IsNotExist(err) {
			log.Printf("kangaroo: ignoring unreadable checkpoint %s: %v", cfg.CheckpointPath, err)
		}
	}
	if srv == nil {
		srv = server.New(cfg, 8)
	}

	if cfg.PostgresDSN != "" {
		db, err := storage.Connect(ctx, cfg.PostgresDSN)
		if err != nil {
			return &exitErr{exitIOError, err}
		}
		defer db.Close()
		if err := db.InitSchema(ctx); err != nil {
			return &exitErr{exitIOError, err}
		}
		srv.AttachStorage(db)
	}

	if cfg.DashboardAddr != "" {
		hub := server.NewHub()
		go hub.Run()
		srv.AttachHub(hub)
		router := server.SetupRouter(srv, hub)
		go func() {
			if err := router.Run(cfg.DashboardAddr); err != nil {
				log.Printf("kangaroo: dashboard server exited: %v", err)
			}
		}()
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Port))
	if err != nil {
		return &exitErr{exitIOError, err}
	}

	log.Printf("kangaroo: server listening on :%d, interval bits=%d, dp bits=%d, target=%s",
		cfg.Port, intervalBits, cfg.DPBits, curve.Fingerprint(target))

	if err := srv.Run(ctx, ln); err != nil {
		return &exitErr{exitIOError, err}
	}

	if key := srv.FoundKey(); key != nil {
		out := key.Text(16) + "\n"
		if wif, addr, err := curve.WIFAndAddress(key); err != nil {
			log.Printf("kangaroo: found key but could not derive WIF/address: %v", err)
		} else {
			out += fmt.Sprintf("wif=%s address=%s\n", wif, addr)
		}
		if cfg.ResultPath != "" {
			if err := os.WriteFile(cfg.ResultPath, []byte(out), 0o644); err != nil {
				return &exitErr{exitIOError, fmt.Errorf("write result file: %w", err)}
			}
		}
		fmt.Print(out)
		return nil
	}
	return &exitErr{exitNoResult, fmt.Errorf("shut down without a result")}
}

func runClient(ctx context.Context, c *cli.Context, intervalBits int) error {
	addr := c.String("c")
	if addr == "" {
		return &exitErr{exitUsageError, fmt.Errorf("-c <host[:port]> is required in client mode")}
	}
	if !strings.Contains(addr, ":") {
		addr = fmt.Sprintf("%s:%d", addr, config.DefaultServerPort)
	}

	cfg := config.Client{
		ServerAddr:   addr,
		CPULanes:     c.Int("t"),
		UseGPU:       c.Bool("gpu"),
		GPUID:        c.Int("gpuId"),
		IntervalBits: intervalBits,
	}
	if err := cfg.Validate(); err != nil {
		return &exitErr{exitUsageError, err}
	}

	log.Printf("kangaroo: client connecting to %s, %d CPU lane(s), gpu=%v", cfg.ServerAddr, cfg.CPULanes, cfg.UseGPU)
	w := client.NewWorker(cfg)
	if err := w.Run(ctx); err != nil {
		return &exitErr{exitProtocolErr, err}
	}
	return &exitErr{exitNoResult, fmt.Errorf("worker shut down without a result")}
}
