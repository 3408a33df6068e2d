// Command bpcat bridges two UDP convergence-layer sockets through a
// single node's cache and egress flow, the Go equivalent of
// original_source/app/bpcat.c: attach a cache, run one UDP CLA adapter,
// and shuttle bundles until SIGINT.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/samsamfire/godtn/bpv7"
	"github.com/samsamfire/godtn/cache"
	"github.com/samsamfire/godtn/cla/udp"
	"github.com/samsamfire/godtn/flow"
	"github.com/samsamfire/godtn/pool"
)

func main() {
	nodeNum := flag.Uint64("n", 100, "local ipn node number")
	peerNode := flag.Uint64("peer", 200, "peer's ipn node number")
	egressAddr := flag.String("egress", "127.0.0.1:4551", "peer's ingress UDP address")
	ingressAddr := flag.String("ingress", "127.0.0.1:4501", "this node's own listening UDP address")
	poolCapacity := flag.Int("pool-capacity", 4096, "arena pool capacity")
	tick := flag.Duration("tick", 100*time.Millisecond, "FSM driver tick interval")
	flag.Parse()

	logger := slog.Default()

	p := pool.NewPool(*poolCapacity, pool.Options{Logger: logger})
	c, err := cache.New(p, cache.Config{SelfAddr: bpv7.IPN(*nodeNum, 0)}, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "bpcat: failed to create cache: %v\n", err)
		os.Exit(1)
	}
	fl, err := flow.New(p, 64, 64, nil, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "bpcat: failed to create flow: %v\n", err)
		os.Exit(1)
	}

	// udp.New wires itself in as both c's Forwarder (so queued entries
	// reach the wire) and fl's PollNotifier (so a down->up transition
	// replays the cache's dest_eid_index for this peer), so it must be
	// built before the flow is brought up.
	adapter := udp.New(p, c, fl, *egressAddr, *ingressAddr, *peerNode, logger)
	if err := adapter.Connect(); err != nil {
		fmt.Fprintf(os.Stderr, "bpcat: failed to open UDP sockets: %v\n", err)
		os.Exit(1)
	}
	adapter.Start()

	fl.SetPending(flow.FlagAdminUp | flow.FlagOperUp)
	p.RunAllJobs(nil)

	stopDriver := c.RunDriver(*tick)

	logger.Info("bpcat: running", "node", *nodeNum, "peer", *peerNode, "egress", *egressAddr, "ingress", *ingressAddr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	stopDriver()
	if err := adapter.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "bpcat: error during shutdown: %v\n", err)
	}
	logger.Info("bpcat: shut down cleanly")
	os.Exit(0)
}
