// Command bpsock is the local application-facing bridge of spec.md §6: it
// frames stdin as a single ADU, injects it as an originated bundle, and
// prints the payload of any bundle it receives back addressed to itself
// to stdout, the Go equivalent of original_source/app/bpsock.c's
// socket-like read/write pair adapted to stdin/stdout framing.
package main

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/samsamfire/godtn/bpv7"
	"github.com/samsamfire/godtn/cache"
	"github.com/samsamfire/godtn/cla/udp"
	"github.com/samsamfire/godtn/flow"
	"github.com/samsamfire/godtn/internal/crc"
	"github.com/samsamfire/godtn/pool"
)

func main() {
	srcNode := flag.Uint64("src-node", 100, "this node's ipn node number")
	srcService := flag.Uint64("src-service", 1, "this node's ipn service number")
	dstNode := flag.Uint64("dst-node", 200, "destination ipn node number")
	dstService := flag.Uint64("dst-service", 1, "destination ipn service number")
	lifetime := flag.Duration("lifetime", 24*time.Hour, "bundle lifetime")
	custody := flag.Bool("custody", false, "request custody tracking")
	egressAddr := flag.String("egress", "127.0.0.1:4551", "peer's ingress UDP address")
	ingressAddr := flag.String("ingress", "127.0.0.1:4502", "this node's own listening UDP address")
	poolCapacity := flag.Int("pool-capacity", 1024, "arena pool capacity")
	tick := flag.Duration("tick", 100*time.Millisecond, "FSM driver tick interval")
	flag.Parse()

	logger := slog.Default()

	p := pool.NewPool(*poolCapacity, pool.Options{Logger: logger})
	selfAddr := bpv7.IPN(*srcNode, *srcService)
	c, err := cache.New(p, cache.Config{SelfAddr: selfAddr}, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "bpsock: failed to create cache: %v\n", err)
		os.Exit(1)
	}
	fl, err := flow.New(p, 32, 32, nil, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "bpsock: failed to create flow: %v\n", err)
		os.Exit(1)
	}
	// udp.New wires itself in as both c's Forwarder and fl's PollNotifier,
	// so it must be built before the flow is brought up.
	adapter := udp.New(p, c, fl, *egressAddr, *ingressAddr, *dstNode, logger)
	if err := adapter.Connect(); err != nil {
		fmt.Fprintf(os.Stderr, "bpsock: failed to open UDP sockets: %v\n", err)
		os.Exit(1)
	}
	adapter.Start()

	fl.SetPending(flow.FlagAdminUp | flow.FlagOperUp)
	p.RunAllJobs(nil)
	stopDriver := c.RunDriver(*tick)

	adu, err := io.ReadAll(os.Stdin)
	if err != nil {
		fmt.Fprintf(os.Stderr, "bpsock: failed to read stdin: %v\n", err)
		os.Exit(1)
	}

	dest := bpv7.IPN(*dstNode, *dstService)
	nowMs := uint64(time.Now().UnixMilli())
	wire, err := frameBundle(selfAddr, dest, adu, *lifetime, nowMs, *custody)
	if err != nil {
		fmt.Fprintf(os.Stderr, "bpsock: failed to frame bundle: %v\n", err)
		os.Exit(1)
	}

	policy := cache.PolicyNone
	if *custody {
		policy = cache.PolicyCustodyTracking
	}
	key := cache.BundleKey{SourceNode: *srcNode, SourceService: *srcService, SequenceNum: nowMs}
	// AdmitLocal only stores the entry in StateIdle; the driver's next
	// Tick is what evaluates it into StateQueue and hands it to the
	// adapter's Forward, exactly like any ingested bundle — bpsock never
	// pushes onto the egress duct itself.
	if _, err := c.AdmitLocal(wire, key, *dstNode, policy, uint64(lifetime.Milliseconds()), nowMs); err != nil {
		fmt.Fprintf(os.Stderr, "bpsock: admit failed: %v\n", err)
		os.Exit(1)
	}

	logger.Info("bpsock: bundle injected, waiting for delivered traffic", "dest", dest.String())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	done := make(chan struct{})
	go printDeliveries(c, fl, p, done)

	<-sigCh
	close(done)
	stopDriver()
	if err := adapter.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "bpsock: error during shutdown: %v\n", err)
	}
	os.Exit(0)
}

// frameBundle builds a single-payload-block bundle wire image out of adu,
// the framing step spec.md §6 asks bpsock to perform on behalf of a local
// application before handing the ADU to the cache.
func frameBundle(src, dest bpv7.EID, adu []byte, lifetime time.Duration, nowMs uint64, requestCustody bool) ([]byte, error) {
	b := &bpv7.Bundle{
		Primary: bpv7.PrimaryBlock{
			CRCType:             crc.TypeCRC16,
			Dest:                dest,
			Source:              src,
			ReportTo:            bpv7.DTNNone(),
			CreationTimestampMs: nowMs,
			SequenceNumber:      nowMs,
			Lifetime:            uint64(lifetime.Milliseconds()),
		},
	}
	blockNum := uint64(1)
	if requestCustody {
		b.Canonicals = append(b.Canonicals, bpv7.CanonicalBlock{
			Type:        bpv7.BlockTypeCustodyTrack,
			BlockNumber: blockNum,
			CRCType:     crc.TypeCRC16,
			CustodyEID:  src,
		})
		blockNum++
	}
	b.Canonicals = append(b.Canonicals, bpv7.CanonicalBlock{
		Type:        bpv7.BlockTypePayload,
		BlockNumber: blockNum,
		CRCType:     crc.TypeCRC16,
		PayloadData: adu,
	})
	return bpv7.Encode(b)
}

// printDeliveries pulls delivered entries off the flow's ingress duct and
// writes their payload bytes to stdout, the reverse path of spec.md §6's
// "prints delivered payload bytes to stdout".
func printDeliveries(c *cache.Cache, fl *flow.Flow, p *pool.Pool, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		default:
		}
		id, ok := fl.Ingress.Pull(p, 200*time.Millisecond)
		if !ok {
			continue
		}
		ec, ok := c.Entry(id)
		if !ok {
			continue
		}
		wire, err := c.EntryWire(ec)
		if err != nil {
			continue
		}
		b, err := bpv7.Decode(wire)
		if err != nil || len(b.Canonicals) == 0 {
			continue
		}
		// Only a bundle actually addressed to this node is a delivery;
		// anything else arriving on ingress is a waypoint bundle this
		// minimal single-hop CLI has no forwarding table for (routing is
		// an explicit Non-goal) and simply drops.
		if b.Primary.Dest != c.SelfAddr() {
			continue
		}
		last := b.Canonicals[len(b.Canonicals)-1]
		if last.Type == bpv7.BlockTypePayload {
			os.Stdout.Write(last.PayloadData)
		}
	}
}
