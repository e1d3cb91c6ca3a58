package control

import (
	"context"
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"github.com/rxanders35/fluxstate/pkg/ledger"
	"github.com/rxanders35/fluxstate/pkg/shm"
	"github.com/rxanders35/fluxstate/pkg/store"
	pb "github.com/rxanders35/fluxstate/proto"
	"google.golang.org/grpc"
)

// GRPCServer is the consumer side of the handoff. It drains published
// regions into a durable store when asked to over FluxControl.
type GRPCServer struct {
	addr         string
	store        store.Store
	ledger       *ledger.Ledger
	readyTimeout time.Duration
	pollInterval time.Duration
	srv          *grpc.Server
	mu           sync.Mutex
	pb.UnimplementedFluxControlServer
}

type Option func(*GRPCServer)

// WithLedger records every successful capture.
func WithLedger(l *ledger.Ledger) Option {
	return func(g *GRPCServer) {
		g.ledger = l
	}
}

// WithReadyWait bounds how long a request waits for the region's flag.
func WithReadyWait(timeout, interval time.Duration) Option {
	return func(g *GRPCServer) {
		g.readyTimeout = timeout
		g.pollInterval = interval
	}
}

func NewGRPCServer(addr string, s store.Store, opts ...Option) *GRPCServer {
	g := &GRPCServer{
		addr:         addr,
		store:        s,
		readyTimeout: 5 * time.Second,
		pollInterval: time.Millisecond,
		srv:          grpc.NewServer(pb.ServerCodec()),
	}

	for _, opt := range opts {
		opt(g)
	}

	pb.RegisterFluxControlServer(g.srv, g)
	return g
}

func (g *GRPCServer) Run() error {
	listener, err := net.Listen("tcp", g.addr)
	if err != nil {
		return fmt.Errorf("failed to init tcp listener on %s: %w", g.addr, err)
	}
	return g.Serve(listener)
}

func (g *GRPCServer) Serve(listener net.Listener) error {
	if err := g.srv.Serve(listener); err != nil {
		return fmt.Errorf("failed to serve gRPC on %s: %w", listener.Addr(), err)
	}
	return nil
}

func (g *GRPCServer) Shutdown() {
	g.srv.GracefulStop()
}

// SaveCheckpoint never fails at the RPC level for a rejected handoff; the
// reason is logged and the response carries success=false.
func (g *GRPCServer) SaveCheckpoint(ctx context.Context, req *pb.SaveRequest) (*pb.SaveResponse, error) {
	written, err := g.Capture(ctx, req.GetReqId(), req.GetRegionName(), req.GetExpectedTensorCount())
	if err != nil {
		log.Printf("Rejected checkpoint %q from region %s. Why: %v", req.GetReqId(), req.GetRegionName(), err)
		return &pb.SaveResponse{Success: false}, nil
	}

	log.Printf("Captured checkpoint %q: %d bytes from %s", req.GetReqId(), written, req.GetRegionName())
	return &pb.SaveResponse{Success: true, BytesWritten: written}, nil
}

// Capture opens the named region, waits for it to be published, checks it
// holds expected tensors and persists all of them as one checkpoint. It
// returns total_data_size on success.
func (g *GRPCServer) Capture(ctx context.Context, reqID, regionPath string, expected uint32) (uint64, error) {
	if reqID == "" {
		return 0, fmt.Errorf("empty req_id")
	}

	// One handoff at a time; producers must not reuse a region mid-capture.
	g.mu.Lock()
	defer g.mu.Unlock()

	region, err := shm.Open(regionPath)
	if err != nil {
		return 0, err
	}
	defer region.Close()

	waitCtx, cancel := context.WithTimeout(ctx, g.readyTimeout)
	defer cancel()

	h, tensors, err := shm.Snapshot(waitCtx, region, g.pollInterval)
	if err != nil {
		return 0, err
	}
	if h.NumTensors != expected {
		return 0, fmt.Errorf("%w: region holds %d tensors, request expects %d", ErrMismatch, h.NumTensors, expected)
	}

	if err := g.persist(reqID, tensors); err != nil {
		return 0, err
	}

	// The ledger only lists committed checkpoints. If recording fails the
	// tensors stay stored; a retry with the same req_id replaces them.
	if g.ledger != nil {
		if err := g.ledger.Record(ctx, manifest(reqID, regionPath, h)); err != nil {
			return 0, fmt.Errorf("checkpoint %q stored but not recorded: %w", reqID, err)
		}
	}

	return h.TotalDataSize, nil
}

func (g *GRPCServer) persist(reqID string, tensors []shm.Tensor) error {
	b, err := g.store.Begin(reqID)
	if err != nil {
		return fmt.Errorf("failed to begin checkpoint: %w", err)
	}

	for _, t := range tensors {
		if err := b.Put(t); err != nil {
			if abortErr := b.Abort(); abortErr != nil {
				log.Printf("Failed to abort checkpoint %q. Why: %v", reqID, abortErr)
			}
			return fmt.Errorf("failed to store tensor %q: %w", t.Name, err)
		}
	}

	if err := b.Commit(); err != nil {
		return fmt.Errorf("failed to commit checkpoint: %w", err)
	}
	return nil
}

func manifest(reqID, regionPath string, h shm.Header) ledger.Checkpoint {
	c := ledger.Checkpoint{
		ReqID:      reqID,
		Region:     regionPath,
		NumTensors: h.NumTensors,
		TotalBytes: h.TotalDataSize,
		CapturedAt: time.Now().UTC(),
		Tensors:    make([]ledger.Tensor, 0, len(h.Entries)),
	}
	for i, e := range h.Entries {
		c.Tensors = append(c.Tensors, ledger.Tensor{Position: i, Name: e.Name, DType: uint8(e.DType), Size: e.Size})
	}
	return c
}
