package control

import (
	"bytes"
	"context"
	"errors"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/rxanders35/fluxstate/pkg/ledger"
	"github.com/rxanders35/fluxstate/pkg/producer"
	"github.com/rxanders35/fluxstate/pkg/shm"
	"github.com/rxanders35/fluxstate/pkg/store"
	pb "github.com/rxanders35/fluxstate/proto"
	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"
)

type harness struct {
	server *GRPCServer
	client *Client
	store  *store.Memory
	ledger *ledger.Ledger
	region *shm.Region
}

func newHarness(t *testing.T, st store.Store, opts ...Option) *harness {
	t.Helper()

	region, err := shm.OpenOrCreate(filepath.Join(t.TempDir(), "flux_state_test"), 1<<20)
	if err != nil {
		t.Fatalf("OpenOrCreate() failed: %v", err)
	}
	t.Cleanup(func() { region.Close() })

	s, err := ledger.NewStore(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("ledger.NewStore() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	l := ledger.NewLedger(s)

	opts = append([]Option{WithLedger(l), WithReadyWait(50*time.Millisecond, time.Millisecond)}, opts...)
	srv := NewGRPCServer("bufnet", st, opts...)

	lis := bufconn.Listen(1 << 20)
	go srv.Serve(lis)
	t.Cleanup(srv.Shutdown)

	c, err := NewClient("passthrough:///bufnet", grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	}))
	if err != nil {
		t.Fatalf("NewClient() failed: %v", err)
	}
	t.Cleanup(func() { c.Close() })

	h := &harness{server: srv, client: c, ledger: l, region: region}
	if m, ok := st.(*store.Memory); ok {
		h.store = m
	}
	return h
}

var exampleTensors = []shm.Tensor{
	{Name: "a", DType: shm.F32, Data: []byte{1, 2, 3, 4}},
	{Name: "b", DType: shm.F32, Data: []byte{5, 6}},
}

func TestServer_ExampleScenario(t *testing.T) {
	h := newHarness(t, store.NewMemory())
	ctx := context.Background()

	p := producer.NewProducer(h.region, h.client)
	written, err := p.Handoff(ctx, "ckpt_alpha", exampleTensors)
	if err != nil {
		t.Fatalf("Handoff() failed: %v", err)
	}
	if written != 6 {
		t.Fatalf("bytes_written: expected 6, got %d", written)
	}

	for _, want := range exampleTensors {
		got, err := h.store.Read("ckpt_alpha", want.Name)
		if err != nil {
			t.Fatalf("Read(%q) failed: %v", want.Name, err)
		}
		if !bytes.Equal(got.Data, want.Data) || got.DType != want.DType {
			t.Fatalf("stored %q mismatch: %v", want.Name, got.Data)
		}
	}

	c, err := h.ledger.Get(ctx, "ckpt_alpha")
	if err != nil {
		t.Fatalf("ledger Get() failed: %v", err)
	}
	if c.TotalBytes != 6 || len(c.Tensors) != 2 || c.Tensors[1].Name != "b" {
		t.Fatalf("unexpected ledger entry %+v", c)
	}
}

func TestServer_StoredBytesOutliveRegionRewrite(t *testing.T) {
	h := newHarness(t, store.NewMemory())
	p := producer.NewProducer(h.region, h.client)
	ctx := context.Background()

	if _, err := p.Handoff(ctx, "first", exampleTensors); err != nil {
		t.Fatalf("Handoff() failed: %v", err)
	}
	if _, err := p.Handoff(ctx, "second", []shm.Tensor{{Name: "a", Data: []byte{9, 9, 9, 9}}}); err != nil {
		t.Fatalf("Handoff() failed: %v", err)
	}

	got, err := h.store.Read("first", "a")
	if err != nil {
		t.Fatalf("Read() failed: %v", err)
	}
	if !bytes.Equal(got.Data, []byte{1, 2, 3, 4}) {
		t.Fatalf("first checkpoint aliased the region: %v", got.Data)
	}
}

func TestServer_Mismatch(t *testing.T) {
	h := newHarness(t, store.NewMemory())

	if _, err := shm.NewPublisher(h.region).Publish(exampleTensors); err != nil {
		t.Fatalf("Publish() failed: %v", err)
	}

	_, err := h.client.SaveCheckpoint(context.Background(), "ckpt", h.region.Path(), 3)
	if !errors.Is(err, ErrRejected) {
		t.Fatalf("expected ErrRejected, got %v", err)
	}
	if _, err := h.store.Read("ckpt", "a"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("mismatched checkpoint was stored: %v", err)
	}

	_, err = h.server.Capture(context.Background(), "ckpt", h.region.Path(), 3)
	if !errors.Is(err, ErrMismatch) {
		t.Fatalf("expected ErrMismatch from Capture, got %v", err)
	}
}

func TestServer_NotReady(t *testing.T) {
	h := newHarness(t, store.NewMemory())

	_, err := h.server.Capture(context.Background(), "ckpt", h.region.Path(), 0)
	if !errors.Is(err, shm.ErrNotReady) {
		t.Fatalf("expected ErrNotReady, got %v", err)
	}

	resp, err := h.server.SaveCheckpoint(context.Background(), &pb.SaveRequest{ReqId: "ckpt", RegionName: h.region.Path()})
	if err != nil {
		t.Fatalf("SaveCheckpoint() returned an RPC error: %v", err)
	}
	if resp.GetSuccess() {
		t.Fatal("expected success=false for an unpublished region")
	}
}

func TestServer_MissingRegion(t *testing.T) {
	h := newHarness(t, store.NewMemory())

	_, err := h.server.Capture(context.Background(), "ckpt", filepath.Join(t.TempDir(), "absent"), 0)
	if !errors.Is(err, shm.ErrResource) {
		t.Fatalf("expected ErrResource, got %v", err)
	}
}

func TestServer_CorruptRegion(t *testing.T) {
	h := newHarness(t, store.NewMemory())

	if _, err := shm.NewPublisher(h.region).Publish(exampleTensors); err != nil {
		t.Fatalf("Publish() failed: %v", err)
	}
	total, _ := h.region.Slice(8, 8)
	total[0] = 99

	_, err := h.server.Capture(context.Background(), "ckpt", h.region.Path(), 2)
	if !errors.Is(err, shm.ErrCorruptHeader) {
		t.Fatalf("expected ErrCorruptHeader, got %v", err)
	}
}

type failingStore struct {
	store.Store
	failAt  int
	aborted bool
}

func (f *failingStore) Begin(id string) (store.Batch, error) {
	return &failingBatch{s: f}, nil
}

type failingBatch struct {
	s    *failingStore
	puts int
}

func (b *failingBatch) Put(shm.Tensor) error {
	b.puts++
	if b.puts == b.s.failAt {
		return errors.New("disk full")
	}
	return nil
}

func (b *failingBatch) Commit() error { return errors.New("commit after failure") }

func (b *failingBatch) Abort() error {
	b.s.aborted = true
	return nil
}

func TestServer_StoreFailureFailsWholeCall(t *testing.T) {
	fs := &failingStore{failAt: 2}
	h := newHarness(t, fs)

	p := producer.NewProducer(h.region, h.client)
	if _, err := p.Handoff(context.Background(), "ckpt", exampleTensors); !errors.Is(err, ErrRejected) {
		t.Fatalf("expected ErrRejected, got %v", err)
	}
	if !fs.aborted {
		t.Fatal("batch was not aborted")
	}
	if _, err := h.ledger.Get(context.Background(), "ckpt"); !errors.Is(err, ledger.ErrNotFound) {
		t.Fatalf("failed checkpoint reached the ledger: %v", err)
	}
}

func TestServer_LedgerFailureThenRetryReplaces(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()

	closed, err := ledger.NewStore(filepath.Join(t.TempDir(), "closed.db"))
	if err != nil {
		t.Fatalf("ledger.NewStore() failed: %v", err)
	}
	closed.Close()

	broken := newHarness(t, mem, WithLedger(ledger.NewLedger(closed)))
	if _, err := producer.NewProducer(broken.region, broken.client).Handoff(ctx, "ckpt", exampleTensors); !errors.Is(err, ErrRejected) {
		t.Fatalf("expected ErrRejected, got %v", err)
	}
	if _, err := mem.Read("ckpt", "a"); err != nil {
		t.Fatalf("committed tensors should remain stored: %v", err)
	}

	h := newHarness(t, mem)
	retry := []shm.Tensor{{Name: "a", DType: shm.F32, Data: []byte{7, 7, 7, 7}}}
	if _, err := producer.NewProducer(h.region, h.client).Handoff(ctx, "ckpt", retry); err != nil {
		t.Fatalf("retry Handoff() failed: %v", err)
	}

	got, err := mem.Read("ckpt", "a")
	if err != nil || !bytes.Equal(got.Data, []byte{7, 7, 7, 7}) {
		t.Fatalf("retry did not replace tensor a: %+v %v", got, err)
	}
	if _, err := mem.Read("ckpt", "b"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("retry left stale tensor b: %v", err)
	}
	c, err := h.ledger.Get(ctx, "ckpt")
	if err != nil || c.NumTensors != 1 {
		t.Fatalf("ledger after retry: %+v %v", c, err)
	}
}

func TestClient_TransportError(t *testing.T) {
	lis := bufconn.Listen(1024)
	lis.Close()

	c, err := NewClient("passthrough:///bufnet", grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	}))
	if err != nil {
		t.Fatalf("NewClient() failed: %v", err)
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if _, err := c.SaveCheckpoint(ctx, "ckpt", "/nowhere", 1); !errors.Is(err, ErrTransport) {
		t.Fatalf("expected ErrTransport, got %v", err)
	}
}
