package shm

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"
)

// State is the producer's view of a region's handoff cycle.
type State int

const (
	StateEmpty State = iota
	StateWriting
	StatePublished
)

func (s State) String() string {
	switch s {
	case StateEmpty:
		return "EMPTY"
	case StateWriting:
		return "WRITING"
	case StatePublished:
		return "PUBLISHED"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Publisher is the single writer of a region. One handoff may be in flight
// per region at a time; callers serialize Publish calls for a given path.
//
// The producer owns the reset: every Publish drops the flag to 0 before its
// first write, and readers never write the region.
type Publisher struct {
	region *Region
	state  State
}

func NewPublisher(r *Region) *Publisher {
	return &Publisher{region: r, state: StateEmpty}
}

func (p *Publisher) Region() *Region { return p.region }

func (p *Publisher) State() State { return p.state }

// Publish rewrites the region from scratch with tensors and raises the
// readiness flag as the final store. On error the flag stays 0.
func (p *Publisher) Publish(tensors []Tensor) (Header, error) {
	if err := p.region.StoreUint32(readyFlagOffset, flagEmpty); err != nil {
		return Header{}, err
	}
	p.state = StateWriting

	h, err := Encode(p.region, tensors)
	if err != nil {
		return Header{}, err
	}

	// Release: entries and heap are ordered before this store for any
	// process that loads the flag atomically.
	if err := p.region.StoreUint32(readyFlagOffset, flagPublished); err != nil {
		return Header{}, err
	}
	p.state = StatePublished
	h.Ready = true

	return h, nil
}

// Reset returns the region to EMPTY.
func (p *Publisher) Reset() error {
	if err := p.region.StoreUint32(readyFlagOffset, flagEmpty); err != nil {
		return err
	}
	fixed, err := p.region.Slice(0, entriesOffset)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(fixed[numTensorsOffset:], 0)
	binary.LittleEndian.PutUint64(fixed[totalDataSizeOffset:], 0)
	p.state = StateEmpty
	return nil
}

// Ready reports whether the region's flag is raised. The load is an acquire:
// when it returns true every write that preceded the flag store is visible.
func Ready(r *Region) (bool, error) {
	flag, err := r.LoadUint32(readyFlagOffset)
	if err != nil {
		return false, err
	}
	return flag == flagPublished, nil
}

// WaitReady polls the flag every interval until it is raised or ctx is done.
func WaitReady(ctx context.Context, r *Region, interval time.Duration) error {
	ready, err := Ready(r)
	if err != nil || ready {
		return err
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", ErrNotReady, ctx.Err())
		case <-ticker.C:
			ready, err := Ready(r)
			if err != nil || ready {
				return err
			}
		}
	}
}

// Snapshot waits for the region to be published and decodes it.
func Snapshot(ctx context.Context, r *Region, interval time.Duration) (Header, []Tensor, error) {
	if err := WaitReady(ctx, r, interval); err != nil {
		return Header{}, nil, err
	}
	return Decode(r)
}
