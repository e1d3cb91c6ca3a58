// Package producer drives the producer half of a handoff: publish tensors
// into a region, then tell the consumer to capture it.
package producer

import (
	"context"
	"fmt"
	"log"

	"github.com/rxanders35/fluxstate/pkg/shm"
)

// Trigger is the control plane as seen by a producer.
type Trigger interface {
	SaveCheckpoint(ctx context.Context, reqID, regionPath string, expected uint32) (uint64, error)
}

type Producer struct {
	publisher *shm.Publisher
	trigger   Trigger
}

func NewProducer(r *shm.Region, t Trigger) *Producer {
	return &Producer{
		publisher: shm.NewPublisher(r),
		trigger:   t,
	}
}

// Handoff runs one cycle: it rewrites the region with tensors, raises the
// flag and asks the consumer to capture it under reqID. Data plane errors
// abort before any request is sent. It returns the bytes the consumer
// acknowledged as durable.
func (p *Producer) Handoff(ctx context.Context, reqID string, tensors []shm.Tensor) (uint64, error) {
	h, err := p.publisher.Publish(tensors)
	if err != nil {
		return 0, fmt.Errorf("publish %s: %w", reqID, err)
	}

	region := p.publisher.Region()
	log.Printf("Published %d tensors (%d bytes) to %s", h.NumTensors, h.TotalDataSize, region.Path())

	written, err := p.trigger.SaveCheckpoint(ctx, reqID, region.Path(), h.NumTensors)
	if err != nil {
		return 0, fmt.Errorf("save %s: %w", reqID, err)
	}
	return written, nil
}

func (p *Producer) State() shm.State {
	return p.publisher.State()
}
