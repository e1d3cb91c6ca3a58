package main

import (
	"context"
	"encoding/binary"
	"flag"
	"log"
	"math"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/rxanders35/fluxstate/pkg/config"
	"github.com/rxanders35/fluxstate/pkg/control"
	"github.com/rxanders35/fluxstate/pkg/producer"
	"github.com/rxanders35/fluxstate/pkg/shm"
)

// Publishes a small random model and asks the consumer to checkpoint it.
func main() {
	cfg := config.Default()
	cfg.RegisterSharedFlags(flag.CommandLine)
	reqID := flag.String("req-id", "", "checkpoint id (default: random uuid)")
	timeout := flag.Duration("timeout", 30*time.Second, "control plane call timeout")
	flag.Parse()

	if err := cfg.ValidateShared(); err != nil {
		log.Fatalf("Invalid configuration. Why: %v", err)
	}

	if *reqID == "" {
		*reqID = uuid.NewString()
	}

	region, err := shm.OpenOrCreate(cfg.RegionPath, cfg.RegionCapacity)
	if err != nil {
		log.Fatalf("Couldn't open region %s. Why: %v", cfg.RegionPath, err)
	}
	defer region.Close()

	c, err := control.NewClient(cfg.ConsumerAddr)
	if err != nil {
		log.Fatalf("Couldn't init control client. Why: %v", err)
	}
	defer c.Close()

	tensors := []shm.Tensor{
		{Name: "layer1.weight", DType: shm.F32, Data: randomF32(1024 * 1024)},
		{Name: "layer2.bias", DType: shm.F32, Data: randomF32(1024)},
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	p := producer.NewProducer(region, c)
	written, err := p.Handoff(ctx, *reqID, tensors)
	if err != nil {
		log.Fatalf("Handoff %s failed. Why: %v", *reqID, err)
	}
	log.Printf("Checkpoint %s durable: %d bytes written", *reqID, written)
}

func randomF32(n int) []byte {
	buf := make([]byte, 4*n)
	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(float32(rand.NormFloat64())))
	}
	return buf
}
