package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
	"github.com/rxanders35/fluxstate/pkg/config"
	"github.com/rxanders35/fluxstate/pkg/control"
	"github.com/rxanders35/fluxstate/pkg/gateway"
	"github.com/rxanders35/fluxstate/pkg/ledger"
	"github.com/rxanders35/fluxstate/pkg/store"
	"github.com/rxanders35/fluxstate/pkg/store/lsm"
	"github.com/rxanders35/fluxstate/pkg/store/needle"
)

func main() {
	cfg := config.Default()
	cfg.RegisterFlags(flag.CommandLine)
	flag.Parse()

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration. Why: %v", err)
	}

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		log.Fatalf("Couldn't create data dir. Why: %v", err)
	}

	s, err := openStore(cfg)
	if err != nil {
		log.Fatalf("Couldn't init durable store. Why: %v", err)
	}
	defer s.Close()

	ls, err := ledger.NewStore(cfg.Ledger())
	if err != nil {
		log.Fatalf("Couldn't init ledger. Why: %v", err)
	}
	defer ls.Close()
	l := ledger.NewLedger(ls)

	g := control.NewGRPCServer(cfg.ConsumerAddr, s,
		control.WithLedger(l),
		control.WithReadyWait(cfg.ReadyTimeout, cfg.PollInterval),
	)

	go func() {
		log.Printf("Serving FluxControl on %s (%s store)", cfg.ConsumerAddr, cfg.Store)
		if err := g.Run(); err != nil {
			log.Fatalf("grpc server run error. Why: %v", err)
		}
	}()

	var gw *gateway.GatewayServer
	if cfg.HTTPAddr != "" {
		gw = gateway.NewGatewayServer(cfg.HTTPAddr, gateway.NewCheckpointHandler(l, s))
		go func() {
			if err := gw.Run(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("http server run error. Why: %v", err)
			}
		}()
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shut down")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if gw != nil {
		if err := gw.Shutdown(ctx); err != nil {
			log.Printf("graceful http shutdown failed. Why: %v", err)
		}
	}
	g.Shutdown()
}

func openStore(cfg config.Config) (store.Store, error) {
	switch cfg.Store {
	case config.StorePebble:
		l, err := lsm.NewLSM(filepath.Join(cfg.DataDir, "pebble"))
		if err != nil {
			return nil, err
		}
		return l, nil
	case config.StoreNeedle:
		id, err := getOrCreateVolumeID(cfg.DataDir)
		if err != nil {
			return nil, err
		}
		var opts []needle.Option
		if cfg.Compress {
			opts = append(opts, needle.WithCompression(zstd.SpeedDefault))
		}
		v, err := needle.NewVolume(cfg.DataDir, id, opts...)
		if err != nil {
			return nil, err
		}
		return v, nil
	case config.StoreMemory:
		return store.NewMemory(), nil
	}
	return nil, fmt.Errorf("unknown store %q", cfg.Store)
}

func getOrCreateVolumeID(dataDir string) (uuid.UUID, error) {
	volumeIdPath := filepath.Join(dataDir, "volume.id")

	// Check if the path exists and is a directory
	if info, err := os.Stat(volumeIdPath); err == nil && info.IsDir() {
		return uuid.Nil, fmt.Errorf("volume.id path %s is a directory, expected a file", volumeIdPath)
	}

	idData, err := os.ReadFile(volumeIdPath)
	if err == nil {
		volumeId, err := uuid.FromBytes(idData)
		if err != nil {
			return uuid.Nil, fmt.Errorf("failed parsing volume id from %s: %v", volumeIdPath, err)
		}
		return volumeId, nil
	}

	if os.IsNotExist(err) {
		volumeId := uuid.New()
		if err := os.WriteFile(volumeIdPath, volumeId[:], 0644); err != nil {
			return uuid.Nil, fmt.Errorf("failed to write new volume.id file %s: %v", volumeIdPath, err)
		}
		return volumeId, nil
	}

	return uuid.Nil, fmt.Errorf("failed reading volume.id file %s: %v", volumeIdPath, err)
}
