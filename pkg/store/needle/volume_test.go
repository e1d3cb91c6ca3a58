package needle

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
	"github.com/rxanders35/fluxstate/pkg/shm"
	"github.com/rxanders35/fluxstate/pkg/store"
)

func commit(t *testing.T, v *Volume, id string, tensors ...shm.Tensor) {
	t.Helper()
	b, err := v.Begin(id)
	if err != nil {
		t.Fatalf("Begin() failed: %v", err)
	}
	for _, tensor := range tensors {
		if err := b.Put(tensor); err != nil {
			t.Fatalf("Put() failed: %v", err)
		}
	}
	if err := b.Commit(); err != nil {
		t.Fatalf("Commit() failed: %v", err)
	}
}

func TestVolume_WriteReadReload(t *testing.T) {
	tempDir := t.TempDir()
	volumeID := uuid.New()
	v, err := NewVolume(tempDir, volumeID)
	if err != nil {
		t.Fatalf("Failed to create new volume: %v", err)
	}

	testData := []byte("hello, world")
	commit(t, v, "ckpt_alpha", shm.Tensor{Name: "layer1.weight", DType: shm.F32, Data: testData})

	retrieved, err := v.Read("ckpt_alpha", "layer1.weight")
	if err != nil {
		t.Fatalf("Read() failed: %v", err)
	}
	if !bytes.Equal(testData, retrieved.Data) || retrieved.DType != shm.F32 {
		t.Fatalf("data mismatch: expected %s, got %s", testData, retrieved.Data)
	}

	if err := v.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}

	reloadedVolume, err := NewVolume(tempDir, volumeID)
	if err != nil {
		t.Fatalf("Failed to reload volume from disk: %v", err)
	}
	defer reloadedVolume.Close()

	reloaded, err := reloadedVolume.Read("ckpt_alpha", "layer1.weight")
	if err != nil {
		t.Fatalf("Read() from reloaded volume failed: %v", err)
	}
	if !bytes.Equal(testData, reloaded.Data) {
		t.Fatalf("data mismatch after reload: expected %s, got %s", testData, reloaded.Data)
	}
}

func TestVolume_Compression(t *testing.T) {
	tempDir := t.TempDir()
	volumeID := uuid.New()
	v, err := NewVolume(tempDir, volumeID, WithCompression(zstd.SpeedFastest))
	if err != nil {
		t.Fatalf("Failed to create new volume: %v", err)
	}

	payload := bytes.Repeat([]byte{0, 0, 128, 63}, 4096)
	commit(t, v, "ckpt", shm.Tensor{Name: "ones", DType: shm.F32, Data: payload})
	v.Close()

	info, err := os.Stat(filepath.Join(tempDir, fmt.Sprintf("%s%x%s", VolumeFilePrefix, volumeID, DataFileExtension)))
	if err != nil {
		t.Fatal(err)
	}
	if info.Size() >= int64(len(payload)) {
		t.Fatalf("data file is %d bytes, payload %d: not compressed", info.Size(), len(payload))
	}

	// A volume opened without compression still reads compressed needles.
	plain, err := NewVolume(tempDir, volumeID)
	if err != nil {
		t.Fatalf("Failed to reload volume: %v", err)
	}
	defer plain.Close()

	got, err := plain.Read("ckpt", "ones")
	if err != nil {
		t.Fatalf("Read() failed: %v", err)
	}
	if !bytes.Equal(got.Data, payload) {
		t.Fatal("decompressed payload mismatch")
	}
}

func TestVolume_AbortTruncates(t *testing.T) {
	tempDir := t.TempDir()
	v, err := NewVolume(tempDir, uuid.New())
	if err != nil {
		t.Fatalf("Failed to create new volume: %v", err)
	}
	defer v.Close()

	commit(t, v, "kept", shm.Tensor{Name: "w", Data: []byte{1, 2}})
	before := v.end

	b, err := v.Begin("dropped")
	if err != nil {
		t.Fatalf("Begin() failed: %v", err)
	}
	b.Put(shm.Tensor{Name: "w", Data: make([]byte, 1024)})
	if err := b.Abort(); err != nil {
		t.Fatalf("Abort() failed: %v", err)
	}
	if err := b.Put(shm.Tensor{Name: "late"}); !errors.Is(err, store.ErrClosed) {
		t.Fatalf("expected ErrClosed after abort, got %v", err)
	}

	info, err := v.dataFile.Stat()
	if err != nil {
		t.Fatal(err)
	}
	if info.Size() != before {
		t.Fatalf("data file is %d bytes after abort, expected %d", info.Size(), before)
	}
	if _, err := v.Read("dropped", "w"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := v.Read("kept", "w"); err != nil {
		t.Fatalf("committed tensor unreadable after abort: %v", err)
	}
}

func TestVolume_RewriteTombstonesSurviveReload(t *testing.T) {
	tempDir := t.TempDir()
	volumeID := uuid.New()
	v, err := NewVolume(tempDir, volumeID)
	if err != nil {
		t.Fatalf("Failed to create new volume: %v", err)
	}

	commit(t, v, "ckpt", shm.Tensor{Name: "old", Data: []byte("old")}, shm.Tensor{Name: "kept", Data: []byte("v1")})
	commit(t, v, "ckpt", shm.Tensor{Name: "kept", Data: []byte("v2")})
	v.Close()

	reloaded, err := NewVolume(tempDir, volumeID)
	if err != nil {
		t.Fatalf("Failed to reload volume: %v", err)
	}
	defer reloaded.Close()

	if _, err := reloaded.Read("ckpt", "old"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected tombstoned tensor to be gone, got %v", err)
	}
	got, err := reloaded.Read("ckpt", "kept")
	if err != nil || string(got.Data) != "v2" {
		t.Fatalf("expected v2, got %q (%v)", got.Data, err)
	}
}

func TestVolume_DetectsCorruption(t *testing.T) {
	tempDir := t.TempDir()
	v, err := NewVolume(tempDir, uuid.New())
	if err != nil {
		t.Fatalf("Failed to create new volume: %v", err)
	}
	defer v.Close()

	commit(t, v, "ckpt", shm.Tensor{Name: "w", Data: []byte("payload")})

	if _, err := v.dataFile.WriteAt([]byte{'X'}, NeedleDataOffset); err != nil {
		t.Fatal(err)
	}
	if _, err := v.Read("ckpt", "w"); err == nil {
		t.Fatal("expected checksum failure")
	}
}

func TestVolume_RejectsOversizedIndexKeys(t *testing.T) {
	tempDir := t.TempDir()
	volumeID := uuid.New()
	v, err := NewVolume(tempDir, volumeID)
	if err != nil {
		t.Fatalf("Failed to create new volume: %v", err)
	}

	if _, err := v.Begin(strings.Repeat("r", 70000)); err == nil {
		t.Fatal("expected Begin to reject an id that overflows the index key")
	}

	b, err := v.Begin("ckpt")
	if err != nil {
		t.Fatalf("Begin() failed: %v", err)
	}
	if err := b.Put(shm.Tensor{Name: strings.Repeat("n", 70000), Data: []byte{1}}); err == nil {
		t.Fatal("expected Put to reject a name that overflows the index key")
	}
	if err := b.Abort(); err != nil {
		t.Fatalf("Abort() failed: %v", err)
	}
	commit(t, v, "ckpt", shm.Tensor{Name: "w", Data: []byte{2}})
	if err := v.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}

	reloaded, err := NewVolume(tempDir, volumeID)
	if err != nil {
		t.Fatalf("Failed to reload volume: %v", err)
	}
	defer reloaded.Close()
	if got, err := reloaded.Read("ckpt", "w"); err != nil || !bytes.Equal(got.Data, []byte{2}) {
		t.Fatalf("Read() after reload: %+v %v", got, err)
	}
}
