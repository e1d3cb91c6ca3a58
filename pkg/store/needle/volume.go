// Package needle is an append-only durable store: tensor payloads are
// needles in a data file, located through an index file replayed on open.
package needle

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
	"github.com/rxanders35/fluxstate/pkg/shm"
	"github.com/rxanders35/fluxstate/pkg/store"
)

var rwrwrw int = 0666

type Option func(*Volume) error

// WithCompression zstd-compresses needle payloads at the given level.
func WithCompression(level zstd.EncoderLevel) Option {
	return func(v *Volume) error {
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(level))
		if err != nil {
			return fmt.Errorf("failed to create compressor: %w", err)
		}
		v.enc = enc
		return nil
	}
}

type Volume struct {
	volumeID [16]byte
	idxFile  *os.File
	dataFile *os.File
	end      int64

	idxMap       map[string]IndexEntry
	byCheckpoint map[string]map[string]struct{}

	enc *zstd.Encoder
	dec *zstd.Decoder

	rw sync.RWMutex
}

var _ store.Store = (*Volume)(nil)

func NewVolume(path string, volumeID [16]byte, opts ...Option) (*Volume, error) {
	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, fmt.Errorf("could not create data directory: %w", err)
	}

	fileName := fmt.Sprintf("%s%x", VolumeFilePrefix, volumeID)
	idxFilePath := filepath.Join(path, fileName+IdxFileExtension)
	dataFilePath := filepath.Join(path, fileName+DataFileExtension)

	idxFile, err := os.OpenFile(idxFilePath, os.O_CREATE|os.O_RDWR|os.O_APPEND, os.FileMode(rwrwrw))
	if err != nil {
		return nil, fmt.Errorf("failed to open index file: %w", err)
	}

	dataFile, err := os.OpenFile(dataFilePath, os.O_CREATE|os.O_RDWR, os.FileMode(rwrwrw))
	if err != nil {
		idxFile.Close()
		return nil, fmt.Errorf("failed to open data file: %w", err)
	}

	v := &Volume{
		volumeID:     volumeID,
		idxFile:      idxFile,
		dataFile:     dataFile,
		byCheckpoint: make(map[string]map[string]struct{}),
	}

	for _, opt := range opts {
		if err := opt(v); err != nil {
			v.Close()
			return nil, err
		}
	}

	// Always able to read compressed needles, even when writing raw ones.
	if v.dec, err = zstd.NewReader(nil); err != nil {
		v.Close()
		return nil, fmt.Errorf("failed to create decompressor: %w", err)
	}

	if v.idxMap, err = loadIndex(idxFile); err != nil {
		v.Close()
		return nil, err
	}
	for key := range v.idxMap {
		v.track(key)
	}

	info, err := dataFile.Stat()
	if err != nil {
		v.Close()
		return nil, err
	}
	v.end = info.Size()

	return v, nil
}

func indexKey(checkpointID, name string) string {
	return checkpointID + "/" + name
}

func (v *Volume) track(key string) {
	id, name, _ := strings.Cut(key, "/")
	names, ok := v.byCheckpoint[id]
	if !ok {
		names = make(map[string]struct{})
		v.byCheckpoint[id] = names
	}
	names[name] = struct{}{}
}

func (v *Volume) untrack(key string) {
	id, name, _ := strings.Cut(key, "/")
	delete(v.byCheckpoint[id], name)
	if len(v.byCheckpoint[id]) == 0 {
		delete(v.byCheckpoint, id)
	}
}

// Begin takes the volume's write lock until the batch commits or aborts.
func (v *Volume) Begin(checkpointID string) (store.Batch, error) {
	if checkpointID == "" || strings.Contains(checkpointID, "/") {
		return nil, fmt.Errorf("invalid checkpoint id %q", checkpointID)
	}
	if len(indexKey(checkpointID, "")) > math.MaxUint16 {
		return nil, fmt.Errorf("checkpoint id too long for the index: %d bytes", len(checkpointID))
	}

	v.rw.Lock()
	return &batch{v: v, id: checkpointID, start: v.end}, nil
}

func (v *Volume) Read(checkpointID, name string) (shm.Tensor, error) {
	v.rw.RLock()
	defer v.rw.RUnlock()

	entry, ok := v.idxMap[indexKey(checkpointID, name)]
	if !ok {
		return shm.Tensor{}, store.ErrNotFound
	}

	needleBuf := make([]byte, NeedleFixedPortion+int(entry.Size))
	if _, err := v.dataFile.ReadAt(needleBuf, int64(entry.Offset)); err != nil {
		return shm.Tensor{}, fmt.Errorf("couldnt read needle: %w", err)
	}

	if binary.BigEndian.Uint16(needleBuf[0:2]) != NeedleMagicVal {
		return shm.Tensor{}, errors.New("CORRUPTED: even the magic number aint right")
	}
	if [16]byte(needleBuf[2:18]) != entry.ID {
		return shm.Tensor{}, errors.New("CORRUPTED: needle id does not match index")
	}

	dtype, flags := needleBuf[18], needleBuf[19]
	size := binary.BigEndian.Uint32(needleBuf[20:24])
	if size != entry.Size {
		return shm.Tensor{}, errors.New("CORRUPTED: needle size does not match index")
	}

	data := needleBuf[NeedleDataOffset : NeedleDataOffset+size]
	onDiskChecksum := binary.BigEndian.Uint32(needleBuf[NeedleDataOffset+size:])
	if onDiskChecksum != crc32.ChecksumIEEE(data) {
		return shm.Tensor{}, errors.New("CORRUPTED: checksums are totally different")
	}

	if flags&FlagZstd != 0 {
		raw, err := v.dec.DecodeAll(data, nil)
		if err != nil {
			return shm.Tensor{}, fmt.Errorf("CORRUPTED: couldnt decompress needle: %w", err)
		}
		data = raw
	}

	return shm.Tensor{Name: name, DType: shm.DType(dtype), Data: data}, nil
}

func (v *Volume) Close() error {
	var err1, err2 error

	if v.enc != nil {
		v.enc.Close()
	}
	if v.dec != nil {
		v.dec.Close()
	}

	if v.dataFile != nil {
		err1 = v.dataFile.Close()
	}

	if v.idxFile != nil {
		err2 = v.idxFile.Close()
	}

	if err1 != nil {
		return err1
	}

	return err2
}

type pending struct {
	key   string
	entry IndexEntry
}

type batch struct {
	v       *Volume
	id      string
	start   int64
	pending []pending
	done    bool
}

func (b *batch) Put(t shm.Tensor) error {
	if b.done {
		return store.ErrClosed
	}
	v := b.v

	key := indexKey(b.id, t.Name)
	if len(key) > math.MaxUint16 {
		return fmt.Errorf("index key for tensor in %q too long: %d bytes", b.id, len(key))
	}

	data, flags := t.Data, byte(0)
	if v.enc != nil {
		data, flags = v.enc.EncodeAll(t.Data, nil), FlagZstd
	}
	if uint64(len(data)) > math.MaxUint32 {
		return fmt.Errorf("tensor %q too large for a needle: %d bytes", t.Name, len(data))
	}

	needleId := uuid.New()
	checksum := crc32.ChecksumIEEE(data)

	newNeedleBuffer := make([]byte, NeedleFixedPortion+len(data))
	binary.BigEndian.PutUint16(newNeedleBuffer[0:2], NeedleMagicVal)
	copy(newNeedleBuffer[2:18], needleId[:])
	newNeedleBuffer[18] = byte(t.DType)
	newNeedleBuffer[19] = flags
	binary.BigEndian.PutUint32(newNeedleBuffer[20:24], uint32(len(data)))
	copy(newNeedleBuffer[NeedleDataOffset:], data)
	binary.BigEndian.PutUint32(newNeedleBuffer[NeedleDataOffset+len(data):], checksum)

	if _, err := v.dataFile.WriteAt(newNeedleBuffer, v.end); err != nil {
		return err
	}

	b.pending = append(b.pending, pending{
		key:   key,
		entry: IndexEntry{ID: needleId, Offset: uint64(v.end), Size: uint32(len(data))},
	})
	v.end += int64(len(newNeedleBuffer))
	return nil
}

// Commit makes the needles durable, then appends their index records along
// with tombstones for tensors the earlier checkpoint of this id had.
func (b *batch) Commit() error {
	if b.done {
		return store.ErrClosed
	}
	b.done = true
	v := b.v
	defer v.rw.Unlock()

	if err := v.dataFile.Sync(); err != nil {
		v.rollback(b.start)
		return fmt.Errorf("failed to sync data file: %w", err)
	}

	written := make(map[string]struct{}, len(b.pending))
	var idxBuf []byte
	for _, p := range b.pending {
		written[p.key] = struct{}{}
		idxBuf = appendIndexRecord(idxBuf, p.key, p.entry)
	}
	for name := range v.byCheckpoint[b.id] {
		key := indexKey(b.id, name)
		if _, ok := written[key]; !ok {
			idxBuf = appendIndexRecord(idxBuf, key, IndexEntry{Offset: TombstoneOffset})
		}
	}

	if _, err := v.idxFile.Write(idxBuf); err != nil {
		v.rollback(b.start)
		return fmt.Errorf("failed to append index: %w", err)
	}
	if err := v.idxFile.Sync(); err != nil {
		return fmt.Errorf("failed to sync index file: %w", err)
	}

	for name := range v.byCheckpoint[b.id] {
		key := indexKey(b.id, name)
		if _, ok := written[key]; !ok {
			delete(v.idxMap, key)
			v.untrack(key)
		}
	}
	for _, p := range b.pending {
		v.idxMap[p.key] = p.entry
		v.track(p.key)
	}
	return nil
}

func (b *batch) Abort() error {
	if b.done {
		return store.ErrClosed
	}
	b.done = true
	defer b.v.rw.Unlock()

	return b.v.rollback(b.start)
}

func (v *Volume) rollback(start int64) error {
	v.end = start
	return v.dataFile.Truncate(start)
}

func appendIndexRecord(buf []byte, key string, e IndexEntry) []byte {
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(key)))
	buf = append(buf, key...)
	buf = append(buf, e.ID[:]...)
	buf = binary.BigEndian.AppendUint64(buf, e.Offset)
	buf = binary.BigEndian.AppendUint32(buf, e.Size)
	return buf
}

func loadIndex(file *os.File) (map[string]IndexEntry, error) {
	idxMap := make(map[string]IndexEntry)

	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}

	var keyLen [IdxKeyLen]byte
	for {
		_, err := io.ReadFull(file, keyLen[:])
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("index file corrupted: %w", err)
		}

		rec := make([]byte, int(binary.BigEndian.Uint16(keyLen[:]))+IdxFixedSize-IdxKeyLen)
		if _, err := io.ReadFull(file, rec); err != nil {
			return nil, fmt.Errorf("index file corrupted: truncated record: %w", err)
		}

		key, entry := decodeEntry(rec)
		if entry.Offset == TombstoneOffset {
			delete(idxMap, key)
			continue
		}
		idxMap[key] = entry
	}
	return idxMap, nil
}

// decodeEntry parses a record with its KEYLEN prefix already consumed.
func decodeEntry(rec []byte) (string, IndexEntry) {
	keyEnd := len(rec) - (IdxNeedleID + IdxOffset + IdxSize)
	key := string(rec[:keyEnd])

	var entry IndexEntry
	copy(entry.ID[:], rec[keyEnd:keyEnd+IdxNeedleID])
	entry.Offset = binary.BigEndian.Uint64(rec[keyEnd+IdxNeedleID:])
	entry.Size = binary.BigEndian.Uint32(rec[keyEnd+IdxNeedleID+IdxOffset:])

	return key, entry
}
