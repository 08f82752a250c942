package engine

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"sort"

	"github.com/hupe1980/embeddb/blobstore"
	"github.com/hupe1980/embeddb/codec"
	"github.com/hupe1980/embeddb/distance"
)

// Snapshot format:
//
//	magic       [4]byte "EDB1"
//	version     uint8
//	compression uint8
//	codec name  uint8 length + bytes
//	body length uint64 LE
//	body crc    uint32 LE (CRC32-Castagnoli over the stored body)
//	body        compressed block holding the codec-encoded document
//
// The codec name in the header makes the format self-describing; readers
// select the codec by name.
var snapshotMagic = [4]byte{'E', 'D', 'B', '1'}

const snapshotVersion = 1

// castagnoli matches the polynomial used by persisted checksums everywhere
// in this module.
var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// ErrSnapshotCorrupted is returned when a snapshot fails validation.
var ErrSnapshotCorrupted = errors.New("engine: snapshot corrupted")

// SnapshotOptions configure snapshot encoding.
type SnapshotOptions struct {
	// Codec encodes the snapshot document. Defaults to codec.Default.
	Codec codec.Codec

	// Compression for the snapshot body. Defaults to zstd.
	Compression CompressionType
}

type snapshotDoc struct {
	Dimension int      `json:"dimension"`
	Metric    string   `json:"metric"`
	Records   []Record `json:"records"`
}

// SaveSnapshot writes the collection's records to the blob store. The index
// itself is not persisted; LoadSnapshot rebuilds it from the records.
func (c *Collection) SaveSnapshot(ctx context.Context, bs blobstore.BlobStore, key string, optFns ...func(o *SnapshotOptions)) error {
	opts := SnapshotOptions{
		Codec:       codec.Default,
		Compression: CompressionZSTD,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	c.mu.RLock()
	recs, err := c.store.ToMap(ctx)
	dim := c.idx.Dimension()
	metric := c.idx.Metric()
	c.mu.RUnlock()

	if err != nil {
		return err
	}

	doc := snapshotDoc{
		Dimension: dim,
		Metric:    metric.String(),
		Records:   make([]Record, 0, len(recs)),
	}
	for _, rec := range recs {
		doc.Records = append(doc.Records, rec)
	}
	sort.Slice(doc.Records, func(i, j int) bool { return doc.Records[i].ID < doc.Records[j].ID })

	encoded, err := opts.Codec.Marshal(doc)
	if err != nil {
		return err
	}

	body, err := compressBlock(encoded, opts.Compression)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	buf.Write(snapshotMagic[:])
	buf.WriteByte(snapshotVersion)
	buf.WriteByte(byte(opts.Compression))

	name := opts.Codec.Name()
	if len(name) > 255 {
		return fmt.Errorf("engine: codec name too long: %s", name)
	}
	buf.WriteByte(byte(len(name)))
	buf.WriteString(name)

	var lenBuf [8]byte
	binary.LittleEndian.PutUint64(lenBuf[:], uint64(len(body)))
	buf.Write(lenBuf[:])

	var crcBuf [4]byte
	binary.LittleEndian.PutUint32(crcBuf[:], crc32.Checksum(body, castagnoli))
	buf.Write(crcBuf[:])

	buf.Write(body)

	return bs.Put(ctx, key, &buf)
}

// LoadSnapshot replaces the collection's contents with the snapshot stored
// under key. The snapshot's dimension and metric must match the collection.
func (c *Collection) LoadSnapshot(ctx context.Context, bs blobstore.BlobStore, key string) error {
	r, err := bs.Get(ctx, key)
	if err != nil {
		return err
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}

	doc, err := decodeSnapshot(data)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if doc.Dimension != c.idx.Dimension() {
		return fmt.Errorf("%w: dimension %d does not match collection dimension %d",
			ErrSnapshotCorrupted, doc.Dimension, c.idx.Dimension())
	}

	metric, err := distance.ParseMetric(doc.Metric)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrSnapshotCorrupted, err)
	}
	if metric != c.idx.Metric() {
		return fmt.Errorf("%w: metric %s does not match collection metric %s",
			ErrSnapshotCorrupted, metric, c.idx.Metric())
	}

	if err := c.store.Clear(ctx); err != nil {
		return err
	}

	for _, rec := range doc.Records {
		if err := c.store.Set(ctx, rec.ID, rec); err != nil {
			// Roll the store back to empty so a failed load never leaves
			// half of the snapshot applied. The rollback runs even if ctx
			// caused the failure.
			rctx := context.WithoutCancel(ctx)
			if cerr := c.store.Clear(rctx); cerr != nil {
				c.corrupted.Store(true)

				return fmt.Errorf("engine: load failed (%w) and rollback failed: %w", err, cerr)
			}
			if rerr := c.rebuildLocked(rctx); rerr != nil {
				c.corrupted.Store(true)

				return fmt.Errorf("engine: load failed (%w) and rebuild failed: %w", err, rerr)
			}

			return err
		}
	}

	if err := c.rebuildLocked(ctx); err != nil {
		// The store holds the snapshot but the index is stale; the next
		// operation retries the rebuild.
		c.corrupted.Store(true)

		return err
	}

	return nil
}

func decodeSnapshot(data []byte) (*snapshotDoc, error) {
	// Fixed header before the codec name: magic + version + compression +
	// name length.
	if len(data) < 7 {
		return nil, fmt.Errorf("%w: truncated header", ErrSnapshotCorrupted)
	}

	if !bytes.Equal(data[:4], snapshotMagic[:]) {
		return nil, fmt.Errorf("%w: bad magic", ErrSnapshotCorrupted)
	}

	if data[4] != snapshotVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrSnapshotCorrupted, data[4])
	}

	compression := CompressionType(data[5])
	nameLen := int(data[6])
	offset := 7

	if len(data) < offset+nameLen+12 {
		return nil, fmt.Errorf("%w: truncated header", ErrSnapshotCorrupted)
	}

	codecName := string(data[offset : offset+nameLen])
	offset += nameLen

	cdc, ok := codec.ByName(codecName)
	if !ok {
		return nil, fmt.Errorf("%w: unknown codec %q", ErrSnapshotCorrupted, codecName)
	}

	bodyLen := binary.LittleEndian.Uint64(data[offset:])
	offset += 8

	wantCRC := binary.LittleEndian.Uint32(data[offset:])
	offset += 4

	if uint64(len(data)-offset) < bodyLen {
		return nil, fmt.Errorf("%w: truncated body", ErrSnapshotCorrupted)
	}
	body := data[offset : offset+int(bodyLen)]

	if crc32.Checksum(body, castagnoli) != wantCRC {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrSnapshotCorrupted)
	}

	encoded, err := decompressBlock(body, compression)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrSnapshotCorrupted, err)
	}

	var doc snapshotDoc
	if err := cdc.Unmarshal(encoded, &doc); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrSnapshotCorrupted, err)
	}

	return &doc, nil
}
