package listing

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"

	"github.com/edsrzf/mmap-go"
	"github.com/klauspost/compress/zstd"

	"web/estatemap/cluster"
)

// Snapshot layout, little endian:
//
//	magic [4]byte "EMPT", version uint32, count uint32
//	per point: idLen uint32, id, lng float64, lat float64, price float64,
//	           categoryLen uint32, category
const snapshotVersion = 1

var snapshotMagic = [4]byte{'E', 'M', 'P', 'T'}

var ErrBadSnapshot = errors.New("listing: malformed snapshot")

type snapshotWriter struct {
	data   []byte
	offset int
}

func (w *snapshotWriter) WriteUint32(v uint32) {
	binary.LittleEndian.PutUint32(w.data[w.offset:], v)
	w.offset += 4
}

func (w *snapshotWriter) WriteFloat64(v float64) {
	binary.LittleEndian.PutUint64(w.data[w.offset:], math.Float64bits(v))
	w.offset += 8
}

func (w *snapshotWriter) WriteString(s string) {
	w.WriteUint32(uint32(len(s)))
	copy(w.data[w.offset:], s)
	w.offset += len(s)
}

// snapshotReader never reads past the end of data; the first short read
// sets err and every later read returns zero values.
type snapshotReader struct {
	data   []byte
	offset int
	err    error
}

func (r *snapshotReader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || r.offset+n > len(r.data) {
		r.err = ErrBadSnapshot
		return nil
	}
	b := r.data[r.offset : r.offset+n]
	r.offset += n
	return b
}

func (r *snapshotReader) ReadUint32() uint32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func (r *snapshotReader) ReadFloat64() float64 {
	b := r.take(8)
	if b == nil {
		return 0
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(b))
}

// ReadString copies, so the result outlives an unmapped buffer.
func (r *snapshotReader) ReadString() string {
	n := r.ReadUint32()
	return string(r.take(int(n)))
}

func snapshotSize(points []cluster.Point) int {
	size := 12
	for _, p := range points {
		size += 4 + len(p.ID) + 24 + 4 + len(p.Category)
	}
	return size
}

func writeSnapshot(w *snapshotWriter, points []cluster.Point) {
	copy(w.data[w.offset:], snapshotMagic[:])
	w.offset += 4
	w.WriteUint32(snapshotVersion)
	w.WriteUint32(uint32(len(points)))
	for _, p := range points {
		w.WriteString(p.ID)
		w.WriteFloat64(p.Lng)
		w.WriteFloat64(p.Lat)
		w.WriteFloat64(p.Price)
		w.WriteString(p.Category)
	}
}

// EncodeSnapshot returns the uncompressed snapshot bytes.
func EncodeSnapshot(points []cluster.Point) []byte {
	w := &snapshotWriter{data: make([]byte, snapshotSize(points))}
	writeSnapshot(w, points)
	return w.data
}

func DecodeSnapshot(data []byte) ([]cluster.Point, error) {
	r := &snapshotReader{data: data}
	magic := r.take(4)
	if magic == nil || [4]byte{magic[0], magic[1], magic[2], magic[3]} != snapshotMagic {
		return nil, ErrBadSnapshot
	}
	if v := r.ReadUint32(); v != snapshotVersion {
		return nil, fmt.Errorf("listing: unsupported snapshot version %d", v)
	}
	n := r.ReadUint32()
	// every point needs at least 32 bytes
	if r.err != nil || int(n) > (len(data)-r.offset)/32 {
		return nil, ErrBadSnapshot
	}
	points := make([]cluster.Point, n)
	for i := range points {
		points[i] = cluster.Point{
			ID:       r.ReadString(),
			Lng:      r.ReadFloat64(),
			Lat:      r.ReadFloat64(),
			Price:    r.ReadFloat64(),
			Category: r.ReadString(),
		}
	}
	if r.err != nil {
		return nil, r.err
	}
	return points, nil
}

// SaveSnapshotMMap writes an uncompressed snapshot through a writable
// memory mapping of the file.
func SaveSnapshotMMap(filename string, points []cluster.Point) error {
	size := snapshotSize(points)

	file, err := os.OpenFile(filename, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("listing: create %s: %w", filename, err)
	}
	defer file.Close()

	if err := file.Truncate(int64(size)); err != nil {
		return fmt.Errorf("listing: truncate %s: %w", filename, err)
	}
	data, err := mmap.Map(file, mmap.RDWR, 0)
	if err != nil {
		return fmt.Errorf("listing: mmap %s: %w", filename, err)
	}
	defer data.Unmap()

	writeSnapshot(&snapshotWriter{data: data}, points)
	return data.Flush()
}

// SaveSnapshotCompressed writes a zstd-compressed snapshot.
func SaveSnapshotCompressed(filename string, points []cluster.Point) error {
	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("listing: create %s: %w", filename, err)
	}
	defer file.Close()

	bufWriter := bufio.NewWriterSize(file, 1024*1024)
	enc, err := zstd.NewWriter(bufWriter, zstd.WithEncoderLevel(zstd.SpeedBestCompression))
	if err != nil {
		return fmt.Errorf("listing: zstd writer: %w", err)
	}
	if _, err := enc.Write(EncodeSnapshot(points)); err != nil {
		enc.Close()
		return fmt.Errorf("listing: compress: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("listing: close encoder: %w", err)
	}
	if err := bufWriter.Flush(); err != nil {
		return fmt.Errorf("listing: flush: %w", err)
	}
	return nil
}
