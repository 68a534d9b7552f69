package listing

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/edsrzf/mmap-go"
	"github.com/klauspost/compress/zstd"

	"web/estatemap/cluster"
)

// Format is a listing file encoding, chosen by extension.
type Format int

const (
	FormatGeoJSON Format = iota
	FormatSnapshot
)

// DetectFormat understands .geojson, .json and .pts, each optionally
// followed by .zst.
func DetectFormat(path string) (format Format, compressed bool, err error) {
	name := strings.ToLower(filepath.Base(path))
	if strings.HasSuffix(name, ".zst") {
		compressed = true
		name = strings.TrimSuffix(name, ".zst")
	}
	switch filepath.Ext(name) {
	case ".geojson", ".json":
		return FormatGeoJSON, compressed, nil
	case ".pts":
		return FormatSnapshot, compressed, nil
	}
	return 0, false, fmt.Errorf("listing: unknown file type %q", filepath.Base(path))
}

// mapFile maps path read-only and hands the bytes to fn. The mapping is
// released when fn returns, so fn must copy anything it keeps.
func mapFile(path string, fn func([]byte) error) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("listing: open %s: %w", path, err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return fmt.Errorf("listing: stat %s: %w", path, err)
	}
	if info.Size() == 0 {
		return fn(nil)
	}

	data, err := mmap.Map(file, mmap.RDONLY, 0)
	if err != nil {
		return fmt.Errorf("listing: mmap %s: %w", path, err)
	}
	defer data.Unmap()
	return fn(data)
}

// LoadFile reads a listing file in any supported format.
func LoadFile(path string) ([]cluster.Point, error) {
	format, compressed, err := DetectFormat(path)
	if err != nil {
		return nil, err
	}

	var points []cluster.Point
	err = mapFile(path, func(data []byte) error {
		if compressed {
			dec, err := zstd.NewReader(nil)
			if err != nil {
				return fmt.Errorf("listing: zstd reader: %w", err)
			}
			defer dec.Close()
			if data, err = dec.DecodeAll(data, nil); err != nil {
				return fmt.Errorf("listing: decompress %s: %w", path, err)
			}
		}
		var derr error
		switch format {
		case FormatSnapshot:
			points, derr = DecodeSnapshot(data)
		default:
			points, derr = DecodeGeoJSON(data)
		}
		return derr
	})
	if err != nil {
		return nil, err
	}
	return points, nil
}

// SaveFile writes points in the format implied by path.
func SaveFile(path string, points []cluster.Point) error {
	format, compressed, err := DetectFormat(path)
	if err != nil {
		return err
	}
	switch {
	case format == FormatSnapshot && compressed:
		return SaveSnapshotCompressed(path, points)
	case format == FormatSnapshot:
		return SaveSnapshotMMap(path, points)
	}

	data, err := ToFeatures(points).MarshalJSON()
	if err != nil {
		return fmt.Errorf("listing: encode geojson: %w", err)
	}
	if compressed {
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return fmt.Errorf("listing: zstd writer: %w", err)
		}
		data = enc.EncodeAll(data, nil)
		enc.Close()
	}
	return os.WriteFile(path, data, 0644)
}
