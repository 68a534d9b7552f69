package listing

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"web/estatemap/cluster"
)

const (
	datasetPrefix = "listings"
	datasetExt    = ".pts.zst"
	timeLayout    = "20060102-150405"
)

// DatasetInfo describes one saved point set.
type DatasetInfo struct {
	ID        string    `json:"id"`
	NumPoints int       `json:"numPoints"`
	Timestamp time.Time `json:"timestamp"`
	FileSize  int64     `json:"fileSize"`
	Path      string    `json:"-"`
}

// DatasetNotFoundError is returned for an unknown dataset id.
type DatasetNotFoundError struct {
	ID string
}

func (e *DatasetNotFoundError) Error() string {
	return fmt.Sprintf("listing: dataset %q not found", e.ID)
}

// Store keeps compressed snapshots in one directory, named
// listings-{n}p-{timestamp}-{id}.pts.zst.
type Store struct {
	dir string
	now func() time.Time
}

func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("listing: create %s: %w", dir, err)
	}
	return &Store{dir: dir, now: time.Now}, nil
}

func (s *Store) Dir() string { return s.dir }

func (s *Store) filename(n int, ts time.Time, id string) string {
	return filepath.Join(s.dir, fmt.Sprintf("%s-%dp-%s-%s%s", datasetPrefix, n, ts.Format(timeLayout), id, datasetExt))
}

// Save writes points as a new dataset.
func (s *Store) Save(points []cluster.Point) (DatasetInfo, error) {
	ts := s.now().UTC()
	id := uuid.New().String()[:8]
	path := s.filename(len(points), ts, id)
	if err := SaveSnapshotCompressed(path, points); err != nil {
		return DatasetInfo{}, err
	}
	info := DatasetInfo{ID: id, NumPoints: len(points), Timestamp: ts.Truncate(time.Second), Path: path}
	if st, err := os.Stat(path); err == nil {
		info.FileSize = st.Size()
	}
	return info, nil
}

// parseDatasetName splits listings-{n}p-{date}-{time}-{id}.pts.zst.
func parseDatasetName(name string) (DatasetInfo, bool) {
	if !strings.HasSuffix(name, datasetExt) {
		return DatasetInfo{}, false
	}
	parts := strings.Split(strings.TrimSuffix(name, datasetExt), "-")
	if len(parts) != 5 || parts[0] != datasetPrefix {
		return DatasetInfo{}, false
	}
	n, err := strconv.Atoi(strings.TrimSuffix(parts[1], "p"))
	if err != nil {
		return DatasetInfo{}, false
	}
	ts, err := time.Parse(timeLayout, parts[2]+"-"+parts[3])
	if err != nil {
		return DatasetInfo{}, false
	}
	return DatasetInfo{ID: parts[4], NumPoints: n, Timestamp: ts}, true
}

// List returns saved datasets, newest first. Files that do not follow the
// naming scheme are ignored.
func (s *Store) List() ([]DatasetInfo, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("listing: read %s: %w", s.dir, err)
	}
	out := make([]DatasetInfo, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, ok := parseDatasetName(e.Name())
		if !ok {
			continue
		}
		if fi, err := e.Info(); err == nil {
			info.FileSize = fi.Size()
		}
		info.Path = filepath.Join(s.dir, e.Name())
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return out, nil
}

// Load reads the dataset with the given id.
func (s *Store) Load(id string) ([]cluster.Point, DatasetInfo, error) {
	list, err := s.List()
	if err != nil {
		return nil, DatasetInfo{}, err
	}
	for _, info := range list {
		if info.ID != id {
			continue
		}
		points, err := LoadFile(info.Path)
		if err != nil {
			return nil, DatasetInfo{}, err
		}
		return points, info, nil
	}
	return nil, DatasetInfo{}, &DatasetNotFoundError{ID: id}
}

// FormatFileSize renders a byte count as 1.5 MB.
func FormatFileSize(size int64) string {
	const unit = 1024
	if size < unit {
		return fmt.Sprintf("%d B", size)
	}
	div, exp := int64(unit), 0
	for n := size / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(size)/float64(div), "KMGTPE"[exp])
}
