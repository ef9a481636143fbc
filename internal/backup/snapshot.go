// Package backup takes compressed snapshots of the store, uploads them to
// object storage, restores them and prunes old ones.
package backup

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/autotable/autotable/internal/storage"
	"github.com/golang/snappy"
	"github.com/google/uuid"
)

const (
	// ObjectSuffix marks snappy-framed store snapshots.
	ObjectSuffix = ".db.sz"

	// timestampLayout sorts lexicographically in time order.
	timestampLayout = "20060102T150405Z"
)

// Source produces a consistent copy of one store namespace.
type Source interface {
	Namespace() string
	Snapshot(ctx context.Context, destPath string) error
}

// Config holds snapshot settings.
type Config struct {
	// Prefix is the object path prefix (default "snapshots").
	Prefix string
	// WorkDir holds temporary snapshot files (default os.TempDir()).
	WorkDir string
	// Retention is how many snapshots Prune keeps per namespace. Zero keeps all.
	Retention int
}

// DefaultConfig returns the default snapshot configuration.
func DefaultConfig() Config {
	return Config{
		Prefix:    "snapshots",
		WorkDir:   os.TempDir(),
		Retention: 7,
	}
}

// Result describes one uploaded snapshot.
type Result struct {
	Object          string        `json:"object"`
	ETag            string        `json:"etag"`
	RawBytes        int64         `json:"raw_bytes"`
	CompressedBytes int64         `json:"compressed_bytes"`
	Duration        time.Duration `json:"duration"`
	TakenAt         time.Time     `json:"taken_at"`
}

// Snapshotter uploads snapshots of a Source.
type Snapshotter struct {
	src     Source
	storage storage.ObjectStorage
	config  Config
	logger  *slog.Logger
	now     func() time.Time
}

// NewSnapshotter creates a snapshotter.
func NewSnapshotter(src Source, store storage.ObjectStorage, cfg Config, logger *slog.Logger) *Snapshotter {
	if cfg.Prefix == "" {
		cfg.Prefix = "snapshots"
	}
	if cfg.WorkDir == "" {
		cfg.WorkDir = os.TempDir()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Snapshotter{
		src:     src,
		storage: store,
		config:  cfg,
		logger:  logger,
		now:     time.Now,
	}
}

// ObjectName returns the object path of a snapshot of namespace taken at t.
func ObjectName(prefix, namespace string, t time.Time, id string) string {
	if len(id) > 8 {
		id = id[:8]
	}
	return path.Join(prefix, namespace, t.UTC().Format(timestampLayout)+"-"+id+ObjectSuffix)
}

// namespacePrefix is the listing prefix for this snapshotter's namespace.
func (s *Snapshotter) namespacePrefix() string {
	return path.Join(s.config.Prefix, s.src.Namespace()) + "/"
}

// Snapshot copies the store, compresses the copy and uploads it.
func (s *Snapshotter) Snapshot(ctx context.Context) (Result, error) {
	start := s.now()
	res := Result{TakenAt: start.UTC()}

	if err := os.MkdirAll(s.config.WorkDir, 0755); err != nil {
		return res, fmt.Errorf("backup: create work dir: %w", err)
	}
	tmpDir, err := os.MkdirTemp(s.config.WorkDir, "autotable-snapshot-*")
	if err != nil {
		return res, fmt.Errorf("backup: create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	rawPath := filepath.Join(tmpDir, "store.db")
	if err := s.src.Snapshot(ctx, rawPath); err != nil {
		return res, fmt.Errorf("backup: copy store: %w", err)
	}

	compressedPath := rawPath + ".sz"
	res.RawBytes, res.CompressedBytes, err = compressFile(rawPath, compressedPath)
	if err != nil {
		return res, fmt.Errorf("backup: compress: %w", err)
	}

	res.Object = ObjectName(s.config.Prefix, s.src.Namespace(), start, uuid.New().String())
	res.ETag, err = s.storage.Upload(ctx, compressedPath, res.Object)
	if err != nil {
		return res, fmt.Errorf("backup: upload %s: %w", res.Object, err)
	}
	res.Duration = s.now().Sub(start)

	s.logger.InfoContext(ctx, "snapshot uploaded",
		"object", res.Object,
		"raw_bytes", res.RawBytes,
		"compressed_bytes", res.CompressedBytes,
		"duration", res.Duration)
	return res, nil
}

// List returns this namespace's snapshots, oldest first.
func (s *Snapshotter) List(ctx context.Context) ([]storage.ObjectInfo, error) {
	return List(ctx, s.storage, s.config.Prefix, s.src.Namespace())
}

// List returns the snapshots of namespace under prefix, oldest first.
func List(ctx context.Context, store storage.ObjectStorage, prefix, namespace string) ([]storage.ObjectInfo, error) {
	objects, err := store.ListObjects(ctx, path.Join(prefix, namespace)+"/")
	if err != nil {
		return nil, fmt.Errorf("backup: list snapshots: %w", err)
	}
	snaps := objects[:0]
	for _, obj := range objects {
		if strings.HasSuffix(obj.Path, ObjectSuffix) {
			snaps = append(snaps, obj)
		}
	}
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].Path < snaps[j].Path })
	return snaps, nil
}

// Prune deletes the oldest snapshots beyond the retention count and
// returns how many were deleted.
func (s *Snapshotter) Prune(ctx context.Context) (int, error) {
	if s.config.Retention <= 0 {
		return 0, nil
	}
	snaps, err := s.List(ctx)
	if err != nil {
		return 0, err
	}
	excess := len(snaps) - s.config.Retention
	if excess <= 0 {
		return 0, nil
	}

	deleted := 0
	for _, obj := range snaps[:excess] {
		if err := s.storage.Delete(ctx, obj.Path); err != nil {
			return deleted, fmt.Errorf("backup: delete %s: %w", obj.Path, err)
		}
		deleted++
		s.logger.InfoContext(ctx, "snapshot pruned", "object", obj.Path)
	}
	return deleted, nil
}

// Restore downloads object and decompresses it into destPath. The file
// appears at destPath only once it is complete.
func Restore(ctx context.Context, store storage.ObjectStorage, object, destPath string) error {
	if !strings.HasSuffix(object, ObjectSuffix) {
		return fmt.Errorf("backup: %s is not a snapshot object", object)
	}
	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return fmt.Errorf("backup: create destination dir: %w", err)
	}

	tmpDir, err := os.MkdirTemp(filepath.Dir(destPath), ".restore-*")
	if err != nil {
		return fmt.Errorf("backup: create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	compressedPath := filepath.Join(tmpDir, "snapshot.sz")
	if err := store.Download(ctx, object, compressedPath); err != nil {
		return fmt.Errorf("backup: download %s: %w", object, err)
	}

	rawPath := filepath.Join(tmpDir, "store.db")
	if err := decompressFile(compressedPath, rawPath); err != nil {
		return fmt.Errorf("backup: decompress %s: %w", object, err)
	}
	if err := os.Rename(rawPath, destPath); err != nil {
		return fmt.Errorf("backup: install %s: %w", destPath, err)
	}
	return nil
}

// compressFile writes src to dst in snappy framing format.
func compressFile(src, dst string) (raw, compressed int64, err error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, 0, err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return 0, 0, err
	}
	defer out.Close()

	w := snappy.NewBufferedWriter(out)
	raw, err = io.Copy(w, in)
	if err != nil {
		return 0, 0, err
	}
	if err := w.Close(); err != nil {
		return 0, 0, err
	}
	info, err := out.Stat()
	if err != nil {
		return 0, 0, err
	}
	return raw, info.Size(), out.Sync()
}

// decompressFile reverses compressFile.
func decompressFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, snappy.NewReader(in)); err != nil {
		return err
	}
	return out.Sync()
}
