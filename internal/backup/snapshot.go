// Package backup ships compressed database snapshots to object storage.
package backup

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/golang/snappy"
	"go.uber.org/zap"

	blerrors "github.com/blocklog/blocklog/internal/errors"
	"github.com/blocklog/blocklog/internal/storage"
)

// KeyPrefix is the object key prefix for snapshots.
const KeyPrefix = "snapshots/"

const keySuffix = ".sqlite.sz"

// Source writes a consistent database copy to a path that does not exist.
type Source interface {
	Snapshot(ctx context.Context, dest string) error
}

// Guard serializes fn against pipeline flushes.
type Guard interface {
	WithStore(ctx context.Context, fn func(ctx context.Context) error) error
}

// Options configures a Snapshotter.
type Options struct {
	// Keep is how many snapshots to retain. Zero keeps all of them.
	Keep    int
	WorkDir string
	Logger  *zap.Logger
	Now     func() time.Time
}

// Snapshot names an uploaded snapshot.
type Snapshot struct {
	Key       string
	Size      int64
	CreatedAt time.Time
}

// Snapshotter takes snapshots and rotates old ones.
type Snapshotter struct {
	source  Source
	guard   Guard
	storage storage.ObjectStorage
	opts    Options
	logger  *zap.Logger
}

// NewSnapshotter returns a Snapshotter. guard may be nil when the source
// is not shared with a writer.
func NewSnapshotter(source Source, guard Guard, store storage.ObjectStorage, opts Options) *Snapshotter {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.WorkDir == "" {
		opts.WorkDir = os.TempDir()
	}
	return &Snapshotter{
		source:  source,
		guard:   guard,
		storage: store,
		opts:    opts,
		logger:  opts.Logger.Named("backup"),
	}
}

// SnapshotKey returns the object key for a snapshot taken at t.
func SnapshotKey(t time.Time) string {
	return KeyPrefix + "blocklog-" + strconv.FormatInt(t.UnixMilli(), 10) + keySuffix
}

// ParseSnapshotKey returns the creation time encoded in key.
func ParseSnapshotKey(key string) (time.Time, bool) {
	name := strings.TrimPrefix(key, KeyPrefix)
	if name == key || !strings.HasPrefix(name, "blocklog-") || !strings.HasSuffix(name, keySuffix) {
		return time.Time{}, false
	}
	ms, err := strconv.ParseInt(strings.TrimSuffix(strings.TrimPrefix(name, "blocklog-"), keySuffix), 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.UnixMilli(ms), true
}

// Backup snapshots the database, compresses it, uploads it and prunes
// snapshots beyond Keep.
func (s *Snapshotter) Backup(ctx context.Context) (Snapshot, error) {
	dir, err := os.MkdirTemp(s.opts.WorkDir, "blocklog-backup-")
	if err != nil {
		return Snapshot{}, blerrors.NewBackupError(blerrors.CodeSnapshotFailed, "failed to create work dir", err)
	}
	defer os.RemoveAll(dir)

	raw := filepath.Join(dir, "snapshot.sqlite")
	take := func(ctx context.Context) error { return s.source.Snapshot(ctx, raw) }
	if s.guard != nil {
		err = s.guard.WithStore(ctx, take)
	} else {
		err = take(ctx)
	}
	if err != nil {
		return Snapshot{}, err
	}

	compressed := raw + ".sz"
	size, err := compressFile(raw, compressed)
	if err != nil {
		return Snapshot{}, blerrors.NewBackupError(blerrors.CodeSnapshotFailed, "failed to compress snapshot", err)
	}

	created := s.opts.Now()
	key := SnapshotKey(created)
	if err := s.storage.Upload(ctx, compressed, key); err != nil {
		return Snapshot{}, blerrors.NewBackupError(blerrors.CodeUploadFailed, "failed to upload snapshot", err)
	}
	s.logger.Info("snapshot uploaded", zap.String("key", key), zap.Int64("bytes", size))

	if err := s.rotate(ctx); err != nil {
		s.logger.Warn("snapshot rotation failed", zap.Error(err))
	}
	return Snapshot{Key: key, Size: size, CreatedAt: created}, nil
}

// List returns stored snapshots, newest first.
func (s *Snapshotter) List(ctx context.Context) ([]Snapshot, error) {
	objs, err := s.storage.List(ctx, KeyPrefix)
	if err != nil {
		return nil, err
	}

	out := make([]Snapshot, 0, len(objs))
	for _, o := range objs {
		created, ok := ParseSnapshotKey(o.Key)
		if !ok {
			continue
		}
		out = append(out, Snapshot{Key: o.Key, Size: o.Size, CreatedAt: created})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// Restore downloads key and decompresses it to dest. The database must
// not be open while dest is replaced.
func (s *Snapshotter) Restore(ctx context.Context, key, dest string) error {
	dir, err := os.MkdirTemp(s.opts.WorkDir, "blocklog-restore-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(dir)

	compressed := filepath.Join(dir, "snapshot.sqlite.sz")
	if err := s.storage.Download(ctx, key, compressed); err != nil {
		return fmt.Errorf("backup: download %s: %w", key, err)
	}

	tmp := dest + ".restore"
	if err := decompressFile(compressed, tmp); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("backup: decompress %s: %w", key, err)
	}
	return os.Rename(tmp, dest)
}

func (s *Snapshotter) rotate(ctx context.Context) error {
	if s.opts.Keep <= 0 {
		return nil
	}
	snaps, err := s.List(ctx)
	if err != nil {
		return err
	}
	for _, old := range snaps[min(s.opts.Keep, len(snaps)):] {
		if err := s.storage.Delete(ctx, old.Key); err != nil {
			return err
		}
		s.logger.Debug("snapshot deleted", zap.String("key", old.Key))
	}
	return nil
}

func compressFile(src, dst string) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return 0, err
	}
	defer out.Close()

	w := snappy.NewBufferedWriter(out)
	if _, err := io.Copy(w, in); err != nil {
		return 0, err
	}
	if err := w.Close(); err != nil {
		return 0, err
	}

	info, err := out.Stat()
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

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
	if _, err := io.Copy(out, snappy.NewReader(in)); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
