package profile

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/cloo-solutions/supportdesk/internal/storage"
)

// FileSource reads a profile from the local filesystem.
type FileSource struct {
	Path string
}

func (f *FileSource) Load(_ context.Context) ([]byte, string, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, "", err
	}
	sum := sha256.Sum256(data)
	return data, hex.EncodeToString(sum[:]), nil
}

func (f *FileSource) Describe() string {
	return "file:" + f.Path
}

// ObjectGetter is the subset of storage.S3Client used by S3Source.
type ObjectGetter interface {
	GetObject(ctx context.Context, key string) (*storage.Object, error)
	HeadObject(ctx context.Context, key string) (*storage.ObjectMetadata, error)
}

// S3Source reads a profile object. HeadObject is used first so unchanged
// objects are not downloaded on every poll.
type S3Source struct {
	Client ObjectGetter
	Key    string

	lastETag string
	lastBody []byte
}

func (s *S3Source) Load(ctx context.Context) ([]byte, string, error) {
	meta, err := s.Client.HeadObject(ctx, s.Key)
	if err != nil {
		return nil, "", err
	}
	if meta.ETag != "" && meta.ETag == s.lastETag {
		return s.lastBody, s.lastETag, nil
	}

	obj, err := s.Client.GetObject(ctx, s.Key)
	if err != nil {
		return nil, "", err
	}
	s.lastETag = obj.ETag
	s.lastBody = obj.Body
	return obj.Body, obj.ETag, nil
}

func (s *S3Source) Describe() string {
	return "s3:" + s.Key
}

// Watch reloads the store whenever the profile file is written, renamed over
// or recreated. Editors often replace files rather than writing in place, so
// the parent directory is watched. Watch blocks until ctx is cancelled.
func Watch(ctx context.Context, store *Store, path string, logger *zap.Logger) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(abs), err)
	}

	// Coalesce bursts of events from a single save.
	const debounce = 200 * time.Millisecond
	var timer *time.Timer
	fire := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounce, func() {
				select {
				case fire <- struct{}{}:
				default:
				}
			})
		case <-fire:
			if _, err := store.Reload(ctx); err != nil {
				logger.Warn("profile reload failed", zap.Error(err))
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("profile watcher error", zap.Error(err))
		}
	}
}
