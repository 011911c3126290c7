package fs

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/viant/afs/file"
	"github.com/viant/afs/option"
	"github.com/viant/afs/url"
)

const (
	lockRetryDelay     = 5 * time.Millisecond
	defaultLockTimeout = 5 * time.Second
	defaultStaleLock   = 30 * time.Second
)

// ErrLocked is returned when a record lock could not be acquired in time
var ErrLocked = errors.New("fs store: record locked")

// lock acquires the per record lock file shared by every process using the
// same base path; the returned func releases it.
func (s *Store) lock(ctx context.Context, id string) (func(), error) {
	URL := s.lockURL(id)
	ctx, cancel := context.WithTimeout(ctx, s.lockTimeout)
	defer cancel()
	for {
		acquired, err := s.tryLock(ctx, URL)
		if err != nil {
			return nil, err
		}
		if acquired {
			return func() { s.unlock(URL) }, nil
		}
		s.breakStale(ctx, URL)
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", ErrLocked, id)
		case <-time.After(lockRetryDelay):
		}
	}
}

// tryLock creates the lock file only when it does not exist yet. Local paths
// use an exclusive create, other schemes an afs generation precondition.
func (s *Store) tryLock(ctx context.Context, URL string) (bool, error) {
	scheme := url.Scheme(URL, file.Scheme)
	if scheme == file.Scheme {
		lockFile, err := os.OpenFile(file.Path(URL), os.O_CREATE|os.O_EXCL|os.O_WRONLY, file.DefaultFileOsMode)
		if err != nil {
			if os.IsExist(err) {
				return false, nil
			}
			return false, fmt.Errorf("failed to create lock %v: %w", URL, err)
		}
		_ = lockFile.Close()
		return true, nil
	}
	generation := &option.Generation{WhenMatch: true}
	err := s.fs.Upload(ctx, URL, file.DefaultFileOsMode, strings.NewReader(time.Now().UTC().Format(time.RFC3339Nano)), generation)
	if err == nil {
		return true, nil
	}
	if s.fs.ErrorCode(scheme, err) == http.StatusPreconditionFailed {
		return false, nil
	}
	return false, fmt.Errorf("failed to create lock %v: %w", URL, err)
}

// breakStale removes a lock left behind by a crashed process
func (s *Store) breakStale(ctx context.Context, URL string) {
	object, err := s.fs.Object(ctx, URL)
	if err != nil || time.Since(object.ModTime()) < s.staleLock {
		return
	}
	s.logger.Warn("removing stale record lock", "url", URL, "modified", object.ModTime())
	_ = s.fs.Delete(ctx, URL)
}

func (s *Store) unlock(URL string) {
	if err := s.fs.Delete(context.Background(), URL); err != nil {
		s.logger.Warn("failed to release record lock", "url", URL, "error", err)
	}
}

func (s *Store) lockURL(id string) string {
	return url.Join(s.basePath, id+".lock")
}
