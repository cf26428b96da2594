package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"hfttools/internal/domain/models"
	domrepo "hfttools/internal/domain/repository"
	"hfttools/pkg/cache"
)

const (
	studyKeyPrefix     = "study"
	studyLockKeyPrefix = "study-lock"
)

// checkStudyName rejects names that cannot be stored safely.
func checkStudyName(name string) error {
	if name == "" || name == "." || name == ".." || len(name) > 256 || strings.ContainsRune(name, 0) {
		return fmt.Errorf("invalid study name %q", name)
	}
	return nil
}

func decodeStudy(b []byte) (*models.Study, error) {
	var st models.Study
	if err := json.Unmarshal(b, &st); err != nil {
		return nil, fmt.Errorf("decode study: %w", err)
	}
	if st.Version == 0 {
		st.Version = models.StudyVersion
	}
	if st.Version > models.StudyVersion {
		return nil, fmt.Errorf("study %q has layout version %d, newer than supported %d", st.Name, st.Version, models.StudyVersion)
	}
	return &st, nil
}

// FileStudyStore keeps one JSON document per study in a directory. Writers
// are serialised with an O_EXCL lock file; locks older than the TTL are
// considered abandoned.
type FileStudyStore struct {
	dir     string
	lockTTL time.Duration
	now     func() time.Time
}

// NewFileStudyStore creates a store rooted at dir.
func NewFileStudyStore(dir string, lockTTL time.Duration) *FileStudyStore {
	return &FileStudyStore{dir: dir, lockTTL: lockTTL, now: time.Now}
}

func (s *FileStudyStore) path(name string) string {
	return filepath.Join(s.dir, url.PathEscape(name)+".json")
}

func (s *FileStudyStore) Load(ctx context.Context, name string) (*models.Study, error) {
	if err := checkStudyName(name); err != nil {
		return nil, err
	}
	b, err := os.ReadFile(s.path(name))
	if errors.Is(err, os.ErrNotExist) {
		return nil, domrepo.ErrStudyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read study: %w", err)
	}
	return decodeStudy(b)
}

func (s *FileStudyStore) Save(ctx context.Context, st *models.Study) error {
	if err := checkStudyName(st.Name); err != nil {
		return err
	}
	st.Version = models.StudyVersion
	b, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("encode study: %w", err)
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create study dir: %w", err)
	}
	target := s.path(st.Name)
	tmp, err := os.CreateTemp(s.dir, ".study-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp study: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write study: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync study: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close study: %w", err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return fmt.Errorf("replace study: %w", err)
	}
	return nil
}

func (s *FileStudyStore) Exists(ctx context.Context, name string) (bool, error) {
	if err := checkStudyName(name); err != nil {
		return false, err
	}
	_, err := os.Stat(s.path(name))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, os.ErrNotExist):
		return false, nil
	default:
		return false, fmt.Errorf("stat study: %w", err)
	}
}

func (s *FileStudyStore) Lock(ctx context.Context, name string) (domrepo.StudyLease, error) {
	if err := checkStudyName(name); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return nil, fmt.Errorf("create study dir: %w", err)
	}
	lockPath := s.path(name) + ".lock"
	token := cache.NewLockToken()

	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			_, werr := f.WriteString(token)
			cerr := f.Close()
			var terr error
			if werr == nil && cerr == nil {
				// Staleness is judged against s.now, so stamp with it too.
				now := s.now()
				terr = os.Chtimes(lockPath, now, now)
			}
			if werr != nil || cerr != nil || terr != nil {
				_ = os.Remove(lockPath)
				return nil, fmt.Errorf("write study lock: %w", errors.Join(werr, cerr, terr))
			}
			return &fileLease{s: s, path: lockPath, token: token}, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create study lock: %w", err)
		}
		fi, serr := os.Stat(lockPath)
		if serr != nil || s.lockTTL <= 0 || s.now().Sub(fi.ModTime()) <= s.lockTTL {
			break
		}
		_ = os.Remove(lockPath)
	}
	return nil, domrepo.ErrStudyLocked
}

// fileLease holds a lock file. Refreshing bumps its mtime so other
// processes do not break it as stale.
type fileLease struct {
	s     *FileStudyStore
	path  string
	token string
}

func (l *fileLease) owned() (bool, error) {
	b, err := os.ReadFile(l.path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read study lock: %w", err)
	}
	return string(b) == l.token, nil
}

func (l *fileLease) Refresh(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ok, err := l.owned()
	if err != nil {
		return err
	}
	if !ok {
		return domrepo.ErrStudyLockLost
	}
	now := l.s.now()
	if err := os.Chtimes(l.path, now, now); err != nil {
		return fmt.Errorf("touch study lock: %w", err)
	}
	return nil
}

func (l *fileLease) Release() {
	if ok, _ := l.owned(); ok {
		_ = os.Remove(l.path)
	}
}

// CacheStudyStore keeps studies in a cache.Service (Redis or memory) and
// locks them with the service's token locks.
type CacheStudyStore struct {
	c       cache.Service
	lockTTL time.Duration
}

// NewCacheStudyStore creates a store over c.
func NewCacheStudyStore(c cache.Service, lockTTL time.Duration) *CacheStudyStore {
	return &CacheStudyStore{c: c, lockTTL: lockTTL}
}

func (s *CacheStudyStore) Load(ctx context.Context, name string) (*models.Study, error) {
	if err := checkStudyName(name); err != nil {
		return nil, err
	}
	var raw []byte
	err := s.c.Get(ctx, cache.GenerateKey(studyKeyPrefix, name), &raw)
	if errors.Is(err, cache.ErrCacheMiss) {
		return nil, domrepo.ErrStudyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load study: %w", err)
	}
	return decodeStudy(raw)
}

func (s *CacheStudyStore) Save(ctx context.Context, st *models.Study) error {
	if err := checkStudyName(st.Name); err != nil {
		return err
	}
	st.Version = models.StudyVersion
	if err := s.c.Set(ctx, cache.GenerateKey(studyKeyPrefix, st.Name), st, 0); err != nil {
		return fmt.Errorf("save study: %w", err)
	}
	return nil
}

func (s *CacheStudyStore) Exists(ctx context.Context, name string) (bool, error) {
	if err := checkStudyName(name); err != nil {
		return false, err
	}
	ok, err := s.c.Exists(ctx, cache.GenerateKey(studyKeyPrefix, name))
	if err != nil {
		return false, fmt.Errorf("check study: %w", err)
	}
	return ok, nil
}

func (s *CacheStudyStore) Lock(ctx context.Context, name string) (domrepo.StudyLease, error) {
	if err := checkStudyName(name); err != nil {
		return nil, err
	}
	key := cache.GenerateKey(studyLockKeyPrefix, name)
	token := cache.NewLockToken()
	ok, err := s.c.TryLock(ctx, key, token, s.lockTTL)
	if err != nil {
		return nil, fmt.Errorf("lock study: %w", err)
	}
	if !ok {
		return nil, domrepo.ErrStudyLocked
	}
	return &cacheLease{c: s.c, key: key, token: token, ttl: s.lockTTL}, nil
}

// cacheLease holds a token lock in a cache.Service.
type cacheLease struct {
	c     cache.Service
	key   string
	token string
	ttl   time.Duration
}

func (l *cacheLease) Refresh(ctx context.Context) error {
	err := l.c.Refresh(ctx, l.key, l.token, l.ttl)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, cache.ErrCacheMiss), errors.Is(err, cache.ErrLockHeld):
		return domrepo.ErrStudyLockLost
	default:
		return fmt.Errorf("refresh study lock: %w", err)
	}
}

func (l *cacheLease) Release() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = l.c.Unlock(ctx, l.key, l.token)
}
