// Package cache is a content-addressed, size-bounded on-disk store for raw
// climate-model datasets. It sits in front of the slow remote data source
// so repeated runs and concurrent invocations never redundantly re-fetch
// multi-gigabyte datasets.
//
// Concurrency model: one coarse mutex guards the index; in-flight fetches
// for the same key are collapsed through singleflight so a key is fetched
// once and all waiters receive the same result, while unrelated keys fetch
// fully in parallel. Entries are pinned while being read or written and a
// pinned entry is never evicted.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/klauspost/compress/gzip"
	"golang.org/x/sync/singleflight"

	"github.com/buildenergy/epwmorph/internal/domain"
	"github.com/buildenergy/epwmorph/internal/observability"
)

// ErrBusy is returned by Clear when an entry is pinned by an in-flight
// fetch or read.
var ErrBusy = errors.New("cache busy: entries are pinned by in-flight operations")

const fileSuffix = ".json.gz"

// Fetcher retrieves a dataset from the remote source on a cache miss.
type Fetcher interface {
	FetchDataset(ctx context.Context, key domain.DatasetKey) (*domain.RawDataset, error)
}

type entry struct {
	key        domain.DatasetKey
	path       string
	size       int64
	lastAccess time.Time
	pins       int
}

// Store is the dataset cache. Entries are keyed by the dataset key's hash,
// written atomically (temp file then rename), and evicted least recently
// used first once the configured byte ceiling is exceeded.
type Store struct {
	dir      string
	maxBytes int64
	fetcher  Fetcher
	logger   *slog.Logger
	metrics  *observability.Metrics
	clock    clockwork.Clock

	mu      sync.Mutex
	entries map[string]*entry
	total   int64

	flight singleflight.Group
}

// NewStore opens (or creates) a cache directory and rebuilds the index
// from any entries already on disk, using file modification times as the
// initial recency ordering.
func NewStore(dir string, maxBytes int64, fetcher Fetcher, logger *slog.Logger, metrics *observability.Metrics, clock clockwork.Clock) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	s := &Store{
		dir:      dir,
		maxBytes: maxBytes,
		fetcher:  fetcher,
		logger:   logger,
		metrics:  metrics,
		clock:    clock,
		entries:  make(map[string]*entry),
	}
	if err := s.rebuildIndex(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) rebuildIndex() error {
	files, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("scan cache dir: %w", err)
	}
	for _, f := range files {
		if f.IsDir() || !strings.HasSuffix(f.Name(), fileSuffix) {
			continue
		}
		info, err := f.Info()
		if err != nil {
			continue
		}
		hash := strings.TrimSuffix(f.Name(), fileSuffix)
		s.entries[hash] = &entry{
			path:       filepath.Join(s.dir, f.Name()),
			size:       info.Size(),
			lastAccess: info.ModTime(),
		}
		s.total += info.Size()
	}
	s.publishGauges()
	return nil
}

// Fetch returns the dataset for a key, reading it from disk on a hit and
// delegating to the Fetcher on a miss. Concurrent calls for the same key
// share a single fetch; the context cancels the wait but not a fetch that
// other callers still share.
func (s *Store) Fetch(ctx context.Context, key domain.DatasetKey) (*domain.RawDataset, error) {
	hash := key.Hash()
	ch := s.flight.DoChan(hash, func() (any, error) {
		// Detached from the initiating caller: cancelling one waiter must
		// not abort a fetch other waiters share. The fetcher bounds the
		// request with its own timeout.
		return s.fetchOne(context.WithoutCancel(ctx), key, hash)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*domain.RawDataset), nil
	}
}

func (s *Store) fetchOne(ctx context.Context, key domain.DatasetKey, hash string) (*domain.RawDataset, error) {
	s.mu.Lock()
	e, ok := s.entries[hash]
	if ok {
		e.pins++
		e.lastAccess = s.clock.Now()
		s.mu.Unlock()

		ds, err := s.readEntry(e)
		s.unpin(hash)
		if err == nil {
			s.metrics.CacheLookups.WithLabelValues("hit").Inc()
			return ds, nil
		}
		// A corrupt entry is dropped and treated as a miss.
		s.logger.Warn("removing corrupt cache entry", "key", key.String(), "error", err)
		s.remove(hash)
	} else {
		s.mu.Unlock()
	}
	s.metrics.CacheLookups.WithLabelValues("miss").Inc()

	ds, err := s.fetcher.FetchDataset(ctx, key)
	if err != nil {
		return nil, err
	}
	if err := ds.Validate(); err != nil {
		return nil, &domain.DataUnavailableError{Key: key, Err: err}
	}
	if err := s.store(key, hash, ds); err != nil {
		// A persistence failure degrades to pass-through: the caller still
		// gets the dataset, the next run re-fetches.
		s.logger.Warn("failed to persist dataset", "key", key.String(), "error", err)
	}
	return ds, nil
}

func (s *Store) readEntry(e *entry) (*domain.RawDataset, error) {
	f, err := os.Open(e.path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("open gzip: %w", err)
	}
	defer gz.Close()

	var ds domain.RawDataset
	if err := json.NewDecoder(gz).Decode(&ds); err != nil {
		return nil, fmt.Errorf("decode dataset: %w", err)
	}
	if err := ds.Validate(); err != nil {
		return nil, err
	}
	return &ds, nil
}

// store persists a dataset atomically: write to a temp file in the cache
// directory, then rename, so a crash mid-write never leaves a corrupt
// entry visible to other callers.
func (s *Store) store(key domain.DatasetKey, hash string, ds *domain.RawDataset) error {
	tmp, err := os.CreateTemp(s.dir, hash+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	gz := gzip.NewWriter(tmp)
	encErr := json.NewEncoder(gz).Encode(ds)
	if err := gz.Close(); encErr == nil {
		encErr = err
	}
	if err := tmp.Close(); encErr == nil {
		encErr = err
	}
	if encErr != nil {
		return fmt.Errorf("write dataset: %w", encErr)
	}

	info, err := os.Stat(tmp.Name())
	if err != nil {
		return err
	}
	final := filepath.Join(s.dir, hash+fileSuffix)
	if err := os.Rename(tmp.Name(), final); err != nil {
		return fmt.Errorf("publish cache entry: %w", err)
	}

	s.mu.Lock()
	if old, ok := s.entries[hash]; ok {
		s.total -= old.size
	}
	s.entries[hash] = &entry{
		key:        key,
		path:       final,
		size:       info.Size(),
		lastAccess: s.clock.Now(),
		pins:       1, // pinned until evictLocked has run
	}
	s.total += info.Size()
	s.evictLocked()
	s.entries[hash].pins--
	s.publishGauges()
	s.mu.Unlock()
	return nil
}

// evictLocked removes least-recently-used unpinned entries until the total
// size fits the ceiling. Caller holds s.mu.
func (s *Store) evictLocked() {
	for s.maxBytes > 0 && s.total > s.maxBytes {
		var victim string
		var oldest time.Time
		for hash, e := range s.entries {
			if e.pins > 0 {
				continue
			}
			if victim == "" || e.lastAccess.Before(oldest) {
				victim = hash
				oldest = e.lastAccess
			}
		}
		if victim == "" {
			return // everything pinned
		}
		e := s.entries[victim]
		if err := os.Remove(e.path); err != nil && !os.IsNotExist(err) {
			s.logger.Warn("evicting cache entry failed", "path", e.path, "error", err)
			return
		}
		delete(s.entries, victim)
		s.total -= e.size
		s.metrics.CacheEvictions.Inc()
		s.logger.Debug("evicted cache entry", "key", e.key.String(), "bytes", e.size)
	}
}

func (s *Store) unpin(hash string) {
	s.mu.Lock()
	if e, ok := s.entries[hash]; ok && e.pins > 0 {
		e.pins--
	}
	s.mu.Unlock()
}

func (s *Store) remove(hash string) {
	s.mu.Lock()
	if e, ok := s.entries[hash]; ok {
		os.Remove(e.path)
		s.total -= e.size
		delete(s.entries, hash)
		s.publishGauges()
	}
	s.mu.Unlock()
}

// Stats reports the entry count and total stored bytes.
func (s *Store) Stats() (entries int, bytes int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries), s.total
}

// Clear removes every cache entry. It fails with ErrBusy if any entry is
// pinned by an in-flight operation.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries {
		if e.pins > 0 {
			return ErrBusy
		}
	}
	for hash, e := range s.entries {
		if err := os.Remove(e.path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove %s: %w", e.path, err)
		}
		delete(s.entries, hash)
	}
	s.total = 0
	s.publishGauges()
	return nil
}

// publishGauges pushes entry/byte totals to the metrics gauges. Caller
// holds s.mu or is single-threaded (constructor).
func (s *Store) publishGauges() {
	s.metrics.CacheEntries.Set(float64(len(s.entries)))
	s.metrics.CacheBytes.Set(float64(s.total))
}
