// Package cache provides the badger reference adapter: a lossy actor cache
// (snapshots plus the natural id <-> system id map) and a lossy event cache
// (per-actor log tails plus event packs).
//
// Every entry expires after Config.TTL. An actor's cached log is a single
// value, so it expires as a whole and never develops holes.
package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// Config configures a Cache.
type Config struct {
	// Path is the database directory. Ignored when InMemory is true.
	Path string

	// InMemory keeps everything in memory (no disk persistence).
	InMemory bool

	// SyncWrites enables synchronous writes.
	SyncWrites bool

	// TTL bounds how long an entry lives. Zero keeps entries until
	// evicted by a later write.
	TTL time.Duration

	// GCInterval is how often value log GC runs. Zero disables it.
	GCInterval time.Duration

	// GCDiscardRatio is the value log GC discard ratio.
	GCDiscardRatio float64

	// Logger receives badger's internal logs. Nil silences them.
	Logger *slog.Logger
}

// DefaultConfig returns a Config for an on-disk cache.
func DefaultConfig() Config {
	return Config{
		TTL:            time.Hour,
		GCInterval:     5 * time.Minute,
		GCDiscardRatio: 0.5,
	}
}

// InMemoryConfig returns a Config for an in-memory cache.
func InMemoryConfig() Config {
	return Config{
		InMemory: true,
		TTL:      time.Hour,
	}
}

// badgerLogger adapts slog to badger's logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// Cache is the badger-backed actor cache and event cache.
type Cache struct {
	db     *badger.DB
	ttl    time.Duration
	logger *slog.Logger

	stopGC chan struct{}
	gcDone chan struct{}
}

// Open opens a cache.
func Open(cfg Config) (*Cache, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent cache")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create cache directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger cache: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	c := &Cache{db: db, ttl: cfg.TTL, logger: logger}

	if cfg.GCInterval > 0 && !cfg.InMemory {
		ratio := cfg.GCDiscardRatio
		if ratio <= 0 || ratio > 1 {
			ratio = 0.5
		}
		c.stopGC = make(chan struct{})
		c.gcDone = make(chan struct{})
		go c.runGC(cfg.GCInterval, ratio)
	}
	return c, nil
}

// OpenInMemory opens an in-memory cache with default settings.
func OpenInMemory() (*Cache, error) {
	return Open(InMemoryConfig())
}

// Close stops value log GC and closes the database.
func (c *Cache) Close() error {
	if c.stopGC != nil {
		close(c.stopGC)
		<-c.gcDone
	}
	return c.db.Close()
}

func (c *Cache) runGC(interval time.Duration, ratio float64) {
	defer close(c.gcDone)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopGC:
			return
		case <-ticker.C:
			err := c.db.RunValueLogGC(ratio)
			if err != nil && !errors.Is(err, badger.ErrNoRewrite) {
				c.logger.Warn("badger value log GC error", "error", err)
			}
		}
	}
}

// get returns a copy of the value at key, or nil when absent.
func (c *Cache) get(ctx context.Context, key []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var val []byte
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		val, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	return val, nil
}

// entry builds a write entry carrying the cache TTL.
func (c *Cache) entry(key, val []byte) *badger.Entry {
	e := badger.NewEntry(key, val)
	if c.ttl > 0 {
		e = e.WithTTL(c.ttl)
	}
	return e
}

// update runs fn in a read-write transaction, retrying on conflicts with
// concurrent writers.
func (c *Cache) update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	const attempts = 5
	var err error
	for i := 0; i < attempts; i++ {
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		err = c.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return err
}

// Keys. Separators are NUL so ids may contain any printable character.
func snapshotKey(systemID string) []byte { return []byte("snap\x00" + systemID) }

func systemIDKey(actorType, actorID string) []byte {
	return []byte("sid\x00" + actorType + "\x00" + actorID)
}

func actorIDKey(actorType, systemID string) []byte {
	return []byte("aid\x00" + actorType + "\x00" + systemID)
}

func logKey(systemID string) []byte { return []byte("log\x00" + systemID) }

func packKey(systemID, snapshotID string) []byte {
	return []byte("pack\x00" + systemID + "\x00" + snapshotID)
}
