// Package badgerstore implements the journal and snapshot store on an
// embedded Badger key-value database.
//
// Layout:
//
//	j\x00<pid>\x00<seq:8>  journal record
//	h\x00<pid>             highest sequence number
//	s\x00<pid>\x00<seq:8>  snapshot record
//
// Records are store.EventRecord and store.SnapshotRecord encoded as JSON.
package badgerstore

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v3"

	"github.com/wilhg/persistor/pkg/store"
)

const (
	defaultPageSize    = 200
	defaultGCInterval  = 10 * time.Minute
	defaultGCThreshold = 0.5
)

// Store implements store.Store on Badger.
type Store struct {
	db       *badger.DB
	codec    store.Codec
	logger   *slog.Logger
	pageSize int

	gcInterval time.Duration
	stopCh     chan struct{}
	doneCh     chan struct{}
}

type config struct {
	dir        string
	inMemory   bool
	syncWrites bool
	codec      store.Codec
	logger     *slog.Logger
	pageSize   int
	gcInterval time.Duration
}

// Option configures a Store.
type Option func(*config)

// InMemory keeps all data in memory; the directory is ignored.
func InMemory() Option { return func(c *config) { c.inMemory = true } }

func WithSyncWrites(v bool) Option { return func(c *config) { c.syncWrites = v } }

func WithCodec(codec store.Codec) Option {
	return func(c *config) {
		if codec != nil {
			c.codec = codec
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

func WithPageSize(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.pageSize = n
		}
	}
}

// WithGCInterval sets how often the value log is garbage collected. Zero
// disables the background loop.
func WithGCInterval(d time.Duration) Option { return func(c *config) { c.gcInterval = d } }

// Open opens (or creates) a Badger database in dir.
func Open(dir string, opts ...Option) (*Store, error) {
	cfg := config{
		dir:        dir,
		syncWrites: true,
		codec:      store.NewJSONCodec(),
		logger:     slog.Default(),
		pageSize:   defaultPageSize,
		gcInterval: defaultGCInterval,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.dir == "" && !cfg.inMemory {
		return nil, errors.New("badger: dir is required")
	}

	bopts := badger.DefaultOptions(cfg.dir).
		WithSyncWrites(cfg.syncWrites).
		WithLogger(&badgerLogger{logger: cfg.logger})
	if cfg.inMemory {
		bopts = bopts.WithDir("").WithValueDir("").WithInMemory(true)
		cfg.gcInterval = 0
	}
	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("badger: open db: %w", err)
	}
	s := &Store{
		db:         db,
		codec:      cfg.codec,
		logger:     cfg.logger,
		pageSize:   cfg.pageSize,
		gcInterval: cfg.gcInterval,
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
	if s.gcInterval > 0 {
		go s.gcLoop()
	} else {
		close(s.doneCh)
	}
	cfg.logger.Info("badger store opened", "dir", cfg.dir, "in_memory", cfg.inMemory)
	return s, nil
}

// Close stops the GC loop and closes the database.
func (s *Store) Close() error {
	select {
	case <-s.stopCh:
	default:
		close(s.stopCh)
	}
	<-s.doneCh
	return s.db.Close()
}

// Size returns the LSM and value log sizes in bytes.
func (s *Store) Size() (lsm, vlog int64) { return s.db.Size() }

// GC runs value log garbage collection until nothing is left to rewrite.
func (s *Store) GC(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := s.db.RunValueLogGC(defaultGCThreshold)
		if err != nil {
			if errors.Is(err, badger.ErrNoRewrite) || errors.Is(err, badger.ErrGCInMemoryMode) {
				return nil
			}
			return fmt.Errorf("gc: %w", err)
		}
	}
}

func (s *Store) gcLoop() {
	defer close(s.doneCh)
	ticker := time.NewTicker(s.gcInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			if err := s.GC(context.Background()); err != nil {
				s.logger.Warn("badger gc failed", "err", err)
			}
		}
	}
}

func validID(persistenceID string) error {
	if persistenceID == "" || strings.ContainsRune(persistenceID, 0) {
		return fmt.Errorf("badger: invalid persistence id %q", persistenceID)
	}
	return nil
}

func prefix(kind byte, persistenceID string) []byte {
	p := make([]byte, 0, len(persistenceID)+3)
	p = append(p, kind, 0)
	p = append(p, persistenceID...)
	return append(p, 0)
}

func seqKey(kind byte, persistenceID string, seq uint64) []byte {
	return binary.BigEndian.AppendUint64(prefix(kind, persistenceID), seq)
}

func highestKey(persistenceID string) []byte {
	return append([]byte{'h', 0}, persistenceID...)
}

func keySeq(key []byte) uint64 {
	return binary.BigEndian.Uint64(key[len(key)-8:])
}

// badgerLogger adapts slog.Logger to Badger's Logger interface.
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
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}
