// Package runtime hosts persistent units: one goroutine and one mailbox per
// persistence identity.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/wilhg/persistor/pkg/persistence"
)

const defaultMailboxSize = 64

// ErrAlreadyRunning is returned by Spawn when the identity already has a live unit.
var ErrAlreadyRunning = errors.New("runtime: unit already running")

// ErrShutdown is returned by Spawn after Shutdown.
var ErrShutdown = errors.New("runtime: system shut down")

// System spawns and supervises units.
type System struct {
	journal     persistence.Journal
	snapshots   persistence.SnapshotStore
	recovery    persistence.Recover
	logger      *slog.Logger
	observer    persistence.Observer
	mailboxSize int

	mu     sync.Mutex
	units  map[string]*Ref
	closed bool
	wg     sync.WaitGroup
}

// Option configures the System at construction time.
type Option func(*System)

func WithSnapshotStore(s persistence.SnapshotStore) Option {
	return func(sys *System) { sys.snapshots = s }
}

// WithRecovery sets the default recovery request for spawned units.
func WithRecovery(r persistence.Recover) Option {
	return func(sys *System) { sys.recovery = r }
}

func WithLogger(l *slog.Logger) Option {
	return func(sys *System) {
		if l != nil {
			sys.logger = l
		}
	}
}

func WithObserver(o persistence.Observer) Option {
	return func(sys *System) {
		if o != nil {
			sys.observer = o
		}
	}
}

// WithMailboxSize bounds the number of queued messages per unit. Tell blocks
// while the mailbox is full.
func WithMailboxSize(n int) Option {
	return func(sys *System) {
		if n > 0 {
			sys.mailboxSize = n
		}
	}
}

// NewSystem constructs a System over journal.
func NewSystem(journal persistence.Journal, opts ...Option) *System {
	sys := &System{
		journal:     journal,
		recovery:    persistence.DefaultRecover(),
		logger:      slog.Default(),
		observer:    persistence.NopObserver{},
		mailboxSize: defaultMailboxSize,
		units:       make(map[string]*Ref),
	}
	for _, opt := range opts {
		opt(sys)
	}
	return sys
}

type spawnConfig struct {
	recovery  persistence.Recover
	snapshots persistence.SnapshotStore
}

// SpawnOption overrides System defaults for one unit.
type SpawnOption func(*spawnConfig)

func WithUnitRecovery(r persistence.Recover) SpawnOption {
	return func(c *spawnConfig) { c.recovery = r }
}

func WithUnitSnapshotStore(s persistence.SnapshotStore) SpawnOption {
	return func(c *spawnConfig) { c.snapshots = s }
}

// Spawn starts a unit for persistenceID. Recovery runs on the unit's
// goroutine before its mailbox is read, so messages sent right after Spawn
// are delivered once the unit is Live. ctx only carries values to the unit;
// cancelling it does not stop the unit.
func (s *System) Spawn(ctx context.Context, persistenceID string, actor persistence.Actor, opts ...SpawnOption) (*Ref, error) {
	cfg := spawnConfig{recovery: s.recovery, snapshots: s.snapshots}
	for _, opt := range opts {
		opt(&cfg)
	}
	unitOpts := []persistence.UnitOption{
		persistence.WithRecovery(cfg.recovery),
		persistence.WithLogger(s.logger),
		persistence.WithObserver(s.observer),
	}
	if cfg.snapshots != nil {
		unitOpts = append(unitOpts, persistence.WithSnapshotStore(cfg.snapshots))
	}
	unit, err := persistence.NewUnit(persistenceID, actor, s.journal, unitOpts...)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrShutdown
	}
	if _, ok := s.units[persistenceID]; ok {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyRunning, persistenceID)
	}
	ref := newRef(persistenceID, s.mailboxSize)
	s.units[persistenceID] = ref
	s.wg.Add(1)
	go s.run(context.WithoutCancel(ctx), ref, unit)
	return ref, nil
}

// Lookup returns the running unit for persistenceID.
func (s *System) Lookup(persistenceID string) (*Ref, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ref, ok := s.units[persistenceID]
	return ref, ok
}

// Running returns the number of live units.
func (s *System) Running() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.units)
}

// Shutdown stops every unit gracefully and waits until they are done or ctx
// expires, in which case the remaining units are force stopped.
func (s *System) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	refs := make([]*Ref, 0, len(s.units))
	for _, ref := range s.units {
		refs = append(refs, ref)
	}
	s.mu.Unlock()

	for _, ref := range refs {
		ref.Stop()
	}
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		for _, ref := range refs {
			ref.ForceStop(ctx.Err())
		}
		<-done
		return ctx.Err()
	}
}

func (s *System) run(parent context.Context, ref *Ref, unit *persistence.Unit) {
	defer s.wg.Done()
	ctx, cancel := context.WithCancelCause(parent)
	defer cancel(nil)
	go func() {
		select {
		case cause := <-ref.kill:
			cancel(cause)
		case <-ref.done:
		}
	}()

	out := unit.Start(ctx)
	if out.Directive == persistence.Continue {
		out = s.loop(ctx, ref, unit)
	}
	if ctx.Err() != nil {
		out = persistence.Outcome{Directive: persistence.ForceStop, Cause: context.Cause(ctx)}
	}
	s.finish(ref, out)
}

func (s *System) loop(ctx context.Context, ref *Ref, unit *persistence.Unit) persistence.Outcome {
	for {
		select {
		case <-ctx.Done():
			return persistence.Outcome{Directive: persistence.ForceStop, Cause: context.Cause(ctx)}
		case env := <-ref.mailbox:
			if out := unit.Receive(ctx, env.msg, env.reply); out.Directive != persistence.Continue {
				return out
			}
		case <-ref.stopReq:
			// drain what was queued before the stop request
			for {
				select {
				case env := <-ref.mailbox:
					if out := unit.Receive(ctx, env.msg, env.reply); out.Directive != persistence.Continue {
						return out
					}
				default:
					return persistence.Outcome{Directive: persistence.Stop}
				}
			}
		}
	}
}

func (s *System) finish(ref *Ref, out persistence.Outcome) {
	s.mu.Lock()
	if s.units[ref.id] == ref {
		delete(s.units, ref.id)
	}
	s.mu.Unlock()

	var err error
	switch out.Directive {
	case persistence.ForceStop:
		err = persistence.ErrForceStopped
		if out.Cause != nil {
			err = fmt.Errorf("%w: %w", persistence.ErrForceStopped, out.Cause)
		}
		s.logger.Error("unit force stopped", "persistence_id", ref.id, "err", out.Cause)
	default:
		err = out.Cause
		if err != nil {
			s.logger.Warn("unit stopped", "persistence_id", ref.id, "err", err)
		} else {
			s.logger.Info("unit stopped", "persistence_id", ref.id)
		}
	}
	s.observer.Stopped(ref.id, out)
	ref.close(err)
}
