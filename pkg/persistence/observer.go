package persistence

import "time"

// Observer receives unit lifecycle notifications. Implementations must be safe
// for concurrent use when shared by several units.
type Observer interface {
	// RecoveryFinished is called once per recovery attempt. err is nil when
	// the attempt completed.
	RecoveryFinished(persistenceID string, replayed uint64, elapsed time.Duration, err error)
	// Persisted is called after every append attempt.
	Persisted(persistenceID string, seq uint64, err error)
	Unhandled(persistenceID string, kind Kind)
	Stopped(persistenceID string, outcome Outcome)
}

// NopObserver ignores all notifications.
type NopObserver struct{}

func (NopObserver) RecoveryFinished(string, uint64, time.Duration, error) {}
func (NopObserver) Persisted(string, uint64, error) {}
func (NopObserver) Unhandled(string, Kind) {}
func (NopObserver) Stopped(string, Outcome) {}
