// Package persistence implements the recovery and dispatch core of an
// event-sourced persistent actor.
//
// A Unit rebuilds its state by replaying a Journal, optionally seeded from a
// snapshot, before it accepts live commands. Recovery is planned by a Planner,
// streamed by a ReplayCoordinator and delivered through a Router that selects
// the replay handler (ReceiveRecover) while Recovering and the command handler
// (ReceiveCommand) once Live. Journal and snapshot faults are reported to the
// actor as RecoveryFailure and PersistenceFailure messages; an actor that does
// not handle them is stopped.
//
// The package never starts goroutines. Hosting (mailboxes, Tell/Ask, stop
// signals) lives in pkg/runtime.
package persistence
