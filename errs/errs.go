// Package errs provides shared errors for the sekas root, grouped by layer
// (directory, join, report, allocator, sequencer, watch, raft).
// Check errors with errors.Is(err, errs.ErrX). Wire code mapping lives in root.CodeFor.
package errs

import (
	"errors"
	"fmt"
)

// Directory errors (validation failures; rejected mutations have no effect).

var (
	ErrNotBootstrapped = errors.New("cluster not bootstrapped")
	ErrStaleEpoch      = errors.New("stale epoch")
	ErrStaleTerm       = errors.New("stale term")
	ErrNotLeader       = errors.New("caller is not the recognized group leader")
	ErrInvalidArgument = errors.New("invalid argument")
)

// ErrNotFound is the common ancestor of every missing-entity error, so one
// wire code round-trips back to a sentinel errors.Is can match.
var (
	ErrNotFound      = errors.New("not found")
	ErrGroupNotFound = fmt.Errorf("group %w", ErrNotFound)
	ErrNodeNotFound  = fmt.Errorf("node %w", ErrNotFound)
)

func ErrStaleEpochf(groupID, got, stored uint64) error {
	return fmt.Errorf("group %d: epoch %d behind stored epoch %d: %w", groupID, got, stored, ErrStaleEpoch)
}

func ErrStaleTermf(groupID, replicaID, got, stored uint64) error {
	return fmt.Errorf("group %d replica %d: term %d behind stored term %d: %w", groupID, replicaID, got, stored, ErrStaleTerm)
}

func ErrNotLeaderf(groupID, claimed uint64) error {
	return fmt.Errorf("group %d: replica %d is not the recognized leader: %w", groupID, claimed, ErrNotLeader)
}

func ErrGroupNotFoundf(groupID uint64) error {
	return fmt.Errorf("group %d not found: %w", groupID, ErrGroupNotFound)
}

func ErrNodeNotFoundf(nodeID uint64) error {
	return fmt.Errorf("node %d not found: %w", nodeID, ErrNodeNotFound)
}

func ErrMissingField(field string) error {
	return fmt.Errorf("missing required field %s: %w", field, ErrInvalidArgument)
}

func ErrInvalidArgumentf(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrInvalidArgument)...)
}

// Admin errors (database/collection CRUD).

var (
	ErrDatabaseNotFound   = fmt.Errorf("database %w", ErrNotFound)
	ErrCollectionNotFound = fmt.Errorf("collection %w", ErrNotFound)
	ErrAlreadyExists      = errors.New("already exists")
)

func ErrDatabaseNotFoundf(name string) error {
	return fmt.Errorf("database %q not found: %w", name, ErrDatabaseNotFound)
}

func ErrCollectionNotFoundf(db, name string) error {
	return fmt.Errorf("collection %q in database %q not found: %w", name, db, ErrCollectionNotFound)
}

func ErrDatabaseExistsf(name string) error {
	return fmt.Errorf("database %q already exists: %w", name, ErrAlreadyExists)
}

func ErrCollectionExistsf(db, name string) error {
	return fmt.Errorf("collection %q in database %q already exists: %w", name, db, ErrAlreadyExists)
}

// Allocator errors.

var ErrResourceExhausted = errors.New("resource exhausted")

func ErrNotEnoughNodesf(need, have int) error {
	return fmt.Errorf("not enough eligible nodes: need %d, have %d: %w", need, have, ErrResourceExhausted)
}

// Sequencer errors.

var ErrSequencerClosed = errors.New("sequencer closed")

func ErrSequencerBump(err error) error { return fmt.Errorf("bump durable high water: %w", err) }

// Watch errors.

var (
	ErrWatcherDropped = errors.New("watcher dropped: queue overflow, resubscribe with a fresh cursor")
	ErrWatcherClosed  = errors.New("watcher closed")
)

// Raft / coordinator errors (the root's own leadership).

var (
	ErrNotRootLeader      = errors.New("this root replica is not the raft leader")
	ErrCoordinatorStopped = errors.New("coordinator stopped")
)

func ErrRaftApply(err error) error { return fmt.Errorf("raft apply: %w", err) }

func ErrNewRaft(err error) error { return fmt.Errorf("failed to create new raft: %w", err) }

func ErrBootstrapCluster(err error) error { return fmt.Errorf("failed to bootstrap cluster: %w", err) }
