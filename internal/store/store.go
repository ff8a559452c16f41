// Package store provides the session store and its persistence backends.
package store

import (
	"context"
	"errors"

	"github.com/ashureev/roundtable/internal/domain"
)

var (
	// ErrSessionNotFound is returned for an unknown session ID.
	ErrSessionNotFound = errors.New("session not found")
	// ErrNoConsensusState is returned for consensus operations on a
	// discussion-mode session.
	ErrNoConsensusState = errors.New("session has no consensus state")
	// ErrUnknownParticipant is returned when a participant is not on the
	// session roster.
	ErrUnknownParticipant = errors.New("participant is not in session")
	// ErrSessionCompleted is returned when mutating a finalized session.
	ErrSessionCompleted = errors.New("session is completed")
	// ErrInvalidSession is returned when creation parameters are unusable.
	ErrInvalidSession = errors.New("invalid session")
)

// Repository defines durable storage for session snapshots.
type Repository interface {
	// SaveSession writes the session and any messages not yet stored.
	SaveSession(ctx context.Context, session *domain.Session) error

	// LoadSessions returns every stored session with its messages, oldest first.
	LoadSessions(ctx context.Context) ([]*domain.Session, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
