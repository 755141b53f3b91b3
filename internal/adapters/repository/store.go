// Package repository persists the leaderboard document and serializes every
// read-modify-write cycle on it.
package repository

import (
	"context"

	"github.com/okian/shrinkrank/internal/domain/leaderboard"
)

// Mutation computes the next board from the current one. It must not keep
// references to its argument.
type Mutation func(current leaderboard.Board) (leaderboard.Board, error)

// Store provides read/write access to the leaderboard state.
type Store interface {
	// Load returns the current board.
	Load(ctx context.Context) (leaderboard.Board, error)

	// Update applies fn under an exclusive lock and atomically replaces the
	// stored document with the result. On any error the stored document is
	// left untouched.
	Update(ctx context.Context, fn Mutation) (leaderboard.Board, error)
}
