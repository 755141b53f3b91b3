package repository

import "errors"

// Sentinel kinds for store errors.
var (
	ErrLocked = errors.New("leaderboard is locked by another writer")
	ErrExists = errors.New("leaderboard already exists")
)
