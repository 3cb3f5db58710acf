package persist

import (
	"context"
	"time"
)

// Repository is the facade a session manager depends on. The concrete
// store (in-memory or relational) is swapped via config; callers never
// see the difference.
type Repository interface {
	Save(ctx context.Context, rec *PlayerRecord) error
	Load(ctx context.Context, characterID string) (*PlayerRecord, error)
	ListByAccount(ctx context.Context, accountID string) ([]Summary, error)
	CountByAccount(ctx context.Context, accountID string) (int, error)
	NameExists(ctx context.Context, name, excludingCharacterID, accountID string) (bool, error)
	Close()
}

// Store is the lower-level, synchronous backing store a Repository wraps
// with caching and write-behind. SQLStore and MemoryStore both implement
// it; Repository never talks to one directly except through cachedRepo.
type Store interface {
	SaveFields(ctx context.Context, characterID string, fields map[string]any, full *PlayerRecord) error
	Load(ctx context.Context, characterID string) (*PlayerRecord, error)
	ListByAccount(ctx context.Context, accountID string) ([]Summary, error)
	CountByAccount(ctx context.Context, accountID string) (int, error)
	NameExists(ctx context.Context, name, excludingCharacterID, accountID string) (bool, error)
	Close()
}

const cacheTTL = 100 * time.Millisecond
