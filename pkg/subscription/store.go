package subscription

import "context"

// Store persists one Record per user key.
//
// Implementations must make every write a single atomic operation: no
// exists-check followed by insert or update.
type Store interface {
	// Get returns ErrRecordNotFound when the key has no record.
	Get(ctx context.Context, userKey string) (*Record, error)

	// GetByCustomerID resolves a provider customer back to its record.
	GetByCustomerID(ctx context.Context, customerID string) (*Record, error)

	// Upsert inserts or replaces the record keyed by UserKey. The stored
	// LastUpdated becomes max(rec.LastUpdated, stored+1) so an upsert never
	// regresses the write-ordering marker. CreatedAt of an existing row is kept.
	Upsert(ctx context.Context, rec Record) (*Record, error)

	// ConditionalUpsert behaves like Upsert but is a no-op when the stored
	// record has LastUpdated >= rec.LastUpdated. It returns the record as stored
	// after the call and whether rec was applied.
	ConditionalUpsert(ctx context.Context, rec Record) (*Record, bool, error)
}
