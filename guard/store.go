package guard

import "context"

// ArchiveStore persists terminal approval requests for history queries.
// The engine is the only writer; the UI layer reads.
type ArchiveStore interface {
	Save(ctx context.Context, req Request) error
	Get(ctx context.Context, id string) (Request, bool, error)
	List(ctx context.Context, sessionID string, limit int) ([]Request, error)
	Close() error
}
