package social

import (
	"context"
	"time"
)

// Post is one public post from a tracked account.
type Post struct {
	ID        string
	Handle    string
	Text      string
	CreatedAt time.Time
}

// Source fetches recent posts for a handle. Implementations must be safe
// for concurrent use.
type Source interface {
	FetchRecent(ctx context.Context, handle string, limit int) ([]Post, error)
}
