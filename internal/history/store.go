package history

import (
	"context"
	"errors"

	"github.com/shehryarbajwa/watchparty/pkg/models"
)

var ErrInvalidLimit = errors.New("history limit must be positive")

// Store keeps the outcomes of finished playback attempts.
type Store interface {
	Record(ctx context.Context, entry models.HistoryEntry) error
	// Recent returns up to n entries, newest first.
	Recent(ctx context.Context, n int) ([]models.HistoryEntry, error)
	Close() error
}
