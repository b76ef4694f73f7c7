package ports

import (
	"context"
	"io"

	"github.com/Kellysabi/Sentry-IoT/internal/domain"
)

// TableParser decodes a tabular payload. Malformed input yields a
// *domain.InputError.
type TableParser interface {
	Parse(r io.Reader) (*domain.Table, error)
	// Build types columns over rows that were read elsewhere, sharing
	// header.
	Build(header []string, rows [][]string) (*domain.Table, error)
	Format() string
}

// RowReader streams raw rows from a growing source. Header returns the
// columns observed on the first line once it has been read.
type RowReader interface {
	Start(ctx context.Context) (<-chan []string, <-chan error)
	Header() []string
	Stop() error
}
