// Package numerator provides domain contracts for order auto-numbering.
// Implementations live in infrastructure layer.
package numerator

import (
	"context"
	"time"
)

// Generator hands out order numbers of the form {plantCode}-{YYMMDD}-{seq}.
// Sequences are scoped per plant per calendar day and never repeat within a scope.
type Generator interface {
	NextOrderNumber(ctx context.Context, plantCode string, day time.Time) (string, error)
}
