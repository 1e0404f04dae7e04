package repositories

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"

	"github.com/lib/pq"

	"staff-chat/internal/apperrors"
)

// classify turns driver failures into the service error taxonomy.
// Row-level security denials become PERMISSION_DENIED; connection,
// resource and serialization failures become UNAVAILABLE so idempotent
// callers can retry them. Any other server error is INTERNAL.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}

	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return err
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch {
		case pqErr.Code == "42501":
			return apperrors.Wrap(apperrors.CodePermissionDenied, "not permitted", fmt.Errorf("%s: %w", op, err))
		case pqErr.Code == "23505":
			return apperrors.AlreadyExists("already exists", fmt.Errorf("%s: %w", op, err))
		}
		switch pqErr.Code.Class() {
		case "08", "40", "53", "57":
			return apperrors.Unavailable("store unavailable", fmt.Errorf("%s: %w", op, err))
		}
		return apperrors.Internal("store error", fmt.Errorf("%s: %w", op, err))
	}

	var netErr net.Error
	if errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled) ||
		errors.As(err, &netErr) {
		return apperrors.Unavailable("store unavailable", fmt.Errorf("%s: %w", op, err))
	}
	return fmt.Errorf("%s: %w", op, err)
}
