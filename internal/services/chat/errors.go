package chat

import (
	"context"
	"errors"

	"salon_backend/internal/store"
	"salon_backend/pkg/apperrors"
)

// mapStoreError переводит ошибки хранилища в AppError для пользовательских операций.
func mapStoreError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrNotFound):
		return apperrors.ErrMessageNotFound
	case errors.Is(err, store.ErrPermissionDenied):
		return apperrors.ErrPermissionDenied(err)
	case errors.Is(err, store.ErrUnavailable),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return apperrors.ErrStoreUnavailable(err)
	}
	if _, ok := apperrors.AsAppError(err); ok {
		return err
	}
	return apperrors.InternalError(err)
}
