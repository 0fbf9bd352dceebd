package firestore

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/hanko-field/clinic-commerce/internal/repositories"
)

// WrapError turns a Firestore status into a repositories.StoreError so the ledger services can
// branch on not-found, conflict and unavailable. Context errors, errors raised by transaction
// bodies and errors that are already classified are returned unchanged.
func WrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var classified repositories.RepositoryError
	if errors.As(err, &classified) {
		return err
	}
	st, ok := status.FromError(err)
	if !ok {
		return err
	}

	switch st.Code() {
	case codes.Canceled:
		return context.Canceled
	case codes.NotFound:
		return repositories.NewStoreError(op, repositories.StoreErrorNotFound, st.Message(), err)
	case codes.AlreadyExists, codes.FailedPrecondition, codes.Aborted:
		return repositories.NewStoreError(op, repositories.StoreErrorConflict, st.Message(), err)
	case codes.DeadlineExceeded:
		return repositories.NewStoreError(op, repositories.StoreErrorUnavailable, st.Message(), context.DeadlineExceeded)
	case codes.Unavailable, codes.ResourceExhausted, codes.Internal:
		return repositories.NewStoreError(op, repositories.StoreErrorUnavailable, st.Message(), err)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}
