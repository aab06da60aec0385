package store

import (
	"context"
	"errors"
	"fmt"

	"fuelstation/backend/internal/domain"
)

// ErrNotFound is returned when no report or catalog entry matches the lookup.
var ErrNotFound = errors.New("not found")

// ValidationError reports missing or malformed caller input. Its message is
// user-facing and surfaced verbatim as a 400 response.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// Invalidf builds a *ValidationError with a formatted message.
func Invalidf(format string, args ...any) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var verr *ValidationError
	return errors.As(err, &verr)
}

// Repository is the storage contract shared by the postgres and in-memory
// implementations.
//
// SaveReport is the upsert-with-replace-children transaction: resolve the
// parent by (date, shift), replace its scalar fields and all child rows with
// the submitted state, atomically, and return the parent id. FetchReport
// reassembles the aggregate from the parent plus its child collections.
type Repository interface {
	FetchReport(ctx context.Context, date string, shift string) (*domain.ReportAggregate, error)
	SaveReport(ctx context.Context, report domain.DailyReport, children domain.ReportChildren) (string, error)

	ListLubricantProducts(ctx context.Context) ([]domain.LubricantProduct, error)
	ReplaceLubricantProducts(ctx context.Context, products []domain.LubricantProduct) error
	DeleteLubricantProduct(ctx context.Context, id string) error

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
