package repository

import (
	"context"
	"errors"

	"github.com/ManuelReschke/DuesFox/app/models"
)

// ErrMemberNotFound is returned when no member row matches the id.
var ErrMemberNotFound = errors.New("member not found")

// MemberRepository is the member directory as seen by the renewal scheduler.
type MemberRepository interface {
	// List returns every member, including those exempt from renewal.
	List(ctx context.Context) ([]models.Member, error)
	GetByID(ctx context.Context, id int64) (*models.Member, error)
	// Create stores a new member row (registration path, seeding, tests).
	Create(ctx context.Context, member *models.Member) error
	// UpdateBillingFields writes the billing-cycle columns in one statement.
	UpdateBillingFields(ctx context.Context, id int64, update *models.BillingUpdate) error
	// WithMemberLock reads the member row under a row lock and runs fn inside
	// the same transaction. The repository passed to fn is bound to that
	// transaction; an error from fn rolls back every write it made.
	WithMemberLock(ctx context.Context, id int64, fn func(tx MemberRepository, member *models.Member) error) error
	Ping(ctx context.Context) error
}
