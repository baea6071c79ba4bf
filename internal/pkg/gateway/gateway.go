package gateway

import (
	"context"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// Charge statuses reported by the gateway. Anything but StatusSucceeded is a
// non-success for renewal purposes.
const (
	StatusPending           = "pending"
	StatusWaitingForCapture = "waiting_for_capture"
	StatusSucceeded         = "succeeded"
	StatusCanceled          = "canceled"
)

// Gateway creates and looks up charges against stored payment methods.
type Gateway interface {
	CreateCharge(ctx context.Context, req ChargeRequest) (*Charge, error)
	FindCharge(ctx context.Context, id string) (*Charge, error)
}

type Metadata struct {
	SubscriberID int64  `json:"subscriber_id" validate:"required"`
	AttemptID    string `json:"attempt_id" validate:"required"`
}

type ChargeRequest struct {
	Amount          decimal.Decimal `validate:"-"`
	Currency        string          `validate:"required,len=3,uppercase"`
	PaymentMethodID string          `validate:"required"`
	Capture         bool
	Description     string `validate:"max=128"`
	Metadata        Metadata
}

var validate = validator.New()

// Validate checks the request before anything goes over the wire.
func (r ChargeRequest) Validate() error {
	if !r.Amount.IsPositive() {
		return NewError(KindInvalidRequest, 0, errAmountNotPositive)
	}
	if err := validate.Struct(r); err != nil {
		return NewError(KindInvalidRequest, 0, err)
	}
	return nil
}

type Charge struct {
	ID                 string
	Status             string
	PaymentMethodID    string
	Paid               bool
	Amount             decimal.Decimal
	Currency           string
	CancellationReason string
}

func (c *Charge) Succeeded() bool {
	return c != nil && strings.EqualFold(c.Status, StatusSucceeded)
}
