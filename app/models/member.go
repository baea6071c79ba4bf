package models

import (
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/ManuelReschke/DuesFox/internal/pkg/clock"
)

// Grace period after the deadline before operators take over.
const EscalationGraceDays = 14

// Member is one subscriber paying the annual contribution with a stored
// payment method. Registration owns the identity and profile columns; the
// renewal scheduler only writes the billing-cycle columns through BillingUpdate.
type Member struct {
	ID           int64  `gorm:"primaryKey;autoIncrement:false" json:"id" validate:"required"`
	Username     string `gorm:"type:varchar(64);default:''" json:"username" validate:"max=64"`
	LastName     string `gorm:"type:varchar(150);not null" json:"last_name" validate:"required,max=150"`
	FirstName    string `gorm:"type:varchar(150);not null" json:"first_name" validate:"required,max=150"`
	Patronymic   string `gorm:"type:varchar(150);default:''" json:"patronymic" validate:"max=150"`
	Status       string `gorm:"type:varchar(100);not null" json:"status" validate:"required,max=100"`
	Contribution int64  `gorm:"not null;default:0" json:"contribution" validate:"gte=0"`

	LastPaymentDate       *time.Time `gorm:"type:date;default:null;index" json:"last_payment_date,omitempty"`
	PaymentMethodID       *string    `gorm:"type:varchar(191);default:null" json:"payment_method_id,omitempty"`
	LastFailedPaymentDate *time.Time `gorm:"type:date;default:null" json:"last_failed_payment_date,omitempty"`
	PreExpiryNotifiedDate *time.Time `gorm:"type:date;default:null" json:"pre_expiry_notified_date,omitempty"`
	AdminNotifiedDate     *time.Time `gorm:"type:date;default:null" json:"admin_notified_date,omitempty"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (m *Member) Validate() error {
	v := validator.New()

	return v.Struct(m)
}

// FullName joins the name parts the way operators expect to read them.
func (m *Member) FullName() string {
	parts := make([]string, 0, 3)
	for _, p := range []string{m.LastName, m.FirstName, m.Patronymic} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, " ")
}

// StoredMethodID returns the payment method token or "" when none is stored.
func (m *Member) StoredMethodID() string {
	if m.PaymentMethodID == nil {
		return ""
	}
	return strings.TrimSpace(*m.PaymentMethodID)
}

func (m *Member) HasStoredMethod() bool {
	return m.StoredMethodID() != ""
}

// IsSchedulable reports whether automated renewal applies at all. Members
// that never paid or have no stored instrument are exempt.
func (m *Member) IsSchedulable() bool {
	return m.LastPaymentDate != nil && m.HasStoredMethod()
}

// Cycle holds the dates derived from the last successful payment.
type Cycle struct {
	LastPayment    time.Time
	Deadline       time.Time
	PreExpiryDate  time.Time
	EscalationDate time.Time
}

// CycleFrom derives the billing cycle that starts at lastPayment.
func CycleFrom(lastPayment time.Time) Cycle {
	start := clock.DateOf(lastPayment)
	deadline := clock.AddYears(start, 1)
	return Cycle{
		LastPayment:    start,
		Deadline:       deadline,
		PreExpiryDate:  deadline.AddDate(0, 0, -1),
		EscalationDate: deadline.AddDate(0, 0, EscalationGraceDays),
	}
}

// CurrentCycle returns the member's cycle; ok is false when never paid.
func (m *Member) CurrentCycle() (Cycle, bool) {
	if m.LastPaymentDate == nil {
		return Cycle{}, false
	}
	return CycleFrom(*m.LastPaymentDate), true
}

// sameDate compares an optional stored date against a calendar date.
func sameDate(stored *time.Time, day time.Time) bool {
	return stored != nil && clock.DateOf(*stored).Equal(clock.DateOf(day))
}

func (m *Member) PreExpiryNotifiedOn(day time.Time) bool {
	return sameDate(m.PreExpiryNotifiedDate, day)
}

func (m *Member) FailedOn(day time.Time) bool {
	return sameDate(m.LastFailedPaymentDate, day)
}

func (m *Member) AdminNotified() bool {
	return m.AdminNotifiedDate != nil
}

// DaysSinceFailure returns calendar days since the last failed attempt, or
// nil when no attempt failed in the current cycle.
func (m *Member) DaysSinceFailure(today time.Time) *int {
	if m.LastFailedPaymentDate == nil {
		return nil
	}
	d := clock.DaysBetween(*m.LastFailedPaymentDate, today)
	return &d
}
