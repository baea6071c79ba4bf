package models

import (
	"sort"
	"time"

	"github.com/ManuelReschke/DuesFox/internal/pkg/clock"
)

// Billing-cycle columns. Nothing else on members is written by renewal.
const (
	ColumnLastPaymentDate       = "last_payment_date"
	ColumnPaymentMethodID       = "payment_method_id"
	ColumnLastFailedPaymentDate = "last_failed_payment_date"
	ColumnPreExpiryNotifiedDate = "pre_expiry_notified_date"
	ColumnAdminNotifiedDate     = "admin_notified_date"
)

// BillingUpdate collects set/clear operations on the billing-cycle columns
// so they can be written in one statement. The zero value is an empty update.
type BillingUpdate struct {
	columns map[string]interface{}
}

func NewBillingUpdate() *BillingUpdate {
	return &BillingUpdate{columns: map[string]interface{}{}}
}

func (u *BillingUpdate) set(column string, value interface{}) *BillingUpdate {
	if u.columns == nil {
		u.columns = map[string]interface{}{}
	}
	u.columns[column] = value
	return u
}

func (u *BillingUpdate) SetLastPaymentDate(day time.Time) *BillingUpdate {
	return u.set(ColumnLastPaymentDate, clock.DateOf(day))
}

func (u *BillingUpdate) SetPaymentMethodID(id string) *BillingUpdate {
	return u.set(ColumnPaymentMethodID, id)
}

func (u *BillingUpdate) SetLastFailedPaymentDate(day time.Time) *BillingUpdate {
	return u.set(ColumnLastFailedPaymentDate, clock.DateOf(day))
}

func (u *BillingUpdate) ClearLastFailedPaymentDate() *BillingUpdate {
	return u.set(ColumnLastFailedPaymentDate, nil)
}

func (u *BillingUpdate) SetPreExpiryNotifiedDate(day time.Time) *BillingUpdate {
	return u.set(ColumnPreExpiryNotifiedDate, clock.DateOf(day))
}

func (u *BillingUpdate) ClearPreExpiryNotifiedDate() *BillingUpdate {
	return u.set(ColumnPreExpiryNotifiedDate, nil)
}

func (u *BillingUpdate) SetAdminNotifiedDate(day time.Time) *BillingUpdate {
	return u.set(ColumnAdminNotifiedDate, clock.DateOf(day))
}

func (u *BillingUpdate) ClearAdminNotifiedDate() *BillingUpdate {
	return u.set(ColumnAdminNotifiedDate, nil)
}

// StartNewCycle records a successful payment on day and resets every
// per-cycle marker.
func (u *BillingUpdate) StartNewCycle(day time.Time) *BillingUpdate {
	return u.SetLastPaymentDate(day).
		ClearLastFailedPaymentDate().
		ClearPreExpiryNotifiedDate().
		ClearAdminNotifiedDate()
}

func (u *BillingUpdate) IsEmpty() bool {
	return u == nil || len(u.columns) == 0
}

// Columns returns a copy of the column map for gorm Updates.
func (u *BillingUpdate) Columns() map[string]interface{} {
	out := make(map[string]interface{}, len(u.columns))
	for k, v := range u.columns {
		out[k] = v
	}
	return out
}

// ColumnNames lists touched columns in stable order.
func (u *BillingUpdate) ColumnNames() []string {
	names := make([]string, 0, len(u.columns))
	for k := range u.columns {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Apply mirrors the update onto an in-memory member.
func (u *BillingUpdate) Apply(m *Member) {
	if u == nil || m == nil {
		return
	}
	for column, value := range u.columns {
		switch column {
		case ColumnLastPaymentDate:
			m.LastPaymentDate = datePtr(value)
		case ColumnPaymentMethodID:
			if s, ok := value.(string); ok {
				m.PaymentMethodID = &s
			} else {
				m.PaymentMethodID = nil
			}
		case ColumnLastFailedPaymentDate:
			m.LastFailedPaymentDate = datePtr(value)
		case ColumnPreExpiryNotifiedDate:
			m.PreExpiryNotifiedDate = datePtr(value)
		case ColumnAdminNotifiedDate:
			m.AdminNotifiedDate = datePtr(value)
		}
	}
}

func datePtr(value interface{}) *time.Time {
	t, ok := value.(time.Time)
	if !ok {
		return nil
	}
	return &t
}
