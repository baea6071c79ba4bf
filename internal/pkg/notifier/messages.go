package notifier

import (
	"fmt"
	"strings"

	"github.com/ManuelReschke/DuesFox/app/models"
)

type Template string

const (
	TemplateRenewalSucceeded     Template = "renewal_succeeded"
	TemplatePreExpiryWarning     Template = "pre_expiry_warning"
	TemplateRetryScheduled       Template = "retry_scheduled"
	TemplateOperatorEscalation   Template = "operator_escalation"
	TemplateOperatorWriteFailure Template = "operator_write_failure"
)

// Message is a rendered notification. Params keeps the inputs so fakes and
// logs can assert on them without parsing Text.
type Message struct {
	Template Template
	Subject  string
	Text     string
	Params   map[string]string
	LinkURL  string
	LinkText string
}

func RenewalSucceeded() Message {
	return Message{
		Template: TemplateRenewalSucceeded,
		Subject:  "Contribution paid",
		Text:     "✅ Your annual membership contribution has been paid. Thank you!",
	}
}

func PreExpiryWarning() Message {
	return Message{
		Template: TemplatePreExpiryWarning,
		Subject:  "Contribution due tomorrow",
		Text: "⏳ Tomorrow we will charge your annual membership contribution. " +
			"Please make sure your card has sufficient funds.",
	}
}

// RetryScheduled tells the member the charge failed and when we try again.
func RetryScheduled(days int) Message {
	when := "in 1 day"
	if days != 1 {
		when = fmt.Sprintf("in %d days", days)
	}
	return Message{
		Template: TemplateRetryScheduled,
		Subject:  "Contribution payment failed",
		Text: "📍 We tried to charge your membership contribution, but the card has insufficient funds.\n\n" +
			"Please top up your card and we will try again " + when + ".",
		Params: map[string]string{"days": fmt.Sprint(days)},
	}
}

// OperatorEscalation asks operators to contact a member who has not paid
// within the grace period. The chat link is only set when a handle is known.
func OperatorEscalation(m models.Member) Message {
	msg := Message{
		Template: TemplateOperatorEscalation,
		Subject:  fmt.Sprintf("Unpaid contribution: member %d", m.ID),
		Text: fmt.Sprintf("⚠️ Member %s (id %d) has not paid the contribution within %d days.\n"+
			"Please contact them manually and remind them about the payment.",
			displayName(m), m.ID, models.EscalationGraceDays),
		Params: map[string]string{
			"member_id": fmt.Sprint(m.ID),
			"name":      displayName(m),
		},
	}
	if handle := strings.TrimPrefix(strings.TrimSpace(m.Username), "@"); handle != "" {
		msg.LinkURL = "https://t.me/" + handle
		msg.LinkText = "Open chat"
		msg.Params["username"] = handle
	}
	return msg
}

// OperatorWriteFailure reports a charge the gateway accepted but that could
// not be recorded. Operators must record it by hand.
func OperatorWriteFailure(m models.Member, chargeID string) Message {
	return Message{
		Template: TemplateOperatorWriteFailure,
		Subject:  fmt.Sprintf("Unrecorded payment: member %d", m.ID),
		Text: fmt.Sprintf("❗ The renewal charge %s for member %s (id %d) succeeded, "+
			"but the payment could not be saved. Record it manually to avoid a second charge.",
			chargeID, displayName(m), m.ID),
		Params: map[string]string{
			"member_id": fmt.Sprint(m.ID),
			"charge_id": chargeID,
		},
	}
}

func displayName(m models.Member) string {
	if name := m.FullName(); name != "" {
		return name
	}
	return fmt.Sprintf("#%d", m.ID)
}
