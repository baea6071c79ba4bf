package notifier

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/DuesFox/app/models"
	"github.com/ManuelReschke/DuesFox/internal/pkg/env"
	"github.com/ManuelReschke/DuesFox/internal/pkg/mail"
)

// Notifier delivers messages. Callers own "already notified" bookkeeping;
// a Notifier only reports whether this delivery went through.
type Notifier interface {
	NotifyMember(ctx context.Context, member models.Member, msg Message) error
	NotifyOperators(ctx context.Context, msg Message) error
}

type messageSender interface {
	SendMessage(ctx context.Context, chatID int64, text, linkText, linkURL string) error
}

type mailSender interface {
	Configured() bool
	Send(to []string, subject string, body string) error
}

// Dispatcher sends member messages over Telegram and operator messages over
// Telegram plus email when operator addresses are configured.
type Dispatcher struct {
	bot            messageSender
	mailer         mailSender
	operatorIDs    []int64
	operatorEmails []string
	supportURL     string
}

type DispatcherConfig struct {
	OperatorIDs    []int64
	OperatorEmails []string
	// SupportURL is attached as a button to member messages without a link.
	SupportURL string
}

func NewDispatcher(bot messageSender, mailer mailSender, cfg DispatcherConfig) *Dispatcher {
	return &Dispatcher{
		bot:            bot,
		mailer:         mailer,
		operatorIDs:    cfg.OperatorIDs,
		operatorEmails: cfg.OperatorEmails,
		supportURL:     cfg.SupportURL,
	}
}

// DispatcherConfigFromEnv reads ADMIN_IDS, OPERATOR_EMAILS and SUPPORT_URL.
func DispatcherConfigFromEnv() (DispatcherConfig, error) {
	cfg := DispatcherConfig{
		OperatorEmails: env.GetList("OPERATOR_EMAILS"),
		SupportURL:     env.GetEnv("SUPPORT_URL", ""),
	}
	for _, raw := range env.GetList("ADMIN_IDS") {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return cfg, fmt.Errorf("ADMIN_IDS: %q is not a chat id", raw)
		}
		cfg.OperatorIDs = append(cfg.OperatorIDs, id)
	}
	return cfg, nil
}

// NewDispatcherFromEnv wires the Telegram bot and SMTP mailer from env.
func NewDispatcherFromEnv() (*Dispatcher, error) {
	cfg, err := DispatcherConfigFromEnv()
	if err != nil {
		return nil, err
	}
	var mailer mailSender
	if len(cfg.OperatorEmails) > 0 {
		mailer = mail.NewSMTPMailerFromEnv()
	}
	return NewDispatcher(NewTelegramClientFromEnv(), mailer, cfg), nil
}

func (d *Dispatcher) NotifyMember(ctx context.Context, member models.Member, msg Message) error {
	linkText, linkURL := msg.LinkText, msg.LinkURL
	if linkURL == "" && d.supportURL != "" {
		linkText, linkURL = "Support", d.supportURL
	}
	if err := d.bot.SendMessage(ctx, member.ID, msg.Text, linkText, linkURL); err != nil {
		return fmt.Errorf("notify member %d (%s): %w", member.ID, msg.Template, err)
	}
	log.Infof("[Notifier] Sent %s to member %d", msg.Template, member.ID)
	return nil
}

// NotifyOperators tries every channel and joins the failures.
func (d *Dispatcher) NotifyOperators(ctx context.Context, msg Message) error {
	var errs []error
	delivered := 0

	for _, id := range d.operatorIDs {
		if err := d.bot.SendMessage(ctx, id, msg.Text, msg.LinkText, msg.LinkURL); err != nil {
			errs = append(errs, fmt.Errorf("operator %d: %w", id, err))
			continue
		}
		delivered++
	}

	if len(d.operatorEmails) > 0 && d.mailer != nil && d.mailer.Configured() {
		body := msg.Text
		if msg.LinkURL != "" {
			body += "\n\n" + msg.LinkURL
		}
		if err := d.mailer.Send(d.operatorEmails, msg.Subject, body); err != nil {
			errs = append(errs, fmt.Errorf("operator email: %w", err))
		} else {
			delivered += len(d.operatorEmails)
		}
	}

	if delivered == 0 && len(errs) == 0 {
		errs = append(errs, errors.New("no operator recipients configured"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify operators (%s): %w", msg.Template, errors.Join(errs...))
	}
	log.Infof("[Notifier] Sent %s to %d operator recipient(s)", msg.Template, delivered)
	return nil
}
