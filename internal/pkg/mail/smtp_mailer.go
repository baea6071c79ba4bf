package mail

import (
	"fmt"
	"log"
	"net/smtp"
	"strings"

	"github.com/ManuelReschke/DuesFox/internal/pkg/env"
)

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTPMailer sends emails via SMTP
type SMTPMailer struct {
	Host     string
	Port     string
	Username string
	Password string
	Sender   string

	send sendFunc
}

func NewSMTPMailerFromEnv() *SMTPMailer {
	m := &SMTPMailer{
		Host:     env.GetEnv("SMTP_HOST", ""),
		Port:     env.GetEnv("SMTP_PORT", "587"),
		Username: env.GetEnv("SMTP_USERNAME", ""),
		Password: env.GetEnv("SMTP_PASSWORD", ""),
		Sender:   env.GetEnv("SMTP_SENDER", ""),
	}
	if m.Sender == "" {
		m.Sender = fmt.Sprintf("no-reply@%s", "localhost")
		log.Printf("SMTP_SENDER not set, using default sender: %s", m.Sender)
	}
	return m
}

// Configured reports whether a relay host is set.
func (m *SMTPMailer) Configured() bool {
	return m != nil && strings.TrimSpace(m.Host) != ""
}

// Send delivers a plain text message to every recipient in one session.
func (m *SMTPMailer) Send(to []string, subject string, body string) error {
	if !m.Configured() {
		return fmt.Errorf("smtp host is not configured")
	}
	if len(to) == 0 {
		return nil
	}

	var auth smtp.Auth
	if m.Username != "" && m.Password != "" {
		auth = smtp.PlainAuth("", m.Username, m.Password, m.Host)
	}

	addr := fmt.Sprintf("%s:%s", m.Host, m.Port)

	msg := []byte(
		fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n", m.Sender, strings.Join(to, ", "), subject) +
			"MIME-Version: 1.0\r\n" +
			"Content-Type: text/plain; charset=UTF-8\r\n\r\n" +
			strings.ReplaceAll(body, "\n", "\r\n"),
	)

	send := m.send
	if send == nil {
		send = smtp.SendMail
	}
	err := send(addr, auth, m.Sender, to, msg)
	if err != nil {
		log.Printf("SMTP send error: %v", err)
	} else {
		log.Printf("Email sent to %d recipient(s) via %s", len(to), addr)
	}
	return err
}
