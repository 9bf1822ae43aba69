package utils

import (
	"fmt"

	"voltcrm/config"

	"github.com/google/uuid"
	"gopkg.in/gomail.v2"
)

// Email is one outbound delivery request.
type Email struct {
	To      string
	Subject string
	Body    string
}

// MailService is the delivery collaborator. The pipeline treats it as
// at-least-once: a retry after an ambiguous failure may duplicate a
// delivery, which is accepted and bounded by the attempt cap.
type MailService interface {
	Send(email Email) (string, error)
}

// SMTPMailer delivers through the configured SMTP relay.
type SMTPMailer struct {
	cfg config.SMTPConfig
}

func NewSMTPMailer(cfg config.SMTPConfig) *SMTPMailer {
	return &SMTPMailer{cfg: cfg}
}

// Send delivers one message and returns its delivery ID.
func (m *SMTPMailer) Send(email Email) (string, error) {
	deliveryID := uuid.New().String()

	msg := gomail.NewMessage()
	msg.SetHeader("From", fmt.Sprintf("%s <%s>", m.cfg.FromName, m.cfg.From))
	msg.SetHeader("To", email.To)
	msg.SetHeader("Subject", email.Subject)
	msg.SetHeader("Message-ID", fmt.Sprintf("<%s@voltcrm>", deliveryID))
	msg.SetBody("text/html", email.Body)

	d := gomail.NewDialer(m.cfg.Host, m.cfg.Port, m.cfg.Username, m.cfg.Password)
	if err := d.DialAndSend(msg); err != nil {
		return "", fmt.Errorf("error sending email: %w", err)
	}

	return deliveryID, nil
}
