// Package mail composes and delivers the service's notification mails.
package mail

import (
	"context"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2/log"
)

var ErrNoRecipient = errors.New("mail: no recipient")

// Message is one outgoing mail.
type Message struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	ReplyTo string   `json:"reply_to,omitempty"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html"`
	Text    string   `json:"text,omitempty"`
}

func (m Message) validate() error {
	for _, to := range m.To {
		if strings.TrimSpace(to) != "" {
			return nil
		}
	}
	return ErrNoRecipient
}

// Mailer delivers a message through a provider.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// LogMailer only logs messages. Used in development.
type LogMailer struct{}

func (LogMailer) Send(ctx context.Context, msg Message) error {
	if err := msg.validate(); err != nil {
		return err
	}
	log.Infof("[Mail] (log) %q to %d recipient(s)", msg.Subject, len(msg.To))
	return nil
}
