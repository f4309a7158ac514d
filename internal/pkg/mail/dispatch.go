package mail

import (
	"context"
	"fmt"

	"github.com/gofiber/fiber/v2/log"

	"github.com/thirdpath/thirdpath/internal/pkg/config"
	"github.com/thirdpath/thirdpath/internal/pkg/jobqueue"
)

// Dispatcher hands a message off for delivery.
type Dispatcher interface {
	Dispatch(ctx context.Context, msg Message) error
}

// DirectDispatcher sends in the calling goroutine.
type DirectDispatcher struct {
	Mailer Mailer
}

func (d DirectDispatcher) Dispatch(ctx context.Context, msg Message) error {
	return d.Mailer.Send(ctx, msg)
}

// QueueDispatcher enqueues a send_mail job. Delivery, retries and dead
// lettering are left to the queue workers.
type QueueDispatcher struct {
	queue *jobqueue.Queue
}

func NewQueueDispatcher(q *jobqueue.Queue) *QueueDispatcher {
	return &QueueDispatcher{queue: q}
}

func (d *QueueDispatcher) Dispatch(ctx context.Context, msg Message) error {
	if err := msg.validate(); err != nil {
		return err
	}
	job, err := d.queue.Enqueue(ctx, jobqueue.JobTypeSendMail, msg)
	if err != nil {
		return fmt.Errorf("enqueue mail: %w", err)
	}
	log.Debugf("[Mail] Queued %q as job %s", msg.Subject, job.ID)
	return nil
}

// RegisterHandler makes q deliver send_mail jobs through m.
func RegisterHandler(q *jobqueue.Queue, m Mailer) {
	q.Register(jobqueue.JobTypeSendMail, func(ctx context.Context, job *jobqueue.Job) error {
		var msg Message
		if err := job.Decode(&msg); err != nil {
			return err
		}
		return m.Send(ctx, msg)
	})
}

// NewMailer builds the provider configured by MAIL_PROVIDER.
func NewMailer(cfg config.Mail) (Mailer, error) {
	switch cfg.Provider {
	case "resend":
		return NewResendMailer(cfg.ResendAPIKey), nil
	case "smtp":
		port := cfg.SMTPPort
		if port == "" {
			port = "587"
		}
		return NewSMTPMailer(cfg.SMTPHost, port, cfg.SMTPUsername, cfg.SMTPPassword), nil
	case "log", "":
		return LogMailer{}, nil
	default:
		return nil, fmt.Errorf("unknown mail provider %q", cfg.Provider)
	}
}
