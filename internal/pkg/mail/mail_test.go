package mail

import (
	"context"
	"errors"
	"net/smtp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thirdpath/thirdpath/app/models"
	"github.com/thirdpath/thirdpath/internal/pkg/billing"
	"github.com/thirdpath/thirdpath/internal/pkg/cache/cachetest"
	"github.com/thirdpath/thirdpath/internal/pkg/config"
	"github.com/thirdpath/thirdpath/internal/pkg/jobqueue"
)

const isolatedMailTestRedisDB = 11

var _ billing.Notifier = (*Notifications)(nil)

type recorder struct {
	mu   sync.Mutex
	sent []Message
	err  error
}

func (r *recorder) Send(ctx context.Context, msg Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.sent = append(r.sent, msg)
	return nil
}

func (r *recorder) Dispatch(ctx context.Context, msg Message) error {
	return r.Send(ctx, msg)
}

func (r *recorder) messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.sent...)
}

func newComposer(t *testing.T) *Composer {
	t.Helper()
	c, err := NewComposer("Thirdpath <hello@thirdpath.test>", "admin@thirdpath.test")
	require.NoError(t, err)
	return c
}

func track(t *testing.T, id string) models.Track {
	t.Helper()
	tr, ok := models.LookupTrack(id)
	require.True(t, ok)
	return tr
}

func TestWelcome(t *testing.T) {
	c := newComposer(t)
	msg, err := c.Welcome(track(t, "t1-en"), "ana@example.test", "https://zoom.test/j/1")
	require.NoError(t, err)

	assert.Equal(t, []string{"ana@example.test"}, msg.To)
	assert.Equal(t, "Welcome — Theme 1: Anxiety & Regulation", msg.Subject)
	assert.Contains(t, msg.HTML, `<a href="https://zoom.test/j/1"`)
	assert.Contains(t, msg.HTML, "Saturday, January 10, 2026")
	assert.Contains(t, msg.HTML, "Duration: 90 minutes.")
}

func TestNewSubscriber(t *testing.T) {
	c := newComposer(t)

	msg, err := c.NewSubscriber(track(t, "t2-en"), "bo@example.test", "sub_123")
	require.NoError(t, err)
	assert.Equal(t, "[NEW SUB] t2-en", msg.Subject)
	assert.Equal(t, []string{"admin@thirdpath.test"}, msg.To)
	assert.Contains(t, msg.HTML, "Sub: sub_123")

	msg, err = c.NewSubscriber(track(t, "t2-en"), "bo@example.test", "")
	require.NoError(t, err)
	assert.Contains(t, msg.HTML, "Sub: n/a")
}

func TestWaitlistMessages(t *testing.T) {
	c := newComposer(t)
	in := Inquiry{
		Kind:    InquiryWaitlist,
		Name:    "Camille Durand",
		Email:   "camille@example.test",
		Track:   "t1-en",
		Message: "line one\n<script>x</script>",
	}

	admin, err := c.WaitlistAdmin(in)
	require.NoError(t, err)
	assert.Equal(t, "[WAITLIST] t1-en", admin.Subject)
	assert.Equal(t, "camille@example.test", admin.ReplyTo)
	assert.Contains(t, admin.HTML, "line one<br/>&lt;script&gt;x&lt;/script&gt;")
	assert.NotContains(t, admin.HTML, "<script>")

	reply, err := c.WaitlistReply(in)
	require.NoError(t, err)
	assert.Equal(t, "Confirmation received", reply.Subject)
	assert.Equal(t, []string{"camille@example.test"}, reply.To)
	assert.Contains(t, reply.HTML, "Hello Camille,")
	assert.Contains(t, reply.HTML, "waiting list for <strong>t1-en</strong>")

	in.Kind = InquiryInfo
	in.Message = ""
	admin, err = c.WaitlistAdmin(in)
	require.NoError(t, err)
	assert.Equal(t, "[INFO] t1-en", admin.Subject)
	assert.NotContains(t, admin.HTML, "Message:")

	reply, err = c.WaitlistReply(in)
	require.NoError(t, err)
	assert.Contains(t, reply.HTML, "We'll get back to you shortly.")
}

func TestContact(t *testing.T) {
	c := newComposer(t)
	msg, err := c.Contact(ContactRequest{Name: "Dan", Email: "dan@example.test", Message: "Is there a French group?"})
	require.NoError(t, err)

	assert.Equal(t, "Info request — group", msg.Subject)
	assert.Equal(t, "dan@example.test", msg.ReplyTo)
	assert.Equal(t, []string{"admin@thirdpath.test"}, msg.To)
	assert.Equal(t, "Name: Dan\nEmail: dan@example.test\nGroup: -\n\nIs there a French group?", msg.Text)
}

func TestNotificationsUseTrackLink(t *testing.T) {
	rec := &recorder{}
	zoom := config.Zoom{Links: map[string]string{"ZOOM_T1_EN_LINK": "https://zoom.test/t1"}}
	n := NewNotifications(newComposer(t), rec, zoom)
	ctx := context.Background()

	require.NoError(t, n.GroupWelcome(ctx, track(t, "t1-en"), "ana@example.test"))
	require.NoError(t, n.GroupWelcome(ctx, track(t, "t2-en"), "ana@example.test"))
	require.NoError(t, n.NewSubscriber(ctx, track(t, "t1-en"), "ana@example.test", "sub_1"))

	sent := rec.messages()
	require.Len(t, sent, 3)
	assert.Contains(t, sent[0].HTML, "https://zoom.test/t1")
	assert.Contains(t, sent[1].HTML, `href="#"`)
	assert.Equal(t, "[NEW SUB] t1-en", sent[2].Subject)
}

func TestNotificationsPropagateDispatchErrors(t *testing.T) {
	rec := &recorder{err: errors.New("quota exceeded")}
	n := NewNotifications(newComposer(t), rec, config.Zoom{})
	err := n.GroupWelcome(context.Background(), track(t, "t1-en"), "ana@example.test")
	assert.EqualError(t, err, "quota exceeded")
}

func TestSMTPMailer(t *testing.T) {
	m := NewSMTPMailer("smtp.example.test", "587", "user", "secret")

	var gotAddr, gotFrom string
	var gotTo []string
	var gotBody string
	m.send = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotFrom, gotTo, gotBody = addr, from, to, string(msg)
		return nil
	}

	err := m.Send(context.Background(), Message{
		From:    "Thirdpath <hello@thirdpath.test>",
		To:      []string{"ana@example.test"},
		ReplyTo: "dan@example.test",
		Subject: "Welcome — Theme 1",
		HTML:    "<p>hi</p>",
	})
	require.NoError(t, err)

	assert.Equal(t, "smtp.example.test:587", gotAddr)
	assert.Equal(t, "hello@thirdpath.test", gotFrom)
	assert.Equal(t, []string{"ana@example.test"}, gotTo)
	assert.Contains(t, gotBody, "Reply-To: dan@example.test\r\n")
	assert.Contains(t, gotBody, "Subject: =?utf-8?q?")
	assert.True(t, strings.HasSuffix(gotBody, "\r\n\r\n<p>hi</p>"))
}

func TestSMTPMailerErrors(t *testing.T) {
	m := NewSMTPMailer("smtp.example.test", "25", "", "")
	assert.Nil(t, m.auth)

	m.send = func(string, smtp.Auth, string, []string, []byte) error { return errors.New("550 rejected") }
	err := m.Send(context.Background(), Message{To: []string{"a@example.test"}})
	assert.ErrorContains(t, err, "550 rejected")

	assert.ErrorIs(t, m.Send(context.Background(), Message{To: []string{" "}}), ErrNoRecipient)
}

func TestNewMailer(t *testing.T) {
	m, err := NewMailer(config.Mail{Provider: "resend", ResendAPIKey: "re_test"})
	require.NoError(t, err)
	assert.IsType(t, &ResendMailer{}, m)

	m, err = NewMailer(config.Mail{Provider: "smtp", SMTPHost: "localhost"})
	require.NoError(t, err)
	assert.Equal(t, "localhost:587", m.(*SMTPMailer).addr)

	m, err = NewMailer(config.Mail{Provider: "log"})
	require.NoError(t, err)
	assert.NoError(t, m.Send(context.Background(), Message{To: []string{"a@example.test"}}))

	_, err = NewMailer(config.Mail{Provider: "pigeon"})
	assert.Error(t, err)
}

func TestQueueDispatcherDeliversThroughWorkers(t *testing.T) {
	client := cachetest.Client(t, isolatedMailTestRedisDB)
	q := jobqueue.NewQueue(client, 1, jobqueue.WithPollInterval(20*time.Millisecond))
	t.Cleanup(q.Stop)

	rec := &recorder{}
	RegisterHandler(q, rec)
	q.Start()

	d := NewQueueDispatcher(q)
	msg := Message{From: "a@thirdpath.test", To: []string{"ana@example.test"}, Subject: "Confirmation received", HTML: "<p>ok</p>"}
	require.NoError(t, d.Dispatch(context.Background(), msg))

	require.Eventually(t, func() bool { return len(rec.messages()) == 1 }, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, msg, rec.messages()[0])

	assert.ErrorIs(t, d.Dispatch(context.Background(), Message{}), ErrNoRecipient)
}
