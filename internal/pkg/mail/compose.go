package mail

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"strings"

	"github.com/gofiber/template/html/v2"

	"github.com/thirdpath/thirdpath/app/models"
)

//go:embed templates/*.html
var templatesFS embed.FS

// InquiryKind separates waitlist sign-ups from plain information requests.
type InquiryKind string

const (
	InquiryWaitlist InquiryKind = "waitlist"
	InquiryInfo     InquiryKind = "info"
)

// Inquiry is a waitlist or info form submission.
type Inquiry struct {
	Kind    InquiryKind
	Name    string
	Email   string
	Track   string
	Message string
}

func (i Inquiry) tag() string {
	if i.Kind == InquiryInfo {
		return "[INFO]"
	}
	return "[WAITLIST]"
}

func (i Inquiry) firstName() string {
	if f := strings.Fields(i.Name); len(f) > 0 {
		return f[0]
	}
	return ""
}

// ContactRequest is a contact form submission.
type ContactRequest struct {
	Name    string
	Email   string
	Group   string
	Message string
}

// Composer renders the service's mails. Template data is escaped by
// html/template, so form input can be passed through unchanged.
type Composer struct {
	engine *html.Engine
	from   string
	admin  string
}

func NewComposer(from, admin string) (*Composer, error) {
	sub, err := fs.Sub(templatesFS, "templates")
	if err != nil {
		return nil, err
	}
	engine := html.NewFileSystem(http.FS(sub), ".html")
	engine.AddFunc("nl2br", nl2br)
	if err := engine.Load(); err != nil {
		return nil, fmt.Errorf("failed to load mail templates: %w", err)
	}
	return &Composer{engine: engine, from: from, admin: admin}, nil
}

func nl2br(s string) template.HTML {
	escaped := template.HTMLEscapeString(strings.ReplaceAll(s, "\r\n", "\n"))
	return template.HTML(strings.ReplaceAll(escaped, "\n", "<br/>"))
}

func (c *Composer) render(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := c.engine.Render(&buf, name, data); err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}
	return strings.TrimSpace(buf.String()), nil
}

// Welcome is the purchaser mail carrying the session link.
func (c *Composer) Welcome(track models.Track, email, link string) (Message, error) {
	body, err := c.render("welcome", map[string]any{
		"FirstSession": track.FirstSession,
		"Link":         link,
	})
	if err != nil {
		return Message{}, err
	}
	return Message{
		From:    c.from,
		To:      []string{email},
		Subject: track.WelcomeSubject(),
		HTML:    body,
	}, nil
}

// NewSubscriber tells the practice about a confirmed group subscription.
func (c *Composer) NewSubscriber(track models.Track, email, subscriptionID string) (Message, error) {
	if subscriptionID == "" {
		subscriptionID = "n/a"
	}
	body, err := c.render("new_subscriber", map[string]any{
		"Track":        string(track.ID),
		"Email":        email,
		"Subscription": subscriptionID,
	})
	if err != nil {
		return Message{}, err
	}
	return Message{
		From:    c.from,
		To:      []string{c.admin},
		Subject: "[NEW SUB] " + string(track.ID),
		HTML:    body,
	}, nil
}

func (c *Composer) WaitlistAdmin(in Inquiry) (Message, error) {
	body, err := c.render("waitlist_admin", map[string]any{
		"Tag":     in.tag(),
		"Track":   in.Track,
		"Name":    in.Name,
		"Email":   in.Email,
		"Message": in.Message,
	})
	if err != nil {
		return Message{}, err
	}
	return Message{
		From:    c.from,
		To:      []string{c.admin},
		ReplyTo: in.Email,
		Subject: in.tag() + " " + in.Track,
		HTML:    body,
	}, nil
}

// WaitlistReply is the auto-reply sent to the person who filled the form.
func (c *Composer) WaitlistReply(in Inquiry) (Message, error) {
	body, err := c.render("waitlist_reply", map[string]any{
		"FirstName": in.firstName(),
		"Track":     in.Track,
		"Waitlist":  in.Kind != InquiryInfo,
	})
	if err != nil {
		return Message{}, err
	}
	return Message{
		From:    c.from,
		To:      []string{in.Email},
		Subject: "Confirmation received",
		HTML:    body,
	}, nil
}

// Contact forwards a contact form to the practice. Replies go to the sender.
func (c *Composer) Contact(req ContactRequest) (Message, error) {
	subject, group := "group", "-"
	if req.Group != "" {
		subject, group = req.Group, req.Group
	}
	body, err := c.render("contact", map[string]any{
		"Name":    req.Name,
		"Email":   req.Email,
		"Group":   group,
		"Message": req.Message,
	})
	if err != nil {
		return Message{}, err
	}
	return Message{
		From:    c.from,
		To:      []string{c.admin},
		ReplyTo: req.Email,
		Subject: "Info request — " + subject,
		HTML:    body,
		Text:    fmt.Sprintf("Name: %s\nEmail: %s\nGroup: %s\n\n%s", req.Name, req.Email, group, req.Message),
	}, nil
}
