package mail

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"html/template"

	"go.uber.org/zap"
	gomail "gopkg.in/gomail.v2"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

const (
	codeReviewSubject   = "Your Branch Push"
	mergeRequestSubject = "Code Review/Merge Request"
)

// Sender delivers a rendered notification to a recipient list. Delivery
// failure is opaque to the event processor: it is logged and never retried
// inline.
type Sender interface {
	Send(ctx context.Context, to []string, subject, htmlBody string) error
}

// CodeReviewMail is the view data for the "push ready for review"
// notification sent to the pusher.
type CodeReviewMail struct {
	UserName    string
	GroupName   string
	ProjectName string
	ProjectURL  string
	Branch      string
	ReviewLink  string
}

// MergeRequestMail is the view data for the "merge request ready for
// review" notification sent to the reviewer set.
type MergeRequestMail struct {
	AuthorName       string
	GroupName        string
	ProjectName      string
	ProjectURL       string
	SourceBranch     string
	TargetBranch     string
	Title            string
	Description      string
	MergeRequestLink string
}

// Templates renders the notification bodies.
type Templates struct {
	codeReview   *template.Template
	mergeRequest *template.Template
}

func NewTemplates() (*Templates, error) {
	cr, err := template.ParseFS(templateFS, "templates/code_review.html.tmpl")
	if err != nil {
		return nil, fmt.Errorf("parse code review template: %w", err)
	}
	mr, err := template.ParseFS(templateFS, "templates/merge_request.html.tmpl")
	if err != nil {
		return nil, fmt.Errorf("parse merge request template: %w", err)
	}
	return &Templates{codeReview: cr, mergeRequest: mr}, nil
}

func (t *Templates) CodeReview(data CodeReviewMail) (subject, body string, err error) {
	var buf bytes.Buffer
	if err := t.codeReview.Execute(&buf, data); err != nil {
		return "", "", fmt.Errorf("render code review mail: %w", err)
	}
	return codeReviewSubject, buf.String(), nil
}

func (t *Templates) MergeRequest(data MergeRequestMail) (subject, body string, err error) {
	var buf bytes.Buffer
	if err := t.mergeRequest.Execute(&buf, data); err != nil {
		return "", "", fmt.Errorf("render merge request mail: %w", err)
	}
	return mergeRequestSubject, buf.String(), nil
}

// SMTPSender sends mail through an SMTP relay. When no host is configured
// the sender is disabled and Send becomes a logged no-op, which keeps
// development setups working without a mail server.
type SMTPSender struct {
	dialer    *gomail.Dialer
	fromEmail string
	fromName  string
	enabled   bool
	log       *zap.Logger
}

func NewSMTPSender(host string, port int, username, password, fromEmail, fromName string, logger *zap.Logger) *SMTPSender {
	s := &SMTPSender{fromEmail: fromEmail, fromName: fromName, log: logger}
	if host == "" || port <= 0 {
		logger.Warn("smtp host not configured, outbound mail disabled")
		return s
	}
	s.dialer = gomail.NewDialer(host, port, username, password)
	s.enabled = true
	return s
}

func (s *SMTPSender) Send(ctx context.Context, to []string, subject, htmlBody string) error {
	if !s.enabled {
		s.log.Info("mail disabled, skipping send", zap.Strings("to", to), zap.String("subject", subject))
		return nil
	}
	if len(to) == 0 {
		return fmt.Errorf("no recipients")
	}

	m := gomail.NewMessage()
	m.SetAddressHeader("From", s.fromEmail, s.fromName)
	m.SetHeader("To", to...)
	m.SetHeader("Subject", subject)
	m.SetBody("text/html", htmlBody)

	// gomail has no context support; bound the send with the caller's
	// deadline so a stuck relay cannot wedge event processing.
	done := make(chan error, 1)
	go func() { done <- s.dialer.DialAndSend(m) }()
	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("smtp send: %w", err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("smtp send: %w", ctx.Err())
	}
}
