package mail

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestCodeReviewTemplate(t *testing.T) {
	tpls, err := NewTemplates()
	assert.NoError(t, err)

	subject, body, err := tpls.CodeReview(CodeReviewMail{
		UserName:    "Alice",
		GroupName:   "backend",
		ProjectName: "billing",
		ProjectURL:  "https://gitlab.example.com/backend/billing",
		Branch:      "feature/invoices",
		ReviewLink:  "https://cr.example.com/review/10/feature%2Finvoices/7/abc123def4",
	})

	assert.NoError(t, err)
	assert.Equal(t, "Your Branch Push", subject)
	assert.Contains(t, body, "Alice")
	assert.Contains(t, body, "feature/invoices")
	assert.Contains(t, body, "https://cr.example.com/review/10/feature%2Finvoices/7/abc123def4")
}

func TestMergeRequestTemplate(t *testing.T) {
	tpls, err := NewTemplates()
	assert.NoError(t, err)

	subject, body, err := tpls.MergeRequest(MergeRequestMail{
		AuthorName:       "Alice",
		GroupName:        "backend",
		ProjectName:      "billing",
		SourceBranch:     "feature/invoices",
		TargetBranch:     "develop",
		Title:            "Add invoice export",
		Description:      "Exports invoices as CSV.",
		MergeRequestLink: "https://gitlab.example.com/backend/billing/merge_requests/12",
	})

	assert.NoError(t, err)
	assert.Equal(t, "Code Review/Merge Request", subject)
	assert.Contains(t, body, "feature/invoices")
	assert.Contains(t, body, "develop")
	assert.Contains(t, body, "Add invoice export")
}

func TestTemplateEscapesHTML(t *testing.T) {
	tpls, err := NewTemplates()
	assert.NoError(t, err)

	_, body, err := tpls.MergeRequest(MergeRequestMail{
		Title: `<script>alert("x")</script>`,
	})

	assert.NoError(t, err)
	assert.NotContains(t, body, "<script>")
}

func TestDisabledSenderIsNoop(t *testing.T) {
	s := NewSMTPSender("", 0, "", "", "cr@example.com", "Simple Review", zap.NewNop())

	err := s.Send(context.Background(), []string{"a@example.com"}, "subj", "<p>hi</p>")
	assert.NoError(t, err)
}
