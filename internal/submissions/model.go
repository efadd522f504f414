package submissions

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// Status enumerates the moderation lifecycle of a submission.
type Status string

const (
	// StatusPending marks a submission awaiting a moderation verdict.
	StatusPending Status = "pending"
	// StatusApproved marks a submission cleared for the public feed.
	StatusApproved Status = "approved"
	// StatusRejected marks a submission blocked by moderation.
	StatusRejected Status = "rejected"
)

const (
	maxTextLength = 280
	maxNameLength = 80
)

var (
	// ErrInvalidText indicates that submission text is empty after trimming or exceeds the length bound.
	ErrInvalidText = errors.New("submissions: invalid text")
	// ErrNoApprovedSubmissions indicates that the approved set is empty.
	ErrNoApprovedSubmissions = errors.New("submissions: no approved submissions")
)

// ThrottledError reports a submission attempt denied by admission control.
type ThrottledError struct {
	RetryAfter time.Duration
}

func (e *ThrottledError) Error() string {
	return fmt.Sprintf("submissions: rate limited, retry after %s", e.RetryAfter)
}

// SubmissionText represents validated, trimmed submission text.
type SubmissionText string

// NewSubmissionText validates raw input and returns a SubmissionText.
func NewSubmissionText(rawInput string) (SubmissionText, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidText)
	}
	if utf8.RuneCountInString(trimmed) > maxTextLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidText, maxTextLength)
	}
	return SubmissionText(trimmed), nil
}

// String returns the underlying text.
func (t SubmissionText) String() string {
	return string(t)
}

// NewDisplayName trims the optional display label and caps it at the storage
// bound. An empty result means the submission is anonymous; rendering the
// placeholder is a presentation concern, so nothing is stored in that case.
func NewDisplayName(rawInput string) string {
	trimmed := strings.TrimSpace(rawInput)
	if utf8.RuneCountInString(trimmed) <= maxNameLength {
		return trimmed
	}
	runes := []rune(trimmed)
	return strings.TrimSpace(string(runes[:maxNameLength]))
}

// Submission models the persisted reflection with its moderation state. Rows
// are append-only; the status transition is the single allowed in-place update.
type Submission struct {
	SubmissionID     string `gorm:"column:submission_id;primaryKey;size:190;not null"`
	Text             string `gorm:"column:text;type:text;not null"`
	DisplayName      string `gorm:"column:display_name;size:80;not null;default:''"`
	Status           Status `gorm:"column:status;size:16;not null;default:'pending';index:idx_submissions_status_created,priority:1"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null;index:idx_submissions_status_created,priority:2"`
}

// TableName provides the explicit table binding for GORM.
func (Submission) TableName() string {
	return "submissions"
}
