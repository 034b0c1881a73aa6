// Package pipeline owns the moderation lifecycle of submitted content: the
// state machine from submission to a terminal verdict, the decision and audit
// records for every transition, and the retry scheduler for classifier
// outages.
package pipeline

import (
	"time"

	"vigil/internal/classifier"
)

// Kind distinguishes the two moderation paths.
type Kind string

const (
	KindImage Kind = "image"
	KindText  Kind = "text"
)

// Status is a content item's position in the state machine.
type Status string

const (
	StatusPending     Status = "pending"
	StatusApproved    Status = "approved"
	StatusBlocked     Status = "blocked"
	StatusQueuedRetry Status = "queued_retry"
	StatusFailed      Status = "failed"
)

// Terminal reports whether no further transition is permitted from s.
func (s Status) Terminal() bool {
	return s == StatusApproved || s == StatusBlocked || s == StatusFailed
}

// Statuses returns every status, in a fixed order, for gauges and listings.
func Statuses() []Status {
	return []Status{StatusPending, StatusApproved, StatusBlocked, StatusQueuedRetry, StatusFailed}
}

// ContentItem is one submitted image or text message. Created by the intake
// boundary, mutated exclusively through ContentStore.Transition, and read by
// external collaborators only once terminal.
type ContentItem struct {
	ID      string `json:"id"`
	OwnerID string `json:"owner_id"`
	Kind    Kind   `json:"kind"`

	// PayloadRef is the object-store key for images. Empty for text.
	PayloadRef string `json:"payload_ref,omitempty"`

	// Text is the raw message for text items. Never persisted anywhere a
	// non-moderator can read it before approval.
	Text string `json:"text,omitempty"`

	Status           Status    `json:"status"`
	CreatedAt        time.Time `json:"created_at"`
	LastTransitionAt time.Time `json:"last_transition_at"`
	RetryCount       int       `json:"retry_count"`
}

// Outcome is the verdict recorded in a ModerationDecision.
type Outcome string

const (
	OutcomeAllow Outcome = "allow"
	OutcomeBlock Outcome = "block"
)

// Reason codes for decisions and audit entries.
const (
	ReasonClean          = "clean"
	ReasonBlocklistMatch = "blocklist_match"
	ReasonSafeSearch     = "safesearch"
	ReasonClassifierFail = "classifier_failure"
	ReasonRetryExhausted = "retry_exhausted"
)

// Decision is the immutable record of one verdict. Append-only: never mutated
// or deleted, even if the content itself is later removed from storage.
type Decision struct {
	ID         string  `json:"id"`
	ContentID  string  `json:"content_id"`
	Outcome    Outcome `json:"outcome"`
	ReasonCode string  `json:"reason_code"`
	Reason     string  `json:"reason,omitempty"`

	// Confidence snapshots the raw classifier scores for image decisions.
	Confidence classifier.Scores `json:"confidence,omitempty"`

	// MatchedTerms lists every blocklist hit for text decisions.
	MatchedTerms []string `json:"matched_terms,omitempty"`

	DecidedAt time.Time `json:"decided_at"`
}

// AuditEntry records one state transition, including retry attempts that
// produce no decision. Absence of any record for a transition is an integrity
// violation.
type AuditEntry struct {
	ID        string    `json:"id"`
	ContentID string    `json:"content_id"`
	From      Status    `json:"from"`
	To        Status    `json:"to"`
	Reason    string    `json:"reason,omitempty"`
	Attempt   int       `json:"attempt,omitempty"`
	At        time.Time `json:"at"`
}

// ReportCategory classifies a user report.
type ReportCategory string

const (
	ReportCategorySpam          ReportCategory = "spam"
	ReportCategoryHarassment    ReportCategory = "harassment"
	ReportCategoryInappropriate ReportCategory = "inappropriate"
	ReportCategoryOther         ReportCategory = "other"
)

// ReportCategories returns the valid categories, in a fixed order.
func ReportCategories() []ReportCategory {
	return []ReportCategory{
		ReportCategorySpam,
		ReportCategoryHarassment,
		ReportCategoryInappropriate,
		ReportCategoryOther,
	}
}

// ValidReportCategory reports whether s names a known category.
func ValidReportCategory(s string) bool {
	for _, c := range ReportCategories() {
		if string(c) == s {
			return true
		}
	}
	return false
}

// MaxReportDescriptionLength bounds the free-text description of a report.
const MaxReportDescriptionLength = 1000

// Report is a user-submitted complaint about an existing content item.
// Created once, never mutated, never deleted. Reports do not alter the
// referenced item's moderation state.
type Report struct {
	ID          string         `json:"id"`
	ContentID   string         `json:"content_id"`
	ReporterID  string         `json:"reporter_id"`
	Category    ReportCategory `json:"category"`
	Description string         `json:"description,omitempty"`
	SubmittedAt time.Time      `json:"submitted_at"`
}
