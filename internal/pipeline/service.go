package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"vigil/internal/blocklist"
	"vigil/internal/classifier"
	"vigil/internal/metrics"
	"vigil/internal/policy"
	"vigil/internal/storage"
	"vigil/internal/tracing"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// DefaultClassifyTimeout bounds one classifier call. A call that overruns it
// is a ClassifierFailure and routes to the retry path.
const DefaultClassifyTimeout = 30 * time.Second

// Config wires the service's collaborators.
type Config struct {
	Contents   ContentStore
	Decisions  DecisionStore
	Audit      AuditStore
	Reports    ReportStore
	Violations ViolationStore

	// Analytics is optional; nil disables the stats mirror.
	Analytics Analytics

	Matcher    *blocklist.Matcher
	Classifier classifier.Classifier
	Policy     policy.Policy
	Objects    storage.ObjectStore

	// ClassifyTimeout defaults to DefaultClassifyTimeout when zero.
	ClassifyTimeout time.Duration
}

// Service owns the moderation state machine. All status changes go through
// it; external collaborators only read items once they are terminal.
type Service struct {
	contents   ContentStore
	decisions  DecisionStore
	audit      AuditStore
	reports    ReportStore
	violations ViolationStore
	analytics  Analytics

	matcher    *blocklist.Matcher
	classifier classifier.Classifier
	policy     policy.Policy
	objects    storage.ObjectStore

	classifyTimeout time.Duration

	// now is swappable for tests.
	now nowFunc
}

// NewService creates a Service from its collaborators.
func NewService(cfg Config) *Service {
	timeout := cfg.ClassifyTimeout
	if timeout == 0 {
		timeout = DefaultClassifyTimeout
	}
	return &Service{
		contents:        cfg.Contents,
		decisions:       cfg.Decisions,
		audit:           cfg.Audit,
		reports:         cfg.Reports,
		violations:      cfg.Violations,
		analytics:       cfg.Analytics,
		matcher:         cfg.Matcher,
		classifier:      cfg.Classifier,
		policy:          cfg.Policy,
		objects:         cfg.Objects,
		classifyTimeout: timeout,
		now:             time.Now,
	}
}

// SubmitText moderates one text message synchronously. The item reaches a
// terminal state before this returns; text has no external dependency to
// fail, so it never enters the retry queue.
func (s *Service) SubmitText(ctx context.Context, ownerID, text string) (*ContentItem, *Decision, error) {
	if ownerID == "" {
		return nil, nil, &ValidationError{Field: "owner_id", Message: "must not be empty"}
	}
	if strings.TrimSpace(text) == "" {
		return nil, nil, &ValidationError{Field: "text", Message: "must not be empty"}
	}

	now := s.now().UTC()
	item := &ContentItem{
		ID:               uuid.NewString(),
		OwnerID:          ownerID,
		Kind:             KindText,
		Text:             text,
		Status:           StatusPending,
		CreatedAt:        now,
		LastTransitionAt: now,
	}
	if err := s.contents.Put(ctx, item); err != nil {
		return nil, nil, fmt.Errorf("failed to create content item: %w", err)
	}

	result := s.matcher.Evaluate(text)

	var decision *Decision
	var err error
	if result.Matched {
		decision, err = s.finalize(ctx, item.ID, []Status{StatusPending}, StatusBlocked, Decision{
			Outcome:      OutcomeBlock,
			ReasonCode:   ReasonBlocklistMatch,
			Reason:       "text matched blocklist",
			MatchedTerms: result.Terms,
		})
	} else {
		decision, err = s.finalize(ctx, item.ID, []Status{StatusPending}, StatusApproved, Decision{
			Outcome:    OutcomeAllow,
			ReasonCode: ReasonClean,
		})
	}
	if err != nil {
		return nil, nil, err
	}
	if decision.Outcome == OutcomeBlock {
		s.recordViolation(ctx, ownerID)
	}

	item, getErr := s.contents.Get(ctx, item.ID)
	if getErr != nil {
		return nil, nil, getErr
	}
	return item, decision, nil
}

// SubmitImage registers an uploaded image and runs the first moderation
// attempt. Called by the intake consumer when an object lands in the pending
// location; contentID comes from the storage key, so the call is idempotent
// under redelivered events: an existing PENDING record is re-driven (a crash
// between creation and the first verdict resumes here), anything further
// along is left to the scheduler or its terminal state.
func (s *Service) SubmitImage(ctx context.Context, ownerID, contentID string) (*ContentItem, error) {
	if ownerID == "" || contentID == "" {
		return nil, &ValidationError{Field: "payload_ref", Message: "owner and content id required"}
	}

	now := s.now().UTC()
	item := &ContentItem{
		ID:               contentID,
		OwnerID:          ownerID,
		Kind:             KindImage,
		PayloadRef:       storage.PendingKey(ownerID, contentID),
		Status:           StatusPending,
		CreatedAt:        now,
		LastTransitionAt: now,
	}
	err := s.contents.Put(ctx, item)
	if errors.Is(err, ErrAlreadyExists) {
		existing, getErr := s.contents.Get(ctx, contentID)
		if getErr != nil {
			return nil, getErr
		}
		if existing.Status != StatusPending {
			return existing, nil
		}
		log.Info().Str("content_id", contentID).Msg("pipeline: resuming pending item")
		item = existing
	} else if err != nil {
		return nil, fmt.Errorf("failed to create content item: %w", err)
	}

	s.moderateImage(ctx, item)

	return s.contents.Get(ctx, contentID)
}

// RetryResult describes the outcome of one retry attempt.
type RetryResult string

const (
	RetryResultApproved RetryResult = "approved"
	RetryResultBlocked  RetryResult = "blocked"
	RetryResultRequeued RetryResult = "requeued"
	RetryResultFailed   RetryResult = "failed"
	RetryResultSkipped  RetryResult = "skipped"
)

// MaxRetryAttempts is the default cap before an item goes FAILED.
const MaxRetryAttempts = 5

// RetryImage re-drives the image path for one queued item. The attempt is
// claimed by incrementing retryCount in a conditional transition, so two
// scheduler sweeps racing on the same item cannot double-process it: the
// loser sees ErrStaleTransition and skips.
func (s *Service) RetryImage(ctx context.Context, id string, maxAttempts int) (RetryResult, error) {
	var attempt int
	item, err := s.contents.Transition(ctx, id, []Status{StatusQueuedRetry}, func(it *ContentItem) error {
		it.RetryCount++
		it.LastTransitionAt = s.now().UTC()
		attempt = it.RetryCount
		return nil
	})
	if errors.Is(err, ErrStaleTransition) || errors.Is(err, ErrNotFound) {
		return RetryResultSkipped, nil
	}
	if err != nil {
		return "", err
	}

	// The attempt itself is audited even when no decision results.
	s.logAudit(ctx, AuditEntry{
		ContentID: id,
		From:      StatusQueuedRetry,
		To:        StatusQueuedRetry,
		Reason:    "retry attempt",
		Attempt:   attempt,
	})

	verdict, scores, classifyErr := s.classify(ctx, item)
	if classifyErr == nil {
		result := RetryResultApproved
		if verdict.Outcome == policy.OutcomeBlock {
			result = RetryResultBlocked
		}
		if err := s.finalizeImage(ctx, item, []Status{StatusQueuedRetry}, verdict, scores); err != nil {
			return "", err
		}
		return result, nil
	}

	log.Warn().Err(classifyErr).Str("content_id", id).Int("attempt", attempt).
		Msg("pipeline: classifier attempt failed")

	if attempt >= maxAttempts {
		// Terminal failure: no ALLOW/BLOCK decision is ever recorded. The
		// item stays non-visible and is flagged for operator attention.
		_, err := s.contents.Transition(ctx, id, []Status{StatusQueuedRetry}, func(it *ContentItem) error {
			it.Status = StatusFailed
			it.LastTransitionAt = s.now().UTC()
			return nil
		})
		if err != nil && !errors.Is(err, ErrStaleTransition) {
			return "", err
		}
		s.logAudit(ctx, AuditEntry{
			ContentID: id,
			From:      StatusQueuedRetry,
			To:        StatusFailed,
			Reason:    ReasonRetryExhausted,
			Attempt:   attempt,
		})
		metrics.TransitionsTotal.WithLabelValues(string(StatusQueuedRetry), string(StatusFailed)).Inc()
		log.Error().Str("content_id", id).Int("attempts", attempt).
			Msg("pipeline: retries exhausted, item failed")
		return RetryResultFailed, nil
	}

	return RetryResultRequeued, nil
}

// GetItem returns an item together with its decision history.
func (s *Service) GetItem(ctx context.Context, id string) (*ContentItem, []Decision, error) {
	item, err := s.contents.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	decisions, err := s.decisions.ListByContent(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	// A terminal allow/block state with no decision means a transition was
	// dropped somewhere. Surface it; the item itself is still returned.
	if (item.Status == StatusApproved || item.Status == StatusBlocked) && len(decisions) == 0 {
		metrics.IntegrityViolationsTotal.Inc()
		log.Error().Str("content_id", id).Str("status", string(item.Status)).
			Msg("pipeline: terminal item has no decision record")
	}
	return item, decisions, nil
}

// SubmitReport files a report against an existing content item. Reports never
// alter the referenced item's moderation state.
func (s *Service) SubmitReport(ctx context.Context, reporterID, contentID, category, description string) (*Report, error) {
	if reporterID == "" {
		return nil, &ValidationError{Field: "reporter_id", Message: "must not be empty"}
	}
	if contentID == "" {
		return nil, &ValidationError{Field: "content_id", Message: "must not be empty"}
	}
	if !ValidReportCategory(category) {
		return nil, &ValidationError{Field: "category", Message: "unknown category"}
	}
	if len(description) > MaxReportDescriptionLength {
		return nil, &ValidationError{
			Field:   "description",
			Message: fmt.Sprintf("must be at most %d characters", MaxReportDescriptionLength),
		}
	}

	item, err := s.contents.Get(ctx, contentID)
	if err != nil {
		return nil, err
	}
	if item.OwnerID == reporterID {
		return nil, &ValidationError{Field: "content_id", Message: "cannot report your own content"}
	}

	dup, err := s.reports.HasReported(ctx, reporterID, contentID)
	if err != nil {
		return nil, err
	}
	if dup {
		return nil, ErrDuplicateReport
	}

	report := &Report{
		ID:          uuid.NewString(),
		ContentID:   contentID,
		ReporterID:  reporterID,
		Category:    ReportCategory(category),
		Description: description,
		SubmittedAt: s.now().UTC(),
	}
	if err := s.reports.Create(ctx, report); err != nil {
		return nil, fmt.Errorf("failed to create report: %w", err)
	}

	metrics.ReportsTotal.WithLabelValues(category).Inc()
	s.mirrorReport(ctx, report)

	log.Info().Str("report_id", report.ID).Str("content_id", contentID).
		Str("category", category).Msg("pipeline: report submitted")
	return report, nil
}

// ListReports returns reports for one content item, or the most recent
// reports overall when contentID is empty. Operator endpoint.
func (s *Service) ListReports(ctx context.Context, contentID string, limit int) ([]Report, error) {
	if contentID != "" {
		return s.reports.ListByContent(ctx, contentID)
	}
	return s.reports.ListRecent(ctx, limit)
}

// RecentAudit returns the newest audit entries. Operator endpoint.
func (s *Service) RecentAudit(ctx context.Context, limit int) ([]AuditEntry, error) {
	return s.audit.ListRecent(ctx, limit)
}

// StatusCounts returns item counts per status, for the gauge collector.
func (s *Service) StatusCounts(ctx context.Context) (map[Status]int, error) {
	return s.contents.CountByStatus(ctx)
}

// moderateImage runs one image moderation attempt. On classifier failure the
// item moves to QUEUED_RETRY with retryCount untouched; the scheduler owns
// every subsequent attempt.
func (s *Service) moderateImage(ctx context.Context, item *ContentItem) {
	from := []Status{StatusPending}

	verdict, scores, err := s.classify(ctx, item)
	if err != nil {
		log.Warn().Err(err).Str("content_id", item.ID).
			Msg("pipeline: classifier failed, queueing for retry")

		_, terr := s.contents.Transition(ctx, item.ID, from, func(it *ContentItem) error {
			it.Status = StatusQueuedRetry
			it.LastTransitionAt = s.now().UTC()
			return nil
		})
		if terr != nil {
			if !errors.Is(terr, ErrStaleTransition) {
				log.Error().Err(terr).Str("content_id", item.ID).Msg("pipeline: failed to queue item")
			}
			return
		}
		s.logAudit(ctx, AuditEntry{
			ContentID: item.ID,
			From:      StatusPending,
			To:        StatusQueuedRetry,
			Reason:    ReasonClassifierFail,
		})
		metrics.TransitionsTotal.WithLabelValues(string(StatusPending), string(StatusQueuedRetry)).Inc()
		return
	}

	if err := s.finalizeImage(ctx, item, from, verdict, scores); err != nil {
		log.Error().Err(err).Str("content_id", item.ID).Msg("pipeline: failed to finalize item")
	}
}

// recordViolation bumps the owner's blocked-content counter. Informational
// signal only; a counting failure never blocks the decision.
func (s *Service) recordViolation(ctx context.Context, ownerID string) {
	count, err := s.violations.Increment(ctx, ownerID)
	if err != nil {
		log.Error().Err(err).Str("owner_id", ownerID).Msg("pipeline: failed to count violation")
		return
	}
	metrics.UserViolationsTotal.Inc()
	log.Info().Str("owner_id", ownerID).Int("violations", count).
		Msg("pipeline: owner violation recorded")
}

// classify fetches the image bytes and calls the external classifier under a
// timeout, then applies the verdict policy. The raw scores come back with the
// verdict so the decision record can snapshot them. Any failure here is a
// ClassifierFailure; the policy itself cannot fail.
func (s *Service) classify(ctx context.Context, item *ContentItem) (policy.Verdict, classifier.Scores, error) {
	data, err := s.objects.Fetch(ctx, item.PayloadRef)
	if err != nil {
		return policy.Verdict{}, nil, fmt.Errorf("failed to fetch payload: %w", err)
	}

	cctx, cancel := context.WithTimeout(ctx, s.classifyTimeout)
	defer cancel()

	cctx, span := tracing.ClassifierSpan(cctx, item.ID, item.RetryCount)
	start := s.now()
	scores, err := s.classifier.Classify(cctx, data)
	metrics.ClassifierCallDuration.Observe(time.Since(start).Seconds())
	tracing.EndWithError(span, err)
	span.End()
	if err != nil {
		metrics.ClassifierCallsTotal.WithLabelValues("error").Inc()
		return policy.Verdict{}, nil, err
	}
	metrics.ClassifierCallsTotal.WithLabelValues("ok").Inc()

	return s.policy.Decide(scores), scores, nil
}

// finalizeImage moves an image item to its terminal state, snapshotting the
// raw classifier scores on the decision, and performs the storage side
// effect: publish on allow, delete on block.
func (s *Service) finalizeImage(ctx context.Context, item *ContentItem, from []Status, verdict policy.Verdict, scores classifier.Scores) error {
	if verdict.Outcome == policy.OutcomeBlock {
		_, err := s.finalize(ctx, item.ID, from, StatusBlocked, Decision{
			Outcome:    OutcomeBlock,
			ReasonCode: ReasonSafeSearch,
			Reason:     verdict.Reason,
			Confidence: scores,
		})
		if err != nil {
			return err
		}

		// Blocked bytes must not linger in storage. A delete failure leaves
		// the object in the never-visible pending location, so it is logged
		// rather than escalated.
		if err := s.objects.Delete(ctx, item.PayloadRef); err != nil {
			log.Error().Err(err).Str("key", item.PayloadRef).Msg("pipeline: failed to delete blocked object")
		}

		s.recordViolation(ctx, item.OwnerID)
		return nil
	}

	_, err := s.finalize(ctx, item.ID, from, StatusApproved, Decision{
		Outcome:    OutcomeAllow,
		ReasonCode: ReasonClean,
		Confidence: scores,
	})
	if err != nil {
		return err
	}

	if err := s.objects.Publish(ctx, item.PayloadRef); err != nil {
		log.Error().Err(err).Str("key", item.PayloadRef).Msg("pipeline: failed to publish approved object")
	}
	return nil
}

// finalize transitions an item to a terminal allow/block state and appends
// exactly one decision plus one audit entry for the transition. The status
// CAS runs first: once it succeeds this attempt owns the item, and a racing
// attempt no-ops with ErrStaleTransition.
func (s *Service) finalize(ctx context.Context, id string, from []Status, to Status, d Decision) (*Decision, error) {
	var fromStatus Status
	item, err := s.contents.Transition(ctx, id, from, func(it *ContentItem) error {
		fromStatus = it.Status
		it.Status = to
		it.LastTransitionAt = s.now().UTC()
		return nil
	})
	if err != nil {
		return nil, err
	}

	d.ID = uuid.NewString()
	d.ContentID = id
	d.DecidedAt = item.LastTransitionAt
	if err := s.decisions.Append(ctx, &d); err != nil {
		// The transition landed but its decision did not: an integrity
		// violation by definition. Logged for operators; the item is already
		// terminal and restrictive defaults keep blocked content invisible.
		metrics.IntegrityViolationsTotal.Inc()
		log.Error().Err(err).Str("content_id", id).Msg("pipeline: failed to append decision")
		return nil, err
	}

	s.logAudit(ctx, AuditEntry{
		ContentID: id,
		From:      fromStatus,
		To:        to,
		Reason:    d.ReasonCode,
		Attempt:   item.RetryCount,
	})

	metrics.TransitionsTotal.WithLabelValues(string(fromStatus), string(to)).Inc()
	metrics.DecisionsTotal.WithLabelValues(string(item.Kind), string(d.Outcome), d.ReasonCode).Inc()
	s.mirrorDecision(ctx, &d)

	log.Info().Str("content_id", id).Str("outcome", string(d.Outcome)).
		Str("reason", d.ReasonCode).Msg("pipeline: decision recorded")
	return &d, nil
}

func (s *Service) logAudit(ctx context.Context, entry AuditEntry) {
	entry.ID = uuid.NewString()
	entry.At = s.now().UTC()
	if err := s.audit.Log(ctx, &entry); err != nil {
		metrics.IntegrityViolationsTotal.Inc()
		log.Error().Err(err).Str("content_id", entry.ContentID).Msg("pipeline: failed to write audit entry")
	}
}

func (s *Service) mirrorDecision(ctx context.Context, d *Decision) {
	if s.analytics == nil {
		return
	}
	if err := s.analytics.RecordDecision(ctx, d); err != nil {
		log.Warn().Err(err).Str("decision_id", d.ID).Msg("pipeline: analytics mirror failed")
	}
}

func (s *Service) mirrorReport(ctx context.Context, r *Report) {
	if s.analytics == nil {
		return
	}
	if err := s.analytics.RecordReport(ctx, r); err != nil {
		log.Warn().Err(err).Str("report_id", r.ID).Msg("pipeline: analytics mirror failed")
	}
}
