package submissions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lanternworks/reflections/backend/internal/moderation"
	"github.com/lanternworks/reflections/backend/internal/ratelimit"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	errMissingLimiter    = errors.New("rate limiter is required")
	errMissingClassifier = errors.New("moderation classifier is required")
	noOpLogger           = zap.NewNop()
)

// ServiceError carries an operation.reason code alongside the underlying cause.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew = "submissions.service.new"
	opSubmit     = "submissions.submit"
	opFeed       = "submissions.feed"
	opRandom     = "submissions.random"
)

const defaultFeedLimit = 100

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// IDProvider issues unique submission identifiers.
type IDProvider interface {
	NewID() (string, error)
}

// ServiceConfig bundles the dependencies of the submission service.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Limiter    ratelimit.Limiter
	Classifier moderation.Classifier
	FeedLimit  int
	Logger     *zap.Logger
}

// Service orchestrates the submission pipeline and the approved-only read
// projections over the store.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	limiter    ratelimit.Limiter
	classifier moderation.Classifier
	feedLimit  int
	logger     *zap.Logger
}

// NewService constructs the submission service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}
	if cfg.Limiter == nil {
		return nil, newServiceError(opServiceNew, "missing_limiter", errMissingLimiter)
	}
	if cfg.Classifier == nil {
		return nil, newServiceError(opServiceNew, "missing_classifier", errMissingClassifier)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	feedLimit := cfg.FeedLimit
	if feedLimit <= 0 {
		feedLimit = defaultFeedLimit
	}

	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Service{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		limiter:    cfg.Limiter,
		classifier: cfg.Classifier,
		feedLimit:  feedLimit,
		logger:     logger,
	}, nil
}

// SubmitRequest describes one submission attempt.
type SubmitRequest struct {
	Text     string
	Name     string
	Identity string
}

// SubmitResult reports the stored identifier and the status visible to the caller.
type SubmitResult struct {
	ID     string
	Status Status
}

// Submit runs the pipeline: validate, admit, persist pending, moderate,
// finalize. Validation and throttling fail before any side effect. Once the
// pending row is written the submission is accepted: a classifier outage
// leaves it pending and the caller still receives the identifier.
func (s *Service) Submit(ctx context.Context, request SubmitRequest) (SubmitResult, error) {
	text, err := NewSubmissionText(request.Text)
	if err != nil {
		return SubmitResult{}, err
	}
	name := NewDisplayName(request.Name)

	if s.db == nil {
		s.logError(opSubmit, "missing_database", errMissingDatabase)
		return SubmitResult{}, newServiceError(opSubmit, "missing_database", errMissingDatabase)
	}
	if s.limiter == nil || s.idProvider == nil || s.classifier == nil {
		s.logError(opSubmit, "missing_dependencies", errMissingLimiter)
		return SubmitResult{}, newServiceError(opSubmit, "missing_dependencies", errMissingLimiter)
	}

	decision := s.limiter.Admit(ctx, request.Identity)
	if !decision.Allowed {
		return SubmitResult{}, &ThrottledError{RetryAfter: decision.RetryAfter}
	}

	submissionID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opSubmit, "id_generation_failed", err)
		return SubmitResult{}, newServiceError(opSubmit, "id_generation_failed", err)
	}

	record := Submission{
		SubmissionID:     submissionID,
		Text:             text.String(),
		DisplayName:      name,
		Status:           StatusPending,
		CreatedAtSeconds: s.clock().UTC().Unix(),
	}
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		s.logError(opSubmit, "submission_insert_failed", err)
		return SubmitResult{}, newServiceError(opSubmit, "submission_insert_failed", err)
	}

	verdict, err := s.classifier.Classify(ctx, text.String())
	if err != nil {
		s.logger.Warn("moderation unavailable, submission left pending",
			zap.String("submission_id", submissionID), zap.Error(err))
		return SubmitResult{ID: submissionID, Status: StatusPending}, nil
	}

	finalStatus := StatusRejected
	if verdict == moderation.VerdictAllow {
		finalStatus = StatusApproved
	}

	if err := s.finalizeStatus(ctx, submissionID, finalStatus); err != nil {
		s.logError(opSubmit, "status_update_failed", err,
			zap.String("submission_id", submissionID))
		return SubmitResult{ID: submissionID, Status: StatusPending}, nil
	}

	return SubmitResult{ID: submissionID, Status: finalStatus}, nil
}

// finalizeStatus records the single allowed transition out of pending. The
// pending guard in the WHERE clause keeps a row that already reached a
// terminal status from ever changing again.
func (s *Service) finalizeStatus(ctx context.Context, submissionID string, status Status) error {
	result := s.db.WithContext(ctx).Model(&Submission{}).
		Where("submission_id = ? AND status = ?", submissionID, StatusPending).
		Update("status", status)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("submission %s is not pending", submissionID)
	}
	return nil
}

// Feed returns approved submissions ordered newest first. A non-positive or
// oversized limit falls back to the configured maximum.
func (s *Service) Feed(ctx context.Context, limit, offset int) ([]Submission, error) {
	if s.db == nil {
		s.logError(opFeed, "missing_database", errMissingDatabase)
		return nil, newServiceError(opFeed, "missing_database", errMissingDatabase)
	}
	if limit <= 0 || limit > s.feedLimit {
		limit = s.feedLimit
	}
	if offset < 0 {
		offset = 0
	}

	var records []Submission
	if err := s.db.WithContext(ctx).
		Where("status = ?", StatusApproved).
		Order("created_at_s DESC").
		Limit(limit).
		Offset(offset).
		Find(&records).Error; err != nil {
		s.logError(opFeed, "query_failed", err)
		return nil, newServiceError(opFeed, "query_failed", err)
	}

	return records, nil
}

// Random selects uniformly at random among approved submissions. An empty
// approved set yields ErrNoApprovedSubmissions.
func (s *Service) Random(ctx context.Context) (Submission, error) {
	if s.db == nil {
		s.logError(opRandom, "missing_database", errMissingDatabase)
		return Submission{}, newServiceError(opRandom, "missing_database", errMissingDatabase)
	}

	var record Submission
	err := s.db.WithContext(ctx).
		Where("status = ?", StatusApproved).
		Order("RANDOM()").
		Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Submission{}, ErrNoApprovedSubmissions
	}
	if err != nil {
		s.logError(opRandom, "query_failed", err)
		return Submission{}, newServiceError(opRandom, "query_failed", err)
	}

	return record, nil
}

func (s *Service) loggerOrDefault() *zap.Logger {
	if s == nil || s.logger == nil {
		return noOpLogger
	}
	return s.logger
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.loggerOrDefault().Error("submissions service error", attrs...)
}
