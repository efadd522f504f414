package submissions

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/lanternworks/reflections/backend/internal/moderation"
	"github.com/lanternworks/reflections/backend/internal/ratelimit"
	"gorm.io/gorm"
)

type staticIDGenerator struct {
	ids   []string
	index int
}

func (g *staticIDGenerator) NewID() (string, error) {
	if g.index >= len(g.ids) {
		return "", errors.New("exhausted ids")
	}
	id := g.ids[g.index]
	g.index++
	return id, nil
}

type stubLimiter struct {
	decision ratelimit.Decision
	calls    int
}

func (l *stubLimiter) Admit(_ context.Context, _ string) ratelimit.Decision {
	l.calls++
	return l.decision
}

type stubClassifier struct {
	verdict moderation.Verdict
	err     error
	calls   int
}

func (c *stubClassifier) Classify(_ context.Context, _ string) (moderation.Verdict, error) {
	c.calls++
	return c.verdict, c.err
}

type serviceFixture struct {
	service    *Service
	db         *gorm.DB
	limiter    *stubLimiter
	classifier *stubClassifier
}

func newServiceFixture(t *testing.T, ids []string) *serviceFixture {
	t.Helper()

	dsn := fmt.Sprintf("file:reflections_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Submission{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	limiter := &stubLimiter{decision: ratelimit.Decision{Allowed: true}}
	classifier := &stubClassifier{verdict: moderation.VerdictAllow}
	clock := func() time.Time { return time.Unix(1700000600, 0).UTC() }

	service, err := NewService(ServiceConfig{
		Database:   db,
		Clock:      clock,
		IDProvider: &staticIDGenerator{ids: ids},
		Limiter:    limiter,
		Classifier: classifier,
	})
	if err != nil {
		t.Fatalf("failed to construct submission service: %v", err)
	}

	return &serviceFixture{service: service, db: db, limiter: limiter, classifier: classifier}
}

func (f *serviceFixture) seed(t *testing.T, id string, status Status, createdAt int64) {
	t.Helper()
	record := Submission{
		SubmissionID:     id,
		Text:             "seeded " + id,
		Status:           status,
		CreatedAtSeconds: createdAt,
	}
	if err := f.db.Create(&record).Error; err != nil {
		t.Fatalf("failed to seed submission %s: %v", id, err)
	}
}

func TestSubmitApprovesCleanText(t *testing.T) {
	fixture := newServiceFixture(t, []string{"sub-1"})

	result, err := fixture.service.Submit(context.Background(), SubmitRequest{
		Text:     "I learnt to slow down",
		Identity: "203.0.113.7",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.ID != "sub-1" {
		t.Fatalf("unexpected id %q", result.ID)
	}
	if result.Status != StatusApproved {
		t.Fatalf("expected approved status, got %s", result.Status)
	}

	var stored Submission
	if err := fixture.db.First(&stored).Error; err != nil {
		t.Fatalf("failed to load stored submission: %v", err)
	}
	if stored.Text != "I learnt to slow down" {
		t.Fatalf("unexpected stored text %q", stored.Text)
	}
	if stored.Status != StatusApproved {
		t.Fatalf("expected stored status approved, got %s", stored.Status)
	}
	if stored.DisplayName != "" {
		t.Fatalf("expected anonymous submission, got name %q", stored.DisplayName)
	}
}

func TestSubmitRejectsFlaggedText(t *testing.T) {
	fixture := newServiceFixture(t, []string{"sub-1"})
	fixture.classifier.verdict = moderation.VerdictBlock

	result, err := fixture.service.Submit(context.Background(), SubmitRequest{
		Text:     "something offensive",
		Identity: "203.0.113.7",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != StatusRejected {
		t.Fatalf("expected rejected status, got %s", result.Status)
	}

	feed, err := fixture.service.Feed(context.Background(), 0, 0)
	if err != nil {
		t.Fatalf("unexpected feed error: %v", err)
	}
	if len(feed) != 0 {
		t.Fatalf("rejected submission must not reach the feed, got %d items", len(feed))
	}
}

func TestSubmitLeavesPendingWhenModerationUnavailable(t *testing.T) {
	fixture := newServiceFixture(t, []string{"sub-1"})
	fixture.classifier.err = moderation.ErrUnavailable

	result, err := fixture.service.Submit(context.Background(), SubmitRequest{
		Text:     "valid text",
		Identity: "203.0.113.7",
	})
	if err != nil {
		t.Fatalf("classifier outage must not surface as an error: %v", err)
	}
	if result.Status != StatusPending {
		t.Fatalf("expected pending status, got %s", result.Status)
	}

	var stored Submission
	if err := fixture.db.First(&stored).Error; err != nil {
		t.Fatalf("submission must be persisted despite the outage: %v", err)
	}
	if stored.Status != StatusPending {
		t.Fatalf("expected stored status pending, got %s", stored.Status)
	}
}

func TestSubmitValidationFailurePersistsNothing(t *testing.T) {
	fixture := newServiceFixture(t, []string{"sub-1"})

	_, err := fixture.service.Submit(context.Background(), SubmitRequest{
		Text:     "   ",
		Identity: "203.0.113.7",
	})
	if !errors.Is(err, ErrInvalidText) {
		t.Fatalf("expected ErrInvalidText, got %v", err)
	}

	if fixture.limiter.calls != 0 {
		t.Fatalf("validation failure must precede admission, limiter called %d times", fixture.limiter.calls)
	}
	var count int64
	if err := fixture.db.Model(&Submission{}).Count(&count).Error; err != nil {
		t.Fatalf("failed to count submissions: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected no persisted rows, got %d", count)
	}
}

func TestSubmitThrottledShortCircuits(t *testing.T) {
	fixture := newServiceFixture(t, []string{"sub-1"})
	fixture.limiter.decision = ratelimit.Decision{Allowed: false, RetryAfter: 42 * time.Second}

	_, err := fixture.service.Submit(context.Background(), SubmitRequest{
		Text:     "valid text",
		Identity: "203.0.113.7",
	})

	var throttled *ThrottledError
	if !errors.As(err, &throttled) {
		t.Fatalf("expected ThrottledError, got %v", err)
	}
	if throttled.RetryAfter != 42*time.Second {
		t.Fatalf("unexpected retry-after %s", throttled.RetryAfter)
	}

	if fixture.classifier.calls != 0 {
		t.Fatalf("throttled attempt must not reach the classifier")
	}
	var count int64
	if err := fixture.db.Model(&Submission{}).Count(&count).Error; err != nil {
		t.Fatalf("failed to count submissions: %v", err)
	}
	if count != 0 {
		t.Fatalf("throttled attempt must persist nothing, got %d rows", count)
	}
}

func TestFeedReturnsApprovedNewestFirst(t *testing.T) {
	fixture := newServiceFixture(t, nil)
	fixture.seed(t, "old-approved", StatusApproved, 1700000100)
	fixture.seed(t, "new-approved", StatusApproved, 1700000300)
	fixture.seed(t, "pending", StatusPending, 1700000400)
	fixture.seed(t, "rejected", StatusRejected, 1700000500)

	feed, err := fixture.service.Feed(context.Background(), 0, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(feed) != 2 {
		t.Fatalf("expected 2 approved items, got %d", len(feed))
	}
	if feed[0].SubmissionID != "new-approved" || feed[1].SubmissionID != "old-approved" {
		t.Fatalf("expected newest-first ordering, got %s then %s", feed[0].SubmissionID, feed[1].SubmissionID)
	}
}

func TestFeedClampsLimitAndAppliesOffset(t *testing.T) {
	fixture := newServiceFixture(t, nil)
	for i := 0; i < 5; i++ {
		fixture.seed(t, fmt.Sprintf("sub-%d", i), StatusApproved, int64(1700000000+i))
	}

	page, err := fixture.service.Feed(context.Background(), 2, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(page) != 2 {
		t.Fatalf("expected limit to apply, got %d items", len(page))
	}

	next, err := fixture.service.Feed(context.Background(), 2, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(next) != 2 {
		t.Fatalf("expected offset page of 2, got %d items", len(next))
	}
	if next[0].SubmissionID == page[0].SubmissionID {
		t.Fatalf("expected offset to advance past the first page")
	}

	oversized, err := fixture.service.Feed(context.Background(), 10_000, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(oversized) != 5 {
		t.Fatalf("expected oversized limit to clamp, got %d items", len(oversized))
	}
}

func TestRandomFailsWhenNoApprovedSubmissions(t *testing.T) {
	fixture := newServiceFixture(t, nil)
	fixture.seed(t, "pending", StatusPending, 1700000100)

	_, err := fixture.service.Random(context.Background())
	if !errors.Is(err, ErrNoApprovedSubmissions) {
		t.Fatalf("expected ErrNoApprovedSubmissions, got %v", err)
	}
}

func TestRandomReturnsApprovedMember(t *testing.T) {
	fixture := newServiceFixture(t, nil)
	fixture.seed(t, "approved-1", StatusApproved, 1700000100)
	fixture.seed(t, "approved-2", StatusApproved, 1700000200)
	fixture.seed(t, "rejected", StatusRejected, 1700000300)

	record, err := fixture.service.Random(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if record.Status != StatusApproved {
		t.Fatalf("random pick must be approved, got %s", record.Status)
	}
	if record.SubmissionID != "approved-1" && record.SubmissionID != "approved-2" {
		t.Fatalf("random pick must be a member of the approved set, got %s", record.SubmissionID)
	}
}

func TestFinalizeStatusTransitionsAtMostOnce(t *testing.T) {
	fixture := newServiceFixture(t, nil)
	fixture.seed(t, "sub-1", StatusPending, 1700000100)

	if err := fixture.service.finalizeStatus(context.Background(), "sub-1", StatusApproved); err != nil {
		t.Fatalf("unexpected error finalizing pending submission: %v", err)
	}
	if err := fixture.service.finalizeStatus(context.Background(), "sub-1", StatusRejected); err == nil {
		t.Fatalf("expected second transition to be refused")
	}

	var stored Submission
	if err := fixture.db.Where("submission_id = ?", "sub-1").Take(&stored).Error; err != nil {
		t.Fatalf("failed to reload submission: %v", err)
	}
	if stored.Status != StatusApproved {
		t.Fatalf("terminal status must never revert, got %s", stored.Status)
	}
}
