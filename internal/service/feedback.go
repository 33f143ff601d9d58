package service

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"simats-hub/internal/auth"
	"simats-hub/internal/cooldown"
	"simats-hub/internal/models"
	"simats-hub/internal/repository"

	"github.com/go-playground/validator/v10"
	"github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

const (
	snapshotKey = "feedback:all"

	// attempts to record the cooldown when other writers keep moving it
	maxClaimAttempts = 3

	// bound on a shared listing load, independent of any one caller
	snapshotLoadTimeout = 10 * time.Second
)

var courseCodePattern = regexp.MustCompile(`^[A-Z]{3}[0-9]{2}$`)

type FeedbackService struct {
	repo     *repository.FeedbackRepo
	log      logrus.FieldLogger
	validate *validator.Validate
	now      func() time.Time

	// nil when snapshot caching is disabled
	cache      *cache.Cache
	loads      singleflight.Group
	generation atomic.Uint64
}

type Option func(*FeedbackService)

// WithClock replaces time.Now as the source of post timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *FeedbackService) {
		s.now = now
	}
}

// WithCacheTTL keeps the full feedback listing in memory for ttl.
// A ttl <= 0 disables caching.
func WithCacheTTL(ttl time.Duration) Option {
	return func(s *FeedbackService) {
		if ttl <= 0 {
			s.cache = nil
			return
		}
		s.cache = cache.New(ttl, 2*ttl)
	}
}

func NewFeedbackService(repo *repository.FeedbackRepo, log logrus.FieldLogger, opts ...Option) *FeedbackService {
	s := &FeedbackService{
		repo:     repo,
		log:      log,
		validate: newValidator(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	if err := v.RegisterValidation("coursecode", func(fl validator.FieldLevel) bool {
		return courseCodePattern.MatchString(fl.Field().String())
	}); err != nil {
		panic(fmt.Sprintf("register coursecode validation: %v", err))
	}
	return v
}

// CreateFeedback stores a new entry for author when the author is out of
// cooldown and the payload is valid. The entry is written first and the
// cooldown is then claimed with a compare-and-swap against the value read
// at the start; if a concurrent post by the same author wins that swap,
// the entry is removed again and the post is rejected.
func (s *FeedbackService) CreateFeedback(ctx context.Context, author auth.Identity, req models.CreateFeedbackRequest) (*models.Feedback, error) {
	last, err := s.repo.GetCooldown(ctx, author.UserID)
	if err != nil {
		return nil, &StorageError{Op: "read cooldown", Err: err}
	}

	now := s.now().UnixMilli()
	if d := cooldown.Evaluate(last, now); !d.Eligible {
		return nil, cooldownError(d)
	}

	req.Normalize()
	if err := s.validateRequest(req); err != nil {
		return nil, err
	}

	feedback := &models.Feedback{
		ID:            models.FeedbackID(now, author.UserID),
		CourseCode:    req.CourseCode,
		CourseName:    req.CourseName,
		FacultyName:   req.FacultyName,
		FacultyMobile: req.FacultyMobile,
		InternalMarks: *req.InternalMarks,
		Reason:        req.Reason,
		Rating:        req.Rating,
		UserEmail:     author.Email,
		CreatedAt:     now,
	}
	if err := s.repo.Put(ctx, feedback); err != nil {
		// same author, same millisecond: a concurrent post owns this id
		if errors.Is(err, repository.ErrDuplicateID) {
			return nil, cooldownError(cooldown.Evaluate(&now, now))
		}
		return nil, &StorageError{Op: "save feedback", Err: err}
	}

	if err := s.claimCooldown(ctx, author.UserID, last, now); err != nil {
		s.discard(ctx, feedback.ID)
		return nil, err
	}

	s.invalidate()
	return feedback, nil
}

func (s *FeedbackService) claimCooldown(ctx context.Context, authorID string, expected *int64, now int64) error {
	for attempt := 1; ; attempt++ {
		claimed, err := s.repo.SetCooldownIfUnchanged(ctx, authorID, expected, now)
		if err != nil {
			return &StorageError{Op: "record cooldown", Err: err}
		}
		if claimed {
			return nil
		}

		latest, err := s.repo.GetCooldown(ctx, authorID)
		if err != nil {
			return &StorageError{Op: "read cooldown", Err: err}
		}
		if d := cooldown.Evaluate(latest, now); !d.Eligible {
			return cooldownError(d)
		}
		if attempt == maxClaimAttempts {
			return &StorageError{Op: "record cooldown", Err: errors.New("cooldown changed concurrently")}
		}
		expected = latest
	}
}

func (s *FeedbackService) discard(ctx context.Context, id string) {
	if err := s.repo.Delete(ctx, id); err != nil {
		s.log.WithError(err).WithField("feedback_id", id).Error("failed to remove feedback after lost cooldown claim")
	}
}

func (s *FeedbackService) validateRequest(req models.CreateFeedbackRequest) error {
	err := s.validate.Struct(req)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("validate feedback: %w", err)
	}

	verr := &ValidationError{Message: msgInvalidFields, Fields: make(map[string]string, len(fieldErrs))}
	for _, fe := range fieldErrs {
		verr.Fields[fe.Field()] = fe.Tag()
		if fe.Tag() == "required" {
			verr.Message = msgMissingFields
		}
	}
	return verr
}

// ListFeedback returns every entry, newest first.
func (s *FeedbackService) ListFeedback(ctx context.Context) ([]models.Feedback, error) {
	all, err := s.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return slices.Clone(all), nil
}

// SearchFeedback returns entries whose faculty name, course name or course
// code contains query, ignoring case, newest first. A blank query matches
// nothing.
func (s *FeedbackService) SearchFeedback(ctx context.Context, query string) ([]models.Feedback, error) {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return []models.Feedback{}, nil
	}

	all, err := s.snapshot(ctx)
	if err != nil {
		return nil, err
	}

	results := make([]models.Feedback, 0)
	for _, f := range all {
		if matches(f, q) {
			results = append(results, f)
		}
	}
	return results, nil
}

func matches(f models.Feedback, q string) bool {
	return strings.Contains(strings.ToLower(f.FacultyName), q) ||
		strings.Contains(strings.ToLower(f.CourseName), q) ||
		strings.Contains(strings.ToLower(f.CourseCode), q)
}

// CheckEligibility reports whether the author may post now.
func (s *FeedbackService) CheckEligibility(ctx context.Context, authorID string) (cooldown.Decision, error) {
	last, err := s.repo.GetCooldown(ctx, authorID)
	if err != nil {
		return cooldown.Decision{}, &StorageError{Op: "read cooldown", Err: err}
	}
	return cooldown.Evaluate(last, s.now().UnixMilli()), nil
}

// snapshot returns all entries sorted newest first. The slice is shared
// and must not be modified.
func (s *FeedbackService) snapshot(ctx context.Context) ([]models.Feedback, error) {
	if s.cache != nil {
		if v, ok := s.cache.Get(snapshotKey); ok {
			return v.([]models.Feedback), nil
		}
	}

	gen := s.generation.Load()
	ch := s.loads.DoChan(snapshotKey, func() (interface{}, error) {
		// joined callers share this load, so it must outlive the first caller
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), snapshotLoadTimeout)
		defer cancel()

		all, err := s.repo.ListAll(loadCtx)
		if err != nil {
			return nil, err
		}
		sortNewestFirst(all)
		if s.cache != nil && s.generation.Load() == gen {
			s.cache.SetDefault(snapshotKey, all)
		}
		return all, nil
	})

	select {
	case <-ctx.Done():
		return nil, &StorageError{Op: "list feedback", Err: ctx.Err()}
	case res := <-ch:
		if res.Err != nil {
			return nil, &StorageError{Op: "list feedback", Err: res.Err}
		}
		return res.Val.([]models.Feedback), nil
	}
}

func (s *FeedbackService) invalidate() {
	s.generation.Add(1)
	s.loads.Forget(snapshotKey)
	if s.cache != nil {
		s.cache.Delete(snapshotKey)
	}
}

func sortNewestFirst(entries []models.Feedback) {
	slices.SortStableFunc(entries, func(a, b models.Feedback) int {
		if c := cmp.Compare(b.CreatedAt, a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
}

func cooldownError(d cooldown.Decision) *CooldownError {
	return &CooldownError{
		DaysRemaining: d.DaysRemaining,
		AvailableAt:   d.AvailableAt(),
	}
}
