package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"simats-hub/internal/auth"
	"simats-hub/internal/kv"
	"simats-hub/internal/models"
	"simats-hub/internal/repository"

	"github.com/sirupsen/logrus/hooks/test"
)

const day = 24 * time.Hour

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	svc   *FeedbackService
	repo  *repository.FeedbackRepo
	clock *fakeClock
}

func newFixture(t *testing.T, store kv.Store, opts ...Option) *fixture {
	t.Helper()
	logger, _ := test.NewNullLogger()
	clock := &fakeClock{now: time.UnixMilli(1_700_000_000_000)}
	repo := repository.NewFeedbackRepo(store, logger)
	opts = append([]Option{WithClock(clock.Now)}, opts...)
	return &fixture{
		svc:   NewFeedbackService(repo, logger, opts...),
		repo:  repo,
		clock: clock,
	}
}

var alice = auth.Identity{UserID: "a1", Email: "123456789.simats@saveetha.com"}

func intPtr(v int) *int { return &v }

func validRequest() models.CreateFeedbackRequest {
	return models.CreateFeedbackRequest{
		CourseCode:    "CSE01",
		FacultyName:   "Dr. Meena",
		FacultyMobile: "9876543210",
		CourseName:    "Operating Systems",
		InternalMarks: intPtr(72),
		Reason:        "Explains scheduling well",
		Rating:        4,
	}
}

func TestCreateFeedback(t *testing.T) {
	f := newFixture(t, kv.NewMemory())
	ctx := context.Background()

	got, err := f.svc.CreateFeedback(ctx, alice, validRequest())
	if err != nil {
		t.Fatalf("CreateFeedback: %v", err)
	}

	now := f.clock.Now().UnixMilli()
	if got.ID != models.FeedbackID(now, alice.UserID) {
		t.Errorf("ID = %q, want %q", got.ID, models.FeedbackID(now, alice.UserID))
	}
	if got.CreatedAt != now {
		t.Errorf("CreatedAt = %d, want %d", got.CreatedAt, now)
	}
	if got.UserEmail != alice.Email || got.UserName() != "123456789.simats" {
		t.Errorf("author = %q/%q", got.UserEmail, got.UserName())
	}
	if got.InternalMarks != 72 || got.Rating != 4 {
		t.Errorf("marks/rating = %d/%d, want 72/4", got.InternalMarks, got.Rating)
	}

	last, _ := f.repo.GetCooldown(ctx, alice.UserID)
	if last == nil || *last != now {
		t.Errorf("cooldown = %v, want %d", last, now)
	}

	d, err := f.svc.CheckEligibility(ctx, alice.UserID)
	if err != nil {
		t.Fatalf("CheckEligibility: %v", err)
	}
	if d.Eligible || d.DaysRemaining != 15 {
		t.Errorf("CheckEligibility after post = %+v, want ineligible with 15 days", d)
	}
}

func TestCreateFeedback_CooldownScenario(t *testing.T) {
	f := newFixture(t, kv.NewMemory())
	ctx := context.Background()

	if _, err := f.svc.CreateFeedback(ctx, alice, validRequest()); err != nil {
		t.Fatalf("first post: %v", err)
	}

	f.clock.Advance(5 * day)
	_, err := f.svc.CreateFeedback(ctx, alice, validRequest())
	var cerr *CooldownError
	if !errors.As(err, &cerr) {
		t.Fatalf("post at day 5: err = %v, want CooldownError", err)
	}
	if cerr.DaysRemaining != 10 {
		t.Errorf("DaysRemaining = %d, want 10", cerr.DaysRemaining)
	}
	all, _ := f.svc.ListFeedback(ctx)
	if len(all) != 1 {
		t.Errorf("rejected post was written: %d entries", len(all))
	}

	f.clock.Advance(10 * day)
	if _, err := f.svc.CreateFeedback(ctx, alice, validRequest()); err != nil {
		t.Fatalf("post at day 15: %v", err)
	}
	all, _ = f.svc.ListFeedback(ctx)
	if len(all) != 2 {
		t.Errorf("entries = %d, want 2", len(all))
	}
}

func TestCreateFeedback_Validation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(r *models.CreateFeedbackRequest)
		message string
		field   string
	}{
		{"missing course code", func(r *models.CreateFeedbackRequest) { r.CourseCode = "" }, msgMissingFields, "courseCode"},
		{"blank reason", func(r *models.CreateFeedbackRequest) { r.Reason = "   " }, msgMissingFields, "reason"},
		{"missing marks", func(r *models.CreateFeedbackRequest) { r.InternalMarks = nil }, msgMissingFields, "internalMarks"},
		{"missing rating", func(r *models.CreateFeedbackRequest) { r.Rating = 0 }, msgMissingFields, "rating"},
		{"lowercase course code", func(r *models.CreateFeedbackRequest) { r.CourseCode = "cse01" }, msgInvalidFields, "courseCode"},
		{"long course code", func(r *models.CreateFeedbackRequest) { r.CourseCode = "CSE012" }, msgInvalidFields, "courseCode"},
		{"marks above range", func(r *models.CreateFeedbackRequest) { r.InternalMarks = intPtr(101) }, msgInvalidFields, "internalMarks"},
		{"negative marks", func(r *models.CreateFeedbackRequest) { r.InternalMarks = intPtr(-1) }, msgInvalidFields, "internalMarks"},
		{"rating above range", func(r *models.CreateFeedbackRequest) { r.Rating = 6 }, msgInvalidFields, "rating"},
		{"short mobile", func(r *models.CreateFeedbackRequest) { r.FacultyMobile = "98765" }, msgInvalidFields, "facultyMobile"},
		{"mobile with letters", func(r *models.CreateFeedbackRequest) { r.FacultyMobile = "98765abcde" }, msgInvalidFields, "facultyMobile"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, kv.NewMemory())
			ctx := context.Background()
			req := validRequest()
			tt.mutate(&req)

			_, err := f.svc.CreateFeedback(ctx, alice, req)
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("err = %v, want ValidationError", err)
			}
			if verr.Message != tt.message {
				t.Errorf("Message = %q, want %q", verr.Message, tt.message)
			}
			if _, ok := verr.Fields[tt.field]; !ok {
				t.Errorf("Fields = %v, want entry for %s", verr.Fields, tt.field)
			}
			if last, _ := f.repo.GetCooldown(ctx, alice.UserID); last != nil {
				t.Error("invalid post started a cooldown")
			}
		})
	}
}

func TestCreateFeedback_ZeroMarksAllowed(t *testing.T) {
	f := newFixture(t, kv.NewMemory())
	req := validRequest()
	req.InternalMarks = intPtr(0)
	req.CourseCode = " MAT02 "

	got, err := f.svc.CreateFeedback(context.Background(), alice, req)
	if err != nil {
		t.Fatalf("CreateFeedback: %v", err)
	}
	if got.InternalMarks != 0 || got.CourseCode != "MAT02" {
		t.Errorf("got marks %d code %q", got.InternalMarks, got.CourseCode)
	}
}

func TestCreateFeedback_CooldownCheckedBeforeValidation(t *testing.T) {
	f := newFixture(t, kv.NewMemory())
	ctx := context.Background()
	_ = f.repo.SetCooldown(ctx, alice.UserID, f.clock.Now().UnixMilli())

	_, err := f.svc.CreateFeedback(ctx, alice, models.CreateFeedbackRequest{})
	var cerr *CooldownError
	if !errors.As(err, &cerr) {
		t.Errorf("err = %v, want CooldownError", err)
	}
}

func TestCreateFeedback_ConcurrentSameAuthor(t *testing.T) {
	f := newFixture(t, kv.NewMemory())
	ctx := context.Background()

	const n = 10
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.CreateFeedback(ctx, alice, validRequest())
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	ok := 0
	for err := range errs {
		var cerr *CooldownError
		switch {
		case err == nil:
			ok++
		case errors.As(err, &cerr):
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if ok != 1 {
		t.Errorf("successful posts = %d, want 1", ok)
	}
	all, _ := f.svc.ListFeedback(ctx)
	if len(all) != 1 {
		t.Errorf("stored entries = %d, want 1", len(all))
	}
}

// racingStore lets another writer record a post for the author just
// before the service claims the cooldown.
type racingStore struct {
	*kv.Memory
	once sync.Once
	at   string
}

func (s *racingStore) CompareAndSwap(ctx context.Context, key string, expected *string, value string) (bool, error) {
	s.once.Do(func() {
		_ = s.Memory.Set(ctx, key, s.at)
	})
	return s.Memory.CompareAndSwap(ctx, key, expected, value)
}

func TestCreateFeedback_LostCooldownClaim(t *testing.T) {
	store := &racingStore{Memory: kv.NewMemory()}
	f := newFixture(t, store)
	store.at = "1700000000000"
	ctx := context.Background()

	_, err := f.svc.CreateFeedback(ctx, alice, validRequest())
	var cerr *CooldownError
	if !errors.As(err, &cerr) {
		t.Fatalf("err = %v, want CooldownError", err)
	}
	if cerr.DaysRemaining != 15 {
		t.Errorf("DaysRemaining = %d, want 15", cerr.DaysRemaining)
	}
	all, _ := f.repo.ListAll(ctx)
	if len(all) != 0 {
		t.Errorf("losing post left %d entries behind", len(all))
	}
}

type failingStore struct {
	*kv.Memory
}

var errDown = errors.New("store unavailable")

func (failingStore) Get(ctx context.Context, key string) (string, error) {
	return "", errDown
}

func (failingStore) ScanPrefix(ctx context.Context, prefix string) ([]kv.Pair, error) {
	return nil, errDown
}

func TestStorageErrors(t *testing.T) {
	f := newFixture(t, failingStore{kv.NewMemory()})
	ctx := context.Background()

	check := func(name string, err error) {
		t.Helper()
		var serr *StorageError
		if !errors.As(err, &serr) || !errors.Is(err, errDown) {
			t.Errorf("%s: err = %v, want StorageError wrapping errDown", name, err)
		}
	}

	_, err := f.svc.CreateFeedback(ctx, alice, validRequest())
	check("CreateFeedback", err)
	_, err = f.svc.CheckEligibility(ctx, alice.UserID)
	check("CheckEligibility", err)
	_, err = f.svc.ListFeedback(ctx)
	check("ListFeedback", err)
	_, err = f.svc.SearchFeedback(ctx, "cse")
	check("SearchFeedback", err)
}

func seed(t *testing.T, repo *repository.FeedbackRepo, entries ...models.Feedback) {
	t.Helper()
	for i := range entries {
		if entries[i].ID == "" {
			entries[i].ID = models.FeedbackID(entries[i].CreatedAt, "seed")
		}
		if err := repo.Put(context.Background(), &entries[i]); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}
}

func TestListFeedback_NewestFirst(t *testing.T) {
	f := newFixture(t, kv.NewMemory())
	seed(t, f.repo,
		models.Feedback{CreatedAt: 100},
		models.Feedback{CreatedAt: 50},
		models.Feedback{CreatedAt: 200},
	)

	all, err := f.svc.ListFeedback(context.Background())
	if err != nil {
		t.Fatalf("ListFeedback: %v", err)
	}
	var got []int64
	for _, e := range all {
		got = append(got, e.CreatedAt)
	}
	want := []int64{200, 100, 50}
	if len(got) != len(want) {
		t.Fatalf("order = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
}

func TestSearchFeedback(t *testing.T) {
	f := newFixture(t, kv.NewMemory())
	seed(t, f.repo,
		models.Feedback{CourseCode: "CSE01", CourseName: "Compilers", FacultyName: "Dr. Iyer", CreatedAt: 10},
		models.Feedback{CourseCode: "MAT02", CourseName: "Linear Algebra", FacultyName: "Dr. Khan", CreatedAt: 20},
		models.Feedback{CourseCode: "PHY03", CourseName: "Optics", FacultyName: "Prof. Cseh", CreatedAt: 30},
	)
	ctx := context.Background()

	tests := []struct {
		query string
		want  []int64
	}{
		{"", nil},
		{"   ", nil},
		{"cse", []int64{30, 10}},
		{"CSE01", []int64{10}},
		{"mat", []int64{20}},
		{"  algebra ", []int64{20}},
		{"dr.", []int64{20, 10}},
		{"zzz", nil},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			got, err := f.svc.SearchFeedback(ctx, tt.query)
			if err != nil {
				t.Fatalf("SearchFeedback: %v", err)
			}
			if got == nil {
				t.Fatal("SearchFeedback returned nil slice")
			}
			if len(got) != len(tt.want) {
				t.Fatalf("results = %d, want %d", len(got), len(tt.want))
			}
			for i, e := range got {
				if e.CreatedAt != tt.want[i] {
					t.Errorf("result[%d].CreatedAt = %d, want %d", i, e.CreatedAt, tt.want[i])
				}
			}
		})
	}
}

func TestSearchFeedback_SubsetOfList(t *testing.T) {
	f := newFixture(t, kv.NewMemory())
	seed(t, f.repo,
		models.Feedback{CourseCode: "CSE01", CourseName: "Networks", FacultyName: "Dr. Anand", CreatedAt: 1},
		models.Feedback{CourseCode: "ECE04", CourseName: "Signals", FacultyName: "Dr. Priya", CreatedAt: 2},
		models.Feedback{CourseCode: "CSE07", CourseName: "Databases", FacultyName: "Dr. Nair", CreatedAt: 3},
	)
	ctx := context.Background()
	all, _ := f.svc.ListFeedback(ctx)
	ids := map[string]bool{}
	for _, e := range all {
		ids[e.ID] = true
	}

	for _, q := range []string{"a", "Dr", "cse", "s", "NET"} {
		results, err := f.svc.SearchFeedback(ctx, q)
		if err != nil {
			t.Fatalf("SearchFeedback(%q): %v", q, err)
		}
		lq := strings.ToLower(q)
		for _, r := range results {
			if !ids[r.ID] {
				t.Errorf("SearchFeedback(%q) returned %s not in listing", q, r.ID)
			}
			if !strings.Contains(strings.ToLower(r.FacultyName), lq) &&
				!strings.Contains(strings.ToLower(r.CourseName), lq) &&
				!strings.Contains(strings.ToLower(r.CourseCode), lq) {
				t.Errorf("SearchFeedback(%q) returned non-matching %+v", q, r)
			}
		}
	}
}

func TestSnapshotCache(t *testing.T) {
	f := newFixture(t, kv.NewMemory(), WithCacheTTL(time.Hour))
	ctx := context.Background()
	seed(t, f.repo, models.Feedback{CreatedAt: 1})

	all, _ := f.svc.ListFeedback(ctx)
	if len(all) != 1 {
		t.Fatalf("entries = %d, want 1", len(all))
	}

	// another writer's entry stays hidden until the snapshot is flushed
	seed(t, f.repo, models.Feedback{CreatedAt: 2})
	all, _ = f.svc.ListFeedback(ctx)
	if len(all) != 1 {
		t.Errorf("cached entries = %d, want 1", len(all))
	}

	if _, err := f.svc.CreateFeedback(ctx, alice, validRequest()); err != nil {
		t.Fatalf("CreateFeedback: %v", err)
	}
	all, _ = f.svc.ListFeedback(ctx)
	if len(all) != 3 {
		t.Errorf("entries after post = %d, want 3", len(all))
	}

	all[0].CourseCode = "XXX99"
	again, _ := f.svc.ListFeedback(ctx)
	if again[0].CourseCode == "XXX99" {
		t.Error("ListFeedback exposes the cached slice")
	}
}

func TestListFeedback_SharedStoreWithoutCache(t *testing.T) {
	store := kv.NewMemory()
	a := newFixture(t, store)
	b := newFixture(t, store)
	ctx := context.Background()

	if all, _ := a.svc.ListFeedback(ctx); len(all) != 0 {
		t.Fatalf("entries before post = %d, want 0", len(all))
	}
	if _, err := b.svc.CreateFeedback(ctx, alice, validRequest()); err != nil {
		t.Fatalf("CreateFeedback: %v", err)
	}

	all, err := a.svc.ListFeedback(ctx)
	if err != nil || len(all) != 1 {
		t.Errorf("ListFeedback on other instance = %d, %v; want 1", len(all), err)
	}
	found, err := a.svc.SearchFeedback(ctx, "cse")
	if err != nil || len(found) != 1 {
		t.Errorf("SearchFeedback on other instance = %d, %v; want 1", len(found), err)
	}
}

// slowStore blocks prefix scans until release is closed or the scan's
// context ends.
type slowStore struct {
	*kv.Memory
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (s *slowStore) ScanPrefix(ctx context.Context, prefix string) ([]kv.Pair, error) {
	s.once.Do(func() { close(s.started) })
	select {
	case <-s.release:
		return s.Memory.ScanPrefix(ctx, prefix)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestListFeedback_CancelledCallerDoesNotFailOthers(t *testing.T) {
	store := &slowStore{
		Memory:  kv.NewMemory(),
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	f := newFixture(t, store)
	seed(t, f.repo, models.Feedback{CreatedAt: 1})

	ctxA, cancelA := context.WithCancel(context.Background())
	errA := make(chan error, 1)
	go func() {
		_, err := f.svc.ListFeedback(ctxA)
		errA <- err
	}()
	<-store.started

	type result struct {
		entries []models.Feedback
		err     error
	}
	resB := make(chan result, 1)
	go func() {
		entries, err := f.svc.ListFeedback(context.Background())
		resB <- result{entries, err}
	}()

	// let B join the in-flight load
	time.Sleep(20 * time.Millisecond)
	cancelA()
	if err := <-errA; !errors.Is(err, context.Canceled) {
		t.Errorf("cancelled caller err = %v, want context.Canceled", err)
	}

	close(store.release)
	select {
	case res := <-resB:
		if res.err != nil || len(res.entries) != 1 {
			t.Errorf("other caller = %d entries, %v; want 1, nil", len(res.entries), res.err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("other caller never returned")
	}
}

func TestNewValidator_CourseCode(t *testing.T) {
	v := newValidator()
	for code, ok := range map[string]bool{"CSE01": true, "MAT99": true, "cse01": false, "CS01": false, "CSE1A": false} {
		if err := v.Var(code, "coursecode"); (err == nil) != ok {
			t.Errorf("coursecode(%q) err = %v, want valid=%v", code, err, ok)
		}
	}
}
