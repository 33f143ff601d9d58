package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"simats-hub/internal/kv"
	"simats-hub/internal/models"

	"github.com/sirupsen/logrus"
)

const cooldownKeyPrefix = "user:lastpost:"

var ErrDuplicateID = errors.New("feedback id already exists")

type FeedbackRepo struct {
	store kv.Store
	log   logrus.FieldLogger
}

func NewFeedbackRepo(store kv.Store, log logrus.FieldLogger) *FeedbackRepo {
	return &FeedbackRepo{
		store: store,
		log:   log,
	}
}

// CooldownKey is the store key holding an author's last post time.
func CooldownKey(authorID string) string {
	return cooldownKeyPrefix + authorID
}

// Put writes a new entry under its id. Entries are never overwritten.
func (r *FeedbackRepo) Put(ctx context.Context, feedback *models.Feedback) error {
	data, err := json.Marshal(feedback)
	if err != nil {
		return fmt.Errorf("encode feedback %s: %w", feedback.ID, err)
	}
	err = r.store.SetIfAbsent(ctx, feedback.ID, string(data))
	if errors.Is(err, kv.ErrExists) {
		return fmt.Errorf("%w: %s", ErrDuplicateID, feedback.ID)
	}
	return err
}

// Delete removes an entry. Only used to undo a Put whose cooldown
// claim was lost.
func (r *FeedbackRepo) Delete(ctx context.Context, id string) error {
	return r.store.Delete(ctx, id)
}

// ListAll returns every stored entry in no particular order. Values
// that fail to decode are logged and skipped.
func (r *FeedbackRepo) ListAll(ctx context.Context) ([]models.Feedback, error) {
	pairs, err := r.store.ScanPrefix(ctx, models.FeedbackKeyPrefix)
	if err != nil {
		return nil, err
	}

	result := make([]models.Feedback, 0, len(pairs))
	for _, p := range pairs {
		var feedback models.Feedback
		if err := json.Unmarshal([]byte(p.Value), &feedback); err != nil {
			r.log.WithError(err).WithField("key", p.Key).Warn("skipping undecodable feedback entry")
			continue
		}
		result = append(result, feedback)
	}
	return result, nil
}

// GetCooldown returns the author's last post time in epoch ms, or nil
// when the author has never posted.
func (r *FeedbackRepo) GetCooldown(ctx context.Context, authorID string) (*int64, error) {
	raw, err := r.store.Get(ctx, CooldownKey(authorID))
	if errors.Is(err, kv.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	ts, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("corrupt cooldown for %s: %w", authorID, err)
	}
	return &ts, nil
}

func (r *FeedbackRepo) SetCooldown(ctx context.Context, authorID string, at int64) error {
	return r.store.Set(ctx, CooldownKey(authorID), strconv.FormatInt(at, 10))
}

// SetCooldownIfUnchanged records at as the author's last post time only
// if the stored value still equals expected (nil: still absent). It
// reports false when another writer got there first.
func (r *FeedbackRepo) SetCooldownIfUnchanged(ctx context.Context, authorID string, expected *int64, at int64) (bool, error) {
	var prev *string
	if expected != nil {
		s := strconv.FormatInt(*expected, 10)
		prev = &s
	}
	return r.store.CompareAndSwap(ctx, CooldownKey(authorID), prev, strconv.FormatInt(at, 10))
}
