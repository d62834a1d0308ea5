// Package polls applies votes with one active vote per voter per poll.
package polls

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/a-essam23/go-relay/internal/apperr"
	"github.com/a-essam23/go-relay/internal/models"
	"github.com/a-essam23/go-relay/internal/store"
	"github.com/google/uuid"
)

type Aggregator struct {
	store  store.Polls
	locks  *keyedMutex
	nowFn  func() time.Time
	logger *slog.Logger
}

func NewAggregator(logger *slog.Logger, s store.Polls) *Aggregator {
	return &Aggregator{
		store:  s,
		locks:  newKeyedMutex(),
		nowFn:  time.Now,
		logger: logger.With(slog.String("component", "poll_aggregator")),
	}
}

// Create assigns ids to options that lack one and starts every count at zero.
func (a *Aggregator) Create(ctx context.Context, question string, options []models.CreatePollOption, createdBy string) (*models.Poll, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, apperr.Validationf("question is required")
	}
	if len(options) < 2 {
		return nil, apperr.Validationf("a poll needs at least two options")
	}

	p := &models.Poll{
		ID:        uuid.NewString(),
		Question:  question,
		Options:   make([]models.PollOption, 0, len(options)),
		CreatedBy: createdBy,
		CreatedAt: a.nowFn().UTC(),
	}
	seen := make(map[string]struct{}, len(options))
	for _, opt := range options {
		id := opt.ID
		if id == "" {
			id = uuid.NewString()
		}
		if _, dup := seen[id]; dup {
			return nil, apperr.Validationf("duplicate option id %q", id)
		}
		seen[id] = struct{}{}
		p.Options = append(p.Options, models.PollOption{ID: id, Text: opt.Text, Votes: 0, Voters: []string{}})
	}

	if err := a.store.CreatePoll(ctx, p); err != nil {
		return nil, apperr.Wrap(apperr.Internal, "create poll", err)
	}
	a.logger.Info("Poll created", slog.String("pollID", p.ID), slog.String("createdBy", createdBy))
	return p, nil
}

func (a *Aggregator) List(ctx context.Context) ([]models.Poll, error) {
	polls, err := a.store.ListPolls(ctx)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "list polls", err)
	}
	return polls, nil
}

// Vote moves voterID's single vote to optionID and persists the whole poll.
// Votes on one poll are applied one at a time.
func (a *Aggregator) Vote(ctx context.Context, pollID, optionID, voterID string) (*models.Poll, error) {
	if pollID == "" || optionID == "" || voterID == "" {
		return nil, apperr.Validationf("pollId, optionId and userId are required")
	}

	unlock := a.locks.Lock(pollID)
	defer unlock()

	p, err := a.store.GetPoll(ctx, pollID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.Wrap(apperr.NotFound, "Poll not found", err)
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "load poll", err)
	}

	target := p.Option(optionID)
	if target == nil {
		return nil, apperr.NotFoundf("Option not found")
	}

	for i := range p.Options {
		p.Options[i].Voters = without(p.Options[i].Voters, voterID)
	}
	target.Voters = append(target.Voters, voterID)
	for i := range p.Options {
		p.Options[i].Votes = len(p.Options[i].Voters)
	}

	if err := a.store.SavePoll(ctx, p); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.Wrap(apperr.NotFound, "Poll not found", err)
		}
		return nil, apperr.Wrap(apperr.Internal, "save poll", err)
	}
	a.logger.Debug("Vote applied", slog.String("pollID", pollID), slog.String("optionID", optionID), slog.String("voter", voterID))
	return p, nil
}

// Delete removes the poll when requesterID is its creator. Anyone else gets Forbidden.
func (a *Aggregator) Delete(ctx context.Context, pollID, requesterID string) error {
	unlock := a.locks.Lock(pollID)
	defer unlock()

	p, err := a.store.GetPoll(ctx, pollID)
	if errors.Is(err, store.ErrNotFound) {
		return apperr.Wrap(apperr.NotFound, "Poll not found", err)
	}
	if err != nil {
		return apperr.Wrap(apperr.Internal, "load poll", err)
	}
	if requesterID == "" || p.CreatedBy != requesterID {
		return apperr.Forbiddenf("only the creator can delete this poll")
	}
	if err := a.store.DeletePoll(ctx, pollID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return apperr.Wrap(apperr.NotFound, "Poll not found", err)
		}
		return apperr.Wrap(apperr.Internal, "delete poll", err)
	}
	a.logger.Info("Poll deleted", slog.String("pollID", pollID), slog.String("by", requesterID))
	return nil
}

func without(voters []string, voter string) []string {
	out := voters[:0]
	for _, v := range voters {
		if v != voter {
			out = append(out, v)
		}
	}
	if out == nil {
		return []string{}
	}
	return out
}

// keyedMutex hands out one mutex per key and forgets keys nobody holds.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*refMutex)}
}

func (k *keyedMutex) Lock(key string) (unlock func()) {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
