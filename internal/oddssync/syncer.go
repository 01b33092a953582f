// Package oddssync mirrors The Odds API into local events and queues
// settlement for events the feed reports as completed.
package oddssync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/chipline/sportsbook/internal/domain"
	"github.com/chipline/sportsbook/internal/provider"
	"github.com/chipline/sportsbook/internal/repository"
	"github.com/chipline/sportsbook/internal/settlement"
)

// Feed is the odds source.
type Feed interface {
	FetchOdds(ctx context.Context, sportKey string) ([]provider.OddsEvent, error)
	FetchScores(ctx context.Context, sportKey string, daysFrom int) ([]provider.ScoreEvent, error)
}

// Enqueuer schedules an asynchronous settlement.
type Enqueuer interface {
	EnqueueSettlement(ctx context.Context, req settlement.SettleRequest) error
}

// Result counts what one sync run did.
type Result struct {
	Sports   int `json:"sports"`
	Upserted int `json:"upserted"`
	Skipped  int `json:"skipped"`
	Enqueued int `json:"enqueued"`
	Errors   int `json:"errors"`
}

func (r *Result) add(o Result) {
	r.Sports += o.Sports
	r.Upserted += o.Upserted
	r.Skipped += o.Skipped
	r.Enqueued += o.Enqueued
	r.Errors += o.Errors
}

// Syncer upserts feed events and enqueues settlement for completed ones.
type Syncer struct {
	feed     Feed
	db       repository.DBTX
	events   repository.EventRepository
	enqueuer Enqueuer
	sports   []string
	logger   *slog.Logger
}

// NewSyncer creates a syncer for the given sport keys.
func NewSyncer(feed Feed, db repository.DBTX, events repository.EventRepository, enqueuer Enqueuer, sports []string, logger *slog.Logger) *Syncer {
	return &Syncer{
		feed:     feed,
		db:       db,
		events:   events,
		enqueuer: enqueuer,
		sports:   sports,
		logger:   logger,
	}
}

// SyncAll syncs every configured sport. A failing sport is logged and the
// rest still run; quota exhaustion stops the run.
func (s *Syncer) SyncAll(ctx context.Context) (Result, error) {
	var total Result
	for _, sport := range s.sports {
		res, err := s.SyncSport(ctx, sport)
		total.add(res)
		if err != nil {
			total.Errors++
			if errors.Is(err, provider.ErrQuotaExceeded) {
				s.logger.Warn("odds api quota exceeded, stopping sync", "sport", sport)
				return total, err
			}
			if ctx.Err() != nil {
				return total, ctx.Err()
			}
			s.logger.Error("odds sync failed", "sport", sport, "error", err)
		}
	}
	s.logger.Info("odds sync complete",
		"sports", total.Sports,
		"upserted", total.Upserted,
		"skipped", total.Skipped,
		"enqueued", total.Enqueued,
		"errors", total.Errors,
	)
	return total, nil
}

// SyncSport refreshes odds for one sport, then checks its scores.
func (s *Syncer) SyncSport(ctx context.Context, sportKey string) (Result, error) {
	res := Result{Sports: 1}

	events, err := s.feed.FetchOdds(ctx, sportKey)
	if err != nil {
		return res, err
	}
	for _, fe := range events {
		ev, ok := toDomainEvent(fe)
		if !ok {
			res.Skipped++
			continue
		}
		if _, err := s.events.UpsertExternal(ctx, s.db, ev); err != nil {
			res.Errors++
			s.logger.Warn("upsert feed event failed", "external_id", fe.ID, "error", err)
			continue
		}
		res.Upserted++
	}

	scores, err := s.feed.FetchScores(ctx, sportKey, 1)
	if err != nil {
		return res, err
	}
	for _, sc := range scores {
		if !sc.Completed {
			continue
		}
		queued, err := s.settleCompleted(ctx, sc)
		if err != nil {
			res.Errors++
			s.logger.Warn("queue settlement failed", "external_id", sc.ID, "error", err)
			continue
		}
		if queued {
			res.Enqueued++
		}
	}
	return res, nil
}

func (s *Syncer) settleCompleted(ctx context.Context, sc provider.ScoreEvent) (bool, error) {
	ev, err := s.events.FindByExternalID(ctx, s.db, sc.ID)
	if err != nil {
		return false, fmt.Errorf("find event: %w", err)
	}
	if ev == nil || ev.Settled() {
		return false, nil
	}

	winner, draw, err := sc.Winner()
	if err != nil {
		return false, err
	}

	req := settlement.SettleRequest{EventID: ev.ID}
	if draw {
		req.Outcome = domain.OutcomeCancelled
	} else {
		team, ok := ev.TeamByName(winner)
		if !ok {
			return false, fmt.Errorf("winner %q is not a team of event %d", winner, ev.ID)
		}
		req.Outcome = team.Name
		req.WinningTeamID = &team.ID
	}

	if err := s.enqueuer.EnqueueSettlement(ctx, req); err != nil {
		return false, err
	}
	s.logger.Info("settlement queued", "event_id", ev.ID, "external_id", sc.ID, "outcome", req.Outcome)
	return true, nil
}

// toDomainEvent maps a feed event with home and away prices.
func toDomainEvent(fe provider.OddsEvent) (*domain.Event, bool) {
	odds := fe.H2HOdds()
	home, okHome := odds[fe.HomeTeam]
	away, okAway := odds[fe.AwayTeam]
	if fe.ID == "" || !okHome || !okAway {
		return nil, false
	}
	externalID := fe.ID
	return &domain.Event{
		ExternalID: &externalID,
		SportKey:   fe.SportKey,
		Name:       fe.HomeTeam + " vs " + fe.AwayTeam,
		StartsAt:   fe.CommenceTime,
		Teams: []domain.EventTeam{
			{Name: fe.HomeTeam, Odds: home},
			{Name: fe.AwayTeam, Odds: away},
		},
	}, true
}
