package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/chipline/sportsbook/internal/domain"
	"github.com/chipline/sportsbook/internal/infra"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

const eventColumns = `id, external_id, sport_key, name, starts_at, outcome, settling_outcome, winning_team_id, settled_at, created_at`

type eventRepo struct{}

// NewEventRepository returns a pgx-backed EventRepository.
func NewEventRepository() EventRepository {
	return &eventRepo{}
}

func (r *eventRepo) Create(ctx context.Context, db DBTX, e *domain.Event) error {
	err := db.QueryRow(ctx, `
		INSERT INTO events (external_id, sport_key, name, starts_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at`,
		e.ExternalID, e.SportKey, e.Name, e.StartsAt,
	).Scan(&e.ID, &e.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}

	for i := range e.Teams {
		t := &e.Teams[i]
		t.EventID = e.ID
		err := db.QueryRow(ctx, `
			INSERT INTO event_teams (event_id, name, odds) VALUES ($1, $2, $3)
			RETURNING id`,
			e.ID, t.Name, infra.DecimalToNumeric(t.Odds)).Scan(&t.ID)
		if err != nil {
			return fmt.Errorf("insert event team %q: %w", t.Name, err)
		}
	}
	return nil
}

func (r *eventRepo) FindByID(ctx context.Context, db DBTX, id int64) (*domain.Event, error) {
	row := db.QueryRow(ctx, `SELECT `+eventColumns+` FROM events WHERE id = $1`, id)
	return r.withTeams(ctx, db, row)
}

func (r *eventRepo) FindByExternalID(ctx context.Context, db DBTX, externalID string) (*domain.Event, error) {
	row := db.QueryRow(ctx, `SELECT `+eventColumns+` FROM events WHERE external_id = $1`, externalID)
	return r.withTeams(ctx, db, row)
}

func (r *eventRepo) ListOpen(ctx context.Context, db DBTX, limit int) ([]domain.Event, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := db.Query(ctx, `
		SELECT `+eventColumns+`
		FROM events
		WHERE outcome = ''
		ORDER BY starts_at ASC, id ASC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query open events: %w", err)
	}
	defer rows.Close()

	var events []domain.Event
	var ids []int64
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, *e)
		ids = append(ids, e.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return events, nil
	}

	teams, err := r.teamsFor(ctx, db, ids)
	if err != nil {
		return nil, err
	}
	for i := range events {
		events[i].Teams = teams[events[i].ID]
	}
	return events, nil
}

// UpsertExternal keys on external_id. Team odds are only refreshed while the
// event is open.
func (r *eventRepo) UpsertExternal(ctx context.Context, db DBTX, e *domain.Event) (*domain.Event, error) {
	if e.ExternalID == nil || *e.ExternalID == "" {
		return nil, fmt.Errorf("upsert event: external_id is required")
	}

	var id int64
	var outcome string
	err := db.QueryRow(ctx, `
		INSERT INTO events (external_id, sport_key, name, starts_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (external_id) DO UPDATE
		  SET name = EXCLUDED.name, starts_at = EXCLUDED.starts_at
		  WHERE events.outcome = ''
		RETURNING id, outcome`,
		*e.ExternalID, e.SportKey, e.Name, e.StartsAt).Scan(&id, &outcome)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("upsert event: %w", err)
	}
	if errors.Is(err, pgx.ErrNoRows) {
		// Conflict with a settled event: nothing updated.
		return r.FindByExternalID(ctx, db, *e.ExternalID)
	}

	for _, t := range e.Teams {
		_, err := db.Exec(ctx, `
			INSERT INTO event_teams (event_id, name, odds) VALUES ($1, $2, $3)
			ON CONFLICT (event_id, name) DO UPDATE SET odds = EXCLUDED.odds`,
			id, t.Name, infra.DecimalToNumeric(t.Odds))
		if err != nil {
			return nil, fmt.Errorf("upsert event team %q: %w", t.Name, err)
		}
	}
	return r.FindByID(ctx, db, id)
}

// ClaimSettlement is a compare-and-set on the empty settling_outcome. The
// returned event carries whichever claim won.
func (r *eventRepo) ClaimSettlement(ctx context.Context, db DBTX, id int64, outcome string, winningTeamID *int64) (*domain.Event, error) {
	_, err := db.Exec(ctx, `
		UPDATE events SET settling_outcome = $2, winning_team_id = $3
		WHERE id = $1 AND outcome = '' AND settling_outcome = ''`, id, outcome, winningTeamID)
	if err != nil {
		return nil, fmt.Errorf("claim event settlement: %w", err)
	}
	return r.FindByID(ctx, db, id)
}

// MarkSettled copies the claimed outcome into outcome. It is a
// compare-and-set on the empty outcome and only matches the given claim.
func (r *eventRepo) MarkSettled(ctx context.Context, db DBTX, id int64, outcome string) (bool, error) {
	tag, err := db.Exec(ctx, `
		UPDATE events SET outcome = settling_outcome, settled_at = now()
		WHERE id = $1 AND outcome = '' AND settling_outcome = $2`, id, outcome)
	if err != nil {
		return false, fmt.Errorf("mark event settled: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *eventRepo) withTeams(ctx context.Context, db DBTX, row pgx.Row) (*domain.Event, error) {
	e, err := scanEvent(row)
	if err != nil || e == nil {
		return e, err
	}
	teams, err := r.teamsFor(ctx, db, []int64{e.ID})
	if err != nil {
		return nil, err
	}
	e.Teams = teams[e.ID]
	return e, nil
}

func (r *eventRepo) teamsFor(ctx context.Context, db DBTX, eventIDs []int64) (map[int64][]domain.EventTeam, error) {
	rows, err := db.Query(ctx, `
		SELECT id, event_id, name, odds
		FROM event_teams
		WHERE event_id = ANY($1)
		ORDER BY event_id, id`, eventIDs)
	if err != nil {
		return nil, fmt.Errorf("query event teams: %w", err)
	}
	defer rows.Close()

	out := make(map[int64][]domain.EventTeam, len(eventIDs))
	for rows.Next() {
		var t domain.EventTeam
		var oddsNum pgtype.Numeric
		if err := rows.Scan(&t.ID, &t.EventID, &t.Name, &oddsNum); err != nil {
			return nil, fmt.Errorf("scan event team: %w", err)
		}
		if t.Odds, err = infra.NumericToDecimal(oddsNum); err != nil {
			return nil, fmt.Errorf("convert odds: %w", err)
		}
		out[t.EventID] = append(out[t.EventID], t)
	}
	return out, rows.Err()
}

func scanEvent(row pgx.Row) (*domain.Event, error) {
	var e domain.Event
	err := row.Scan(&e.ID, &e.ExternalID, &e.SportKey, &e.Name, &e.StartsAt, &e.Outcome,
		&e.SettlingOutcome, &e.WinningTeamID, &e.SettledAt, &e.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan event: %w", err)
	}
	return &e, nil
}
