// Package journeystore implements the Journey Store (C2): persists
// journeys with canonical-identity uniqueness on the ordered leg-id
// sequence (spec.md §4.2). Grounded on the teacher's SQL-query style in
// FlightService, generalized from ad hoc flight queries to a dedicated
// journeys table with a precomputed canonical hash column so uniqueness
// is enforced by a single index rather than a recursive CTE at read time.
package journeystore

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"flightcore/internal/apperr"
	"flightcore/internal/domain"
)

// Store is the C2 contract from spec.md §4.2.
type Store interface {
	// SaveJourney enforces canonical-identity uniqueness by the ordered
	// leg-id sequence. A second save of the same sequence is a no-op
	// (idempotent) and returns duplicate=true with the existing journey.
	SaveJourney(ctx context.Context, j domain.Journey) (saved domain.Journey, duplicate bool, err error)
	GetJourney(ctx context.Context, id uuid.UUID) (domain.Journey, error)
	ListJourneysByRouteAndDate(ctx context.Context, src, dst string, date domain.Date) ([]domain.Journey, error)
	// ListJourneysEndingAt returns ACTIVE journeys with derived destination
	// == airport, irrespective of source or date, for the Journey
	// Generator's middle-bridging expansion (spec.md §4.3 pattern 4).
	ListJourneysEndingAt(ctx context.Context, airport string) ([]domain.Journey, error)
}

type postgresStore struct {
	db  *sql.DB
	log zerolog.Logger
}

// New returns a Postgres-backed Store.
func New(db *sql.DB, log zerolog.Logger) Store {
	return &postgresStore{db: db, log: log}
}

// legRow is the JSON-serializable shape persisted in legs_json, keeping
// legs_json a faithful, ordered record of domain.Leg independent of SQL
// column types.
type legRow struct {
	Order    int    `json:"order"`
	FlightID string `json:"flight_id"`
	Source   string `json:"source"`
	Dest     string `json:"dest"`
	Dep      string `json:"dep"`
	Arr      string `json:"arr"`
	Price    string `json:"price"`
}

// CanonicalHash hashes the ordered leg-id sequence — NOT any sorted
// projection — so two journeys over the same flights in different orders
// are distinct, per spec.md §4.2's "MUST NOT deduplicate by any other
// projection".
func CanonicalHash(j domain.Journey) string {
	sum := sha256.Sum256([]byte(domain.CanonicalKey(j.LegIDSequence())))
	return hex.EncodeToString(sum[:])
}

func (s *postgresStore) SaveJourney(ctx context.Context, j domain.Journey) (domain.Journey, bool, error) {
	const op = "journeystore.SaveJourney"

	if j.ID == uuid.Nil {
		j.ID = uuid.New()
	}
	hash := CanonicalHash(j)

	rows := make([]legRow, len(j.Legs))
	for i, l := range j.Legs {
		rows[i] = legRow{
			Order:    l.Order,
			FlightID: l.FlightID.String(),
			Source:   l.Source,
			Dest:     l.Dest,
			Dep:      l.Dep.UTC().Format(timeLayout),
			Arr:      l.Arr.UTC().Format(timeLayout),
			Price:    l.Price.String(),
		}
	}
	legsJSON, err := json.Marshal(rows)
	if err != nil {
		return domain.Journey{}, false, apperr.Wrap(op, apperr.Internal, err)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO journeys (id, legs_json, canonical_hash, src, dst, dep_utc, arr_utc, total_price, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (canonical_hash) DO NOTHING
	`, j.ID, legsJSON, hash, j.Source(), j.Dest(), j.Departure(), j.Arrival(), j.TotalPrice(), domain.JourneyActive)
	if err != nil {
		return domain.Journey{}, false, apperr.Wrap(op, apperr.StoreUnavailable, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return domain.Journey{}, false, apperr.Wrap(op, apperr.StoreUnavailable, err)
	}
	if n == 0 {
		existing, err := s.getByHash(ctx, hash)
		if err != nil {
			return domain.Journey{}, false, err
		}
		return existing, true, nil
	}

	s.log.Info().Str("journey_id", j.ID.String()).Str("src", j.Source()).Str("dst", j.Dest()).Int("legs", len(j.Legs)).Msg("journey saved")
	return j, false, nil
}

func (s *postgresStore) GetJourney(ctx context.Context, id uuid.UUID) (domain.Journey, error) {
	const op = "journeystore.GetJourney"
	row := s.db.QueryRowContext(ctx, `
		SELECT id, legs_json, status, created, updated FROM journeys WHERE id = $1
	`, id)
	j, err := scanJourney(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Journey{}, apperr.New(op, apperr.JourneyNotFound, err)
		}
		return domain.Journey{}, apperr.Wrap(op, apperr.StoreUnavailable, err)
	}
	return j, nil
}

func (s *postgresStore) getByHash(ctx context.Context, hash string) (domain.Journey, error) {
	const op = "journeystore.getByHash"
	row := s.db.QueryRowContext(ctx, `
		SELECT id, legs_json, status, created, updated FROM journeys WHERE canonical_hash = $1
	`, hash)
	j, err := scanJourney(row)
	if err != nil {
		return domain.Journey{}, apperr.Wrap(op, apperr.StoreUnavailable, err)
	}
	return j, nil
}

// ListJourneysByRouteAndDate matches src, dst, status = ACTIVE, and the
// date of the first leg's departure in UTC (spec.md §4.2). It does not
// compute availability; that is the Search Engine's job.
func (s *postgresStore) ListJourneysByRouteAndDate(ctx context.Context, src, dst string, date domain.Date) ([]domain.Journey, error) {
	const op = "journeystore.ListJourneysByRouteAndDate"
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, legs_json, status, created, updated
		FROM journeys
		WHERE src = $1 AND dst = $2 AND status = $3 AND dep_utc::date = $4
		ORDER BY dep_utc
	`, src, dst, domain.JourneyActive, date.String())
	if err != nil {
		return nil, apperr.Wrap(op, apperr.StoreUnavailable, err)
	}
	defer rows.Close()

	var out []domain.Journey
	for rows.Next() {
		j, err := scanJourneyRows(rows)
		if err != nil {
			return nil, apperr.Wrap(op, apperr.StoreUnavailable, err)
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// ListJourneysEndingAt finds candidate left-hand journeys for middle
// bridging. It returns journeys of every leg count; the generator skips
// those that would exceed MAX_LEGS once bridged and re-validates every
// assembled candidate.
func (s *postgresStore) ListJourneysEndingAt(ctx context.Context, airport string) ([]domain.Journey, error) {
	const op = "journeystore.ListJourneysEndingAt"
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, legs_json, status, created, updated
		FROM journeys
		WHERE dst = $1 AND status = $2
		ORDER BY dep_utc
	`, airport, domain.JourneyActive)
	if err != nil {
		return nil, apperr.Wrap(op, apperr.StoreUnavailable, err)
	}
	defer rows.Close()

	var out []domain.Journey
	for rows.Next() {
		j, err := scanJourneyRows(rows)
		if err != nil {
			return nil, apperr.Wrap(op, apperr.StoreUnavailable, err)
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

const timeLayout = "2006-01-02T15:04:05.999999999Z07:00"

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("journeystore: decode leg time %q: %w", s, err)
	}
	return t, nil
}

type scannable interface {
	Scan(dest ...interface{}) error
}

func scanJourney(row scannable) (domain.Journey, error) {
	return scanJourneyRows(row)
}

func scanJourneyRows(row scannable) (domain.Journey, error) {
	var id uuid.UUID
	var legsJSON []byte
	var status domain.JourneyStatus
	var created, updated sql.NullTime

	if err := row.Scan(&id, &legsJSON, &status, &created, &updated); err != nil {
		return domain.Journey{}, err
	}

	var rows []legRow
	if err := json.Unmarshal(legsJSON, &rows); err != nil {
		return domain.Journey{}, fmt.Errorf("journeystore: decode legs_json: %w", err)
	}

	legs := make([]domain.Leg, len(rows))
	for i, r := range rows {
		flightID, err := uuid.Parse(r.FlightID)
		if err != nil {
			return domain.Journey{}, fmt.Errorf("journeystore: decode leg flight id: %w", err)
		}
		dep, err := parseTime(r.Dep)
		if err != nil {
			return domain.Journey{}, err
		}
		arr, err := parseTime(r.Arr)
		if err != nil {
			return domain.Journey{}, err
		}
		price, err := decimal.NewFromString(r.Price)
		if err != nil {
			return domain.Journey{}, fmt.Errorf("journeystore: decode leg price: %w", err)
		}
		legs[i] = domain.Leg{
			Order:    r.Order,
			FlightID: flightID,
			Source:   r.Source,
			Dest:     r.Dest,
			Dep:      dep,
			Arr:      arr,
			Price:    price,
		}
	}

	j := domain.Journey{ID: id, Legs: legs, Status: status}
	if created.Valid {
		j.CreatedAt = created.Time
	}
	if updated.Valid {
		j.UpdatedAt = updated.Time
	}
	return j, nil
}
