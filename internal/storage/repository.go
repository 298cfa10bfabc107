package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	upsertObservationSQL = `INSERT INTO observations (
        exchange,
        symbol,
        price,
        volume,
        market_url,
        observed_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6
    )
    ON CONFLICT (exchange, symbol, observed_at) DO NOTHING;`

	latestObservationSQL = `SELECT
        exchange, symbol, price, volume, market_url, observed_at, created_at
    FROM observations
    WHERE exchange = $1
      AND symbol = $2
    ORDER BY observed_at DESC
    LIMIT 1;`

	baselineObservationSQL = `SELECT
        exchange, symbol, price, volume, market_url, observed_at, created_at
    FROM observations
    WHERE exchange = $1
      AND symbol = $2
      AND observed_at <= $3
    ORDER BY observed_at DESC
    LIMIT 1;`

	listActivePairsSQL = `SELECT DISTINCT exchange, symbol
    FROM observations
    WHERE observed_at >= $1
    ORDER BY exchange, symbol;`

	listObservationsBetweenSQL = `SELECT
        exchange, symbol, price, volume, market_url, observed_at, created_at
    FROM observations
    WHERE exchange = $1
      AND symbol = $2
      AND observed_at >= $3
      AND observed_at < $4
    ORDER BY observed_at;`

	listRecentObservationsSQL = `SELECT
        exchange, symbol, price, volume, market_url, observed_at, created_at
    FROM observations
    ORDER BY observed_at DESC
    LIMIT $1;`

	countObservationsSQL = `SELECT COUNT(*) FROM observations;`

	deleteObservationsBeforeSQL = `DELETE FROM observations WHERE observed_at < $1;`

	insertAlertSQL = `INSERT INTO alerts (
        exchange,
        symbol,
        baseline_price,
        latest_price,
        pct_change,
        threshold_pct,
        direction
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7
    )
    RETURNING id, exchange, symbol, baseline_price, latest_price, pct_change, threshold_pct, direction, created_at;`

	listRecentAlertsSQL = `SELECT
        id, exchange, symbol, baseline_price, latest_price, pct_change, threshold_pct, direction, created_at
    FROM alerts
    ORDER BY created_at DESC
    LIMIT $1;`

	deleteAlertsBeforeSQL = `DELETE FROM alerts WHERE created_at < $1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// ObservationStore defines operations for observation persistence.
type ObservationStore interface {
	UpsertObservations(ctx context.Context, observations []Observation) (int64, error)
	LatestObservation(ctx context.Context, exchange, symbol string) (*Observation, error)
	BaselineObservation(ctx context.Context, exchange, symbol string, asOf time.Time, minAge time.Duration) (*Observation, error)
	ListActivePairs(ctx context.Context, since time.Time) ([]PairKey, error)
	ListObservationsBetween(ctx context.Context, exchange, symbol string, from, to time.Time) ([]Observation, error)
	ListRecentObservations(ctx context.Context, limit int) ([]Observation, error)
	CountObservations(ctx context.Context) (int64, error)
	DeleteObservationsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// AlertStore defines operations for alert auditing.
type AlertStore interface {
	InsertAlert(ctx context.Context, alert AlertRecord) (AlertRecord, error)
	ListRecentAlerts(ctx context.Context, limit int) ([]AlertRecord, error)
	DeleteAlertsBefore(ctx context.Context, olderThan time.Time) (int64, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates access to observations and alert audit rows.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Ping verifies store connectivity.
func (s *Store) Ping(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping store: %w", err)
	}
	return nil
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if _, err := conn.Exec(ctxUnlock, advisoryUnlockSQL, key); err != nil {
			// unlock best effort; log omitted in storage package
		}
		conn.Release()
	}
	return unlock, true, nil
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// UpsertObservations writes a batch of observations. Rows whose
// (exchange, symbol, observed_at) key already exists are skipped, so
// re-ingesting the same payload is a successful no-op. Returns the number
// of rows actually written.
func (s *Store) UpsertObservations(ctx context.Context, observations []Observation) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	if len(observations) == 0 {
		return 0, nil
	}

	batch := &pgx.Batch{}
	for _, obs := range observations {
		batch.Queue(upsertObservationSQL,
			obs.Exchange,
			obs.Symbol,
			obs.Price.String(),
			obs.Volume.String(),
			obs.MarketURL,
			obs.ObservedAt,
		)
	}

	results := pool.SendBatch(ctx, batch)
	defer results.Close()

	var written int64
	for range observations {
		tag, execErr := results.Exec()
		if execErr != nil {
			return written, fmt.Errorf("upsert observations: %w", execErr)
		}
		written += tag.RowsAffected()
	}
	return written, nil
}

// LatestObservation returns the most recent observation for a pair, or
// nil when the pair has never been ingested.
func (s *Store) LatestObservation(ctx context.Context, exchange, symbol string) (*Observation, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	row := pool.QueryRow(ctx, latestObservationSQL, exchange, symbol)
	obs, scanErr := scanObservationRow(row)
	if scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("latest observation: %w", scanErr)
	}
	return &obs, nil
}

// BaselineObservation returns the most recent observation at least minAge
// older than asOf, or nil when the pair is too cold to have one.
func (s *Store) BaselineObservation(ctx context.Context, exchange, symbol string, asOf time.Time, minAge time.Duration) (*Observation, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	cutoff := asOf.Add(-minAge)
	row := pool.QueryRow(ctx, baselineObservationSQL, exchange, symbol, cutoff)
	obs, scanErr := scanObservationRow(row)
	if scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("baseline observation: %w", scanErr)
	}
	return &obs, nil
}

// ListActivePairs lists the distinct pairs observed since the given time.
func (s *Store) ListActivePairs(ctx context.Context, since time.Time) ([]PairKey, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listActivePairsSQL, since)
	if queryErr != nil {
		return nil, fmt.Errorf("list active pairs: %w", queryErr)
	}
	defer rows.Close()

	pairs := make([]PairKey, 0)
	for rows.Next() {
		var key PairKey
		if err := rows.Scan(&key.Exchange, &key.Symbol); err != nil {
			return nil, err
		}
		pairs = append(pairs, key)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return pairs, nil
}

// ListObservationsBetween lists one pair's observations within a window.
func (s *Store) ListObservationsBetween(ctx context.Context, exchange, symbol string, from, to time.Time) ([]Observation, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listObservationsBetweenSQL, exchange, symbol, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list observations between: %w", queryErr)
	}
	defer rows.Close()

	return collectObservations(rows)
}

// ListRecentObservations lists the most recent observations across all pairs.
func (s *Store) ListRecentObservations(ctx context.Context, limit int) ([]Observation, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentObservationsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent observations: %w", queryErr)
	}
	defer rows.Close()

	return collectObservations(rows)
}

// CountObservations counts stored observations.
func (s *Store) CountObservations(ctx context.Context) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, countObservationsSQL).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count observations: %w", scanErr)
	}
	return count, nil
}

// DeleteObservationsBefore removes observations older than the cutoff and
// returns the number of rows deleted.
func (s *Store) DeleteObservationsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	tag, execErr := pool.Exec(ctx, deleteObservationsBeforeSQL, cutoff)
	if execErr != nil {
		return 0, fmt.Errorf("delete observations before: %w", execErr)
	}
	return tag.RowsAffected(), nil
}

// InsertAlert persists an alert emission.
func (s *Store) InsertAlert(ctx context.Context, alert AlertRecord) (AlertRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return AlertRecord{}, err
	}

	row := pool.QueryRow(ctx, insertAlertSQL,
		alert.Exchange,
		alert.Symbol,
		alert.BaselinePx.String(),
		alert.LatestPx.String(),
		alert.PctChange.String(),
		alert.ThresholdPct.String(),
		alert.Direction,
	)

	rec, scanErr := scanAlertRow(row)
	if scanErr != nil {
		return AlertRecord{}, fmt.Errorf("insert alert: %w", scanErr)
	}
	return rec, nil
}

// ListRecentAlerts lists most recent alert audit rows.
func (s *Store) ListRecentAlerts(ctx context.Context, limit int) ([]AlertRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentAlertsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent alerts: %w", queryErr)
	}
	defer rows.Close()

	alerts := make([]AlertRecord, 0, limit)
	for rows.Next() {
		rec, scanErr := scanAlertRow(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		alerts = append(alerts, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return alerts, nil
}

// DeleteAlertsBefore prunes historical alert audit rows.
func (s *Store) DeleteAlertsBefore(ctx context.Context, olderThan time.Time) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	tag, execErr := pool.Exec(ctx, deleteAlertsBeforeSQL, olderThan)
	if execErr != nil {
		return 0, fmt.Errorf("delete alerts before: %w", execErr)
	}
	return tag.RowsAffected(), nil
}

func collectObservations(rows pgx.Rows) ([]Observation, error) {
	observations := make([]Observation, 0)
	for rows.Next() {
		obs, scanErr := scanObservationRow(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		observations = append(observations, obs)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return observations, nil
}

func scanObservationRow(row pgx.Row) (Observation, error) {
	var (
		obs       Observation
		priceStr  string
		volumeStr string
	)

	if err := row.Scan(
		&obs.Exchange,
		&obs.Symbol,
		&priceStr,
		&volumeStr,
		&obs.MarketURL,
		&obs.ObservedAt,
		&obs.CreatedAt,
	); err != nil {
		return Observation{}, err
	}

	var err error
	obs.Price, err = decimal.NewFromString(priceStr)
	if err != nil {
		return Observation{}, fmt.Errorf("parse price: %w", err)
	}
	obs.Volume, err = decimal.NewFromString(volumeStr)
	if err != nil {
		return Observation{}, fmt.Errorf("parse volume: %w", err)
	}

	return obs, nil
}

func scanAlertRow(row pgx.Row) (AlertRecord, error) {
	var (
		rec          AlertRecord
		baselineStr  string
		latestStr    string
		pctStr       string
		thresholdStr string
	)

	if err := row.Scan(
		&rec.ID,
		&rec.Exchange,
		&rec.Symbol,
		&baselineStr,
		&latestStr,
		&pctStr,
		&thresholdStr,
		&rec.Direction,
		&rec.CreatedAt,
	); err != nil {
		return AlertRecord{}, err
	}

	var err error
	rec.BaselinePx, err = decimal.NewFromString(baselineStr)
	if err != nil {
		return AlertRecord{}, fmt.Errorf("parse baseline price: %w", err)
	}
	rec.LatestPx, err = decimal.NewFromString(latestStr)
	if err != nil {
		return AlertRecord{}, fmt.Errorf("parse latest price: %w", err)
	}
	rec.PctChange, err = decimal.NewFromString(pctStr)
	if err != nil {
		return AlertRecord{}, fmt.Errorf("parse pct change: %w", err)
	}
	rec.ThresholdPct, err = decimal.NewFromString(thresholdStr)
	if err != nil {
		return AlertRecord{}, fmt.Errorf("parse threshold pct: %w", err)
	}

	return rec, nil
}

var _ ObservationStore = (*Store)(nil)
var _ AlertStore = (*Store)(nil)
var _ AdvisoryLocker = (*Store)(nil)
