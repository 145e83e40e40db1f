package storage

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"aura-oracle/internal/automation"
	"aura-oracle/internal/oracle"
	"aura-oracle/internal/workflow"
)

//go:embed schema.sql
var schemaSQL string

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	upsertNavSQL = `INSERT INTO nav_records (
        pool_id, value, report_ts, report_id, source, updated_at
    ) VALUES ($1,$2,$3,$4,$5,now())
    ON CONFLICT (pool_id) DO UPDATE
    SET value      = EXCLUDED.value,
        report_ts  = EXCLUDED.report_ts,
        report_id  = EXCLUDED.report_id,
        source     = EXCLUDED.source,
        updated_at = EXCLUDED.updated_at;`

	upsertReserveSQL = `INSERT INTO reserve_records (
        asset_id, value, report_ts, report_id, source, updated_at
    ) VALUES ($1,$2,$3,$4,$5,now())
    ON CONFLICT (asset_id) DO UPDATE
    SET value      = EXCLUDED.value,
        report_ts  = EXCLUDED.report_ts,
        report_id  = EXCLUDED.report_id,
        source     = EXCLUDED.source,
        updated_at = EXCLUDED.updated_at;`

	selectNavSQL = `SELECT pool_id, value::text, report_ts::text, report_id, source, updated_at
    FROM nav_records WHERE pool_id = $1;`

	selectReserveSQL = `SELECT asset_id, value::text, report_ts::text, report_id, source, updated_at
    FROM reserve_records WHERE asset_id = $1;`

	insertSubmissionSQL = `INSERT INTO submissions (
        report_id, pool_id, asset_id, nav, reserve, report_ts,
        network, receiver, tx_hash, status, error, submitted_at
    ) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12);`

	submissionColumns = `id, report_id, pool_id, asset_id, nav::text, reserve::text, report_ts::text,
        network, receiver, tx_hash, status, error, submitted_at, created_at`

	listRecentSubmissionsSQL = `SELECT ` + submissionColumns + `
    FROM submissions
    ORDER BY submitted_at DESC, id DESC
    LIMIT $1;`

	listSubmissionsBetweenSQL = `SELECT ` + submissionColumns + `
    FROM submissions
    WHERE submitted_at >= $1
      AND submitted_at < $2
    ORDER BY submitted_at, id;`

	countSubmissionsSQL = `SELECT COUNT(*) FROM submissions;`

	loadLastRunSQL = `SELECT last_run FROM automation_state WHERE name = $1;`

	saveLastRunSQL = `INSERT INTO automation_state (name, last_run, updated_at)
    VALUES ($1,$2,now())
    ON CONFLICT (name) DO UPDATE
    SET last_run = EXCLUDED.last_run, updated_at = EXCLUDED.updated_at;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// SubmissionStore defines operations for the submission journal.
type SubmissionStore interface {
	RecordSubmission(ctx context.Context, s workflow.Submission) error
	ListRecentSubmissions(ctx context.Context, limit int) ([]SubmissionRecord, error)
	ListSubmissionsBetween(ctx context.Context, from, to time.Time) ([]SubmissionRecord, error)
	CountSubmissions(ctx context.Context) (int64, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store persists oracle records, automation state and the submission journal.
type Store struct {
	pool *pgxpool.Pool
}

var (
	_ oracle.Registry       = (*Store)(nil)
	_ automation.StateStore = (*Store)(nil)
	_ workflow.Journal      = (*Store)(nil)
	_ SubmissionStore       = (*Store)(nil)
	_ AdvisoryLocker        = (*Store)(nil)
)

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

// EnsureSchema creates missing tables. It is idempotent.
func (s *Store) EnsureSchema(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
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
		// a failed unlock is released with the session
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
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

// LatestNav implements oracle.Registry.
func (s *Store) LatestNav(ctx context.Context, poolID common.Hash) (oracle.Record, error) {
	row, err := s.oracleRow(ctx, selectNavSQL, poolID)
	if err != nil {
		return oracle.Record{}, fmt.Errorf("nav %s: %w", poolID.Hex(), err)
	}
	return oracle.Record{Value: row.Value, Timestamp: row.Timestamp}, nil
}

// LatestReserve implements oracle.Registry.
func (s *Store) LatestReserve(ctx context.Context, assetID common.Hash) (oracle.Record, error) {
	row, err := s.oracleRow(ctx, selectReserveSQL, assetID)
	if err != nil {
		return oracle.Record{}, fmt.Errorf("reserve %s: %w", assetID.Hex(), err)
	}
	return oracle.Record{Value: row.Value, Timestamp: row.Timestamp}, nil
}

// NavRow returns the stored NAV record with provenance.
func (s *Store) NavRow(ctx context.Context, poolID common.Hash) (OracleRow, error) {
	return s.oracleRow(ctx, selectNavSQL, poolID)
}

// ReserveRow returns the stored PoR record with provenance.
func (s *Store) ReserveRow(ctx context.Context, assetID common.Hash) (OracleRow, error) {
	return s.oracleRow(ctx, selectReserveSQL, assetID)
}

func (s *Store) oracleRow(ctx context.Context, query string, key common.Hash) (OracleRow, error) {
	pool, err := s.getPool()
	if err != nil {
		return OracleRow{}, err
	}

	var (
		keyBytes, idBytes []byte
		valueStr, tsStr   string
		row               OracleRow
	)
	scanErr := pool.QueryRow(ctx, query, key.Bytes()).Scan(&keyBytes, &valueStr, &tsStr, &idBytes, &row.Source, &row.UpdatedAt)
	if errors.Is(scanErr, pgx.ErrNoRows) {
		return OracleRow{}, oracle.ErrNotFound
	}
	if scanErr != nil {
		return OracleRow{}, fmt.Errorf("query oracle record: %w", scanErr)
	}

	row.Key = common.BytesToHash(keyBytes)
	row.ReportID = common.BytesToHash(idBytes)
	if row.Value, err = parseUint256(valueStr); err != nil {
		return OracleRow{}, fmt.Errorf("parse value: %w", err)
	}
	if row.Timestamp, err = strconv.ParseUint(tsStr, 10, 64); err != nil {
		return OracleRow{}, fmt.Errorf("parse report timestamp: %w", err)
	}
	return row, nil
}

// Commit implements oracle.Registry. Both upserts run in one transaction.
func (s *Store) Commit(ctx context.Context, u oracle.Update) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin commit: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	ts := strconv.FormatUint(u.Timestamp, 10)
	if _, err := tx.Exec(ctx, upsertNavSQL, u.PoolID.Bytes(), u.NAV.String(), ts, u.ReportID.Bytes(), u.Source); err != nil {
		return fmt.Errorf("upsert nav: %w", err)
	}
	if _, err := tx.Exec(ctx, upsertReserveSQL, u.AssetID.Bytes(), u.Reserve.String(), ts, u.ReportID.Bytes(), u.Source); err != nil {
		return fmt.Errorf("upsert reserve: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit oracle update: %w", err)
	}
	return nil
}

// LoadLastRun implements automation.StateStore.
func (s *Store) LoadLastRun(ctx context.Context, name string) (time.Time, bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return time.Time{}, false, err
	}
	var at time.Time
	scanErr := pool.QueryRow(ctx, loadLastRunSQL, name).Scan(&at)
	if errors.Is(scanErr, pgx.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if scanErr != nil {
		return time.Time{}, false, fmt.Errorf("load last run: %w", scanErr)
	}
	return at, true, nil
}

// SaveLastRun implements automation.StateStore.
func (s *Store) SaveLastRun(ctx context.Context, name string, at time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, saveLastRunSQL, name, at.UTC()); err != nil {
		return fmt.Errorf("save last run: %w", err)
	}
	return nil
}

// RecordSubmission implements workflow.Journal.
func (s *Store) RecordSubmission(ctx context.Context, sub workflow.Submission) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	var errMsg interface{}
	if sub.Error != "" {
		errMsg = sub.Error
	}
	r := sub.Report
	_, execErr := pool.Exec(ctx, insertSubmissionSQL,
		r.ReportID.Bytes(),
		r.PoolID.Bytes(),
		r.AssetID.Bytes(),
		bigString(r.NAV),
		bigString(r.Reserve),
		strconv.FormatUint(r.Timestamp, 10),
		sub.Network,
		sub.Receiver.Hex(),
		sub.TxHash.Bytes(),
		string(sub.Status),
		errMsg,
		sub.SubmittedAt,
	)
	if execErr != nil {
		return fmt.Errorf("insert submission: %w", execErr)
	}
	return nil
}

// ListRecentSubmissions lists the newest submissions first.
func (s *Store) ListRecentSubmissions(ctx context.Context, limit int) ([]SubmissionRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	rows, queryErr := pool.Query(ctx, listRecentSubmissionsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent submissions: %w", queryErr)
	}
	return collectSubmissions(rows, limit)
}

// ListSubmissionsBetween lists submissions within [from, to) in submission order.
func (s *Store) ListSubmissionsBetween(ctx context.Context, from, to time.Time) ([]SubmissionRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	rows, queryErr := pool.Query(ctx, listSubmissionsBetweenSQL, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list submissions between: %w", queryErr)
	}
	return collectSubmissions(rows, 0)
}

// CountSubmissions counts journaled submissions.
func (s *Store) CountSubmissions(ctx context.Context) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, countSubmissionsSQL).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count submissions: %w", scanErr)
	}
	return count, nil
}

func collectSubmissions(rows pgx.Rows, capacity int) ([]SubmissionRecord, error) {
	defer rows.Close()

	out := make([]SubmissionRecord, 0, capacity)
	for rows.Next() {
		rec, err := scanSubmission(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

func scanSubmission(rows pgx.Rows) (SubmissionRecord, error) {
	var (
		rec                             SubmissionRecord
		reportID, poolID, assetID, txID []byte
		navStr, reserveStr, tsStr       string
		errMsg                          *string
	)
	if err := rows.Scan(
		&rec.ID,
		&reportID,
		&poolID,
		&assetID,
		&navStr,
		&reserveStr,
		&tsStr,
		&rec.Network,
		&rec.Receiver,
		&txID,
		&rec.Status,
		&errMsg,
		&rec.SubmittedAt,
		&rec.CreatedAt,
	); err != nil {
		return SubmissionRecord{}, err
	}

	var err error
	rec.ReportID = common.BytesToHash(reportID)
	rec.PoolID = common.BytesToHash(poolID)
	rec.AssetID = common.BytesToHash(assetID)
	rec.TxHash = common.BytesToHash(txID)
	rec.Error = errMsg
	if rec.NAV, err = parseUint256(navStr); err != nil {
		return SubmissionRecord{}, fmt.Errorf("parse nav: %w", err)
	}
	if rec.Reserve, err = parseUint256(reserveStr); err != nil {
		return SubmissionRecord{}, fmt.Errorf("parse reserve: %w", err)
	}
	if rec.ReportTimestamp, err = strconv.ParseUint(tsStr, 10, 64); err != nil {
		return SubmissionRecord{}, fmt.Errorf("parse report timestamp: %w", err)
	}
	return rec, nil
}

func parseUint256(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid integer %q", s)
	}
	if v.Sign() < 0 || v.BitLen() > 256 {
		return nil, fmt.Errorf("value %s out of uint256 range", s)
	}
	return v, nil
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
