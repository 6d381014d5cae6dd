// Package store persists the state that must survive a restart: lockout
// records, the daily realized-P&L accumulator, and the enforcement audit
// log. Writes are per-account and atomic; a write error must be treated
// by the caller as "the transition did not happen".
package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/Jakers471/risk-manager/domain"
)

type SQLite struct {
	db *sql.DB
}

func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

// SaveLockout upserts the lockout record for (account, scope).
func (s *SQLite) SaveLockout(accountID string, st domain.LockoutState) error {
	var expires any
	if st.ExpiresAt != nil {
		expires = st.ExpiresAt.UTC()
	}
	_, err := s.db.Exec(`
		INSERT INTO lockouts (account_id, scope, kind, reason, set_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(account_id, scope) DO UPDATE SET
			kind = excluded.kind,
			reason = excluded.reason,
			set_at = excluded.set_at,
			expires_at = excluded.expires_at`,
		accountID, st.Scope, string(st.Kind), st.Reason, st.SetAt.UTC(), expires,
	)
	return err
}

// DeleteLockout removes the lockout record for (account, scope).
func (s *SQLite) DeleteLockout(accountID, scope string) error {
	_, err := s.db.Exec(`DELETE FROM lockouts WHERE account_id = ? AND scope = ?`,
		accountID, scope)
	return err
}

// Lockouts returns every persisted lockout for the account.
func (s *SQLite) Lockouts(accountID string) ([]domain.LockoutState, error) {
	rows, err := s.db.Query(`
		SELECT scope, kind, reason, set_at, expires_at
		FROM lockouts WHERE account_id = ?`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.LockoutState
	for rows.Next() {
		var (
			st      domain.LockoutState
			kind    string
			expires sql.NullTime
		)
		if err := rows.Scan(&st.Scope, &kind, &st.Reason, &st.SetAt, &expires); err != nil {
			return nil, err
		}
		st.Kind = domain.LockoutKind(kind)
		if expires.Valid {
			t := expires.Time
			st.ExpiresAt = &t
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// DayState is the persisted daily accumulator for one account.
type DayState struct {
	AccountID   string
	Day         string // trading-day key, "2006-01-02" in the reset TZ
	RealizedPnL float64
	TradeCount  int
	PeakEquity  float64
}

// SaveDay upserts the daily accumulator.
func (s *SQLite) SaveDay(d DayState) error {
	_, err := s.db.Exec(`
		INSERT INTO pnl_days (account_id, day, realized_pnl, trade_count, peak_equity)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(account_id) DO UPDATE SET
			day = excluded.day,
			realized_pnl = excluded.realized_pnl,
			trade_count = excluded.trade_count,
			peak_equity = excluded.peak_equity`,
		d.AccountID, d.Day, d.RealizedPnL, d.TradeCount, d.PeakEquity,
	)
	return err
}

// Day loads the daily accumulator. ok is false when the account has no
// persisted day yet.
func (s *SQLite) Day(accountID string) (DayState, bool, error) {
	d := DayState{AccountID: accountID}
	err := s.db.QueryRow(`
		SELECT day, realized_pnl, trade_count, peak_equity
		FROM pnl_days WHERE account_id = ?`, accountID,
	).Scan(&d.Day, &d.RealizedPnL, &d.TradeCount, &d.PeakEquity)
	if err == sql.ErrNoRows {
		return d, false, nil
	}
	if err != nil {
		return d, false, err
	}
	return d, true, nil
}

// EnforcementRecord is one audit row: what the executor did and how it
// went.
type EnforcementRecord struct {
	ID        string
	Time      time.Time
	AccountID string
	Rule      string
	Action    string
	Target    string
	Status    string // "ok", "failed", "suppressed"
	Detail    string
}

func (s *SQLite) RecordEnforcement(r EnforcementRecord) error {
	_, err := s.db.Exec(`
		INSERT INTO enforcements (id, time, account_id, rule, action, target, status, detail)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Time.UTC(), r.AccountID, r.Rule, r.Action, r.Target, r.Status, r.Detail,
	)
	return err
}

// RecentEnforcements returns the latest audit rows, newest first.
func (s *SQLite) RecentEnforcements(accountID string, limit int) ([]EnforcementRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`
		SELECT id, time, account_id, rule, action, target, status, detail
		FROM enforcements WHERE account_id = ?
		ORDER BY id DESC LIMIT ?`, accountID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []EnforcementRecord
	for rows.Next() {
		var r EnforcementRecord
		if err := rows.Scan(&r.ID, &r.Time, &r.AccountID, &r.Rule, &r.Action,
			&r.Target, &r.Status, &r.Detail); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
