package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"time"

	_ "github.com/glebarez/sqlite"

	"refnet/core/events"
)

// Storage wraps the indexd persistence layer.
type Storage struct {
	db *sql.DB
}

// ErrPathRequired is returned when the backing store path is missing.
var ErrPathRequired = errors.New("indexd storage path must be configured")

// Open initialises the backing store using a sqlite-compatible DSN.
func Open(dsn string) (*Storage, error) {
	trimmed := strings.TrimSpace(dsn)
	if trimmed == "" {
		return nil, ErrPathRequired
	}
	db, err := sql.Open("sqlite", trimmed)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Storage{db: db}, nil
}

// Close releases database resources.
func (s *Storage) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// RecordRun registers an indexing session before any events are consumed.
func (s *Storage) RecordRun(ctx context.Context, id, nodeURL string, startCursor uint64, started time.Time) error {
	if s == nil {
		return fmt.Errorf("storage not configured")
	}
	trimmed := strings.TrimSpace(id)
	if trimmed == "" {
		return fmt.Errorf("run id required")
	}
	if started.IsZero() {
		started = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO runs(id, node_url, start_cursor, started_at)
        VALUES(?, ?, ?, ?)
    `, trimmed, strings.TrimSpace(nodeURL), int64(startCursor), started.UTC())
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// EventRecord is one observed stream entry in storable form. Participant holds
// the caller attribute when the event carries one; CampaignID is nil for
// events without a campaign scope (pool deposits, pause toggles).
type EventRecord struct {
	Sequence    uint64
	RunID       string
	Type        string
	CampaignID  *uint64
	Owner       string
	Participant string
	Amount      string
	Currency    string
	Attributes  string
	EmittedAt   int64
}

// InsertEvent persists one stream entry, returning false when the sequence was
// already present. Replayed sequences are ignored so resuming from an older
// cursor stays idempotent.
func (s *Storage) InsertEvent(ctx context.Context, rec EventRecord) (bool, error) {
	if s == nil {
		return false, fmt.Errorf("storage not configured")
	}
	if rec.Sequence == 0 {
		return false, fmt.Errorf("event sequence required")
	}
	eventType := strings.TrimSpace(rec.Type)
	if eventType == "" {
		return false, fmt.Errorf("event type required")
	}
	var campaign any
	if rec.CampaignID != nil {
		campaign = int64(*rec.CampaignID)
	}
	result, err := s.db.ExecContext(ctx, `
        INSERT INTO events(seq, run_id, type, campaign_id, owner, participant, amount, currency, attributes, emitted_at, recorded_at)
        VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(seq) DO NOTHING
    `, int64(rec.Sequence), strings.TrimSpace(rec.RunID), eventType, campaign, strings.ToLower(strings.TrimSpace(rec.Owner)),
		strings.ToLower(strings.TrimSpace(rec.Participant)), strings.TrimSpace(rec.Amount), strings.TrimSpace(rec.Currency),
		rec.Attributes, rec.EmittedAt, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("insert event: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert event: %w", err)
	}
	return affected > 0, nil
}

// LastCursor returns the highest stored sequence, zero when no events have
// been indexed yet.
func (s *Storage) LastCursor(ctx context.Context) (uint64, error) {
	if s == nil {
		return 0, fmt.Errorf("storage not configured")
	}
	row := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) FROM events`)
	var seq int64
	if err := row.Scan(&seq); err != nil {
		return 0, fmt.Errorf("query cursor: %w", err)
	}
	if seq < 0 {
		seq = 0
	}
	return uint64(seq), nil
}

// CurrencyTotal aggregates amounts for one denomination.
type CurrencyTotal struct {
	Currency string `json:"currency"`
	Total    string `json:"total"`
}

// CampaignStats summarises observed activity for one campaign.
type CampaignStats struct {
	CampaignID   uint64          `json:"campaignId"`
	Events       uint64          `json:"events"`
	Claims       uint64          `json:"claims"`
	Participants uint64          `json:"uniqueParticipants"`
	Withdrawn    []CurrencyTotal `json:"withdrawn,omitempty"`
	FirstSeen    int64           `json:"firstSeen,omitempty"`
	LastSeen     int64           `json:"lastSeen,omitempty"`
	LastSequence uint64          `json:"lastSequence,omitempty"`
}

// CampaignStats aggregates the indexed events for the campaign.
func (s *Storage) CampaignStats(ctx context.Context, id uint64) (CampaignStats, error) {
	stats := CampaignStats{CampaignID: id}
	if s == nil {
		return stats, fmt.Errorf("storage not configured")
	}
	row := s.db.QueryRowContext(ctx, `
        SELECT COUNT(*), COALESCE(MIN(emitted_at), 0), COALESCE(MAX(emitted_at), 0), COALESCE(MAX(seq), 0)
        FROM events
        WHERE campaign_id = ?
    `, int64(id))
	var total, lastSeq int64
	if err := row.Scan(&total, &stats.FirstSeen, &stats.LastSeen, &lastSeq); err != nil {
		return stats, fmt.Errorf("query campaign events: %w", err)
	}
	stats.Events = uint64(total)
	stats.LastSequence = uint64(lastSeq)

	row = s.db.QueryRowContext(ctx, `
        SELECT COUNT(*), COUNT(DISTINCT participant)
        FROM events
        WHERE campaign_id = ? AND type = ?
    `, int64(id), events.TypeReferralSuccessful)
	var claims, participants int64
	if err := row.Scan(&claims, &participants); err != nil {
		return stats, fmt.Errorf("query campaign claims: %w", err)
	}
	stats.Claims = uint64(claims)
	stats.Participants = uint64(participants)

	withdrawn, err := s.sumByCurrency(ctx, `
        SELECT currency, amount
        FROM events
        WHERE campaign_id = ? AND type = ?
    `, int64(id), events.TypeReferralFundsWithdrawn)
	if err != nil {
		return stats, err
	}
	stats.Withdrawn = withdrawn
	return stats, nil
}

// ReferrerStats summarises observed activity for one participant address.
type ReferrerStats struct {
	Address   string          `json:"address"`
	Claims    uint64          `json:"claims"`
	Campaigns uint64          `json:"campaigns"`
	Deposited []CurrencyTotal `json:"deposited,omitempty"`
	FirstSeen int64           `json:"firstSeen,omitempty"`
	LastSeen  int64           `json:"lastSeen,omitempty"`
}

// ReferrerStats aggregates claim activity for the hex-encoded address.
func (s *Storage) ReferrerStats(ctx context.Context, address string) (ReferrerStats, error) {
	normalized := strings.ToLower(strings.TrimSpace(address))
	stats := ReferrerStats{Address: normalized}
	if s == nil {
		return stats, fmt.Errorf("storage not configured")
	}
	if normalized == "" {
		return stats, fmt.Errorf("address required")
	}
	row := s.db.QueryRowContext(ctx, `
        SELECT COUNT(*), COUNT(DISTINCT campaign_id), COALESCE(MIN(emitted_at), 0), COALESCE(MAX(emitted_at), 0)
        FROM events
        WHERE participant = ? AND type = ?
    `, normalized, events.TypeReferralSuccessful)
	var claims, campaigns int64
	if err := row.Scan(&claims, &campaigns, &stats.FirstSeen, &stats.LastSeen); err != nil {
		return stats, fmt.Errorf("query referrer claims: %w", err)
	}
	stats.Claims = uint64(claims)
	stats.Campaigns = uint64(campaigns)

	deposited, err := s.sumByCurrency(ctx, `
        SELECT currency, amount
        FROM events
        WHERE participant = ? AND type = ?
    `, normalized, events.TypeReferralPoolDeposited)
	if err != nil {
		return stats, err
	}
	stats.Deposited = deposited
	return stats, nil
}

func (s *Storage) sumByCurrency(ctx context.Context, query string, args ...any) ([]CurrencyTotal, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query amounts: %w", err)
	}
	defer rows.Close()
	totals := make(map[string]*big.Int)
	for rows.Next() {
		var currency, amount string
		if err := rows.Scan(&currency, &amount); err != nil {
			return nil, fmt.Errorf("scan amount: %w", err)
		}
		value, ok := new(big.Int).SetString(strings.TrimSpace(amount), 10)
		if !ok {
			return nil, fmt.Errorf("malformed amount %q", amount)
		}
		if total, exists := totals[currency]; exists {
			total.Add(total, value)
		} else {
			totals[currency] = value
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate amounts: %w", err)
	}
	out := make([]CurrencyTotal, 0, len(totals))
	for currency, total := range totals {
		out = append(out, CurrencyTotal{Currency: currency, Total: total.String()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Currency < out[j].Currency })
	return out, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    node_url TEXT NOT NULL,
    start_cursor INTEGER NOT NULL,
    started_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS events (
    seq INTEGER PRIMARY KEY,
    run_id TEXT NOT NULL,
    type TEXT NOT NULL,
    campaign_id INTEGER,
    owner TEXT NOT NULL,
    participant TEXT NOT NULL,
    amount TEXT NOT NULL,
    currency TEXT NOT NULL,
    attributes TEXT NOT NULL,
    emitted_at INTEGER NOT NULL,
    recorded_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_campaign ON events(campaign_id, seq);
CREATE INDEX IF NOT EXISTS idx_events_participant ON events(participant, seq);
CREATE INDEX IF NOT EXISTS idx_events_type ON events(type, seq);
`
