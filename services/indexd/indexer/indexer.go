package indexer

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"nhooyr.io/websocket"

	"refnet/core/types"
	"refnet/services/indexd/storage"
)

// streamEntry mirrors the JSON payload served by the node's /ws/events feed.
type streamEntry struct {
	Sequence  uint64       `json:"sequence"`
	Cursor    string       `json:"cursor"`
	Timestamp int64        `json:"timestamp"`
	Event     *types.Event `json:"event"`
}

// Indexer consumes the node event stream and persists every entry. Each
// process start is one run identified by a UUID so stored rows can be traced
// back to the session that observed them.
type Indexer struct {
	logger  *log.Logger
	storage *storage.Storage
	nodeURL string
	backoff time.Duration
	runID   string
}

// Option configures an Indexer.
type Option func(*Indexer)

// WithLogger installs a custom logger.
func WithLogger(l *log.Logger) Option {
	return func(ix *Indexer) {
		ix.logger = l
	}
}

// WithRunID overrides the generated run identifier.
func WithRunID(id string) Option {
	return func(ix *Indexer) {
		ix.runID = id
	}
}

// New constructs an indexer streaming from the node websocket endpoint.
func New(store *storage.Storage, nodeURL string, backoff time.Duration, opts ...Option) (*Indexer, error) {
	if store == nil {
		return nil, fmt.Errorf("storage required")
	}
	trimmed := strings.TrimSpace(nodeURL)
	if trimmed == "" {
		return nil, fmt.Errorf("node websocket url required")
	}
	if _, err := url.Parse(trimmed); err != nil {
		return nil, fmt.Errorf("parse node websocket url: %w", err)
	}
	if backoff <= 0 {
		backoff = 5 * time.Second
	}
	ix := &Indexer{
		logger:  log.Default(),
		storage: store,
		nodeURL: trimmed,
		backoff: backoff,
		runID:   uuid.NewString(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(ix)
		}
	}
	return ix, nil
}

// RunID identifies this indexing session in stored rows and logs.
func (ix *Indexer) RunID() string {
	return ix.runID
}

// Run consumes the event stream until the context is cancelled, redialling
// after stream failures and resuming from the last stored sequence.
func (ix *Indexer) Run(ctx context.Context) error {
	cursor, err := ix.storage.LastCursor(ctx)
	if err != nil {
		return fmt.Errorf("load cursor: %w", err)
	}
	if err := ix.storage.RecordRun(ctx, ix.runID, ix.nodeURL, cursor, time.Now()); err != nil {
		return fmt.Errorf("record run: %w", err)
	}
	ix.logger.Printf("indexd: run %s resuming after sequence %d", ix.runID, cursor)
	for {
		if err := ix.consume(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			ix.logger.Printf("indexd: event stream interrupted: %v", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(ix.backoff):
		}
	}
}

func (ix *Indexer) consume(ctx context.Context) error {
	cursor, err := ix.storage.LastCursor(ctx)
	if err != nil {
		return fmt.Errorf("load cursor: %w", err)
	}
	target, err := ix.streamURL(cursor)
	if err != nil {
		return err
	}
	conn, _, err := websocket.Dial(ctx, target, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", target, err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")
	ix.logger.Printf("indexd: streaming events from %s", target)
	for {
		msgType, data, err := conn.Read(ctx)
		if err != nil {
			return fmt.Errorf("read stream: %w", err)
		}
		if msgType != websocket.MessageText {
			continue
		}
		var entry streamEntry
		if err := json.Unmarshal(data, &entry); err != nil {
			return fmt.Errorf("decode stream entry: %w", err)
		}
		if err := ix.record(ctx, entry); err != nil {
			return err
		}
	}
}

// streamURL appends the resume cursor to the configured endpoint. A zero
// cursor omits the parameter so the node replays its whole retained history.
func (ix *Indexer) streamURL(cursor uint64) (string, error) {
	parsed, err := url.Parse(ix.nodeURL)
	if err != nil {
		return "", fmt.Errorf("parse node websocket url: %w", err)
	}
	if cursor > 0 {
		query := parsed.Query()
		query.Set("cursor", strconv.FormatUint(cursor, 10))
		parsed.RawQuery = query.Encode()
	}
	return parsed.String(), nil
}

func (ix *Indexer) record(ctx context.Context, entry streamEntry) error {
	if entry.Event == nil || entry.Sequence == 0 {
		return nil
	}
	attrs, err := json.Marshal(entry.Event.Attributes)
	if err != nil {
		return fmt.Errorf("encode attributes: %w", err)
	}
	rec := storage.EventRecord{
		Sequence:    entry.Sequence,
		RunID:       ix.runID,
		Type:        entry.Event.Type,
		Owner:       entry.Event.Attribute("owner"),
		Participant: entry.Event.Attribute("caller"),
		Amount:      entry.Event.Attribute("amount"),
		Currency:    entry.Event.Attribute("currency"),
		Attributes:  string(attrs),
		EmittedAt:   entry.Timestamp,
	}
	if raw := entry.Event.Attribute("campaignId"); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return fmt.Errorf("parse campaign id %q: %w", raw, err)
		}
		rec.CampaignID = &id
	}
	inserted, err := ix.storage.InsertEvent(ctx, rec)
	if err != nil {
		return fmt.Errorf("store event %d: %w", entry.Sequence, err)
	}
	if !inserted {
		ix.logger.Printf("indexd: skipping replayed sequence %d", entry.Sequence)
	}
	return nil
}
