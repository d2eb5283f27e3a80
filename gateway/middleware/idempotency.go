package middleware

import (
	"bytes"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"
)

const headerIdempotencyKey = "Idempotency-Key"

var bucketResponses = []byte("responses")

// IdempotencyRecord stores the cached response envelope for a key.
type IdempotencyRecord struct {
	StatusCode  int       `json:"statusCode"`
	ContentType string    `json:"contentType,omitempty"`
	Body        []byte    `json:"body"`
	StoredAt    time.Time `json:"storedAt"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// Idempotency replays cached responses for mutating requests carrying an
// Idempotency-Key header. Responses persist in a Bolt database so replays
// survive gateway restarts.
type Idempotency struct {
	db     *bolt.DB
	ttl    time.Duration
	logger *log.Logger
	nowFn  func() time.Time
}

func NewIdempotency(path string, ttl time.Duration, logger *log.Logger) (*Idempotency, error) {
	if logger == nil {
		logger = log.Default()
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketResponses)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Idempotency{db: db, ttl: ttl, logger: logger, nowFn: time.Now}, nil
}

// Close releases the underlying Bolt database handle.
func (i *Idempotency) Close() error {
	if i == nil || i.db == nil {
		return nil
	}
	return i.db.Close()
}

func (i *Idempotency) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if i == nil || i.db == nil {
				next.ServeHTTP(w, r)
				return
			}
			idemKey := strings.TrimSpace(r.Header.Get(headerIdempotencyKey))
			if idemKey == "" || !mutatingMethod(r.Method) {
				next.ServeHTTP(w, r)
				return
			}
			key := cacheKey(Subject(r.Context()), r.Method, r.URL.Path, idemKey)
			if record, found := i.lookup(key); found {
				writeCachedResponse(w, record)
				return
			}
			recorder := &bufferingRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(recorder, r)
			// Server errors are transient and stay replayable.
			if recorder.status < http.StatusInternalServerError {
				i.store(key, IdempotencyRecord{
					StatusCode:  recorder.status,
					ContentType: recorder.Header().Get("Content-Type"),
					Body:        recorder.body.Bytes(),
					StoredAt:    i.nowFn(),
					ExpiresAt:   i.nowFn().Add(i.ttl),
				})
			}
		})
	}
}

func (i *Idempotency) lookup(key string) (IdempotencyRecord, bool) {
	var record IdempotencyRecord
	err := i.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketResponses)
		raw := bucket.Get([]byte(key))
		if raw == nil {
			return nil
		}
		if err := json.Unmarshal(raw, &record); err != nil {
			return err
		}
		if i.nowFn().After(record.ExpiresAt) {
			record = IdempotencyRecord{}
			return bucket.Delete([]byte(key))
		}
		return nil
	})
	if err != nil {
		i.logger.Printf("idempotency: lookup failed: %v", err)
		return IdempotencyRecord{}, false
	}
	if record.StatusCode == 0 && len(record.Body) == 0 {
		return IdempotencyRecord{}, false
	}
	return record, true
}

func (i *Idempotency) store(key string, record IdempotencyRecord) {
	err := i.db.Update(func(tx *bolt.Tx) error {
		payload, err := json.Marshal(record)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketResponses).Put([]byte(key), payload)
	})
	if err != nil {
		i.logger.Printf("idempotency: store failed: %v", err)
	}
}

func writeCachedResponse(w http.ResponseWriter, record IdempotencyRecord) {
	if record.ContentType != "" {
		w.Header().Set("Content-Type", record.ContentType)
	}
	w.Header().Set("X-Idempotency-Cache", "hit")
	w.WriteHeader(record.StatusCode)
	_, _ = w.Write(record.Body)
}

func cacheKey(subject, method, path, idem string) string {
	return subject + "|" + method + "|" + path + "|" + idem
}

func mutatingMethod(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	default:
		return false
	}
}

// bufferingRecorder tees the response body so it can be cached while still
// streaming to the client.
type bufferingRecorder struct {
	http.ResponseWriter
	status      int
	body        bytes.Buffer
	wroteHeader bool
}

func (b *bufferingRecorder) WriteHeader(code int) {
	if b.wroteHeader {
		return
	}
	b.status = code
	b.wroteHeader = true
	b.ResponseWriter.WriteHeader(code)
}

func (b *bufferingRecorder) Write(p []byte) (int, error) {
	if !b.wroteHeader {
		b.WriteHeader(http.StatusOK)
	}
	b.body.Write(p)
	return b.ResponseWriter.Write(p)
}
