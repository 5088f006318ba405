package handler

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	// IdempotencyKeyHeader carries the client-chosen idempotency key.
	IdempotencyKeyHeader = "X-Idempotency-Key"

	idempotencyKeyPrefix = "idempotency:"
	maxIdempotencyKeyLen = 128
)

type idempotencyStatus string

const (
	statusProcessing idempotencyStatus = "processing"
	statusCompleted  idempotencyStatus = "completed"
)

type idempotencyRecord struct {
	Status       idempotencyStatus `json:"status"`
	RequestHash  string            `json:"request_hash"`
	ResponseCode int               `json:"response_code,omitempty"`
	ResponseBody string            `json:"response_body,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
}

// RedisClient is the subset of *redis.Client used for idempotency records.
type RedisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// IdempotencyConfig configures Idempotency.
type IdempotencyConfig struct {
	Redis RedisClient
	// TTL of a completed record.
	TTL time.Duration
	// ProcessingTTL bounds how long an in-flight marker survives a crash.
	ProcessingTTL time.Duration
	Logger        *zap.Logger
}

// Idempotency replays the stored response when a request is repeated with the
// same X-Idempotency-Key. Requests without the header pass through. A key
// reused for a different request gets 422, and a key whose first request is
// still running gets 409. Redis failures never block a request.
//
// It must run after Authenticator: the caller's id is part of the request
// hash.
func Idempotency(cfg IdempotencyConfig) func(http.Handler) http.Handler {
	if cfg.TTL <= 0 {
		cfg.TTL = 24 * time.Hour
	}
	if cfg.ProcessingTTL <= 0 {
		cfg.ProcessingTTL = time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	log := cfg.Logger

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(IdempotencyKeyHeader)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}
			if len(key) > maxIdempotencyKeyLen {
				writeError(w, http.StatusBadRequest, "invalid_idempotency_key", "idempotency key is too long")
				return
			}

			body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_request", "could not read request body")
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			ctx := r.Context()
			redisKey := idempotencyKeyPrefix + RequesterFrom(ctx).UserID + ":" + key
			hash := requestHash(r, body)

			existing, err := loadRecord(ctx, cfg.Redis, redisKey)
			switch {
			case err != nil && !errors.Is(err, redis.Nil):
				log.Warn("idempotency lookup failed, continuing without it", zap.Error(err))
				next.ServeHTTP(w, r)
				return
			case existing != nil:
				replay(w, existing, hash)
				return
			}

			marker := idempotencyRecord{Status: statusProcessing, RequestHash: hash, CreatedAt: time.Now().UTC()}
			claimed, err := storeRecord(ctx, cfg.Redis, redisKey, marker, cfg.ProcessingTTL, true)
			if err != nil {
				log.Warn("idempotency claim failed, continuing without it", zap.Error(err))
				next.ServeHTTP(w, r)
				return
			}
			if !claimed {
				// Lost the race to a concurrent request with the same key.
				if existing, err := loadRecord(ctx, cfg.Redis, redisKey); err == nil {
					replay(w, existing, hash)
					return
				}
				writeError(w, http.StatusConflict, "request_in_progress", "a request with this idempotency key is already being processed")
				return
			}

			rec := &capturingWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			// Stored with a fresh context: the client may already be gone.
			saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
			defer cancel()
			if rec.status >= http.StatusInternalServerError {
				if err := cfg.Redis.Del(saveCtx, redisKey).Err(); err != nil {
					log.Warn("idempotency release failed", zap.Error(err))
				}
				return
			}
			done := idempotencyRecord{
				Status:       statusCompleted,
				RequestHash:  hash,
				ResponseCode: rec.status,
				ResponseBody: rec.body.String(),
				CreatedAt:    marker.CreatedAt,
			}
			if _, err := storeRecord(saveCtx, cfg.Redis, redisKey, done, cfg.TTL, false); err != nil {
				log.Warn("idempotency save failed", zap.Error(err))
			}
		})
	}
}

func replay(w http.ResponseWriter, rec *idempotencyRecord, hash string) {
	switch {
	case rec.RequestHash != hash:
		writeError(w, http.StatusUnprocessableEntity, "idempotency_key_reused", "idempotency key already used with a different request")
	case rec.Status == statusProcessing:
		writeError(w, http.StatusConflict, "request_in_progress", "a request with this idempotency key is already being processed")
	default:
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Idempotent-Replayed", "true")
		w.WriteHeader(rec.ResponseCode)
		_, _ = io.WriteString(w, rec.ResponseBody)
	}
}

func requestHash(r *http.Request, body []byte) string {
	h := sha256.New()
	h.Write([]byte(r.Method))
	h.Write([]byte(r.URL.Path))
	h.Write([]byte(RequesterFrom(r.Context()).UserID))
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

func loadRecord(ctx context.Context, rdb RedisClient, key string) (*idempotencyRecord, error) {
	raw, err := rdb.Get(ctx, key).Result()
	if err != nil {
		return nil, err
	}
	var rec idempotencyRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func storeRecord(ctx context.Context, rdb RedisClient, key string, rec idempotencyRecord, ttl time.Duration, onlyIfAbsent bool) (bool, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return false, err
	}
	if onlyIfAbsent {
		return rdb.SetNX(ctx, key, string(data), ttl).Result()
	}
	return true, rdb.Set(ctx, key, string(data), ttl).Err()
}

// capturingWriter tees the response so it can be stored for replay.
type capturingWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
	body        bytes.Buffer
}

func (w *capturingWriter) WriteHeader(code int) {
	if w.wroteHeader {
		return
	}
	w.status = code
	w.wroteHeader = true
	w.ResponseWriter.WriteHeader(code)
}

func (w *capturingWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}
