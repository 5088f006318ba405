package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Shivanand-hulikatti/event-booking-engine/internal/model"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRedis struct {
	mu   sync.Mutex
	data map[string]string
	err  error
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{data: make(map[string]string)}
}

func (f *fakeRedis) Get(_ context.Context, key string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return redis.NewStringResult("", f.err)
	}
	v, ok := f.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeRedis) Set(_ context.Context, key string, value any, _ time.Duration) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return redis.NewStatusResult("", f.err)
	}
	f.data[key] = value.(string)
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) SetNX(_ context.Context, key string, value any, _ time.Duration) *redis.BoolCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return redis.NewBoolResult(false, f.err)
	}
	if _, ok := f.data[key]; ok {
		return redis.NewBoolResult(false, nil)
	}
	f.data[key] = value.(string)
	return redis.NewBoolResult(true, nil)
}

func (f *fakeRedis) Del(_ context.Context, keys ...string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, k := range keys {
		if _, ok := f.data[k]; ok {
			delete(f.data, k)
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func (f *fakeRedis) len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.data)
}

// countingHandler answers 201 with an increasing sequence number.
func countingHandler(calls *atomic.Int64, status int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		writeJSON(w, status, map[string]int64{"call": n})
	})
}

func idemRequest(key, user, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/bookings", strings.NewReader(body))
	if key != "" {
		req.Header.Set(IdempotencyKeyHeader, key)
	}
	if user != "" {
		req = req.WithContext(WithRequester(req.Context(), model.Requester{UserID: user, Role: model.RoleUser}))
	}
	return req
}

func TestIdempotencyReplaysCompletedResponse(t *testing.T) {
	rdb := newFakeRedis()
	var calls atomic.Int64
	h := Idempotency(IdempotencyConfig{Redis: rdb})(countingHandler(&calls, http.StatusCreated))

	first := httptest.NewRecorder()
	h.ServeHTTP(first, idemRequest("k1", "alice", `{"n":1}`))
	second := httptest.NewRecorder()
	h.ServeHTTP(second, idemRequest("k1", "alice", `{"n":1}`))

	assert.Equal(t, int64(1), calls.Load())
	assert.Equal(t, http.StatusCreated, second.Code)
	assert.JSONEq(t, first.Body.String(), second.Body.String())
	assert.Equal(t, "true", second.Header().Get("Idempotent-Replayed"))
}

func TestIdempotencyRejectsReusedKey(t *testing.T) {
	rdb := newFakeRedis()
	var calls atomic.Int64
	h := Idempotency(IdempotencyConfig{Redis: rdb})(countingHandler(&calls, http.StatusCreated))

	h.ServeHTTP(httptest.NewRecorder(), idemRequest("k1", "alice", `{"n":1}`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, idemRequest("k1", "alice", `{"n":2}`))

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, int64(1), calls.Load())
}

func TestIdempotencyKeysAreScopedPerUser(t *testing.T) {
	rdb := newFakeRedis()
	var calls atomic.Int64
	h := Idempotency(IdempotencyConfig{Redis: rdb})(countingHandler(&calls, http.StatusCreated))

	h.ServeHTTP(httptest.NewRecorder(), idemRequest("shared", "alice", `{}`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, idemRequest("shared", "bob", `{}`))

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, int64(2), calls.Load())
}

func TestIdempotencyInFlight(t *testing.T) {
	rdb := newFakeRedis()
	release := make(chan struct{})
	entered := make(chan struct{})
	slow := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		close(entered)
		<-release
		writeJSON(w, http.StatusCreated, map[string]string{"ok": "yes"})
	})
	h := Idempotency(IdempotencyConfig{Redis: rdb})(slow)

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.ServeHTTP(httptest.NewRecorder(), idemRequest("k1", "alice", `{}`))
	}()
	<-entered

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, idemRequest("k1", "alice", `{}`))
	assert.Equal(t, http.StatusConflict, rec.Code)

	close(release)
	<-done
}

func TestIdempotencyReleasesKeyOnServerError(t *testing.T) {
	rdb := newFakeRedis()
	var calls atomic.Int64
	h := Idempotency(IdempotencyConfig{Redis: rdb})(countingHandler(&calls, http.StatusServiceUnavailable))

	h.ServeHTTP(httptest.NewRecorder(), idemRequest("k1", "alice", `{}`))
	assert.Zero(t, rdb.len())
	h.ServeHTTP(httptest.NewRecorder(), idemRequest("k1", "alice", `{}`))
	assert.Equal(t, int64(2), calls.Load())
}

func TestIdempotencyPassThrough(t *testing.T) {
	t.Run("no key", func(t *testing.T) {
		rdb := newFakeRedis()
		var calls atomic.Int64
		h := Idempotency(IdempotencyConfig{Redis: rdb})(countingHandler(&calls, http.StatusCreated))

		h.ServeHTTP(httptest.NewRecorder(), idemRequest("", "alice", `{}`))
		h.ServeHTTP(httptest.NewRecorder(), idemRequest("", "alice", `{}`))
		assert.Equal(t, int64(2), calls.Load())
		assert.Zero(t, rdb.len())
	})

	t.Run("redis down", func(t *testing.T) {
		rdb := newFakeRedis()
		rdb.err = errors.New("dial tcp: connection refused")
		var calls atomic.Int64
		h := Idempotency(IdempotencyConfig{Redis: rdb})(countingHandler(&calls, http.StatusCreated))

		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, idemRequest("k1", "alice", `{}`))
		assert.Equal(t, http.StatusCreated, rec.Code)
		h.ServeHTTP(httptest.NewRecorder(), idemRequest("k1", "alice", `{}`))
		assert.Equal(t, int64(2), calls.Load())
	})
}

func TestIdempotentReservationOverRouter(t *testing.T) {
	rdb := newFakeRedis()
	api := newTestAPI(t, &IdempotencyConfig{Redis: rdb})
	eventID := api.event(t, 10, testNow.Add(time.Hour))
	alice := token(t, "alice", model.RoleUser)

	first := api.do(t, http.MethodPost, "/api/v1/bookings", alice, reserveBody(eventID, 2), IdempotencyKeyHeader, "retry-1")
	require.Equal(t, http.StatusCreated, first.Code)
	retry := api.do(t, http.MethodPost, "/api/v1/bookings", alice, reserveBody(eventID, 2), IdempotencyKeyHeader, "retry-1")
	assert.Equal(t, http.StatusCreated, retry.Code)
	assert.JSONEq(t, first.Body.String(), retry.Body.String())

	ev, err := api.store.GetEvent(context.Background(), eventID)
	require.NoError(t, err)
	assert.Equal(t, 8, ev.AvailableSeats)
}
