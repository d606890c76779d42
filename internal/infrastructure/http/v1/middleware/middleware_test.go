package middleware

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"concreterp/internal/core/apperror"
	"concreterp/internal/infrastructure/idempotency"
	"concreterp/pkg/logger"
)

type memKV struct {
	data map[string]string
}

func newMemKV() *memKV { return &memKV{data: map[string]string{}} }

func kvString(v any) string {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v.(string)
}

func (m *memKV) SetNX(_ context.Context, key string, value any, _ time.Duration) *redis.BoolCmd {
	if _, ok := m.data[key]; ok {
		return redis.NewBoolResult(false, nil)
	}
	m.data[key] = kvString(value)
	return redis.NewBoolResult(true, nil)
}

func (m *memKV) Get(_ context.Context, key string) *redis.StringCmd {
	v, ok := m.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (m *memKV) Set(_ context.Context, key string, value any, _ time.Duration) *redis.StatusCmd {
	m.data[key] = kvString(value)
	return redis.NewStatusResult("OK", nil)
}

// completeIdempotency mirrors what handlers do after a successful write.
func completeIdempotency(c *gin.Context, status int, body any) {
	key, _ := c.Get(ctxIdempotencyKey)
	store, _ := c.Get(ctxIdempotencyStore)
	if rec, ok := store.(idempotency.Recorder); ok {
		_ = rec.Complete(c.Request.Context(), key.(string), status, "application/json", body)
	}
}

func idempotentEngine(store *idempotency.Store, handler gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(ErrorHandler(), Idempotency(store))
	r.POST("/orders", handler)
	r.GET("/orders", handler)
	return r
}

func send(r http.Handler, method, key, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, "/orders", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set(HeaderIdempotencyKey, key)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Code    string         `json:"code"`
		Details map[string]any `json:"details"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body.Code
}

func TestIdempotency_ReplaysCompletedResponse(t *testing.T) {
	calls := 0
	r := idempotentEngine(idempotency.NewStore(newMemKV(), time.Hour), func(c *gin.Context) {
		calls++
		resp := gin.H{"orders_created": calls}
		completeIdempotency(c, http.StatusCreated, resp)
		c.JSON(http.StatusCreated, resp)
	})

	first := send(r, http.MethodPost, "k-1", `{"plant":"P1"}`)
	require.Equal(t, http.StatusCreated, first.Code)
	assert.Empty(t, first.Header().Get("Idempotent-Replay"))

	second := send(r, http.MethodPost, "k-1", `{"plant":"P1"}`)
	require.Equal(t, http.StatusCreated, second.Code)
	assert.Equal(t, "true", second.Header().Get("Idempotent-Replay"))
	assert.JSONEq(t, first.Body.String(), second.Body.String())
	assert.Equal(t, 1, calls)

	other := send(r, http.MethodPost, "k-1", `{"plant":"P2"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, other.Code)
	assert.Equal(t, apperror.CodeIdempotency, errorCode(t, other))
	assert.Equal(t, 1, calls)

	send(r, http.MethodPost, "", `{"plant":"P1"}`)
	send(r, http.MethodGet, "k-1", "")
	assert.Equal(t, 3, calls)
}

func TestIdempotency_ReplaysFailedResponse(t *testing.T) {
	calls := 0
	r := idempotentEngine(idempotency.NewStore(newMemKV(), time.Hour), func(c *gin.Context) {
		calls++
		_ = c.Error(apperror.NewValidation("suggestions are empty"))
		c.Abort()
	})

	first := send(r, http.MethodPost, "k-2", `{}`)
	require.GreaterOrEqual(t, first.Code, http.StatusBadRequest)

	second := send(r, http.MethodPost, "k-2", `{}`)
	assert.Equal(t, first.Code, second.Code)
	assert.Equal(t, "true", second.Header().Get("Idempotent-Replay"))
	assert.JSONEq(t, first.Body.String(), second.Body.String())
	assert.Equal(t, 1, calls)
}

func TestIdempotency_InFlightKeyConflicts(t *testing.T) {
	store := idempotency.NewStore(newMemKV(), time.Hour)
	hash := sha256.Sum256([]byte(`{}`))
	_, err := store.Acquire(context.Background(), "k-3", "", "POST /orders", hex.EncodeToString(hash[:]))
	require.NoError(t, err)

	calls := 0
	r := idempotentEngine(store, func(c *gin.Context) {
		calls++
		c.Status(http.StatusNoContent)
	})
	w := send(r, http.MethodPost, "k-3", `{}`)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, apperror.CodeIdempotency, errorCode(t, w))
	assert.Zero(t, calls)
}

func TestErrorHandler_HidesUnknownErrors(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(ErrorHandler())
	r.GET("/fail", func(c *gin.Context) {
		c.Set("request_id", "r-9")
		_ = c.Error(assert.AnError)
		c.Abort()
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/fail", nil))
	require.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), assert.AnError.Error())
	assert.JSONEq(t, `{"code":"INTERNAL_ERROR","message":"Internal server error","details":{"request_id":"r-9"}}`, w.Body.String())
}

func TestRecovery_LogsPanicWithRequestFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	log := &logger.Logger{SugaredLogger: zap.New(core).Sugar()}

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Logger(log), ErrorHandler(), Trace(), Recovery())
	r.POST("/arkik/sessions/:id/orders", func(*gin.Context) { panic("nil suggestion") })

	req := httptest.NewRequest(http.MethodPost, "/arkik/sessions/s-1/orders", nil)
	req.Header.Set(HeaderRequestID, "r-1")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusInternalServerError, w.Code)
	var body struct {
		Code    string         `json:"code"`
		Details map[string]any `json:"details"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, apperror.CodeInternal, body.Code)
	assert.Equal(t, "r-1", body.Details["request_id"])
	assert.NotContains(t, w.Body.String(), "nil suggestion")

	panics := logs.FilterMessage("handler panic").All()
	require.Len(t, panics, 1)
	fields := panics[0].ContextMap()
	assert.Equal(t, "r-1", fields["request_id"])
	assert.Equal(t, http.MethodPost, fields["method"])
	assert.Equal(t, "/arkik/sessions/:id/orders", fields["route"])
	assert.Equal(t, "nil suggestion", fields["panic"])
	assert.NotEmpty(t, fields["stack"])
}
