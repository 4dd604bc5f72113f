package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"latecomers/internal/auth"
	"latecomers/internal/config"
	"latecomers/internal/ledger"
	"latecomers/internal/metrics"
	"latecomers/internal/report"
	"latecomers/internal/reset"
	"latecomers/internal/store"
)

const (
	testKey    = "api-test-key"
	testIssuer = "latecomers"
	cronSecret = "cron-secret"
)

type env struct {
	st     *store.Memory
	ledger *ledger.Service
	router *gin.Engine
	token  string
}

func newEnv(t *testing.T) *env {
	t.Helper()
	gin.SetMode(gin.TestMode)

	st := store.NewMemory()
	policy := config.DefaultPolicy()
	led := ledger.NewService(st, policy)
	led.SetClock(func() time.Time { return time.Date(2025, 3, 10, 3, 0, 0, 0, time.UTC) })

	h := New(led, reset.NewService(st), report.NewService(st, policy.Location()), Options{
		Verifier:   auth.JWTVerifier{SigningKey: testKey, Issuer: testIssuer},
		CronSecret: cronSecret,
		Checks:     map[string]Check{"store": st.Healthy},
	})

	tok, err := auth.Issue("station-1", testIssuer, testKey, time.Hour)
	require.NoError(t, err)
	require.NoError(t, led.RegisterAccount(context.Background(), "station-1", "CSE"))
	return &env{st: st, ledger: led, router: h.Router(), token: tok.AccessToken}
}

func (e *env) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if e.token != "" {
		req.Header.Set("Authorization", "Bearer "+e.token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestMarkLateEndpoint(t *testing.T) {
	e := newEnv(t)

	w := e.do(t, http.MethodPost, "/v1/ledger/marks", gin.H{"roll_number": "12345"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode(t, w)
	assert.Equal(t, false, body["fined"])
	assert.Equal(t, "Roll number 12345 marked as late (1/3)", body["notice"])
	entry := body["entry"].(map[string]any)
	assert.Equal(t, float64(1), entry["count"])
	assert.Equal(t, "3 2025", entry["created_at"])
	assert.NotEmpty(t, w.Header().Get(requestIDHeader))
}

func TestMarkLateRejectsInvalidRoll(t *testing.T) {
	e := newEnv(t)
	for _, roll := range []string{"00000", "1234", "123456", "12a45", ""} {
		w := e.do(t, http.MethodPost, "/v1/ledger/marks", gin.H{"roll_number": roll})
		assert.Equal(t, http.StatusBadRequest, w.Code, roll)
	}
	acc, err := e.st.Account(context.Background(), "station-1")
	require.NoError(t, err)
	assert.Empty(t, acc.Entries)
}

func TestMarkLateRejectionIsCountedAndExplained(t *testing.T) {
	e := newEnv(t)
	before := testutil.ToFloat64(metrics.RejectedMarks)

	w := e.do(t, http.MethodPost, "/v1/ledger/marks", gin.H{"roll_number": "12a45"})
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid roll_number: must be numeric", decode(t, w)["error"])

	w = e.do(t, http.MethodPost, "/v1/ledger/marks", gin.H{"roll_number": "1234"})
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid roll_number: roll number must be exactly 5 digits", decode(t, w)["error"])

	assert.Equal(t, before+2, testutil.ToFloat64(metrics.RejectedMarks))
}

func TestLedgerRequiresToken(t *testing.T) {
	e := newEnv(t)
	e.token = ""
	w := e.do(t, http.MethodPost, "/v1/ledger/marks", gin.H{"roll_number": "12345"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestFinedAndSettleFlow(t *testing.T) {
	e := newEnv(t)
	for i := 0; i < 5; i++ {
		w := e.do(t, http.MethodPost, "/v1/ledger/marks", gin.H{"roll_number": "12345"})
		require.Equal(t, http.StatusOK, w.Code)
	}
	e.do(t, http.MethodPost, "/v1/ledger/marks", gin.H{"roll_number": "54321"})

	w := e.do(t, http.MethodGet, "/v1/ledger/fined", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "CSE", body["dept"])
	assert.Equal(t, float64(1), body["count"])
	assert.Equal(t, float64(100), body["total_pending"])

	w = e.do(t, http.MethodPost, "/v1/ledger/12345/settle", gin.H{"confirm": false})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.do(t, http.MethodPost, "/v1/ledger/12345/settle", gin.H{"confirm": true})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body = decode(t, w)
	assert.Equal(t, float64(100), body["amount"])
	assert.Equal(t, "Payment of ₹100 recorded successfully for Roll No. 12345", body["message"])

	w = e.do(t, http.MethodPost, "/v1/ledger/12345/settle", gin.H{"confirm": true})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = e.do(t, http.MethodPost, "/v1/ledger/54321/settle", gin.H{"confirm": true})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = e.do(t, http.MethodGet, "/v1/reports/archive?month=03&year=2025", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body = decode(t, w)
	assert.Equal(t, float64(1), body["count"])
	assert.Nil(t, body["notice"])

	w = e.do(t, http.MethodGet, "/v1/reports/archive/export?month=03&year=2025", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Disposition"), "Attendance_03-2025.xlsx")
	assert.NotEmpty(t, w.Body.Bytes())
}

func TestAccountEndpoint(t *testing.T) {
	e := newEnv(t)
	e.do(t, http.MethodPost, "/v1/ledger/marks", gin.H{"roll_number": "12345"})
	w := e.do(t, http.MethodGet, "/v1/account", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "station-1", body["account_id"])
	assert.Equal(t, "CSE", body["dept"])
	assert.Equal(t, float64(1), body["entries"])
}

func TestArchiveReportEmptyAndInvalid(t *testing.T) {
	e := newEnv(t)

	w := e.do(t, http.MethodGet, "/v1/reports/archive?month=01&year=2024", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "No records found for 1 2024.", decode(t, w)["notice"])

	w = e.do(t, http.MethodGet, "/v1/reports/archive/export?month=01&year=2024", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = e.do(t, http.MethodGet, "/v1/reports/archive?month=13&year=2024", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestClearMonthlyEndpoint(t *testing.T) {
	e := newEnv(t)
	for i := 0; i < 3; i++ {
		e.st.PutLateComer(fmt.Sprintf("doc-%d", i), map[string]any{"reason": "bus", "checkInTime": "09:10"})
	}
	e.token = ""

	w := e.do(t, http.MethodPost, "/api/clear-monthly", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "Unauthorized", decode(t, w)["error"])

	w = e.do(t, http.MethodPost, "/api/clear-monthly?token=wrong", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = e.do(t, http.MethodPost, "/api/clear-monthly?token="+cronSecret, nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "Successfully cleared fields in 3 documents", body["message"])
	assert.Equal(t, float64(3), body["processedCount"])

	doc, _ := e.st.LateComer("doc-1")
	assert.Equal(t, "", doc["reason"])
	assert.Nil(t, doc["checkInTime"])
}

func TestClearMonthlyStoreFailure(t *testing.T) {
	e := newEnv(t)
	e.st.PutLateComer("doc-1", map[string]any{"reason": "bus"})
	e.st.FailCommits(fmt.Errorf("unavailable"))
	e.token = ""

	w := e.do(t, http.MethodPost, "/api/clear-monthly?token="+cronSecret, nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	body := decode(t, w)
	assert.Equal(t, "Failed to clear fields", body["error"])
	assert.Contains(t, body["details"], "unavailable")
}

func TestHealthz(t *testing.T) {
	e := newEnv(t)
	w := e.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode(t, w)["store"])
}
