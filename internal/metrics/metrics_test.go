package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	m := New()
	require.NotNil(t, m.Registry())
	assert.NotNil(t, m.TransfersTotal)
	assert.NotNil(t, m.RunInProgress)
	assert.NotNil(t, m.APIRequestsTotal)
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveTransfer("success", "", time.Second)
	m.RunStarted()
	m.RunFinished("completed")
	m.SetProgress(0.5)
	m.SetRecipients(3, 2)
	m.SetBalance(10)
	m.IncErrors("Run", "RUN_FAILED")
}

func TestRunLifecycle(t *testing.T) {
	m := New()

	m.RunStarted()
	assert.Equal(t, float64(1), testutil.ToFloat64(m.RunInProgress))

	m.ObserveTransfer("success", "", 100*time.Millisecond)
	m.ObserveTransfer("failure", "USER_REJECTED", 50*time.Millisecond)
	m.SetProgress(1)
	m.RunFinished("completed")

	assert.Equal(t, float64(0), testutil.ToFloat64(m.RunInProgress))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.RunProgress))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.TransfersTotal.WithLabelValues("success", "")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.TransfersTotal.WithLabelValues("failure", "USER_REJECTED")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.RunsTotal.WithLabelValues("completed")))
}

func TestSetRecipients(t *testing.T) {
	m := New()
	m.SetRecipients(5, 3)
	assert.Equal(t, float64(5), testutil.ToFloat64(m.TotalRecipients))
	assert.Equal(t, float64(3), testutil.ToFloat64(m.ValidRecipients))
}

func TestGinMiddlewareAndHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := New()

	router := gin.New()
	router.Use(m.GinMiddleware())
	router.GET("/api/v1/recipients/:id", func(c *gin.Context) { c.Status(http.StatusOK) })
	router.GET("/metrics", gin.WrapH(m.Handler()))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/recipients/abc", nil))
	require.Equal(t, http.StatusOK, w.Code)

	assert.Equal(t, float64(1), testutil.ToFloat64(
		m.APIRequestsTotal.WithLabelValues("GET", "/api/v1/recipients/:id", "200")))

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), "airdrop_api_requests_total"))
}
