package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountersIncrement(t *testing.T) {
	before := testutil.ToFloat64(NotificationsCreated)
	NotificationsCreated.Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(NotificationsCreated))

	DispatchFailures.WithLabelValues("push").Inc()
	assert.GreaterOrEqual(t, testutil.ToFloat64(DispatchFailures.WithLabelValues("push")), 1.0)
}

func TestMetricsHandlerExposesGotmailMetrics(t *testing.T) {
	LiveConnections.Set(3)
	defer LiveConnections.Set(0)

	rec := httptest.NewRecorder()
	MetricsHandler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "gotmail_live_connections 3"))
}
