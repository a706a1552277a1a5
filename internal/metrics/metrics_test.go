package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"feedsync/internal/publisher"
)

func TestMetrics_Recorder(t *testing.T) {
	m, err := New()
	require.NoError(t, err)

	m.SubscriptionError(publisher.KindRequestTimeout)
	m.SubscriptionError(publisher.KindRequestTimeout)
	m.SubscriptionError(publisher.KindUserNotAuthorised)
	m.ServerWarning()
	m.PacketSent()
	m.PacketSent()
	m.PacketReceived()
	m.ActiveSubscriptions(4)
	m.SendQueueDepth(2)
	m.ConnectionChanged(true)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.subscriptionErrors.WithLabelValues("request_timeout")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.subscriptionErrors.WithLabelValues("user_not_authorised")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.serverWarnings))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.packetsSent))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.packetsReceived))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.activeSubscriptions))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.sendQueueDepth))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.connectionChanges.WithLabelValues("online")))
}

func TestMetrics_Handler(t *testing.T) {
	m, err := New()
	require.NoError(t, err)
	m.PacketSent()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "feedsync_publisher_packets_sent_total 1")
}

func TestMetrics_GatherNames(t *testing.T) {
	m, err := New()
	require.NoError(t, err)
	m.SubscriptionError(publisher.KindOfflined)

	count, err := testutil.GatherAndCount(m.Registry(), "feedsync_publisher_subscription_errors_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	expected := `
# HELP feedsync_publisher_subscription_errors_total Subscription errors by kind
# TYPE feedsync_publisher_subscription_errors_total counter
feedsync_publisher_subscription_errors_total{kind="offlined"} 1
`
	require.NoError(t, testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected), "feedsync_publisher_subscription_errors_total"))
}
