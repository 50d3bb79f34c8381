package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_RecordAndExpose(t *testing.T) {
	m := New()
	m.EventApplied("s", "TransferSingle")
	m.EventApplied("s", "TransferSingle")
	m.TxOutcome("s", "replayed")
	m.Cursor("s", 42)
	m.ChainWrite("depositDividends", errors.New("revert"))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.EventsApplied.WithLabelValues("s", "TransferSingle")))
	assert.Equal(t, 42.0, testutil.ToFloat64(m.SyncCursor.WithLabelValues("s")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ChainWrites.WithLabelValues("depositDividends", "error")))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), "spv_sync_cursor_block"))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	m.EventApplied("s", "k")
	m.SyncError("s", "data")
	m.Distribution("ok")
	m.ContentFetch("g", "ok")
	m.IdempotentRequest("replayed")
	assert.Nil(t, m.Registry())
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, 404, rec.Code)
}
