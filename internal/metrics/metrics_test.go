package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oszuidwest/zwfm-audioplane/internal/archive"
	"github.com/oszuidwest/zwfm-audioplane/internal/memhandle"
	"github.com/oszuidwest/zwfm-audioplane/internal/object"
	"github.com/oszuidwest/zwfm-audioplane/internal/types"
)

var _ object.Observer = (*ObjectMetrics)(nil)

func TestObjectMetrics(t *testing.T) {
	t.Parallel()
	m, err := NewObjectMetrics(prometheus.NewRegistry())
	require.NoError(t, err)

	m.StateChanged("recorder", types.StateInactive, types.StateReady)
	m.StateChanged("recorder", types.StateReady, types.StateActive)
	m.Replied(types.Reply{Object: "recorder", Command: "stop", Result: types.ResultQueueOperationError})
	m.Replied(types.Reply{Object: "recorder", Command: "stop", Result: types.ResultQueueOperationError})
	m.Attention("frontend", types.ResultDMACReadError, "capture stalled")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.StateTransitions.WithLabelValues("recorder", "ready", "active")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.State.WithLabelValues("recorder", "ready")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.State.WithLabelValues("recorder", "active")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Replies.WithLabelValues("recorder", "stop", "QUEUE_OPERATION_ERROR")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Attentions.WithLabelValues("frontend", types.ResultDMACReadError.String())))
}

func TestDuplicateRegistration(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()

	_, err := NewObjectMetrics(reg)
	require.NoError(t, err)
	_, err = NewObjectMetrics(reg)
	assert.Error(t, err)
}

func TestPoolCollector(t *testing.T) {
	t.Parallel()
	pool, err := memhandle.New(
		memhandle.PoolConfig{ID: 1, Size: 1024, NumSegs: 4},
		memhandle.PoolConfig{ID: 2, Size: 256, NumSegs: 2},
	)
	require.NoError(t, err)
	h, err := pool.Alloc(1, 100)
	require.NoError(t, err)

	c := NewPoolCollector(pool, 1, 2)
	assert.Equal(t, 7, testutil.CollectAndCount(c))

	expected := `
# HELP audioplane_memhandle_free_segments Free segments per pool
# TYPE audioplane_memhandle_free_segments gauge
audioplane_memhandle_free_segments{pool="1"} 3
audioplane_memhandle_free_segments{pool="2"} 2
`
	require.NoError(t, testutil.CollectAndCompare(c, strings.NewReader(expected), "audioplane_memhandle_free_segments"))
	require.NoError(t, pool.Release(h))

	expected = `
# HELP audioplane_memhandle_in_use Segments currently allocated across all pools
# TYPE audioplane_memhandle_in_use gauge
audioplane_memhandle_in_use 0
`
	assert.NoError(t, testutil.CollectAndCompare(c, strings.NewReader(expected), "audioplane_memhandle_in_use"))
}

func TestHandlerServesArchive(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	reg.MustRegister(NewArchiveCollector(func() archive.Status {
		return archive.Status{Recordings: 3, Uploaded: 2, UploadFailures: 1, PendingRetries: 1}
	}))

	srv := httptest.NewServer(Handler(reg))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "audioplane_archive_recordings_total 3")
	assert.Contains(t, string(body), "audioplane_archive_pending_retries 1")
}
