package metrics_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/matbox/pkg/matbox"
	"github.com/tendant/matbox/pkg/matbox/metrics"
)

func TestCollector_BlobMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := metrics.New("test", reg)
	require.NoError(t, err)

	c.BlobWritten("abc", 100)
	c.BlobWritten("def", 50)
	c.BlobDeduplicated("abc")
	c.BlobFailed("put", errors.New("disk full"))

	families, err := reg.Gather()
	require.NoError(t, err)

	values := map[string]float64{}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			if m.GetCounter() != nil {
				values[mf.GetName()] += m.GetCounter().GetValue()
			}
		}
	}
	assert.Equal(t, float64(2), values["test_blobs_written_total"])
	assert.Equal(t, float64(150), values["test_blob_bytes_written_total"])
	assert.Equal(t, float64(1), values["test_blobs_deduplicated_total"])
	assert.Equal(t, float64(1), values["test_storage_errors_total"])
}

func TestCollector_Events(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := metrics.New("", reg)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, c.MaterialCreated(ctx, &matbox.Material{Name: "a"}))
	require.NoError(t, c.VersionAdded(ctx, "alice", "a", &matbox.Version{VersionNumber: 2}))
	require.NoError(t, c.VersionAdded(ctx, "alice", "a", &matbox.Version{VersionNumber: 3}))
	require.NoError(t, c.CategoryChanged(ctx, uuid.New(), matbox.CategoryOther))

	assert.Equal(t, 3, testutil.CollectAndCount(reg, "matbox_events_total"))
	c.ObserveRequest("GET", "/api/v1/materials/", 200, 15*time.Millisecond)
	assert.Equal(t, 1, testutil.CollectAndCount(reg, "matbox_http_request_duration_seconds"))
}

func TestNew_ReusesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := metrics.New("dup", reg)
	require.NoError(t, err)
	second, err := metrics.New("dup", reg)
	require.NoError(t, err)

	first.BlobWritten("a", 1)
	second.BlobWritten("b", 1)

	assert.Equal(t, 1, testutil.CollectAndCount(reg, "dup_blobs_written_total"))
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() == "dup_blobs_written_total" {
			assert.Equal(t, float64(2), mf.GetMetric()[0].GetCounter().GetValue())
		}
	}
}
