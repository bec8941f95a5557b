// Package metrics exports matbox telemetry to Prometheus. A Collector serves
// as the content store observer, the service event sink and the HTTP
// request observer at once.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/tendant/matbox/pkg/matbox"
	"github.com/tendant/matbox/pkg/matbox/contentstore"
)

// Collector records content store, service and HTTP metrics.
type Collector struct {
	blobsWritten      prometheus.Counter
	blobBytesWritten  prometheus.Counter
	blobsDeduplicated prometheus.Counter
	storageErrors     *prometheus.CounterVec
	events            *prometheus.CounterVec
	requestDuration   *prometheus.HistogramVec
}

// New registers matbox metrics under namespace on reg. A nil reg uses the
// default registerer. Registering twice reuses the existing collectors.
func New(namespace string, reg prometheus.Registerer) (*Collector, error) {
	if namespace == "" {
		namespace = "matbox"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := &Collector{}
	var err error
	if c.blobsWritten, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "blobs_written_total",
		Help:      "Distinct contents physically written to the blob store.",
	})); err != nil {
		return nil, err
	}
	if c.blobBytesWritten, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "blob_bytes_written_total",
		Help:      "Cumulative payload size written to the blob store.",
	})); err != nil {
		return nil, err
	}
	if c.blobsDeduplicated, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "blobs_deduplicated_total",
		Help:      "Puts satisfied by content that was already stored.",
	})); err != nil {
		return nil, err
	}
	if c.storageErrors, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "storage_errors_total",
		Help:      "Blob store failures by operation.",
	}, []string{"operation"})); err != nil {
		return nil, err
	}
	if c.events, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_total",
		Help:      "Successful material mutations by event.",
	}, []string{"event"})); err != nil {
		return nil, err
	}
	if c.requestDuration, err = register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "Latency of HTTP requests by route and status.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route", "status"})); err != nil {
		return nil, err
	}
	return c, nil
}

func register[T prometheus.Collector](reg prometheus.Registerer, collector T) (T, error) {
	if err := reg.Register(collector); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
		}
		var zero T
		return zero, fmt.Errorf("register matbox metric: %w", err)
	}
	return collector, nil
}

// Content store observer

func (c *Collector) BlobWritten(hash string, sizeBytes int64) {
	c.blobsWritten.Inc()
	c.blobBytesWritten.Add(float64(sizeBytes))
}

func (c *Collector) BlobDeduplicated(hash string) {
	c.blobsDeduplicated.Inc()
}

func (c *Collector) BlobFailed(op string, err error) {
	c.storageErrors.WithLabelValues(op).Inc()
}

// Event sink

func (c *Collector) MaterialCreated(ctx context.Context, material *matbox.Material) error {
	c.events.WithLabelValues("material_created").Inc()
	return nil
}

func (c *Collector) VersionAdded(ctx context.Context, ownerID, name string, version *matbox.Version) error {
	c.events.WithLabelValues("version_added").Inc()
	return nil
}

func (c *Collector) CategoryChanged(ctx context.Context, materialID uuid.UUID, category matbox.Category) error {
	c.events.WithLabelValues("category_changed").Inc()
	return nil
}

// ObserveRequest records the latency of one HTTP request
func (c *Collector) ObserveRequest(method, route string, status int, duration time.Duration) {
	c.requestDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(duration.Seconds())
}

var (
	_ contentstore.Observer = (*Collector)(nil)
	_ matbox.EventSink      = (*Collector)(nil)
)
