package metrics

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/golang/protobuf/proto"
	"github.com/golang/snappy"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/prometheus/prompb"
)

// DefaultPushTimeout bounds each remote write request.
const DefaultPushTimeout = 30 * time.Second

// PushConfig configures a PushRegistry.
type PushConfig struct {
	// URL is the base URL of the remote write endpoint, e.g.
	// "http://victoriametrics:8428". The /api/v1/write path is appended.
	URL string
	// Prefix is prepended to every metric name, separated by an underscore.
	Prefix string
	// Job and Instance become labels on every series.
	Job      string
	Instance string
	// Timeout overrides DefaultPushTimeout when non-zero.
	Timeout time.Duration
}

// PushRegistry implements Registry by writing each recorded sample straight
// to a remote write endpoint. Push errors are dropped: metric delivery never
// fails a deployment step.
type PushRegistry struct {
	writer *remoteWriter
}

// NewPushRegistry creates a PushRegistry for the given endpoint.
func NewPushRegistry(cfg PushConfig) *PushRegistry {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = DefaultPushTimeout
	}
	return &PushRegistry{
		writer: &remoteWriter{
			url:        cfg.URL + "/api/v1/write",
			httpClient: &http.Client{Timeout: timeout},
			prefix:     cfg.Prefix,
			job:        cfg.Job,
			instance:   cfg.Instance,
			timeout:    timeout,
		},
	}
}

func (r *PushRegistry) NewGauge(opts prometheus.GaugeOpts) (Gauge, error) {
	return &pushMetric{writer: r.writer, name: opts.Name}, nil
}

func (r *PushRegistry) NewGaugeVec(opts prometheus.GaugeOpts, labels []string) (GaugeVec, error) {
	return pushGaugeVec{&pushVec{writer: r.writer, name: opts.Name}}, nil
}

func (r *PushRegistry) NewCounter(opts prometheus.CounterOpts) (Counter, error) {
	return &pushMetric{writer: r.writer, name: opts.Name}, nil
}

func (r *PushRegistry) NewCounterVec(opts prometheus.CounterOpts, labels []string) (CounterVec, error) {
	return pushCounterVec{&pushVec{writer: r.writer, name: opts.Name}}, nil
}

// pushMetric is both Gauge and Counter for push mode. Counters keep a local
// running total because remote write carries absolute values.
type pushMetric struct {
	mu     sync.Mutex
	writer *remoteWriter
	name   string
	labels map[string]string
	total  float64
}

func (m *pushMetric) Set(v float64) {
	_ = m.writer.write(m.name, v, m.labels)
}

func (m *pushMetric) Inc() { m.Add(1) }

func (m *pushMetric) Add(v float64) {
	m.mu.Lock()
	m.total += v
	total := m.total
	m.mu.Unlock()
	_ = m.writer.write(m.name, total, m.labels)
}

// pushVec hands out pushMetric children keyed by their label set, so that
// counter totals survive repeated With calls.
type pushVec struct {
	mu       sync.Mutex
	writer   *remoteWriter
	name     string
	children map[string]*pushMetric
}

// pushGaugeVec and pushCounterVec expose the same children under the two
// vector interfaces.
type pushGaugeVec struct{ *pushVec }

func (v pushGaugeVec) With(labels prometheus.Labels) Gauge { return v.child(labels) }

type pushCounterVec struct{ *pushVec }

func (v pushCounterVec) With(labels prometheus.Labels) Counter { return v.child(labels) }

func (v *pushVec) child(labels prometheus.Labels) *pushMetric {
	key := labelKey(labels)

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.children == nil {
		v.children = make(map[string]*pushMetric)
	}
	if child, ok := v.children[key]; ok {
		return child
	}
	child := &pushMetric{writer: v.writer, name: v.name, labels: labels}
	v.children[key] = child
	return child
}

// labelKey builds a deterministic map key from a label set.
func labelKey(labels prometheus.Labels) string {
	names := make([]string, 0, len(labels))
	for name := range labels {
		names = append(names, name)
	}
	sort.Strings(names)

	var key string
	for _, name := range names {
		key += name + "=" + labels[name] + ";"
	}
	return key
}

// remoteWriter speaks the Prometheus remote write protocol.
type remoteWriter struct {
	url        string
	httpClient *http.Client
	prefix     string
	job        string
	instance   string
	timeout    time.Duration
}

func (w *remoteWriter) write(name string, value float64, labels map[string]string) error {
	req := &prompb.WriteRequest{
		Timeseries: []prompb.TimeSeries{w.series(name, value, labels)},
	}
	data, err := proto.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshaling write request: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(snappy.Encode(nil, data)))
	if err != nil {
		return fmt.Errorf("creating HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Encoding", "snappy")
	httpReq.Header.Set("Content-Type", "application/x-protobuf")
	httpReq.Header.Set("X-Prometheus-Remote-Write-Version", "0.1.0")

	resp, err := w.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}
	return nil
}

func (w *remoteWriter) series(name string, value float64, labels map[string]string) prompb.TimeSeries {
	if w.prefix != "" {
		name = w.prefix + "_" + name
	}

	promLabels := make([]prompb.Label, 0, len(labels)+3)
	promLabels = append(promLabels, prompb.Label{Name: "__name__", Value: name})
	if w.job != "" {
		promLabels = append(promLabels, prompb.Label{Name: "job", Value: w.job})
	}
	if w.instance != "" {
		promLabels = append(promLabels, prompb.Label{Name: "instance", Value: w.instance})
	}
	for k, v := range labels {
		promLabels = append(promLabels, prompb.Label{Name: k, Value: v})
	}

	return prompb.TimeSeries{
		Labels: promLabels,
		Samples: []prompb.Sample{{
			Value:     value,
			Timestamp: time.Now().UnixMilli(),
		}},
	}
}
