package monitoring

import (
	"fmt"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"
)

type MetricType string

const (
	MetricTypeCounter MetricType = "counter"
	MetricTypeGauge   MetricType = "gauge"
)

type Metric struct {
	Name      string            `json:"name"`
	Type      MetricType        `json:"type"`
	Value     float64           `json:"value"`
	Labels    map[string]string `json:"labels,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	Help      string            `json:"help,omitempty"`
}

// MetricsCollector keeps the latest value of every series. Counters
// accumulate, gauges are overwritten.
type MetricsCollector struct {
	mu        sync.RWMutex
	series    map[string]*Metric
	help      map[string]string
	startTime time.Time
}

func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		series:    make(map[string]*Metric),
		help:      make(map[string]string),
		startTime: time.Now(),
	}
}

// Describe sets the HELP text exported for name.
func (mc *MetricsCollector) Describe(name, help string) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.help[name] = help
}

func (mc *MetricsCollector) IncrCounter(name string, value float64, labels map[string]string) {
	mc.record(name, MetricTypeCounter, value, labels, true)
}

func (mc *MetricsCollector) SetGauge(name string, value float64, labels map[string]string) {
	mc.record(name, MetricTypeGauge, value, labels, false)
}

func (mc *MetricsCollector) record(name string, t MetricType, value float64, labels map[string]string, add bool) {
	key := seriesKey(name, labels)

	mc.mu.Lock()
	defer mc.mu.Unlock()

	m, ok := mc.series[key]
	if !ok {
		m = &Metric{Name: name, Type: t, Labels: copyLabels(labels)}
		mc.series[key] = m
	}
	if add {
		m.Value += value
	} else {
		m.Value = value
	}
	m.Timestamp = time.Now()
}

// Value returns the current value of the series, or 0 if it was never recorded.
func (mc *MetricsCollector) Value(name string, labels map[string]string) float64 {
	mc.mu.RLock()
	defer mc.mu.RUnlock()
	if m, ok := mc.series[seriesKey(name, labels)]; ok {
		return m.Value
	}
	return 0
}

// Snapshot returns a copy of every series sorted by name and labels.
func (mc *MetricsCollector) Snapshot() []Metric {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	keys := make([]string, 0, len(mc.series))
	for k := range mc.series {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]Metric, 0, len(keys))
	for _, k := range keys {
		m := *mc.series[k]
		m.Labels = copyLabels(m.Labels)
		m.Help = mc.help[m.Name]
		out = append(out, m)
	}
	return out
}

func (mc *MetricsCollector) Uptime() time.Duration {
	return time.Since(mc.startTime)
}

// ExportPrometheus renders the collector in the Prometheus text format,
// followed by uptime and goroutine gauges.
func (mc *MetricsCollector) ExportPrometheus() string {
	var sb strings.Builder
	seen := make(map[string]bool)
	for _, m := range mc.Snapshot() {
		if !seen[m.Name] {
			seen[m.Name] = true
			help := m.Help
			if help == "" {
				help = fmt.Sprintf("Metric %s", m.Name)
			}
			fmt.Fprintf(&sb, "# HELP %s %s\n", m.Name, help)
			fmt.Fprintf(&sb, "# TYPE %s %s\n", m.Name, m.Type)
		}
		fmt.Fprintf(&sb, "%s%s %g\n", m.Name, formatLabels(m.Labels), m.Value)
	}

	fmt.Fprintf(&sb, "# TYPE process_uptime_seconds gauge\nprocess_uptime_seconds %g\n", mc.Uptime().Seconds())
	fmt.Fprintf(&sb, "# TYPE go_goroutines gauge\ngo_goroutines %d\n", runtime.NumGoroutine())
	return sb.String()
}

func seriesKey(name string, labels map[string]string) string {
	return name + formatLabels(labels)
}

func formatLabels(labels map[string]string) string {
	if len(labels) == 0 {
		return ""
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%q", k, labels[k])
	}
	return "{" + strings.Join(parts, ",") + "}"
}

func copyLabels(labels map[string]string) map[string]string {
	if len(labels) == 0 {
		return nil
	}
	out := make(map[string]string, len(labels))
	for k, v := range labels {
		out[k] = v
	}
	return out
}
