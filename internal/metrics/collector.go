// Package metrics provides a lightweight, Prometheus-compatible metrics
// collector. It outputs text/plain in Prometheus exposition format without
// requiring the heavy prometheus/client_golang dependency. Collectors are
// instance-scoped and injected into the components that record on them;
// there is no process-global registry.
package metrics

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Collector aggregates counters and gauges.
type Collector struct {
	counters  sync.Map // name{labels} -> *Counter
	gauges    sync.Map // name{labels} -> *Gauge
	startTime time.Time
}

// NewCollector creates a new collector.
func NewCollector() *Collector {
	return &Collector{startTime: time.Now()}
}

// Uptime returns how long the collector has been running.
func (c *Collector) Uptime() time.Duration {
	return time.Since(c.startTime)
}

// Counter is a monotonically increasing counter.
type Counter struct {
	name   string
	help   string
	labels string
	value  atomic.Int64
}

// Inc increments the counter by 1.
func (c *Counter) Inc() { c.value.Add(1) }

// Add increments the counter by n.
func (c *Counter) Add(n int64) { c.value.Add(n) }

// Value returns the current counter value.
func (c *Counter) Value() int64 { return c.value.Load() }

// Gauge is a value that can go up and down.
type Gauge struct {
	name   string
	help   string
	labels string
	value  atomic.Int64
}

// Set sets the gauge to the given value.
func (g *Gauge) Set(v int64) { g.value.Store(v) }

// Inc increments the gauge by 1.
func (g *Gauge) Inc() { g.value.Add(1) }

// Dec decrements the gauge by 1.
func (g *Gauge) Dec() { g.value.Add(-1) }

// Value returns the current gauge value.
func (g *Gauge) Value() int64 { return g.value.Load() }

// Counter returns or creates a counter with the given name and raw label
// string (e.g. `endpoint="user_info"`).
func (c *Collector) Counter(name, help, labels string) *Counter {
	key := name + "{" + labels + "}"
	if v, ok := c.counters.Load(key); ok {
		return v.(*Counter)
	}
	ctr := &Counter{name: name, help: help, labels: labels}
	actual, _ := c.counters.LoadOrStore(key, ctr)
	return actual.(*Counter)
}

// Gauge returns or creates a gauge with the given name.
func (c *Collector) Gauge(name, help, labels string) *Gauge {
	key := name + "{" + labels + "}"
	if v, ok := c.gauges.Load(key); ok {
		return v.(*Gauge)
	}
	g := &Gauge{name: name, help: help, labels: labels}
	actual, _ := c.gauges.LoadOrStore(key, g)
	return actual.(*Gauge)
}

// CounterVec is a family of counters distinguished by one label.
type CounterVec struct {
	collector *Collector
	name      string
	help      string
	label     string
}

// CounterVec returns a counter family keyed by one label, e.g.
// With("user_info") on an "endpoint" family yields the counter labeled
// endpoint="user_info".
func (c *Collector) CounterVec(name, help, label string) *CounterVec {
	return &CounterVec{collector: c, name: name, help: help, label: label}
}

// With returns the counter for one label value, creating it on first use.
func (v *CounterVec) With(value string) *Counter {
	return v.collector.Counter(v.name, v.help, fmt.Sprintf("%s=%q", v.label, value))
}

// Handler returns an http.HandlerFunc that renders metrics in Prometheus
// text format.
func (c *Collector) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

		var sb strings.Builder

		fmt.Fprintf(&sb, "# HELP yawxt_uptime_seconds Time since start in seconds\n")
		fmt.Fprintf(&sb, "# TYPE yawxt_uptime_seconds gauge\n")
		fmt.Fprintf(&sb, "yawxt_uptime_seconds %d\n\n", int64(c.Uptime().Seconds()))

		// Sorted keys for stable output.
		var keys []string
		helpWritten := make(map[string]bool)
		writeFamily := func(name, help, kind string) {
			if !helpWritten[name] {
				fmt.Fprintf(&sb, "# HELP %s %s\n", name, help)
				fmt.Fprintf(&sb, "# TYPE %s %s\n", name, kind)
				helpWritten[name] = true
			}
		}

		c.counters.Range(func(key, value any) bool {
			keys = append(keys, key.(string))
			return true
		})
		sort.Strings(keys)
		for _, key := range keys {
			v, _ := c.counters.Load(key)
			ctr := v.(*Counter)
			writeFamily(ctr.name, ctr.help, "counter")
			if ctr.labels != "" {
				fmt.Fprintf(&sb, "%s{%s} %d\n", ctr.name, ctr.labels, ctr.Value())
			} else {
				fmt.Fprintf(&sb, "%s %d\n", ctr.name, ctr.Value())
			}
		}

		keys = keys[:0]
		c.gauges.Range(func(key, value any) bool {
			keys = append(keys, key.(string))
			return true
		})
		sort.Strings(keys)
		for _, key := range keys {
			v, _ := c.gauges.Load(key)
			g := v.(*Gauge)
			writeFamily(g.name, g.help, "gauge")
			if g.labels != "" {
				fmt.Fprintf(&sb, "%s{%s} %d\n", g.name, g.labels, g.Value())
			} else {
				fmt.Fprintf(&sb, "%s %d\n", g.name, g.Value())
			}
		}

		fmt.Fprint(w, sb.String())
	}
}
