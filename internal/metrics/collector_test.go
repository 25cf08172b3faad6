package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestCounter(t *testing.T) {
	c := NewCollector()
	ctr := c.Counter("test_total", "Test counter", "")
	ctr.Inc()
	ctr.Add(2)
	if ctr.Value() != 3 {
		t.Errorf("Value() = %d", ctr.Value())
	}
	// Same name and labels resolve to the same counter.
	if c.Counter("test_total", "Test counter", "").Value() != 3 {
		t.Error("counter identity not stable across lookups")
	}
}

func TestCounterVec(t *testing.T) {
	c := NewCollector()
	vec := c.CounterVec("calls_total", "Calls", "endpoint")
	vec.With("a").Inc()
	vec.With("a").Inc()
	vec.With("b").Inc()

	if got := vec.With("a").Value(); got != 2 {
		t.Errorf(`With("a") = %d`, got)
	}
	if got := vec.With("b").Value(); got != 1 {
		t.Errorf(`With("b") = %d`, got)
	}
}

func TestGauge(t *testing.T) {
	c := NewCollector()
	g := c.Gauge("test_gauge", "Test gauge", "")
	g.Set(5)
	g.Inc()
	g.Dec()
	g.Dec()
	if g.Value() != 4 {
		t.Errorf("Value() = %d", g.Value())
	}
}

func TestHandler(t *testing.T) {
	c := NewCollector()
	c.CounterVec("calls_total", "Calls", "endpoint").With("a").Inc()
	c.Gauge("depth", "Queue depth", "").Set(7)

	w := httptest.NewRecorder()
	c.Handler()(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	body := w.Body.String()
	for _, want := range []string{
		"# TYPE calls_total counter",
		`calls_total{endpoint="a"} 1`,
		"# TYPE depth gauge",
		"depth 7",
		"yawxt_uptime_seconds",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("output missing %q:\n%s", want, body)
		}
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("Content-Type = %q", ct)
	}
}
