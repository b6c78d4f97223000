package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewRegisters(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	m := New(reg)

	m.Connections.WithLabelValues("sni").Inc()
	m.Errors.WithLabelValues("protocol").Add(2)
	m.Active.Inc()

	if got := testutil.ToFloat64(m.Connections.WithLabelValues("sni")); got != 1 {
		t.Fatalf("connections %v want 1", got)
	}
	if got := testutil.ToFloat64(m.Errors.WithLabelValues("protocol")); got != 2 {
		t.Fatalf("errors %v want 2", got)
	}

	n, err := testutil.GatherAndCount(reg, "redirsocks_connections_total", "redirsocks_active_connections")
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("gathered %d series want 2", n)
	}
}

func TestHandler(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	m := New(reg)
	m.HalfCloseTimeouts.Inc()

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "redirsocks_half_close_timeouts_total 1") {
		t.Fatalf("metrics output missing counter:\n%s", body)
	}
	if !strings.Contains(string(body), "go_goroutines") {
		t.Fatal("metrics output missing Go collector")
	}
}

func TestNewUnregistered(t *testing.T) {
	t.Parallel()

	a := New(nil)
	b := New(nil)
	a.Handoffs.Inc()
	if testutil.ToFloat64(b.Handoffs) != 0 {
		t.Fatal("unregistered metrics should be independent")
	}
}
