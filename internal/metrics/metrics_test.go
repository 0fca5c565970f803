package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestCollectorHandler(t *testing.T) {
	c := New()
	c.GroupDrawn(true, 3)
	c.GroupDrawn(false, 2)
	c.Shortage("insufficient_tickets")
	c.PersistenceFailed()
	c.Progress(4, 17)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	out := string(body)

	for _, want := range []string{
		`tombola_group_draws_total{restricted="true"} 1`,
		`tombola_winners_total 5`,
		`tombola_draw_shortages_total{kind="insufficient_tickets"} 1`,
		`tombola_persistence_failures_total 1`,
		`tombola_pool_tickets 17`,
		`tombola_cursor 4`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected metrics output to contain %q", want)
		}
	}
}
