package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand/v2"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"tombola/internal/metrics"
	"tombola/internal/models"
	"tombola/internal/services"
	"tombola/internal/storage"
)

type stubLedger struct {
	fail    error
	results []models.Result
	cp      storage.Checkpoint
}

func (l *stubLedger) Append(_ context.Context, _ int, results []models.Result, cp storage.Checkpoint) error {
	if l.fail != nil {
		return l.fail
	}
	l.results = append(l.results, results...)
	l.cp = cp
	return nil
}

func (l *stubLedger) LoadAll(context.Context) ([]models.Result, storage.Checkpoint, error) {
	return append([]models.Result(nil), l.results...), l.cp, nil
}

func (l *stubLedger) Clear(context.Context) error {
	l.results, l.cp = nil, storage.Checkpoint{}
	return nil
}

func (l *stubLedger) Lock(context.Context) error { return nil }
func (l *stubLedger) Unlock() error              { return nil }
func (l *stubLedger) Close() error               { return nil }

func setupRouter(t *testing.T, ledger storage.Ledger) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	tickets := []models.Ticket{
		{ID: "1-1", FirstName: "Marie", LastName: "Dupont", Email: "marie@example.org"},
		{ID: "2-1", FirstName: "Paul", LastName: "Martin", Email: "paul@example.org"},
	}
	lots := []models.Lot{{Name: "Vélo", Sponsor: "Club"}, {Name: "Bon", Sponsor: "Shop"}, {Name: "Bon", Sponsor: "Shop"}}
	engine := services.NewEngine(rand.New(rand.NewPCG(1, 2)), services.DefaultPolicy())
	collector := metrics.New()
	session := services.NewDrawSession(tickets, lots, nil, engine, ledger, services.WithRecorder(collector))

	r := gin.New()
	NewHTTPHandler(session, collector.Handler()).RegisterRoutes(r)
	return r
}

func do(r http.Handler, method, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func TestDrawFlow(t *testing.T) {
	r := setupRouter(t, &stubLedger{})

	t.Run("draw returns winners and state", func(t *testing.T) {
		rec := do(r, http.MethodPost, "/draw")
		if rec.Code != http.StatusOK {
			t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
		}
		var body struct {
			Draw struct {
				Lot     string          `json:"lot"`
				Winners []models.Result `json:"winners"`
			} `json:"draw"`
			State services.State `json:"state"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("Invalid JSON: %v", err)
		}
		if body.Draw.Lot != "Vélo" || len(body.Draw.Winners) != 1 || body.State.Cursor != 1 {
			t.Errorf("Unexpected response: %+v", body)
		}
	})

	t.Run("shortage returns 409 and keeps the cursor", func(t *testing.T) {
		rec := do(r, http.MethodPost, "/draw")
		if rec.Code != http.StatusConflict {
			t.Fatalf("Expected 409, got %d: %s", rec.Code, rec.Body.String())
		}
		var st services.State
		json.Unmarshal(do(r, http.MethodGet, "/state").Body.Bytes(), &st)
		if st.Cursor != 1 || st.PoolSize != 1 {
			t.Errorf("Expected cursor 1 and 1 ticket left, got %+v", st)
		}
	})

	t.Run("public export hides emails", func(t *testing.T) {
		rec := do(r, http.MethodGet, "/export/public.csv")
		if rec.Code != http.StatusOK {
			t.Fatalf("Expected 200, got %d", rec.Code)
		}
		if strings.Contains(rec.Body.String(), "@example.org") {
			t.Error("Public export leaked an email")
		}
		full := do(r, http.MethodGet, "/export/results.csv")
		if !strings.Contains(full.Body.String(), "@example.org") {
			t.Error("Full export should keep the email")
		}
	})

	t.Run("metrics are served", func(t *testing.T) {
		rec := do(r, http.MethodGet, "/metrics")
		if !strings.Contains(rec.Body.String(), "tombola_winners_total 1") {
			t.Errorf("Unexpected metrics output: %s", rec.Body.String())
		}
	})

	t.Run("reset restores the pool", func(t *testing.T) {
		rec := do(r, http.MethodPost, "/reset")
		if rec.Code != http.StatusOK {
			t.Fatalf("Expected 200, got %d", rec.Code)
		}
		var st services.State
		json.Unmarshal(rec.Body.Bytes(), &st)
		if st.Cursor != 0 || st.PoolSize != 2 || st.Drawn != 0 {
			t.Errorf("Unexpected state after reset: %+v", st)
		}
	})
}

func TestDrawPersistenceFailure(t *testing.T) {
	ledger := &stubLedger{fail: errors.New("disk full")}
	r := setupRouter(t, ledger)

	rec := do(r, http.MethodPost, "/draw")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("Expected 500, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"winners"`) {
		t.Error("Expected the kept draw in the response")
	}

	again := do(r, http.MethodPost, "/draw")
	if again.Code != http.StatusInternalServerError || strings.Contains(again.Body.String(), `"winners"`) {
		t.Fatalf("Expected the next draw refused until saved, got %d: %s", again.Code, again.Body.String())
	}

	if rec := do(r, http.MethodPost, "/save"); rec.Code != http.StatusInternalServerError {
		t.Errorf("Expected save to fail while the ledger is down, got %d", rec.Code)
	}
	ledger.fail = nil
	if rec := do(r, http.MethodPost, "/save"); rec.Code != http.StatusOK {
		t.Fatalf("Expected save to succeed, got %d", rec.Code)
	}
	if len(ledger.results) != 1 {
		t.Errorf("Expected 1 saved result, got %d", len(ledger.results))
	}
}

// brokenWriter fails every write, like a client that went away.
type brokenWriter struct {
	header   http.Header
	codes    []int
	attempts []string
}

func (w *brokenWriter) Header() http.Header  { return w.header }
func (w *brokenWriter) WriteHeader(code int) { w.codes = append(w.codes, code) }
func (w *brokenWriter) Write(b []byte) (int, error) {
	w.attempts = append(w.attempts, string(b))
	return 0, errors.New("connection reset")
}

func TestExportCSVWriteFailure(t *testing.T) {
	gin.SetMode(gin.TestMode)
	ledger := &stubLedger{}
	r := setupRouter(t, ledger)
	if rec := do(r, http.MethodPost, "/draw"); rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	tickets := []models.Ticket{{ID: "1-1", FirstName: "Marie", LastName: "Dupont"}, {ID: "2-1", FirstName: "Paul", LastName: "Martin"}}
	lots := []models.Lot{{Name: "Vélo", Sponsor: "Club"}}
	session := services.NewDrawSession(tickets, lots, nil, services.NewEngine(rand.New(rand.NewPCG(1, 2)), services.DefaultPolicy()), ledger)
	h := NewHTTPHandler(session, nil)

	w := &brokenWriter{header: http.Header{}}
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/export/results.csv", nil)
	h.ExportResultsCSV(c)

	for _, code := range w.codes {
		if code != http.StatusOK {
			t.Errorf("Expected no late status once the CSV started, got %d", code)
		}
	}
	for _, body := range w.attempts {
		if strings.Contains(body, "Error writing CSV") {
			t.Error("Expected no error text appended to a started CSV body")
		}
	}
	if len(w.attempts) == 0 {
		t.Error("Expected the CSV write to be attempted")
	}
}
