package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"

	"github.com/i474232898/weather-etl/internal/scheduler"
	"github.com/i474232898/weather-etl/internal/store"
	"github.com/i474232898/weather-etl/internal/weather"
)

type fakeRunner struct {
	block chan struct{}
}

func (r *fakeRunner) Run(ctx context.Context, ds weather.Date) (weather.WeatherRecord, error) {
	if r.block != nil {
		<-r.block
	}
	return weather.WeatherRecord{City: "Brooklyn", Date: ds.String()}, nil
}

func newTestApp(t *testing.T, runner scheduler.Runner) (*fiber.App, *scheduler.Scheduler, *store.MemoryStore) {
	t.Helper()

	records := store.NewMemoryStore(0)
	sched := scheduler.New(runner, records, scheduler.Options{}, nil)
	t.Cleanup(sched.Stop)

	app := fiber.New()
	RegisterRoutes(app, sched, records)
	return app, sched, records
}

func doRequest(t *testing.T, app *fiber.App, method, target string) *http.Response {
	t.Helper()
	resp, err := app.Test(httptest.NewRequest(method, target, nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return resp
}

func expectStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		t.Fatalf("expected status %d, got %d", want, resp.StatusCode)
	}
}

// TestTriggerRunValidation verifies that ds must be a YYYY-MM-DD date no later than today.
func TestTriggerRunValidation(t *testing.T) {
	app, _, _ := newTestApp(t, &fakeRunner{})

	for _, ds := range []string{"2025-13-40", "today", "14.09.2025", "2999-01-01"} {
		resp := doRequest(t, app, http.MethodPost, "/api/v1/runs?ds="+ds)
		expectStatus(t, resp, http.StatusBadRequest)
	}
}

func TestTriggerRunAccepted(t *testing.T) {
	app, _, _ := newTestApp(t, &fakeRunner{})

	resp := doRequest(t, app, http.MethodPost, "/api/v1/runs?ds=2025-09-14")
	expectStatus(t, resp, http.StatusAccepted)

	var body struct {
		Run scheduler.Run `json:"run"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Run.ID == "" || body.Run.Date != "2025-09-14" || body.Run.Trigger != scheduler.TriggerManual {
		t.Fatalf("unexpected run: %+v", body.Run)
	}

	resp = doRequest(t, app, http.MethodGet, "/api/v1/runs/"+body.Run.ID)
	expectStatus(t, resp, http.StatusOK)

	resp = doRequest(t, app, http.MethodGet, "/api/v1/runs/unknown")
	expectStatus(t, resp, http.StatusNotFound)
}

func TestTriggerRunConflict(t *testing.T) {
	runner := &fakeRunner{block: make(chan struct{})}
	app, _, _ := newTestApp(t, runner)
	defer close(runner.block)

	resp := doRequest(t, app, http.MethodPost, "/api/v1/runs?ds=2025-09-14")
	expectStatus(t, resp, http.StatusAccepted)

	resp = doRequest(t, app, http.MethodPost, "/api/v1/runs?ds=2025-09-14")
	expectStatus(t, resp, http.StatusConflict)

	resp = doRequest(t, app, http.MethodGet, "/api/v1/runs")
	expectStatus(t, resp, http.StatusOK)

	var body struct {
		Runs []scheduler.Run `json:"runs"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Runs) != 1 || body.Runs[0].Status != scheduler.StatusRunning {
		t.Fatalf("unexpected runs: %+v", body.Runs)
	}
}

func TestGetWeatherByDate(t *testing.T) {
	app, _, records := newTestApp(t, &fakeRunner{})
	rec := weather.WeatherRecord{City: "Brooklyn", Country: "US", Date: "2025-09-14", Temp: 18.85, Weather: "clear sky"}
	if err := records.Insert(context.Background(), rec); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	resp := doRequest(t, app, http.MethodGet, "/api/v1/weather/2025-09-14")
	expectStatus(t, resp, http.StatusOK)

	var got weather.WeatherRecord
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got != rec {
		t.Fatalf("expected %+v, got %+v", rec, got)
	}

	resp = doRequest(t, app, http.MethodGet, "/api/v1/weather/2025-09-15")
	expectStatus(t, resp, http.StatusNotFound)

	resp = doRequest(t, app, http.MethodGet, "/api/v1/weather/not-a-date")
	expectStatus(t, resp, http.StatusBadRequest)
}

func TestGetWeatherRange(t *testing.T) {
	app, _, records := newTestApp(t, &fakeRunner{})
	for _, ds := range []string{"2025-09-14", "2025-09-15", "2025-09-20"} {
		if err := records.Insert(context.Background(), weather.WeatherRecord{City: "Brooklyn", Country: "US", Date: ds}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	// Missing or malformed bounds should return 400.
	for _, target := range []string{
		"/api/v1/weather?from=2025-09-14",
		"/api/v1/weather?from=2025-09-14&to=soon",
		"/api/v1/weather?from=2025-09-20&to=2025-09-14",
	} {
		expectStatus(t, doRequest(t, app, http.MethodGet, target), http.StatusBadRequest)
	}

	resp := doRequest(t, app, http.MethodGet, "/api/v1/weather?from=2025-09-14&to=2025-09-16")
	expectStatus(t, resp, http.StatusOK)

	var body struct {
		Records []weather.WeatherRecord `json:"records"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(body.Records))
	}

	resp = doRequest(t, app, http.MethodGet, "/api/v1/weather?from=2025-10-01&to=2025-10-31")
	expectStatus(t, resp, http.StatusNotFound)
}
