package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/samber/mo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"caldavcal/internal/config"
	"caldavcal/internal/entity"
	"caldavcal/internal/model"
)

type stubSource struct {
	current mo.Option[model.Event]
	next    mo.Option[model.Event]
	err     error
	forced  int
}

func (s *stubSource) Update(context.Context) (bool, error) { return s.err == nil, s.err }

func (s *stubSource) ForceUpdate(context.Context) (bool, error) {
	s.forced++
	if s.err != nil {
		return false, s.err
	}
	s.current = s.next
	return true, nil
}

func (s *stubSource) Current() mo.Option[model.Event] { return s.current }

type registry []*entity.Adapter

func (r registry) All() []*entity.Adapter { return r }

func (r registry) Get(id string) (*entity.Adapter, bool) {
	for _, a := range r {
		if a.ID() == id {
			return a, true
		}
	}
	return nil, false
}

var standup = model.Event{
	Summary: "Standup",
	Start:   model.Instant(time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)),
	End:     model.Instant(time.Date(2024, 1, 1, 9, 15, 0, 0, time.UTC)),
}

func newTestServer(cfg *config.Config) (http.Handler, *stubSource, *stubSource) {
	work := &stubSource{current: mo.Some(standup)}
	home := &stubSource{current: mo.None[model.Event](), next: mo.Some(standup)}
	reg := registry{
		entity.New("work", "Work", work),
		entity.New("home", "Home", home),
	}
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	return NewServer(cfg, reg).Handler(), work, home
}

func do(t *testing.T, h http.Handler, method, path string, auth ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if len(auth) == 2 {
		req.SetBasicAuth(auth[0], auth[1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	h, _, _ := newTestServer(nil)
	rec := do(t, h, http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestListCalendars(t *testing.T) {
	h, _, _ := newTestServer(nil)
	rec := do(t, h, http.MethodGet, "/api/calendars")
	require.Equal(t, http.StatusOK, rec.Code)

	var states []entity.State
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &states))
	require.Len(t, states, 2)
	assert.Equal(t, "work", states[0].EntityID)
	assert.Equal(t, entity.StateOn, states[0].State)
	assert.Equal(t, "Standup", states[0].Attributes["summary"])
	assert.Equal(t, "home", states[1].EntityID)
	assert.Equal(t, entity.StateOff, states[1].State)
}

func TestGetCalendar(t *testing.T) {
	h, _, _ := newTestServer(nil)

	rec := do(t, h, http.MethodGet, "/api/calendars/work")
	require.Equal(t, http.StatusOK, rec.Code)
	var st entity.State
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, "Work", st.Name)
	assert.Equal(t, "2024-01-01T09:00:00Z", st.Attributes["start_time"])

	rec = do(t, h, http.MethodGet, "/api/calendars/nope")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), `"error"`)
}

func TestRefresh(t *testing.T) {
	h, _, home := newTestServer(nil)

	rec := do(t, h, http.MethodPost, "/api/calendars/home/refresh")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, home.forced)

	var st entity.State
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, entity.StateOn, st.State)
}

func TestRefreshFailureIsBadGateway(t *testing.T) {
	h, work, _ := newTestServer(nil)
	work.err = errors.New("caldav: REPORT: 503 Service Unavailable")

	rec := do(t, h, http.MethodPost, "/api/calendars/work/refresh")
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, body["error"], "503")

	rec = do(t, h, http.MethodPost, "/api/calendars/nope/refresh")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRefreshRequiresPost(t *testing.T) {
	h, _, _ := newTestServer(nil)
	rec := do(t, h, http.MethodGet, "/api/calendars/work/refresh")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestBasicAuth(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.BasicAuth = &config.BasicAuthConfig{Username: "admin", Password: "hunter2"}
	h, _, _ := newTestServer(cfg)

	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/health").Code)

	rec := do(t, h, http.MethodGet, "/api/calendars")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Header().Get("WWW-Authenticate"), "Basic")

	assert.Equal(t, http.StatusUnauthorized, do(t, h, http.MethodGet, "/api/calendars", "admin", "wrong").Code)
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/api/calendars", "admin", "hunter2").Code)
}

func TestBasicAuthDisabledWhenIncomplete(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.BasicAuth = &config.BasicAuthConfig{Username: "admin"}
	h, _, _ := newTestServer(cfg)

	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/api/calendars").Code)
}
