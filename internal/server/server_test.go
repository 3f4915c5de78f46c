package server

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"

	"localmind/config"
	"localmind/internal/agent"
	"localmind/internal/session"
	"localmind/internal/store"
)

// fakeProcessor is a canned Processor for handler tests.
type fakeProcessor struct {
	run       agent.RunResult
	err       error
	status    map[string]agent.RunStatus
	stopped   []string
	lastQuery agent.Query
}

func (f *fakeProcessor) Process(_ context.Context, q agent.Query) (agent.RunResult, error) {
	f.lastQuery = q
	if f.err != nil {
		return agent.RunResult{}, f.err
	}
	out := f.run
	out.SessionID = q.SessionID
	out.Query = q.Content
	return out, nil
}

func (f *fakeProcessor) Status(runID string) (agent.RunStatus, bool) {
	s, ok := f.status[runID]
	return s, ok
}

func (f *fakeProcessor) Cancel(runID string) bool {
	if _, ok := f.status[runID]; !ok {
		return false
	}
	f.stopped = append(f.stopped, runID)
	return true
}

func (f *fakeProcessor) Latest(sessionID string) (agent.RunResult, bool) {
	if f.run.ID == "" {
		return agent.RunResult{}, false
	}
	return f.run, true
}

func (f *fakeProcessor) Active() bool { return len(f.status) > 0 }

func newTestAPI(t *testing.T, p Processor, sessions session.Repository) (*echo.Echo, []byte) {
	t.Helper()
	secret := []byte("test-secret")
	e := echo.New()
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			msg = fmt.Sprint(he.Message)
		}
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]interface{}{"error": msg})
		}
	}
	api := e.Group("/api")
	protected := api.Group("")
	protected.Use(EchoAuthMiddleware(secret))
	rh := &RunsHandler{Processor: p, Sessions: sessions, SessionCfg: config.SessionConfig{}}
	rh.Register(protected)
	sh := &SessionsHandler{Sessions: sessions}
	sh.Register(protected)
	return e, secret
}

func authedRequest(t *testing.T, secret []byte, method, target, body string) *http.Request {
	t.Helper()
	tok, err := SignJWT("user-1", secret, time.Hour)
	require.NoError(t, err)
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+tok)
	return req
}

func TestQueryRequiresAuth(t *testing.T) {
	e, _ := newTestAPI(t, &fakeProcessor{}, session.NewMemoryRepository())
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/query", strings.NewReader(`{"query":"hi"}`))
	req.Header.Set("Content-Type", "application/json")
	e.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestQueryRejectsEmptyQuery(t *testing.T) {
	e, secret := newTestAPI(t, &fakeProcessor{}, session.NewMemoryRepository())
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, authedRequest(t, secret, http.MethodPost, "/api/query", `{"query":"   "}`))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestQueryRunsAndRecordsSession(t *testing.T) {
	sessions := session.NewMemoryRepository()
	p := &fakeProcessor{run: agent.RunResult{ID: "run-1", Answer: "42"}}
	e, secret := newTestAPI(t, p, sessions)

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, authedRequest(t, secret, http.MethodPost, "/api/query", `{"query":"what is the answer"}`))
	require.Equal(t, http.StatusOK, rec.Code)

	var run agent.RunResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &run))
	require.Equal(t, "42", run.Answer)
	require.NotEmpty(t, run.SessionID)

	sess, err := sessions.Get(context.Background(), run.SessionID)
	require.NoError(t, err)
	require.Len(t, sess.Turns, 2)
	require.Equal(t, "user", sess.Turns[0].Role)
	require.Equal(t, "assistant", sess.Turns[1].Role)
}

func TestQueryRejectsForeignSession(t *testing.T) {
	sessions := session.NewMemoryRepository()
	other, err := sessions.Create(context.Background(), "someone-else")
	require.NoError(t, err)

	e, secret := newTestAPI(t, &fakeProcessor{run: agent.RunResult{ID: "r"}}, sessions)
	rec := httptest.NewRecorder()
	body := fmt.Sprintf(`{"query":"hi there","session_id":%q}`, other.ID)
	e.ServeHTTP(rec, authedRequest(t, secret, http.MethodPost, "/api/query", body))
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestQueryProcessorFailure(t *testing.T) {
	e, secret := newTestAPI(t, &fakeProcessor{err: fmt.Errorf("backend down")}, session.NewMemoryRepository())
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, authedRequest(t, secret, http.MethodPost, "/api/query", `{"query":"hello"}`))
	require.Equal(t, http.StatusBadGateway, rec.Code)
}

// nonEmptyArg matches any non-empty string argument.
type nonEmptyArg struct{}

func (nonEmptyArg) Match(v driver.Value) bool {
	s, ok := v.(string)
	return ok && s != ""
}

func TestQueryFailureRecordsRunWithID(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	mock.ExpectExec(`INSERT INTO runs`).
		WithArgs(nonEmptyArg{}, "user-1", nonEmptyArg{}, "hello", "backend down").
		WillReturnResult(sqlmock.NewResult(0, 1))

	secret := []byte("test-secret")
	e := echo.New()
	protected := e.Group("/api")
	protected.Use(EchoAuthMiddleware(secret))
	p := &fakeProcessor{err: fmt.Errorf("backend down")}
	rh := &RunsHandler{Processor: p, Store: store.NewWithDB(db), Sessions: session.NewMemoryRepository()}
	rh.Register(protected)

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, authedRequest(t, secret, http.MethodPost, "/api/query", `{"query":"hello"}`))
	require.Equal(t, http.StatusBadGateway, rec.Code)
	require.NotEmpty(t, p.lastQuery.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunStatusAndStop(t *testing.T) {
	p := &fakeProcessor{status: map[string]agent.RunStatus{
		"run-1": {RunID: "run-1", State: agent.StateExecuting, Progress: 0.4},
	}}
	e, secret := newTestAPI(t, p, session.NewMemoryRepository())

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, authedRequest(t, secret, http.MethodGet, "/api/runs/run-1/status", ""))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), agent.StateExecuting)

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, authedRequest(t, secret, http.MethodPost, "/api/runs/run-1/stop", ""))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, []string{"run-1"}, p.stopped)

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, authedRequest(t, secret, http.MethodGet, "/api/runs/ghost/status", ""))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestLatestNeedsSessionID(t *testing.T) {
	e, secret := newTestAPI(t, &fakeProcessor{}, session.NewMemoryRepository())
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, authedRequest(t, secret, http.MethodGet, "/api/latest", ""))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSessionsEndpoints(t *testing.T) {
	sessions := session.NewMemoryRepository()
	mine, err := sessions.Create(context.Background(), "user-1")
	require.NoError(t, err)
	mine.Append("user", "hello", "")
	require.NoError(t, sessions.Save(context.Background(), mine))

	e, secret := newTestAPI(t, &fakeProcessor{}, sessions)

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, authedRequest(t, secret, http.MethodGet, "/api/sessions", ""))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), mine.ID)

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, authedRequest(t, secret, http.MethodGet, "/api/sessions/"+mine.ID, ""))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "hello")

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, authedRequest(t, secret, http.MethodDelete, "/api/sessions/"+mine.ID, ""))
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, authedRequest(t, secret, http.MethodGet, "/api/sessions/"+mine.ID, ""))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSessionRunHistory(t *testing.T) {
	ctx := context.Background()
	sessions := session.NewMemoryRepository()
	mine, err := sessions.Create(ctx, "user-1")
	require.NoError(t, err)

	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	rows := sqlmock.NewRows([]string{
		"id", "user_id", "session_id", "query", "answer", "agents_used",
		"tokens_used", "cost", "duration_ms", "status", "error", "created_at",
	}).AddRow("run-1", "user-1", mine.ID, "q", "a", "{talk}", 10, 0.0, 800, "done", nil, time.Now())
	mock.ExpectQuery(`SELECT .* FROM runs WHERE session_id`).
		WithArgs(mine.ID, 50).
		WillReturnRows(rows)

	secret := []byte("test-secret")
	e := echo.New()
	protected := e.Group("/api")
	protected.Use(EchoAuthMiddleware(secret))
	rh := &RunsHandler{Processor: &fakeProcessor{}, Store: store.NewWithDB(db), Sessions: sessions}
	rh.Register(protected)

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, authedRequest(t, secret, http.MethodGet, "/api/sessions/"+mine.ID+"/runs", ""))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "run-1")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAuthMiddlewareRejectsGarbageToken(t *testing.T) {
	e, _ := newTestAPI(t, &fakeProcessor{}, session.NewMemoryRepository())
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/sessions", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	e.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestIsDue(t *testing.T) {
	now := time.Now()

	require.True(t, isDue("@hourly", nil))
	recent := now.Add(-10 * time.Minute)
	require.False(t, isDue("@hourly", &recent))
	old := now.Add(-2 * time.Hour)
	require.True(t, isDue("@hourly", &old))

	dayOld := now.Add(-25 * time.Hour)
	require.True(t, isDue("@daily", &dayOld))
	require.False(t, isDue("@daily", &recent))

	// every minute cron: two minutes ago is due
	twoMin := now.Add(-2 * time.Minute)
	require.True(t, isDue("* * * * *", &twoMin))

	// invalid spec degrades to daily
	require.True(t, isDue("not a cron", &dayOld))
	require.False(t, isDue("not a cron", &recent))
}
