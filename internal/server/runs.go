package server

import (
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"localmind/config"
	"localmind/internal/agent"
	"localmind/internal/session"
	"localmind/internal/store"
)

// RunsHandler serves query execution and run inspection.
type RunsHandler struct {
	Processor  Processor
	Store      *store.Store
	Sessions   session.Repository
	Compressor *session.Compressor
	SessionCfg config.SessionConfig

	logger *log.Logger
}

// QueryRequest is the POST /api/query payload.
type QueryRequest struct {
	Query     string `json:"query"`
	SessionID string `json:"session_id,omitempty"`
}

func (h *RunsHandler) Register(g *echo.Group) {
	h.logger = log.New(log.Writer(), "[RUNS] ", log.LstdFlags)
	g.POST("/query", h.query)
	g.GET("/runs/:id", h.run)
	g.GET("/runs/:id/status", h.status)
	g.POST("/runs/:id/stop", h.stop)
	g.GET("/latest", h.latest)
	g.GET("/status", h.globalStatus)
	g.GET("/sessions/:id/runs", h.sessionRuns)
}

func (h *RunsHandler) query(c echo.Context) error {
	var req QueryRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if strings.TrimSpace(req.Query) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query must not be empty")
	}
	ctx := c.Request().Context()
	uid := userID(c)

	sess, err := h.loadOrCreateSession(c, req.SessionID, uid)
	if err != nil {
		return err
	}

	// assign the run id here so a failed run is still addressable
	q := agent.Query{
		ID:        uuid.NewString(),
		SessionID: sess.ID,
		UserID:    uid,
		Content:   req.Query,
		History:   sess.ContextPrompt(h.SessionCfg.MaxContextCharacters),
		CreatedAt: time.Now().UTC(),
	}
	run, err := h.Processor.Process(ctx, q)
	if err != nil {
		if h.Store != nil {
			if serr := h.Store.SaveFailedRun(ctx, q, err); serr != nil {
				h.logger.Printf("recording failed run: %v", serr)
			}
		}
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}

	sess.Append("user", req.Query, "")
	sess.Append("assistant", run.Answer, strings.Join(run.AgentsUsed, ","))
	if h.Compressor != nil {
		if _, err := h.Compressor.Compress(ctx, &sess); err != nil {
			h.logger.Printf("session compression: %v", err)
		}
	}
	if err := h.Sessions.Save(ctx, sess); err != nil {
		h.logger.Printf("saving session %s: %v", sess.ID, err)
	}
	if h.Store != nil {
		if err := h.Store.SaveRun(ctx, run); err != nil {
			h.logger.Printf("persisting run %s: %v", run.ID, err)
		}
	}
	return c.JSON(http.StatusOK, run)
}

func (h *RunsHandler) loadOrCreateSession(c echo.Context, sessionID, uid string) (session.Session, error) {
	ctx := c.Request().Context()
	if sessionID == "" {
		sess, err := h.Sessions.Create(ctx, uid)
		if err != nil {
			return session.Session{}, echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		return sess, nil
	}
	sess, err := h.Sessions.Get(ctx, sessionID)
	if err == session.ErrNotFound {
		return session.Session{}, echo.NewHTTPError(http.StatusNotFound, "unknown session")
	}
	if err != nil {
		return session.Session{}, echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if sess.UserID != uid {
		return session.Session{}, echo.NewHTTPError(http.StatusForbidden, "not your session")
	}
	return sess, nil
}

func (h *RunsHandler) run(c echo.Context) error {
	if h.Store == nil {
		return echo.NewHTTPError(http.StatusNotFound, "run storage disabled")
	}
	rec, err := h.Store.Run(c.Request().Context(), c.Param("id"))
	if err == store.ErrNotFound {
		return echo.NewHTTPError(http.StatusNotFound, "unknown run")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, rec)
}

func (h *RunsHandler) sessionRuns(c echo.Context) error {
	if h.Store == nil {
		return echo.NewHTTPError(http.StatusNotFound, "run storage disabled")
	}
	if _, err := h.loadOrCreateSession(c, c.Param("id"), userID(c)); err != nil {
		return err
	}
	runs, err := h.Store.RunsBySession(c.Request().Context(), c.Param("id"), 50)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, runs)
}

func (h *RunsHandler) status(c echo.Context) error {
	st, ok := h.Processor.Status(c.Param("id"))
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "run is not in flight")
	}
	return c.JSON(http.StatusOK, st)
}

func (h *RunsHandler) stop(c echo.Context) error {
	if !h.Processor.Cancel(c.Param("id")) {
		return echo.NewHTTPError(http.StatusNotFound, "run is not in flight")
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "cancelling"})
}

func (h *RunsHandler) latest(c echo.Context) error {
	sessionID := c.QueryParam("session_id")
	if sessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session_id is required")
	}
	run, ok := h.Processor.Latest(sessionID)
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "no completed run for session")
	}
	return c.JSON(http.StatusOK, run)
}

func (h *RunsHandler) globalStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]bool{"active": h.Processor.Active()})
}
