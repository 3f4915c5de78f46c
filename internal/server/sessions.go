package server

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"localmind/internal/session"
)

// SessionsHandler serves session history.
type SessionsHandler struct {
	Sessions session.Repository
}

func (h *SessionsHandler) Register(g *echo.Group) {
	g.GET("/sessions", h.list)
	g.GET("/sessions/:id", h.get)
	g.DELETE("/sessions/:id", h.remove)
}

func (h *SessionsHandler) list(c echo.Context) error {
	sessions, err := h.Sessions.List(c.Request().Context(), userID(c))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	// history is heavy; the listing only carries metadata
	type summary struct {
		ID        string `json:"id"`
		Turns     int    `json:"turns"`
		UpdatedAt string `json:"updated_at"`
	}
	out := make([]summary, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, summary{ID: s.ID, Turns: len(s.Turns), UpdatedAt: s.UpdatedAt.Format("2006-01-02T15:04:05Z07:00")})
	}
	return c.JSON(http.StatusOK, out)
}

func (h *SessionsHandler) get(c echo.Context) error {
	sess, err := h.load(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, sess)
}

func (h *SessionsHandler) remove(c echo.Context) error {
	sess, err := h.load(c)
	if err != nil {
		return err
	}
	if err := h.Sessions.Delete(c.Request().Context(), sess.ID); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *SessionsHandler) load(c echo.Context) (session.Session, error) {
	sess, err := h.Sessions.Get(c.Request().Context(), c.Param("id"))
	if err == session.ErrNotFound {
		return session.Session{}, echo.NewHTTPError(http.StatusNotFound, "unknown session")
	}
	if err != nil {
		return session.Session{}, echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if sess.UserID != userID(c) {
		return session.Session{}, echo.NewHTTPError(http.StatusForbidden, "not your session")
	}
	return sess, nil
}
