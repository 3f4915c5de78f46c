package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/labstack/echo/v4"
	"github.com/lib/pq"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"localmind/internal/store"
)

func newAuthAPI(t *testing.T) (*echo.Echo, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	e := echo.New()
	h := &AuthHandler{Store: store.NewWithDB(db), Secret: []byte("test-secret")}
	h.Register(e.Group("/api/auth"))
	return e, mock
}

func postJSON(e *echo.Echo, target, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	e.ServeHTTP(rec, req)
	return rec
}

func TestSignup(t *testing.T) {
	e, mock := newAuthAPI(t)
	mock.ExpectQuery(`INSERT INTO users`).
		WithArgs("a@b.com", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("u-1"))

	rec := postJSON(e, "/api/auth/signup", `{"email":"a@b.com","password":"longenough"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSignupRejectsShortPassword(t *testing.T) {
	e, _ := newAuthAPI(t)
	rec := postJSON(e, "/api/auth/signup", `{"email":"a@b.com","password":"short"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSignupDuplicateEmail(t *testing.T) {
	e, mock := newAuthAPI(t)
	mock.ExpectQuery(`INSERT INTO users`).
		WithArgs("a@b.com", sqlmock.AnyArg()).
		WillReturnError(&pq.Error{Code: "23505"})

	rec := postJSON(e, "/api/auth/signup", `{"email":"a@b.com","password":"longenough"}`)
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestLoginSetsCookieAndToken(t *testing.T) {
	e, mock := newAuthAPI(t)
	hash, err := bcrypt.GenerateFromPassword([]byte("longenough"), bcrypt.MinCost)
	require.NoError(t, err)
	mock.ExpectQuery(`SELECT id, email, password_hash, created_at FROM users`).
		WithArgs("a@b.com").
		WillReturnRows(sqlmock.NewRows([]string{"id", "email", "password_hash", "created_at"}).
			AddRow("u-1", "a@b.com", string(hash), time.Now()))

	rec := postJSON(e, "/api/auth/login", `{"email":"a@b.com","password":"longenough"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "token")

	var authCookie *http.Cookie
	for _, ck := range rec.Result().Cookies() {
		if ck.Name == "auth" {
			authCookie = ck
		}
	}
	require.NotNil(t, authCookie)
	require.True(t, authCookie.HttpOnly)
}

func TestLoginWrongPassword(t *testing.T) {
	e, mock := newAuthAPI(t)
	hash, err := bcrypt.GenerateFromPassword([]byte("rightpassword"), bcrypt.MinCost)
	require.NoError(t, err)
	mock.ExpectQuery(`SELECT id, email, password_hash, created_at FROM users`).
		WithArgs("a@b.com").
		WillReturnRows(sqlmock.NewRows([]string{"id", "email", "password_hash", "created_at"}).
			AddRow("u-1", "a@b.com", string(hash), time.Now()))

	rec := postJSON(e, "/api/auth/login", `{"email":"a@b.com","password":"wrongpassword"}`)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLoginUnknownEmail(t *testing.T) {
	e, mock := newAuthAPI(t)
	mock.ExpectQuery(`SELECT id, email, password_hash, created_at FROM users`).
		WithArgs("ghost@b.com").
		WillReturnError(store.ErrNotFound)

	rec := postJSON(e, "/api/auth/login", `{"email":"ghost@b.com","password":"whatever1"}`)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLogoutClearsCookie(t *testing.T) {
	e, _ := newAuthAPI(t)
	rec := postJSON(e, "/api/auth/logout", "")
	require.Equal(t, http.StatusOK, rec.Code)
	for _, ck := range rec.Result().Cookies() {
		if ck.Name == "auth" {
			require.Equal(t, -1, ck.MaxAge)
			return
		}
	}
	t.Fatal("auth cookie not cleared")
}
