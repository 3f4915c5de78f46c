package websearch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"localmind/config"
)

func TestSearchLimitsResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/search", r.URL.Path)
		require.Equal(t, "go generics", r.URL.Query().Get("q"))
		require.Equal(t, "json", r.URL.Query().Get("format"))
		w.Write([]byte(`{"results":[
			{"title":"a","url":"https://a","content":"one"},
			{"title":"b","url":"https://b","content":"two"},
			{"title":"no url","url":"","content":"dropped"},
			{"title":"c","url":"https://c","content":"three"}
		]}`))
	}))
	defer srv.Close()

	c := NewClient(config.SearchConfig{Endpoint: srv.URL, MaxResults: 2, Timeout: time.Second})
	got, err := c.Search(context.Background(), "go generics")
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "https://a", got[0].URL)
	require.Equal(t, "two", got[1].Snippet)
}

func TestSearchErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	c := NewClient(config.SearchConfig{Endpoint: srv.URL})
	_, err := c.Search(context.Background(), "q")
	require.Error(t, err)

	_, err = c.Search(context.Background(), "  ")
	require.Error(t, err)

	empty := NewClient(config.SearchConfig{})
	_, err = empty.Search(context.Background(), "q")
	require.Error(t, err)
}
