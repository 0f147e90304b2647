package social

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPSource_FetchRecent(t *testing.T) {
	var lookups atomic.Int64

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))

		switch r.URL.Path {
		case "/2/users/by/username/kol_alpha":
			lookups.Add(1)
			w.Write([]byte(`{"data":{"id":"42"}}`))
		case "/2/users/42/tweets":
			w.Write([]byte(`{"data":[
				{"id":"1001","text":"gm","created_at":"2024-06-01T12:00:00Z"},
				{"id":"1002","text":"new gem So11111111111111111111111111111111111111112","created_at":"2024-06-01T12:05:00Z"}
			]}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	src := NewHTTPSource(HTTPConfig{BaseURL: server.URL, BearerToken: "test-token"})

	posts, err := src.FetchRecent(context.Background(), "kol_alpha", 10)
	require.NoError(t, err)
	require.Len(t, posts, 2)
	assert.Equal(t, "1001", posts[0].ID)
	assert.Equal(t, "kol_alpha", posts[0].Handle)
	assert.Contains(t, posts[1].Text, "So11111111111111111111111111111111111111112")

	// Second fetch reuses the cached user ID.
	_, err = src.FetchRecent(context.Background(), "kol_alpha", 10)
	require.NoError(t, err)
	assert.Equal(t, int64(1), lookups.Load())
}

func TestHTTPSource_UnknownHandle(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":{}}`))
	}))
	defer server.Close()

	src := NewHTTPSource(HTTPConfig{BaseURL: server.URL, BearerToken: "test-token"})

	_, err := src.FetchRecent(context.Background(), "nobody", 10)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestStubSource(t *testing.T) {
	src := NewStubSource()
	src.AddPost(Post{ID: "1", Handle: "kol_alpha", Text: "one"})
	src.AddPost(Post{ID: "2", Handle: "kol_alpha", Text: "two"})

	posts, err := src.FetchRecent(context.Background(), "kol_alpha", 1)
	require.NoError(t, err)
	require.Len(t, posts, 1)
	assert.Equal(t, "2", posts[0].ID)

	src.SetFailNext(assert.AnError)
	_, err = src.FetchRecent(context.Background(), "kol_alpha", 10)
	assert.Error(t, err)

	posts, err = src.FetchRecent(context.Background(), "kol_alpha", 10)
	require.NoError(t, err)
	assert.Len(t, posts, 2)
}
