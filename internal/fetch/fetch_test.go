package fetch

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetSendsBasicAuthAndReturnsBody(t *testing.T) {
	var gotUser, gotPass string
	var gotOK bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser, gotPass, gotOK = r.BasicAuth()
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("/a,0\n/b,1,/a\n"))
	}))
	defer srv.Close()

	f := New()
	res, err := f.Get(context.Background(), srv.URL, "admin", "hackme")
	require.NoError(t, err)
	defer res.Body.Close()

	assert.True(t, gotOK)
	assert.Equal(t, "admin", gotUser)
	assert.Equal(t, "hackme", gotPass)
	assert.Equal(t, http.StatusOK, res.StatusCode)

	body, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	assert.Equal(t, "/a,0\n/b,1,/a\n", string(body))
}

func TestGetOmitsAuthHeaderWhenNoCredentials(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _, ok := r.BasicAuth()
		assert.False(t, ok)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	f := New()
	res, err := f.Get(context.Background(), srv.URL, "", "")
	require.NoError(t, err)
	res.Body.Close()
}

func TestGetPropagatesNonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	f := New()
	res, err := f.Get(context.Background(), srv.URL, "", "")
	require.NoError(t, err)
	defer res.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
}

func TestGetRejectsMalformedURL(t *testing.T) {
	f := New()
	_, err := f.Get(context.Background(), "://not-a-url", "", "")
	assert.Error(t, err)
}

func TestCloseBodyCancelsFetchContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	f := New()
	res, err := f.Get(context.Background(), srv.URL, "", "")
	require.NoError(t, err)

	require.NoError(t, res.Body.Close())
	// Closing twice must not panic even though the context is already cancelled.
	_ = res.Body.Close()
}
