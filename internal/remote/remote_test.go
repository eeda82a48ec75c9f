package remote

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (*httptest.Server, *[]string) {
	t.Helper()
	var keys []string
	mux := http.NewServeMux()

	mux.HandleFunc("/api/v1/currentuser", func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "alice" || pass != "s3cret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"username": user})
	})
	mux.HandleFunc("/api/v1/currentuser/sshkeys", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		for _, k := range keys {
			if k == body["key"] {
				w.WriteHeader(http.StatusConflict)
				return
			}
		}
		keys = append(keys, body["key"])
	})
	mux.HandleFunc("/api/v1/identity", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(Identity{RemoteHost: "backup.example.com:22", KnownHosts: "backup.example.com ssh-ed25519 AAAA"})
	})
	mux.HandleFunc("/api/v1/currentuser/repos", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]Repository{{Name: "laptop", Encoding: "utf-8"}})
	})
	mux.HandleFunc("/api/v1/currentuser/repos/refresh", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("/api/v1/currentuser/repos/laptop", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("boom"))
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &keys
}

func TestClient_Authenticate(t *testing.T) {
	srv, _ := newTestServer(t)
	ctx := context.Background()

	c := NewClient(srv.URL+"/", srv.Client(), zerolog.Nop())
	assert.ErrorIs(t, c.Authenticate(ctx, "alice", "wrong"), ErrUnauthorized)
	assert.NoError(t, c.Authenticate(ctx, "alice", "s3cret"))
}

func TestClient_AddSSHKeyIsIdempotent(t *testing.T) {
	srv, keys := newTestServer(t)
	ctx := context.Background()
	c := NewClient(srv.URL, srv.Client(), zerolog.Nop())

	require.NoError(t, c.AddSSHKey(ctx, "laptop", "ssh-ed25519 AAAA laptop\n"))
	require.NoError(t, c.AddSSHKey(ctx, "laptop", "ssh-ed25519 AAAA laptop"))
	assert.Equal(t, []string{"ssh-ed25519 AAAA laptop"}, *keys)
}

func TestClient_IdentityAndRepositories(t *testing.T) {
	srv, _ := newTestServer(t)
	ctx := context.Background()
	c := NewClient(srv.URL, srv.Client(), zerolog.Nop())

	id, err := c.GetServerIdentity(ctx)
	require.NoError(t, err)
	assert.Equal(t, "backup.example.com:22", id.RemoteHost)

	repos, err := c.ListRepositories(ctx)
	require.NoError(t, err)
	assert.Equal(t, []Repository{{Name: "laptop", Encoding: "utf-8"}}, repos)

	assert.NoError(t, c.RefreshRepositories(ctx))
}

func TestClient_APIError(t *testing.T) {
	srv, _ := newTestServer(t)
	c := NewClient(srv.URL, srv.Client(), zerolog.Nop())

	err := c.SetRepositoryEncoding(context.Background(), "laptop", "utf-8")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusInternalServerError, apiErr.StatusCode)
	assert.Equal(t, "boom", apiErr.Body)
}
