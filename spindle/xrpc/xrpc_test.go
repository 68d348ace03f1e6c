package xrpc

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tangled.sh/tangled.sh/runner/spindle/secrets"
)

const testToken = "hunter2"

func setup(t *testing.T, token string) (*secrets.StaticManager, *httptest.Server) {
	t.Helper()

	sm := secrets.NewStaticManager()
	x := &Xrpc{
		Logger:  slog.New(slog.DiscardHandler),
		Secrets: sm,
		Token:   token,
	}

	srv := httptest.NewServer(x.Router())
	t.Cleanup(srv.Close)
	return sm, srv
}

func call(t *testing.T, srv *httptest.Server, method, path, token, body string) *http.Response {
	t.Helper()

	req, err := http.NewRequest(method, srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set(ActorHeader, "alice")

	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeError(t *testing.T, resp *http.Response) XrpcError {
	t.Helper()

	var e XrpcError
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&e))
	return e
}

func TestAddListRemove(t *testing.T) {
	sm, srv := setup(t, testToken)

	resp := call(t, srv, http.MethodPost, "/"+AddSecretNSID, testToken, `{"scope":"alice/app","key":"API_KEY","value":"s3cr3t"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	unlocked, err := sm.GetSecretsUnlocked(context.Background(), "alice/app")
	require.NoError(t, err)
	require.Len(t, unlocked, 1)
	assert.Equal(t, "s3cr3t", unlocked[0].Value)
	assert.Equal(t, "alice", unlocked[0].CreatedBy)

	resp = call(t, srv, http.MethodGet, "/"+ListSecretsNSID+"?scope=alice/app", testToken, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out ListSecrets_Output
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Len(t, out.Secrets, 1)
	assert.Equal(t, "API_KEY", out.Secrets[0].Key)
	assert.Equal(t, "alice/app", out.Secrets[0].Scope)

	resp = call(t, srv, http.MethodPost, "/"+RemoveSecretNSID, testToken, `{"scope":"alice/app","key":"API_KEY"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	unlocked, err = sm.GetSecretsUnlocked(context.Background(), "alice/app")
	require.NoError(t, err)
	assert.Empty(t, unlocked)
}

func TestListNeverLeaksValues(t *testing.T) {
	_, srv := setup(t, testToken)

	call(t, srv, http.MethodPost, "/"+AddSecretNSID, testToken, `{"scope":"s","key":"TOKEN","value":"do-not-leak"}`)

	resp := call(t, srv, http.MethodGet, "/"+ListSecretsNSID+"?scope=s", testToken, "")
	var raw strings.Builder
	_, err := io.Copy(&raw, resp.Body)
	require.NoError(t, err)
	assert.NotContains(t, raw.String(), "do-not-leak")
	assert.Contains(t, raw.String(), "TOKEN")
}

func TestAuth(t *testing.T) {
	_, srv := setup(t, testToken)

	resp := call(t, srv, http.MethodGet, "/"+ListSecretsNSID+"?scope=s", "", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "MissingToken", decodeError(t, resp).Tag)

	resp = call(t, srv, http.MethodGet, "/"+ListSecretsNSID+"?scope=s", "wrong", "")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "Auth", decodeError(t, resp).Tag)
}

func TestDisabledWithoutToken(t *testing.T) {
	_, srv := setup(t, "")

	resp := call(t, srv, http.MethodGet, "/"+ListSecretsNSID+"?scope=s", "anything", "")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "Disabled", decodeError(t, resp).Tag)
}

func TestAddSecretErrors(t *testing.T) {
	_, srv := setup(t, testToken)

	tests := []struct {
		name   string
		body   string
		status int
		tag    string
	}{
		{"bad json", `{`, http.StatusBadRequest, "Generic"},
		{"no scope", `{"key":"K","value":"v"}`, http.StatusBadRequest, "MissingScope"},
		{"bad key", `{"scope":"s","key":"1-bad","value":"v"}`, http.StatusBadRequest, "InvalidKey"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := call(t, srv, http.MethodPost, "/"+AddSecretNSID, testToken, tt.body)
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Equal(t, tt.tag, decodeError(t, resp).Tag)
		})
	}

	t.Run("duplicate", func(t *testing.T) {
		body := `{"scope":"s","key":"DUP","value":"v"}`
		resp := call(t, srv, http.MethodPost, "/"+AddSecretNSID, testToken, body)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		resp = call(t, srv, http.MethodPost, "/"+AddSecretNSID, testToken, body)
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
		assert.Equal(t, "SecretExists", decodeError(t, resp).Tag)
	})
}

func TestRemoveMissingSecret(t *testing.T) {
	_, srv := setup(t, testToken)

	resp := call(t, srv, http.MethodPost, "/"+RemoveSecretNSID, testToken, `{"scope":"s","key":"NOPE"}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "SecretNotFound", decodeError(t, resp).Tag)
}
