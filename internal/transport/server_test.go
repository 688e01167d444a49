package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tildaslashalef/budgetsync/internal/loggy"
	"golang.org/x/oauth2"
)

// recordingAdapter records the user each query ran for
type recordingAdapter struct {
	mu      sync.Mutex
	queries []Query
	users   []string
	rows    Rows
	err     error
}

func (a *recordingAdapter) Execute(ctx context.Context, q Query) (Rows, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	userID, _ := UserIDFromContext(ctx)
	a.users = append(a.users, userID)
	a.queries = append(a.queries, q)
	return a.rows, a.err
}

type mapVerifier map[string]string

func (m mapVerifier) Verify(token string) (string, error) {
	if id, ok := m[token]; ok {
		return id, nil
	}
	return "", errors.New("invalid token")
}

func newTestServer(t *testing.T, exec Adapter, cfg ServerConfig) *httptest.Server {
	s := NewServer(exec, mapVerifier{"good-token": "user-1"}, cfg, loggy.NewNoopLogger())
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return srv
}

func newTestProxy(url, token string) *Proxy {
	return NewProxy(ProxyConfig{URL: url}, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}), loggy.NewNoopLogger())
}

func TestProxyRoundTrip(t *testing.T) {
	exec := &recordingAdapter{rows: Rows{{"plan_id": "plan-1", "count": 2}}}
	srv := newTestServer(t, exec, ServerConfig{})

	rows, err := newTestProxy(srv.URL, "good-token").Execute(context.Background(), Query{
		SQL:    "SELECT * FROM monthly_plans WHERE user_id = $1",
		Params: []any{UserIDParam},
	})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "plan-1", rows[0]["plan_id"])
	assert.Equal(t, json.Number("2"), rows[0]["count"])

	require.Len(t, exec.users, 1)
	assert.Equal(t, "user-1", exec.users[0], "the token subject is handed to the adapter")
	assert.Equal(t, []any{UserIDParam}, exec.queries[0].Params, "the placeholder reaches the trusted side untouched")
}

func TestProxyErrorMapping(t *testing.T) {
	ctx := context.Background()
	scoped := Query{SQL: "SELECT * FROM monthly_plans WHERE user_id = $1", Params: []any{UserIDParam}}

	t.Run("bad token is AUTH", func(t *testing.T) {
		srv := newTestServer(t, &recordingAdapter{}, ServerConfig{})
		_, err := newTestProxy(srv.URL, "stolen").Execute(ctx, scoped)

		var terr *Error
		require.ErrorAs(t, err, &terr)
		assert.Equal(t, CodeAuth, terr.Code)
		assert.Equal(t, ReasonUnauthorized, terr.Reason)
	})

	t.Run("missing token never leaves the client", func(t *testing.T) {
		exec := &recordingAdapter{}
		srv := newTestServer(t, exec, ServerConfig{})
		_, err := newTestProxy(srv.URL, "").Execute(ctx, scoped)

		assert.Equal(t, CodeAuth, CodeOf(err))
		assert.Empty(t, exec.queries)
	})

	t.Run("rate limited is NETWORK", func(t *testing.T) {
		srv := newTestServer(t, &recordingAdapter{}, ServerConfig{RequestsPerMinute: 1, BurstLimit: 1})
		client := newTestProxy(srv.URL, "good-token")

		_, err := client.Execute(ctx, scoped)
		require.NoError(t, err)

		_, err = client.Execute(ctx, scoped)
		var terr *Error
		require.ErrorAs(t, err, &terr)
		assert.Equal(t, CodeNetwork, terr.Code)
		assert.Equal(t, ReasonRateLimited, terr.Reason)
	})

	t.Run("syntax error is SERVER", func(t *testing.T) {
		exec := &recordingAdapter{err: classify(&pgconn.PgError{Code: "42601", Message: "syntax error at or near"})}
		srv := newTestServer(t, exec, ServerConfig{})

		_, err := newTestProxy(srv.URL, "good-token").Execute(ctx, scoped)
		var terr *Error
		require.ErrorAs(t, err, &terr)
		assert.Equal(t, CodeServer, terr.Code)
		assert.Equal(t, ReasonSQLSyntax, terr.Reason)
	})

	t.Run("unique violation is CONFLICT", func(t *testing.T) {
		exec := &recordingAdapter{err: classify(&pgconn.PgError{Code: "23505"})}
		srv := newTestServer(t, exec, ServerConfig{})

		_, err := newTestProxy(srv.URL, "good-token").Execute(ctx, scoped)
		assert.Equal(t, CodeConflict, CodeOf(err))
	})

	t.Run("strict scoping is SERVER", func(t *testing.T) {
		exec := &recordingAdapter{}
		srv := newTestServer(t, exec, ServerConfig{StrictScoping: true})

		_, err := newTestProxy(srv.URL, "good-token").Execute(ctx, Query{SQL: "SELECT * FROM monthly_plans"})
		var terr *Error
		require.ErrorAs(t, err, &terr)
		assert.Equal(t, CodeServer, terr.Code)
		assert.Equal(t, ReasonPermissionDenied, terr.Reason)
		assert.Empty(t, exec.queries)
	})

	t.Run("another user's id is rejected", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		t.Cleanup(func() { db.Close() })
		direct := NewDirect(db, nil, loggy.NewNoopLogger(), WithStrictScoping(true))
		srv := newTestServer(t, direct, ServerConfig{StrictScoping: true})

		body := `{"query":"SELECT plan_id, name FROM monthly_plans WHERE user_id = $1","params":["user-2"]}`
		req, err := http.NewRequest(http.MethodPost, srv.URL+QueryPath, strings.NewReader(body))
		require.NoError(t, err)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer good-token")

		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
		var out response
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
		require.NotNil(t, out.Error)
		assert.Equal(t, ReasonPermissionDenied, out.Error.Code)
		assert.NoError(t, mock.ExpectationsWereMet(), "nothing should reach the database")
	})

	t.Run("own rows pass strict scoping", func(t *testing.T) {
		exec := &recordingAdapter{}
		srv := newTestServer(t, exec, ServerConfig{StrictScoping: true})

		_, err := newTestProxy(srv.URL, "good-token").Execute(ctx, scoped)
		require.NoError(t, err)
		assert.Equal(t, []string{"user-1"}, exec.users)
	})

	t.Run("unreachable proxy is NETWORK", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		url := srv.URL
		srv.Close()

		_, err := newTestProxy(url, "good-token").Execute(ctx, scoped)
		assert.Equal(t, CodeNetwork, CodeOf(err))
	})
}

func TestServerRejectsBadRequests(t *testing.T) {
	srv := newTestServer(t, &recordingAdapter{}, ServerConfig{})

	tests := []struct {
		name   string
		body   string
		auth   string
		status int
		reason string
	}{
		{"no auth header", `{"query":"SELECT 1 WHERE user_id = $1"}`, "", http.StatusUnauthorized, ReasonUnauthorized},
		{"malformed body", `{"query":`, "Bearer good-token", http.StatusBadRequest, ReasonInvalidRequest},
		{"empty query", `{"query":"  "}`, "Bearer good-token", http.StatusBadRequest, ReasonInvalidRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(http.MethodPost, srv.URL+QueryPath, strings.NewReader(tt.body))
			require.NoError(t, err)
			req.Header.Set("Content-Type", "application/json")
			if tt.auth != "" {
				req.Header.Set("Authorization", tt.auth)
			}

			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, tt.status, resp.StatusCode)
			assert.NotEmpty(t, resp.Header.Get(RequestIDHeader))

			var body response
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			assert.False(t, body.Success)
			require.NotNil(t, body.Error)
			assert.Equal(t, tt.reason, body.Error.Code)
		})
	}
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t, &recordingAdapter{}, ServerConfig{})

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
