package transport

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodeOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Code
	}{
		{"nil", nil, ""},
		{"typed", NewError(CodeAuth, "no token", nil), CodeAuth},
		{"wrapped", fmt.Errorf("upload: %w", NewError(CodeConflict, "dup", nil)), CodeConflict},
		{"deadline", context.DeadlineExceeded, CodeNetwork},
		{"plain", errors.New("boom"), CodeUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CodeOf(tt.err))
		})
	}
}

func TestRetryable(t *testing.T) {
	assert.True(t, CodeNetwork.Retryable())
	assert.True(t, CodeUnknown.Retryable())
	assert.False(t, CodeAuth.Retryable())
	assert.False(t, CodeServer.Retryable())
	assert.False(t, CodeConflict.Retryable())
}

func TestUserScoping(t *testing.T) {
	assert.True(t, IsUserScoped("SELECT * FROM monthly_plans WHERE user_id = $1"))
	assert.True(t, IsUserScoped("select * from monthly_plans where USER_ID = $1"))
	assert.False(t, IsUserScoped("SELECT * FROM monthly_plans"))
	assert.True(t, IsUserScoped("INSERT INTO monthly_plans (id, user_id) VALUES ($1, $2)"))
	assert.False(t, IsUserScoped("SELECT user_id, plan_id FROM monthly_plans ORDER BY user_id"))
	assert.False(t, IsUserScoped("DELETE FROM monthly_plans WHERE plan_id = $1"))
	assert.False(t, IsUserScoped("SELECT other_user_identifier FROM t"))

	params := []any{"plan-1", UserIDParam, 42}
	assert.True(t, NeedsUser(params))
	assert.False(t, NeedsUser([]any{"plan-1"}))

	bound := BindUser(params, "user-7")
	assert.Equal(t, []any{"plan-1", "user-7", 42}, bound)
	assert.Equal(t, UserIDParam, params[1], "input params are not modified")
}

func TestCheckScope(t *testing.T) {
	u := UserIDParam

	tests := []struct {
		name string
		sql  string
		args []any
		ok   bool
	}{
		{"select own rows", "SELECT plan_id FROM monthly_plans WHERE user_id = $1", []any{u}, true},
		{"update own row", "UPDATE monthly_plans SET name = $1 WHERE (id = $2 AND user_id = $3)", []any{"May", "row-1", u}, true},
		{"delete own row", "DELETE FROM monthly_plans WHERE (user_id = $1 AND plan_id = $2)", []any{u, "plan-1"}, true},
		{"insert own row", "INSERT INTO monthly_plans (id,user_id,plan_id) VALUES ($1,$2,$3)", []any{"row-1", u, "plan-1"}, true},
		{"operand first", "SELECT * FROM monthly_plans WHERE $1 = user_id", []any{u}, true},
		{"no user reference", "SELECT * FROM monthly_plans", nil, false},
		{"another user bound", "SELECT plan_id, name FROM monthly_plans WHERE user_id = $1", []any{"user-2"}, false},
		{"literal user", "SELECT * FROM monthly_plans WHERE user_id = 'user-2' AND plan_id = $1", []any{u}, false},
		{"second comparison", "SELECT * FROM monthly_plans WHERE user_id = $1 OR user_id = $2", []any{u, "user-2"}, false},
		{"operand first other user", "SELECT * FROM monthly_plans WHERE user_id = $1 OR $2 = user_id", []any{u, "user-2"}, false},
		{"column comparison", "SELECT * FROM monthly_plans WHERE plan_id = $1 AND user_id = user_id", []any{u}, false},
		{"user list", "SELECT * FROM monthly_plans WHERE user_id IN ($1, $2)", []any{u, "user-2"}, false},
		{"moves a row", "UPDATE monthly_plans SET user_id = $1 WHERE user_id = $2", []any{"user-2", u}, false},
		{"inserts for another user", "INSERT INTO monthly_plans (id,user_id,plan_id) VALUES ($1,$2,$3)", []any{"row-1", "user-2", u}, false},
		{"multi row insert", "INSERT INTO monthly_plans (id,user_id) VALUES ($1,$2),($3,$4)", []any{"a", u, "b", "user-2"}, false},
		{"insert from select", "INSERT INTO monthly_plans (id,user_id) SELECT id, user_id FROM monthly_plans WHERE user_id = $1", []any{u}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckScope(Query{SQL: tt.sql, Params: tt.args})
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			var terr *Error
			require.ErrorAs(t, err, &terr)
			assert.Equal(t, ReasonPermissionDenied, terr.Reason)
		})
	}
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("connection reset")
	err := fmt.Errorf("fetching: %w", NewError(CodeNetwork, "proxy unreachable", cause))

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "NETWORK: proxy unreachable")
}
