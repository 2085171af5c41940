package sqlbuilder

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solenoid-labs/storekit/internal/dberr"
)

func TestWhere_EmptyConditions(t *testing.T) {
	clause, args, err := Where(nil, 1)

	require.NoError(t, err)
	assert.Empty(t, clause)
	assert.Empty(t, args)
}

func TestWhere_SingleOperators(t *testing.T) {
	tests := []struct {
		name       string
		cond       Condition
		wantClause string
		wantArgs   []any
	}{
		{"equals", Condition{Column: "status", Op: Eq, Value: "active"}, "WHERE status = $1", []any{"active"}},
		{"not equals", Condition{Column: "role", Op: Ne, Value: "ADMIN"}, "WHERE role != $1", []any{"ADMIN"}},
		{"greater", Condition{Column: "count", Op: Gt, Value: 5}, "WHERE count > $1", []any{5}},
		{"less", Condition{Column: "count", Op: Lt, Value: 5}, "WHERE count < $1", []any{5}},
		{"greater or equal", Condition{Column: "count", Op: Gte, Value: 5}, "WHERE count >= $1", []any{5}},
		{"less or equal", Condition{Column: "count", Op: Lte, Value: 5}, "WHERE count <= $1", []any{5}},
		{"like", Condition{Column: "name", Op: Like, Value: "%ali%"}, "WHERE name LIKE $1", []any{"%ali%"}},
		{"is null ignores value", Condition{Column: "deleted_at", Op: IsNull, Value: "ignored"}, "WHERE deleted_at IS NULL", nil},
		{"is not null", Condition{Column: "deleted_at", Op: IsNotNull}, "WHERE deleted_at IS NOT NULL", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clause, args, err := Where([]Condition{tt.cond}, 1)

			require.NoError(t, err)
			assert.Equal(t, tt.wantClause, clause)
			if tt.wantArgs == nil {
				assert.Empty(t, args)
			} else {
				assert.Equal(t, tt.wantArgs, args)
			}
		})
	}
}

func TestWhere_PreservesInputOrderAndJoinsWithAnd(t *testing.T) {
	clause, args, err := Where([]Condition{
		{Column: "user_id", Op: Eq, Value: "u1"},
		{Column: "is_active", Op: Eq, Value: true},
		{Column: "expires_at", Op: Gt, Value: 42},
	}, 1)

	require.NoError(t, err)
	assert.Equal(t, "WHERE user_id = $1 AND is_active = $2 AND expires_at > $3", clause)
	assert.Equal(t, []any{"u1", true, 42}, args)
}

func TestWhere_InExpandsOnePlaceholderPerElement(t *testing.T) {
	clause, args, err := Where([]Condition{
		{Column: "action", Op: In, Value: []string{"login", "logout", "login_failed"}},
	}, 1)

	require.NoError(t, err)
	assert.Equal(t, "WHERE action IN ($1, $2, $3)", clause)
	assert.Equal(t, []any{"login", "logout", "login_failed"}, args)
}

func TestWhere_NotInContinuesNumbering(t *testing.T) {
	clause, args, err := Where([]Condition{
		{Column: "status", Op: Eq, Value: "active"},
		{Column: "role", Op: NotIn, Value: []any{"ADMIN", "MODERATOR"}},
	}, 1)

	require.NoError(t, err)
	assert.Equal(t, "WHERE status = $1 AND role NOT IN ($2, $3)", clause)
	assert.Equal(t, []any{"active", "ADMIN", "MODERATOR"}, args)
}

func TestWhere_InRejectsNonSliceValue(t *testing.T) {
	_, _, err := Where([]Condition{
		{Column: "action", Op: In, Value: "login"},
	}, 1)

	require.Error(t, err)
	assert.Equal(t, dberr.Validation, dberr.KindOf(err))
}

func TestWhere_InRejectsEmptySlice(t *testing.T) {
	_, _, err := Where([]Condition{
		{Column: "action", Op: In, Value: []string{}},
	}, 1)

	require.Error(t, err)
	assert.Equal(t, dberr.Validation, dberr.KindOf(err))
}

func TestWhere_StartIndexOffsetsPlaceholders(t *testing.T) {
	clause, args, err := Where([]Condition{
		{Column: "email", Op: Eq, Value: "a@b.c"},
	}, 4)

	require.NoError(t, err)
	assert.Equal(t, "WHERE email = $4", clause)
	assert.Equal(t, []any{"a@b.c"}, args)
}

func TestBuild_FullTail(t *testing.T) {
	limit, offset := 10, 20
	clause, args, err := Build(Options{
		Conditions: []Condition{
			{Column: "status", Op: Eq, Value: "active"},
		},
		OrderBy: []Order{
			{Column: "created_at", Desc: true},
			{Column: "name"},
		},
		Limit:  &limit,
		Offset: &offset,
	}, 1)

	require.NoError(t, err)
	assert.Equal(t, "WHERE status = $1 ORDER BY created_at DESC, name ASC LIMIT $2 OFFSET $3", clause)
	assert.Equal(t, []any{"active", 10, 20}, args)
}

func TestBuild_OrderAndLimitWithoutConditions(t *testing.T) {
	limit := 5
	clause, args, err := Build(Options{
		OrderBy: []Order{{Column: "created_at", Desc: true}},
		Limit:   &limit,
	}, 1)

	require.NoError(t, err)
	assert.Equal(t, "ORDER BY created_at DESC LIMIT $1", clause)
	assert.Equal(t, []any{5}, args)
}

func TestBuild_EmptyOptions(t *testing.T) {
	clause, args, err := Build(Options{}, 1)

	require.NoError(t, err)
	assert.Empty(t, clause)
	assert.Empty(t, args)
}

func TestOpString_CoversAllOperators(t *testing.T) {
	want := map[Op]string{
		Eq: "=", Ne: "!=", Gt: ">", Lt: "<", Gte: ">=", Lte: "<=",
		Like: "LIKE", In: "IN", NotIn: "NOT IN",
		IsNull: "IS NULL", IsNotNull: "IS NOT NULL",
	}
	for op, s := range want {
		assert.Equal(t, s, op.String())
	}
}
