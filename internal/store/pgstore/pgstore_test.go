package pgstore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"vault_chat/internal/store"
)

func TestBuildSelect(t *testing.T) {
	after := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	sql, args, err := buildSelect(store.Query{
		Collection: "users",
		Filters: []store.Filter{
			store.Where("role", store.OpEqual, "cooperative"),
			store.Where("uid", store.OpNotEqual, "u1"),
			store.Where("views", store.OpArrayContains, "u2"),
		},
		CreatedAfter:   after,
		OrderByCreated: true,
	})
	require.NoError(t, err)

	assert.Equal(t,
		"SELECT id, data, created_at FROM documents WHERE collection = $1"+
			" AND data -> $2::text = $3::jsonb"+
			" AND data -> $4::text IS DISTINCT FROM $5::jsonb"+
			" AND data -> $6::text @> $7::jsonb"+
			" AND created_at > $8"+
			" ORDER BY created_at ASC, id ASC",
		sql)
	assert.Equal(t, []any{"users", "role", `"cooperative"`, "uid", `"u1"`, "views", `["u2"]`, after}, args)
}

func TestBuildSelect_UnsupportedOperator(t *testing.T) {
	_, _, err := buildSelect(store.Query{
		Collection: "users",
		Filters:    []store.Filter{{Field: "age", Op: ">", Value: 1}},
	})
	assert.Error(t, err)
}

func TestSameSnapshot(t *testing.T) {
	now := time.Now()
	a := []store.Document{{Ref: store.Ref{Collection: "c", ID: "1"}, Fields: map[string]any{"read": false}, CreatedAt: now}}
	b := []store.Document{{Ref: store.Ref{Collection: "c", ID: "1"}, Fields: map[string]any{"read": true}, CreatedAt: now}}

	assert.True(t, sameSnapshot(a, a))
	assert.False(t, sameSnapshot(a, b))
	assert.False(t, sameSnapshot(a, nil))
}
