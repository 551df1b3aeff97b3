package persistence

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Borui-Eduation/student-records-sub000/internal/domain"
	"github.com/Borui-Eduation/student-records-sub000/internal/ports"
)

func seedSessions(t *testing.T, s *MemoryDocumentStore) []string {
	t.Helper()
	rows := []domain.Fields{
		{"userId": "u1", "clientId": "c1", "date": "2024-03-01", "totalAmount": 100.0, "tags": []any{"piano"}},
		{"userId": "u1", "clientId": "c1", "date": "2024-03-15", "totalAmount": 150.0, "tags": []any{"theory"}},
		{"userId": "u1", "clientId": "c2", "date": "2024-04-02", "totalAmount": 80.0},
		{"userId": "u2", "clientId": "c9", "date": "2024-03-10", "totalAmount": 999.0, "notes": "Makeup Lesson"},
	}
	var ids []string
	for _, r := range rows {
		id, err := s.Add(context.Background(), "sessions", r)
		require.NoError(t, err)
		ids = append(ids, id)
	}
	return ids
}

func TestMemoryDocumentStore_Query(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryDocumentStore()
	ids := seedSessions(t, s)

	tests := []struct {
		name  string
		query domain.StoreQuery
		want  []string
	}{
		{
			name:  "equality",
			query: domain.StoreQuery{}.Where("userId", domain.OpEqual, "u1").Where("clientId", domain.OpEqual, "c1"),
			want:  []string{ids[0], ids[1]},
		},
		{
			name: "inclusive date range",
			query: domain.StoreQuery{}.
				Where("date", domain.OpGreaterEqual, "2024-03-01").
				Where("date", domain.OpLessEqual, "2024-03-15"),
			want: []string{ids[0], ids[1], ids[3]},
		},
		{
			name:  "numeric comparison across int and float",
			query: domain.StoreQuery{}.Where("totalAmount", domain.OpGreater, 100),
			want:  []string{ids[1], ids[3]},
		},
		{
			name:  "in",
			query: domain.StoreQuery{}.Where("clientId", domain.OpIn, []any{"c2", "c9"}),
			want:  []string{ids[2], ids[3]},
		},
		{
			name:  "contains is case insensitive",
			query: domain.StoreQuery{}.Where("notes", domain.OpContains, "makeup"),
			want:  []string{ids[3]},
		},
		{
			name:  "array contains",
			query: domain.StoreQuery{}.Where("tags", domain.OpArrayContains, "theory"),
			want:  []string{ids[1]},
		},
		{
			name:  "not equal excludes missing",
			query: domain.StoreQuery{}.Where("notes", domain.OpNotEqual, "x"),
			want:  []string{ids[3]},
		},
		{
			name: "order desc with limit",
			query: domain.StoreQuery{
				OrderBy: []domain.OrderBy{{Field: "totalAmount", Direction: domain.SortDesc}},
				Limit:   2,
			},
			want: []string{ids[3], ids[1]},
		},
		{
			name: "start after cursor",
			query: domain.StoreQuery{
				OrderBy:    []domain.OrderBy{{Field: "date"}},
				StartAfter: ids[0],
				Limit:      2,
			},
			want: []string{ids[3], ids[1]},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			docs, err := s.Query(ctx, "sessions", tt.query)
			require.NoError(t, err)

			var got []string
			for _, d := range docs {
				got = append(got, d.ID)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMemoryDocumentStore_QueryUnknownCollection(t *testing.T) {
	docs, err := NewMemoryDocumentStore().Query(context.Background(), "nothing", domain.StoreQuery{})
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestMemoryDocumentStore_QueryRejectsBadField(t *testing.T) {
	_, err := NewMemoryDocumentStore().Query(context.Background(), "sessions",
		domain.StoreQuery{}.Where("data'; drop", domain.OpEqual, 1))
	assert.Error(t, err)
}

func TestMemoryDocumentStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryDocumentStore()
	id, err := s.Add(ctx, "clients", domain.Fields{"name": "Nova"})
	require.NoError(t, err)

	doc, err := s.Get(ctx, "clients", id)
	require.NoError(t, err)
	doc.Data["name"] = "changed"

	again, err := s.Get(ctx, "clients", id)
	require.NoError(t, err)
	assert.Equal(t, "Nova", again.Data["name"])
}

func TestMemoryDocumentStore_UpdateAndDelete(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryDocumentStore()
	id, err := s.Add(ctx, "clients", domain.Fields{"name": "Nova", "active": true})
	require.NoError(t, err)

	require.NoError(t, s.Update(ctx, "clients", id, domain.Fields{"active": false}))
	doc, err := s.Get(ctx, "clients", id)
	require.NoError(t, err)
	assert.Equal(t, domain.Fields{"name": "Nova", "active": false}, doc.Data)

	require.NoError(t, s.Delete(ctx, "clients", id))
	_, err = s.Get(ctx, "clients", id)
	assert.ErrorIs(t, err, ports.ErrDocumentNotFound)

	assert.ErrorIs(t, s.Update(ctx, "clients", id, domain.Fields{"x": 1}), ports.ErrDocumentNotFound)
}

func TestMemoryDocumentStore_BatchIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryDocumentStore()
	a, err := s.Add(ctx, "sessions", domain.Fields{"billingStatus": "unbilled"})
	require.NoError(t, err)
	b, err := s.Add(ctx, "sessions", domain.Fields{"billingStatus": "unbilled"})
	require.NoError(t, err)

	err = s.Batch(ctx, []ports.Mutation{
		{Kind: ports.MutationUpdate, Collection: "sessions", ID: a, Data: domain.Fields{"billingStatus": "billed"}},
		{Kind: ports.MutationUpdate, Collection: "sessions", ID: "missing", Data: domain.Fields{"billingStatus": "billed"}},
		{Kind: ports.MutationUpdate, Collection: "sessions", ID: b, Data: domain.Fields{"billingStatus": "billed"}},
	})
	require.ErrorIs(t, err, ports.ErrDocumentNotFound)

	for _, id := range []string{a, b} {
		doc, err := s.Get(ctx, "sessions", id)
		require.NoError(t, err)
		assert.Equal(t, "unbilled", doc.Data["billingStatus"])
	}

	err = s.Batch(ctx, []ports.Mutation{
		{Kind: ports.MutationUpdate, Collection: "sessions", ID: a, Data: domain.Fields{"billingStatus": "billed"}},
		{Kind: ports.MutationUpdate, Collection: "sessions", ID: b, Data: domain.Fields{"billingStatus": "billed"}},
	})
	require.NoError(t, err)
	for _, id := range []string{a, b} {
		doc, err := s.Get(ctx, "sessions", id)
		require.NoError(t, err)
		assert.Equal(t, "billed", doc.Data["billingStatus"])
	}
}

func TestMemoryDocumentStore_BatchDeleteThenUpdateFails(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryDocumentStore()
	a, err := s.Add(ctx, "clients", domain.Fields{"name": "A"})
	require.NoError(t, err)

	err = s.Batch(ctx, []ports.Mutation{
		{Kind: ports.MutationDelete, Collection: "clients", ID: a},
		{Kind: ports.MutationUpdate, Collection: "clients", ID: a, Data: domain.Fields{"name": "B"}},
	})
	assert.ErrorIs(t, err, ports.ErrDocumentNotFound)

	_, err = s.Get(ctx, "clients", a)
	assert.NoError(t, err)
}

func TestMemoryDocumentStore_BatchSetThenUpdate(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryDocumentStore()

	err := s.Batch(ctx, []ports.Mutation{
		{Kind: ports.MutationSet, Collection: "clients", ID: "fixed", Data: domain.Fields{"name": "A"}},
		{Kind: ports.MutationUpdate, Collection: "clients", ID: "fixed", Data: domain.Fields{"email": "a@example.com"}},
	})
	require.NoError(t, err)

	doc, err := s.Get(ctx, "clients", "fixed")
	require.NoError(t, err)
	assert.Equal(t, domain.Fields{"name": "A", "email": "a@example.com"}, doc.Data)
}
