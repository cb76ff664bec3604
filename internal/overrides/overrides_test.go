package overrides

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskcal/internal/model"
)

func TestSet_MergesFieldWise(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "1", model.Partial{Color: model.Ptr("#ff0000")}))
	require.NoError(t, s.Set(ctx, "1", model.Partial{Notes: model.Ptr("bring laptop")}))
	require.NoError(t, s.Set(ctx, "1", model.Partial{Color: model.Ptr("#00ff00")}))

	p, ok := s.Get("1")
	require.True(t, ok)
	assert.Equal(t, "#00ff00", *p.Color)
	assert.Equal(t, "bring laptop", *p.Notes)

	require.NoError(t, s.Set(ctx, "", model.Partial{Color: model.Ptr("#000")}))
	require.NoError(t, s.Set(ctx, "2", model.Partial{}))
	assert.Equal(t, 1, s.Len())
}

func TestMerge_OverrideWins(t *testing.T) {
	s := NewMemory()
	require.NoError(t, s.Set(context.Background(), "7", model.Partial{Color: model.Ptr("#123456")}))

	in := []model.Record{
		{"id": float64(7), "title": "a", "color": "#ffffff"},
		{"id": "8", "title": "b"},
	}
	out := s.Merge(in)
	require.Len(t, out, 2)
	assert.Equal(t, "#123456", out[0]["color"])
	assert.Equal(t, "#ffffff", in[0]["color"], "input records are not mutated")
	assert.Equal(t, "b", out[1]["title"])
}

func TestSnapshotIsCopy(t *testing.T) {
	s := NewMemory()
	require.NoError(t, s.Set(context.Background(), "1", model.Partial{Title: model.Ptr("x")}))
	snap := s.Snapshot()
	delete(snap, "1")
	_, ok := s.Get("1")
	assert.True(t, ok)
}

func TestSQLitePersistence(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "overrides.db")

	s, err := Open(ctx, path)
	require.NoError(t, err)
	require.NoError(t, s.Set(ctx, "a", model.Partial{Color: model.Ptr("#abcdef")}))
	require.NoError(t, s.Set(ctx, "a", model.Partial{Notes: model.Ptr("n")}))
	require.NoError(t, s.Set(ctx, "b", model.Partial{Title: model.Ptr("gone")}))
	require.NoError(t, s.Delete(ctx, "b"))
	require.NoError(t, s.Close())

	reopened, err := Open(ctx, path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reopened.Close() })

	assert.Equal(t, []string{"a"}, reopened.IDs())
	p, ok := reopened.Get("a")
	require.True(t, ok)
	assert.Equal(t, "#abcdef", *p.Color)
	assert.Equal(t, "n", *p.Notes)
}

func TestOpenEmptyPathIsMemory(t *testing.T) {
	s, err := Open(context.Background(), "")
	require.NoError(t, err)
	assert.Nil(t, s.db)
	assert.NoError(t, s.Close())
}
