package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "nested", "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSaveLoadClear(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)
	s.now = func() time.Time { return time.UnixMilli(1700000000000) }

	_, err := s.Load(ctx, LatestKey)
	assert.ErrorIs(t, err, ErrNotFound)

	items := []Item{
		User("find the cheapest flight"),
		ToolCall("", Call{ID: "call-1", Name: "openUrl", Args: map[string]any{"url": "example.com", "explaining": "start"}}),
		ToolResult("call-1", "openUrl", `{"success":true}`),
		Assistant("done"),
	}
	require.NoError(t, s.Save(ctx, LatestKey, "run-1", items))

	rec, err := s.Load(ctx, LatestKey)
	require.NoError(t, err)
	assert.Equal(t, "run-1", rec.RunID)
	assert.Equal(t, items, rec.Items)
	assert.Equal(t, int64(1700000000000), rec.UpdatedAt.UnixMilli())

	require.NoError(t, s.Save(ctx, LatestKey, "run-2", items[:1]))
	rec, err = s.Load(ctx, LatestKey)
	require.NoError(t, err)
	assert.Equal(t, "run-2", rec.RunID)
	assert.Len(t, rec.Items, 1)

	require.NoError(t, s.Clear(ctx, LatestKey))
	_, err = s.Load(ctx, LatestKey)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, s.Clear(ctx, LatestKey))
}

func TestSaveEmpty(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)

	require.NoError(t, s.Save(ctx, "other", "run-1", nil))
	rec, err := s.Load(ctx, "other")
	require.NoError(t, err)
	assert.Empty(t, rec.Items)
}

func TestReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "history.db")

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Save(ctx, LatestKey, "run-1", []Item{User("hello")}))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	rec, err := s.Load(ctx, LatestKey)
	require.NoError(t, err)
	assert.Equal(t, []Item{User("hello")}, rec.Items)
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open("  ")
	assert.Error(t, err)
}
