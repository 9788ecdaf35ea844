package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPreferenceRepositoryLong(t *testing.T) {
	repo := NewPreferenceRepository(newTestDB(t))

	v, err := repo.GetLong("missing", -1)
	require.NoError(t, err)
	assert.Equal(t, int64(-1), v)

	require.NoError(t, repo.PutLong("ts", 1514764800000))
	require.NoError(t, repo.PutLong("ts", 1514764800001))

	v, err = repo.GetLong("ts", -1)
	require.NoError(t, err)
	assert.Equal(t, int64(1514764800001), v)
}

func TestPreferenceRepositoryJSON(t *testing.T) {
	repo := NewPreferenceRepository(newTestDB(t))

	var got map[string]string
	ok, err := repo.GetJSON("ids", &got)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, repo.PutJSON("ids", map[string]string{"a": "schedule-a"}))

	ok, err = repo.GetJSON("ids", &got)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, map[string]string{"a": "schedule-a"}, got)
}

func TestPreferenceRepositoryPutBatch(t *testing.T) {
	repo := NewPreferenceRepository(newTestDB(t))

	require.NoError(t, repo.PutLong("old", 1))
	require.NoError(t, repo.PutBatch(map[string]any{
		"ts":   int64(100),
		"meta": map[string]string{"v": "1"},
		"old":  nil,
	}))

	ts, err := repo.GetLong("ts", -1)
	require.NoError(t, err)
	assert.Equal(t, int64(100), ts)

	var meta map[string]string
	ok, err := repo.GetJSON("meta", &meta)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, map[string]string{"v": "1"}, meta)

	old, err := repo.GetLong("old", -1)
	require.NoError(t, err)
	assert.Equal(t, int64(-1), old)
}

func TestPreferenceRepositoryPutBatchIsAtomic(t *testing.T) {
	repo := NewPreferenceRepository(newTestDB(t))
	require.NoError(t, repo.PutLong("ts", 1))

	err := repo.PutBatch(map[string]any{
		"ts":  int64(2),
		"bad": make(chan int),
	})
	require.Error(t, err)

	ts, err := repo.GetLong("ts", -1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), ts)
}
