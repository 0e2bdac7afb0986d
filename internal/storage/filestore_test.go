package storage

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ernie/whitelister/internal/domain"
)

func TestFileStore_CreatesMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "whitelist.json")
	s := NewFileStore(path)

	require.NoError(t, s.Initialize(context.Background()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, "[]", string(data))
}

func TestFileStore_EmptyFileIsEmptyStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "whitelist.json")
	require.NoError(t, os.WriteFile(path, []byte("  \n"), 0o644))

	s := NewFileStore(path)
	require.NoError(t, s.Initialize(context.Background()))

	records, err := s.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestFileStore_CorruptFileFailsInitialize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "whitelist.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"username": "Steve",`), 0o644))

	s := NewFileStore(path)
	err := s.Initialize(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), path)

	_, err = s.List(context.Background())
	assert.ErrorIs(t, err, ErrNotInitialized)

	// The corrupt file is left for the operator to inspect
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, `[{"username": "Steve",`, string(data))
}

func TestFileStore_ReadsLegacyLayout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "whitelist.json")
	legacy := `[
  {"username": "Steve", "uuid": "069a79f4-44e9-4726-a5be-fca90e38aaf5", "discordId": "111", "whitelistedAt": "2024-03-09T18:30:00Z", "isBedrock": false},
  {"username": "PocketSteve", "xuid": "2535416409875121", "discordId": "222", "whitelistedAt": "2024-03-10T08:00:00Z", "isBedrock": true},
  {"username": "steve", "discordId": "333", "whitelistedAt": "2024-03-11T08:00:00Z", "isBedrock": false}
]`
	require.NoError(t, os.WriteFile(path, []byte(legacy), 0o644))

	s := NewFileStore(path)
	require.NoError(t, s.Initialize(context.Background()))

	records, err := s.List(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 2, "duplicate java key is dropped")

	assert.Equal(t, domain.SpaceJava, records[0].Kind())
	assert.Equal(t, "111", records[0].RequestedBy)
	assert.Equal(t, domain.SpaceBedrock, records[1].Kind())
	assert.Equal(t, domain.BedrockKey("2535416409875121"), records[1].Key())
}

func TestFileStore_RejectsBedrockWithoutXUID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "whitelist.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"username":"x","discordId":"1","whitelistedAt":"2024-01-01T00:00:00Z","isBedrock":true}]`), 0o644))

	err := NewFileStore(path).Initialize(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "xuid")
}

func TestFileStore_WritesOnEveryMutation(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "whitelist.json")
	s := NewFileStore(path)
	require.NoError(t, s.Initialize(ctx))

	_, err := s.Add(ctx, domain.NewJavaRecord("Steve", uuid.Nil, "111", time.Now()))
	require.NoError(t, err)

	var onDisk []persistedMember
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &onDisk))
	require.Len(t, onDisk, 1)
	assert.Equal(t, "Steve", onDisk[0].Username)
	assert.Empty(t, onDisk[0].UUID)
	assert.False(t, onDisk[0].IsBedrock)

	_, err = s.Remove(ctx, domain.JavaKey("steve"))
	require.NoError(t, err)

	data, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, "[]", string(data))

	// No temp files are left behind
	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.HasSuffix(e.Name(), ".tmp"), "leftover %s", e.Name())
	}
}

func TestFileStore_FailedWriteRollsBack(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("directory permissions are not enforced for root")
	}
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "whitelist.json")
	s := NewFileStore(path)
	require.NoError(t, s.Initialize(ctx))

	_, err := s.Add(ctx, domain.NewJavaRecord("Steve", uuid.Nil, "1", time.Now()))
	require.NoError(t, err)

	require.NoError(t, os.Chmod(dir, 0o555))
	t.Cleanup(func() { os.Chmod(dir, 0o755) })

	added, err := s.Add(ctx, domain.NewJavaRecord("Alex", uuid.Nil, "2", time.Now()))
	require.Error(t, err)
	assert.False(t, added)

	found, err := s.Contains(ctx, domain.JavaKey("Alex"))
	require.NoError(t, err)
	assert.False(t, found, "failed add must not stay in memory")

	removed, err := s.Remove(ctx, domain.JavaKey("Steve"))
	require.Error(t, err)
	assert.False(t, removed)

	found, err = s.Contains(ctx, domain.JavaKey("Steve"))
	require.NoError(t, err)
	assert.True(t, found, "failed remove must not drop the member")
}

func TestWriteFileAtomic_ReplacesContent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.json")
	require.NoError(t, writeFileAtomic(path, []byte("one")))
	require.NoError(t, writeFileAtomic(path, []byte("two")))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "two", string(data))
}
