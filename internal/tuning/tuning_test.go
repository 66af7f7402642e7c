package tuning

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, ttl time.Duration) (*FileStore, *time.Time) {
	t.Helper()
	store, err := NewFileStore(filepath.Join(t.TempDir(), "cache"), ttl)
	require.NoError(t, err)

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }
	return store, &now
}

func TestEntry(t *testing.T) {
	created := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	entry := Entry{CreatedAt: created, ExpiresAt: created.Add(time.Hour)}

	assert.False(t, entry.IsExpired(created.Add(30*time.Minute)))
	assert.True(t, entry.IsExpired(created.Add(2*time.Hour)))
	assert.Equal(t, 30*time.Minute, entry.Age(created.Add(30*time.Minute)))
}

func TestKey(t *testing.T) {
	k1 := Key("tcp://10.0.0.5:502", 1)
	assert.Len(t, k1, 64)
	assert.Equal(t, k1, Key("  TCP://10.0.0.5:502 ", 1), "case and whitespace are ignored")
	assert.NotEqual(t, k1, Key("tcp://10.0.0.5:502", 2), "unit id is part of the key")
	assert.NotEqual(t, k1, Key("tcp://10.0.0.6:502", 1))
}

func TestNewFileStore(t *testing.T) {
	tests := []struct {
		name    string
		dir     string
		ttl     time.Duration
		wantErr error
	}{
		{name: "empty directory", dir: "", ttl: time.Hour},
		{name: "zero ttl", dir: "x", ttl: 0, wantErr: ErrInvalidTTL},
		{name: "negative ttl", dir: "x", ttl: -time.Second, wantErr: ErrInvalidTTL},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := tt.dir
			if dir != "" {
				dir = filepath.Join(t.TempDir(), dir)
			}
			_, err := NewFileStore(dir, tt.ttl)
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}

	t.Run("creates directory", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "a", "b")
		store, err := NewFileStore(dir, time.Hour)
		require.NoError(t, err)
		assert.Equal(t, dir, store.Directory())
		assert.DirExists(t, dir)
	})
}

func TestFileStore(t *testing.T) {
	store, now := newTestStore(t, time.Hour)
	key := Key("tcp://10.0.0.5:502", 1)

	t.Run("get missing", func(t *testing.T) {
		_, err := store.Get(key)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("set and get", func(t *testing.T) {
		require.NoError(t, store.Set(Entry{
			Key:               key,
			Device:            "tcp://10.0.0.5:502",
			UnitID:            1,
			MaxBatchSize:      125,
			AdaptiveBatchSize: 40,
		}))

		got, err := store.Get(key)
		require.NoError(t, err)
		assert.Equal(t, 40, got.AdaptiveBatchSize)
		assert.Equal(t, "tcp://10.0.0.5:502", got.Device)
		assert.True(t, got.CreatedAt.Equal(*now))
		assert.True(t, got.ExpiresAt.Equal(now.Add(time.Hour)))

		count, err := store.Count()
		require.NoError(t, err)
		assert.Equal(t, 1, count)
	})

	t.Run("overwrite", func(t *testing.T) {
		require.NoError(t, store.Set(Entry{Key: key, AdaptiveBatchSize: 20}))
		got, err := store.Get(key)
		require.NoError(t, err)
		assert.Equal(t, 20, got.AdaptiveBatchSize)

		count, err := store.Count()
		require.NoError(t, err)
		assert.Equal(t, 1, count)
	})

	t.Run("no temp files left", func(t *testing.T) {
		matches, err := filepath.Glob(filepath.Join(store.Directory(), "*.tmp"))
		require.NoError(t, err)
		assert.Empty(t, matches)
	})

	t.Run("expired entry is removed", func(t *testing.T) {
		*now = now.Add(2 * time.Hour)
		_, err := store.Get(key)
		assert.ErrorIs(t, err, ErrExpired)

		_, err = store.Get(key)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("invalid keys", func(t *testing.T) {
		_, err := store.Get("")
		assert.ErrorIs(t, err, ErrInvalidKey)
		assert.ErrorIs(t, store.Set(Entry{}), ErrInvalidKey)
		assert.ErrorIs(t, store.Delete(""), ErrInvalidKey)
	})

	t.Run("corrupt file", func(t *testing.T) {
		require.NoError(t, os.WriteFile(store.keyToFilePath("broken"), []byte("{"), 0o600))
		_, err := store.Get("broken")
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrNotFound)
	})
}

func TestFileStore_DeleteAndClear(t *testing.T) {
	store, _ := newTestStore(t, time.Hour)

	for _, device := range []string{"tcp://a:502", "tcp://b:502", "tcp://c:502"} {
		require.NoError(t, store.Set(Entry{Key: Key(device, 1), AdaptiveBatchSize: 10}))
	}
	require.NoError(t, os.WriteFile(filepath.Join(store.Directory(), "notes.txt"), []byte("x"), 0o600))

	require.NoError(t, store.Delete(Key("tcp://a:502", 1)))
	require.NoError(t, store.Delete(Key("tcp://a:502", 1)), "deleting twice is fine")

	count, err := store.Count()
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	require.NoError(t, store.Clear())
	count, err = store.Count()
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.FileExists(t, filepath.Join(store.Directory(), "notes.txt"), "foreign files are kept")
}

func TestFileStore_KeySanitizing(t *testing.T) {
	store, _ := newTestStore(t, time.Hour)

	path := store.keyToFilePath(`a/b\c:d`)
	assert.Equal(t, filepath.Join(store.Directory(), "a_b_c_d.json"), path)
}

func TestFileStore_Concurrent(t *testing.T) {
	store, _ := newTestStore(t, time.Hour)
	key := Key("tcp://a:502", 1)

	var wg sync.WaitGroup
	for i := 1; i <= 20; i++ {
		wg.Add(1)
		go func(size int) {
			defer wg.Done()
			assert.NoError(t, store.Set(Entry{Key: key, AdaptiveBatchSize: size}))
			_, _ = store.Get(key)
		}(i)
	}
	wg.Wait()

	got, err := store.Get(key)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, got.AdaptiveBatchSize, 1)
	assert.LessOrEqual(t, got.AdaptiveBatchSize, 20)
}

func TestTuner(t *testing.T) {
	store, _ := newTestStore(t, time.Hour)
	tuner := NewTuner(store, 3)
	device := "tcp://10.0.0.5:502"

	_, ok := tuner.InitialBatchSize(device, 125)
	assert.False(t, ok, "nothing learned yet")

	require.NoError(t, tuner.Remember(device, "01HX", 125, 60, 60))

	size, ok := tuner.InitialBatchSize(device, 125)
	require.True(t, ok)
	assert.Equal(t, 60, size)

	size, ok = tuner.InitialBatchSize(device, 32)
	require.True(t, ok)
	assert.Equal(t, 32, size, "clamped to the current maximum")

	entry, err := store.Get(Key(device, 3))
	require.NoError(t, err)
	assert.Equal(t, "01HX", entry.SessionID)
	assert.Equal(t, 3, entry.UnitID)

	_, ok = NewTuner(store, 4).InitialBatchSize(device, 125)
	assert.False(t, ok, "other unit ids are separate")

	assert.Error(t, tuner.Remember(device, "01HY", 125, 0, 0))
}
