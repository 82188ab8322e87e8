package sessionstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"github.com/david-why/submit/judge"
)

func roundTrip(t *testing.T, store judge.Store) {
	t.Helper()
	ctx := context.Background()

	blob, err := store.Load(ctx, "codeforces")
	require.NoError(t, err)
	require.Nil(t, blob)

	state := judge.SessionState{
		Cookies: map[string]map[string]string{"https://codeforces.com": {"JSESSIONID": "abc", "RCPC": "def"}},
	}
	enc, err := judge.EncodeSession(state)
	require.NoError(t, err)
	require.NoError(t, store.Save(ctx, "codeforces", enc))
	require.NoError(t, store.Save(ctx, "usaco", []byte(`{"extra":{"a":"k"}}`)))

	blob, err = store.Load(ctx, "codeforces")
	require.NoError(t, err)
	back, err := judge.DecodeSession(blob)
	require.NoError(t, err)
	require.Equal(t, state, back)

	blob, err = store.Load(ctx, "usaco")
	require.NoError(t, err)
	back, err = judge.DecodeSession(blob)
	require.NoError(t, err)
	require.Equal(t, "k", back.Extra["a"])
}

func TestMemoryStore(t *testing.T) {
	roundTrip(t, judge.NewMemoryStore())
}

func TestFileStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "submitter.sess")
	f := NewFile(path)
	roundTrip(t, f)

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	// a second instance sees the same document
	blob, err := NewFile(path).Load(context.Background(), "usaco")
	require.NoError(t, err)
	require.JSONEq(t, `{"extra":{"a":"k"}}`, string(blob))

	require.Error(t, f.Save(context.Background(), "x", []byte("not json")))
	require.NoError(t, f.Clear())
	require.NoError(t, f.Clear())
}

func TestFileStoreCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "submitter.sess")
	require.NoError(t, os.WriteFile(path, []byte("{"), 0o600))
	_, err := NewFile(path).Load(context.Background(), "codeforces")
	require.Error(t, err)
}

func TestRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	store, err := NewRedis(RedisConfig{Addr: mr.Addr()})
	require.NoError(t, err)
	defer store.Close()

	roundTrip(t, store)
	require.True(t, mr.Exists(DefaultRedisKey))
	require.Equal(t, `{"extra":{"a":"k"}}`, mr.HGet(DefaultRedisKey, "usaco"))
}

func TestRedisStoreRequiresAddr(t *testing.T) {
	_, err := NewRedis(RedisConfig{})
	require.Error(t, err)
}
