package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func newTestRedisStore(t *testing.T) (*miniredis.Miniredis, Store) {
	t.Helper()
	mr := miniredis.RunT(t)
	s, err := NewRedisStore(mr.Addr(), "", zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return mr, s
}

func TestRedisStoreRoundTrip(t *testing.T) {
	mr, s := newTestRedisStore(t)
	ctx := context.Background()

	st, err := s.Load(ctx)
	require.NoError(t, err)
	require.Empty(t, st.Sources())

	st.Add("A", fp("1"))
	st.Add("A", fp("2"))
	st.Ensure("empty")
	require.NoError(t, s.Save(ctx, st))

	members, err := mr.Members("noticewatch:seen:A")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{fp("1"), fp("2")}, members)
	sources, err := mr.Members("noticewatch:sources")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"A", "empty"}, sources)

	got, err := s.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"A", "empty"}, got.Sources())
	require.Equal(t, 2, got.Len("A"))
	require.True(t, got.Contains("A", fp("2")))
	// 没有指纹的站点重新加载后仍然存在
	_, ok := got["empty"]
	require.True(t, ok)
	require.Zero(t, got.Len("empty"))
}

func TestRedisStoreSaveReplacesSet(t *testing.T) {
	mr, s := newTestRedisStore(t)
	ctx := context.Background()

	st := NewState()
	st.Add("A", fp("1"))
	st.Add("A", fp("stale"))
	require.NoError(t, s.Save(ctx, st))

	st = NewState()
	st.Add("A", fp("1"))
	st.Add("A", fp("2"))
	require.NoError(t, s.Save(ctx, st))

	members, err := mr.Members("noticewatch:seen:A")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{fp("1"), fp("2")}, members)
}

func TestRedisStoreWrongTypeIsCorrupt(t *testing.T) {
	mr, s := newTestRedisStore(t)

	_, err := mr.SAdd("noticewatch:sources", "A")
	require.NoError(t, err)
	require.NoError(t, mr.Set("noticewatch:seen:A", "not a set"))

	_, err = s.Load(context.Background())
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrCorrupt))
	require.Contains(t, err.Error(), "WRONGTYPE")
}

func TestRedisStoreInvalidMemberIsCorrupt(t *testing.T) {
	mr, s := newTestRedisStore(t)

	_, err := mr.SAdd("noticewatch:sources", "A")
	require.NoError(t, err)
	_, err = mr.SAdd("noticewatch:seen:A", "title+link")
	require.NoError(t, err)

	_, err = s.Load(context.Background())
	require.True(t, errors.Is(err, ErrCorrupt))
}

func TestRedisStorePrefix(t *testing.T) {
	mr := miniredis.RunT(t)
	s, err := NewRedisStore(mr.Addr(), "house:", zerolog.Nop())
	require.NoError(t, err)
	defer s.Close()

	st := NewState()
	st.Add("A", fp("1"))
	require.NoError(t, s.Save(context.Background(), st))
	require.True(t, mr.Exists("house:seen:A"))
	require.False(t, mr.Exists("noticewatch:seen:A"))
}

func TestRedisStoreUnavailableIsNotCorrupt(t *testing.T) {
	mr, s := newTestRedisStore(t)
	mr.Close()

	_, err := s.Load(context.Background())
	require.Error(t, err)
	require.False(t, errors.Is(err, ErrCorrupt))
}

func TestNewRedisStoreRequiresAddr(t *testing.T) {
	_, err := NewRedisStore(" ", "", zerolog.Nop())
	require.Error(t, err)
}
