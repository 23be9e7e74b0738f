package sink

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oszuidwest/zwfm-audioplane/internal/memhandle"
	"github.com/oszuidwest/zwfm-audioplane/internal/types"
)

func newSink(t *testing.T, capacity int) (*RAM, *memhandle.Manager) {
	t.Helper()
	pool, err := memhandle.New(memhandle.PoolConfig{ID: 0, Size: 4 * 64, NumSegs: 4})
	require.NoError(t, err)
	s := NewRAM(pool, capacity, nil)
	require.NoError(t, s.Init(Params{Codec: types.CodecLPCM, Channels: 1, BitLength: 16, SamplingRate: 48000}))
	return s, pool
}

func segment(t *testing.T, pool *memhandle.Manager, data string) memhandle.Handle {
	t.Helper()
	h, err := pool.Alloc(0, len(data))
	require.NoError(t, err)
	buf, err := pool.Bytes(h)
	require.NoError(t, err)
	copy(buf, data)
	return h
}

func next(t *testing.T, s *RAM, size int) (string, bool) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	buf := make([]byte, size)
	n, end, err := s.Next(ctx, buf)
	require.NoError(t, err)
	return string(buf[:n]), end
}

func TestRAMStreams(t *testing.T) {
	t.Parallel()
	s, pool := newSink(t, 64)

	h := segment(t, pool, "hello")
	require.NoError(t, s.Write(h, 5))
	require.NoError(t, s.Write(h, 3))
	require.NoError(t, pool.Release(h))
	require.NoError(t, s.Finalize())

	h = segment(t, pool, "next")
	require.NoError(t, s.Write(h, 4))
	require.NoError(t, pool.Release(h))

	data, end := next(t, s, 6)
	assert.Equal(t, "hello", data[:5])
	assert.False(t, end)

	data, end = next(t, s, 64)
	assert.Equal(t, "el", data, "reads stop at the stream boundary")
	assert.False(t, end)

	_, end = next(t, s, 64)
	assert.True(t, end)

	data, end = next(t, s, 64)
	assert.Equal(t, "next", data)
	assert.False(t, end)

	stats := s.Stats()
	assert.Equal(t, uint64(12), stats.Written)
	assert.Equal(t, uint64(2), stats.Streams)
	assert.True(t, pool.Stats().Balanced())
}

func TestRAMFull(t *testing.T) {
	t.Parallel()
	s, pool := newSink(t, 8)

	h := segment(t, pool, "0123456789")
	defer func() { require.NoError(t, pool.Release(h)) }()

	require.NoError(t, s.Write(h, 6))
	assert.ErrorIs(t, s.Write(h, 6), ErrFull)
	assert.Equal(t, uint64(1), s.Stats().WriteErrs)
}

func TestRAMNotInit(t *testing.T) {
	t.Parallel()
	pool, err := memhandle.New(memhandle.PoolConfig{ID: 0, Size: 64, NumSegs: 1})
	require.NoError(t, err)
	s := NewRAM(pool, 0, nil)

	h, err := pool.Alloc(0, 4)
	require.NoError(t, err)
	assert.ErrorIs(t, s.Write(h, 4), ErrNotInit)
	assert.ErrorIs(t, s.Finalize(), ErrNotInit)
	require.NoError(t, pool.Release(h))
	assert.Equal(t, DefaultCapacity, s.Stats().Capacity)
}

func TestRAMStaleHandle(t *testing.T) {
	t.Parallel()
	s, pool := newSink(t, 64)

	h := segment(t, pool, "x")
	require.NoError(t, pool.Release(h))
	assert.ErrorIs(t, s.Write(h, 1), memhandle.ErrStaleHandle)
}

func TestRAMNextWaits(t *testing.T) {
	t.Parallel()
	s, _ := newSink(t, 64)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, _, err := s.Next(ctx, make([]byte, 4))
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	go func() {
		time.Sleep(10 * time.Millisecond)
		_ = s.Finalize()
	}()
	_, end := next(t, s, 4)
	assert.True(t, end)
}
