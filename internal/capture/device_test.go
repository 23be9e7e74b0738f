package capture

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/oszuidwest/zwfm-audioplane/internal/memhandle"
	"github.com/oszuidwest/zwfm-audioplane/internal/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type collector struct {
	mu      sync.Mutex
	results []Result
	errors  []Error
}

func (c *collector) done(r Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results = append(c.results, r)
}

func (c *collector) errf(e Error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errors = append(c.errors, e)
}

func (c *collector) counts() (int, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.results), len(c.errors)
}

var testParams = Params{Channels: 2, BitLength: 16, SamplesPerFrame: 32, PresetNum: 4}

func newTestDevice(t *testing.T, period time.Duration) (*Device, *memhandle.Manager, *collector) {
	t.Helper()
	pool, err := memhandle.New(memhandle.PoolConfig{ID: 0, Size: 16 * 128, NumSegs: 16})
	require.NoError(t, err)
	d := NewDevice(pool, &ToneSource{Frequency: 1000, SampleRate: 48000, Amplitude: 0.5}, period, nil)
	c := &collector{}
	require.NoError(t, d.Acquire(types.InputMic))
	require.NoError(t, d.Init(testParams, c.done, c.errf))
	return d, pool, c
}

func execN(t *testing.T, d *Device, pool *memhandle.Manager, n int) {
	t.Helper()
	for range n {
		h, err := pool.Alloc(0, testParams.FrameBytes())
		require.NoError(t, err)
		require.NoError(t, d.Exec(h, testParams.SamplesPerFrame))
	}
}

func releaseAll(t *testing.T, pool *memhandle.Manager, c *collector) {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, r := range c.results {
		require.NoError(t, pool.Release(r.Handle))
	}
}

func TestDeviceCompletesRequests(t *testing.T) {
	t.Parallel()
	d, pool, c := newTestDevice(t, time.Millisecond)

	execN(t, d, pool, 3)
	require.Eventually(t, func() bool { n, _ := c.counts(); return n == 3 }, time.Second, time.Millisecond)

	for _, r := range c.results {
		assert.True(t, r.Valid())
		assert.Equal(t, testParams.FrameBytes(), r.Size)
		assert.Equal(t, testParams.SamplesPerFrame, r.Samples)
		assert.False(t, r.EndFlag)
	}

	releaseAll(t, pool, c)
	require.NoError(t, d.Release())
	assert.True(t, pool.Stats().Balanced())
}

func TestDeviceStopFlagsLastRequest(t *testing.T) {
	t.Parallel()
	d, pool, c := newTestDevice(t, time.Hour)

	execN(t, d, pool, 4)
	d.Stop(StopNormal)
	require.Eventually(t, func() bool { n, _ := c.counts(); return n == 4 }, time.Second, time.Millisecond)

	for i, r := range c.results {
		assert.Equal(t, i == 3, r.EndFlag, "request %d", i)
	}
	releaseAll(t, pool, c)
	require.NoError(t, d.Release())
}

func TestDeviceStopIdleReportsInternalError(t *testing.T) {
	t.Parallel()
	d, _, c := newTestDevice(t, time.Hour)

	d.Stop(StopNormal)
	require.Eventually(t, func() bool { _, n := c.counts(); return n == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, ErrorInternal, c.errors[0].Type)
	require.NoError(t, d.Release())
}

func TestDeviceInternalErrorHaltsWithoutEndFlag(t *testing.T) {
	t.Parallel()
	d, pool, c := newTestDevice(t, time.Hour)

	execN(t, d, pool, 2)
	d.InjectError(ErrorInternal)
	require.Eventually(t, func() bool { _, n := c.counts(); return n == 1 }, time.Second, time.Millisecond)

	d.Stop(StopNormal)
	require.Eventually(t, func() bool { n, _ := c.counts(); return n == 2 }, time.Second, time.Millisecond)
	for _, r := range c.results {
		assert.False(t, r.EndFlag)
		assert.False(t, r.Valid())
	}
	releaseAll(t, pool, c)
	require.NoError(t, d.Release())
}

func TestDeviceErrors(t *testing.T) {
	t.Parallel()
	pool, err := memhandle.New(memhandle.PoolConfig{ID: 0, Size: 1024, NumSegs: 16})
	require.NoError(t, err)
	d := NewDevice(pool, SilenceSource{}, 0, nil)

	assert.ErrorIs(t, d.Acquire(types.InputI2S), ErrInvalidParam)
	assert.ErrorIs(t, d.Init(testParams, nil, nil), ErrNotAcquired)
	assert.ErrorIs(t, d.Exec(memhandle.Handle{}, 1), ErrNotInit)
	assert.ErrorIs(t, d.Release(), ErrNotAcquired)

	require.NoError(t, d.Acquire(types.InputMic))
	assert.ErrorIs(t, d.Init(Params{Channels: 1}, nil, nil), ErrInvalidParam)
	assert.ErrorIs(t, d.SetMicGain([]int{MaxMicGain + 1}), ErrInvalidParam)
	require.NoError(t, d.SetMicGain([]int{100, 0}))
	assert.Equal(t, []int{100, 0}, d.MicGain())
	require.NoError(t, d.Release())
}

func TestDeviceReleaseFreesQueued(t *testing.T) {
	t.Parallel()
	d, pool, _ := newTestDevice(t, time.Hour)
	execN(t, d, pool, 2)
	assert.Equal(t, 2, d.Queued())
	require.NoError(t, d.Release())
	assert.True(t, pool.Stats().Balanced())
}
