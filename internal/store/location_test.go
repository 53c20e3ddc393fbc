package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"lifeline-sync/internal/sensor"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeSource 测试用位置传感器，记录回调以便手动触发样本
type fakeSource struct {
	mu       sync.Mutex
	watches  []*fakeWatch
	onSample sensor.SampleFunc
	onError  sensor.ErrorFunc
	watchErr error
}

func (f *fakeSource) Watch(opts sensor.WatchOptions, onSample sensor.SampleFunc, onError sensor.ErrorFunc) (sensor.Watch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.watchErr != nil {
		return nil, f.watchErr
	}
	f.onSample = onSample
	f.onError = onError
	w := &fakeWatch{}
	f.watches = append(f.watches, w)
	return w, nil
}

func (f *fakeSource) watchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.watches)
}

// openWatches 尚未关闭的 watch 数
func (f *fakeSource) openWatches() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	open := 0
	for _, w := range f.watches {
		if !w.isClosed() {
			open++
		}
	}
	return open
}

func (f *fakeSource) lastWatch() *fakeWatch {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.watches[len(f.watches)-1]
}

type fakeWatch struct {
	mu     sync.Mutex
	closed int
}

func (w *fakeWatch) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed++
	return nil
}

func (w *fakeWatch) isClosed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closed > 0
}

func TestStartTracking_NoSensorSource(t *testing.T) {
	store := NewLocationStore(nil, nil, sensor.WatchOptions{}, zap.NewNop())

	err := store.StartTracking(context.Background(), "user-1")
	assert.ErrorIs(t, err, ErrUnsupportedEnvironment)
	assert.False(t, store.Tracking())
	assert.ErrorIs(t, store.Err(), ErrUnsupportedEnvironment)
}

func TestStartTracking_Success(t *testing.T) {
	source := &fakeSource{}
	store := NewLocationStore(source, nil, sensor.WatchOptions{HighAccuracy: true}, zap.NewNop())

	require.NoError(t, store.StartTracking(context.Background(), "user-1"))
	assert.True(t, store.Tracking())
	assert.Equal(t, 1, source.watchCount())

	// 已在定位中，重复启动为空操作
	require.NoError(t, store.StartTracking(context.Background(), "user-1"))
	assert.Equal(t, 1, source.watchCount())
}

func TestStartTracking_ConcurrentStartsKeepOneWatch(t *testing.T) {
	source := &fakeSource{}
	store := NewLocationStore(source, nil, sensor.WatchOptions{}, zap.NewNop())

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = store.StartTracking(context.Background(), "user-1")
		}()
	}
	wg.Wait()

	// 并发启动只保留一个 watch，竞争失败方的句柄被关闭
	assert.True(t, store.Tracking())
	assert.Equal(t, 1, source.openWatches())

	require.NoError(t, store.StopTracking())
	assert.Equal(t, 0, source.openWatches())
}

func TestStartTracking_WatchError(t *testing.T) {
	watchErr := errors.New("broker unavailable")
	source := &fakeSource{watchErr: watchErr}
	store := NewLocationStore(source, nil, sensor.WatchOptions{}, zap.NewNop())

	err := store.StartTracking(context.Background(), "user-1")
	assert.ErrorIs(t, err, watchErr)
	assert.False(t, store.Tracking())
}

func TestStopTracking_ClosesWatch(t *testing.T) {
	source := &fakeSource{}
	store := NewLocationStore(source, nil, sensor.WatchOptions{}, zap.NewNop())

	require.NoError(t, store.StartTracking(context.Background(), "user-1"))
	require.NoError(t, store.StopTracking())

	assert.False(t, store.Tracking())
	assert.True(t, source.lastWatch().isClosed())
}

func TestStopTracking_NoopWhenStopped(t *testing.T) {
	store := NewLocationStore(&fakeSource{}, nil, sensor.WatchOptions{}, zap.NewNop())

	// 未在定位中直接返回
	require.NoError(t, store.StopTracking())
	assert.Nil(t, store.Err())
}

func TestSamples_LastCallbackWins(t *testing.T) {
	source := &fakeSource{}
	// userID 为空：只维护本地状态，不触发远端写入
	store := NewLocationStore(source, nil, sensor.WatchOptions{}, zap.NewNop())

	require.NoError(t, store.StartTracking(context.Background(), ""))

	now := time.Now()
	source.onSample(sensor.Sample{Latitude: 37.0, Longitude: -122.0, Timestamp: now})
	source.onSample(sensor.Sample{Latitude: 37.1, Longitude: -122.1, Timestamp: now.Add(time.Second)})

	loc := store.Current()
	require.NotNil(t, loc)
	assert.Equal(t, 37.1, loc.Latitude)
	assert.Equal(t, -122.1, loc.Longitude)
}

func TestSensorError_DoesNotStopTracking(t *testing.T) {
	source := &fakeSource{}
	store := NewLocationStore(source, nil, sensor.WatchOptions{}, zap.NewNop())

	require.NoError(t, store.StartTracking(context.Background(), ""))

	sensorErr := errors.New("position timeout")
	source.onError(sensorErr)

	// 错误只记录，定位继续
	assert.True(t, store.Tracking())
	assert.ErrorIs(t, store.Err(), sensorErr)

	source.onSample(sensor.Sample{Latitude: 1.0, Longitude: 2.0, Timestamp: time.Now()})
	require.NotNil(t, store.Current())
	assert.Nil(t, store.Err())
}

func TestCurrent_NilBeforeFirstSample(t *testing.T) {
	store := NewLocationStore(&fakeSource{}, nil, sensor.WatchOptions{}, zap.NewNop())
	assert.Nil(t, store.Current())
}
