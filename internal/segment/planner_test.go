package segment

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeProber struct{ d time.Duration }

func (f fakeProber) Duration(ctx context.Context, path string) (time.Duration, error) {
	return f.d, nil
}

type fakeScenes struct {
	boundaries []SceneBoundary
	err        error
}

func (f fakeScenes) DetectScenes(ctx context.Context, path string, threshold float64) ([]SceneBoundary, error) {
	return f.boundaries, f.err
}

func TestShortVideoYieldsSingleFullSegment(t *testing.T) {
	cfg := DefaultConfig()
	p := New(cfg, fakeProber{d: 4 * time.Second}, nil)
	segs, err := p.Plan(context.Background(), "clip.mp4", "clip.mp4")
	require.NoError(t, err)
	require.Len(t, segs, 1)
	require.True(t, segs[0].IsFullVideo)
	require.Equal(t, 4*time.Second, segs[0].EndTime)
}

func TestLongVideoWithoutSceneDetectorUsesTimeSlicing(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SceneDetectEnabled = false
	p := New(cfg, fakeProber{d: 12 * time.Second}, nil)
	segs, err := p.Plan(context.Background(), "clip.mp4", "clip.mp4")
	require.NoError(t, err)
	require.Greater(t, len(segs), 1)
	for _, s := range segs {
		require.LessOrEqual(t, s.Duration(), cfg.MaxSegmentDuration)
	}
}

func TestSceneDetectionFailureFallsBackToTimeSlicing(t *testing.T) {
	cfg := DefaultConfig()
	p := New(cfg, fakeProber{d: 20 * time.Second}, fakeScenes{err: context.DeadlineExceeded})
	segs, err := p.Plan(context.Background(), "clip.mp4", "clip.mp4")
	require.NoError(t, err)
	require.Greater(t, len(segs), 1)
	for _, s := range segs {
		require.False(t, s.IsSceneBased)
	}
}

func TestSceneLongerThanMaxIsSplit(t *testing.T) {
	cfg := DefaultConfig()
	boundaries := []SceneBoundary{{Start: 0, End: 12 * time.Second}}
	p := New(cfg, fakeProber{d: 12 * time.Second}, fakeScenes{boundaries: boundaries})
	segs, err := p.Plan(context.Background(), "clip.mp4", "clip.mp4")
	require.NoError(t, err)
	require.Greater(t, len(segs), 1)
	var total time.Duration
	for _, s := range segs {
		require.LessOrEqual(t, s.Duration(), cfg.MaxSegmentDuration)
		total += s.Duration()
	}
	require.Equal(t, 12*time.Second, total)
}

func TestShortScenesAreMergedBeforeSplitting(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SceneDetectMinDuration = 2 * time.Second
	boundaries := []SceneBoundary{
		{Start: 0, End: 1 * time.Second},
		{Start: 1 * time.Second, End: 2 * time.Second},
		{Start: 2 * time.Second, End: 10 * time.Second},
	}
	p := New(cfg, fakeProber{d: 10 * time.Second}, fakeScenes{boundaries: boundaries})
	segs, err := p.Plan(context.Background(), "clip.mp4", "clip.mp4")
	require.NoError(t, err)
	require.NotEmpty(t, segs)
	require.Equal(t, time.Duration(0), segs[0].StartTime)
}

func TestTimestampMapCoversRangeAtPrecision(t *testing.T) {
	cfg := DefaultConfig()
	p := New(cfg, fakeProber{d: time.Second}, nil)
	m := p.timestampMap(0, time.Second)
	require.NotEmpty(t, m)
}
