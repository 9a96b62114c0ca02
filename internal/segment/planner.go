// Package segment implements the VideoSegmentPlanner (C12): decides the set
// of time-ranged segments a video is cut into before per-segment embedding,
// and produces a sampled timestamp map for each (spec.md §4.10). Grounded on
// original_source/src/core/task/video_segment_manager.py's segment_video
// (short-video full-segment cutoff, scene-based-with-time-fallback planning,
// merge-short-then-split-long ordering) and on video/probe.go's
// ffprobe.v2 + cenkalti/backoff retry pattern for duration probing.
package segment

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	ffprobe "gopkg.in/vansante/go-ffprobe.v2"
)

// Config mirrors video.segment.* keys (spec.md §6), grounded on
// VideoSegmentConfig's field set in video_segment_manager.py.
type Config struct {
	MaxSegmentDuration     time.Duration
	MinSegmentDuration     time.Duration
	ShortVideoThreshold    time.Duration
	TimestampPrecision     time.Duration
	SceneDetectEnabled     bool
	SceneDetectThreshold   float64
	SceneDetectMinDuration time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxSegmentDuration:     5 * time.Second,
		MinSegmentDuration:     500 * time.Millisecond,
		ShortVideoThreshold:    6 * time.Second,
		TimestampPrecision:     100 * time.Millisecond,
		SceneDetectEnabled:     true,
		SceneDetectThreshold:   0.3,
		SceneDetectMinDuration: time.Second,
	}
}

// Segment is one planned slice of the source video.
type Segment struct {
	ID           string
	StartTime    time.Duration
	EndTime      time.Duration
	IsFullVideo  bool
	IsSceneBased bool
	SceneIndex   int
	TimestampMap map[string]time.Duration
}

func (s Segment) Duration() time.Duration { return s.EndTime - s.StartTime }

// DurationProber abstracts getting a video's duration so tests don't need a
// real ffprobe binary; FFProbeDurationProber below is the production implementation.
type DurationProber interface {
	Duration(ctx context.Context, path string) (time.Duration, error)
}

// SceneDetector abstracts scene-boundary detection; implementations normally
// shell out to ffmpeg's scene_detect filter (as the Python original does).
// Returning an error triggers the time-based fallback, matching
// _scene_based_segmentation's "scene detection failed, fallback to time
// slicing" behavior.
type SceneDetector interface {
	DetectScenes(ctx context.Context, path string, threshold float64) ([]SceneBoundary, error)
}

type SceneBoundary struct {
	Start, End time.Duration
}

// FFProbeDurationProber is the production DurationProber, grounded on
// video/probe.go's runProbe: ffprobe.ProbeURL wrapped in an exponential
// backoff retry so a transient ffprobe hiccup doesn't fail the whole plan.
type FFProbeDurationProber struct{}

func (FFProbeDurationProber) Duration(ctx context.Context, path string) (time.Duration, error) {
	var data *ffprobe.ProbeData
	operation := func() error {
		probeCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
		defer cancel()
		var err error
		data, err = ffprobe.ProbeURL(probeCtx, path, "-loglevel", "error")
		return err
	}
	backOff := backoff.NewExponentialBackOff()
	backOff.InitialInterval = 500 * time.Millisecond
	backOff.MaxInterval = 2 * time.Second
	backOff.MaxElapsedTime = 0
	if err := backoff.Retry(operation, backoff.WithMaxRetries(backOff, 3)); err != nil {
		return 0, fmt.Errorf("error probing video duration: %w", err)
	}
	if data.Format == nil {
		return 0, fmt.Errorf("error probing video duration: no format data for %s", path)
	}
	return data.Format.Duration(), nil
}

// Planner implements segment_video (spec.md §4.10).
type Planner struct {
	cfg     Config
	prober  DurationProber
	scenes  SceneDetector
}

func New(cfg Config, prober DurationProber, scenes SceneDetector) *Planner {
	return &Planner{cfg: cfg, prober: prober, scenes: scenes}
}

// Plan computes the segment list for path. basename is used to derive
// human-readable segment ids, matching os.path.basename(video_path) in the
// original.
func (p *Planner) Plan(ctx context.Context, path, basename string) ([]Segment, error) {
	dur, err := p.prober.Duration(ctx, path)
	if err != nil {
		return nil, err
	}

	if dur <= p.cfg.ShortVideoThreshold {
		return []Segment{{
			ID:           "full_" + basename,
			StartTime:    0,
			EndTime:      dur,
			IsFullVideo:  true,
			TimestampMap: p.timestampMap(0, dur),
		}}, nil
	}

	if p.cfg.SceneDetectEnabled && p.scenes != nil {
		boundaries, err := p.scenes.DetectScenes(ctx, path, p.cfg.SceneDetectThreshold)
		if err == nil && len(boundaries) > 0 {
			return p.planFromScenes(boundaries, basename), nil
		}
		// Fall back to time slicing on detector failure, matching the
		// Python original's try/except around ffmpeg scene_detect.
	}

	return p.planByTime(dur, basename), nil
}

// planFromScenes realizes segments from detected scene boundaries, merging
// scenes shorter than SceneDetectMinDuration into their neighbor and
// splitting scenes longer than MaxSegmentDuration by time. Order matters:
// the Python original always merges-short-then-splits-long, never the
// reverse, since splitting first could re-fragment a scene that would
// otherwise have merged into its neighbor above the minimum.
func (p *Planner) planFromScenes(boundaries []SceneBoundary, basename string) []Segment {
	merged := mergeShortScenes(boundaries, p.cfg.SceneDetectMinDuration)

	var out []Segment
	for i, b := range merged {
		if b.End-b.Start > p.cfg.MaxSegmentDuration {
			out = append(out, p.splitLong(b, basename, i)...)
			continue
		}
		out = append(out, Segment{
			ID:           fmt.Sprintf("scene_%04d_%s", i, basename),
			StartTime:    b.Start,
			EndTime:      b.End,
			IsSceneBased: true,
			SceneIndex:   i,
			TimestampMap: p.timestampMap(b.Start, b.End),
		})
	}
	return out
}

func mergeShortScenes(boundaries []SceneBoundary, minDuration time.Duration) []SceneBoundary {
	if len(boundaries) == 0 {
		return nil
	}
	merged := []SceneBoundary{boundaries[0]}
	for _, b := range boundaries[1:] {
		last := &merged[len(merged)-1]
		if last.End-last.Start < minDuration {
			last.End = b.End
			continue
		}
		merged = append(merged, b)
	}
	return merged
}

func (p *Planner) splitLong(b SceneBoundary, basename string, sceneIndex int) []Segment {
	var out []Segment
	cur := b.Start
	idx := 0
	for cur < b.End {
		end := cur + p.cfg.MaxSegmentDuration
		if end > b.End {
			end = b.End
		}
		out = append(out, Segment{
			ID:           fmt.Sprintf("scene_%04d_split_%04d_%s", sceneIndex, idx, basename),
			StartTime:    cur,
			EndTime:      end,
			IsSceneBased: true,
			SceneIndex:   sceneIndex,
			TimestampMap: p.timestampMap(cur, end),
		})
		cur = end
		idx++
	}
	return out
}

// planByTime implements time-based segmentation (spec.md §4.7): contiguous
// max_duration windows, with the final tail folded into the previous
// segment when it falls below min_duration rather than emitted standalone.
func (p *Planner) planByTime(dur time.Duration, basename string) []Segment {
	var out []Segment
	cur := time.Duration(0)
	idx := 0
	for cur < dur {
		end := cur + p.cfg.MaxSegmentDuration
		if end > dur {
			end = dur
		}
		out = append(out, Segment{
			ID:           fmt.Sprintf("time_%04d_%s", idx, basename),
			StartTime:    cur,
			EndTime:      end,
			IsSceneBased: false,
			SceneIndex:   idx,
			TimestampMap: p.timestampMap(cur, end),
		})
		cur = end
		idx++
	}

	if len(out) > 1 {
		last := &out[len(out)-1]
		if last.Duration() < p.cfg.MinSegmentDuration {
			prev := &out[len(out)-2]
			prev.EndTime = last.EndTime
			prev.TimestampMap = p.timestampMap(prev.StartTime, prev.EndTime)
			out = out[:len(out)-1]
		}
	}
	return out
}

// timestampMap generates the sampled frame_<n> -> timestamp lookup used for
// precise time positioning downstream (spec.md §4.10), matching
// _generate_timestamp_map's fixed-precision stepping.
func (p *Planner) timestampMap(start, end time.Duration) map[string]time.Duration {
	out := make(map[string]time.Duration)
	if p.cfg.TimestampPrecision <= 0 {
		return out
	}
	for t := start; t <= end; t += p.cfg.TimestampPrecision {
		key := fmt.Sprintf("frame_%d", t.Milliseconds()/100)
		out[key] = t
	}
	return out
}
