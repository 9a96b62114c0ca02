package resource

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeSampler struct {
	samples []Sample
	errs    []error
	i       int
}

func (f *fakeSampler) Sample() (Sample, error) {
	idx := f.i
	if idx >= len(f.samples) {
		idx = len(f.samples) - 1
	}
	f.i++
	var err error
	if idx < len(f.errs) {
		err = f.errs[idx]
	}
	return f.samples[idx], err
}

func TestStateStartsNormal(t *testing.T) {
	m := New(&fakeSampler{samples: []Sample{{CPUPercent: 10, MemoryPercent: 10}}})
	require.Equal(t, StateNormal, m.State())
}

func TestSampleCrossingWarnEntersWarning(t *testing.T) {
	m := New(&fakeSampler{samples: []Sample{{CPUPercent: 85, MemoryPercent: 10}}})
	m.SampleOnce()
	require.Equal(t, StateWarning, m.State())
}

func TestSampleCrossingPauseEntersPause(t *testing.T) {
	m := New(&fakeSampler{samples: []Sample{{CPUPercent: 10, MemoryPercent: 97}}})
	m.SampleOnce()
	require.Equal(t, StatePause, m.State())
}

func TestHysteresisKeepsWarningUntilBelowMargin(t *testing.T) {
	sampler := &fakeSampler{samples: []Sample{
		{CPUPercent: 85, MemoryPercent: 10}, // -> warning
		{CPUPercent: 78, MemoryPercent: 10}, // still above warn-margin(75) -> stays warning
		{CPUPercent: 70, MemoryPercent: 10}, // below warn-margin -> normal
	}}
	m := New(sampler)
	m.SampleOnce()
	require.Equal(t, StateWarning, m.State())
	m.SampleOnce()
	require.Equal(t, StateWarning, m.State())
	m.SampleOnce()
	require.Equal(t, StateNormal, m.State())
}

func TestGPUSignalContributesToPause(t *testing.T) {
	sampler := &fakeSampler{samples: []Sample{{CPUPercent: 10, MemoryPercent: 10, HasGPU: true, GPUMemoryPercent: 99}}}
	m := New(sampler)
	m.SampleOnce()
	require.Equal(t, StatePause, m.State())
}

func TestSamplingErrorLeavesStateUnchanged(t *testing.T) {
	sampler := &fakeSampler{
		samples: []Sample{{CPUPercent: 10, MemoryPercent: 10}},
		errs:    []error{errors.New("boom")},
	}
	m := New(sampler)
	m.SampleOnce()
	require.Equal(t, StateNormal, m.State())
}

func TestStateChangePublishedToSubscribers(t *testing.T) {
	sampler := &fakeSampler{samples: []Sample{{CPUPercent: 96, MemoryPercent: 10}}}
	m := New(sampler)
	ch, unsub := m.Subscribe(4)
	defer unsub()

	m.SampleOnce()

	select {
	case ev := <-ch:
		require.Equal(t, StateNormal, ev.From)
		require.Equal(t, StatePause, ev.To)
		require.Contains(t, ev.Triggers, "cpu")
	case <-time.After(time.Second):
		t.Fatal("expected state change event")
	}
}

func TestHistoryRecordsTransitions(t *testing.T) {
	sampler := &fakeSampler{samples: []Sample{
		{CPUPercent: 85, MemoryPercent: 10},
		{CPUPercent: 10, MemoryPercent: 10},
	}}
	m := New(sampler)
	m.SampleOnce()
	m.SampleOnce()
	hist := m.History()
	require.Len(t, hist, 2)
	require.Equal(t, StateWarning, hist[0].To)
	require.Equal(t, StateNormal, hist[1].To)
}
