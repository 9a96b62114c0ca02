// Package resource implements the ResourceMonitor (C5): sampled
// CPU/memory/GPU pressure and the two-level back-pressure state machine
// (spec.md §4.3). Grounded directly on
// balancer/catabalancer/sysstats.go's GetSystemUsage, which already samples
// cpu.Percent/mem.VirtualMemory via gopsutil/v3; generalized from a single
// snapshot read into a periodic sampler with hysteresis and an event feed.
package resource

import (
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// State is the three-valued back-pressure aggregate (spec.md §9: "resource
// signal plural, state singular").
type State string

const (
	StateNormal  State = "normal"
	StateWarning State = "warning"
	StatePause   State = "pause"
)

// Sample is one reading of the monitored signals.
type Sample struct {
	CPUPercent       float64
	MemoryPercent    float64
	MemoryAvailable  uint64
	GPUMemoryPercent float64
	HasGPU           bool
	At               time.Time
}

// Thresholds configures the pause/warning cutoffs (resource.memory.{warn,pause},
// resource.gpu.{warn,pause}, spec.md §6). CPU and memory share one pair of
// thresholds by default per spec.md §4.3; GPU has its own.
type Thresholds struct {
	WarnPercent  float64
	PausePercent float64
}

func DefaultThresholds() Thresholds {
	return Thresholds{WarnPercent: 80, PausePercent: 95}
}

// Sampler abstracts the system-stats read so tests can inject synthetic
// samples without touching the real machine (spec.md §7: "sampling errors
// degrade gracefully: missing signals are treated as 0").
type Sampler interface {
	Sample() (Sample, error)
}

// GopsutilSampler is the production Sampler, grounded on
// balancer/catabalancer/sysstats.go's GetSystemUsage.
type GopsutilSampler struct {
	// GPUPercent optionally supplies a GPU pressure reading (e.g. via NVML);
	// left nil when no GPU is present, matching the Python original's
	// try/except around pynvml import (SPEC_FULL.md §9).
	GPUPercent func() (float64, bool, error)
}

func (s GopsutilSampler) Sample() (Sample, error) {
	var out Sample
	out.At = time.Now()

	cpuPercents, err := cpu.Percent(0, false)
	if err != nil {
		return out, err
	}
	if len(cpuPercents) > 0 {
		out.CPUPercent = cpuPercents[0]
	}

	vmStat, err := mem.VirtualMemory()
	if err != nil {
		return out, err
	}
	out.MemoryPercent = vmStat.UsedPercent
	out.MemoryAvailable = vmStat.Available

	if s.GPUPercent != nil {
		if pct, ok, gerr := s.GPUPercent(); gerr == nil && ok {
			out.GPUMemoryPercent = pct
			out.HasGPU = true
		}
	}
	return out, nil
}

// StateChange is published whenever State transitions.
type StateChange struct {
	From      State
	To        State
	Sample    Sample
	Triggers  []string // which signal(s) caused the change, carried in the event per spec.md §9
	At        time.Time
}

// Monitor samples at a fixed interval and derives State with hysteresis
// (spec.md §4.3): once in warning/pause, State only returns to normal when
// every signal is <= warn - 5%.
type Monitor struct {
	sampler    Sampler
	interval   time.Duration
	thresholds Thresholds
	gpuThresh  Thresholds

	mu      sync.RWMutex
	state   State
	last    Sample
	history []StateChange

	subMu       sync.Mutex
	subscribers map[int]chan StateChange
	nextSubID   int

	stopCh chan struct{}
	doneCh chan struct{}
}

const defaultSampleInterval = 5 * time.Second
const historyCap = 64
const hysteresisMargin = 5.0

func New(sampler Sampler) *Monitor {
	return &Monitor{
		sampler:     sampler,
		interval:    defaultSampleInterval,
		thresholds:  DefaultThresholds(),
		gpuThresh:   DefaultThresholds(),
		state:       StateNormal,
		subscribers: make(map[int]chan StateChange),
	}
}

func (m *Monitor) WithInterval(d time.Duration) *Monitor {
	m.interval = d
	return m
}

func (m *Monitor) WithThresholds(cpuMem, gpu Thresholds) *Monitor {
	m.thresholds = cpuMem
	m.gpuThresh = gpu
	return m
}

// Start begins periodic sampling in a background goroutine. Stop must be
// called to release it.
func (m *Monitor) Start() {
	m.stopCh = make(chan struct{})
	m.doneCh = make(chan struct{})
	go func() {
		defer close(m.doneCh)
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-m.stopCh:
				return
			case <-ticker.C:
				m.sampleOnce()
			}
		}
	}()
}

func (m *Monitor) Stop() {
	if m.stopCh == nil {
		return
	}
	close(m.stopCh)
	<-m.doneCh
}

// SampleOnce performs one sample+state-transition cycle; exported for tests
// and for callers that want synchronous control instead of Start's ticker.
func (m *Monitor) SampleOnce() {
	m.sampleOnce()
}

func (m *Monitor) sampleOnce() {
	sample, err := m.sampler.Sample()
	if err != nil {
		// A failed sample is dropped whole: state and the last sample stay as
		// they were and no state change is emitted. Missing signals are not
		// filled in as 0.
		return
	}
	m.applySample(sample)
}

func (m *Monitor) applySample(sample Sample) {
	m.mu.Lock()
	prev := m.state
	next, triggers := deriveState(sample, prev, m.thresholds, m.gpuThresh)
	m.last = sample
	m.state = next
	if next != prev {
		m.history = append(m.history, StateChange{From: prev, To: next, Sample: sample, Triggers: triggers, At: sample.At})
		if len(m.history) > historyCap {
			m.history = m.history[len(m.history)-historyCap:]
		}
	}
	changed := next != prev
	var change StateChange
	if changed {
		change = m.history[len(m.history)-1]
	}
	m.mu.Unlock()

	if changed {
		m.publish(change)
	}
}

func deriveState(s Sample, prev State, cpuMem, gpu Thresholds) (State, []string) {
	var triggers []string

	pause := false
	warn := false

	if s.CPUPercent >= cpuMem.PausePercent {
		pause = true
		triggers = append(triggers, "cpu")
	} else if s.CPUPercent >= cpuMem.WarnPercent {
		warn = true
		triggers = append(triggers, "cpu")
	}
	if s.MemoryPercent >= cpuMem.PausePercent {
		pause = true
		triggers = append(triggers, "memory")
	} else if s.MemoryPercent >= cpuMem.WarnPercent {
		warn = true
		triggers = append(triggers, "memory")
	}
	if s.HasGPU {
		if s.GPUMemoryPercent >= gpu.PausePercent {
			pause = true
			triggers = append(triggers, "gpu")
		} else if s.GPUMemoryPercent >= gpu.WarnPercent {
			warn = true
			triggers = append(triggers, "gpu")
		}
	}

	if pause {
		return StatePause, triggers
	}

	if prev == StateNormal {
		if warn {
			return StateWarning, triggers
		}
		return StateNormal, nil
	}

	// Hysteresis: once warning/pause, only drop back to normal once every
	// signal is <= warn - margin.
	allBelowRecovery := s.CPUPercent <= cpuMem.WarnPercent-hysteresisMargin &&
		s.MemoryPercent <= cpuMem.WarnPercent-hysteresisMargin &&
		(!s.HasGPU || s.GPUMemoryPercent <= gpu.WarnPercent-hysteresisMargin)

	if allBelowRecovery {
		return StateNormal, nil
	}
	if warn {
		return StateWarning, triggers
	}
	return StateWarning, triggers
}

// State returns the current back-pressure state.
func (m *Monitor) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Last returns the most recent sample.
func (m *Monitor) Last() Sample {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.last
}

// History returns a copy of recent state-change events (ring-buffer, spec.md §4.3).
func (m *Monitor) History() []StateChange {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]StateChange, len(m.history))
	copy(out, m.history)
	return out
}

func (m *Monitor) Subscribe(buffer int) (<-chan StateChange, func()) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	id := m.nextSubID
	m.nextSubID++
	ch := make(chan StateChange, buffer)
	m.subscribers[id] = ch
	return ch, func() {
		m.subMu.Lock()
		defer m.subMu.Unlock()
		if c, ok := m.subscribers[id]; ok {
			delete(m.subscribers, id)
			close(c)
		}
	}
}

func (m *Monitor) publish(ev StateChange) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	for _, ch := range m.subscribers {
		select {
		case ch <- ev:
		default:
		}
	}
}
