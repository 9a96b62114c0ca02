package task

import (
	"time"

	"github.com/google/uuid"
)

// GroupView is the read-only lookup a PriorityCalculator uses to decide
// whether a task is a pipeline continuation (spec.md §4.1, continuity_bonus).
// It is passed in explicitly rather than captured as ambient state, keeping
// the calculator a pure function of its arguments (spec.md §9 Open Question 2).
type GroupView interface {
	// HasCompletedPipelineTask reports whether the group for fileID has at
	// least one pipeline task already in StatusCompleted.
	HasCompletedPipelineTask(fileID uuid.UUID) bool
}

// Defaults for the wait-compensation and continuity-bonus terms (spec.md §4.1,
// §6 config table: priority.wait.{interval,step,max}, priority.continuity_bonus).
const (
	DefaultWaitInterval     = 60
	DefaultWaitStep         = 1
	DefaultMaxWait          = 999
	DefaultContinuityBonus  = -20
)

// PriorityTables holds the base_priority and type_priority lookup tables from
// spec.md §4.1. They are mutable at runtime via SetBasePriority, matching
// the Python original's update_base_priority/get_base_priority (see
// SPEC_FULL.md §9 Supplemented Features).
type PriorityTables struct {
	Base map[Type]int
	Type map[Type]int
}

// DefaultPriorityTables returns the tiering from spec.md §4.1's tables.
func DefaultPriorityTables() PriorityTables {
	return PriorityTables{
		Base: map[Type]int{
			TypePreprocessImage: 1,
			TypePreprocessVideo: 1,
			TypePreprocessAudio: 1,
			TypeEmbedImage:      1,
			TypeEmbedVideo:      1,
			TypeEmbedAudio:      1,
			TypeSegmentVideo:    3,
			TypeScanFile:        3,
			TypeGenerateThumb:   2,
			TypeGeneratePreview: 2,
		},
		Type: map[Type]int{
			TypeEmbedImage:      1,
			TypeEmbedVideo:      2,
			TypeEmbedAudio:      3,
			TypePreprocessImage: 4,
			TypePreprocessVideo: 4,
			TypePreprocessAudio: 4,
			TypeSegmentVideo:    2,
			TypeScanFile:        3,
			TypeGenerateThumb:   5,
			TypeGeneratePreview: 6,
		},
	}
}

const defaultTier = 5

func (t PriorityTables) base(typ Type) int {
	if v, ok := t.Base[typ]; ok {
		return v
	}
	return defaultTier
}

func (t PriorityTables) typeTier(typ Type) int {
	if v, ok := t.Type[typ]; ok {
		return v
	}
	return defaultTier
}

// SetBasePriority overrides the base_priority tier for a task type at
// runtime, without requiring a process restart.
func (t *PriorityTables) SetBasePriority(typ Type, value int) {
	if t.Base == nil {
		t.Base = map[Type]int{}
	}
	t.Base[typ] = value
}

// GetBasePriority returns the current base_priority tier for a task type.
func (t PriorityTables) GetBasePriority(typ Type) int {
	return t.base(typ)
}

// PriorityCalculator is a deterministic, stateless function task+context -> int
// as specified in spec.md §4.1. Tables are the only configuration state and
// may be tuned at runtime (see SetBasePriority).
type PriorityCalculator struct {
	Tables         PriorityTables
	WaitInterval   int
	WaitStep       int
	MaxWait        int
	ContinuityBonus int
}

// NewPriorityCalculator builds a calculator with spec.md §4.1 defaults.
func NewPriorityCalculator() *PriorityCalculator {
	return &PriorityCalculator{
		Tables:          DefaultPriorityTables(),
		WaitInterval:    DefaultWaitInterval,
		WaitStep:        DefaultWaitStep,
		MaxWait:         DefaultMaxWait,
		ContinuityBonus: DefaultContinuityBonus,
	}
}

// Breakdown is the per-component detail behind a calculated priority
// (SPEC_FULL.md §9). It is returned by Explain; the orchestrator's Stats
// does not use it.
type Breakdown struct {
	TaskType          Type
	BasePriority      int
	FilePriority      int
	TypePriority      int
	WaitCompensation  int
	ContinuityBonus   int
	CalculatedPriority int
}

// Calculate computes the scheduling key for a task at the given instant.
// Smaller is more urgent. Wait compensation is subtracted, so a longer wait
// never raises the key. now must be monotonic with respect to task
// creation for the P1 monotonicity property to hold.
func (c *PriorityCalculator) Calculate(t *Task, now time.Time, groups GroupView) int {
	return c.Explain(t, now, groups).CalculatedPriority
}

// Explain returns the full component breakdown behind Calculate's result.
func (c *PriorityCalculator) Explain(t *Task, now time.Time, groups GroupView) Breakdown {
	base := c.Tables.base(t.Type)
	typeTier := c.Tables.typeTier(t.Type)
	wait := c.waitCompensation(t, now)
	continuity := c.continuityBonus(t, groups)

	final := base*1000 + t.FilePriority*100 + typeTier*10 - wait + continuity

	return Breakdown{
		TaskType:           t.Type,
		BasePriority:       base,
		FilePriority:       t.FilePriority,
		TypePriority:       typeTier,
		WaitCompensation:   wait,
		ContinuityBonus:    continuity,
		CalculatedPriority: final,
	}
}

func (c *PriorityCalculator) waitCompensation(t *Task, now time.Time) int {
	if t.Timestamps.CreatedAt.IsZero() {
		return 0
	}
	interval := c.WaitInterval
	if interval <= 0 {
		interval = DefaultWaitInterval
	}
	delta := now.Sub(t.Timestamps.CreatedAt).Seconds()
	if delta < 0 {
		delta = 0
	}
	steps := int(delta) / interval
	comp := steps * c.WaitStep
	if comp > c.MaxWait {
		comp = c.MaxWait
	}
	return comp
}

func (c *PriorityCalculator) continuityBonus(t *Task, groups GroupView) int {
	if !t.IsPipeline() || !t.HasFileID || groups == nil {
		return 0
	}
	if groups.HasCompletedPipelineTask(t.FileID) {
		return c.ContinuityBonus
	}
	return 0
}
