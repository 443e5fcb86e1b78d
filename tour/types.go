package tour

import (
	"time"

	"github.com/sable-inc/sable-smart-links-sub000/locator"
	"github.com/sable-inc/sable-smart-links-sub000/overlay"
	"github.com/sable-inc/sable-smart-links-sub000/trigger"
)

// Variant selects how progression works.
type Variant string

const (
	// Linear walks steps in insertion order.
	Linear Variant = "linear"
	// Branching follows named jumps and choices, and keeps a back history.
	Branching Variant = "branching"
)

// Tour is a registered step sequence.
type Tour struct {
	ID     string
	Steps  []Step
	Config Config
}

// Config is per-tour configuration.
type Config struct {
	Variant Variant `yaml:"variant" json:"variant,omitempty"`
	// AutoStart starts the tour when RequiredSelector is present and no tour
	// is running. An empty RequiredSelector counts as present.
	AutoStart bool `yaml:"auto_start" json:"autoStart,omitempty"`
	// AutoStartOnce limits auto-start to once per store (browser profile).
	AutoStartOnce bool `yaml:"auto_start_once" json:"autoStartOnce,omitempty"`
	// RequiredSelector must be present for the tour to auto-start. A running
	// tour whose selector disappears ends if nothing rendered yet, or at once
	// when EndWithoutSelector is set.
	RequiredSelector   string `yaml:"required_selector" json:"requiredSelector,omitempty"`
	EndWithoutSelector bool   `yaml:"end_without_selector" json:"endWithoutSelector,omitempty"`
	// Final is shown once after the last step.
	Final *overlay.Content `yaml:"final" json:"final,omitempty"`
	// OnComplete runs when an instance ends, completed or not.
	OnComplete func(Result) `yaml:"-" json:"-"`
}

// Target is what a step points at.
type Target struct {
	Selector       string         `yaml:"selector" json:"selector,omitempty"`
	WaitForElement bool           `yaml:"wait_for_element" json:"waitForElement,omitempty"`
	Timeout        time.Duration  `yaml:"timeout" json:"timeout,omitempty"`
	Finder         locator.Finder `yaml:"-" json:"-"`
}

func (t *Target) locator() locator.Target {
	if t == nil {
		return locator.Target{}
	}
	return locator.Target{Selector: t.Selector, Finder: t.Finder}
}

// Choice is a branching button jumping to Step.
type Choice struct {
	Label string `yaml:"label" json:"label"`
	Step  string `yaml:"step" json:"step"`
}

// Step is one unit of guidance. Steps are values; the engine never mutates
// a registered step.
type Step struct {
	ID      string       `yaml:"id" json:"id"`
	Target  *Target      `yaml:"target" json:"target,omitempty"`
	Trigger trigger.Spec `yaml:"trigger" json:"trigger,omitempty"`
	Action  *Action      `yaml:"action" json:"action,omitempty"`
	// AutoAdvance calls Next this long after the step is shown.
	AutoAdvance time.Duration `yaml:"auto_advance" json:"autoAdvance,omitempty"`
	// Condition is a boolean expression over Env; false skips the step.
	Condition string `yaml:"condition" json:"condition,omitempty"`
	// When is a Go predicate evaluated after Condition.
	When            func(Env) bool  `yaml:"-" json:"-"`
	ContinueOnError bool            `yaml:"continue_on_error" json:"continueOnError,omitempty"`
	Overlay         overlay.Content `yaml:"overlay" json:"overlay"`
	// Next names the step that follows in a Branching tour.
	Next    string   `yaml:"next" json:"next,omitempty"`
	Choices []Choice `yaml:"choices" json:"choices,omitempty"`
}

// StartOptions for Start and Restart.
type StartOptions struct {
	// StepID to start from; unknown or empty starts at the first step.
	StepID string `json:"stepId,omitempty"`
	// SkipTrigger shows the first step without waiting for its trigger.
	SkipTrigger bool `json:"skipTrigger,omitempty"`
}

// Status is the externally visible engine state.
type Status struct {
	Running    bool            `json:"running"`
	TourID     string          `json:"tourId,omitempty"`
	InstanceID string          `json:"instanceId,omitempty"`
	StepID     string          `json:"stepId,omitempty"`
	StepIndex  int             `json:"stepIndex"`
	StepCount  int             `json:"stepCount,omitempty"`
	Rendered   bool            `json:"rendered,omitempty"`
	FinalShown bool            `json:"finalShown,omitempty"`
	FinalOpen  bool            `json:"finalOpen,omitempty"`
	HasOverlay bool            `json:"hasOverlay"`
	StartedAt  time.Time       `json:"startedAt,omitzero"`
	Content    overlay.Content `json:"content,omitzero"`
}

// Result is passed to Config.OnComplete.
type Result struct {
	TourID     string
	InstanceID string
	Completed  bool
	StepIndex  int
	Duration   time.Duration
	Reason     string
}

// instance is the runtime state of one run of a tour.
type instance struct {
	tour       *registration
	id         string
	index      int
	startedAt  time.Time
	shown      map[string]time.Time
	lastShown  time.Time
	rendered   bool
	finalShown bool
	finalOpen  bool
	history    []int
}
