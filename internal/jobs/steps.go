package jobs

import (
	"context"
	"fmt"
)

// Step is one stage of the generation pipeline. The zero value is not a step.
type Step uint8

const (
	StepResearch Step = iota + 1
	StepFramework
	StepOutline
	StepChapters
	StepImages
	StepAudio
)

// AllSteps lists the pipeline in execution order.
var AllSteps = [...]Step{StepResearch, StepFramework, StepOutline, StepChapters, StepImages, StepAudio}

var stepNames = map[Step]string{
	StepResearch:  "research",
	StepFramework: "framework",
	StepOutline:   "outline",
	StepChapters:  "chapters",
	StepImages:    "images",
	StepAudio:     "audio",
}

func (s Step) String() string {
	if name, ok := stepNames[s]; ok {
		return name
	}
	return fmt.Sprintf("step(%d)", uint8(s))
}

// Valid reports whether s is one of AllSteps.
func (s Step) Valid() bool {
	_, ok := stepNames[s]
	return ok
}

// ParseStep converts a step name back into a Step.
func ParseStep(name string) (Step, error) {
	for s, n := range stepNames {
		if n == name {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown step %q", name)
}

func (s Step) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("unknown step %d", uint8(s))
	}
	return []byte(s.String()), nil
}

func (s *Step) UnmarshalText(b []byte) error {
	parsed, err := ParseStep(string(b))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// stepFunc runs one step against the accumulated state. Returned errors are
// step-fatal; per-item failures go into the report instead.
type stepFunc func(ctx context.Context, r *run) error

// StepSpec binds a step to its logic and the progress reached when it
// completes.
type StepSpec struct {
	Step     Step
	Progress int
	run      stepFunc
}

// stepTable is indexed by position in AllSteps.
var stepTable = [len(AllSteps)]StepSpec{
	{StepResearch, 15, runResearch},
	{StepFramework, 22, runFramework},
	{StepOutline, 30, runOutline},
	{StepChapters, 55, runChapters},
	{StepImages, 80, runImages},
	{StepAudio, 95, runAudio},
}

func init() {
	last := 0
	for i, spec := range stepTable {
		if spec.Step != AllSteps[i] {
			panic(fmt.Sprintf("jobs: step table entry %d is %s, want %s", i, spec.Step, AllSteps[i]))
		}
		if spec.run == nil {
			panic(fmt.Sprintf("jobs: step %s has no implementation", spec.Step))
		}
		if spec.Progress <= last || spec.Progress >= 100 {
			panic(fmt.Sprintf("jobs: step %s progress %d out of order", spec.Step, spec.Progress))
		}
		last = spec.Progress
	}
}

// Steps returns the step table in execution order.
func Steps() []StepSpec {
	out := make([]StepSpec, len(stepTable))
	copy(out, stepTable[:])
	return out
}
