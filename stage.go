package ignition

import "fmt"

// Stage declares one stage of a staged run: a number, an optional name,
// the execution mode for its members, and either a set of signal names or
// child stages (only when Mode is ModeStaged).
type Stage struct {
	Number   int
	Name     string
	Mode     ExecutionMode
	Signals  []string
	Children []Stage
}

// StagePlan is an ordered, validated set of stages. Stage numbers must be
// strictly increasing across the whole plan, children included; a signal
// may be assigned to at most one stage. Signals registered but not
// assigned implicitly form stage 0 when the run starts.
type StagePlan struct {
	stages []Stage
}

// NewStagePlan validates the stage declarations and builds a plan.
func NewStagePlan(stages ...Stage) (*StagePlan, error) {
	p := &StagePlan{stages: stages}
	if err := p.validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// Stages returns the declared stages in document order.
func (p *StagePlan) Stages() []Stage {
	out := make([]Stage, len(p.stages))
	copy(out, p.stages)
	return out
}

// SignalNames returns every signal assigned anywhere in the plan.
func (p *StagePlan) SignalNames() []string {
	var names []string
	p.walk(func(s *Stage) {
		names = append(names, s.Signals...)
	})
	return names
}

// AssignedStage returns the stage number a signal is assigned to.
func (p *StagePlan) AssignedStage(name string) (int, bool) {
	number, found := -1, false
	p.walk(func(s *Stage) {
		for _, sig := range s.Signals {
			if sig == name {
				number, found = s.Number, true
			}
		}
	})
	return number, found
}

func (p *StagePlan) walk(fn func(*Stage)) {
	var visit func(stages []Stage)
	visit = func(stages []Stage) {
		for i := range stages {
			fn(&stages[i])
			visit(stages[i].Children)
		}
	}
	visit(p.stages)
}

func (p *StagePlan) validate() error {
	lastNumber := -1
	seen := make(map[string]struct{})

	var visit func(stages []Stage) error
	visit = func(stages []Stage) error {
		for i := range stages {
			s := &stages[i]
			if s.Number <= lastNumber {
				return fmt.Errorf("%w: stage %d follows %d", ErrStageNumberOrder, s.Number, lastNumber)
			}
			lastNumber = s.Number

			if s.Mode < ModeParallel || s.Mode > ModeStaged {
				return NewValidationError("mode", int(s.Mode), ErrUnknownMode)
			}

			hasChildren := len(s.Children) > 0
			hasSignals := len(s.Signals) > 0
			switch {
			case !hasChildren && !hasSignals:
				return fmt.Errorf("%w: stage %d", ErrStageEmpty, s.Number)
			case hasChildren && s.Mode != ModeStaged:
				return fmt.Errorf("%w: stage %d", ErrStageChildrenMode, s.Number)
			case hasChildren && hasSignals:
				return fmt.Errorf("%w: stage %d", ErrCompositeStageSignals, s.Number)
			case !hasChildren && s.Mode == ModeStaged:
				return fmt.Errorf("%w: stage %d has no child stages", ErrStageChildrenMode, s.Number)
			}

			for _, name := range s.Signals {
				if name == "" {
					return fmt.Errorf("%w: stage %d", ErrEmptySignalName, s.Number)
				}
				if _, dup := seen[name]; dup {
					return fmt.Errorf("%w: %s", ErrStageDuplicateSignal, name)
				}
				seen[name] = struct{}{}
			}

			if hasChildren {
				if err := visit(s.Children); err != nil {
					return err
				}
			}
		}
		return nil
	}
	return visit(p.stages)
}
