// Package planfile loads declarative coordinator plans from YAML
// documents: signal names, per-signal timeouts, dependency edges, stage
// layout and run options. A definition binds to application-supplied
// operations to produce a ready-to-run coordinator.
package planfile

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/veggerby/ignition"
)

var (
	// ErrNoSignals reports a plan document without any signals.
	ErrNoSignals = errors.New("plan defines no signals")

	// ErrUnknownOperation reports a plan signal with no operation bound.
	ErrUnknownOperation = errors.New("no operation bound for signal")

	// ErrStageConflict reports a signal assigned to two different stages.
	ErrStageConflict = errors.New("signal assigned to conflicting stages")
)

// Definition is a parsed plan document.
type Definition struct {
	Name    string      `mapstructure:"name"`
	Options *OptionsDef `mapstructure:"options"`
	Signals []SignalDef `mapstructure:"signals"`
	Stages  []StageDef  `mapstructure:"stages"`
}

// OptionsDef carries the run options of a plan document. Pointer fields
// distinguish "unset" from an explicit zero so base-document merging can
// fill only the gaps.
type OptionsDef struct {
	Mode                      string        `mapstructure:"mode"`
	Policy                    string        `mapstructure:"policy"`
	GlobalTimeout             time.Duration `mapstructure:"global_timeout"`
	CancelOnGlobalTimeout     *bool         `mapstructure:"cancel_on_global_timeout"`
	CancelIndividualOnTimeout *bool         `mapstructure:"cancel_individual_on_timeout"`
	MaxConcurrency            int           `mapstructure:"max_concurrency"`
	StagePolicy               string        `mapstructure:"stage_policy"`
	EarlyPromotionThreshold   *float64      `mapstructure:"early_promotion_threshold"`
	CancelDependentsOnFailure *bool         `mapstructure:"cancel_dependents_on_failure"`
}

// SignalDef declares one signal.
type SignalDef struct {
	Name    string        `mapstructure:"name"`
	Timeout time.Duration `mapstructure:"timeout"`
	Depends []string      `mapstructure:"depends"`
	Stage   *int          `mapstructure:"stage"`
}

// StageDef declares one stage. Composite stages carry children instead of
// signals and must use the staged mode.
type StageDef struct {
	Number   int        `mapstructure:"number"`
	Name     string     `mapstructure:"name"`
	Mode     string     `mapstructure:"mode"`
	Signals  []string   `mapstructure:"signals"`
	Children []StageDef `mapstructure:"children"`
}

// Validate checks the document: signal naming, dependency references,
// option tokens and the stage layout.
func (d *Definition) Validate() error {
	if len(d.Signals) == 0 {
		return ErrNoSignals
	}

	names := make(map[string]struct{}, len(d.Signals))
	for _, s := range d.Signals {
		if s.Name == "" {
			return ignition.ErrEmptySignalName
		}
		if _, dup := names[s.Name]; dup {
			return fmt.Errorf("%w: %s", ignition.ErrDuplicateSignal, s.Name)
		}
		names[s.Name] = struct{}{}
	}
	for _, s := range d.Signals {
		for _, dep := range s.Depends {
			if _, ok := names[dep]; !ok {
				return fmt.Errorf("%w: %s depends on %s", ignition.ErrUnknownSignal, s.Name, dep)
			}
			if dep == s.Name {
				return fmt.Errorf("%w: %s", ignition.ErrSelfDependency, s.Name)
			}
		}
	}

	if _, err := d.CoordinatorOptions(); err != nil {
		return err
	}

	plan, err := d.plan()
	if err != nil {
		return err
	}
	if plan != nil {
		for _, name := range plan.SignalNames() {
			if _, ok := names[name]; !ok {
				return fmt.Errorf("%w: stage references %s", ignition.ErrUnknownSignal, name)
			}
		}
	}
	return nil
}

// CoordinatorOptions maps the document's option tokens onto run options,
// with defaults for everything unset.
func (d *Definition) CoordinatorOptions() (ignition.Options, error) {
	opts := ignition.DefaultOptions()
	o := d.Options
	if o == nil {
		return opts, nil
	}

	mode, err := ignition.ParseExecutionMode(o.Mode)
	if err != nil {
		return opts, err
	}
	opts.Mode = mode

	policy, err := ignition.ParsePolicy(o.Policy)
	if err != nil {
		return opts, err
	}
	opts.Policy = policy

	stagePolicy, err := ignition.ParseStagePolicy(o.StagePolicy)
	if err != nil {
		return opts, err
	}
	opts.StagePolicy = stagePolicy

	if o.GlobalTimeout > 0 {
		opts.GlobalTimeout = o.GlobalTimeout
	}
	opts.MaxConcurrency = o.MaxConcurrency
	if o.EarlyPromotionThreshold != nil {
		opts.EarlyPromotionThreshold = *o.EarlyPromotionThreshold
	}
	if o.CancelOnGlobalTimeout != nil {
		opts.CancelOnGlobalTimeout = *o.CancelOnGlobalTimeout
	}
	if o.CancelIndividualOnTimeout != nil {
		opts.CancelIndividualOnTimeout = *o.CancelIndividualOnTimeout
	}
	if o.CancelDependentsOnFailure != nil {
		opts.CancelDependentsOnFailure = *o.CancelDependentsOnFailure
	}
	return opts, opts.Validate()
}

// plan builds the stage plan from the stages tree plus per-signal stage
// shorthand. Returns nil when the document assigns no stages.
func (d *Definition) plan() (*ignition.StagePlan, error) {
	var convert func(defs []StageDef) ([]ignition.Stage, error)
	convert = func(defs []StageDef) ([]ignition.Stage, error) {
		var stages []ignition.Stage
		for _, sd := range defs {
			mode, err := ignition.ParseExecutionMode(sd.Mode)
			if err != nil {
				return nil, err
			}
			children, err := convert(sd.Children)
			if err != nil {
				return nil, err
			}
			stages = append(stages, ignition.Stage{
				Number:   sd.Number,
				Name:     sd.Name,
				Mode:     mode,
				Signals:  append([]string(nil), sd.Signals...),
				Children: children,
			})
		}
		return stages, nil
	}

	stages, err := convert(d.Stages)
	if err != nil {
		return nil, err
	}

	// Fold the per-signal stage shorthand into the tree.
	assigned := make(map[string]int)
	var walk func(sts []ignition.Stage)
	walk = func(sts []ignition.Stage) {
		for _, st := range sts {
			for _, name := range st.Signals {
				assigned[name] = st.Number
			}
			walk(st.Children)
		}
	}
	walk(stages)

	for _, s := range d.Signals {
		if s.Stage == nil {
			continue
		}
		if number, ok := assigned[s.Name]; ok {
			if number != *s.Stage {
				return nil, fmt.Errorf("%w: %s in stage %d and %d", ErrStageConflict, s.Name, number, *s.Stage)
			}
			continue
		}
		if !appendToStage(stages, *s.Stage, s.Name) {
			stages = insertStage(stages, ignition.Stage{
				Number:  *s.Stage,
				Mode:    ignition.ModeParallel,
				Signals: []string{s.Name},
			})
		}
		assigned[s.Name] = *s.Stage
	}

	if len(stages) == 0 {
		return nil, nil
	}
	return ignition.NewStagePlan(stages...)
}

// appendToStage adds a signal to the leaf stage with the given number.
func appendToStage(stages []ignition.Stage, number int, name string) bool {
	for i := range stages {
		if stages[i].Number == number && len(stages[i].Children) == 0 {
			stages[i].Signals = append(stages[i].Signals, name)
			return true
		}
		if appendToStage(stages[i].Children, number, name) {
			return true
		}
	}
	return false
}

// insertStage places a synthesized stage into the top-level list keeping
// numeric order.
func insertStage(stages []ignition.Stage, st ignition.Stage) []ignition.Stage {
	stages = append(stages, st)
	sort.SliceStable(stages, func(i, j int) bool { return stages[i].Number < stages[j].Number })
	return stages
}

// Bind validates the definition, resolves every signal to its operation
// and assembles a coordinator with the plan's options, dependencies and
// stages applied. Extra operations in the map are ignored.
func (d *Definition) Bind(ops map[string]ignition.SignalFunc, extra ...ignition.Option) (*ignition.Coordinator, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	opts, err := d.CoordinatorOptions()
	if err != nil {
		return nil, err
	}

	c, err := ignition.New(append([]ignition.Option{ignition.WithOptions(opts)}, extra...)...)
	if err != nil {
		return nil, err
	}

	for _, s := range d.Signals {
		fn, ok := ops[s.Name]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownOperation, s.Name)
		}
		var sopts []ignition.SignalOption
		if s.Timeout > 0 {
			sopts = append(sopts, ignition.WithSignalTimeout(s.Timeout))
		}
		if err := c.Register(s.Name, fn, sopts...); err != nil {
			return nil, err
		}
	}
	for _, s := range d.Signals {
		if len(s.Depends) == 0 {
			continue
		}
		if err := c.RegisterDependencies(s.Name, s.Depends...); err != nil {
			return nil, err
		}
	}

	plan, err := d.plan()
	if err != nil {
		return nil, err
	}
	if plan != nil {
		if err := c.ConfigureStages(plan); err != nil {
			return nil, err
		}
	}
	return c, nil
}
