package schema

import (
	"fmt"
	"sort"
	"strings"
)

// Phase orders plan steps. Lower phases run first.
type Phase int

const (
	PhaseSchema Phase = iota + 1
	PhaseSanitize
	PhaseEvolve
	PhaseConstrain
	PhaseFunctions
	PhaseAccess
	PhaseIndexes
	PhaseHooks
)

var phaseNames = map[Phase]string{
	PhaseSchema:    "schema",
	PhaseSanitize:  "sanitize",
	PhaseEvolve:    "evolve",
	PhaseConstrain: "constrain",
	PhaseFunctions: "functions",
	PhaseAccess:    "access",
	PhaseIndexes:   "indexes",
	PhaseHooks:     "hooks",
}

func (p Phase) String() string {
	if name, ok := phaseNames[p]; ok {
		return name
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// MarshalYAML renders the phase by name.
func (p Phase) MarshalYAML() (any, error) {
	return p.String(), nil
}

// ParsePhase resolves a phase name.
func ParsePhase(name string) (Phase, error) {
	for p, n := range phaseNames {
		if n == name {
			return p, nil
		}
	}
	return 0, fmt.Errorf("unknown phase %q", name)
}

// Step is one statement of a plan.
type Step struct {
	Phase       Phase  `yaml:"phase"`
	Description string `yaml:"description"`
	SQL         string `yaml:"sql"`
	Args        []any  `yaml:"args,omitempty"`
	// Column is set on data-repair steps; their affected row count is reported.
	Column string `yaml:"column,omitempty"`
}

// Violation is the number of rows whose domain column is null or out of domain.
type Violation struct {
	Table   string `yaml:"table"`
	Column  string `yaml:"column"`
	Count   int64  `yaml:"count"`
	Default string `yaml:"default"`
}

// Plan is the ordered set of statements that brings one table to its desired state.
type Plan struct {
	Table      string      `yaml:"table"`
	Violations []Violation `yaml:"violations,omitempty"`
	Steps      []Step      `yaml:"steps"`
}

// Add appends steps. Call Sort before applying if steps were added out of phase order.
func (p *Plan) Add(steps ...Step) {
	p.Steps = append(p.Steps, steps...)
}

// Sort orders steps by phase, keeping insertion order within a phase.
func (p *Plan) Sort() {
	sort.SliceStable(p.Steps, func(i, j int) bool {
		return p.Steps[i].Phase < p.Steps[j].Phase
	})
}

// Without returns a copy of the plan with every step of the given phases removed.
func (p *Plan) Without(phases ...Phase) *Plan {
	skip := make(map[Phase]bool, len(phases))
	for _, ph := range phases {
		skip[ph] = true
	}

	out := &Plan{Table: p.Table, Violations: p.Violations}
	for _, s := range p.Steps {
		if !skip[s.Phase] {
			out.Steps = append(out.Steps, s)
		}
	}
	return out
}

// StepsIn returns the steps of one phase.
func (p *Plan) StepsIn(phase Phase) []Step {
	var steps []Step
	for _, s := range p.Steps {
		if s.Phase == phase {
			steps = append(steps, s)
		}
	}
	return steps
}

// TotalViolations sums violation counts across domains.
func (p *Plan) TotalViolations() int64 {
	var total int64
	for _, v := range p.Violations {
		total += v.Count
	}
	return total
}

// Text renders the plan for humans.
func (p *Plan) Text() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", p.Table)
	for _, v := range p.Violations {
		fmt.Fprintf(&b, "  %d rows with %s outside its domain (repair to %q)\n", v.Count, v.Column, v.Default)
	}
	for _, s := range p.Steps {
		fmt.Fprintf(&b, "  [%s] %s\n", s.Phase, s.Description)
		for _, line := range strings.Split(strings.TrimSpace(s.SQL), "\n") {
			fmt.Fprintf(&b, "      %s\n", strings.TrimSpace(line))
		}
	}
	return b.String()
}
