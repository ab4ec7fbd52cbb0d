// Package steps provides step definitions, dependency validation, and checkpointed,
// retried step execution for the job pipelines.
package steps

import (
	"fmt"
	"sort"

	"github.com/jonathan/identity-pipeline/internal/jobs"
)

// StepDefinition defines metadata for a pipeline step
type StepDefinition struct {
	Name         string
	Phase        jobs.Phase
	Dependencies []string
	Optional     []string
}

// Registry holds the step definitions of one job type, in declaration order
type Registry struct {
	jobType jobs.JobType
	defs    map[string]StepDefinition
	order   []string
}

// NewRegistry validates and indexes the step definitions for a job type. A step's phase
// must belong to the job type (or be empty for bookkeeping steps) and its dependencies
// must be declared before it.
func NewRegistry(jobType jobs.JobType, defs ...StepDefinition) (*Registry, error) {
	r := &Registry{
		jobType: jobType,
		defs:    make(map[string]StepDefinition, len(defs)),
	}
	for _, def := range defs {
		if def.Name == "" {
			return nil, fmt.Errorf("step name is required")
		}
		if _, dup := r.defs[def.Name]; dup {
			return nil, fmt.Errorf("duplicate step: %s", def.Name)
		}
		if def.Phase != "" && !jobType.HasPhase(def.Phase) {
			return nil, fmt.Errorf("step %s: %w: %s is not a %s phase", def.Name, jobs.ErrPhaseNotInSequence, def.Phase, jobType)
		}
		for _, dep := range append(append([]string(nil), def.Dependencies...), def.Optional...) {
			if _, ok := r.defs[dep]; !ok {
				return nil, fmt.Errorf("step %s depends on undeclared step %s", def.Name, dep)
			}
		}
		r.defs[def.Name] = def
		r.order = append(r.order, def.Name)
	}
	return r, nil
}

// MustRegistry is NewRegistry that panics on invalid definitions.
func MustRegistry(jobType jobs.JobType, defs ...StepDefinition) *Registry {
	r, err := NewRegistry(jobType, defs...)
	if err != nil {
		panic(err)
	}
	return r
}

// JobType returns the job type the registry describes.
func (r *Registry) JobType() jobs.JobType { return r.jobType }

// Lookup returns the definition for a step name.
func (r *Registry) Lookup(name string) (StepDefinition, bool) {
	def, ok := r.defs[name]
	return def, ok
}

// Steps returns the definitions in declaration order.
func (r *Registry) Steps() []StepDefinition {
	out := make([]StepDefinition, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.defs[name])
	}
	return out
}

// DependencyError represents a dependency validation error
type DependencyError struct {
	Step                string
	MissingDependencies []string
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("step %s: missing dependencies: %v", e.Step, e.MissingDependencies)
}

// ValidateDependencies checks that every required dependency of a step has completed
func (r *Registry) ValidateDependencies(stepName string, completed map[string]bool) error {
	def, ok := r.defs[stepName]
	if !ok {
		return fmt.Errorf("unknown step: %s", stepName)
	}

	var missing []string
	for _, dep := range def.Dependencies {
		if !completed[dep] {
			missing = append(missing, dep)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return &DependencyError{Step: stepName, MissingDependencies: missing}
	}
	return nil
}

// AvailableSteps returns the steps that have not completed and whose dependencies have
func (r *Registry) AvailableSteps(completed map[string]bool) []string {
	var available []string
	for _, name := range r.order {
		if completed[name] {
			continue
		}
		if r.ValidateDependencies(name, completed) == nil {
			available = append(available, name)
		}
	}
	return available
}
