// Package automation runs the post-deploy setup as a graph of steps, from reading the stack outputs to
// validating the search service.
package automation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dominikbraun/graph"
	"github.com/klothoplatform/cortexrag/pkg/construct"
	"github.com/klothoplatform/cortexrag/pkg/logging"
	"go.uber.org/zap"
)

type Step struct {
	Name  string
	Needs []string
	// Optional steps only warn when they fail. Their dependents still run.
	Optional bool
	Run      func(ctx context.Context) error
}

type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusWarned    Status = "warned"
	StatusSkipped   Status = "skipped"
)

type StepResult struct {
	Step     string
	Status   Status
	Duration time.Duration
	Err      error
}

type Report struct {
	Results []StepResult
}

func (r *Report) Step(step string) (StepResult, bool) {
	for _, res := range r.Results {
		if res.Step == step {
			return res, true
		}
	}
	return StepResult{}, false
}

// Plan is an acyclic graph of steps. An edge A -> B means B needs A.
type Plan struct {
	g     graph.Graph[string, *Step]
	index map[string]int
}

func stepHash(s *Step) string {
	return s.Name
}

// NewPlan builds the step graph. Every need must name a step of the plan and the needs must not form a cycle.
func NewPlan(steps ...*Step) (*Plan, error) {
	p := &Plan{
		g:     graph.New(stepHash, graph.Directed(), graph.PreventCycles()),
		index: make(map[string]int, len(steps)),
	}
	for i, s := range steps {
		if err := p.g.AddVertex(s); err != nil {
			return nil, fmt.Errorf("could not add step %s: %w", s.Name, err)
		}
		p.index[s.Name] = i
	}
	for _, s := range steps {
		for _, need := range s.Needs {
			if _, ok := p.index[need]; !ok {
				return nil, fmt.Errorf("step %s needs unknown step %s", s.Name, need)
			}
			if err := p.g.AddEdge(need, s.Name); err != nil {
				if errors.Is(err, graph.ErrEdgeCreatesCycle) {
					return nil, fmt.Errorf("step %s needing %s creates a cycle", s.Name, need)
				}
				return nil, fmt.Errorf("could not add need %s -> %s: %w", need, s.Name, err)
			}
		}
	}
	return p, nil
}

// Order is the execution order. Ties between ready steps are broken by declaration order.
func (p *Plan) Order() ([]string, error) {
	return construct.TopologicalSort(p.g, func(a, b string) bool {
		return p.index[a] < p.index[b]
	})
}

// Run executes the steps in order. A failed required step aborts the run: every step not yet run is
// skipped and the step's error is returned. A failed optional step is recorded as a warning.
func (p *Plan) Run(ctx context.Context) (*Report, error) {
	log := logging.GetLogger(ctx).Named("automation")
	order, err := p.Order()
	if err != nil {
		return nil, err
	}

	report := &Report{}
	var failure error
	for _, name := range order {
		step, err := p.g.Vertex(name)
		if err != nil {
			return nil, err
		}
		if failure != nil {
			report.Results = append(report.Results, StepResult{Step: name, Status: StatusSkipped})
			continue
		}

		log.Info("running step", zap.String("step", name))
		start := time.Now()
		err = step.Run(ctx)
		res := StepResult{Step: name, Duration: time.Since(start), Err: err}
		switch {
		case err == nil:
			res.Status = StatusSucceeded
			log.Info("step succeeded", zap.String("step", name), zap.Duration("duration", res.Duration))
		case step.Optional:
			res.Status = StatusWarned
			log.Warn("optional step failed", zap.String("step", name), zap.Error(err))
		default:
			res.Status = StatusFailed
			failure = fmt.Errorf("step %s failed: %w", name, err)
			log.Error("step failed", zap.String("step", name), zap.Error(err))
		}
		report.Results = append(report.Results, res)
	}
	return report, failure
}
