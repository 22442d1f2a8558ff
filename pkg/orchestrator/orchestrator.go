package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/loykin/ch2migrate/internal/common"
	"github.com/loykin/ch2migrate/internal/store"
)

// Outcome is what a stage leaves behind for the ledger.
type Outcome struct {
	Artifact string
	Checksum string
}

// StageFunc performs the work of one stage.
type StageFunc func(ctx context.Context) (*Outcome, error)

// Stage is one named step of a pipeline.
type Stage struct {
	Name        string
	Description string
	DependsOn   []string
	Run         StageFunc
	// OnFailure runs after Run fails and before the failure is returned.
	OnFailure func(ctx context.Context, err error)
}

// StageResult represents the result of executing a stage
type StageResult struct {
	Name      string
	Skipped   bool
	Success   bool
	Error     string
	Outcome   *Outcome
	StartTime time.Time
	EndTime   time.Time
	Duration  time.Duration
}

// Ledger persists stage completion between invocations. *store.Store
// satisfies it.
type Ledger interface {
	IsCompleted(ctx context.Context, stage string) (bool, error)
	MarkCompleted(ctx context.Context, rec store.StageRecord) error
	Reset(ctx context.Context, stages ...string) error
	RecordRun(ctx context.Context, run store.RunRecord) error
}

// Options tune a run.
type Options struct {
	// Force reruns stages the ledger already marks as completed.
	Force bool
	// RunID tags ledger records. Generated when empty.
	RunID string
}

// PlanStep describes what ExecuteStages would do with one stage.
type PlanStep struct {
	Stage       string
	Description string
	Completed   bool
	WillRun     bool
}

// Orchestrator runs stages in dependency order, skipping stages the ledger
// already records as completed.
type Orchestrator struct {
	stages  []Stage
	graph   *DependencyGraph
	ledger  Ledger
	opts    Options
	results map[string]*StageResult
	logger  *common.Logger
	mu      sync.RWMutex
}

// NewOrchestrator validates the stage graph and binds it to ledger. A nil
// ledger runs every stage every time.
func NewOrchestrator(stages []Stage, ledger Ledger, opts Options) (*Orchestrator, error) {
	seen := make(map[string]bool, len(stages))
	for _, st := range stages {
		if st.Name == "" {
			return nil, errors.New("stage name is required")
		}
		if seen[st.Name] {
			return nil, fmt.Errorf("duplicate stage %s", st.Name)
		}
		seen[st.Name] = true
	}
	if opts.RunID == "" {
		opts.RunID = store.NewRunID()
	}

	o := &Orchestrator{
		stages:  stages,
		graph:   NewDependencyGraph(),
		ledger:  ledger,
		opts:    opts,
		results: make(map[string]*StageResult),
		logger:  common.GetLogger().WithComponent("orchestrator"),
	}
	if err := o.graph.BuildGraph(stages); err != nil {
		return nil, fmt.Errorf("failed to build dependency graph: %w", err)
	}
	if cycle := o.graph.DetectCycle(); cycle != nil {
		return nil, fmt.Errorf("circular dependency detected: %v", cycle)
	}

	o.logger.Debug("orchestrator initialized",
		"stages_count", len(stages),
		"run_id", opts.RunID)
	return o, nil
}

// RunID returns the identifier recorded with every ledger entry of this run.
func (o *Orchestrator) RunID() string {
	return o.opts.RunID
}

// StageNames returns the stages in execution order.
func (o *Orchestrator) StageNames() ([]string, error) {
	return o.graph.OrderedSort()
}

// ExecuteStages executes the stages between fromStage and toStage inclusive.
// Empty bounds mean the first and the last stage.
func (o *Orchestrator) ExecuteStages(ctx context.Context, fromStage, toStage string) error {
	o.logger.Info("starting stage execution",
		"from_stage", fromStage,
		"to_stage", toStage,
		"force", o.opts.Force)

	order, err := o.graph.OrderedSort()
	if err != nil {
		return fmt.Errorf("failed to determine execution order: %w", err)
	}
	filteredOrder, err := o.filterStagesInRange(order, fromStage, toStage)
	if err != nil {
		return err
	}
	if len(filteredOrder) == 0 {
		o.logger.Info("no stages to execute in the specified range")
		return nil
	}

	o.logger.Info("execution plan determined",
		"total_stages", len(filteredOrder),
		"stages", filteredOrder)

	for i, stageName := range filteredOrder {
		if err := ctx.Err(); err != nil {
			return err
		}
		stage := o.getStageByName(stageName)
		if stage == nil {
			return fmt.Errorf("stage not found: %s", stageName)
		}

		o.logger.Info("executing stage",
			"stage", stageName,
			"progress", fmt.Sprintf("%d/%d", i+1, len(filteredOrder)))

		if err := o.executeStage(ctx, stage); err != nil {
			return o.handleStageFailure(ctx, stage, err)
		}
	}

	o.logger.Info("stage execution completed successfully",
		"executed_stages", len(filteredOrder))
	return nil
}

// executeStage runs stage unless the ledger shows it completed. A stage
// that actually runs invalidates everything downstream of it.
func (o *Orchestrator) executeStage(ctx context.Context, stage *Stage) error {
	result := &StageResult{Name: stage.Name, StartTime: time.Now()}
	defer func() {
		result.EndTime = time.Now()
		result.Duration = result.EndTime.Sub(result.StartTime)
		o.mu.Lock()
		o.results[stage.Name] = result
		o.mu.Unlock()
	}()

	completed, err := o.isCompleted(ctx, stage.Name)
	if err != nil {
		result.Error = err.Error()
		return err
	}
	if completed && !o.opts.Force {
		o.logger.Info("stage already completed, skipping", "stage", stage.Name)
		result.Skipped = true
		result.Success = true
		return nil
	}

	if stage.Run == nil {
		err := fmt.Errorf("stage %s has nothing to run", stage.Name)
		result.Error = err.Error()
		return err
	}
	if o.ledger != nil {
		stale := append([]string{stage.Name}, o.graph.GetAllDependents(stage.Name)...)
		if err := o.ledger.Reset(ctx, stale...); err != nil {
			result.Error = err.Error()
			return fmt.Errorf("failed to reset ledger for stage %s: %w", stage.Name, err)
		}
	}

	outcome, err := stage.Run(ctx)
	if err != nil {
		result.Error = err.Error()
		return err
	}
	if outcome == nil {
		outcome = &Outcome{}
	}
	result.Outcome = outcome
	result.Success = true

	if o.ledger != nil {
		rec := store.StageRecord{
			Stage:    stage.Name,
			RunID:    o.opts.RunID,
			Artifact: outcome.Artifact,
			Checksum: outcome.Checksum,
		}
		if err := o.ledger.MarkCompleted(ctx, rec); err != nil {
			return fmt.Errorf("failed to record completion of stage %s: %w", stage.Name, err)
		}
		o.recordRun(ctx, stage.Name, nil, time.Since(result.StartTime))
	}

	o.logger.Info("stage executed successfully",
		"stage", stage.Name,
		"duration", time.Since(result.StartTime),
		"artifact", outcome.Artifact)
	return nil
}

func (o *Orchestrator) isCompleted(ctx context.Context, name string) (bool, error) {
	if o.ledger == nil {
		return false, nil
	}
	completed, err := o.ledger.IsCompleted(ctx, name)
	if err != nil {
		return false, fmt.Errorf("failed to read ledger for stage %s: %w", name, err)
	}
	return completed, nil
}

func (o *Orchestrator) recordRun(ctx context.Context, name string, runErr error, d time.Duration) {
	run := store.RunRecord{
		RunID:    o.opts.RunID,
		Stage:    name,
		Duration: d,
	}
	if runErr != nil {
		run.Failed = true
		run.Message = runErr.Error()
	}
	if err := o.ledger.RecordRun(ctx, run); err != nil {
		o.logger.Warn("failed to record stage run", "stage", name, "error", err)
	}
}

func (o *Orchestrator) getStageByName(name string) *Stage {
	for i := range o.stages {
		if o.stages[i].Name == name {
			return &o.stages[i]
		}
	}
	return nil
}

func (o *Orchestrator) filterStagesInRange(order []string, fromStage, toStage string) ([]string, error) {
	if fromStage == "" && toStage == "" {
		return order, nil
	}

	start, end := 0, len(order)
	fromFound, toFound := fromStage == "", toStage == ""

	if fromStage != "" {
		for i, stage := range order {
			if stage == fromStage {
				start = i
				fromFound = true
				break
			}
		}
	}

	if toStage != "" {
		for i, stage := range order {
			if stage == toStage {
				end = i + 1
				toFound = true
				break
			}
		}
	}

	if !fromFound {
		return nil, fmt.Errorf("unknown stage %q", fromStage)
	}
	if !toFound {
		return nil, fmt.Errorf("unknown stage %q", toStage)
	}
	if start >= end {
		return nil, fmt.Errorf("stage %s comes after %s", fromStage, toStage)
	}

	return order[start:end], nil
}

func (o *Orchestrator) handleStageFailure(ctx context.Context, stage *Stage, err error) error {
	o.logger.Error("stage execution failed",
		"stage", stage.Name,
		"error", err)

	if o.ledger != nil {
		o.mu.RLock()
		var d time.Duration
		if res, ok := o.results[stage.Name]; ok {
			d = res.Duration
		}
		o.mu.RUnlock()
		o.recordRun(ctx, stage.Name, err, d)
	}

	if stage.OnFailure != nil {
		stage.OnFailure(ctx, err)
	}

	if dependents := o.graph.GetAllDependents(stage.Name); len(dependents) > 0 {
		o.logger.Warn("dependent stages not executed",
			"failed_stage", stage.Name,
			"dependents", dependents)
	}
	return fmt.Errorf("stage %s failed: %w", stage.Name, err)
}

// GetStageResults returns the results of executed stages
func (o *Orchestrator) GetStageResults() map[string]*StageResult {
	o.mu.RLock()
	defer o.mu.RUnlock()

	results := make(map[string]*StageResult, len(o.results))
	for k, v := range o.results {
		results[k] = v
	}
	return results
}

// GetExecutionPlan reports, without running anything, which stages in the
// range ExecuteStages would run and which it would skip.
func (o *Orchestrator) GetExecutionPlan(ctx context.Context, fromStage, toStage string) ([]PlanStep, error) {
	order, err := o.graph.OrderedSort()
	if err != nil {
		return nil, fmt.Errorf("failed to sort stages: %w", err)
	}
	stagesToExecute, err := o.filterStagesInRange(order, fromStage, toStage)
	if err != nil {
		return nil, err
	}

	plan := make([]PlanStep, 0, len(stagesToExecute))
	// A stage that runs makes all of its dependents run as well.
	invalidated := make(map[string]bool)
	for _, name := range stagesToExecute {
		completed, err := o.isCompleted(ctx, name)
		if err != nil {
			return nil, err
		}
		step := PlanStep{
			Stage:       name,
			Description: o.getStageByName(name).Description,
			Completed:   completed,
			WillRun:     !completed || o.opts.Force || invalidated[name],
		}
		if step.WillRun {
			for _, dep := range o.graph.GetAllDependents(name) {
				invalidated[dep] = true
			}
		}
		plan = append(plan, step)
	}
	return plan, nil
}
