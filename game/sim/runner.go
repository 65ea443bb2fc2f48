// Package sim runs a configurable plan of small data mutations against a
// repository and saves the result: the debug routine that dumps a table,
// bumps values, levels rows up and totals production.
package sim

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strconv"
	"sync"
	"time"

	"github.com/dop251/goja"
	"github.com/google/uuid"
	"github.com/kasuganosora/gamedb/audit"
	"github.com/kasuganosora/gamedb/cache"
	"github.com/kasuganosora/gamedb/config"
	"github.com/kasuganosora/gamedb/game/binder"
	"github.com/kasuganosora/gamedb/game/script"
	"github.com/kasuganosora/gamedb/model"
	"github.com/kasuganosora/gamedb/plugin/hook"
	"github.com/kasuganosora/gamedb/repo"
	"go.uber.org/zap"
)

// ErrNoRepo is returned by Run when the runner has no repository.
var ErrNoRepo = errors.New("sim: no repository")

// LastRunKey is the cache hash holding the summary of the latest run.
const LastRunKey = "sim:last"

// Companions are optional collaborators. Any of them may be nil.
type Companions struct {
	Binders *binder.Hub
	Journal *audit.Service
	Sandbox *script.Sandbox
	Cache   cache.Cache
	Hooks   *hook.HookCenter
}

// Present lists the companions that are attached.
func (c Companions) Present() []string {
	var out []string
	if c.Binders != nil && c.Binders.Len() > 0 {
		out = append(out, "binders")
	}
	if c.Journal != nil {
		out = append(out, "journal")
	}
	if c.Sandbox != nil {
		out = append(out, "sandbox")
	}
	if c.Cache != nil {
		out = append(out, "cache")
	}
	if c.Hooks != nil {
		out = append(out, "hooks")
	}
	return out
}

// StepResult reports what one step did.
type StepResult struct {
	Kind    string   `json:"kind"`
	Table   string   `json:"table"`
	Rows    int      `json:"rows"`
	Leveled int      `json:"leveled,omitempty"`
	Total   *float64 `json:"total,omitempty"`
	Skipped string   `json:"skipped,omitempty"`
}

// Report is the outcome of one Run.
type Report struct {
	TraceID    string            `json:"trace_id"`
	Steps      []StepResult      `json:"steps"`
	Companions []string          `json:"companions"`
	Binders    map[string]string `json:"binders,omitempty"`
	Saved      bool              `json:"saved"`
	StartedAt  time.Time         `json:"started_at"`
	DurationMs int               `json:"duration_ms"`
}

// Runner executes a simulation plan. Run calls are serialised.
type Runner struct {
	repo    *repo.Repo
	cfg     config.SimulationConfig
	steps   []config.StepConfig
	comp    Companions
	formula *goja.Program
	logger  *zap.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

// DefaultPlan dumps Items, adds [1,5) to the value of a random row and dumps
// again.
func DefaultPlan() []config.StepConfig {
	return []config.StepConfig{
		{Kind: KindDump, Table: "Items"},
		{Kind: KindBump, Table: "Items", Field: "value", Pick: PickRandom, Min: 1, Max: 5},
		{Kind: KindDump, Table: "Items"},
	}
}

// NewRunner validates the plan in cfg (DefaultPlan when it has no steps) and
// compiles the bonus formula if one is set.
func NewRunner(r *repo.Repo, cfg config.SimulationConfig, comp Companions, logger *zap.Logger) (*Runner, error) {
	steps := cfg.Steps
	if len(steps) == 0 {
		steps = DefaultPlan()
	}
	for i, s := range steps {
		if err := validateStep(s); err != nil {
			return nil, fmt.Errorf("sim: step %d: %w", i, err)
		}
	}
	if cfg.ParamsTable == "" {
		cfg.ParamsTable = "Params"
	}

	run := &Runner{
		repo:   r,
		cfg:    cfg,
		steps:  steps,
		comp:   comp,
		logger: logger,
		rng:    newRand(cfg.Seed),
	}
	if cfg.BonusFormula != "" {
		if comp.Sandbox == nil {
			return nil, errors.New("sim: bonus_formula needs a script sandbox")
		}
		prog, err := script.Compile(cfg.BonusFormula)
		if err != nil {
			return nil, fmt.Errorf("sim: bonus_formula: %w", err)
		}
		run.formula = prog
	}
	return run, nil
}

func newRand(seed int64) *rand.Rand {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return rand.New(rand.NewPCG(uint64(seed), uint64(seed)^0x9e3779b97f4a7c15))
}

// Steps returns the plan being run.
func (run *Runner) Steps() []config.StepConfig {
	return append([]config.StepConfig(nil), run.steps...)
}

// Run executes every step in order, then saves the repository.
// A step whose table is missing or empty is skipped; any other step error
// aborts the run before saving and rolls back what earlier steps changed.
func (run *Runner) Run(ctx context.Context) (*Report, error) {
	run.mu.Lock()
	defer run.mu.Unlock()

	report := &Report{
		TraceID:    uuid.NewString(),
		Companions: run.comp.Present(),
		StartedAt:  time.Now(),
	}
	err := run.run(ctx, report)
	report.DurationMs = audit.Since(report.StartedAt)

	if err != nil {
		run.logger.Error("simulation failed", zap.String("trace_id", report.TraceID), zap.Error(err))
	} else {
		run.logger.Info("simulation complete",
			zap.String("trace_id", report.TraceID),
			zap.Int("steps", len(report.Steps)),
			zap.Bool("saved", report.Saved),
			zap.Int("duration_ms", report.DurationMs))
		run.remember(ctx, report)
		if run.comp.Hooks != nil {
			if _, herr := run.comp.Hooks.Trigger(ctx, hook.AfterSimulate, report); herr != nil {
				run.logger.Warn("after_simulate hook failed", zap.Error(herr))
			}
		}
	}
	run.comp.Journal.Log(audit.Entry{
		TraceID:    report.TraceID,
		Action:     model.ActionSimulate,
		AssetPath:  run.assetPath(),
		Detail:     report,
		Err:        err,
		DurationMs: report.DurationMs,
	})
	return report, err
}

func (run *Runner) assetPath() string {
	if run.repo == nil {
		return ""
	}
	return run.repo.Path()
}

func (run *Runner) run(ctx context.Context, report *Report) error {
	if run.repo == nil {
		return ErrNoRepo
	}
	if !run.repo.Ok() {
		return repo.ErrNotLoaded
	}

	fields := []zap.Field{zap.Strings("present", report.Companions)}
	if run.comp.Binders != nil {
		fields = append(fields, zap.Any("binder_kinds", run.comp.Binders.Detect()))
	}
	run.logger.Info("simulation started", append(fields, zap.String("trace_id", report.TraceID))...)

	cp := run.repo.Checkpoint()
	for i, step := range run.steps {
		if err := ctx.Err(); err != nil {
			run.repo.Rollback(cp)
			return err
		}
		res, err := run.step(ctx, step)
		if err != nil {
			run.repo.Rollback(cp)
			return fmt.Errorf("sim: step %d (%s %s): %w", i, step.Kind, step.Table, err)
		}
		report.Steps = append(report.Steps, res)
	}

	if run.comp.Binders != nil && run.comp.Binders.Len() > 0 {
		run.comp.Binders.RefreshAll(ctx)
		report.Binders = run.comp.Binders.Texts()
	}

	if run.repo.Path() == "" {
		return nil
	}
	if err := run.repo.Save(); err != nil {
		return err
	}
	report.Saved = true
	return nil
}

func (run *Runner) remember(ctx context.Context, report *Report) {
	if run.comp.Cache == nil {
		return
	}
	fields := map[string]string{
		"trace_id":    report.TraceID,
		"started_at":  report.StartedAt.Format(time.RFC3339Nano),
		"steps":       strconv.Itoa(len(report.Steps)),
		"saved":       strconv.FormatBool(report.Saved),
		"duration_ms": strconv.Itoa(report.DurationMs),
	}
	for _, s := range report.Steps {
		if s.Total != nil {
			fields["production_total"] = strconv.FormatFloat(*s.Total, 'f', -1, 64)
		}
	}
	if err := run.comp.Cache.HReplace(ctx, LastRunKey, fields); err != nil {
		run.logger.Warn("simulation summary not cached", zap.Error(err))
	}
}
