package sim

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/kasuganosora/gamedb/config"
	"github.com/kasuganosora/gamedb/game/params"
	"github.com/kasuganosora/gamedb/game/script"
	"github.com/kasuganosora/gamedb/repo"
	"go.uber.org/zap"
)

// Step kinds.
const (
	KindDump       = "dump"
	KindBump       = "bump"
	KindLevelUp    = "level_up"
	KindProduction = "production"
)

// Row selection for bump and level_up.
const (
	PickRandom = "random"
	PickFirst  = "first"
	PickAll    = "all"
	PickMatch  = "match"
)

const (
	defaultXPRequired = 100
	defaultMultiplier = "CoinMultiplier"
)

// skipError marks a step that had nothing to do.
type skipError struct{ reason string }

func (e *skipError) Error() string { return "skipped: " + e.reason }

func skip(format string, args ...any) error {
	return &skipError{reason: fmt.Sprintf(format, args...)}
}

func validateStep(s config.StepConfig) error {
	if s.Table == "" {
		return errors.New("table is required")
	}
	switch s.Kind {
	case KindDump, KindProduction:
	case KindBump:
		if s.Field == "" {
			return errors.New("bump needs field")
		}
	case KindLevelUp:
	default:
		return fmt.Errorf("unknown kind %q", s.Kind)
	}
	switch s.Pick {
	case "", PickRandom, PickFirst, PickAll:
	case PickMatch:
		if s.MatchField == "" {
			return errors.New("pick match needs match_field")
		}
	default:
		return fmt.Errorf("unknown pick %q", s.Pick)
	}
	if s.Max != 0 && s.Max < s.Min {
		return fmt.Errorf("max %d below min %d", s.Max, s.Min)
	}
	if s.TargetField != "" && s.TargetTable == "" {
		return errors.New("target_field needs target_table")
	}
	return nil
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// between returns a value in [lo,hi), or lo when the range is empty.
func (run *Runner) between(lo, hi int64) int64 {
	if hi <= lo {
		return lo
	}
	return lo + run.rng.Int64N(hi-lo)
}

func (run *Runner) step(ctx context.Context, s config.StepConfig) (StepResult, error) {
	res := StepResult{Kind: s.Kind, Table: s.Table}
	m := run.repo.Meta(s.Table)
	var err error
	switch {
	case m == nil:
		err = skip("table not found")
	case m.CountEntities() == 0:
		err = skip("table has no rows")
	default:
		switch s.Kind {
		case KindDump:
			err = run.dump(m, &res)
		case KindBump:
			err = run.bump(m, s, &res)
		case KindLevelUp:
			err = run.levelUp(m, s, &res)
		case KindProduction:
			err = run.production(ctx, m, s, &res)
		}
	}
	var se *skipError
	if errors.As(err, &se) {
		res.Skipped = se.reason
		run.logger.Warn("simulation step skipped",
			zap.String("kind", s.Kind),
			zap.String("table", s.Table),
			zap.String("reason", res.Skipped))
		return res, nil
	}
	return res, err
}

func (run *Runner) dump(m *repo.Meta, res *StepResult) error {
	run.logger.Info("dumping table", zap.String("table", m.Name()), zap.Int("rows", m.CountEntities()))
	for i, e := range m.Entities() {
		values := make(map[string]string)
		for name, v := range e.Values() {
			values[name] = v.String()
		}
		run.logger.Info("row",
			zap.String("table", m.Name()),
			zap.Int("index", i),
			zap.String("id", e.ID().String()),
			zap.Any("values", values))
		res.Rows++
	}
	return nil
}

// pick selects the rows a step applies to. def is used when s.Pick is empty.
func (run *Runner) pick(m *repo.Meta, s config.StepConfig, def string) ([]*repo.Entity, error) {
	switch orDefault(s.Pick, def) {
	case PickFirst:
		return []*repo.Entity{m.Entity(0)}, nil
	case PickAll:
		return m.Entities(), nil
	case PickMatch:
		if _, ok := m.Field(s.MatchField); !ok {
			return nil, fmt.Errorf("%w: %s.%s", repo.ErrFieldNotFound, m.Name(), s.MatchField)
		}
		for _, e := range m.Entities() {
			if e.GetString(s.MatchField) == s.MatchValue {
				return []*repo.Entity{e}, nil
			}
		}
		return nil, skip("no row with %s = %q", s.MatchField, s.MatchValue)
	}
	rows := m.Entities()
	return []*repo.Entity{rows[run.rng.IntN(len(rows))]}, nil
}

func (run *Runner) bump(m *repo.Meta, s config.StepConfig, res *StepResult) error {
	rows, err := run.pick(m, s, PickRandom)
	if err != nil {
		return err
	}
	lo, hi := s.Min, s.Max
	if lo == 0 && hi == 0 {
		lo, hi = 1, 5
	}
	for _, e := range rows {
		old, err := e.GetInt(s.Field)
		if err != nil {
			return err
		}
		next := old + run.between(lo, hi)
		if err := e.Set(s.Field, repo.Int(next)); err != nil {
			return err
		}
		run.logger.Info("row updated",
			zap.String("table", m.Name()),
			zap.String("id", e.ID().String()),
			zap.String("field", s.Field),
			zap.Int64("old", old),
			zap.Int64("new", next))
		res.Rows++
	}
	return nil
}

func (run *Runner) levelUp(m *repo.Meta, s config.StepConfig, res *StepResult) error {
	rows, err := run.pick(m, s, PickAll)
	if err != nil {
		return err
	}
	xpField := orDefault(s.Field, "xp")
	levelField := orDefault(s.LevelField, "level")
	lo, hi := s.Min, s.Max
	if lo == 0 && hi == 0 {
		lo, hi = 10, 30
	}
	for _, e := range rows {
		xp, err := e.GetInt(xpField)
		if err != nil {
			return err
		}
		level, err := e.GetInt(levelField)
		if err != nil {
			return err
		}
		required := s.XPRequired
		if s.ReqField != "" {
			if required, err = e.GetInt(s.ReqField); err != nil {
				return err
			}
		}
		if required <= 0 {
			required = defaultXPRequired
		}

		gain := run.between(lo, hi)
		newXP, newLevel, leveled := LevelUp(xp, level, gain, required)
		if err := e.Set(xpField, repo.Int(newXP)); err != nil {
			return err
		}
		if leveled {
			if err := e.Set(levelField, repo.Int(newLevel)); err != nil {
				return err
			}
			res.Leveled++
			run.logger.Info("level up",
				zap.String("table", m.Name()),
				zap.String("id", e.ID().String()),
				zap.Int64("level", newLevel))
		}
		res.Rows++
	}
	return nil
}

func (run *Runner) multiplier(key string) float64 {
	tbl, err := params.Load(run.repo, run.cfg.ParamsTable, run.logger)
	if err != nil {
		run.logger.Warn("parameters unavailable, multiplier defaults to 1",
			zap.String("table", run.cfg.ParamsTable), zap.Error(err))
		return 1
	}
	return tbl.Float(key, 1)
}

func (run *Runner) production(ctx context.Context, m *repo.Meta, s config.StepConfig, res *StepResult) error {
	baseField := orDefault(s.BaseField, "base")
	countField := orDefault(s.CountField, "count")
	mult := run.multiplier(orDefault(s.Multiplier, defaultMultiplier))

	rows := make([]ProductionRow, 0, m.CountEntities())
	for _, e := range m.Entities() {
		base, err := e.GetFloat(baseField)
		if err != nil {
			return err
		}
		count, err := e.GetFloat(countField)
		if err != nil {
			return err
		}
		rows = append(rows, ProductionRow{Base: base, Count: count})
	}

	var total float64
	if run.formula != nil {
		for _, r := range rows {
			v, err := run.comp.Sandbox.EvalNumber(ctx, run.formula, script.Vars{
				"base": r.Base, "count": r.Count, "multiplier": mult,
			})
			if err != nil {
				return err
			}
			total += v
		}
	} else {
		total = ProductionBonus(rows, mult)
	}
	res.Rows = len(rows)
	res.Total = &total
	run.logger.Info("production total",
		zap.String("table", m.Name()),
		zap.Float64("multiplier", mult),
		zap.Float64("total", total))

	if s.TargetTable == "" {
		return nil
	}
	return run.store(s, total)
}

// store writes total into the first row of the target table, rounding for
// int fields.
func (run *Runner) store(s config.StepConfig, total float64) error {
	tm, err := run.repo.MustMeta(s.TargetTable)
	if err != nil {
		return err
	}
	field := orDefault(s.TargetField, "total")
	f, ok := tm.Field(field)
	if !ok {
		return fmt.Errorf("%w: %s.%s", repo.ErrFieldNotFound, s.TargetTable, field)
	}
	e := tm.Entity(0)
	if e == nil {
		e = tm.NewEntity()
	}
	v := repo.Float(total)
	if f.Kind == repo.KindInt {
		v = repo.Int(int64(math.Round(total)))
	}
	return e.Set(field, v)
}
