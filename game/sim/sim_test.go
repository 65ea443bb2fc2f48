package sim

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kasuganosora/gamedb/audit"
	"github.com/kasuganosora/gamedb/config"
	"github.com/kasuganosora/gamedb/game/binder"
	"github.com/kasuganosora/gamedb/game/script"
	"github.com/kasuganosora/gamedb/model"
	"github.com/kasuganosora/gamedb/plugin/hook"
	"github.com/kasuganosora/gamedb/repo"
	"github.com/kasuganosora/gamedb/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func nop() *zap.Logger { l, _ := zap.NewDevelopment(); return l }

// seedGame adds Player {name, xp, level, need}, Mine {base, count} and
// Totals {total float} to the standard test repository.
func seedGame(t *testing.T) *repo.Repo {
	t.Helper()
	r := testutil.SetupTestRepo(t)

	players, err := r.AddMeta("Player",
		repo.Field{Name: "name", Kind: repo.KindString},
		repo.Field{Name: "xp", Kind: repo.KindInt},
		repo.Field{Name: "level", Kind: repo.KindInt},
		repo.Field{Name: "need", Kind: repo.KindInt},
	)
	require.NoError(t, err)
	p := players.NewEntity()
	require.NoError(t, p.Set("name", repo.Text("hero")))
	require.NoError(t, p.Set("xp", repo.Int(90)))
	require.NoError(t, p.Set("level", repo.Int(1)))
	require.NoError(t, p.Set("need", repo.Int(1000)))

	mines, err := r.AddMeta("Mine",
		repo.Field{Name: "base", Kind: repo.KindInt},
		repo.Field{Name: "count", Kind: repo.KindInt},
	)
	require.NoError(t, err)
	for _, bc := range [][2]int64{{10, 3}, {2, 5}} {
		e := mines.NewEntity()
		require.NoError(t, e.Set("base", repo.Int(bc[0])))
		require.NoError(t, e.Set("count", repo.Int(bc[1])))
	}

	_, err = r.AddMeta("Totals", repo.Field{Name: "total", Kind: repo.KindFloat})
	require.NoError(t, err)
	_, err = r.AddMeta("Empty", repo.Field{Name: "value", Kind: repo.KindInt})
	require.NoError(t, err)
	return r
}

func intAt(t *testing.T, r *repo.Repo, table string, row int, field string) int64 {
	t.Helper()
	n, err := r.Meta(table).Entity(row).GetInt(field)
	require.NoError(t, err)
	return n
}

func TestLevelUp(t *testing.T) {
	for gain := int64(10); gain < 30; gain++ {
		xp, level, leveled := LevelUp(90, 4, gain, 100)
		assert.True(t, leveled, "gain %d", gain)
		assert.Zero(t, xp)
		assert.Equal(t, int64(5), level)
	}

	xp, level, leveled := LevelUp(50, 4, 10, 100)
	assert.False(t, leveled)
	assert.Equal(t, int64(60), xp)
	assert.Equal(t, int64(4), level)

	xp, _, leveled = LevelUp(90, 0, 9, 100)
	assert.False(t, leveled)
	assert.Equal(t, int64(99), xp)
}

func TestProductionBonus(t *testing.T) {
	got := ProductionBonus([]ProductionRow{{Base: 10, Count: 3}, {Base: 2, Count: 5}}, 1.5)
	assert.Equal(t, 60.0, got)
	assert.Zero(t, ProductionBonus(nil, 2))
}

func TestNewRunner_Validation(t *testing.T) {
	r := seedGame(t)
	bad := []config.SimulationConfig{
		{Steps: []config.StepConfig{{Kind: "explode", Table: "Items"}}},
		{Steps: []config.StepConfig{{Kind: KindBump, Table: "Items"}}},
		{Steps: []config.StepConfig{{Kind: KindDump}}},
		{Steps: []config.StepConfig{{Kind: KindBump, Table: "Items", Field: "value", Pick: PickMatch}}},
		{Steps: []config.StepConfig{{Kind: KindBump, Table: "Items", Field: "value", Min: 5, Max: 1}}},
		{Steps: []config.StepConfig{{Kind: KindProduction, Table: "Mine", TargetField: "total"}}},
		{BonusFormula: "base * count"},
	}
	for i, cfg := range bad {
		_, err := NewRunner(r, cfg, Companions{}, nop())
		assert.Error(t, err, "case %d", i)
	}

	_, err := NewRunner(r, config.SimulationConfig{BonusFormula: "base *"},
		Companions{Sandbox: script.NewSandbox(1, time.Second, nop())}, nop())
	assert.Error(t, err)

	run, err := NewRunner(r, config.SimulationConfig{}, Companions{}, nop())
	require.NoError(t, err)
	assert.Equal(t, DefaultPlan(), run.Steps())
}

func TestRun_DefaultPlanBumpsAndSaves(t *testing.T) {
	r := seedGame(t)
	before := intAt(t, r, "Items", 0, "value") + intAt(t, r, "Items", 1, "value")

	run, err := NewRunner(r, config.SimulationConfig{Seed: 7}, Companions{}, nop())
	require.NoError(t, err)
	report, err := run.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, report.Steps, 3)
	assert.Equal(t, 2, report.Steps[0].Rows)
	assert.Equal(t, 1, report.Steps[1].Rows)
	assert.True(t, report.Saved)
	assert.False(t, r.Dirty())
	assert.Len(t, report.TraceID, 36)

	after := intAt(t, r, "Items", 0, "value") + intAt(t, r, "Items", 1, "value")
	assert.GreaterOrEqual(t, after-before, int64(1))
	assert.Less(t, after-before, int64(5))

	reloaded, err := repo.Open(r.Path(), nop())
	require.NoError(t, err)
	assert.Equal(t, after, intAt(t, reloaded, "Items", 0, "value")+intAt(t, reloaded, "Items", 1, "value"))
}

func TestRun_SeedIsDeterministic(t *testing.T) {
	cfg := config.SimulationConfig{Seed: 42, Steps: []config.StepConfig{
		{Kind: KindBump, Table: "Items", Field: "value", Pick: PickAll, Min: 1, Max: 100},
	}}
	var got [2][2]int64
	for i := range got {
		r := seedGame(t)
		run, err := NewRunner(r, cfg, Companions{}, nop())
		require.NoError(t, err)
		_, err = run.Run(context.Background())
		require.NoError(t, err)
		got[i] = [2]int64{intAt(t, r, "Items", 0, "value"), intAt(t, r, "Items", 1, "value")}
	}
	assert.Equal(t, got[0], got[1])
}

func TestRun_BumpMatchedRow(t *testing.T) {
	r := seedGame(t)
	run, err := NewRunner(r, config.SimulationConfig{Steps: []config.StepConfig{
		{Kind: KindBump, Table: "Items", Field: "value", Pick: PickMatch, MatchField: "name", MatchValue: "Items0", Min: 5, Max: 20},
	}}, Companions{}, nop())
	require.NoError(t, err)
	_, err = run.Run(context.Background())
	require.NoError(t, err)

	v := intAt(t, r, "Items", 0, "value")
	assert.GreaterOrEqual(t, v, int64(10))
	assert.Less(t, v, int64(25))
	assert.Equal(t, int64(12), intAt(t, r, "Items", 1, "value"))
}

func TestRun_LevelUp(t *testing.T) {
	r := seedGame(t)
	run, err := NewRunner(r, config.SimulationConfig{Steps: []config.StepConfig{
		{Kind: KindLevelUp, Table: "Player", XPRequired: 100},
	}}, Companions{}, nop())
	require.NoError(t, err)
	report, err := run.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.Steps[0].Leveled)
	assert.Zero(t, intAt(t, r, "Player", 0, "xp"))
	assert.Equal(t, int64(2), intAt(t, r, "Player", 0, "level"))
}

func TestRun_LevelUpRequiredFromField(t *testing.T) {
	r := seedGame(t)
	run, err := NewRunner(r, config.SimulationConfig{Steps: []config.StepConfig{
		{Kind: KindLevelUp, Table: "Player", ReqField: "need", Min: 10, Max: 11},
	}}, Companions{}, nop())
	require.NoError(t, err)
	_, err = run.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(100), intAt(t, r, "Player", 0, "xp"))
	assert.Equal(t, int64(1), intAt(t, r, "Player", 0, "level"))
}

func TestRun_ProductionUsesMultiplierAndStoresTotal(t *testing.T) {
	r := seedGame(t)
	c, _ := testutil.SetupTestCache(t)
	run, err := NewRunner(r, config.SimulationConfig{Steps: []config.StepConfig{
		{Kind: KindProduction, Table: "Mine", TargetTable: "Totals", TargetField: "total"},
	}}, Companions{Cache: c}, nop())
	require.NoError(t, err)

	report, err := run.Run(context.Background())
	require.NoError(t, err)
	require.NotNil(t, report.Steps[0].Total)
	assert.Equal(t, 60.0, *report.Steps[0].Total)

	total, err := r.Meta("Totals").Entity(0).GetFloat("total")
	require.NoError(t, err)
	assert.Equal(t, 60.0, total)

	last, err := c.HGetAll(context.Background(), LastRunKey)
	require.NoError(t, err)
	assert.Equal(t, "60", last["production_total"])
	assert.Equal(t, report.TraceID, last["trace_id"])
}

func TestRun_ProductionFormula(t *testing.T) {
	r := seedGame(t)
	sb := script.NewSandbox(1, time.Second, nop())
	run, err := NewRunner(r, config.SimulationConfig{
		BonusFormula: "base * count * multiplier + 1",
		Steps:        []config.StepConfig{{Kind: KindProduction, Table: "Mine"}},
	}, Companions{Sandbox: sb}, nop())
	require.NoError(t, err)

	report, err := run.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 62.0, *report.Steps[0].Total)
}

func TestRun_ProductionWithoutParamsTable(t *testing.T) {
	r := seedGame(t)
	run, err := NewRunner(r, config.SimulationConfig{
		ParamsTable: "NoParams",
		Steps:       []config.StepConfig{{Kind: KindProduction, Table: "Mine"}},
	}, Companions{}, nop())
	require.NoError(t, err)
	report, err := run.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 40.0, *report.Steps[0].Total)
}

func TestRun_SkipsMissingAndEmptyTables(t *testing.T) {
	r := seedGame(t)
	run, err := NewRunner(r, config.SimulationConfig{Steps: []config.StepConfig{
		{Kind: KindDump, Table: "Ghost"},
		{Kind: KindBump, Table: "Empty", Field: "value"},
		{Kind: KindBump, Table: "Items", Field: "value", Pick: PickMatch, MatchField: "name", MatchValue: "nobody"},
	}}, Companions{}, nop())
	require.NoError(t, err)
	report, err := run.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Steps, 3)
	assert.Equal(t, "table not found", report.Steps[0].Skipped)
	assert.Equal(t, "table has no rows", report.Steps[1].Skipped)
	assert.Contains(t, report.Steps[2].Skipped, "nobody")
}

func TestRun_StepErrorAbortsAndIsJournaled(t *testing.T) {
	r := seedGame(t)
	require.NoError(t, r.Save())
	db := testutil.SetupTestDB(t)
	journal := audit.New(db, nop())

	run, err := NewRunner(r, config.SimulationConfig{Steps: []config.StepConfig{
		{Kind: KindBump, Table: "Items", Field: "value", Pick: PickFirst},
		{Kind: KindBump, Table: "Items", Field: "name"},
	}}, Companions{Journal: journal}, nop())
	require.NoError(t, err)

	report, err := run.Run(context.Background())
	assert.True(t, errors.Is(err, repo.ErrKindMismatch))
	assert.False(t, report.Saved)
	assert.False(t, r.Dirty(), "first step's change is rolled back")
	v, err := r.Meta("Items").Entity(0).GetInt("value")
	require.NoError(t, err)
	assert.Equal(t, int64(5), v)

	journal.Stop(context.Background())
	var entries []model.JournalEntry
	require.NoError(t, db.Find(&entries).Error)
	require.Len(t, entries, 1)
	assert.Equal(t, model.ActionSimulate, entries[0].Action)
	assert.Equal(t, report.TraceID, entries[0].TraceID)
	assert.Contains(t, entries[0].Error, "value kind mismatch")
}

func TestRun_RepoNotUsable(t *testing.T) {
	run, err := NewRunner(nil, config.SimulationConfig{}, Companions{}, nop())
	require.NoError(t, err)
	_, err = run.Run(context.Background())
	assert.ErrorIs(t, err, ErrNoRepo)

	unloaded := repo.New(t.TempDir()+"/repo.json", nop())
	run, err = NewRunner(unloaded, config.SimulationConfig{}, Companions{}, nop())
	require.NoError(t, err)
	_, err = run.Run(context.Background())
	assert.ErrorIs(t, err, repo.ErrNotLoaded)
}

func TestRun_CancelledContext(t *testing.T) {
	run, err := NewRunner(seedGame(t), config.SimulationConfig{}, Companions{}, nop())
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = run.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRun_CompanionsAndHooks(t *testing.T) {
	r := seedGame(t)
	hub := binder.NewHub(r, nil, nop())
	require.NoError(t, hub.Add(&binder.Binder{
		Name: "hero", Kind: binder.KindTemplate, Table: "Player", Template: "{name} Lv{level}", Target: &binder.TextField{},
	}))
	hooks := hook.NewHookCenter()
	var seen *Report
	hooks.Register(hook.AfterSimulate, 0, "test", func(_ context.Context, _ string, d interface{}) (interface{}, error) {
		seen = d.(*Report)
		return d, nil
	})

	comp := Companions{Binders: hub, Hooks: hooks}
	assert.Equal(t, []string{"binders", "hooks"}, comp.Present())

	run, err := NewRunner(r, config.SimulationConfig{Steps: []config.StepConfig{
		{Kind: KindLevelUp, Table: "Player", Pick: PickFirst},
	}}, comp, nop())
	require.NoError(t, err)
	report, err := run.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "hero Lv2", report.Binders["hero"])
	assert.Same(t, report, seen)
	assert.Equal(t, []string{"binders", "hooks"}, report.Companions)
}
