package persistence

import (
	"path/filepath"
	"testing"

	"github.com/talgya/langmuir/internal/engine"
)

func openTest(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "stats.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func report(tick uint64, attempts, successes uint64, exits ...engine.Exit) *engine.TickReport {
	rate := 0.0
	if attempts > 0 {
		rate = float64(successes) / float64(attempts)
	}
	return &engine.TickReport{
		Tick: tick,
		Flux: []engine.FluxStat{
			{Name: "hole-source", Kind: "source", CarrierType: "hole", Attempts: attempts, Successes: successes, Rate: rate},
			{Name: "hole-drain", Kind: "drain", CarrierType: "hole", Attempts: uint64(len(exits)), Successes: uint64(len(exits)), Rate: 1},
		},
		Population: []engine.PopulationStat{
			{CarrierType: "hole", Count: int(successes), Injected: successes},
		},
		Exits: exits,
	}
}

func TestRecordTick_RequiresRun(t *testing.T) {
	db := openTest(t)
	if err := db.RecordTick(report(1, 1, 1)); err == nil {
		t.Errorf("RecordTick before StartRun succeeded")
	}
}

func TestRunLifecycle(t *testing.T) {
	db := openTest(t)
	id, err := db.StartRun(1<<63+5, map[string]int{"ticks": 3})
	if err != nil {
		t.Fatal(err)
	}
	if id == "" || db.RunID() != id {
		t.Fatalf("run id %q / %q", id, db.RunID())
	}

	exit := engine.Exit{Tick: 3, CarrierID: 7, CarrierType: "hole", X: 9, Lifetime: 30, PathLength: 12}
	for _, r := range []*engine.TickReport{report(1, 1, 1), report(2, 2, 1), report(3, 3, 2, exit)} {
		if err := db.RecordTick(r); err != nil {
			t.Fatalf("RecordTick %d: %v", r.Tick, err)
		}
	}
	if err := db.FinishRun(3, "completed"); err != nil {
		t.Fatal(err)
	}

	run, err := db.GetRun(id)
	if err != nil {
		t.Fatal(err)
	}
	if run.Status != "completed" || run.LastTick != 3 || run.Seed != "9223372036854775813" {
		t.Errorf("run = %+v", run)
	}
	if run.Started().IsZero() || run.Config != `{"ticks":3}` {
		t.Errorf("run started %v config %q", run.Started(), run.Config)
	}

	series, err := db.FluxSeries(id, "hole-source")
	if err != nil {
		t.Fatal(err)
	}
	if len(series) != 3 || series[2].Attempts != 3 || series[2].Successes != 2 {
		t.Errorf("series = %+v", series)
	}

	final, err := db.FinalFlux(id)
	if err != nil {
		t.Fatal(err)
	}
	if len(final) != 2 || final[0].Tick != 3 || final[0].Name != "hole-source" {
		t.Errorf("final flux = %+v", final)
	}

	pop, err := db.FinalPopulation(id)
	if err != nil {
		t.Fatal(err)
	}
	if len(pop) != 1 || pop[0].Count != 2 {
		t.Errorf("final population = %+v", pop)
	}

	exits, err := db.Exits(id, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(exits) != 1 || exits[0] != exit {
		t.Errorf("exits = %+v", exits)
	}
	sum, err := db.SummarizeExits(id)
	if err != nil {
		t.Fatal(err)
	}
	if len(sum) != 1 || sum[0].Count != 1 || sum[0].MeanPathLength != 12 {
		t.Errorf("summary = %+v", sum)
	}

	runs, err := db.RecentRuns(5)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 || runs[0].ID != id {
		t.Errorf("runs = %+v", runs)
	}
}

func TestRecordTick_Sampling(t *testing.T) {
	db := openTest(t)
	db.Every = 10
	id, err := db.StartRun(1, nil)
	if err != nil {
		t.Fatal(err)
	}
	exit := engine.Exit{Tick: 4, CarrierID: 2, CarrierType: "hole"}
	for tick := uint64(1); tick <= 25; tick++ {
		r := report(tick, tick, tick/2)
		if tick == 4 {
			r = report(tick, tick, tick/2, exit)
		}
		if err := db.RecordTick(r); err != nil {
			t.Fatal(err)
		}
	}
	series, err := db.FluxSeries(id, "hole-source")
	if err != nil {
		t.Fatal(err)
	}
	if len(series) != 2 || series[0].Tick != 10 || series[1].Tick != 20 {
		t.Errorf("sampled ticks = %+v", series)
	}
	exits, _ := db.Exits(id, 10)
	if len(exits) != 1 {
		t.Errorf("exits on unsampled tick lost: %+v", exits)
	}
}

func TestMeta(t *testing.T) {
	db := openTest(t)
	if err := db.SaveMeta("last_run", "abc"); err != nil {
		t.Fatal(err)
	}
	if err := db.SaveMeta("last_run", "def"); err != nil {
		t.Fatal(err)
	}
	v, err := db.GetMeta("last_run")
	if err != nil || v != "def" {
		t.Errorf("GetMeta = %q, %v", v, err)
	}
	if _, err := db.GetMeta("missing"); err == nil {
		t.Errorf("GetMeta of missing key succeeded")
	}
}
