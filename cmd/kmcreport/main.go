// Command kmcreport summarizes recorded runs: the run list, final electrode
// counters and populations, drain transit statistics, and trajectory files.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/talgya/langmuir/internal/persistence"
	"github.com/talgya/langmuir/internal/trajectory"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))
	slog.SetDefault(logger)

	var (
		dbPath = flag.String("db", envOrDefault("LANGMUIR_DB", "data/langmuir.db"), "statistics database (env LANGMUIR_DB)")
		runID  = flag.String("run", "", "run ID to report; default is the most recent run")
		list   = flag.Int("list", 0, "list the N most recent runs and exit")
		series = flag.String("series", "", "print the sampled counter series of one electrode, e.g. hole-source")
		traj   = flag.String("trajectory", "", "summarize a frames-NNNN.jsonl.zst file instead of the database")
		asJSON = flag.Bool("json", false, "emit JSON instead of tables")
	)
	flag.Parse()

	if *traj != "" {
		if err := reportTrajectory(*traj, *asJSON); err != nil {
			slog.Error("trajectory report failed", "path", *traj, "error", err)
			os.Exit(1)
		}
		return
	}

	db, err := persistence.Open(*dbPath)
	if err != nil {
		slog.Error("failed to open database", "path", *dbPath, "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if *list > 0 {
		runs, err := db.RecentRuns(*list)
		if err != nil {
			slog.Error("query runs failed", "error", err)
			os.Exit(1)
		}
		if *asJSON {
			printJSON(runs)
			return
		}
		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "RUN\tSTARTED\tSTATUS\tTICKS\tSEED")
		for _, r := range runs {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
				r.ID, humanize.Time(r.Started()), r.Status, humanize.Comma(int64(r.LastTick)), r.Seed)
		}
		tw.Flush()
		return
	}

	id := *runID
	if id == "" {
		runs, err := db.RecentRuns(1)
		if err != nil || len(runs) == 0 {
			slog.Error("no runs recorded", "path", *dbPath, "error", err)
			os.Exit(1)
		}
		id = runs[0].ID
	}

	if *series != "" {
		rows, err := db.FluxSeries(id, *series)
		if err != nil {
			slog.Error("query series failed", "error", err)
			os.Exit(1)
		}
		if *asJSON {
			printJSON(rows)
			return
		}
		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "TICK\tATTEMPTS\tSUCCESSES\tRATE")
		for _, r := range rows {
			fmt.Fprintf(tw, "%d\t%d\t%d\t%.4f\n", r.Tick, r.Attempts, r.Successes, r.Rate)
		}
		tw.Flush()
		return
	}

	if err := reportRun(db, id, *asJSON); err != nil {
		slog.Error("report failed", "run", id, "error", err)
		os.Exit(1)
	}
}

func reportRun(db *persistence.DB, id string, asJSON bool) error {
	run, err := db.GetRun(id)
	if err != nil {
		return fmt.Errorf("get run: %w", err)
	}
	flux, err := db.FinalFlux(id)
	if err != nil {
		return fmt.Errorf("final flux: %w", err)
	}
	pop, err := db.FinalPopulation(id)
	if err != nil {
		return fmt.Errorf("final population: %w", err)
	}
	exits, err := db.SummarizeExits(id)
	if err != nil {
		return fmt.Errorf("exit summary: %w", err)
	}

	if asJSON {
		printJSON(map[string]any{
			"run":        run,
			"flux":       flux,
			"population": pop,
			"exits":      exits,
		})
		return nil
	}

	fmt.Printf("Run %s (%s)\n", run.ID, run.Status)
	fmt.Printf("  started %s, seed %s, %s ticks", humanize.Time(run.Started()), run.Seed, humanize.Comma(int64(run.LastTick)))
	if run.FinishedAt > 0 {
		fmt.Printf(", wall time %s", time.Unix(run.FinishedAt, 0).Sub(run.Started()))
	}
	fmt.Println()

	fmt.Println("\nElectrodes")
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "  NAME\tATTEMPTS\tSUCCESSES\tRATE")
	for _, f := range flux {
		fmt.Fprintf(tw, "  %s\t%s\t%s\t%.4f\n", f.Name,
			humanize.Comma(int64(f.Attempts)), humanize.Comma(int64(f.Successes)), f.Rate)
	}
	tw.Flush()

	fmt.Println("\nCarriers")
	tw = tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "  TYPE\tLIVE\tINJECTED\tREACHED\tPERCENT")
	for _, p := range pop {
		fmt.Fprintf(tw, "  %s\t%d\t%s\t%s\t%.2f%%\n", p.CarrierType, p.Count,
			humanize.Comma(int64(p.Injected)), humanize.Comma(int64(p.Reached)), p.PercentReached)
	}
	tw.Flush()

	if len(exits) > 0 {
		fmt.Println("\nDrain transit")
		tw = tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "  TYPE\tEXITS\tMEAN LIFETIME\tMEAN PATH")
		for _, e := range exits {
			fmt.Fprintf(tw, "  %s\t%s\t%.1f\t%.1f\n", e.CarrierType,
				humanize.Comma(int64(e.Count)), e.MeanLifetime, e.MeanPathLength)
		}
		tw.Flush()
	}
	return nil
}

func reportTrajectory(path string, asJSON bool) error {
	st, err := os.Stat(path)
	if err != nil {
		return err
	}
	frames, err := trajectory.ReadFrames(path)
	if err != nil {
		return err
	}
	summary := struct {
		Path        string `json:"path"`
		Bytes       int64  `json:"bytes"`
		Frames      int    `json:"frames"`
		FirstTick   uint64 `json:"first_tick"`
		LastTick    uint64 `json:"last_tick"`
		MaxCarriers int    `json:"max_carriers"`
		Traps       int    `json:"traps"`
		Defects     int    `json:"defects"`
	}{Path: path, Bytes: st.Size(), Frames: len(frames)}
	for i, f := range frames {
		if i == 0 {
			summary.FirstTick = f.Tick
		}
		summary.LastTick = f.Tick
		summary.MaxCarriers = max(summary.MaxCarriers, len(f.Carriers))
		summary.Traps = max(summary.Traps, len(f.Traps))
		summary.Defects = max(summary.Defects, len(f.Defects))
	}

	if asJSON {
		printJSON(summary)
		return nil
	}
	fmt.Printf("%s (%s compressed)\n", path, humanize.Bytes(uint64(summary.Bytes)))
	fmt.Printf("  %d frames, ticks %d to %d\n", summary.Frames, summary.FirstTick, summary.LastTick)
	fmt.Printf("  peak carriers %d, traps %d, defects %d\n", summary.MaxCarriers, summary.Traps, summary.Defects)
	return nil
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(v)
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
