package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"syscall"

	"golang.org/x/exp/rand"

	"github.com/caldera-data/oscillation.report/internal/api"
	"github.com/caldera-data/oscillation.report/internal/fit"
	"github.com/caldera-data/oscillation.report/internal/fitstore"
	"github.com/caldera-data/oscillation.report/internal/hist"
	"github.com/caldera-data/oscillation.report/internal/metrics"
	"github.com/caldera-data/oscillation.report/internal/model"
	"github.com/caldera-data/oscillation.report/internal/monitoring"
	"github.com/caldera-data/oscillation.report/internal/pipeline"
	"github.com/caldera-data/oscillation.report/internal/plotting"
	"github.com/caldera-data/oscillation.report/internal/report"
)

const defaultMigrationsDir = "db/migrations"

// splitList splits a comma-separated flag value, dropping empties.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// parseInjections parses "name=value,name=value" flag values.
func parseInjections(s string) (map[string]float64, error) {
	out := map[string]float64{}
	for _, pair := range splitList(s) {
		name, value, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("injection %q: want name=value", pair)
		}
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return nil, fmt.Errorf("injection %q: %w", pair, err)
		}
		out[strings.TrimSpace(name)] = v
	}
	return out, nil
}

// linspace returns n evenly spaced points covering [lo, hi].
func linspace(lo, hi float64, n int) []float64 {
	if n < 2 {
		return []float64{lo}
	}
	out := make([]float64, n)
	step := (hi - lo) / float64(n-1)
	for i := range out {
		out[i] = lo + float64(i)*step
	}
	out[n-1] = hi
	return out
}

// buildModel loads one pipeline per config file and assembles them into
// a detector model with the given shared parameters.
func buildModel(configPaths, shared []string) (*model.DetectorModel, error) {
	if len(configPaths) == 0 {
		return nil, fmt.Errorf("no pipeline configs given (use --configs)")
	}
	var makers []*model.DistributionMaker
	for _, path := range configPaths {
		p, err := pipeline.LoadPipeline(path)
		if err != nil {
			return nil, fmt.Errorf("load pipeline %q: %w", path, err)
		}
		d, err := model.NewDistributionMaker(p.Name, p)
		if err != nil {
			return nil, err
		}
		makers = append(makers, d)
	}
	return model.NewDetectorModel(shared, makers...)
}

// pseudoData produces observations from the model at the injected
// parameter values, optionally Poisson-fluctuated, then resets the
// model to nominal.
func pseudoData(ctx context.Context, m *model.DetectorModel, inject map[string]float64, fluctuate bool, seed uint64) (fit.Observations, error) {
	for name, v := range inject {
		if err := m.SetValue(name, v); err != nil {
			return nil, err
		}
	}
	outs, err := m.GetOutputs(ctx)
	if err != nil {
		return nil, err
	}
	m.Reset()

	if fluctuate {
		return fluctuateOutputs(outs, seed), nil
	}
	data := fit.Observations{}
	for name, ms := range outs {
		data[name] = ms
	}
	return data, nil
}

// fluctuateOutputs draws Poisson pseudo-data from the expectations.
// One source feeds every detector, in sorted-name order, so draws are
// independent across detectors yet reproducible for a given seed.
func fluctuateOutputs(outs map[string]*hist.MapSet, seed uint64) fit.Observations {
	names := make([]string, 0, len(outs))
	for name := range outs {
		names = append(names, name)
	}
	sort.Strings(names)

	src := rand.NewSource(seed)
	data := fit.Observations{}
	for _, name := range names {
		data[name] = outs[name].Fluctuate(src)
	}
	return data
}

func openStore(path, migrationsDir string) (*fitstore.Store, error) {
	store, err := fitstore.Open(path)
	if err != nil {
		return nil, err
	}
	if err := store.MigrateUp(migrationsDir); err != nil {
		store.Close()
		return nil, err
	}
	return store, nil
}

func handleOutputs(args []string) {
	fs := flag.NewFlagSet("outputs", flag.ExitOnError)
	configs := fs.String("configs", "", "comma-separated pipeline config files")
	shared := fs.String("shared", "", "comma-separated shared parameter names")
	sum := fs.Bool("sum", false, "also print the channel-summed total per detector")
	plotDir := fs.String("plot-dir", "", "write PNG heatmap grids into this directory")
	fs.Parse(args)

	m, err := buildModel(splitList(*configs), splitList(*shared))
	if err != nil {
		log.Fatalf("failed to build model: %v", err)
	}

	outs, err := m.GetOutputs(context.Background())
	if err != nil {
		log.Fatalf("failed to compute outputs: %v", err)
	}

	for detector, ms := range outs {
		for _, ch := range ms.Maps {
			fmt.Printf("%-12s %-12s %12.2f events  [%s]\n", detector, ch.Name, ch.Total(), ch.Binning)
		}
		if *sum {
			total, err := ms.Sum()
			if err != nil {
				log.Fatalf("failed to sum %s channels: %v", detector, err)
			}
			fmt.Printf("%-12s %-12s %12.2f events\n", detector, "total", total.Total())
		}
		if *plotDir != "" {
			path := filepath.Join(*plotDir, detector+".png")
			if err := plotting.SaveMapSetGrid(ms, 3, plotting.HeatmapOptions{}, path); err != nil {
				log.Fatalf("failed to plot %s: %v", detector, err)
			}
			monitoring.Logf("wrote %s", path)
		}
	}
}

func handleFit(args []string) {
	fs := flag.NewFlagSet("fit", flag.ExitOnError)
	configs := fs.String("configs", "", "comma-separated pipeline config files")
	shared := fs.String("shared", "", "comma-separated shared parameter names")
	metric := fs.String("metric", metrics.Chi2, "comparison metric")
	inject := fs.String("inject", "", "pseudo-data truth as name=value,name=value")
	fluctuate := fs.Bool("fluctuate", false, "Poisson-fluctuate the pseudo-data")
	seed := fs.Uint64("seed", 1, "fluctuation seed")
	octants := fs.Bool("octants", false, "fit both theta23 octants, keep the better")
	settingsPath := fs.String("settings", "", "minimizer settings JSON (defaults used when empty)")
	dbPath := fs.String("db", "fits.db", "fit results database")
	migrationsDir := fs.String("migrations", defaultMigrationsDir, "migrations directory")
	reportDir := fs.String("report-dir", "", "write HTML report pages into this directory")
	fs.Parse(args)

	m, err := buildModel(splitList(*configs), splitList(*shared))
	if err != nil {
		log.Fatalf("failed to build model: %v", err)
	}
	injections, err := parseInjections(*inject)
	if err != nil {
		log.Fatalf("bad --inject: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	data, err := pseudoData(ctx, m, injections, *fluctuate, *seed)
	if err != nil {
		log.Fatalf("failed to build pseudo-data: %v", err)
	}

	settings := fit.DefaultSettings()
	if *settingsPath != "" {
		settings, err = fit.LoadSettings(*settingsPath)
		if err != nil {
			log.Fatalf("failed to load minimizer settings: %v", err)
		}
	}
	fitter, err := fit.NewFitter(settings)
	if err != nil {
		log.Fatalf("bad minimizer settings: %v", err)
	}

	res, err := fitter.Fit(ctx, m, data, *metric, *octants)
	if err != nil {
		log.Fatalf("fit failed: %v", err)
	}

	fmt.Printf("metric            %s = %.6g\n", res.Metric, res.MetricValue)
	fmt.Printf("converged         %t\n", res.Converged)
	fmt.Printf("octant flipped    %t\n", res.OctantFlipped)
	fmt.Printf("evaluations       %d\n", res.NumEvaluations)
	fmt.Printf("duration          %s\n", res.Duration)
	for name, v := range res.BestFit {
		fmt.Printf("  %-24s %.6g\n", name, v)
	}

	store, err := openStore(*dbPath, *migrationsDir)
	if err != nil {
		log.Fatalf("failed to open fit store: %v", err)
	}
	defer store.Close()

	modelName := strings.Join(splitList(*configs), "+")
	runID, err := store.RecordFit(modelName, res)
	if err != nil {
		log.Fatalf("failed to record fit: %v", err)
	}
	fmt.Printf("run id            %s\n", runID)

	if *reportDir != "" {
		writeFitReport(ctx, store, m, data, runID, *reportDir)
	}
}

// writeFitReport renders the run summary and per-detector comparison
// pages. The model must be at the best-fit point.
func writeFitReport(ctx context.Context, store *fitstore.Store, m *model.DetectorModel, data fit.Observations, runID, dir string) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		log.Fatalf("failed to create report dir: %v", err)
	}

	run, err := store.GetFitRun(runID)
	if err != nil {
		log.Fatalf("failed to re-read fit run: %v", err)
	}
	runPage, err := os.Create(filepath.Join(dir, "run.html"))
	if err != nil {
		log.Fatalf("failed to create report page: %v", err)
	}
	defer runPage.Close()
	if err := report.RenderFitRun(runPage, run); err != nil {
		log.Fatalf("failed to render fit run: %v", err)
	}

	expected, err := m.GetOutputs(ctx)
	if err != nil {
		log.Fatalf("failed to compute best-fit outputs: %v", err)
	}
	for detector, obs := range data {
		exp, ok := expected[detector]
		if !ok {
			continue
		}
		f, err := os.Create(filepath.Join(dir, detector+"_compare.html"))
		if err != nil {
			log.Fatalf("failed to create comparison page: %v", err)
		}
		if err := report.RenderComparison(f, detector, obs, exp); err != nil {
			f.Close()
			log.Fatalf("failed to render comparison for %s: %v", detector, err)
		}
		f.Close()
		monitoring.Logf("wrote %s", f.Name())
	}
}

func handleScan(args []string) {
	fs := flag.NewFlagSet("scan", flag.ExitOnError)
	configs := fs.String("configs", "", "comma-separated pipeline config files")
	shared := fs.String("shared", "", "comma-separated shared parameter names")
	metric := fs.String("metric", metrics.Chi2, "comparison metric")
	param := fs.String("param", "", "parameter to scan")
	lo := fs.Float64("lo", 0, "scan lower bound")
	hi := fs.Float64("hi", 0, "scan upper bound")
	points := fs.Int("points", 20, "number of scan points")
	inject := fs.String("inject", "", "pseudo-data truth as name=value,name=value")
	plotPath := fs.String("plot", "", "write the scan curve PNG to this path")
	dbPath := fs.String("db", "", "record the scan in this fit results database")
	migrationsDir := fs.String("migrations", defaultMigrationsDir, "migrations directory")
	fs.Parse(args)

	if *param == "" {
		log.Fatal("scan needs --param")
	}
	if !(*hi > *lo) {
		log.Fatalf("scan needs --hi (%v) above --lo (%v)", *hi, *lo)
	}

	m, err := buildModel(splitList(*configs), splitList(*shared))
	if err != nil {
		log.Fatalf("failed to build model: %v", err)
	}
	injections, err := parseInjections(*inject)
	if err != nil {
		log.Fatalf("bad --inject: %v", err)
	}

	ctx := context.Background()
	data, err := pseudoData(ctx, m, injections, false, 0)
	if err != nil {
		log.Fatalf("failed to build pseudo-data: %v", err)
	}

	values := linspace(*lo, *hi, *points)
	results, err := fit.Scan1D(ctx, m, data, *metric, *param, values)
	if err != nil {
		log.Fatalf("scan failed: %v", err)
	}

	best := 0
	for i, r := range results {
		fmt.Printf("%-24s %10.6g  %s = %.6g\n", *param, values[i], *metric, r)
		if r < results[best] {
			best = i
		}
	}
	fmt.Printf("minimum at %s = %.6g (%s = %.6g)\n", *param, values[best], *metric, results[best])

	if *plotPath != "" {
		if err := plotting.SaveScan(*param, *metric, values, results, *plotPath); err != nil {
			log.Fatalf("failed to plot scan: %v", err)
		}
		monitoring.Logf("wrote %s", *plotPath)
	}

	if *dbPath != "" {
		store, err := openStore(*dbPath, *migrationsDir)
		if err != nil {
			log.Fatalf("failed to open fit store: %v", err)
		}
		defer store.Close()
		runID, err := store.RecordFit(strings.Join(splitList(*configs), "+"), &fit.Result{
			Metric:      *metric,
			BestFit:     map[string]float64{*param: values[best]},
			MetricValue: results[best],
		})
		if err != nil {
			log.Fatalf("failed to record scan run: %v", err)
		}
		if err := store.RecordScan(runID, *param, values, results); err != nil {
			log.Fatalf("failed to record scan points: %v", err)
		}
		fmt.Printf("run id %s\n", runID)
	}
}

func handleMetrics(args []string) {
	fs := flag.NewFlagSet("metrics", flag.ExitOnError)
	configs := fs.String("configs", "", "comma-separated pipeline config files")
	shared := fs.String("shared", "", "comma-separated shared parameter names")
	inject := fs.String("inject", "", "pseudo-data truth as name=value,name=value")
	fluctuate := fs.Bool("fluctuate", true, "Poisson-fluctuate the pseudo-data")
	seed := fs.Uint64("seed", 1, "fluctuation seed")
	fs.Parse(args)

	m, err := buildModel(splitList(*configs), splitList(*shared))
	if err != nil {
		log.Fatalf("failed to build model: %v", err)
	}
	injections, err := parseInjections(*inject)
	if err != nil {
		log.Fatalf("bad --inject: %v", err)
	}

	ctx := context.Background()
	data, err := pseudoData(ctx, m, injections, *fluctuate, *seed)
	if err != nil {
		log.Fatalf("failed to build pseudo-data: %v", err)
	}

	failures := 0
	for _, name := range metrics.Names() {
		total, err := fit.TotalMetric(ctx, m, data, name)
		if err != nil {
			fmt.Printf("%-12s FAILED: %v\n", name, err)
			failures++
			continue
		}
		fmt.Printf("%-12s %.6g\n", name, total)
	}
	if failures > 0 {
		os.Exit(1)
	}
}

func handleServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configs := fs.String("configs", "", "optional pipeline configs for the live-outputs endpoint")
	shared := fs.String("shared", "", "comma-separated shared parameter names")
	dbPath := fs.String("db", "fits.db", "fit results database")
	migrationsDir := fs.String("migrations", defaultMigrationsDir, "migrations directory")
	listen := fs.String("listen", ":8080", "listen address")
	fs.Parse(args)

	store, err := openStore(*dbPath, *migrationsDir)
	if err != nil {
		log.Fatalf("failed to open fit store: %v", err)
	}
	defer store.Close()

	var m *model.DetectorModel
	if *configs != "" {
		m, err = buildModel(splitList(*configs), splitList(*shared))
		if err != nil {
			log.Fatalf("failed to build model: %v", err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := api.NewServer(store, m).ListenAndServe(ctx, *listen); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func handleMigrate(args []string) {
	fs := flag.NewFlagSet("migrate", flag.ExitOnError)
	dbPath := fs.String("db", "fits.db", "fit results database")
	migrationsDir := fs.String("migrations", defaultMigrationsDir, "migrations directory")
	fs.Parse(args)

	if fs.NArg() < 1 {
		log.Fatal("migrate needs a subcommand: up, down, or status")
	}

	store, err := fitstore.Open(*dbPath)
	if err != nil {
		log.Fatalf("failed to open fit store: %v", err)
	}
	defer store.Close()

	switch fs.Arg(0) {
	case "up":
		if err := store.MigrateUp(*migrationsDir); err != nil {
			log.Fatalf("migrate up failed: %v", err)
		}
		fmt.Println("migrations applied")
	case "down":
		if err := store.MigrateDown(*migrationsDir); err != nil {
			log.Fatalf("migrate down failed: %v", err)
		}
		fmt.Println("rolled back one migration")
	case "status":
		version, dirty, err := store.MigrateVersion(*migrationsDir)
		if err != nil {
			log.Fatalf("migrate status failed: %v", err)
		}
		fmt.Printf("version %d dirty %t\n", version, dirty)
	default:
		log.Fatalf("unknown migrate subcommand %q", fs.Arg(0))
	}
}
