package main

import (
	"flag"
	"fmt"
	"os"

	_ "modernc.org/sqlite"
)

const version = "0.3.0"

func main() {
	flag.Usage = printUsage
	flag.Parse()

	if flag.NArg() < 1 {
		printUsage()
		os.Exit(1)
	}

	command := flag.Arg(0)
	args := flag.Args()[1:]

	switch command {
	case "outputs":
		handleOutputs(args)
	case "fit":
		handleFit(args)
	case "scan":
		handleScan(args)
	case "metrics":
		handleMetrics(args)
	case "serve":
		handleServe(args)
	case "migrate":
		handleMigrate(args)
	case "version":
		fmt.Printf("oscillation-report version %s\n", version)
	case "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`oscillation-report - neutrino oscillation analysis over binned event distributions

Usage: oscillation-report <command> [options]

Commands:
  outputs    Compute and print the model's expected distributions
  fit        Run a hypothesis fit against observed or pseudo-data
  scan       Scan the metric along one parameter
  metrics    Evaluate every metric against pseudo-data, reporting failures
  serve      Serve stored fit runs and live distributions over HTTP
  migrate    Manage the fit results database schema
  version    Show oscillation-report version
  help       Show this help message

Common Flags:
  --configs <a.yaml,b.yaml>   Pipeline config files, one per detector
  --shared <theta23,...>      Parameter names shared across detectors
  --metric <name>             Comparison metric (chi2, mod_chi2, llh,
                              conv_llh, mcllh_eff, mcllh_ing)
  --db <path>                 Fit results database (default fits.db)

Examples:
  # Expected distributions for two detectors, with PNG heatmaps
  oscillation-report outputs --configs config/deepcore.yaml,config/upgrade.yaml \
      --shared theta23,deltam31 --plot-dir plots/

  # Fit theta23 against Asimov pseudo-data injected away from nominal
  oscillation-report fit --configs config/deepcore.yaml --shared theta23 \
      --inject theta23=0.7 --metric chi2 --octants

  # Scan the metric along theta23 and store the curve with the run
  oscillation-report scan --configs config/deepcore.yaml --param theta23 \
      --lo 0.55 --hi 1.0 --points 20

  # Serve stored runs on :8080
  oscillation-report serve --db fits.db --listen :8080`)
}
