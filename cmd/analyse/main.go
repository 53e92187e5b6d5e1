// Command analyse runs the congestion pipeline over a batch of sensor
// observations and prints the classification, clustering, and signal timing
// results.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand/v2"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/banshee-data/congestion.report/internal/config"
	"github.com/banshee-data/congestion.report/internal/traffic"
	"github.com/banshee-data/congestion.report/internal/viz"
)

var (
	inputFile  = flag.String("input", "", "JSON file with an array of observations ({vpm, spd, den, expected?})")
	randomN    = flag.Int("random", 0, "Generate N random observations instead of reading -input")
	seed       = flag.Uint64("seed", 0, "Seed for -random generation (0 uses a nondeterministic source)")
	tuningFile = flag.String("tuning", "", "Tuning config JSON file (defaults apply when empty)")
	baseline   = flag.Bool("baseline", false, "Use the baseline optimizer (fixed iteration budget, no restarts)")
	chartsDir  = flag.String("charts", "", "Directory to write chart artifacts (empty disables)")
	jsonOut    = flag.Bool("json", false, "Emit the raw run result as JSON instead of tables")
)

func main() {
	flag.Parse()

	obs, err := loadObservations()
	if err != nil {
		log.Fatalf("Failed to load observations: %v", err)
	}

	cfg := config.DefaultTuningConfig()
	if *tuningFile != "" {
		cfg, err = config.LoadTuningConfig(*tuningFile)
		if err != nil {
			log.Fatalf("Failed to load tuning config: %v", err)
		}
	}

	engine := traffic.NewEngine(cfg.FuzzyParams())
	params := cfg.PipelineParams()
	if *baseline {
		params.Baseline = true
	}
	pipe := traffic.NewPipeline(engine, params)

	res, err := pipe.Run(context.Background(), obs)
	if err != nil {
		log.Fatalf("Pipeline failed: %v", err)
	}

	if *jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(res); err != nil {
			log.Fatalf("Failed to encode result: %v", err)
		}
	} else {
		printSensors(res)
		printClusters(res)
		printTimings(res)
		printFailures(res)
	}

	if *chartsDir != "" {
		if err := writeCharts(*chartsDir, engine.Params(), res, params.Cluster.Dissimilarity); err != nil {
			log.Fatalf("Failed to write charts: %v", err)
		}
	}
}

func loadObservations() ([]traffic.SensorObservation, error) {
	if *randomN > 0 {
		var rng *rand.Rand
		if *seed != 0 {
			rng = rand.New(rand.NewPCG(*seed, 0))
		}
		return traffic.RandomObservations(*randomN, rng), nil
	}
	if *inputFile == "" {
		return nil, fmt.Errorf("either -input or -random is required")
	}

	data, err := os.ReadFile(*inputFile)
	if err != nil {
		return nil, err
	}
	var obs []traffic.SensorObservation
	if err := json.Unmarshal(data, &obs); err != nil {
		return nil, fmt.Errorf("invalid observation file %q: %w", *inputFile, err)
	}
	return obs, nil
}

func printSensors(res *traffic.RunResult) {
	fmt.Println("Sensors")
	w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SENSOR\tVPM\tSPEED\tDENSITY\tCONGESTION\tCATEGORY\tEXPECTED\tCLUSTER")
	for _, row := range res.SensorRows() {
		if row.Error != "" {
			fmt.Fprintf(w, "%d\t%.1f\t%.1f\t%.1f\t-\t-\t%s\tfailed: %s\n",
				row.Sensor, row.VPM, row.Speed, row.Density, row.Expected, row.Error)
			continue
		}
		fmt.Fprintf(w, "%d\t%.1f\t%.1f\t%.1f\t%.2f\t%s\t%s\t%d\n",
			row.Sensor, row.VPM, row.Speed, row.Density,
			row.Congestion, row.Predicted, row.Expected, row.Cluster)
	}
	w.Flush()
	fmt.Println()
}

func printClusters(res *traffic.RunResult) {
	fmt.Println("Clusters")
	w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
	fmt.Fprintln(w, "CLUSTER\tSENSORS\tMEAN\tSTD\tMODE\tEXPECTED\tVPM\tSPEED\tDENSITY")
	for _, c := range res.Clusters {
		fmt.Fprintf(w, "%d\t%d\t%.2f\t%.2f\t%s\t%s\t%.2f\t%.2f\t%.2f\n",
			c.ClusterID, len(c.MemberIndices), c.CongestionMean, c.CongestionStd,
			c.PredictedMode, c.ExpectedMode, c.VPMMean, c.SpeedMean, c.DensityMean)
	}
	w.Flush()
	fmt.Println()
}

func printTimings(res *traffic.RunResult) {
	fmt.Println("Signal timings")
	w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
	fmt.Fprintln(w, "CLUSTER\tGREEN\tRED\tBASE\tCONGESTION\tCATEGORY\tIMPROVEMENT%\tITER\tRESTARTS\tCONVERGED")
	for _, t := range res.Timings {
		fmt.Fprintf(w, "%d\t%.2f\t%.2f\t%.2f\t%.2f\t%s\t%.2f\t%d\t%d\t%t\n",
			t.ClusterID, t.GreenTime, t.RedTime, t.BaseGreen,
			t.OptimizedCongestion, t.OptimizedCategory, t.ImprovementPct,
			t.Iterations, t.Restarts, t.Converged)
	}
	w.Flush()
	fmt.Println()
}

func printFailures(res *traffic.RunResult) {
	if len(res.SensorFailures) == 0 && len(res.ClusterFailures) == 0 {
		return
	}
	fmt.Println("Failures")
	for _, f := range res.SensorFailures {
		fmt.Printf("  sensor %d: %s\n", f.SensorIndex, f.Error)
	}
	for _, f := range res.ClusterFailures {
		fmt.Printf("  cluster %d: %s\n", f.ClusterID, f.Error)
	}
	fmt.Println()
}

func writeCharts(dir string, params traffic.FuzzyParams, res *traffic.RunResult, threshold float64) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	for _, v := range viz.MembershipVariables {
		png, err := viz.MembershipPlotPNG(params, v)
		if err != nil {
			return err
		}
		name := filepath.Join(dir, fmt.Sprintf("memberships_%s.png", v))
		if err := os.WriteFile(name, png, 0o644); err != nil {
			return err
		}
	}

	clusters, err := os.Create(filepath.Join(dir, "clusters.html"))
	if err != nil {
		return err
	}
	defer clusters.Close()
	if err := viz.RenderClusterScatter(clusters, res); err != nil {
		return err
	}

	timings, err := os.Create(filepath.Join(dir, "timings.html"))
	if err != nil {
		return err
	}
	defer timings.Close()
	if err := viz.RenderTimingBars(timings, res); err != nil {
		return err
	}

	linkage, err := os.Create(filepath.Join(dir, "linkage.html"))
	if err != nil {
		return err
	}
	defer linkage.Close()
	return viz.RenderLinkageBars(linkage, res, threshold)
}
