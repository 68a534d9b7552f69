package main

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"runtime/pprof"
	"time"

	"github.com/paulmach/orb"
	"github.com/spf13/cobra"

	"web/estatemap/cluster"
	"web/estatemap/listing"
)

type profileOptions struct {
	cpuprofile string
	memprofile string
	points     int
	zoom       int
	all        bool
}

func newProfileCommand(e *env) *cobra.Command {
	opts := &profileOptions{}
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Profile index build and query on generated listings",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProfile(cmd.OutOrStdout(), e, opts)
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.cpuprofile, "cpuprofile", "", "write cpu profile to file")
	f.StringVar(&opts.memprofile, "memprofile", "", "write heap profile to file")
	f.IntVar(&opts.points, "points", 100000, "number of listings to generate")
	f.IntVar(&opts.zoom, "zoom", 8, "zoom level to query")
	f.BoolVar(&opts.all, "all", false, "run the full battery of point counts and zooms")
	return cmd
}

func runProfile(out io.Writer, e *env, opts *profileOptions) error {
	if opts.cpuprofile != "" {
		f, err := os.Create(opts.cpuprofile)
		if err != nil {
			return fmt.Errorf("create cpu profile: %w", err)
		}
		defer f.Close()
		if err := pprof.StartCPUProfile(f); err != nil {
			return fmt.Errorf("start cpu profile: %w", err)
		}
		defer pprof.StopCPUProfile()
	}

	if opts.all {
		if err := runProfileBattery(out, e); err != nil {
			return err
		}
	} else {
		fmt.Fprintf(out, "Profiling with %d points at zoom level %d\n", opts.points, opts.zoom)
		row, err := profileOnce(e, opts.points, opts.zoom)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Build completed in %v (%d clusters)\n", row.build, row.clusters)
		fmt.Fprintf(out, "Query returned %d nodes in %v\n", row.nodes, row.query)
		fmt.Fprintf(out, "Memory allocated: %.2f MB, GC runs: %d\n", row.allocMB, row.gcRuns)
	}

	if opts.memprofile != "" {
		f, err := os.Create(opts.memprofile)
		if err != nil {
			return fmt.Errorf("create memory profile: %w", err)
		}
		defer f.Close()
		runtime.GC()
		if err := pprof.WriteHeapProfile(f); err != nil {
			return fmt.Errorf("write memory profile: %w", err)
		}
	}
	return nil
}

type profileRow struct {
	build    time.Duration
	query    time.Duration
	clusters int
	nodes    int
	allocMB  float64
	gcRuns   uint32
}

// profileView is a viewport over the central US used for query timing.
var profileView = orb.Bound{Min: orb.Point{-100, 35}, Max: orb.Point{-90, 42}}

func profileOnce(e *env, numPoints, zoom int) (profileRow, error) {
	points := listing.Generate(numPoints, listing.ContinentalUS, 42)

	var before, after runtime.MemStats
	runtime.ReadMemStats(&before)

	start := time.Now()
	idx, err := cluster.Build(points, clusterOptions(e.cfg))
	if err != nil {
		return profileRow{}, err
	}
	build := time.Since(start)

	start = time.Now()
	nodes := idx.ClustersInBounds(profileView, zoom)
	query := time.Since(start)

	runtime.ReadMemStats(&after)
	return profileRow{
		build:    build,
		query:    query,
		clusters: idx.NumClusters(),
		nodes:    len(nodes),
		allocMB:  float64(after.TotalAlloc-before.TotalAlloc) / 1024 / 1024,
		gcRuns:   after.NumGC - before.NumGC,
	}, nil
}

func runProfileBattery(out io.Writer, e *env) error {
	pointCounts := []int{1000, 10000, 50000, 100000}
	zoomLevels := []int{2, 5, 8, 12, 15}

	fmt.Fprintln(out, "Running profile battery...")
	fmt.Fprintf(out, "%-10s | %-6s | %-15s | %-15s | %-8s | %-11s | %-7s\n",
		"Points", "Zoom", "Build", "Query", "Nodes", "Memory (MB)", "GC Runs")
	fmt.Fprintf(out, "%s\n", "----------------------------------------------------------------------------------------")

	for _, n := range pointCounts {
		for _, zoom := range zoomLevels {
			row, err := profileOnce(e, n, zoom)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%-10d | %-6d | %-15s | %-15s | %-8d | %-11.2f | %-7d\n",
				n, zoom, row.build, row.query, row.nodes, row.allocMB, row.gcRuns)
		}
		fmt.Fprintf(out, "%s\n", "----------------------------------------------------------------------------------------")
	}
	return nil
}
