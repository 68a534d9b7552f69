package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"web/estatemap/cluster"
	"web/estatemap/listing"
	"web/estatemap/logging"
)

type buildOptions struct {
	generate int
	seed     int64
	save     string
	store    bool
}

func newBuildCommand(e *env) *cobra.Command {
	opts := &buildOptions{}
	cmd := &cobra.Command{
		Use:   "build [listings-file]",
		Short: "Build an index and print per-zoom statistics",
		Long: "Build a cluster index from a listings file (GeoJSON or snapshot, optionally\n" +
			"zstd-compressed) or from generated demo data, then print the number of\n" +
			"nodes at every zoom level.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			points, err := buildInput(args, opts)
			if err != nil {
				return err
			}
			return runBuild(cmd.OutOrStdout(), e, points, opts)
		},
	}
	f := cmd.Flags()
	f.IntVar(&opts.generate, "generate", 0, "generate this many demo listings instead of reading a file")
	f.Int64Var(&opts.seed, "seed", 42, "seed for --generate")
	f.StringVar(&opts.save, "save", "", "write the points to this path (.geojson, .pts, optional .zst)")
	f.BoolVar(&opts.store, "store", false, "save the points as a dataset under data.datasets")
	return cmd
}

func buildInput(args []string, opts *buildOptions) ([]cluster.Point, error) {
	switch {
	case opts.generate > 0 && len(args) > 0:
		return nil, fmt.Errorf("give either a listings file or --generate, not both")
	case opts.generate > 0:
		return listing.Generate(opts.generate, listing.ContinentalUS, opts.seed), nil
	case len(args) == 1:
		return listing.LoadFile(args[0])
	default:
		return nil, fmt.Errorf("a listings file or --generate is required")
	}
}

func runBuild(out io.Writer, e *env, points []cluster.Point, opts *buildOptions) error {
	start := time.Now()
	idx, err := cluster.Build(points, clusterOptions(e.cfg))
	if err != nil {
		return err
	}
	elapsed := time.Since(start)

	fmt.Fprintf(out, "Indexed %d points into %d clusters in %v\n", idx.Len(), idx.NumClusters(), elapsed)
	fmt.Fprintf(out, "%-6s | %-10s\n", "Zoom", "Nodes")
	fmt.Fprintf(out, "%s\n", "-------------------")
	for z := 0; z <= idx.Options().MaxZoom; z++ {
		fmt.Fprintf(out, "%-6d | %-10d\n", z, idx.LevelSize(z))
	}

	if opts.save != "" {
		if err := listing.SaveFile(opts.save, points); err != nil {
			return err
		}
		if st, err := os.Stat(opts.save); err == nil {
			fmt.Fprintf(out, "Saved %s (%s)\n", opts.save, listing.FormatFileSize(st.Size()))
		}
	}
	if opts.store {
		store, err := listing.NewStore(e.cfg.Data.Datasets)
		if err != nil {
			return err
		}
		ds, err := store.Save(points)
		if err != nil {
			return err
		}
		e.logger.Info("dataset saved", logging.String("dataset", ds.ID), logging.Int("points", ds.NumPoints))
		fmt.Fprintf(out, "Stored dataset %s (%s)\n", ds.ID, listing.FormatFileSize(ds.FileSize))
	}
	return nil
}
