package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/paulmach/orb/geojson"
	"github.com/spf13/cobra"

	"web/estatemap/api"
	"web/estatemap/cluster"
	"web/estatemap/isochrone"
	"web/estatemap/listing"
	"web/estatemap/logging"
	"web/estatemap/metrics"
	"web/estatemap/overlay"
	"web/estatemap/poi"
	"web/estatemap/runner"
	"web/estatemap/session"
)

func newServeCommand(e *env) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr != "" {
				e.cfg.Server.Addr = addr
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, e)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	return cmd
}

func loadNeighborhoods(path string) (*overlay.NeighborhoodIndex, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read neighborhoods: %w", err)
	}
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("decode neighborhoods: %w", err)
	}
	return overlay.NewNeighborhoodIndex(overlay.NeighborhoodsFromFeatures(fc)), nil
}

func serve(ctx context.Context, e *env) error {
	cfg, logger := e.cfg, e.logger
	m := metrics.New()

	opts := session.Options{
		Cluster:      clusterOptions(cfg),
		PaddingRatio: cfg.Viewport.PaddingRatio,
		POI:          poi.NewOverpassSource(cfg.POI.Endpoint, cfg.POI.Amenity, cfg.POI.Timeout),
		Metrics:      m,
		Logger:       logger.Named("session"),
	}
	if cfg.Isochrone.BaseURL != "" {
		opts.Fetcher = isochrone.NewClient(cfg.Isochrone.BaseURL, cfg.Isochrone.Token, cfg.Isochrone.Timeout)
	} else {
		logger.Warn("isochrone.base_url not set, isochrones disabled")
	}
	if cfg.Data.Neighborhoods != "" {
		idx, err := loadNeighborhoods(cfg.Data.Neighborhoods)
		if err != nil {
			return err
		}
		opts.Neighborhoods = idx
		logger.Info("neighborhoods loaded", logging.Int("count", idx.Len()))
	}

	store, err := listing.NewStore(cfg.Data.Datasets)
	if err != nil {
		return err
	}

	r := runner.New(runner.Config{
		MaxSessions: cfg.Runner.MaxSessions,
		IdleTTL:     cfg.Runner.IdleTTL,
		Session:     opts,
		Store:       store,
		Logger:      logger,
		Metrics:     m,
	})
	defer r.Close()

	if cfg.Data.Listings != "" {
		if err := preload(ctx, e, r); err != nil {
			return err
		}
	}

	srv := api.NewServer(api.Config{
		Addr:         cfg.Server.Addr,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}, r, m, logger)
	return srv.Run(ctx)
}

// preload creates a session over the configured listings file and, when
// enabled, rebuilds it whenever the file changes.
func preload(ctx context.Context, e *env, r *runner.SessionRunner) error {
	path := e.cfg.Data.Listings
	points, err := listing.LoadFile(path)
	if err != nil {
		return err
	}
	info, err := r.Create(points)
	if err != nil {
		return err
	}
	e.logger.Info("listings preloaded",
		logging.String("path", path),
		logging.String("session", info.ID),
		logging.Int("points", len(points)))

	if !e.cfg.Data.WatchListings {
		return nil
	}
	go func() {
		err := listing.Watch(ctx, path, e.logger, func(points []cluster.Point) {
			sess, err := r.Get(info.ID)
			if err != nil {
				e.logger.Warn("preloaded session is gone, reload skipped", logging.String("session", info.ID))
				return
			}
			if err := sess.BuildIndex(points); err != nil {
				e.logger.Error("rebuild after reload failed", logging.Err(err))
			}
		})
		if err != nil {
			e.logger.Error("listing watch stopped", logging.Err(err))
		}
	}()
	return nil
}
