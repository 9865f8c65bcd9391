package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"geoframe/internal/config"
	"geoframe/internal/diag"
	"geoframe/internal/engine"
	"geoframe/internal/game"
	"geoframe/internal/geo"
	"geoframe/internal/layer"
)

func newRunCmd(root *rootOptions) *cobra.Command {
	var diagAddr string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Open the map window",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			if diagAddr != "" {
				cfg.Diagnostics.Enabled = true
				cfg.Diagnostics.Addr = diagAddr
				if err := cfg.Validate(); err != nil {
					return err
				}
			}
			log := newLogger(cfg, cmd.ErrOrStderr())
			return runWindow(cmd.Context(), cfg, log)
		},
	}
	cmd.Flags().StringVar(&diagAddr, "diag", "", "serve diagnostics on this address")
	return cmd
}

// loadMapInputs reads the optional GeoJSON file and GeoIP database named
// in the config.
func loadMapInputs(cfg config.Config) ([]byte, geo.Locator, error) {
	var data []byte
	if cfg.Map.GeoJSON != "" {
		b, err := os.ReadFile(cfg.Map.GeoJSON)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to read map data: %w", err)
		}
		data = b
	}
	mm, err := geo.OpenMaxMind(cfg.Map.GeoIPDB)
	if err != nil {
		return nil, nil, err
	}
	if mm == nil {
		return data, nil, nil
	}
	return data, mm, nil
}

func runWindow(ctx context.Context, cfg config.Config, log *zerolog.Logger) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	data, locator, err := loadMapInputs(cfg)
	if err != nil {
		return err
	}
	if mm, ok := locator.(*geo.MaxMind); ok {
		defer mm.Close()
	}

	eng, err := engine.New(cfg, engine.Options{
		Logger:    log,
		Surfaces:  layer.CanvasSurfaces,
		FPSSource: ebiten.ActualFPS,
		GeoJSON:   data,
		Locator:   locator,
	})
	if err != nil {
		return err
	}
	defer eng.Stop()
	eng.Start()

	if cfg.Diagnostics.Enabled {
		srv := diag.New(diag.Options{
			Addr:           cfg.Diagnostics.Addr,
			AllowedOrigins: cfg.Diagnostics.AllowedOrigins,
			Logger:         log,
		})
		publish := func() { srv.Publish(eng.Snapshot(), eng.Bus.History(0)) }
		publish()
		h := eng.Loop.Schedule(publish, cfg.Diagnostics.PublishInterval.D())
		defer eng.Loop.Cancel(h)

		srvCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		go func() {
			if err := srv.ListenAndServe(srvCtx); err != nil {
				log.Error().Err(err).Msg("diagnostics server stopped")
			}
		}()
	}

	return game.Run(eng, game.Options{Density: cfg.Display.Density, Logger: log})
}
