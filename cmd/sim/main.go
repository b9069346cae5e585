package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"aegir/internal/common"
	"aegir/internal/config"
	"aegir/internal/events"
	"aegir/internal/metrics"
	"aegir/internal/sim"
)

func main() {
	configPath := flag.String("config", "sim.yaml", "simulation config file")
	pretty := flag.Bool("pretty", false, "human-readable log output")
	flag.Parse()

	if *pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	ctx, stop := signal.NotifyContext(
		context.Background(),
		syscall.SIGTERM,
		syscall.SIGINT,
	)
	defer stop()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("unable to load config")
	}

	bus := events.NewBus(events.NewLoggerSink(log.Logger))
	if cfg.JournalPath != "" {
		journal, err := events.OpenJournal(cfg.JournalPath)
		if err != nil {
			log.Fatal().Err(err).Msg("unable to open event journal")
		}
		defer func() {
			if err := journal.Close(); err != nil {
				log.Error().Err(err).Msg("unable to close event journal")
			}
		}()
		bus.Attach(journal)
	}

	m := metrics.New()
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}))
		go func() {
			if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
				log.Error().Err(err).Msg("metrics server stopped")
			}
		}()
	}

	orch, err := build(cfg, bus, m)
	if err != nil {
		log.Fatal().Err(err).Msg("unable to build simulation")
	}

	log.Info().
		Int64("ticks", cfg.Ticks).
		Int("assets", len(cfg.Assets)).
		Int("traders", len(cfg.Traders)).
		Msg("simulation starting")

	if err := orch.Run(ctx); err != nil {
		log.Fatal().Err(err).Msg("simulation aborted")
	}
	log.Info().Msg("simulation complete")
}

// build wires assets, traders and their noise providers from config.
func build(cfg *config.Config, bus *events.Bus, m *metrics.Metrics) (*sim.Orchestrator, error) {
	orch := sim.New(sim.Config{
		Ticks:           cfg.Ticks,
		DecisionTimeout: cfg.DecisionTimeout(),
		AllowShort:      cfg.AllowShort,
		AllowMargin:     cfg.AllowMargin,
		DepthLevels:     cfg.DepthLevels,
		RecentTrades:    cfg.RecentTrades,
	}, bus, m)

	for _, a := range cfg.Assets {
		orch.AddAsset(common.Asset{
			Symbol:           a.Symbol,
			FundamentalValue: decimal.NewFromFloat(a.Fundamental),
			CurrentPrice:     decimal.NewFromFloat(a.Price),
			DividendYield:    decimal.NewFromFloat(a.DividendYield),
			Volatility:       decimal.NewFromFloat(a.Volatility),
		})
	}

	for i, t := range cfg.Traders {
		tier := common.TierPublic
		if t.Tier == "insider" {
			tier = common.TierInsider
		}
		provider := newNoiseProvider(cfg.Seed + int64(i))
		tr, err := orch.RegisterTrader(t.ID, tier, decimal.NewFromFloat(t.Cash), provider)
		if err != nil {
			return nil, err
		}
		for symbol, qty := range t.Positions {
			asset, ok := orch.Asset(symbol)
			if !ok {
				continue
			}
			tr.Portfolio.SetPosition(symbol, qty, asset.CurrentPrice)
		}
	}
	return orch, nil
}
