// ====================================
// File: cmd/pricer/main.go
// ====================================
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gagliardetto/solana-go"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rovshanmuradov/solana-pricer/internal/blockchain/solbc/rpc"
	"github.com/rovshanmuradov/solana-pricer/internal/config"
	"github.com/rovshanmuradov/solana-pricer/internal/dex"
	"github.com/rovshanmuradov/solana-pricer/internal/dex/calc"
	"github.com/rovshanmuradov/solana-pricer/internal/dex/model"
	"github.com/rovshanmuradov/solana-pricer/internal/discovery"
	"github.com/rovshanmuradov/solana-pricer/internal/fetcher"
	"github.com/rovshanmuradov/solana-pricer/internal/pool"
	"github.com/rovshanmuradov/solana-pricer/internal/pricing"
	"github.com/rovshanmuradov/solana-pricer/internal/publish"
	"github.com/rovshanmuradov/solana-pricer/internal/server"
	"github.com/rovshanmuradov/solana-pricer/internal/tokens"
	"github.com/rovshanmuradov/solana-pricer/internal/utils/logger"
	"github.com/rovshanmuradov/solana-pricer/internal/utils/metrics"
)

var version = "dev"

const startupRetryWindow = 30 * time.Second

func main() {
	root := &cobra.Command{
		Use:          "pricer",
		Short:        "Solana pool account pricer",
		SilenceUsage: true,
	}
	root.PersistentFlags().String("config", "configs/config.yaml", "config file path")
	root.PersistentFlags().String("env-file", ".env", "optional dotenv file")

	root.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Fetch pool accounts and publish prices",
		RunE:  runPricer,
	})
	root.AddCommand(&cobra.Command{
		Use:   "check",
		Short: "Validate configuration and the pools file",
		RunE:  runCheck,
	})
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	})

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	envFile, _ := cmd.Flags().GetString("env-file")
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}
	cfgFile, _ := cmd.Flags().GetString("config")
	return config.Load(cfgFile)
}

func runCheck(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	log := zap.NewNop()
	registry := dex.NewRegistry(nil, log, dex.Options{LegacyProgram: cfg.Decoders.LegacyProgram()}, nil)
	loader := discovery.NewLoader(pool.NewDirectory(log), registry, log)
	if cfg.Pools.File == "" {
		fmt.Fprintln(cmd.OutOrStdout(), "config ok, no pools file configured")
		return nil
	}
	descs, err := loader.ParseFile(cfg.Pools.File)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "config ok, %d pools, protocols: %v\n", len(descs), registry.Protocols())
	return nil
}

func runPricer(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	appLogger, err := logger.New(cfg.Logging.Logger())
	if err != nil {
		return err
	}
	defer func() { _ = appLogger.Sync() }()
	log := appLogger.Logger

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.NewCollector()

	transport, err := rpc.NewTransport(cfg.RPC.Transport(), log, m)
	if err != nil {
		return err
	}
	if _, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, transport.Probe(ctx)
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxElapsedTime(startupRetryWindow),
		backoff.WithNotify(func(err error, next time.Duration) {
			log.Warn("RPC probe failed, retrying", zap.Error(err), zap.Duration("next", next))
		}),
	); err != nil {
		return fmt.Errorf("no reachable rpc endpoint: %w", err)
	}

	decimals, err := tokens.NewDecimalsCache(cfg.Tokens.DecimalsCacheSize)
	if err != nil {
		return err
	}
	mintLoader := tokens.NewMintLoader(transport, decimals, cfg.Tokens.MintBatchDelay, log)
	positions := tokens.NewPositions(cfg.Tokens.Mints()...)

	registry := dex.NewRegistry(decimals, log, dex.Options{
		LegacyProgram: cfg.Decoders.LegacyProgram(),
		Pricing:       calc.Options{FullConfidenceSOL: cfg.Decoders.MinConfidenceSOL},
	}, m)

	latest := publish.NewLatestTable()
	sinks := []publish.Sink{{Name: "latest", Publisher: latest}}
	var throttle *publish.Throttle
	if cfg.Publish.Redis.Enabled {
		redisPub := publish.NewRedisPublisher(cfg.Publish.Redis.Sink())
		defer func() { _ = redisPub.Close() }()
		if _, err := backoff.Retry(ctx, func() (struct{}, error) {
			return struct{}{}, redisPub.Ping(ctx)
		},
			backoff.WithBackOff(backoff.NewExponentialBackOff()),
			backoff.WithMaxElapsedTime(startupRetryWindow),
		); err != nil {
			return fmt.Errorf("redis unavailable: %w", err)
		}
		throttle = publish.NewThrottle(redisPub, cfg.Publish.MinInterval, log)
		sinks = append(sinks, publish.Sink{Name: "redis", Publisher: throttle})
	}

	var history *publish.History
	if cfg.Publish.History.File != "" {
		history, err = publish.NewHistory(cfg.Publish.History.File, cfg.Publish.History.FlushInterval, log)
		if err != nil {
			return err
		}
		sinks = append(sinks, publish.Sink{Name: "history", Publisher: history})
	}

	opts := []pricing.Option{
		pricing.WithMintResolver(mintLoader),
		pricing.WithUSDQuoter(pricing.StableQuoter{Stable: model.USDCMint, Source: latest}),
	}
	if len(cfg.Calculator.Corrections) > 0 {
		opts = append(opts, pricing.WithCorrection(pricing.ScaleCorrection{Factors: cfg.Calculator.Corrections}))
	}
	calculator := pricing.New(cfg.Calculator.Pool(), registry, publish.NewFanout(m, sinks...), log, m, opts...)

	directory := pool.NewDirectory(log)
	poolLoader := discovery.NewLoader(directory, registry, log)
	if cfg.Pools.File != "" {
		n, err := poolLoader.Sync(cfg.Pools.File)
		if err != nil {
			return err
		}
		log.Info("Pools loaded", zap.Int("count", n), zap.String("file", cfg.Pools.File))
	} else {
		log.Warn("No pools file configured, directory starts empty")
	}

	accountFetcher := fetcher.New(cfg.Fetcher.Loop(), directory, transport, positions, calculator, log, m)

	// resolve decimals before the first cycle so startup bundles can be priced
	if err := mintLoader.Load(ctx, poolMints(directory)...); err != nil {
		log.Warn("Initial mint load incomplete, retrying in background", zap.Error(err))
		mintLoader.Request(poolMints(directory)...)
	}
	mintLoader.OnResolved(func(mints []solana.PublicKey) {
		for _, desc := range directory.PoolsForMints(mints...) {
			accountFetcher.RequestPoolFetch(desc.PoolID, nil)
		}
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return mintLoader.Run(gctx) })
	if cfg.Pools.File != "" {
		g.Go(func() error { return poolLoader.Watch(gctx, cfg.Pools.File, cfg.Pools.ReloadInterval) })
	}
	g.Go(func() error { return calculator.Run(gctx) })
	g.Go(func() error { return accountFetcher.Run(gctx) })
	if throttle != nil {
		g.Go(func() error { return throttle.Run(gctx) })
	}
	if history != nil {
		g.Go(func() error { return history.Run(gctx) })
	}
	if cfg.Server.Enabled {
		srv := server.New(cfg.Server.Addr, server.Deps{
			Directory:  directory,
			Fetcher:    accountFetcher,
			Prices:     latest,
			Transport:  transport,
			Calculator: calculator,
			Registry:   m.Registry(),
			Logger:     log,
		})
		g.Go(func() error { return srv.Run(gctx) })
	}

	log.Info("Pricer started",
		zap.String("version", version),
		zap.Int("pools", directory.Len()),
		zap.Strings("protocols", registry.Protocols()))

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, http.ErrServerClosed) {
		log.Error("Pricer stopped with error", zap.Error(err))
		return err
	}
	log.Info("Pricer stopped")
	return nil
}

func poolMints(directory *pool.Directory) []solana.PublicKey {
	var mints []solana.PublicKey
	for _, d := range directory.All() {
		mints = append(mints, d.BaseMint, d.QuoteMint)
	}
	return mints
}
