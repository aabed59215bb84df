//go:build linux

package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/brickingsoft/ringloop"
	"github.com/brickingsoft/ringloop/pkg/liburing/aio"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

func main() {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Str("app", "ringecho").Logger()

	if err := godotenv.Load(); err != nil {
		logger.Debug().Err(err).Msg("no .env file found")
	}
	cfg, err := ParseConfigFromEnv()
	if err != nil {
		logger.Fatal().Err(err).Msg("parse config failed")
	}
	flag.StringVar(&cfg.ListenAddr, "listen", cfg.ListenAddr, "listen address")
	flag.IntVar(&cfg.LoopThreads, "loops", cfg.LoopThreads, "loop threads, -1 for one per cpu")
	flag.BoolVar(&cfg.CPUAffinity, "affinity", cfg.CPUAffinity, "pin loop threads to cpus")
	flag.BoolVar(&cfg.ReusePort, "reuseport", cfg.ReusePort, "one SO_REUSEPORT listener per loop thread")
	flag.Parse()

	logger = logger.Level(cfg.LogLevel)
	logger.Info().
		Str("listen", cfg.ListenAddr).
		Int("loops", cfg.LoopThreads).
		Bool("affinity", cfg.CPUAffinity).
		Bool("reuseport", cfg.ReusePort).
		Msg("config loaded")

	loopOptions := []aio.Option{
		aio.WithLogger(logger),
		aio.WithEntries(cfg.Entries),
		aio.WithChunkPool(cfg.ChunkSize, cfg.ChunkCount),
		aio.WithPollTimeout(cfg.PollTimeout),
	}
	base, err := aio.NewEventLoop(loopOptions...)
	if err != nil {
		logger.Fatal().Err(err).Msg("create base loop failed")
	}
	defer base.Close()

	options := []ringloop.Option{
		ringloop.WithName("ringecho"),
		ringloop.WithLogger(logger),
		ringloop.WithLoopThreads(cfg.LoopThreads),
		ringloop.WithLoopOptions(loopOptions...),
		ringloop.WithCloseTimeout(cfg.CloseTimeout),
	}
	if cfg.CPUAffinity {
		options = append(options, ringloop.WithCPUAffinity())
	}
	if cfg.ReusePort {
		options = append(options, ringloop.WithReusePort())
	}
	srv, err := ringloop.NewTcpServer(base, cfg.ListenAddr, echo(logger), options...)
	if err != nil {
		logger.Fatal().Err(err).Msg("create server failed")
	}
	if err = srv.Start(); err != nil {
		logger.Fatal().Err(err).Msg("start server failed")
	}

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-signals
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
		if closeErr := srv.Close(); closeErr != nil {
			logger.Error().Err(closeErr).Msg("close server failed")
		}
		base.Quit()
	}()

	if err = base.Run(); err != nil {
		logger.Error().Err(err).Msg("base loop failed")
	}
	if err = ringloop.Shutdown(); err != nil {
		logger.Error().Err(err).Msg("shutdown executors failed")
	}
}

func echo(logger zerolog.Logger) ringloop.Handler {
	return func(ctx context.Context, conn *aio.TcpConnection) {
		log := logger.With().Str("conn", conn.Name()).Str("peer", conn.RemoteAddr().String()).Logger()
		log.Debug().Msg("connected")
		buf := make([]byte, 64*1024)
		var total int
		for {
			n, err := conn.Read(ctx, buf)
			if err != nil {
				if !ringloop.IsClosed(err) {
					log.Warn().Err(err).Msg("read failed")
				}
				break
			}
			if ok, sendErr := conn.Send(ctx, buf[:n]); !ok {
				if sendErr != nil && !ringloop.IsClosed(sendErr) {
					log.Warn().Err(sendErr).Msg("send failed")
				}
				break
			}
			total += n
		}
		log.Debug().Int("bytes", total).Msg("disconnected")
	}
}
