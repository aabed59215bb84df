package main

import (
	"os"
	"strconv"
	"time"

	"github.com/brickingsoft/errors"
	"github.com/rs/zerolog"
)

type Config struct {
	ListenAddr   string // e.g. ":9000"
	LoopThreads  int    // -1 means one per cpu
	CPUAffinity  bool
	ReusePort    bool
	Entries      uint32
	ChunkSize    int
	ChunkCount   int
	PollTimeout  time.Duration
	CloseTimeout time.Duration
	LogLevel     zerolog.Level
}

// ParseConfigFromEnv reads RINGLOOP_* variables, unset ones keep their defaults.
func ParseConfigFromEnv() (*Config, error) {
	cfg := &Config{
		ListenAddr:   ":9000",
		LoopThreads:  -1,
		Entries:      1024,
		ChunkSize:    4096,
		ChunkCount:   1024,
		PollTimeout:  10 * time.Second,
		CloseTimeout: 5 * time.Second,
		LogLevel:     zerolog.InfoLevel,
	}
	if v := os.Getenv("RINGLOOP_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	var err error
	if cfg.LoopThreads, err = envInt("RINGLOOP_LOOP_THREADS", cfg.LoopThreads); err != nil {
		return nil, err
	}
	if cfg.CPUAffinity, err = envBool("RINGLOOP_CPU_AFFINITY", cfg.CPUAffinity); err != nil {
		return nil, err
	}
	if cfg.ReusePort, err = envBool("RINGLOOP_REUSE_PORT", cfg.ReusePort); err != nil {
		return nil, err
	}
	entries, err := envInt("RINGLOOP_ENTRIES", int(cfg.Entries))
	if err != nil {
		return nil, err
	}
	if entries < 1 {
		return nil, errors.New("RINGLOOP_ENTRIES must be positive")
	}
	cfg.Entries = uint32(entries)
	if cfg.ChunkSize, err = envInt("RINGLOOP_CHUNK_SIZE", cfg.ChunkSize); err != nil {
		return nil, err
	}
	if cfg.ChunkCount, err = envInt("RINGLOOP_CHUNK_COUNT", cfg.ChunkCount); err != nil {
		return nil, err
	}
	if cfg.ChunkCount&(cfg.ChunkCount-1) != 0 {
		return nil, errors.New("RINGLOOP_CHUNK_COUNT must be a power of two")
	}
	if cfg.PollTimeout, err = envDuration("RINGLOOP_POLL_TIMEOUT", cfg.PollTimeout); err != nil {
		return nil, err
	}
	if cfg.CloseTimeout, err = envDuration("RINGLOOP_CLOSE_TIMEOUT", cfg.CloseTimeout); err != nil {
		return nil, err
	}
	if v := os.Getenv("RINGLOOP_LOG_LEVEL"); v != "" {
		if cfg.LogLevel, err = zerolog.ParseLevel(v); err != nil {
			return nil, errors.New("RINGLOOP_LOG_LEVEL is invalid", errors.WithWrap(err))
		}
	}
	return cfg, nil
}

func envInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, errors.New(key+" must be an integer", errors.WithWrap(err))
	}
	return n, nil
}

func envBool(key string, def bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, errors.New(key+" must be a boolean", errors.WithWrap(err))
	}
	return b, nil
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, errors.New(key+" must be a duration", errors.WithWrap(err))
	}
	return d, nil
}
