package main

import (
	"context"
	"encoding/csv"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"trafficsim/internal/trafficsim"
)

const defaultConfigPath = "trafficsim.yaml"

func main() {
	// A missing .env is normal.
	_ = godotenv.Load()

	var (
		configPath string
		dumpPath   string

		concurrent int
		proxyFile  string
		botRatio   float64
		visitsMin  int
		visitsMax  int
		logPath    string
		noVerbose  bool
		transport  string
	)
	flag.StringVar(&configPath, "config", getenvDefault("TRAFFICSIM_CONFIG", defaultConfigPath), "path to trafficsim.yaml")
	flag.StringVar(&dumpPath, "dump", "", "print the records of a leveldb sink as CSV and exit")
	flag.IntVar(&concurrent, "concurrent", 0, "number of sessions to run")
	flag.StringVar(&proxyFile, "proxy-file", "", "proxy list, one endpoint per line")
	flag.Float64Var(&botRatio, "bot-ratio", -1, "share of sessions that behave like bots, 0..1")
	flag.IntVar(&visitsMin, "visits-min", 0, "minimum page views per session")
	flag.IntVar(&visitsMax, "visits-max", 0, "maximum page views per session")
	flag.StringVar(&logPath, "log", "", "CSV file to append records to")
	flag.BoolVar(&noVerbose, "no-verbose", false, "only log warnings and errors")
	flag.StringVar(&transport, "transport", "", "request transport: http or browser")
	flag.Parse()

	if dumpPath != "" {
		if err := dump(dumpPath); err != nil {
			fmt.Fprintf(os.Stderr, "dump %s: %v\n", dumpPath, err)
			os.Exit(1)
		}
		return
	}

	cfg, err := trafficsim.LoadConfig(configPath, configPath == defaultConfigPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	if concurrent > 0 {
		cfg.Sessions.Concurrent = concurrent
	}
	if proxyFile != "" {
		cfg.Proxy.File = proxyFile
	}
	if botRatio >= 0 {
		cfg.Sessions.BotRatio = botRatio
	}
	if visitsMin > 0 {
		cfg.Sessions.Visits.Min = visitsMin
	}
	if visitsMax > 0 {
		cfg.Sessions.Visits.Max = visitsMax
	}
	if logPath != "" {
		cfg.Sink.Kind = trafficsim.SinkCSV
		cfg.Sink.Path = logPath
	}
	if noVerbose {
		cfg.Logging.Quiet = true
	}
	if transport != "" {
		cfg.Request.Transport = transport
	}

	if err := cfg.Compile(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}
	logger := trafficsim.NewLogger(cfg, os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sim, err := trafficsim.NewSimulator(ctx, cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("init simulator")
		os.Exit(1)
	}
	sim.Run(ctx)
	if err := sim.Close(); err != nil {
		logger.Error().Err(err).Msg("close simulator")
		os.Exit(1)
	}
	if ctx.Err() != nil {
		logger.Warn().Msg("interrupted")
	}
}

func dump(path string) error {
	w := csv.NewWriter(os.Stdout)
	if err := trafficsim.DumpLevelDB(path, w.Write); err != nil {
		return err
	}
	w.Flush()
	return w.Error()
}

func getenvDefault(name, def string) string {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	return v
}
