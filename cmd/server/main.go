package main

import (
	"context"
	"errors"
	"flag"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"tacarena.ai/internal/arena"
	"tacarena.ai/internal/game/controller"
	"tacarena.ai/internal/game/tuning"
	"tacarena.ai/internal/persistence/indexdb"
	persistlog "tacarena.ai/internal/persistence/log"
	"tacarena.ai/internal/persistence/report"
	"tacarena.ai/internal/protocol"
	"tacarena.ai/internal/transport/observer"
	"tacarena.ai/internal/transport/ws"
)

func main() {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	var (
		addr      = flag.String("addr", envString("TAC_ADDR", ":8080"), "http listen address")
		dataDir   = flag.String("data", envString("TAC_DATA_DIR", "./data"), "runtime data directory")
		arenaPath = flag.String("arena", envString("TAC_ARENA_CONFIG", "./configs/arena.yaml"), "path to arena.yaml (optional)")
		gamePath  = flag.String("game", envString("TAC_GAME_CONFIG", ""), "path to game.yaml (default: game_config from arena.yaml)")
		logLevel  = flag.String("log-level", envString("TAC_LOG_LEVEL", "info"), "log level (debug, info, warn, error)")
		logPretty = flag.Bool("log-pretty", envBool("TAC_LOG_PRETTY", false), "human-readable console logs")
		disableDB = flag.Bool("disable_db", false, "disable the sqlite game index")
	)
	flag.Parse()

	logger := newLogger(*logLevel, *logPretty)

	acfg, err := loadArenaConfig(*arenaPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("load arena config")
	}
	gp := strings.TrimSpace(*gamePath)
	if gp == "" {
		gp = acfg.GameConfig
	}
	gcfg, err := tuning.Load(gp)
	if err != nil {
		logger.Fatal().Err(err).Str("path", gp).Msg("load game config")
	}

	gamesDir := acfg.GamesDir
	if !filepath.IsAbs(gamesDir) {
		gamesDir = filepath.Join(*dataDir, gamesDir)
	}
	if err := os.MkdirAll(gamesDir, 0o755); err != nil {
		logger.Fatal().Err(err).Msg("create games dir")
	}

	idx, err := openIndex(*dataDir, acfg.IndexDB, *disableDB)
	if err != nil {
		logger.Fatal().Err(err).Msg("open index backend")
	}

	schemas, err := protocol.LoadSchemas()
	if err != nil {
		logger.Fatal().Err(err).Msg("load protocol schemas")
	}

	ctx, cancel := signalContext()
	defer cancel()

	reports := make(chan report.Report, 16)
	reg := arena.NewRegistry(acfg, arena.Options{
		Logger:  logger,
		Reports: reports,
		Events: func(gameID string) (controller.EventLogger, error) {
			file := persistlog.NewEventLogger(filepath.Join(gamesDir, gameID))
			tee := persistlog.Tee{file}
			if idx != nil {
				tee = append(tee, idx)
			}
			return gameEventLog{Tee: tee, file: file}, nil
		},
	})

	writer := &reportWriter{gamesDir: gamesDir, idx: idx, reg: reg, log: logger.With().Str("component", "reports").Logger()}
	if acfg.DefaultGame {
		g := gcfg
		writer.defaultGame = &g
	}
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		writer.run(reports)
	}()
	writer.ensureOpenGame()

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		arena.NewCollector(reg),
	)
	if idx != nil {
		registerIndexMetrics(promReg, idx)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/v1/ws", ws.NewServer(reg, schemas, logger).Handler())

	obsSrv := observer.NewServer(reg, logger)
	mux.HandleFunc("/v1/observe", obsSrv.WSHandler())
	mux.HandleFunc("/v1/observe/bootstrap", obsSrv.BootstrapHandler())

	enableAdminHTTP := envBool("TAC_ENABLE_ADMIN_HTTP", defaultEnableAdminHTTP())
	enablePprofHTTP := envBool("TAC_ENABLE_PPROF_HTTP", false)
	if enableAdminHTTP {
		api := &adminAPI{
			reg:         reg,
			idx:         idx,
			dataDir:     *dataDir,
			gamesDir:    gamesDir,
			archive:     acfg.ArchiveOnDelete,
			defaultGame: gcfg,
			log:         logger.With().Str("component", "admin").Logger(),
		}
		api.register(mux)
	} else {
		logger.Info().Msg("admin endpoints disabled (TAC_ENABLE_ADMIN_HTTP=false)")
	}
	if enablePprofHTTP {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Info().Str("addr", *addr).Str("data", *dataDir).Int("nb_agents", gcfg.NbAgents).Int("nb_goods", gcfg.NbGoods).Msg("listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Msg("ListenAndServe")
	}

	// Stopping every game publishes its report before the writer drains.
	ctx3, cancel3 := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel3()
	if err := reg.Close(ctx3); err != nil {
		logger.Warn().Err(err).Msg("close games")
	}
	close(reports)
	<-writerDone
	if idx != nil {
		if err := idx.Close(); err != nil {
			logger.Warn().Err(err).Msg("close index")
		}
	}
	logger.Info().Msg("stopped")
}

func newLogger(level string, pretty bool) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.TimeFieldFormat = time.RFC3339Nano
	var l zerolog.Logger
	if pretty {
		l = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05.000"})
	} else {
		l = zerolog.New(os.Stdout)
	}
	return l.Level(lvl).With().Timestamp().Str("service", "tac-server").Logger()
}

func loadArenaConfig(path string) (arena.Config, error) {
	path = strings.TrimSpace(path)
	if path != "" {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			path = ""
		}
	}
	return arena.Load(path)
}

func registerIndexMetrics(reg *prometheus.Registry, idx *indexdb.SQLiteIndex) {
	reg.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "tac_index_queue_depth",
			Help: "Pending writes in the sqlite index queue.",
		}, func() float64 { return float64(idx.Stats().QueueDepth) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "tac_index_queue_capacity",
			Help: "Capacity of the sqlite index queue.",
		}, func() float64 { return float64(idx.Stats().QueueCapacity) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "tac_index_dropped_events_total",
			Help: "Events dropped because the index queue was full.",
		}, func() float64 { return float64(idx.Stats().DropEventTotal) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "tac_index_dropped_reports_total",
			Help: "Reports dropped because the index queue was full.",
		}, func() float64 { return float64(idx.Stats().DropReportTotal) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "tac_index_write_errors_total",
			Help: "Index inserts or commits that failed.",
		}, func() float64 { return float64(idx.Stats().WriteErrTotal) }),
	)
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func defaultEnableAdminHTTP() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("DEPLOY_ENV"))) {
	case "staging", "production":
		return false
	default:
		return true
	}
}

func envBool(key string, def bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return b
}

func envString(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}
