package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"hls-segmenter/internal/media"
	"hls-segmenter/internal/pipeline"
	"hls-segmenter/internal/platform/config"
	"hls-segmenter/internal/platform/logger"
	"hls-segmenter/internal/platform/metrics"
	"hls-segmenter/internal/segmenter"
	"hls-segmenter/internal/status"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const shutdownTimeout = 10 * time.Second

var version = "v0.0.0"

func main() {
	os.Exit(run())
}

func run() int {
	_ = config.Load()

	opts, err := config.Parse(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	if opts.Version {
		fmt.Println(version)
		return 0
	}

	log, closer, err := logger.Open(opts.LogFile, opts.LogLevel, opts.LogFormat, opts.Quiet)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer closer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	in, err := openInput(opts.Input, os.Stdin)
	if err != nil {
		log.Error("unable to open input", "input", opts.Input, "error", err)
		return 1
	}
	defer in.Close()

	// unblock pending reads on interruption
	go func() {
		<-ctx.Done()
		in.Close()
	}()

	src, err := media.NewMPEGTSSource(ctx, in)
	if err != nil {
		log.Error("unable to read input", "input", opts.Input, "error", err)
		return 1
	}

	seg, err := segmenter.New(segmenter.Config{
		FileBase:       opts.FileBase,
		MediaBase:      opts.MediaBase,
		TargetDuration: opts.TargetDuration,
		Filter:         opts.Filter(),
		Type:           opts.PlaylistType(),
	}, src.Streams(), media.Formats{}, segmenter.WithLogger(log))
	if err != nil {
		log.Error("unable to initialize segmenter", "error", err)
		return 1
	}

	repo := status.NewInMemoryRepository()
	met := metrics.New()

	runner := pipeline.NewRunner(pipeline.Config{
		Input:         opts.Input,
		BaseURL:       opts.BaseURL,
		IndexFile:     opts.IndexFile,
		Type:          opts.PlaylistType(),
		WindowEntries: opts.WindowEntries,
		DeleteFiles:   opts.DeleteFiles,
	}, src, seg,
		pipeline.WithLogger(log),
		pipeline.WithMetrics(met),
		pipeline.WithStatus(repo))

	var srv *http.Server
	if opts.HTTPAddr != "" {
		srv = startServer(opts.HTTPAddr, log, repo, met)
	}

	err = runner.Run(ctx)

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("shutdown error", "error", err)
		}
		log.Info("server stopped")
	}

	if err != nil {
		log.Error("segmenting failed", "job_id", runner.ID(), "error", err)
		return 1
	}

	return 0
}

// openInput opens the input file, or returns stdin for "-". Closing the
// returned file unblocks pending reads.
func openInput(name string, stdin *os.File) (*os.File, error) {
	if name == "-" {
		return stdin, nil
	}
	return os.Open(name)
}

func startServer(addr string, log *slog.Logger, repo *status.InMemoryRepository, met *metrics.Metrics) *http.Server {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(logger.RequestLogger(log))
	r.Use(metrics.RequestMiddleware(met))
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		met.Handler(func() { met.SetActiveJobs(repo.ActiveJobCount()) }).ServeHTTP(w, r)
	})
	status.NewHandler(repo, log).Mount(r)

	srv := &http.Server{Addr: addr, Handler: r}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
		}
	}()

	log.Info("server starting", "addr", addr)

	return srv
}
