package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"rt-trace-monitor/internal/api"
	"rt-trace-monitor/internal/archive"
	"rt-trace-monitor/internal/clock"
	"rt-trace-monitor/internal/config"
	"rt-trace-monitor/internal/deadline"
	"rt-trace-monitor/internal/logging"
	"rt-trace-monitor/internal/models"
	"rt-trace-monitor/internal/queue"
	"rt-trace-monitor/internal/ratelimit"
	"rt-trace-monitor/internal/store"
	"rt-trace-monitor/internal/trace"
	"rt-trace-monitor/internal/worker"
)

func main() {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := logging.New(logging.ParseLevel(cfg.LogLevel), log.Default())
	base, err := deadline.ParseResponseBase(cfg.ResponseBase)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		<-ch
		cancel()
	}()

	tasks := worker.DefaultTaskSet()
	if cfg.TasksFile != "" {
		if tasks, err = worker.LoadTaskSet(cfg.TasksFile); err != nil {
			log.Fatalf("tasks: %v", err)
		}
	}
	dumperID := models.TaskID(cfg.DumperTaskID)
	if err := worker.ValidateTaskSet(tasks, dumperID); err != nil {
		log.Fatalf("tasks: %v", err)
	}

	buf, err := trace.New(cfg.TraceCapacity, cfg.TraceWatermark)
	if err != nil {
		// Tasks keep running untraced.
		log.Printf("trace buffer disabled: %v", err)
	} else if !cfg.WatermarkReachable() {
		log.Printf("trace watermark %d unreachable with capacity %d; capacity triggers drains", cfg.TraceWatermark, cfg.TraceCapacity)
	}

	sink, closeSink, err := openSink(cfg.DumpOutput)
	if err != nil {
		log.Fatalf("dump output: %v", err)
	}
	defer closeSink()

	clk := clock.NewMonotonic()
	tracker := deadline.NewTracker(base)
	opts := []trace.DumperOption{trace.WithClock(clk), trace.WithLogger(logger)}
	var dumps api.DumpArchive
	var history api.HistorySource
	var statsSinks []func(context.Context, []models.TaskStats) error

	if cfg.ArchiveDir != "" {
		opts = append(opts, trace.WithArchiver("local", &archive.Local{Dir: cfg.ArchiveDir}))
	}
	if cfg.S3Bucket != "" {
		client, err := archive.NewS3Client(ctx, cfg)
		if err != nil {
			log.Fatalf("s3: %v", err)
		}
		opts = append(opts, trace.WithArchiver("s3", archive.NewS3(client, cfg.S3Bucket, cfg.S3Prefix)))
	}
	if cfg.RedisAddr != "" {
		pub := queue.NewRedisPublisher(cfg)
		defer pub.Close()
		opts = append(opts, trace.WithArchiver("redis", pub))
		statsSinks = append(statsSinks, pub.PublishStats)
		dumps, history = pub, pub
	}
	if cfg.PostgresDSN != "" {
		st, err := store.New(ctx, cfg.PostgresDSN)
		if err != nil {
			log.Fatalf("connect postgres: %v", err)
		}
		defer st.Close()
		if err := st.RunMigrations(ctx); err != nil {
			log.Fatalf("migrations: %v", err)
		}
		opts = append(opts, trace.WithArchiver("postgres", st))
		statsSinks = append(statsSinks, st.SaveStats)
		dumps, history = st, st
	}
	if len(statsSinks) > 0 {
		// Statistics ride along with every drain.
		opts = append(opts, trace.WithArchiver("stats", trace.ArchiverFunc(func(ctx context.Context, _ models.Dump) error {
			all := tracker.All()
			var errs []error
			for _, save := range statsSinks {
				errs = append(errs, save(ctx, all))
			}
			return errors.Join(errs...)
		})))
	}

	dumper := trace.NewDumper(buf, sink, trace.DumperConfig{Period: cfg.TracePeriod, TaskID: dumperID}, opts...)
	runner := worker.NewRunner(buf, tracker, clk, logger)

	apiOpts := []api.Option{api.WithDrainer(dumper), api.WithLogger(logger)}
	if dumps != nil {
		apiOpts = append(apiOpts, api.WithDumps(dumps))
	}
	if history != nil {
		apiOpts = append(apiOpts, api.WithHistory(history))
	}
	if cfg.RedisAddr != "" {
		redisLimiter := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer redisLimiter.Close()
		apiOpts = append(apiOpts, api.WithLimiter(ratelimit.NewTokenBucket(redisLimiter, cfg.RateLimitCapacity, cfg.RateLimitRefill, time.Hour)))
	}
	httpServer := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: api.New(tracker, buf, apiOpts...).Router(),
	}
	log.Printf("api listening on :%s", cfg.HTTPPort)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	var cmds chan command
	if cfg.Interactive {
		cmds = make(chan command)
		go readCommands(os.Stdin, os.Stdout, cmds)
		fmt.Println(menuPrompt)
		if !waitForStart(ctx, cmds) {
			shutdown(httpServer)
			return
		}
	}

	runCtx, stop := context.WithCancel(ctx)
	var wg sync.WaitGroup
	if buf != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := dumper.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("dumper stopped: %v", err)
			}
		}()
	}
	runErr := make(chan error, 1)
	go func() { runErr <- runner.Run(runCtx, tasks) }()

	log.Printf("monitor started: %d tasks, capacity=%d watermark=%d period=%s", len(tasks), cfg.TraceCapacity, cfg.TraceWatermark, cfg.TracePeriod)
	select {
	case <-ctx.Done():
	case <-quitRequested(cmds):
	case err := <-runErr:
		// Every task set a job bound and finished.
		if err != nil {
			log.Printf("runner stopped: %v", err)
		}
		runErr = nil
	}
	stop()
	if runErr != nil {
		<-runErr
	}
	wg.Wait()

	if buf != nil {
		if _, err := dumper.Drain(context.Background(), models.TriggerShutdown); err != nil {
			log.Printf("final drain: %v", err)
		}
	}
	if err := writeStats(os.Stdout, tracker.All()); err != nil {
		log.Printf("stats: %v", err)
	}
	shutdown(httpServer)
}

// waitForStart blocks until the operator starts or quits.
func waitForStart(ctx context.Context, cmds <-chan command) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case c, ok := <-cmds:
			if !ok || c == cmdQuit {
				return false
			}
			if c == cmdStart {
				return true
			}
		}
	}
}

// quitRequested fires on the first q. A nil cmds never fires.
func quitRequested(cmds <-chan command) <-chan struct{} {
	quit := make(chan struct{})
	if cmds == nil {
		return quit
	}
	go func() {
		for c := range cmds {
			if c == cmdQuit {
				close(quit)
				return
			}
		}
	}()
	return quit
}

func openSink(output string) (io.Writer, func(), error) {
	switch output {
	case "", "stdout", "-":
		return os.Stdout, func() {}, nil
	case "stderr":
		return os.Stderr, func() {}, nil
	}
	f, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, err
	}
	return f, func() { _ = f.Close() }, nil
}

func shutdown(srv *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
}
