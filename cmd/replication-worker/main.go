// Command replication-worker runs the Daily-Batch Scheduler and
// Confirmation Poller against the external archive, following the same
// urfave/cli single-binary pattern as capture-worker.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/dustin/go-humanize"
	"github.com/gosuri/uilive"
	"github.com/gosuri/uitable"
	"github.com/urfave/cli/v2"

	"github.com/harvard-lil/perma-capture/internal/blobstore"
	"github.com/harvard-lil/perma-capture/internal/linkstore"
	"github.com/harvard-lil/perma-capture/internal/pkg/config"
	"github.com/harvard-lil/perma-capture/internal/pkg/log"
	"github.com/harvard-lil/perma-capture/internal/pkg/stats"
	"github.com/harvard-lil/perma-capture/internal/replication"
)

func main() {
	app := &cli.App{
		Name:  "replication-worker",
		Usage: "runs the Internet Archive replication state machine, scheduler, and confirmation poller",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "data-dir", Value: "/tmp/capture-engine", Usage: "base directory for the durable link queue"},
			&cli.StringFlag{Name: "log-dir", Usage: "if set, rotate logs under this directory instead of stderr"},
			&cli.StringFlag{Name: "s3-endpoint", Usage: "S3-compatible endpoint for the external archive"},
			&cli.StringFlag{Name: "access-key", EnvVars: []string{"INTERNET_ARCHIVE_ACCESS_KEY"}},
			&cli.StringFlag{Name: "secret-key", EnvVars: []string{"INTERNET_ARCHIVE_SECRET_KEY"}},
			&cli.StringFlag{Name: "identifier-prefix", Value: config.Default().InternetArchiveIdentifierPrefix},
			&cli.IntFlag{Name: "daily-limit", Value: config.Default().InternetArchiveDailyLimit},
			&cli.IntFlag{Name: "max-simultaneous", Value: config.Default().InternetArchiveMaxSimultaneous},
			&cli.StringFlag{Name: "scheduler-cron", Value: "@every 1m"},
			&cli.DurationFlag{Name: "confirmation-interval", Value: 30 * time.Second},
			&cli.BoolFlag{Name: "live-stats", Usage: "print a live-updating status table; structured logs then go to stderr only when --log-dir is unset"},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	cfg := config.Default()
	cfg.InternetArchiveIdentifierPrefix = c.String("identifier-prefix")
	cfg.InternetArchiveDailyLimit = c.Int("daily-limit")
	cfg.InternetArchiveMaxSimultaneous = c.Int("max-simultaneous")
	cfg.InternetArchiveAccessKey = c.String("access-key")
	cfg.InternetArchiveSecretKey = c.String("secret-key")
	cfg.LogDir = c.String("log-dir")
	config.Set(cfg)

	log.Configure(log.Options{Level: slog.LevelInfo, LogDir: cfg.LogDir, ToStderr: cfg.LogDir == "" || !c.Bool("live-stats")})
	log.Start()
	defer log.Close()

	stats.Init()

	links, err := linkstore.OpenDurable(c.String("data-dir") + "/links")
	if err != nil {
		return fmt.Errorf("replication-worker: open durable link store: %w", err)
	}
	defer links.Close()

	blobs := blobstore.NewLocal(cfg.BlobStoreDir)

	sess, err := session.NewSession(&aws.Config{
		Endpoint:         aws.String(c.String("s3-endpoint")),
		Credentials:      credentials.NewStaticCredentials(cfg.InternetArchiveAccessKey, cfg.InternetArchiveSecretKey, ""),
		S3ForcePathStyle: aws.Bool(true),
	})
	if err != nil {
		return fmt.Errorf("replication-worker: build AWS session: %w", err)
	}

	deps := replication.Deps{
		Store:     replication.NewInMemoryStore(),
		Links:     links,
		Blobs:     blobs,
		Archive:   replication.NewS3Archive(sess),
		AccessKey: cfg.InternetArchiveAccessKey,
		SecretKey: cfg.InternetArchiveSecretKey,
	}

	engine := replication.NewEngine(deps)
	writeQueueDepth := func(ctx context.Context) (int, error) { return 0, nil }

	scheduler := replication.NewScheduler(engine, deps, writeQueueDepth)
	poller := replication.NewConfirmationPoller(deps, writeQueueDepth, c.Duration("confirmation-interval"), cfg.RetryForConfirmationConnErrLimit)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go poller.Run(ctx)

	if err := scheduler.Start(ctx, c.String("scheduler-cron")); err != nil {
		return fmt.Errorf("replication-worker: start scheduler: %w", err)
	}
	defer scheduler.Stop()

	if c.Bool("live-stats") {
		go printLiveStats(ctx)
	}

	<-ctx.Done()
	return nil
}

// printLiveStats mirrors Zeno's crawl.printLiveStats idiom for the
// replication side: retry counters and memory usage refreshed once a
// second.
func printLiveStats(ctx context.Context) {
	writer := uilive.New()
	writer.Start()
	defer writer.Stop()

	var m runtime.MemStats
	start := time.Now()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		runtime.ReadMemStats(&m)

		table := uitable.New()
		table.MaxColWidth = 80
		table.Wrap = true

		table.AddRow("", "")
		table.AddRow("  - Elapsed time:", time.Since(start).String())
		table.AddRow("  - Allocated (heap):", humanize.Bytes(m.Alloc))
		table.AddRow("  - Goroutines:", runtime.NumGoroutine())
		table.AddRow("", "")

		fmt.Fprintln(writer, table.String())
		writer.Flush()
	}
}
