// Command capture-worker runs a pool of Capture Orchestrator workers
// against the shared Link store, following Zeno's single-binary CLI
// pattern: one urfave/cli app, flags feeding a process-wide Config, an
// optional live stats view for interactive runs.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gosuri/uilive"
	"github.com/gosuri/uitable"
	"github.com/urfave/cli/v2"

	"github.com/harvard-lil/perma-capture/internal/blobstore"
	"github.com/harvard-lil/perma-capture/internal/browser"
	"github.com/harvard-lil/perma-capture/internal/capture"
	"github.com/harvard-lil/perma-capture/internal/linkstore"
	"github.com/harvard-lil/perma-capture/internal/pkg/config"
	"github.com/harvard-lil/perma-capture/internal/pkg/log"
	"github.com/harvard-lil/perma-capture/internal/pkg/stats"
)

func main() {
	app := &cli.App{
		Name:  "capture-worker",
		Usage: "runs the Capture Orchestrator against pending links",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "workers", Value: config.Default().WorkersCount, Usage: "number of concurrent capture workers"},
			&cli.StringFlag{Name: "data-dir", Value: "/tmp/capture-engine", Usage: "base directory for WARCs and the durable link queue"},
			&cli.StringFlag{Name: "log-dir", Usage: "if set, rotate logs under this directory instead of stderr"},
			&cli.StringFlag{Name: "browser", Value: config.Default().CaptureBrowser, Usage: "Firefox or Chrome"},
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
	cfg.WorkersCount = c.Int("workers")
	cfg.CaptureBrowser = c.String("browser")
	cfg.WARCWorkDir = c.String("data-dir") + "/warcs"
	cfg.BlobStoreDir = c.String("data-dir") + "/blobs"
	cfg.LogDir = c.String("log-dir")
	config.Set(cfg)

	log.Configure(log.Options{Level: slog.LevelInfo, LogDir: cfg.LogDir, ToStderr: cfg.LogDir == "" || !c.Bool("live-stats")})
	log.Start()
	defer log.Close()

	stats.Init()

	links, err := linkstore.OpenDurable(c.String("data-dir") + "/links")
	if err != nil {
		return fmt.Errorf("capture-worker: open durable link store: %w", err)
	}
	defer links.Close()

	blobs := blobstore.NewLocal(cfg.BlobStoreDir)

	orchestrator := capture.New(capture.Deps{
		LinkStore:      links,
		BlobStore:      blobs,
		BrowserFactory: browser.New,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if c.Bool("live-stats") {
		go printLiveStats(ctx, cfg.WorkersCount)
	}

	var wg []chan struct{}
	for i := 0; i < cfg.WorkersCount; i++ {
		done := make(chan struct{})
		wg = append(wg, done)
		go func() {
			defer close(done)
			runWorker(ctx, orchestrator)
		}()
	}

	<-ctx.Done()
	for _, done := range wg {
		<-done
	}
	return nil
}

func runWorker(ctx context.Context, orchestrator *capture.Orchestrator) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		_, err := orchestrator.RunOnce(ctx)
		if err == linkstore.ErrNotFound {
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
	}
}

// printLiveStats mirrors Zeno's crawl.printLiveStats: a uilive-backed
// table refreshed once a second for interactive terminal runs.
func printLiveStats(ctx context.Context, workerCount int) {
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
		table.AddRow("  - Workers:", strconv.Itoa(workerCount))
		table.AddRow("  - Bytes (last min):", stats.CaptureThroughput.Rate())
		table.AddRow("  - Bytes recorded:", humanize.Bytes(uint64(stats.BytesRecorded())))
		table.AddRow("  - Elapsed time:", time.Since(start).String())
		table.AddRow("  - Allocated (heap):", humanize.Bytes(m.Alloc))
		table.AddRow("  - Goroutines:", runtime.NumGoroutine())
		table.AddRow("", "")

		fmt.Fprintln(writer, table.String())
		writer.Flush()
	}
}
