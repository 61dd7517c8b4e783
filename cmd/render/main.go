// Command render loads an activity module and renders its records into the
// activity table of an HTML page.
//
//	render --module activities.wasm --data-dir ./data --page index.html --out activities.html
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"example.com/activityboard/internal/config"
	"example.com/activityboard/internal/loader"
	"example.com/activityboard/internal/loader/wasm"
	"example.com/activityboard/internal/observability"
	"example.com/activityboard/internal/render"
	"example.com/activityboard/internal/render/htmldoc"
)

const defaultPage = `<!DOCTYPE html>
<html><head><meta charset="utf-8"><title>Activities</title></head>
<body>
<table id="activities-table">
<thead><tr><th>Type</th><th>Duration (min)</th><th>TSS</th></tr></thead>
<tbody></tbody>
</table>
</body></html>`

type options struct {
	modulePath string
	moduleURL  string
	dataDir    string
	page       string
	out        string
	tableID    string
	attempts   int
	baseDelay  time.Duration
	timeout    time.Duration
	logLevel   string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg := config.Load()
	opts := options{}

	cmd := &cobra.Command{
		Use:          "render",
		Short:        "Render activity module records into an HTML table",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, opts, cmd.OutOrStdout())
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.modulePath, "module", cfg.ModulePath, "path to the compiled activity module")
	flags.StringVar(&opts.moduleURL, "url", cfg.ModuleURL, "URL to download the activity module from (overrides --module)")
	flags.StringVar(&opts.dataDir, "data-dir", cfg.ModuleDataDir, "directory mounted at /data inside the module")
	flags.StringVar(&opts.page, "page", "", "HTML page containing the target table (default: built-in page)")
	flags.StringVarP(&opts.out, "out", "o", "", "output file (default: stdout)")
	flags.StringVar(&opts.tableID, "table-id", cfg.TableID, "id of the table rows are appended to")
	flags.IntVar(&opts.attempts, "attempts", cfg.LoadMaxAttempts, "module load attempts, first attempt included")
	flags.DurationVar(&opts.baseDelay, "base-delay", cfg.LoadBaseDelay, "initial delay between load attempts")
	flags.DurationVar(&opts.timeout, "timeout", 30*time.Second, "overall deadline for loading and rendering")
	flags.StringVar(&opts.logLevel, "log-level", cfg.LogLevel, "log level")
	return cmd
}

func run(ctx context.Context, opts options, stdout io.Writer) error {
	logger := config.NewLogger(opts.logLevel)
	logger.SetOutput(os.Stderr)
	log := logger.WithField("service", "activityboard-render")

	fetcher, err := newFetcher(opts)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, opts.timeout)
	defer cancel()

	instantiator := wasm.NewInstantiator(
		wasm.WithDataDir(opts.dataDir),
		wasm.WithLogger(logger.WithField("component", "wasm")),
	)
	l := loader.New(loader.NewBinarySource(fetcher, instantiator),
		loader.WithRetry(opts.attempts, opts.baseDelay),
		loader.WithLogger(logger.WithField("component", "loader")),
	)
	handle, err := l.Load(ctx)
	if err != nil {
		return err
	}
	defer l.Close(context.Background())

	doc, err := openPage(opts.page)
	if err != nil {
		return err
	}

	renderer := render.NewRenderer(
		render.WithTableID(opts.tableID),
		render.WithLogger(logger.WithField("component", "render")),
		render.WithObserver(func(rows int, err error) {
			observability.RecordRender(rows, render.Reason(err))
		}),
	)
	rows, err := renderer.RenderFrom(ctx, doc, handle)
	if err != nil {
		return err
	}

	if err := writePage(doc, opts.out, stdout); err != nil {
		return err
	}
	log.WithFields(logrus.Fields{"rows": rows, "source": handle.Source()}).Info("rendered activity table")
	return nil
}

func newFetcher(opts options) (loader.Fetcher, error) {
	switch {
	case opts.moduleURL != "":
		return loader.NewHTTPFetcher(opts.moduleURL, 10*time.Second), nil
	case opts.modulePath != "":
		return loader.FileFetcher{Path: opts.modulePath}, nil
	}
	return nil, errors.New("one of --module or --url is required")
}

func openPage(path string) (*htmldoc.Document, error) {
	if path == "" {
		return htmldoc.ParseString(defaultPage)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open page: %w", err)
	}
	defer f.Close()
	return htmldoc.Parse(f)
}

func writePage(doc *htmldoc.Document, path string, stdout io.Writer) error {
	if path == "" {
		return doc.Render(stdout)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}
	if err := doc.Render(f); err != nil {
		f.Close()
		return fmt.Errorf("write output: %w", err)
	}
	return f.Close()
}
