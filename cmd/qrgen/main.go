// Command qrgen encodes and renders code documents from the command line.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/koios/purpleqr/internal/config"
	"github.com/koios/purpleqr/internal/pipeline"
	"github.com/koios/purpleqr/internal/qr"
	"github.com/koios/purpleqr/internal/session"
)

var rootCmd = &cobra.Command{
	Use:   "qrgen",
	Short: "Encode and render PurpleQR code documents",
	Long: `qrgen reads YAML code documents and turns them into QR payloads,
PNG/JPEG/SVG files, or a live preview file that follows document edits.`,
	SilenceUsage: true,
}

var encodeCmd = &cobra.Command{
	Use:   "encode",
	Short: "Print the payload a document encodes",
	RunE:  runEncode,
}

var renderCmd = &cobra.Command{
	Use:   "render",
	Short: "Render a document to a png, jpeg or svg file",
	Long:  `Render a document once. The output format follows the extension of --out unless --format is given.`,
	RunE:  runRender,
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Re-render a raster preview whenever the document changes",
	RunE:  runWatch,
}

var (
	docPath   string
	outPath   string
	format    string
	logLevel  string
	workers   int
	debounce  time.Duration
	timeout   time.Duration
	maxLogoMB int64
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&docPath, "file", "f", "", "code document (YAML)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level")
	rootCmd.PersistentFlags().Int64Var(&maxLogoMB, "max-logo-mb", 2, "largest accepted logo in MiB")
	_ = rootCmd.MarkPersistentFlagRequired("file")

	for _, cmd := range []*cobra.Command{renderCmd, watchCmd} {
		cmd.Flags().StringVarP(&outPath, "out", "o", "", "output file")
		cmd.Flags().IntVar(&workers, "workers", 2, "render workers")
		cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "render timeout")
		_ = cmd.MarkFlagRequired("out")
	}
	renderCmd.Flags().StringVar(&format, "format", "", "png, jpeg or svg (default: from --out)")
	watchCmd.Flags().DurationVar(&debounce, "debounce", 100*time.Millisecond, "quiet period before re-rendering")

	rootCmd.AddCommand(encodeCmd)
	rootCmd.AddCommand(renderCmd)
	rootCmd.AddCommand(watchCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// engine is the render plumbing shared by render and watch
type engine struct {
	logger *zap.Logger
	pool   *qr.WorkerPool
	deps   session.Deps
}

func newEngine(window time.Duration) (*engine, error) {
	logger, err := config.NewLogger(logLevel)
	if err != nil {
		return nil, err
	}

	pool := qr.NewWorkerPool(workers, logger, timeout)
	pool.Start()

	return &engine{
		logger: logger,
		pool:   pool,
		deps: session.Deps{
			Capability:   pool,
			Renderer:     pipeline.NewFileRenderer(pool, nil, nil, logger, nil),
			Window:       window,
			Logger:       logger,
			MaxLogoBytes: maxLogoMB << 20,
		},
	}, nil
}

func (e *engine) Close() {
	e.pool.Stop()
	_ = e.logger.Sync()
}
