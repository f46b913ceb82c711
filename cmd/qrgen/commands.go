package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/koios/purpleqr/internal/payload"
	"github.com/koios/purpleqr/internal/pipeline"
	"github.com/koios/purpleqr/internal/session"
	"github.com/koios/purpleqr/internal/watch"
	"github.com/koios/purpleqr/pkg/models"
)

func runEncode(cmd *cobra.Command, args []string) error {
	doc, err := models.LoadDocument(docPath)
	if err != nil {
		return err
	}

	p, err := payload.EncodeContent(doc.Content)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), p)
	return nil
}

func runRender(cmd *cobra.Command, args []string) error {
	f, err := outputFormat()
	if err != nil {
		return err
	}

	doc, err := models.LoadDocument(docPath)
	if err != nil {
		return err
	}

	e, err := newEngine(0)
	if err != nil {
		return err
	}
	defer e.Close()

	logo, err := session.ReadDocumentLogo(doc, e.deps.MaxLogoBytes)
	if err != nil {
		return err
	}
	p, err := payload.EncodeContent(doc.Content)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	file, err := e.deps.Renderer.Render(ctx, pipeline.Assemble(p, doc.Style, logo), f)
	if err != nil {
		return err
	}

	if err := os.WriteFile(outPath, file.Data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", outPath, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%s, %s)\n", outPath, f, humanize.IBytes(uint64(len(file.Data))))
	return nil
}

func outputFormat() (pipeline.Format, error) {
	if format != "" {
		return pipeline.ParseFormat(format)
	}
	return pipeline.FormatFromPath(outPath)
}

func runWatch(cmd *cobra.Command, args []string) error {
	e, err := newEngine(debounce)
	if err != nil {
		return err
	}
	defer e.Close()

	target, err := pipeline.NewFileTarget(outPath, e.logger)
	if err != nil {
		return err
	}

	w, err := watch.New(docPath, e.logger)
	if err != nil {
		return err
	}
	doc, err := w.Load()
	if err != nil {
		w.Close()
		return err
	}

	s, err := session.New("watch", e.deps, target)
	if err != nil {
		w.Close()
		return err
	}
	defer s.Close()

	if err := s.LoadDocument(doc); err != nil {
		w.Close()
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Fprintf(cmd.OutOrStdout(), "watching %s, writing %s (Ctrl-C to stop)\n", docPath, outPath)
	e.logger.Info("Watching document", zap.String("document", docPath), zap.String("out", outPath))

	return w.Run(ctx, s.LoadDocument)
}
