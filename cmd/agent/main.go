package main

import (
	"context"
	"flag"
	"log"
	"mime"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/taxdash/docsync/internal/bootstrap"
	"github.com/taxdash/docsync/internal/config"
	"github.com/taxdash/docsync/internal/core/ports"
)

func main() {
	configPath := flag.String("config", "", "optional YAML config overlay")
	analyze := flag.Bool("analyze", false, "request analysis of all pending documents after upload")
	flag.Parse()

	cfg := config.Load()
	if *configPath != "" {
		if err := cfg.ApplyFile(*configPath); err != nil {
			log.Fatalf("config error: %v", err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := bootstrap.New(cfg)
	defer app.Close()

	batchDone := make(chan struct{}, 1)
	app.Reconciler.OnBatchFinished(func(time.Duration) {
		select {
		case batchDone <- struct{}{}:
		default:
		}
	})

	metricsServer := &http.Server{
		Addr:    ":" + cfg.MetricsPort,
		Handler: metricsMux(app),
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("metrics server error: %v", err)
		}
	}()
	defer shutdownMetrics(metricsServer)

	if err := app.Syncer.RefreshSnapshot(ctx); err != nil {
		log.Printf("snapshot load failed: %v", err)
	}
	app.Channel.Connect()

	if files := loadInputs(flag.Args()); len(files) > 0 {
		for _, result := range app.Syncer.UploadAll(ctx, files) {
			app.Metrics.RecordUpload("docsync", result.Err)
			if result.Err != nil {
				log.Printf("upload %s: %v", result.Name, result.Err)
				continue
			}
			log.Printf("uploaded %s (local id %s)", result.Name, result.LocalID)
		}
	}

	if *analyze {
		ack, err := app.Syncer.AnalyzeAll(ctx)
		if err != nil {
			log.Fatalf("analyze error: %v", err)
		}
		log.Printf("analysis started: %s", ack.Message)
		select {
		case <-batchDone:
			log.Printf("analysis batch finished")
		case <-ctx.Done():
			log.Printf("interrupted while waiting for analysis")
		}
	}

	for _, doc := range app.Syncer.Documents() {
		log.Printf("document %s: state=%s progress=%d%%", doc.DisplayName, doc.State, doc.Progress)
	}
}

func loadInputs(paths []string) []ports.FileInput {
	files := make([]ports.FileInput, 0, len(paths))
	for _, path := range paths {
		payload, err := os.ReadFile(path)
		if err != nil {
			log.Printf("read %s: %v", path, err)
			continue
		}
		files = append(files, ports.FileInput{
			Name:      filepath.Base(path),
			MediaType: mime.TypeByExtension(filepath.Ext(path)),
			Payload:   payload,
		})
	}
	return files
}

func metricsMux(app *bootstrap.App) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", app.Metrics.Handler())
	return mux
}

func shutdownMetrics(server *http.Server) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("metrics shutdown error: %v", err)
	}
}
