package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-attendance/internal/camera"
	"github.com/kozaktomas/face-attendance/internal/constants"
	"github.com/kozaktomas/face-attendance/internal/recognition"
	"github.com/kozaktomas/face-attendance/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	Long: `Start the Face Attendance HTTP API.
The API manages identities and enrollment, marks and corrects attendance,
runs recognition sessions over cameras and streams their events.

Recognition logs older than LOG_RETENTION_DAYS are purged every night.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("port", 8080, "Port to listen on")
	serveCmd.Flags().String("host", "0.0.0.0", "Host to bind to")
	serveCmd.Flags().String("purge-at", "03:00", "Daily time of the recognition log purge (HH:MM)")
}

// resolveServeHostPort resolves port and host from flags and environment variables.
func resolveServeHostPort(cmd *cobra.Command) (int, string) {
	port := mustGetInt(cmd, "port")
	host := mustGetString(cmd, "host")

	if envPort := os.Getenv("WEB_PORT"); envPort != "" {
		fmt.Sscanf(envPort, "%d", &port)
	}
	if envHost := os.Getenv("WEB_HOST"); envHost != "" {
		host = envHost
	}
	return port, host
}

// newSessionFactory builds recognition sessions on the shared services.
func (a *app) newSessionFactory() func(cfg recognition.Config, src camera.Source) *recognition.Session {
	return func(cfg recognition.Config, src camera.Source) *recognition.Session {
		return recognition.NewSession(cfg, recognition.Deps{
			Source:   src,
			Analyzer: a.faces,
			Matcher:  a.matcher,
			Marker:   a.attendance,
			Logs:     a.store,
			Log:      a.log,
		})
	}
}

// purgeRecognitionLogs deletes logs older than the retention window.
func (a *app) purgeRecognitionLogs(ctx context.Context) (int64, error) {
	cutoff := a.cfg.Log.RetentionCutoff(time.Now())
	removed, err := a.store.PurgeOlderThan(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purging recognition logs: %w", err)
	}
	a.log.Info("recognition logs purged", "removed", removed, "cutoff", cutoff.Format(time.RFC3339))
	return removed, nil
}

// startPurgeScheduler runs the recognition log purge once a day.
func (a *app) startPurgeScheduler(at string) (*gocron.Scheduler, error) {
	scheduler := gocron.NewScheduler(time.Local)
	_, err := scheduler.Every(1).Day().At(at).Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), constants.PurgeTimeout)
		defer cancel()
		if _, err := a.purgeRecognitionLogs(ctx); err != nil {
			a.log.Error("scheduled purge failed", "error", err)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("scheduling log purge at %q: %w", at, err)
	}
	scheduler.StartAsync()
	return scheduler, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	port, host := resolveServeHostPort(cmd)

	scheduler, err := a.startPurgeScheduler(mustGetString(cmd, "purge-at"))
	if err != nil {
		return err
	}
	defer scheduler.Stop()

	server := web.NewServer(a.cfg, web.Deps{
		Registry:   a.registry,
		Embeddings: a.store,
		Samples:    a.faces,
		Enroller:   a.enroller,
		Matcher:    a.matcher,
		Attendance: a.attendance,
		Logs:       a.store,
		Sessions:   recognition.NewManager(),
		NewSession: a.newSessionFactory(),
		OnEnrolled: a.matcher.Invalidate,
	}, port, host, a.log)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		select {
		case <-sigChan:
		case <-ctx.Done():
			return
		}
		fmt.Println("\nShutting down...")

		shutdownCtx, shutdownCancel := context.WithTimeout(ctx, constants.ShutdownTimeout)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			fmt.Printf("Error during shutdown: %v\n", err)
		}
	}()

	fmt.Printf("Starting Face Attendance API on http://%s:%d/api/v1\n", host, port)
	fmt.Println("Press Ctrl+C to stop")

	if err := server.Start(); err != nil {
		return fmt.Errorf("starting server: %w", err)
	}
	// Start returns as soon as Shutdown begins. Sessions and the store stay open until it ends.
	<-shutdownDone
	return nil
}
