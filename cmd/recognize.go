package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-attendance/internal/camera"
	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/recognition"
)

var recognizeCmd = &cobra.Command{
	Use:   "recognize",
	Short: "Run a recognition session and mark attendance",
	Long: `Run a recognition session over a camera until it ends or Ctrl+C is pressed.
Every recognized face is marked present once per activity, date and session;
the same person seen again within the cooldown window is ignored.

Frames come either from a directory of images (replayed in name order) or from
an HTTP snapshot URL polled at the given interval.

Examples:
  face-attendance recognize --dir frames/ --activity 7 --session morning
  face-attendance recognize --snapshot-url http://cam.local/snapshot.jpg --interval 500ms --activity 7 --session afternoon`,
	Args: cobra.NoArgs,
	RunE: runRecognize,
}

func init() {
	rootCmd.AddCommand(recognizeCmd)

	recognizeCmd.Flags().String("dir", "", "Directory of frames to replay")
	recognizeCmd.Flags().String("snapshot-url", "", "HTTP URL returning a still image")
	recognizeCmd.Flags().Duration("interval", time.Second, "Delay between frames")
	recognizeCmd.Flags().Bool("loop", false, "Replay the directory forever")
	recognizeCmd.Flags().Int64("activity", 0, "Activity ID (required)")
	recognizeCmd.Flags().String("session", "", "Session: morning, afternoon, evening or full-day (required)")
	recognizeCmd.Flags().String("date", "", "Date of the marks as YYYY-MM-DD (default: the current date of each mark)")
	recognizeCmd.Flags().String("camera", "", "Camera ID recorded in the recognition log (default CAMERA_ID)")
	recognizeCmd.Flags().Duration("cooldown", 0, "Cooldown for repeated sightings (default RECOGNITION_COOLDOWN)")
	recognizeCmd.Flags().Bool("json", false, "Print events as JSON")
	_ = recognizeCmd.MarkFlagRequired("activity")
	_ = recognizeCmd.MarkFlagRequired("session")
	recognizeCmd.MarkFlagsOneRequired("dir", "snapshot-url")
	recognizeCmd.MarkFlagsMutuallyExclusive("dir", "snapshot-url")
}

// recognitionSource builds the frame source from the --dir or --snapshot-url flag.
func recognitionSource(cmd *cobra.Command) camera.Source {
	interval := mustGetDuration(cmd, "interval")
	if url := mustGetString(cmd, "snapshot-url"); url != "" {
		return &camera.SnapshotSource{URL: url, Interval: interval}
	}
	return &camera.DirectorySource{Dir: mustGetString(cmd, "dir"), Interval: interval, Loop: mustGetBool(cmd, "loop")}
}

func (a *app) recognitionConfig(cmd *cobra.Command) (recognition.Config, error) {
	session, err := database.ParseSession(mustGetString(cmd, "session"))
	if err != nil {
		return recognition.Config{}, err
	}
	cfg := recognition.Config{
		ActivityID: mustGetInt64(cmd, "activity"),
		Session:    session,
		CameraID:   a.cfg.Recognition.CameraID,
		Cooldown:   a.cfg.Recognition.Cooldown,
		OverlapIoU: a.cfg.Recognition.OverlapIoU,
	}
	if raw := mustGetString(cmd, "date"); raw != "" {
		if cfg.Date, err = database.ParseDate(raw); err != nil {
			return recognition.Config{}, err
		}
	}
	if id := mustGetString(cmd, "camera"); id != "" {
		cfg.CameraID = id
	}
	if cooldown := mustGetDuration(cmd, "cooldown"); cooldown > 0 {
		cfg.Cooldown = cooldown
	}
	return cfg, nil
}

func runRecognize(cmd *cobra.Command, args []string) error {
	asJSON := mustGetBool(cmd, "json")

	ctx := context.Background()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	cfg, err := a.recognitionConfig(cmd)
	if err != nil {
		return err
	}

	session := a.newSessionFactory()(cfg, recognitionSource(cmd))
	events, cancel := session.Subscribe()
	defer cancel()

	if err := session.Start(ctx); err != nil {
		if errors.Is(err, camera.ErrSourceUnavailable) {
			return fmt.Errorf("camera unavailable: %w", err)
		}
		return err
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case <-sigChan:
			fmt.Fprintln(os.Stderr, "\nStopping session...")
			session.Stop()
		case <-session.Done():
		}
	}()

	if !asJSON {
		fmt.Printf("Session %s running (activity %d, %s). Press Ctrl+C to stop\n\n",
			session.ID(), cfg.ActivityID, cfg.Session.DisplayName())
	}

	for ev := range events {
		if asJSON {
			if err := outputJSON(ev); err != nil {
				return err
			}
			continue
		}
		printRecognitionEvent(ev)
	}
	<-session.Done()

	info := session.Info()
	if !asJSON {
		printSessionStats(info)
	}
	return session.Err()
}

func printRecognitionEvent(ev recognition.Event) {
	who := "-"
	if ev.Name != "" {
		who = ev.Name
	} else if ev.IdentityID != nil {
		who = fmt.Sprintf("identity %d", *ev.IdentityID)
	}
	fmt.Printf("%s  frame %-5d %-21s %-30s %.2f%%\n",
		ev.CreatedAt.Local().Format("15:04:05"), ev.Frame, ev.Outcome, who, ev.Confidence*100)
}

func printSessionStats(info recognition.Info) {
	s := info.Stats
	fmt.Printf("\nSession %s %s\n", info.ID, info.State)
	fmt.Printf("  Frames:         %d (%d errors)\n", s.Frames, s.FrameErrors)
	fmt.Printf("  Faces:          %d (%d without embedding)\n", s.Faces, s.NoEmbedding)
	fmt.Printf("  Recognized:     %d\n", s.Recognized)
	fmt.Printf("  Duplicates:     %d\n", s.Duplicates)
	fmt.Printf("  Low confidence: %d\n", s.LowConfidence)
	fmt.Printf("  Unknown:        %d\n", s.Unknown)
	fmt.Printf("  Cooldown skips: %d\n", s.CooldownSkips)
	if s.MatchErrors+s.MarkErrors > 0 {
		fmt.Printf("  Errors:         %d match, %d mark\n", s.MatchErrors, s.MarkErrors)
	}
	if info.Error != "" {
		fmt.Printf("  Ended with:     %s\n", info.Error)
	}
}
