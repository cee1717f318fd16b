package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-attendance/internal/enrollment"
)

var enrollCmd = &cobra.Command{
	Use:   "enroll <identity> <images...>",
	Short: "Enroll an identity from face photos",
	Long: `Detect the largest face in every photo, score its quality and replace the
identity's stored embeddings with the accepted ones. Photos whose face is too
small, too far off-center or unreadable are reported and skipped.

If no photo is accepted the existing embeddings are kept.

Examples:
  # Enroll by ID
  face-attendance enroll 12 photos/jane/*.jpg

  # Enroll by external reference with a stricter quality bar
  face-attendance enroll S-1024 photos/jane/*.jpg --min-quality 0.6`,
	Args: cobra.MinimumNArgs(2),
	RunE: runEnroll,
}

func init() {
	rootCmd.AddCommand(enrollCmd)

	enrollCmd.Flags().Float64("min-quality", 0, "Override the minimum quality score (0 = configured value)")
	enrollCmd.Flags().Bool("json", false, "Output the report as JSON")
}

func runEnroll(cmd *cobra.Command, args []string) error {
	asJSON := mustGetBool(cmd, "json")

	ctx := context.Background()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	identity, err := a.resolveIdentity(ctx, args[0])
	if err != nil {
		return err
	}

	enroller := a.pipeline(mustGetFloat64(cmd, "min-quality"))

	paths := args[1:]
	if !asJSON {
		fmt.Printf("Enrolling %s (identity %d) from %d photos\n\n", identity.Name, identity.ID, len(paths))
	}

	bar := progressbar.NewOptions(len(paths),
		progressbar.OptionSetDescription("Detecting faces"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("photos"),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionFullWidth(),
		progressbar.OptionSetVisibility(!asJSON),
	)

	samples, err := a.loadSamples(ctx, paths, func() { bar.Add(1) })
	if err != nil {
		return err
	}
	bar.Finish()

	report, err := enroller.Enroll(ctx, identity.ID, samples)
	if err != nil && !errors.Is(err, enrollment.ErrNoAcceptedSamples) {
		return err
	}

	if asJSON {
		if jsonErr := outputJSON(report); jsonErr != nil {
			return jsonErr
		}
		return err
	}

	printEnrollmentReport(report)
	return err
}

func printEnrollmentReport(report *enrollment.Report) {
	fmt.Printf("\nProcessed: %d\n", report.Processed)
	fmt.Printf("Accepted:  %d\n", report.Accepted)
	fmt.Printf("Rejected:  %d\n", len(report.Rejected))
	for _, r := range report.Rejected {
		label := r.Label
		if label == "" {
			label = fmt.Sprintf("#%d", r.Index)
		}
		switch r.Reason {
		case enrollment.ReasonBelowThreshold:
			fmt.Printf("  %s: quality %.2f below threshold\n", label, r.Quality)
		default:
			fmt.Printf("  %s: %s\n", label, r.Reason)
		}
	}
}

// loadSamples reads photos and localizes their largest face. Photos the face server
// cannot process become empty samples so the report lists them as rejected.
func (a *app) loadSamples(ctx context.Context, paths []string, progress func()) ([]enrollment.Sample, error) {
	samples := make([]enrollment.Sample, 0, len(paths))
	for _, path := range paths {
		label := filepath.Base(path)
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
		sample, err := a.faces.SampleFromImage(ctx, label, data)
		if err != nil {
			a.log.Warn("preparing enrollment sample failed", "file", label, "error", err)
			sample = enrollment.Sample{Label: label}
		}
		samples = append(samples, sample)
		if progress != nil {
			progress()
		}
	}
	return samples, nil
}
