package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"text/tabwriter"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-attendance/internal/enrollment"
)

var enrollBatchCmd = &cobra.Command{
	Use:   "enroll-batch <dir>",
	Short: "Enroll many identities from a directory tree",
	Long: `Enroll every identity that has a sub-directory in <dir>. The sub-directory
name is the identity ID or external reference and its image files are the samples.

  photos/
    S-1024/  front.jpg left.jpg right.jpg
    S-1025/  ...

Identities are enrolled concurrently; a failure of one does not stop the others.

Examples:
  face-attendance enroll-batch photos/ --concurrency 3`,
	Args: cobra.ExactArgs(1),
	RunE: runEnrollBatch,
}

func init() {
	rootCmd.AddCommand(enrollBatchCmd)

	enrollBatchCmd.Flags().Int("concurrency", 2, "Number of identities enrolled in parallel")
	enrollBatchCmd.Flags().Float64("min-quality", 0, "Override the minimum quality score (0 = configured value)")
	enrollBatchCmd.Flags().Bool("json", false, "Output as JSON")
}

var batchImageExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".bmp": true, ".webp": true,
}

// batchEntry is one identity directory.
type batchEntry struct {
	ref   string
	paths []string
}

// scanBatchDir lists identity directories and their images in name order.
// Directories without images are skipped.
func scanBatchDir(dir string) ([]batchEntry, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", dir, err)
	}

	var out []batchEntry
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		files, err := os.ReadDir(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", e.Name(), err)
		}
		entry := batchEntry{ref: e.Name()}
		for _, f := range files {
			if f.IsDir() || !batchImageExtensions[strings.ToLower(filepath.Ext(f.Name()))] {
				continue
			}
			entry.paths = append(entry.paths, filepath.Join(dir, e.Name(), f.Name()))
		}
		if len(entry.paths) > 0 {
			sort.Strings(entry.paths)
			out = append(out, entry)
		}
	}
	return out, nil
}

// BatchResult is the outcome of one identity in a batch.
type BatchResult struct {
	Ref        string             `json:"ref"`
	IdentityID int64              `json:"identity_id,omitempty"`
	Report     *enrollment.Report `json:"report,omitempty"`
	Error      string             `json:"error,omitempty"`
}

func runEnrollBatch(cmd *cobra.Command, args []string) error {
	concurrency := mustGetInt(cmd, "concurrency")
	asJSON := mustGetBool(cmd, "json")

	entries, err := scanBatchDir(args[0])
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return fmt.Errorf("no identity directories with images in %s", args[0])
	}

	ctx := context.Background()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	results := make([]BatchResult, 0, len(entries))
	jobs := make([]enrollment.Job, 0, len(entries))
	byID := make(map[int64]int, len(entries))

	totalPhotos := 0
	for _, e := range entries {
		totalPhotos += len(e.paths)
	}
	bar := progressbar.NewOptions(totalPhotos,
		progressbar.OptionSetDescription("Detecting faces"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("photos"),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionFullWidth(),
		progressbar.OptionSetVisibility(!asJSON),
	)

	for _, e := range entries {
		identity, err := a.resolveIdentity(ctx, e.ref)
		if err != nil {
			results = append(results, BatchResult{Ref: e.ref, Error: err.Error()})
			bar.Add(len(e.paths))
			continue
		}
		if _, dup := byID[identity.ID]; dup {
			results = append(results, BatchResult{Ref: e.ref, IdentityID: identity.ID, Error: "identity listed twice"})
			bar.Add(len(e.paths))
			continue
		}
		samples, err := a.loadSamples(ctx, e.paths, func() { bar.Add(1) })
		if err != nil {
			results = append(results, BatchResult{Ref: e.ref, IdentityID: identity.ID, Error: err.Error()})
			continue
		}
		byID[identity.ID] = len(results)
		results = append(results, BatchResult{Ref: e.ref, IdentityID: identity.ID})
		jobs = append(jobs, enrollment.Job{IdentityID: identity.ID, Samples: samples})
	}
	bar.Finish()

	var mu sync.Mutex
	enrolled := 0
	a.pipeline(mustGetFloat64(cmd, "min-quality")).EnrollMany(ctx, jobs, concurrency, func(r enrollment.Result) {
		mu.Lock()
		defer mu.Unlock()
		res := &results[byID[r.IdentityID]]
		res.Report = r.Report
		if r.Err != nil {
			res.Error = r.Err.Error()
			return
		}
		enrolled++
	})
	if enrolled > 0 {
		a.matcher.Invalidate()
	}

	if asJSON {
		if err := outputJSON(results); err != nil {
			return err
		}
	} else {
		printBatchResults(results)
	}

	if enrolled < len(results) {
		return errors.New("some identities were not enrolled")
	}
	return nil
}

func printBatchResults(results []BatchResult) {
	fmt.Println()
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "REF\tIDENTITY\tPROCESSED\tACCEPTED\tRESULT")
	fmt.Fprintln(w, "---\t--------\t---------\t--------\t------")
	for _, r := range results {
		processed, accepted := 0, 0
		if r.Report != nil {
			processed, accepted = r.Report.Processed, r.Report.Accepted
		}
		outcome := "ok"
		if r.Error != "" {
			outcome = r.Error
		}
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%s\n", r.Ref, r.IdentityID, processed, accepted, outcome)
	}
	w.Flush()
}
