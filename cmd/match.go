package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-attendance/internal/facematch"
	"github.com/kozaktomas/face-attendance/internal/matcher"
)

var matchCmd = &cobra.Command{
	Use:   "match <image>",
	Short: "Identify the faces in a photo",
	Long: `Detect every face in a photo and match it against the enrolled gallery.
Nothing is written; use "recognize" to mark attendance.

Examples:
  face-attendance match door.jpg

  # Show the 5 best scoring identities per face
  face-attendance match door.jpg --candidates 5 --json`,
	Args: cobra.ExactArgs(1),
	RunE: runMatch,
}

func init() {
	rootCmd.AddCommand(matchCmd)

	matchCmd.Flags().Int("candidates", 0, "Also list the top N scoring identities per face")
	matchCmd.Flags().Bool("json", false, "Output as JSON")
}

// FaceMatch is the result for one detected face.
type FaceMatch struct {
	Box        facematch.BBox      `json:"bbox"`
	DetScore   float64             `json:"det_score"`
	Result     *matcher.Result     `json:"result,omitempty"`
	Candidates []matcher.Candidate `json:"candidates,omitempty"`
	Error      string              `json:"error,omitempty"`
}

func runMatch(cmd *cobra.Command, args []string) error {
	topN := mustGetInt(cmd, "candidates")
	asJSON := mustGetBool(cmd, "json")

	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("reading %s: %w", args[0], err)
	}

	ctx := context.Background()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	resp, err := a.faces.DetectFaces(ctx, data)
	if err != nil {
		return fmt.Errorf("detecting faces: %w", err)
	}
	faces := a.faces.Faces(resp)

	results := make([]FaceMatch, 0, len(faces))
	for _, face := range faces {
		fm := FaceMatch{Box: face.Box, DetScore: face.Score}
		if len(face.Vector) == 0 {
			fm.Error = "no embedding"
			results = append(results, fm)
			continue
		}
		res, err := a.matcher.Match(ctx, face.Vector)
		if err != nil {
			return fmt.Errorf("matching face: %w", err)
		}
		fm.Result = &res
		if topN > 0 {
			if fm.Candidates, err = a.matcher.Rank(ctx, face.Vector, topN); err != nil {
				return fmt.Errorf("ranking candidates: %w", err)
			}
		}
		results = append(results, fm)
	}

	if asJSON {
		return outputJSON(results)
	}
	printFaceMatches(results)
	return nil
}

func printFaceMatches(results []FaceMatch) {
	if len(results) == 0 {
		fmt.Println("No faces found")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "FACE\tBOX\tOUTCOME\tIDENTITY\tCONFIDENCE")
	fmt.Fprintln(w, "----\t---\t-------\t--------\t----------")
	for i, r := range results {
		box := fmt.Sprintf("%.0f,%.0f-%.0f,%.0f", r.Box.X1, r.Box.Y1, r.Box.X2, r.Box.Y2)
		if r.Result == nil {
			fmt.Fprintf(w, "%d\t%s\t%s\t-\t-\n", i+1, box, r.Error)
			continue
		}
		who := "-"
		if r.Result.Identity != nil {
			who = fmt.Sprintf("%s (%d)", r.Result.Identity.Name, r.Result.Identity.ID)
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%.2f%%\n", i+1, box, r.Result.Outcome, who, r.Result.Confidence*100)
	}
	w.Flush()

	for i, r := range results {
		if len(r.Candidates) == 0 {
			continue
		}
		fmt.Printf("\nFace %d candidates:\n", i+1)
		for _, c := range r.Candidates {
			fmt.Printf("  %-30s %.4f (%d embeddings)\n", c.Name, c.Score, c.Embeddings)
		}
	}
}
