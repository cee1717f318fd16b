package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-attendance/internal/database"
)

var attendanceCmd = &cobra.Command{
	Use:   "attendance",
	Short: "Mark, list and correct attendance",
	Long: `Commands for the attendance ledger. Each identity is recorded at most once
per activity, date and session; repeated marks are reported as duplicates.`,
}

var attendanceMarkCmd = &cobra.Command{
	Use:   "mark <identity>",
	Short: "Mark an identity present",
	Long: `Mark an identity (ID or external reference) present for an activity session.

Examples:
  face-attendance attendance mark S-1024 --activity 7 --session morning
  face-attendance attendance mark 12 --activity 7 --session "Full Day" --date 2025-03-04`,
	Args: cobra.ExactArgs(1),
	RunE: runAttendanceMark,
}

var attendanceListCmd = &cobra.Command{
	Use:   "list",
	Short: "List attendance records",
	Long: `List attendance records of one identity, one activity (optionally within a
date range) or one date.

Examples:
  face-attendance attendance list --identity S-1024
  face-attendance attendance list --activity 7 --from 2025-03-01 --to 2025-03-31
  face-attendance attendance list --date 2025-03-04 --json`,
	Args: cobra.NoArgs,
	RunE: runAttendanceList,
}

var attendanceStatusCmd = &cobra.Command{
	Use:   "status <identity>",
	Short: "Correct the status of an attendance record",
	Long: `Change the status (PRESENT, ABSENT, LATE, EXCUSED) and remarks of an
existing attendance record.

Examples:
  face-attendance attendance status S-1024 --activity 7 --session morning --date 2025-03-04 --status late --remarks "bus delay"`,
	Args: cobra.ExactArgs(1),
	RunE: runAttendanceStatus,
}

var attendancePercentageCmd = &cobra.Command{
	Use:   "percentage <identity>",
	Short: "Show the attendance percentage of an identity for an activity",
	Args:  cobra.ExactArgs(1),
	RunE:  runAttendancePercentage,
}

func init() {
	rootCmd.AddCommand(attendanceCmd)
	attendanceCmd.AddCommand(attendanceMarkCmd, attendanceListCmd, attendanceStatusCmd, attendancePercentageCmd)

	for _, c := range []*cobra.Command{attendanceMarkCmd, attendanceStatusCmd} {
		c.Flags().Int64("activity", 0, "Activity ID (required)")
		c.Flags().String("session", "", "Session: morning, afternoon, evening or full-day (required)")
		c.Flags().String("date", "", "Date as YYYY-MM-DD (default today)")
		_ = c.MarkFlagRequired("activity")
		_ = c.MarkFlagRequired("session")
	}
	attendanceMarkCmd.Flags().String("by", database.SourceManual, "Marker source recorded with the row")

	attendanceStatusCmd.Flags().String("status", "", "New status (required)")
	attendanceStatusCmd.Flags().String("remarks", "", "Free-text remarks")
	_ = attendanceStatusCmd.MarkFlagRequired("status")

	attendanceListCmd.Flags().String("identity", "", "Identity ID or reference")
	attendanceListCmd.Flags().Int64("activity", 0, "Activity ID")
	attendanceListCmd.Flags().String("date", "", "Date as YYYY-MM-DD")
	attendanceListCmd.Flags().String("from", "", "Range start for --activity (YYYY-MM-DD)")
	attendanceListCmd.Flags().String("to", "", "Range end for --activity (YYYY-MM-DD)")
	attendanceListCmd.Flags().Bool("json", false, "Output as JSON")

	attendancePercentageCmd.Flags().Int64("activity", 0, "Activity ID (required)")
	attendancePercentageCmd.Flags().Int("sessions", 0, "Total sessions held for the activity (required)")
	attendancePercentageCmd.Flags().Bool("json", false, "Output as JSON")
	_ = attendancePercentageCmd.MarkFlagRequired("activity")
	_ = attendancePercentageCmd.MarkFlagRequired("sessions")
}

// parseDateFlag parses a YYYY-MM-DD flag, falling back to today when empty.
func parseDateFlag(cmd *cobra.Command, name string) (time.Time, error) {
	raw := mustGetString(cmd, name)
	if raw == "" {
		return database.DateOf(time.Now()), nil
	}
	return database.ParseDate(raw)
}

// attendanceKey builds the ledger key from the --activity, --session and --date flags.
func (a *app) attendanceKey(ctx context.Context, cmd *cobra.Command, ref string) (database.AttendanceKey, *database.Identity, error) {
	identity, err := a.resolveIdentity(ctx, ref)
	if err != nil {
		return database.AttendanceKey{}, nil, err
	}
	session, err := database.ParseSession(mustGetString(cmd, "session"))
	if err != nil {
		return database.AttendanceKey{}, nil, err
	}
	date, err := parseDateFlag(cmd, "date")
	if err != nil {
		return database.AttendanceKey{}, nil, err
	}
	return database.AttendanceKey{
		IdentityID: identity.ID,
		ActivityID: mustGetInt64(cmd, "activity"),
		Date:       date,
		Session:    session,
	}, identity, nil
}

func runAttendanceMark(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	key, identity, err := a.attendanceKey(ctx, cmd, args[0])
	if err != nil {
		return err
	}
	marked, err := a.attendance.MarkPresent(ctx, key, mustGetString(cmd, "by"))
	if err != nil {
		return err
	}

	when := fmt.Sprintf("activity %d, %s, %s", key.ActivityID, key.Date.Format(database.DateLayout), key.Session.DisplayName())
	if marked {
		fmt.Printf("Marked %s present (%s)\n", identity.Name, when)
	} else {
		fmt.Printf("%s is already marked (%s)\n", identity.Name, when)
	}
	return nil
}

func runAttendanceStatus(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	key, identity, err := a.attendanceKey(ctx, cmd, args[0])
	if err != nil {
		return err
	}
	status, err := database.ParseStatus(mustGetString(cmd, "status"))
	if err != nil {
		return err
	}
	if err := a.attendance.UpdateStatus(ctx, key, status, mustGetString(cmd, "remarks")); err != nil {
		return err
	}
	fmt.Printf("Updated %s to %s\n", identity.Name, status)
	return nil
}

func runAttendanceList(cmd *cobra.Command, args []string) error {
	identityRef := mustGetString(cmd, "identity")
	activityID := mustGetInt64(cmd, "activity")
	dateRaw := mustGetString(cmd, "date")
	fromRaw := mustGetString(cmd, "from")
	toRaw := mustGetString(cmd, "to")

	ctx := context.Background()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	var records []database.AttendanceRecord
	switch {
	case identityRef != "":
		identity, err := a.resolveIdentity(ctx, identityRef)
		if err != nil {
			return err
		}
		records, err = a.attendance.ForIdentity(ctx, identity.ID)
		if err != nil {
			return err
		}
	case activityID > 0 && (fromRaw != "" || toRaw != ""):
		from, to := time.Time{}, database.DateOf(time.Now())
		if fromRaw != "" {
			if from, err = database.ParseDate(fromRaw); err != nil {
				return err
			}
		}
		if toRaw != "" {
			if to, err = database.ParseDate(toRaw); err != nil {
				return err
			}
		}
		if records, err = a.attendance.ForActivityBetween(ctx, activityID, from, to); err != nil {
			return err
		}
	case activityID > 0:
		if records, err = a.attendance.ForActivity(ctx, activityID); err != nil {
			return err
		}
	case dateRaw != "":
		date, err := database.ParseDate(dateRaw)
		if err != nil {
			return err
		}
		if records, err = a.attendance.ForDate(ctx, date); err != nil {
			return err
		}
	default:
		return errors.New("one of --identity, --activity or --date is required")
	}

	if mustGetBool(cmd, "json") {
		if records == nil {
			records = []database.AttendanceRecord{}
		}
		return outputJSON(records)
	}
	if len(records) == 0 {
		fmt.Println("No attendance records found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "IDENTITY\tACTIVITY\tDATE\tSESSION\tSTATUS\tMARKED AT\tBY\tREMARKS")
	fmt.Fprintln(w, "--------\t--------\t----\t-------\t------\t---------\t--\t-------")
	for _, r := range records {
		fmt.Fprintf(w, "%d\t%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.IdentityID, r.ActivityID, r.Date.Format(database.DateLayout), r.Session.DisplayName(),
			r.Status, r.MarkedAt.Local().Format("15:04:05"), r.MarkedBy, r.Remarks)
	}
	w.Flush()
	fmt.Printf("\n%d records\n", len(records))
	return nil
}

func runAttendancePercentage(cmd *cobra.Command, args []string) error {
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
	activityID := mustGetInt64(cmd, "activity")
	pct, err := a.attendance.Percentage(ctx, identity.ID, activityID, mustGetInt(cmd, "sessions"))
	if err != nil {
		return err
	}

	if mustGetBool(cmd, "json") {
		return outputJSON(map[string]any{
			"identity_id": identity.ID,
			"activity_id": activityID,
			"percentage":  pct,
		})
	}
	fmt.Printf("%s attended %.1f%% of activity %d\n", identity.Name, pct, activityID)
	return nil
}
