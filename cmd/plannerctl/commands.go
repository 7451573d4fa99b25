package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"example.com/plannersync/internal/calendar"
	"example.com/plannersync/internal/config"
	"example.com/plannersync/internal/domain"
	"example.com/plannersync/internal/rules"
)

func monthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "month",
		Short: "Reload a month and print its planned workouts",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			monthFlag, _ := cmd.Flags().GetString("month")
			month, err := parseMonth(monthFlag, flagLocation())
			if err != nil {
				return err
			}

			eng, err := newEngine(ctx, cmd, month)
			if err != nil {
				return err
			}
			defer eng.Close()

			if err := eng.cal.ShowMonth(ctx, month, eng.role); err != nil {
				return err
			}
			printMonth(cmd, eng)
			return nil
		},
	}
	cmd.Flags().StringP("month", "m", "", "Month to show (yyyy-MM, default current)")
	return cmd
}

func moveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "move",
		Short: "Move planned workouts to another day and wait for server confirmation",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			ids, to, month, err := moveFlags(cmd)
			if err != nil {
				return err
			}

			results := make(chan calendar.VerifyResult, 1)
			eng, err := newEngine(ctx, cmd, month, calendar.WithVerifiedHook(func(r calendar.VerifyResult) {
				results <- r
			}))
			if err != nil {
				return err
			}
			defer eng.Close()

			if err := eng.cal.Reload(ctx, eng.role); err != nil {
				return err
			}
			if err := eng.cal.MoveWorkouts(ctx, ids, to); err != nil {
				if v, ok := rules.AsViolation(err); ok {
					return fmt.Errorf("move refused (%s): %w", string(v), err)
				}
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "moved %s to %s\n", strings.Join(ids, ", "), to.Format(domain.DayLayout))

			eng.cal.WaitVerifications()
			select {
			case r := <-results:
				printVerification(cmd, r)
			default:
			}
			return nil
		},
	}
	addMoveFlags(cmd)
	return cmd
}

func checkCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate a move against the drop rules without submitting it",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			ids, to, month, err := moveFlags(cmd)
			if err != nil {
				return err
			}

			eng, err := newEngine(ctx, cmd, month)
			if err != nil {
				return err
			}
			defer eng.Close()

			if err := eng.cal.Reload(ctx, eng.role); err != nil {
				return err
			}
			allowed, violation := eng.cal.ValidateDraggedIDs(ids, to)
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "allowed: %s\n", strings.Join(allowed, ", "))
			if violation != nil {
				fmt.Fprintf(out, "refused: %v\n", violation)
			}
			return nil
		},
	}
	addMoveFlags(cmd)
	return cmd
}

func cacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the local caches",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Remove cached months and cached responses",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			eng, err := newEngine(ctx, cmd, time.Now())
			if err != nil {
				return err
			}
			defer eng.Close()

			err = errors.Join(eng.months.ClearAll(), eng.cache.InvalidateAll(ctx))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "caches cleared")
			return nil
		},
	})
	return cmd
}

func addMoveFlags(cmd *cobra.Command) {
	cmd.Flags().StringSlice("ids", nil, "Workout ids to move (comma separated)")
	cmd.Flags().String("to", "", "Target day (yyyy-MM-dd)")
	cmd.Flags().StringP("month", "m", "", "Month to load (yyyy-MM, default the target's month)")
	_ = cmd.MarkFlagRequired("ids")
	_ = cmd.MarkFlagRequired("to")
}

func moveFlags(cmd *cobra.Command) ([]string, time.Time, time.Time, error) {
	ids, _ := cmd.Flags().GetStringSlice("ids")
	toFlag, _ := cmd.Flags().GetString("to")
	monthFlag, _ := cmd.Flags().GetString("month")

	loc := flagLocation()
	to, err := domain.ParseDay(toFlag, loc)
	if err != nil {
		return nil, time.Time{}, time.Time{}, fmt.Errorf("invalid --to %q: %w", toFlag, err)
	}
	month := to
	if monthFlag != "" {
		if month, err = parseMonth(monthFlag, loc); err != nil {
			return nil, time.Time{}, time.Time{}, err
		}
	}
	return ids, to, month, nil
}

// flagLocation is the zone day and month flags are read in; newEngine reports a bad zone.
func flagLocation() *time.Location {
	if loc, err := config.Load().Location(); err == nil {
		return loc
	}
	return time.UTC
}

func parseMonth(value string, loc *time.Location) (time.Time, error) {
	if value == "" {
		return time.Now().In(loc), nil
	}
	month, err := domain.ParseMonthKey(value, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --month %q: %w", value, err)
	}
	return month, nil
}

func printMonth(cmd *cobra.Command, eng *engine) {
	out := cmd.OutOrStdout()
	month := eng.cal.Month()
	fmt.Fprintf(out, "%s\n", month.Format("January 2006"))
	if eng.cal.Stale() {
		fmt.Fprintln(out, "(offline: showing cached data)")
	}
	start, end := domain.GridBounds(month, eng.loc)
	for d := start; !d.After(end); d = domain.AddDays(d, 1) {
		items := eng.cal.Items(d)
		if len(items) == 0 {
			continue
		}
		fmt.Fprintf(out, "%s %s\n", d.Format(domain.DayLayout), d.Weekday().String()[:3])
		for _, it := range items {
			w := it.Workout
			detail := ""
			if w.PlannedLayers != nil {
				detail = fmt.Sprintf(" x%d", *w.PlannedLayers)
			}
			fmt.Fprintf(out, "  %-6s %-20s %3dm%s  [%s]\n", it.Kind, w.Name, w.Duration, detail, w.ID)
		}
	}
}

func printVerification(cmd *cobra.Command, r calendar.VerifyResult) {
	out := cmd.OutOrStdout()
	switch {
	case r.ServerError:
		fmt.Fprintln(out, "verification: server unreachable, calendar reloaded")
	case len(r.Missing) > 0:
		fmt.Fprintf(out, "verification: %s not found on server, calendar reloaded\n", strings.Join(r.Missing, ", "))
	case r.Healed():
		fmt.Fprintf(out, "verification: corrected from server (remapped=%v)\n", r.Remapped)
	default:
		fmt.Fprintln(out, "verification: confirmed")
	}
}
