package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/milestep/milestep/internal/dateparse"
	"github.com/milestep/milestep/internal/tracker"
	"github.com/milestep/milestep/internal/ui"
)

var addCmd = &cobra.Command{
	Use:     "add",
	GroupID: "track",
	Short:   "Log activity for a day",
	Long: `Log distance, calories and weight for a day.

An entry for a day that already has one is added to it: distance, steps and
calories are summed, and a weight replaces the previous one. Steps are
computed from the distance with the current steps-per-mile setting.

The date accepts YYYY-MM-DD or phrases like "yesterday" or "last monday".
Run without --miles in a terminal to fill in a form instead.

Examples:
  mst add --miles 3.1
  mst add --date yesterday --miles 2 --calories 180 --weight 181.5`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		date, _ := cmd.Flags().GetString("date")
		miles, _ := cmd.Flags().GetFloat64("miles")
		calories, _ := cmd.Flags().GetFloat64("calories")
		weight, _ := cmd.Flags().GetFloat64("weight")

		if !cmd.Flags().Changed("miles") {
			if !ui.IsTerminal(os.Stdin) {
				return fmt.Errorf("--miles is required")
			}
			var err error
			if date, miles, calories, weight, err = askEntry(date); err != nil {
				return err
			}
		}

		day, err := dateparse.Parse(date, time.Now())
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		return withApp(ctx, true, func(a *app) error {
			rec, err := a.session.Add(ctx, tracker.AddInput{
				Date:     day,
				Miles:    miles,
				Calories: calories,
				Weight:   weight,
			})
			if err != nil {
				return err
			}
			verb := "Logged"
			if rec.Merged {
				verb = "Added to"
			}
			fmt.Fprintf(out, "%s %s: %s mi, %s steps, %s cal (id %s)\n",
				verb, ui.Day(rec.Date), ui.Miles(rec.Miles), ui.Steps(rec.Steps), ui.Calories(rec.Calories), rec.ID)
			return nil
		})
	},
}

// askEntry shows the interactive entry form.
func askEntry(date string) (string, float64, float64, float64, error) {
	var miles, calories, weight string
	if date == "" {
		date = "today"
	}

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().Title("Date").Description("YYYY-MM-DD, today, yesterday, ...").Value(&date).
				Validate(func(s string) error {
					_, err := dateparse.Parse(s, time.Now())
					return err
				}),
			huh.NewInput().Title("Miles").Value(&miles).Validate(number(true)),
			huh.NewInput().Title("Calories").Description("optional").Value(&calories).Validate(number(false)),
			huh.NewInput().Title("Weight").Description("optional").Value(&weight).Validate(number(false)),
		),
	)
	if err := form.Run(); err != nil {
		return "", 0, 0, 0, err
	}

	return date, parseNumber(miles), parseNumber(calories), parseNumber(weight), nil
}

// number validates a non-negative numeric form field.
func number(required bool) func(string) error {
	return func(s string) error {
		s = strings.TrimSpace(s)
		if s == "" {
			if required {
				return fmt.Errorf("required")
			}
			return nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fmt.Errorf("not a number")
		}
		if f < 0 {
			return fmt.Errorf("must not be negative")
		}
		return nil
	}
}

func parseNumber(s string) float64 {
	f, _ := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return f
}

var editCmd = &cobra.Command{
	Use:     "edit <id>",
	GroupID: "track",
	Short:   "Overwrite a logged day",
	Long: `Replace the distance, calories and weight of a record. Steps are
recomputed from the new distance. Omitting --weight clears the weight.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		miles, _ := cmd.Flags().GetFloat64("miles")
		calories, _ := cmd.Flags().GetFloat64("calories")
		weight, _ := cmd.Flags().GetFloat64("weight")

		ctx := cmd.Context()
		return withApp(ctx, true, func(a *app) error {
			rec, found, err := a.session.Edit(ctx, args[0], tracker.EditInput{
				Miles:    miles,
				Calories: calories,
				Weight:   weight,
			})
			if err != nil {
				return err
			}
			if !found {
				fmt.Fprintf(out, "No record with id %s\n", args[0])
				return nil
			}
			fmt.Fprintf(out, "Updated %s: %s mi, %s steps, %s cal, weight %s\n",
				ui.Day(rec.Date), ui.Miles(rec.Miles), ui.Steps(rec.Steps), ui.Calories(rec.Calories), ui.Weight(rec.Weight))
			return nil
		})
	},
}

var rmCmd = &cobra.Command{
	Use:     "rm <id>",
	GroupID: "track",
	Short:   "Delete a logged day",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		ctx := cmd.Context()
		return withApp(ctx, true, func(a *app) error {
			found, err := a.session.Delete(ctx, args[0])
			if err != nil {
				return err
			}
			if found {
				fmt.Fprintf(out, "Deleted %s\n", args[0])
			} else {
				fmt.Fprintf(out, "No record with id %s\n", args[0])
			}
			return nil
		})
	},
}

func init() {
	addCmd.Flags().String("date", "", "day to log (default: today)")
	addCmd.Flags().Float64("miles", 0, "distance in miles")
	addCmd.Flags().Float64("calories", 0, "calories burned")
	addCmd.Flags().Float64("weight", 0, "body weight (0 = not recorded)")

	editCmd.Flags().Float64("miles", 0, "distance in miles")
	editCmd.Flags().Float64("calories", 0, "calories burned")
	editCmd.Flags().Float64("weight", 0, "body weight (0 = not recorded)")
	_ = editCmd.MarkFlagRequired("miles")

	rootCmd.AddCommand(addCmd, editCmd, rmCmd)
}
