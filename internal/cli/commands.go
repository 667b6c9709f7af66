package cli

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"

	"github.com/spf13/cobra"

	"stagetasks/internal/export"
	"stagetasks/internal/models"
	"stagetasks/internal/tasks"
)

func parseTaskID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid task id %q", s)
	}
	return id, nil
}

func (a *app) listCommand() *cobra.Command {
	var sortBy string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List all tasks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			sess, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer sess.Close()

			list := sess.repo.List()
			switch sortBy {
			case "", "created":
			case "priority":
				sortByPriority(list)
			default:
				return fmt.Errorf("unknown sort %q (want created or priority)", sortBy)
			}
			if a.jsonOutput {
				return writeJSON(cmd.OutOrStdout(), list)
			}
			newPrinter(cmd.OutOrStdout()).tasks(list)
			return nil
		},
	}
	cmd.Flags().BoolVar(&a.jsonOutput, "json", false, "output JSON")
	cmd.Flags().StringVar(&sortBy, "sort", "created", "order: created or priority")
	return cmd
}

// sortByPriority orders most urgent first; ties keep creation order.
func sortByPriority(list []models.Task) {
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].Priority.Order() < list[j].Priority.Order()
	})
}

func (a *app) showCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show one task with its stage ids",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseTaskID(args[0])
			if err != nil {
				return err
			}

			sess, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer sess.Close()

			task, err := sess.repo.Get(id)
			if err != nil {
				return err
			}
			if a.jsonOutput {
				return writeJSON(cmd.OutOrStdout(), task)
			}
			newPrinter(cmd.OutOrStdout()).task(task, true)
			return nil
		},
	}
	cmd.Flags().BoolVar(&a.jsonOutput, "json", false, "output JSON")
	return cmd
}

func (a *app) addCommand() *cobra.Command {
	var in models.TaskInput

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a task",
		Example: `  stagetasks add --title "Build site" --priority high --stage Research --stage Design`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if errs := in.Validate(); errs != nil {
				return errs
			}

			sess, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer sess.Close()

			task, err := sess.repo.Add(cmd.Context(), in.CleanTitle(), in.CleanStages(), in.CleanPriority())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Added task #%d\n", task.ID)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVarP(&in.Title, "title", "t", "", "task title (required)")
	f.StringVarP(&in.Priority, "priority", "p", "", "high, medium or low (required)")
	f.StringArrayVarP(&in.Stages, "stage", "s", nil, "stage label; repeat for more stages")
	return cmd
}

func (a *app) editCommand() *cobra.Command {
	var title, priority string
	var stages []string

	cmd := &cobra.Command{
		Use:   "edit <id>",
		Short: "Change a task's title, priority or stages",
		Long: `Change a task. Flags that are not given keep their current value. Passing
--stage replaces the whole stage list; stages whose label is unchanged keep
their completion.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseTaskID(args[0])
			if err != nil {
				return err
			}

			sess, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer sess.Close()

			current, err := sess.repo.Get(id)
			if err != nil {
				return err
			}

			in := models.InputFromTask(current)
			flags := cmd.Flags()
			if flags.Changed("title") {
				in.Title = title
			}
			if flags.Changed("priority") {
				in.Priority = priority
			}
			if flags.Changed("stage") {
				in.Stages = stages
			}
			if errs := in.Validate(); errs != nil {
				return errs
			}

			if err := sess.repo.Update(cmd.Context(), id, in.CleanTitle(), in.CleanStages(), in.CleanPriority()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Updated task #%d\n", id)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVarP(&title, "title", "t", "", "new title")
	f.StringVarP(&priority, "priority", "p", "", "new priority")
	f.StringArrayVarP(&stages, "stage", "s", nil, "stage label; repeat for more stages")
	return cmd
}

func (a *app) deleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "delete <id>",
		Aliases: []string{"rm"},
		Short:   "Delete a task",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseTaskID(args[0])
			if err != nil {
				return err
			}

			sess, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer sess.Close()

			if err := sess.repo.Delete(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted task #%d\n", id)
			return nil
		},
	}
}

func (a *app) toggleCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "toggle <id> <stage>",
		Short: "Check or uncheck a stage",
		Long: `Flip a stage's completion. <stage> is a stage id (see "stagetasks show") or,
failing that, a label; with duplicate labels the first one is toggled.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseTaskID(args[0])
			if err != nil {
				return err
			}

			sess, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer sess.Close()

			stage, err := sess.repo.ToggleStage(cmd.Context(), id, args[1])
			if errors.Is(err, tasks.ErrStageNotFound) {
				stage, err = sess.repo.ToggleStageByLabel(cmd.Context(), id, args[1])
			}
			if err != nil {
				return err
			}

			state := "incomplete"
			if stage.Complete {
				state = "complete"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s is now %s\n", stage.Label, state)
			return nil
		},
	}
}

func (a *app) exportCommand() *cobra.Command {
	var format, output string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export tasks as json, csv, yaml or pdf",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			sess, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer sess.Close()

			data, err := export.Export(sess.repo.List(), format)
			if err != nil {
				return err
			}

			if output == "" || output == "-" {
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}
			if err := os.WriteFile(output, data, 0o644); err != nil {
				return fmt.Errorf("failed to write %s: %w", output, err)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Wrote %s\n", output)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVarP(&format, "format", "f", "json", "json, csv, yaml or pdf")
	f.StringVarP(&output, "output", "o", "", "file to write (default stdout)")
	return cmd
}
