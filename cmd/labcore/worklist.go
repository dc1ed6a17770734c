package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"labcore/pkg/domain"
)

func newWorklistCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "worklist",
		Short: "Create and progress worklists",
	}
	cmd.AddCommand(
		newWorklistCreateCmd(a),
		newWorklistShowCmd(a),
		newWorklistAssignCmd(a),
		newWorklistStartCmd(a),
		newWorklistStatusCmd(a),
		newWorklistTemplateCmd(a),
		newWorklistCountsCmd(a),
		newWorklistTechniquesCmd(a),
	)
	return cmd
}

// reportViolations prints non-blocking rule findings of a committed write.
func (a *app) reportViolations(cmd *cobra.Command, res domain.Result) {
	for _, line := range violationsOf(res) {
		fmt.Fprintln(cmd.ErrOrStderr(), "warning:", line)
	}
}

func newWorklistCreateCmd(a *app) *cobra.Command {
	var (
		name       string
		techniques []string
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a worklist and schedule its techniques",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if strings.TrimSpace(name) == "" {
				return fmt.Errorf("--name is required")
			}
			ctx := cmd.Context()
			svc, err := a.service(ctx, false)
			if err != nil {
				return err
			}
			worklist, res, err := svc.CreateWorklist(ctx, domain.Worklist{Name: name})
			if err != nil {
				return err
			}
			a.reportViolations(cmd, res)
			for _, technique := range techniques {
				_, res, err := svc.AddTechnique(ctx, worklist.ID, technique)
				if err != nil {
					return fmt.Errorf("schedule %s: %w", technique, err)
				}
				a.reportViolations(cmd, res)
			}
			detail, err := svc.Worklist(ctx, worklist.ID)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), detail)
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "worklist name")
	cmd.Flags().StringSliceVar(&techniques, "technique", nil, "technique identifier to schedule (repeatable)")
	return cmd
}

func newWorklistShowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show <worklist-id>",
		Short: "Print a worklist with its techniques, lots and stage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.service(cmd.Context(), false)
			if err != nil {
				return err
			}
			detail, err := svc.Worklist(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), detail)
		},
	}
}

func newWorklistAssignCmd(a *app) *cobra.Command {
	var (
		technician domain.Assignee
		techniques []string
	)
	cmd := &cobra.Command{
		Use:   "assign <worklist-id>",
		Short: "Assign a technician to techniques of a worklist",
		Long:  `Assigns the technician to the listed techniques, or to every technique of the worklist when none are listed.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.service(cmd.Context(), false)
			if err != nil {
				return err
			}
			updated, res, err := svc.AssignTechnician(cmd.Context(), args[0], technician, techniques...)
			if err != nil {
				return err
			}
			a.reportViolations(cmd, res)
			return writeJSON(cmd.OutOrStdout(), updated)
		},
	}
	cmd.Flags().StringVar(&technician.ID, "technician-id", "", "technician identifier")
	cmd.Flags().StringVar(&technician.Name, "technician-name", "", "technician display name")
	cmd.Flags().StringSliceVar(&techniques, "technique", nil, "technique to assign (repeatable, default all)")
	return cmd
}

func newWorklistStartCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "start <worklist-id>",
		Short: "Start every technique of a worklist",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.service(cmd.Context(), false)
			if err != nil {
				return err
			}
			updated, res, err := svc.StartTechniques(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			a.reportViolations(cmd, res)
			return writeJSON(cmd.OutOrStdout(), updated)
		},
	}
}

func newWorklistStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "set-status <assignment-id> <status>",
		Short: "Move one technique to a new status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.service(cmd.Context(), false)
			if err != nil {
				return err
			}
			updated, res, err := svc.UpdateTechniqueStatus(cmd.Context(), args[0], domain.TechniqueStatus(args[1]))
			if err != nil {
				return err
			}
			a.reportViolations(cmd, res)
			return writeJSON(cmd.OutOrStdout(), updated)
		},
	}
}

func newWorklistTemplateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "template <worklist-id> <template-id>",
		Short: "Attach a report template to a worklist",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.service(cmd.Context(), false)
			if err != nil {
				return err
			}
			updated, res, err := svc.SetTemplate(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			a.reportViolations(cmd, res)
			return writeJSON(cmd.OutOrStdout(), updated)
		},
	}
}

func newWorklistCountsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "counts <worklist-id>",
		Short: "Count techniques per status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.service(cmd.Context(), false)
			if err != nil {
				return err
			}
			rows, err := svc.TechniqueStatusCounts(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), rows)
		},
	}
}

func newWorklistTechniquesCmd(a *app) *cobra.Command {
	var statuses []string
	cmd := &cobra.Command{
		Use:   "techniques <worklist-id>",
		Short: "List techniques ordered by status priority",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.service(cmd.Context(), false)
			if err != nil {
				return err
			}
			include := make([]domain.TechniqueStatus, len(statuses))
			for i, st := range statuses {
				include[i] = domain.TechniqueStatus(st)
			}
			out, err := svc.AssignmentsByPriority(cmd.Context(), args[0], include...)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().StringSliceVar(&statuses, "status", nil, "only list techniques in these statuses (repeatable)")
	return cmd
}
