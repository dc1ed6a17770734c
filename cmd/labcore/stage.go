package main

import (
	"github.com/spf13/cobra"

	"labcore/internal/status"
	"labcore/internal/workflow"
	"labcore/pkg/domain"
)

type stageView struct {
	WorklistID  string                     `json:"worklist_id"`
	Stage       domain.WorklistStage       `json:"stage"`
	Label       string                     `json:"label"`
	Permissions workflow.Permissions       `json:"permissions"`
	Reasons     map[workflow.Action]string `json:"reasons,omitempty"`
	Next        []domain.WorklistStage     `json:"next,omitempty"`
}

func newStageCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stage <worklist-id>",
		Short: "Resolve the current stage of a worklist",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.service(cmd.Context(), false)
			if err != nil {
				return err
			}
			res, err := svc.ResolveStage(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			view := stageView{
				WorklistID:  args[0],
				Stage:       res.Stage,
				Label:       describeState(svc.Validator(), status.DomainWorklist, string(res.Stage)),
				Permissions: res.Permissions,
				Reasons:     res.Reasons(),
			}
			for _, stage := range svc.Resolver().Stages() {
				if res.CanTransitionTo(stage) {
					view.Next = append(view.Next, stage)
				}
			}
			return writeJSON(cmd.OutOrStdout(), view)
		},
	}
}
