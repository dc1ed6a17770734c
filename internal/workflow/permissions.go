package workflow

import "labcore/pkg/domain"

// Action names an operation gated by the resolved worklist stage.
type Action string

// Gated worklist actions.
const (
	ActionAssignTechnician Action = "assign_technician"
	ActionStartTechniques  Action = "start_techniques"
	ActionImportResults    Action = "import_results"
	ActionManageTemplate   Action = "manage_template"
	ActionManageLots       Action = "manage_lots"
)

// Actions lists every gated action in display order.
var Actions = []Action{
	ActionAssignTechnician,
	ActionStartTechniques,
	ActionImportResults,
	ActionManageTemplate,
	ActionManageLots,
}

// Permissions is the capability set granted by a stage.
type Permissions struct {
	CanAssignTechnician bool `json:"can_assign_technician"`
	CanStartTechniques  bool `json:"can_start_techniques"`
	CanImportResults    bool `json:"can_import_results"`
	CanManageTemplate   bool `json:"can_manage_template"`
	CanManageLots       bool `json:"can_manage_lots"`
}

// Allows reports whether the action is enabled. Unknown actions are never allowed.
func (p Permissions) Allows(action Action) bool {
	switch action {
	case ActionAssignTechnician:
		return p.CanAssignTechnician
	case ActionStartTechniques:
		return p.CanStartTechniques
	case ActionImportResults:
		return p.CanImportResults
	case ActionManageTemplate:
		return p.CanManageTemplate
	case ActionManageLots:
		return p.CanManageLots
	default:
		return false
	}
}

// DefaultPermissions returns the capability matrix of the four worklist stages.
func DefaultPermissions(stage domain.WorklistStage) Permissions {
	switch stage {
	case domain.StageCreated:
		return Permissions{CanAssignTechnician: true}
	case domain.StageTechnicianAssigned:
		return Permissions{CanAssignTechnician: true, CanStartTechniques: true}
	case domain.StageTechniquesStarted:
		return Permissions{CanImportResults: true, CanManageLots: true}
	case domain.StageResultsImported:
		return Permissions{CanManageTemplate: true, CanManageLots: true}
	default:
		return Permissions{}
	}
}

// GenericReason is reported for a disabled action with no registered reason.
const GenericReason = "not available in this stage"

type reasonKey struct {
	stage  domain.WorklistStage
	action Action
}

func defaultReasons() map[reasonKey]string {
	const (
		needAssignment = "assign a technician to every technique first"
		needStart      = "start every technique before importing results"
		alreadyStarted = "techniques are already running"
		alreadyDone    = "results have already been imported"
		needResults    = "templates can be changed once results are imported"
		needRunning    = "lots can be recorded once techniques have started"
	)
	return map[reasonKey]string{
		{domain.StageCreated, ActionStartTechniques}:            needAssignment,
		{domain.StageCreated, ActionImportResults}:              needStart,
		{domain.StageCreated, ActionManageTemplate}:             needResults,
		{domain.StageCreated, ActionManageLots}:                 needRunning,
		{domain.StageTechnicianAssigned, ActionImportResults}:   needStart,
		{domain.StageTechnicianAssigned, ActionManageTemplate}:  needResults,
		{domain.StageTechnicianAssigned, ActionManageLots}:      needRunning,
		{domain.StageTechniquesStarted, ActionAssignTechnician}: alreadyStarted,
		{domain.StageTechniquesStarted, ActionStartTechniques}:  alreadyStarted,
		{domain.StageTechniquesStarted, ActionManageTemplate}:   needResults,
		{domain.StageResultsImported, ActionAssignTechnician}:   alreadyDone,
		{domain.StageResultsImported, ActionStartTechniques}:    alreadyDone,
		{domain.StageResultsImported, ActionImportResults}:      alreadyDone,
	}
}
