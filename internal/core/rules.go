package core

import (
	"labcore/internal/status"
	"labcore/pkg/domain"
)

// NewDefaultRulesEngine builds a rules engine with the built-in policy set
// evaluated against the supplied status validator.
func NewDefaultRulesEngine(v *status.Validator) *domain.RulesEngine {
	engine := domain.NewRulesEngine()
	engine.Register(StatusTransitionRule(v))
	engine.Register(ClosedTechniqueRule(v))
	return engine
}
