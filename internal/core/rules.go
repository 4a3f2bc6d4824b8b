package core

// NewDefaultRulesEngine builds a rules engine with the built-in invariant set.
func NewDefaultRulesEngine() *RulesEngine {
	engine := NewRulesEngine()
	engine.Register(LifecycleTransitionRule())
	engine.Register(EscalationCapRule())
	engine.Register(VerificationGateRule())
	engine.Register(ActionConsistencyRule())
	engine.Register(RoundCompletionRule())
	return engine
}
