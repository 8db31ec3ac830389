package detection

import "github.com/croplens/croplens/internal/domain/detection"

// recommendedActions is the static lookup from signal type to the actions
// suggested alongside it. The copy returned by actionsFor keeps callers from
// mutating the table.
var recommendedActions = map[detection.SignalType][]string{
	detection.SignalTypeVigorDecline: {
		"schedule_field_inspection",
		"review_irrigation_schedule",
		"compare_against_neighboring_parcels",
	},
	detection.SignalTypeStressEmerging: {
		"schedule_field_inspection",
		"check_pest_and_disease_pressure",
		"verify_recent_weather_stress",
	},
	detection.SignalTypeRecoveryCandidate: {
		"confirm_recovery_on_next_pass",
		"document_intervention_outcome",
	},
	detection.SignalTypeYieldOpportunity: {
		"review_harvest_window",
		"consider_variable_rate_application",
	},
}

func actionsFor(signalType detection.SignalType) []string {
	actions := recommendedActions[signalType]
	out := make([]string, len(actions))
	copy(out, actions)
	return out
}
