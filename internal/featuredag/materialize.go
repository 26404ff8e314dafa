package featuredag

import (
	"database/sql"
	"fmt"

	"github.com/antigravity-dev/buildrisk/internal/store"
)

// Materialize persists a completed Execute() run as FeatureVector rows (one
// per feature, NULL value when degraded) and FeatureAuditLog rows (one per
// outcome, including errors), so the split/export stage and operators both
// have a durable record of what was computed and why a feature was missing.
func Materialize(s *store.Store, scenarioID, buildRunID string, outcomes []NodeOutcome, idFn func() string) error {
	for _, o := range outcomes {
		vecID := idFn()
		value := valueToNullString(o)
		if err := s.UpsertFeatureVector(store.FeatureVector{
			ID:          vecID,
			ScenarioID:  scenarioID,
			BuildRunID:  buildRunID,
			FeatureName: o.Feature,
			Value:       value,
		}); err != nil {
			return fmt.Errorf("featuredag: materialize feature vector %q: %w", o.Feature, err)
		}

		if err := s.RecordFeatureAudit(store.FeatureAuditLog{
			ID:          idFn(),
			ScenarioID:  scenarioID,
			BuildRunID:  buildRunID,
			FeatureName: o.Feature,
			Outcome:     o.Outcome(),
			Detail:      auditDetail(o),
		}); err != nil {
			return fmt.Errorf("featuredag: materialize audit log %q: %w", o.Feature, err)
		}
	}
	return nil
}

func valueToNullString(o NodeOutcome) sql.NullString {
	if o.Err != nil || o.Result.Degraded || o.Result.Value == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: fmt.Sprintf("%v", o.Result.Value), Valid: true}
}

func auditDetail(o NodeOutcome) string {
	if o.Err != nil {
		return o.Err.Error()
	}
	if o.Result.Degraded {
		return o.Result.Reason
	}
	return ""
}
