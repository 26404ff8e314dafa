// Package taskrt is the pipeline's distributed task runtime (C1): named
// queues served by dedicated worker pools over Temporal, a retry-kind
// classifier that turns the platform's closed error taxonomy into a
// concrete temporal.RetryPolicy, and a SQLite-backed result store chord
// callbacks drain once every sibling future resolves.
package taskrt

import (
	"time"

	"go.temporal.io/sdk/temporal"

	"github.com/antigravity-dev/buildrisk/internal/pipelineerr"
)

// Canonical queue names (§4.1).
const (
	QueueIngestion          = "ingestion"
	QueueProcessing         = "processing"
	QueueScenarioIngestion  = "scenario_ingestion"
	QueueScenarioProcessing = "scenario_processing"
	QueueScenarioScanning   = "scenario_scanning"
	QueueSonarScan          = "sonar_scan"
	QueueTrivyScan          = "trivy_scan"
)

// TaskEnvelope is the generic payload RunTaskWorkflow hands to whichever
// named activity a worker on the target queue has registered. Keeping the
// workflow generic means every queue shares one workflow definition; only
// the activity registration differs per worker pool.
type TaskEnvelope struct {
	TaskName string
	Payload  any
}

// RetryPolicyFor builds a temporal.RetryPolicy from the platform's
// pipelineerr.Kind taxonomy, so a task's retry behavior is driven by why it
// failed rather than by ad hoc per-call tuning. Only retryable and
// rate_limited kinds get more than one attempt (§7: the other kinds are
// fail-fast by definition).
func RetryPolicyFor(kind pipelineerr.Kind, maxAttempts int, initialBackoff, maxBackoff time.Duration, backoffFactor float64) *temporal.RetryPolicy {
	switch kind {
	case pipelineerr.KindRetryable, pipelineerr.KindRateLimited:
		cappedMax := maxBackoff
		if cappedMax > 10*time.Minute {
			cappedMax = 10 * time.Minute // §7: retryable/rate_limited backoff caps at 10m
		}
		return &temporal.RetryPolicy{
			InitialInterval:    initialBackoff,
			BackoffCoefficient: backoffFactor,
			MaximumInterval:    cappedMax,
			MaximumAttempts:    int32(maxAttempts),
		}
	default:
		// configuration, not_found, permission, conflict, missing_resource,
		// fatal: none of these ever succeed on bare retry.
		return &temporal.RetryPolicy{MaximumAttempts: 1}
	}
}
