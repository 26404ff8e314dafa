// Package metrics exposes the process-wide Prometheus counters the
// orchestrator's activities increment as a scenario moves through its
// pipeline. One registry per process; Handler serves it over HTTP.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type scenarioMetrics struct {
	once sync.Once

	scenariosStarted   prometheus.Counter
	scenariosCompleted prometheus.Counter
	scenariosFailed    prometheus.Counter

	buildsIngested        prometheus.Counter
	buildsFeaturesExtracted prometheus.Counter

	scansDispatched prometheus.Counter
	scansCompleted  prometheus.Counter
	scansFailed     prometheus.Counter
}

var m scenarioMetrics

func (s *scenarioMetrics) init() {
	s.once.Do(func() {
		s.scenariosStarted = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "buildrisk_scenarios_started_total", Help: "Scenarios that entered filtering via StartScenarioGeneration.",
		})
		s.scenariosCompleted = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "buildrisk_scenarios_completed_total", Help: "Scenarios that reached the completed status.",
		})
		s.scenariosFailed = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "buildrisk_scenarios_failed_total", Help: "Scenarios that reached the failed status.",
		})
		s.buildsIngested = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "buildrisk_builds_ingested_total", Help: "IngestionBuilds that reached the ingested status.",
		})
		s.buildsFeaturesExtracted = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "buildrisk_builds_features_extracted_total", Help: "EnrichmentBuilds that finished feature extraction (completed or partial).",
		})
		s.scansDispatched = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "buildrisk_scans_dispatched_total", Help: "Scan units handed to the task dispatcher.",
		})
		s.scansCompleted = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "buildrisk_scans_completed_total", Help: "Scans that reported back successfully.",
		})
		s.scansFailed = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "buildrisk_scans_failed_total", Help: "Scans that reported back as failed.",
		})
		prometheus.MustRegister(
			s.scenariosStarted, s.scenariosCompleted, s.scenariosFailed,
			s.buildsIngested, s.buildsFeaturesExtracted,
			s.scansDispatched, s.scansCompleted, s.scansFailed,
		)
	})
}

func ScenarioStarted()   { m.init(); m.scenariosStarted.Inc() }
func ScenarioCompleted() { m.init(); m.scenariosCompleted.Inc() }
func ScenarioFailed()    { m.init(); m.scenariosFailed.Inc() }

func BuildIngested(n int)          { m.init(); m.buildsIngested.Add(float64(n)) }
func BuildFeaturesExtracted(n int) { m.init(); m.buildsFeaturesExtracted.Add(float64(n)) }

func ScanDispatched()        { m.init(); m.scansDispatched.Inc() }
func ScanCompleted(failed bool) {
	m.init()
	if failed {
		m.scansFailed.Inc()
		return
	}
	m.scansCompleted.Inc()
}

// Handler serves the registered metrics for promhttp.Handler()'s default
// gatherer, the same registry MustRegister above populated.
func Handler() http.Handler {
	m.init()
	return promhttp.Handler()
}
