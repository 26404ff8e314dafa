package scandispatch

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseTrivyReportCountsVulnerabilitiesBySeverity(t *testing.T) {
	report := []byte(`{
		"Results": [
			{"Vulnerabilities": [{"Severity": "HIGH"}, {"Severity": "LOW"}]},
			{"Vulnerabilities": [{"Severity": "HIGH"}]}
		]
	}`)

	metrics, err := ParseTrivyReport(report)
	require.NoError(t, err)
	require.Equal(t, "3", metrics["vulns"])
	require.Equal(t, "2", metrics["vulns_high"])
	require.Equal(t, "1", metrics["vulns_low"])
}

func TestParseTrivyReportNoVulnerabilities(t *testing.T) {
	metrics, err := ParseTrivyReport([]byte(`{"Results": []}`))
	require.NoError(t, err)
	require.Equal(t, "0", metrics["vulns"])
}

func TestParseTrivyReportInvalidJSON(t *testing.T) {
	_, err := ParseTrivyReport([]byte(`not json`))
	require.Error(t, err)
}
