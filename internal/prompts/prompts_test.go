package prompts

import (
	"strings"
	"testing"

	"medical-ai-platform/internal/recordings"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReportSystem_EveryVisitTypeHasInstructions(t *testing.T) {
	for _, vt := range recordings.VisitTypes() {
		p, err := ReportSystem(string(vt))
		require.NoError(t, err, vt)
		assert.True(t, strings.HasPrefix(p, system), vt)
		assert.Contains(t, p, "TIPO DI VISITA", vt)
	}
}

func TestReportSystem_RejectsUnknown(t *testing.T) {
	for _, vt := range []string{"", "system", "chart_system", "igiene", "../prompts"} {
		_, err := ReportSystem(vt)
		assert.Error(t, err, vt)
	}
}

func TestReportUser(t *testing.T) {
	p := ReportUser("  dolore al 36  ", "Dr. Rossi", "14/03/2025")
	assert.Contains(t, p, "\ndolore al 36\n")
	assert.Contains(t, p, "effettuata da: Dr. Rossi")
	assert.Contains(t, p, "Data della visita: 14/03/2025")

	p = ReportUser("x", "", "")
	assert.NotContains(t, p, "effettuata da")
	assert.NotContains(t, p, "Data della visita")
}

func TestChartPrompts(t *testing.T) {
	assert.Contains(t, ChartSystem(), "odontogramma")
	assert.Contains(t, ChartUser([]byte(`{"2_carie":{}}`)), `{"2_carie":{}}`)
}
