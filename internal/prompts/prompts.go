// Package prompts holds the instruction sets sent to the language model.
package prompts

import (
	"bytes"
	"embed"
	"fmt"
	"strings"
	"text/template"
)

//go:embed text/*.txt
var files embed.FS

var (
	system      = mustRead("text/system.txt")
	chartSystem = mustRead("text/chart_system.txt")
)

var reportUser = template.Must(template.New("report").Parse(`TRASCRIZIONE DELLA VISITA:
"""
{{.Transcript}}
"""
{{- if .Doctor}}

Questa visita e' stata effettuata da: {{.Doctor}}
Redigi il referto come se fosse scritto dal medico stesso.
{{- end}}
{{- if .Date}}
Data della visita: {{.Date}}
{{- end}}

Genera il referto strutturato seguendo esattamente lo schema richiesto.`))

var chartUser = template.Must(template.New("chart").Parse(`REFERTO CLINICO:
{{.}}

Costruisci l'odontogramma per questo referto.`))

func mustRead(name string) string {
	b, err := files.ReadFile(name)
	if err != nil {
		panic(err)
	}
	return strings.TrimSpace(string(b))
}

// ReportSystem returns the system prompt for a visit type: the shared rules
// followed by the visit-specific focus.
func ReportSystem(visitType string) (string, error) {
	focus, err := files.ReadFile("text/" + visitType + ".txt")
	if err != nil || visitType == "system" || visitType == "chart_system" {
		return "", fmt.Errorf("prompts: no instruction set for visit type %q", visitType)
	}
	return system + "\n\n" + strings.TrimSpace(string(focus)), nil
}

// ReportUser renders the user turn carrying the transcript.
func ReportUser(transcript, doctor, date string) string {
	var b bytes.Buffer
	_ = reportUser.Execute(&b, struct{ Transcript, Doctor, Date string }{
		Transcript: strings.TrimSpace(transcript),
		Doctor:     strings.TrimSpace(doctor),
		Date:       date,
	})
	return b.String()
}

func ChartSystem() string { return chartSystem }

// ChartUser renders the user turn carrying the normalized report JSON.
func ChartUser(reportJSON []byte) string {
	var b bytes.Buffer
	_ = chartUser.Execute(&b, string(reportJSON))
	return b.String()
}
