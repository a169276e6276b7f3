// Package render lays a stored report and its tooth chart out on a Surface.
package render

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"medical-ai-platform/internal/referto"
)

const noneLabel = "Nessuno"

var anamnesisLabels = map[string]string{
	"motivo_visita":        "Motivo della visita",
	"anamnesi_medica":      "Anamnesi medica",
	"farmaci":              "Farmaci",
	"allergie":             "Allergie",
	"abitudini":            "Abitudini",
	"storia_odontoiatrica": "Storia odontoiatrica",
	"sintomatologia":       "Sintomatologia",
}

var sectionTitles = map[string]string{
	"1_elementi_dentali":      "1. Elementi dentali",
	"2_carie":                 "2. Carie",
	"3_conservativa":          "3. Conservativa",
	"4_endodonzia":            "4. Endodonzia",
	"5_chirurgia":             "5. Chirurgia",
	"6_implantoprotesi":       "6. Implantoprotesi",
	"7_parodontologia_igiene": "7. Parodontologia e igiene",
	"8_estetica":              "8. Estetica",
	"9_ortodonzia_pedodonzia": "9. Ortodonzia e pedodonzia",
}

// ChartUnavailable is shown instead of the chart when its payload is unusable.
const ChartUnavailable = "Odontogramma non disponibile"

// Render paints report and chart onto s. The report may be wrapped under
// one or more "referto" keys; any missing field is shown as a placeholder,
// as is every field of a section that cannot be read.
// When chart is empty the chart embedded in the report, if any, is used.
// A broken chart is reported as a warning and never fails the render.
func Render(s Surface, report, chart json.RawMessage) error {
	r, unreadable, err := referto.DecodeLenient(report)
	if err != nil {
		return fmt.Errorf("render: %w", err)
	}

	s.Heading("Referto odontoiatrico")
	s.Field("Data", text(r.Header.Date))
	s.Field("Medico", text(r.Header.Clinician))

	renderAnamnesis(s, &r.Anamnesis)
	renderTeeth(s, r.Teeth)
	renderCaries(s, r.Caries)
	renderFindings(s, "3_conservativa", r.Restorative)
	renderFindings(s, "4_endodonzia", r.Endodontics)
	renderFindings(s, "5_chirurgia", r.Surgery)
	renderFindings(s, "6_implantoprotesi", r.Prosthetics)
	renderPeriodontal(s, r.Periodontal)
	renderFindings(s, "8_estetica", r.Esthetics)
	renderOrthodontics(s, r.Orthodontics)

	for _, w := range r.Validation.Warnings {
		s.Warning(w)
	}
	for _, w := range unreadable {
		s.Warning(w)
	}

	c, ok := resolveChart(chart, r.Chart)
	if !ok {
		s.Warning(ChartUnavailable)
		return nil
	}
	Chart(s, c)
	return nil
}

func resolveChart(raw json.RawMessage, embedded *referto.Chart) (referto.Chart, bool) {
	if len(raw) > 0 && string(raw) != "null" {
		c, err := referto.DecodeChart(raw)
		if err != nil {
			return referto.Chart{}, false
		}
		return c, true
	}
	if embedded != nil {
		c := *embedded
		c.Normalize()
		return c, true
	}
	return referto.EmptyChart(), true
}

// Chart tags every listed tooth with its category color, category by
// category in display order. Identifiers outside the 32 FDI slots are skipped.
func Chart(s Surface, c referto.Chart) {
	for _, cat := range referto.Categories() {
		color := referto.ColorFor(cat)
		for _, id := range c.Teeth[cat] {
			if !id.Valid() {
				continue
			}
			s.Tooth(id, cat, color)
		}
	}
}

func renderAnamnesis(s Surface, a *referto.Anamnesis) {
	s.Section("anamnesi", "Anamnesi")
	for _, key := range referto.AnamnesisKeys() {
		f, _ := a.Field(key)
		label := anamnesisLabels[key]
		if f.Mandatory {
			label += " *"
		}
		s.Field(label, text(f.Content))
	}
	s.Field("Completezza", fmt.Sprintf("%d%%", a.Completeness.Percent))
}

func renderTeeth(s Surface, t referto.TeethState) {
	s.Section("1_elementi_dentali", sectionTitles["1_elementi_dentali"])
	s.List("Mancanti", teeth(t.Missing))
	s.List("Inclusi", teeth(t.Impacted))
	s.List("Decidui", teeth(t.Deciduous))
	s.Field("Note", text(t.Notes))
}

func renderCaries(s Surface, c referto.Caries) {
	s.Section("2_carie", sectionTitles["2_carie"])
	items := make([]string, 0, len(c.Lesions))
	for _, l := range c.Lesions {
		items = append(items, join(string(l.Tooth), l.Surface, l.Severity, l.Notes))
	}
	s.List("Lesioni", items)
}

func renderFindings(s Surface, key string, f referto.Findings) {
	s.Section(key, sectionTitles[key])
	items := make([]string, 0, len(f.Items))
	for _, it := range f.Items {
		items = append(items, join(string(it.Tooth), it.Kind, it.Status, it.Notes))
	}
	s.List("Elementi", items)
	s.Field("Note", text(f.Notes))
}

func renderPeriodontal(s Surface, p referto.Periodontal) {
	s.Section("7_parodontologia_igiene", sectionTitles["7_parodontologia_igiene"])
	s.Field("Igiene orale", text(p.OralHygiene))
	s.Field("Placca", text(p.Plaque))
	s.Field("Tartaro", text(p.Tartar))
	s.Field("Sanguinamento", text(p.Bleeding))
	items := make([]string, 0, len(p.Pockets))
	for _, pk := range p.Pockets {
		items = append(items, fmt.Sprintf("%s: %s mm", pk.Tooth, strconv.FormatFloat(pk.DepthMM, 'f', -1, 64)))
	}
	s.List("Tasche", items)
}

func renderOrthodontics(s Surface, o referto.Orthodontics) {
	s.Section("9_ortodonzia_pedodonzia", sectionTitles["9_ortodonzia_pedodonzia"])
	s.Field("Classe molare", text(o.MolarClass))
	s.Field("Affollamento", text(o.Crowding))
	s.Field("Morso", text(o.Bite))
	s.Field("Abitudini viziate", text(o.Habits))
	s.Field("Dentizione", text(o.Dentition))
	s.Field("Note", text(o.Notes))
}

func text(v string) string {
	if strings.TrimSpace(v) == "" {
		return referto.Placeholder
	}
	return v
}

func teeth(ids []referto.ToothID) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, string(id))
	}
	return out
}

// join drops empty and placeholder parts so list rows stay readable.
func join(parts ...string) string {
	kept := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" || p == referto.Placeholder {
			continue
		}
		kept = append(kept, p)
	}
	if len(kept) == 0 {
		return referto.Placeholder
	}
	return strings.Join(kept, " - ")
}
