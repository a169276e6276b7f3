package referto

import (
	"fmt"
	"strings"
)

// Normalize enforces placeholder discipline on a report and recomputes every
// statistics block, the anamnesis completeness and the validation summary.
// Header fields left empty by the model are taken from defaults.
// Normalize is idempotent.
func Normalize(r *Report, defaults Header) {
	var warnings []string

	r.SchemaVersion = SchemaVersion
	r.Header.Date = firstText(r.Header.Date, defaults.Date)
	r.Header.Clinician = firstText(r.Header.Clinician, defaults.Clinician)

	mandatoryFilled, optionalFilled, mandatoryTotal := 0, 0, 0
	for _, fs := range anamnesisFields {
		f := fs.field(&r.Anamnesis)
		f.Mandatory = fs.mandatory
		f.Priority = fs.priority
		f.Content = text(f.Content)
		f.Present = f.Content != Placeholder
		if fs.mandatory {
			mandatoryTotal++
		}
		switch {
		case f.Present && fs.mandatory:
			mandatoryFilled++
		case f.Present:
			optionalFilled++
		case fs.mandatory:
			warnings = append(warnings, "Campo obbligatorio non rilevato: "+fs.key)
		}
	}
	r.Anamnesis.Completeness = AnamnesisCompleteness{
		MandatoryFilled: mandatoryFilled,
		OptionalFilled:  optionalFilled,
		Percent:         (mandatoryFilled + optionalFilled) * 100 / len(anamnesisFields),
	}

	// 1 - dental elements
	var dropped []string
	r.Teeth.Missing, dropped = teethList(r.Teeth.Missing, dropped)
	r.Teeth.Impacted, dropped = teethList(r.Teeth.Impacted, dropped)
	r.Teeth.Deciduous, dropped = teethList(r.Teeth.Deciduous, dropped)
	r.Teeth.Notes = text(r.Teeth.Notes)
	present := 32 - len(r.Teeth.Missing) - len(r.Teeth.Impacted)
	if present < 0 {
		present = 0
	}
	r.Teeth.Statistics = TeethStatistics{
		Present:  present,
		Missing:  len(r.Teeth.Missing),
		Impacted: len(r.Teeth.Impacted),
	}

	// 2 - caries
	lesions := make([]Lesion, 0, len(r.Caries.Lesions))
	involved := map[ToothID]bool{}
	for _, l := range r.Caries.Lesions {
		id, ok := ParseTooth(string(l.Tooth))
		if !ok {
			dropped = append(dropped, string(l.Tooth))
			continue
		}
		l.Tooth = id
		l.Surface = text(l.Surface)
		l.Severity = text(l.Severity)
		l.Notes = text(l.Notes)
		lesions = append(lesions, l)
		involved[id] = true
	}
	r.Caries.Lesions = lesions
	r.Caries.Statistics = CariesStatistics{Lesions: len(lesions), TeethInvolved: len(involved)}

	// 3, 4, 5, 6, 8 - per-tooth findings
	for _, fs := range []*Findings{&r.Restorative, &r.Endodontics, &r.Surgery, &r.Prosthetics, &r.Esthetics} {
		dropped = normalizeFindings(fs, dropped)
	}

	// 7 - periodontal
	r.Periodontal.OralHygiene = text(r.Periodontal.OralHygiene)
	r.Periodontal.Plaque = text(r.Periodontal.Plaque)
	r.Periodontal.Tartar = text(r.Periodontal.Tartar)
	r.Periodontal.Bleeding = text(r.Periodontal.Bleeding)
	pockets := make([]Pocket, 0, len(r.Periodontal.Pockets))
	pathologic := 0
	for _, p := range r.Periodontal.Pockets {
		id, ok := ParseTooth(string(p.Tooth))
		if !ok || p.DepthMM < 0 {
			dropped = append(dropped, string(p.Tooth))
			continue
		}
		p.Tooth = id
		if p.DepthMM >= PathologicPocketMM {
			pathologic++
		}
		pockets = append(pockets, p)
	}
	r.Periodontal.Pockets = pockets
	r.Periodontal.Statistics = PeriodontalStatistics{Pockets: len(pockets), PathologicPockets: pathologic}

	// 9 - orthodontics / pediatric
	reported := 0
	for _, s := range []*string{&r.Orthodontics.MolarClass, &r.Orthodontics.Crowding, &r.Orthodontics.Bite, &r.Orthodontics.Habits, &r.Orthodontics.Dentition} {
		*s = text(*s)
		if *s != Placeholder {
			reported++
		}
	}
	r.Orthodontics.Notes = text(r.Orthodontics.Notes)
	r.Orthodontics.Statistics = OrthodonticsStatistics{FindingsReported: reported}

	if r.Chart != nil {
		dropped = append(dropped, r.Chart.Normalize()...)
	}

	for _, d := range dropped {
		warnings = append(warnings, fmt.Sprintf("Elemento dentale non valido ignorato: %q", d))
	}

	r.Validation.MandatoryFieldsCompleted = mandatoryFilled == mandatoryTotal
	r.Validation.ClinicalSectionsComplete = completedSections(r)
	r.Validation.Warnings = mergeWarnings(r.Validation.Warnings, warnings)
}

// AddWarning appends a validation warning once.
func (r *Report) AddWarning(w string) {
	r.Validation.Warnings = mergeWarnings(r.Validation.Warnings, []string{w})
}

func normalizeFindings(fs *Findings, dropped []string) []string {
	items := make([]Finding, 0, len(fs.Items))
	involved := map[ToothID]bool{}
	for _, f := range fs.Items {
		id, ok := ParseTooth(string(f.Tooth))
		if !ok {
			dropped = append(dropped, string(f.Tooth))
			continue
		}
		f.Tooth = id
		f.Kind = text(f.Kind)
		f.Status = text(f.Status)
		f.Notes = text(f.Notes)
		items = append(items, f)
		involved[id] = true
	}
	fs.Items = items
	fs.Notes = text(fs.Notes)
	fs.Statistics = FindingStatistics{Total: len(items), TeethInvolved: len(involved)}
	return dropped
}

func completedSections(r *Report) int {
	n := 0
	if len(r.Teeth.Missing)+len(r.Teeth.Impacted)+len(r.Teeth.Deciduous) > 0 || r.Teeth.Notes != Placeholder {
		n++
	}
	if len(r.Caries.Lesions) > 0 {
		n++
	}
	for _, fs := range []Findings{r.Restorative, r.Endodontics, r.Surgery, r.Prosthetics, r.Esthetics} {
		if len(fs.Items) > 0 || fs.Notes != Placeholder {
			n++
		}
	}
	p := r.Periodontal
	if len(p.Pockets) > 0 || p.OralHygiene != Placeholder || p.Plaque != Placeholder || p.Tartar != Placeholder || p.Bleeding != Placeholder {
		n++
	}
	if r.Orthodontics.Statistics.FindingsReported > 0 || r.Orthodontics.Notes != Placeholder {
		n++
	}
	return n
}

func teethList(in []ToothID, dropped []string) ([]ToothID, []string) {
	out := make([]ToothID, 0, len(in))
	seen := map[ToothID]bool{}
	for _, raw := range in {
		id, ok := ParseTooth(string(raw))
		if !ok {
			dropped = append(dropped, string(raw))
			continue
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out, dropped
}

func text(s string) string {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, Placeholder) {
		return Placeholder
	}
	return s
}

func firstText(values ...string) string {
	for _, v := range values {
		if t := text(v); t != Placeholder {
			return t
		}
	}
	return Placeholder
}

func mergeWarnings(existing, added []string) []string {
	out := make([]string, 0, len(existing)+len(added))
	seen := map[string]bool{}
	for _, w := range append(append([]string{}, existing...), added...) {
		w = strings.TrimSpace(w)
		if w == "" || seen[w] {
			continue
		}
		seen[w] = true
		out = append(out, w)
	}
	return out
}
