// Package referto defines the structured clinical report ("referto") and its
// tooth chart ("odontogramma"), shared by the server pipeline and the clients.
package referto

import "sort"

// SchemaVersion tags every report produced by this service.
const SchemaVersion = "referto.v2"

// Placeholder fills any text field the transcript does not support.
const Placeholder = "Non specificato"

// Priority of an anamnesis field.
type Priority string

const (
	PriorityHigh   Priority = "alta"
	PriorityMedium Priority = "media"
	PriorityLow    Priority = "bassa"
)

// Report is the canonical structured report. Every key is always present.
type Report struct {
	SchemaVersion string       `json:"versione_schema"`
	Header        Header       `json:"intestazione"`
	Anamnesis     Anamnesis    `json:"anamnesi"`
	Teeth         TeethState   `json:"1_elementi_dentali"`
	Caries        Caries       `json:"2_carie"`
	Restorative   Findings     `json:"3_conservativa"`
	Endodontics   Findings     `json:"4_endodonzia"`
	Surgery       Findings     `json:"5_chirurgia"`
	Prosthetics   Findings     `json:"6_implantoprotesi"`
	Periodontal   Periodontal  `json:"7_parodontologia_igiene"`
	Esthetics     Findings     `json:"8_estetica"`
	Orthodontics  Orthodontics `json:"9_ortodonzia_pedodonzia"`
	Chart         *Chart       `json:"odontogramma,omitempty"`
	Validation    Validation   `json:"validazione"`
}

type Header struct {
	Date      string `json:"data"`
	Clinician string `json:"medico"`
}

// AnamnesisField is one named anamnesis entry.
type AnamnesisField struct {
	Mandatory bool     `json:"obbligatorio"`
	Priority  Priority `json:"priorita"`
	Present   bool     `json:"presente"`
	Content   string   `json:"contenuto"`
}

type Anamnesis struct {
	VisitReason    AnamnesisField        `json:"motivo_visita"`
	MedicalHistory AnamnesisField        `json:"anamnesi_medica"`
	Medications    AnamnesisField        `json:"farmaci"`
	Allergies      AnamnesisField        `json:"allergie"`
	Habits         AnamnesisField        `json:"abitudini"`
	DentalHistory  AnamnesisField        `json:"storia_odontoiatrica"`
	Symptoms       AnamnesisField        `json:"sintomatologia"`
	Completeness   AnamnesisCompleteness `json:"completezza"`
}

type AnamnesisCompleteness struct {
	MandatoryFilled int `json:"obbligatori_compilati"`
	OptionalFilled  int `json:"facoltativi_compilati"`
	Percent         int `json:"percentuale"`
}

// anamnesisSpec fixes the mandatory flag and priority of each sub-field.
type anamnesisSpec struct {
	key       string
	mandatory bool
	priority  Priority
	field     func(*Anamnesis) *AnamnesisField
}

var anamnesisFields = []anamnesisSpec{
	{"motivo_visita", true, PriorityHigh, func(a *Anamnesis) *AnamnesisField { return &a.VisitReason }},
	{"anamnesi_medica", true, PriorityHigh, func(a *Anamnesis) *AnamnesisField { return &a.MedicalHistory }},
	{"farmaci", true, PriorityMedium, func(a *Anamnesis) *AnamnesisField { return &a.Medications }},
	{"allergie", true, PriorityHigh, func(a *Anamnesis) *AnamnesisField { return &a.Allergies }},
	{"abitudini", false, PriorityMedium, func(a *Anamnesis) *AnamnesisField { return &a.Habits }},
	{"storia_odontoiatrica", false, PriorityMedium, func(a *Anamnesis) *AnamnesisField { return &a.DentalHistory }},
	{"sintomatologia", false, PriorityLow, func(a *Anamnesis) *AnamnesisField { return &a.Symptoms }},
}

// AnamnesisKeys returns the sub-field keys in display order.
func AnamnesisKeys() []string {
	out := make([]string, len(anamnesisFields))
	for i, f := range anamnesisFields {
		out[i] = f.key
	}
	return out
}

// Field returns the anamnesis entry stored under key.
func (a *Anamnesis) Field(key string) (*AnamnesisField, bool) {
	for _, f := range anamnesisFields {
		if f.key == key {
			return f.field(a), true
		}
	}
	return nil, false
}

// TeethState is category 1: presence of the dental elements.
type TeethState struct {
	Missing    []ToothID       `json:"mancanti"`
	Impacted   []ToothID       `json:"inclusi"`
	Deciduous  []ToothID       `json:"decidui"`
	Notes      string          `json:"note"`
	Statistics TeethStatistics `json:"statistiche"`
}

type TeethStatistics struct {
	Present  int `json:"presenti"`
	Missing  int `json:"mancanti"`
	Impacted int `json:"inclusi"`
}

// Lesion is a single carious lesion.
type Lesion struct {
	Tooth    ToothID `json:"dente"`
	Surface  string  `json:"superficie"`
	Severity string  `json:"gravita"`
	Notes    string  `json:"note"`
}

type Caries struct {
	Lesions    []Lesion         `json:"lesioni"`
	Statistics CariesStatistics `json:"statistiche"`
}

type CariesStatistics struct {
	Lesions       int `json:"totale_lesioni"`
	TeethInvolved int `json:"denti_coinvolti"`
}

// Finding is a per-tooth clinical item shared by several categories.
type Finding struct {
	Tooth  ToothID `json:"dente"`
	Kind   string  `json:"tipo"`
	Status string  `json:"stato"`
	Notes  string  `json:"note"`
}

type Findings struct {
	Items      []Finding         `json:"elementi"`
	Notes      string            `json:"note"`
	Statistics FindingStatistics `json:"statistiche"`
}

type FindingStatistics struct {
	Total         int `json:"totale"`
	TeethInvolved int `json:"denti_coinvolti"`
}

// Pocket is a periodontal probing depth.
type Pocket struct {
	Tooth   ToothID `json:"dente"`
	DepthMM float64 `json:"profondita_mm"`
}

type Periodontal struct {
	OralHygiene string                `json:"igiene_orale"`
	Plaque      string                `json:"placca"`
	Tartar      string                `json:"tartaro"`
	Bleeding    string                `json:"sanguinamento"`
	Pockets     []Pocket              `json:"tasche"`
	Statistics  PeriodontalStatistics `json:"statistiche"`
}

type PeriodontalStatistics struct {
	Pockets           int `json:"tasche_rilevate"`
	PathologicPockets int `json:"tasche_patologiche"`
}

// PathologicPocketMM is the probing depth from which a pocket counts as pathologic.
const PathologicPocketMM = 4.0

type Orthodontics struct {
	MolarClass string                 `json:"classe_molare"`
	Crowding   string                 `json:"affollamento"`
	Bite       string                 `json:"morso"`
	Habits     string                 `json:"abitudini_viziate"`
	Dentition  string                 `json:"dentizione"`
	Notes      string                 `json:"note"`
	Statistics OrthodonticsStatistics `json:"statistiche"`
}

type OrthodonticsStatistics struct {
	FindingsReported int `json:"anomalie_rilevate"`
}

// Validation summarizes report quality.
type Validation struct {
	MandatoryFieldsCompleted bool     `json:"campi_obbligatori_completati"`
	ClinicalSectionsComplete int      `json:"sezioni_cliniche_complete"`
	Warnings                 []string `json:"avvisi"`
}

// SectionKeys lists the nine numbered clinical category keys.
func SectionKeys() []string {
	return []string{
		"1_elementi_dentali",
		"2_carie",
		"3_conservativa",
		"4_endodonzia",
		"5_chirurgia",
		"6_implantoprotesi",
		"7_parodontologia_igiene",
		"8_estetica",
		"9_ortodonzia_pedodonzia",
	}
}

// RequiredKeys are the top-level keys a generated report must carry.
func RequiredKeys() []string {
	keys := []string{"intestazione", "anamnesi"}
	keys = append(keys, SectionKeys()...)
	return keys
}

// ReferencedTeeth returns every valid tooth cited by the clinical sections,
// sorted and deduplicated. The embedded chart is not consulted.
func (r *Report) ReferencedTeeth() []ToothID {
	seen := map[ToothID]bool{}
	add := func(raw ToothID) {
		if id, ok := ParseTooth(string(raw)); ok {
			seen[id] = true
		}
	}
	for _, list := range [][]ToothID{r.Teeth.Missing, r.Teeth.Impacted} {
		for _, id := range list {
			add(id)
		}
	}
	for _, l := range r.Caries.Lesions {
		add(l.Tooth)
	}
	for _, fs := range []Findings{r.Restorative, r.Endodontics, r.Surgery, r.Prosthetics, r.Esthetics} {
		for _, f := range fs.Items {
			add(f.Tooth)
		}
	}
	for _, p := range r.Periodontal.Pockets {
		add(p.Tooth)
	}
	out := make([]ToothID, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ChartedTeeth is the number of distinct teeth the chart highlights.
func (c *Chart) ChartedTeeth() int {
	if c == nil {
		return 0
	}
	seen := map[ToothID]bool{}
	for cat, list := range c.Teeth {
		if !cat.Valid() {
			continue
		}
		for _, id := range list {
			seen[id] = true
		}
	}
	return len(seen)
}
