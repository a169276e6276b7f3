package referto

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

var ErrMalformed = errors.New("malformed report payload")

// maxNesting bounds how many wrapper levels Unwrap will peel.
const maxNesting = 4

// Unwrap migrates legacy payloads in which the report was stored nested under
// one or more "referto" keys and returns the innermost report object.
// Payloads that are already canonical are returned unchanged.
func Unwrap(raw []byte) ([]byte, error) {
	cur := bytes.TrimSpace(raw)
	for i := 0; i <= maxNesting; i++ {
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(cur, &obj); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		if isReportObject(obj) {
			return cur, nil
		}
		inner, ok := obj["referto"]
		if !ok {
			return cur, nil
		}
		cur = bytes.TrimSpace(inner)
	}
	return nil, fmt.Errorf("%w: report nested deeper than %d levels", ErrMalformed, maxNesting)
}

func isReportObject(obj map[string]json.RawMessage) bool {
	if _, ok := obj["anamnesi"]; ok {
		return true
	}
	for _, k := range SectionKeys() {
		if _, ok := obj[k]; ok {
			return true
		}
	}
	return false
}

// Decode parses a generated or stored report, migrating legacy nesting and
// rejecting payloads that lack any required top-level key.
func Decode(raw []byte) (Report, error) {
	inner, err := Unwrap(raw)
	if err != nil {
		return Report{}, err
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(inner, &obj); err != nil {
		return Report{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	var missing []string
	for _, k := range RequiredKeys() {
		if v, ok := obj[k]; !ok || string(v) == "null" {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		return Report{}, fmt.Errorf("%w: missing keys %s", ErrMalformed, strings.Join(missing, ", "))
	}

	var r Report
	if err := json.Unmarshal(inner, &r); err != nil {
		return Report{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return r, nil
}

// DecodeLenient reads a stored report one top-level section at a time. A
// section whose shape does not match is left empty and named in the returned
// warnings instead of failing the whole report. The first-generation form in
// which "anamnesi" was a plain string becomes the visit reason.
// Only a payload that is not a JSON object is an error.
func DecodeLenient(raw []byte) (Report, []string, error) {
	inner, err := Unwrap(raw)
	if err != nil {
		return Report{}, nil, err
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(inner, &obj); err != nil {
		return Report{}, nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	var r Report
	sections := []struct {
		key    string
		decode func(json.RawMessage) error
	}{
		{"versione_schema", func(m json.RawMessage) error { return into(m, &r.SchemaVersion) }},
		{"intestazione", func(m json.RawMessage) error { return into(m, &r.Header) }},
		{"anamnesi", func(m json.RawMessage) error { return decodeAnamnesis(m, &r.Anamnesis) }},
		{"1_elementi_dentali", func(m json.RawMessage) error { return into(m, &r.Teeth) }},
		{"2_carie", func(m json.RawMessage) error { return into(m, &r.Caries) }},
		{"3_conservativa", func(m json.RawMessage) error { return into(m, &r.Restorative) }},
		{"4_endodonzia", func(m json.RawMessage) error { return into(m, &r.Endodontics) }},
		{"5_chirurgia", func(m json.RawMessage) error { return into(m, &r.Surgery) }},
		{"6_implantoprotesi", func(m json.RawMessage) error { return into(m, &r.Prosthetics) }},
		{"7_parodontologia_igiene", func(m json.RawMessage) error { return into(m, &r.Periodontal) }},
		{"8_estetica", func(m json.RawMessage) error { return into(m, &r.Esthetics) }},
		{"9_ortodonzia_pedodonzia", func(m json.RawMessage) error { return into(m, &r.Orthodontics) }},
		{"odontogramma", func(m json.RawMessage) error { return into(m, &r.Chart) }},
		{"validazione", func(m json.RawMessage) error { return into(m, &r.Validation) }},
	}

	var warnings []string
	for _, sec := range sections {
		v, ok := obj[sec.key]
		if !ok || string(bytes.TrimSpace(v)) == "null" {
			continue
		}
		if err := sec.decode(v); err != nil {
			warnings = append(warnings, fmt.Sprintf("Sezione %s non leggibile", sec.key))
		}
	}
	return r, warnings, nil
}

// into assigns dst only when the whole value decodes.
func into[T any](raw json.RawMessage, dst *T) error {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return err
	}
	*dst = v
	return nil
}

func decodeAnamnesis(raw json.RawMessage, a *Anamnesis) error {
	var legacy string
	if err := json.Unmarshal(raw, &legacy); err == nil {
		legacy = strings.TrimSpace(legacy)
		*a = Anamnesis{}
		for _, fs := range anamnesisFields {
			f := fs.field(a)
			f.Mandatory = fs.mandatory
			f.Priority = fs.priority
		}
		if legacy != "" && legacy != Placeholder {
			a.VisitReason.Content = legacy
			a.VisitReason.Present = true
		}
		return nil
	}
	return into(raw, a)
}

// legacyTooth is a per-tooth entry of the first-generation chart format.
type legacyTooth struct {
	Number    string `json:"numero"`
	Status    string `json:"status"`
	Procedure string `json:"procedure"`
}

// DecodeChart parses a chart payload. Charts nested under "odontogramma" are
// unwrapped and the legacy per-tooth "denti" format is migrated through the
// procedure table; teeth with unknown procedures are left uncolored.
func DecodeChart(raw []byte) (Chart, error) {
	cur := bytes.TrimSpace(raw)
	for i := 0; i <= maxNesting; i++ {
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(cur, &obj); err != nil {
			return Chart{}, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		if _, ok := obj["denti_da_evidenziare"]; ok {
			var c Chart
			if err := json.Unmarshal(cur, &c); err != nil {
				return Chart{}, fmt.Errorf("%w: %v", ErrMalformed, err)
			}
			c.Normalize()
			return c, nil
		}
		if legacy, ok := obj["denti"]; ok {
			return migrateLegacyChart(legacy)
		}
		inner, ok := obj["odontogramma"]
		if !ok {
			return Chart{}, fmt.Errorf("%w: chart has no tooth lists", ErrMalformed)
		}
		cur = bytes.TrimSpace(inner)
	}
	return Chart{}, fmt.Errorf("%w: chart nested deeper than %d levels", ErrMalformed, maxNesting)
}

func migrateLegacyChart(raw json.RawMessage) (Chart, error) {
	var entries map[string]legacyTooth
	if err := json.Unmarshal(raw, &entries); err != nil {
		return Chart{}, fmt.Errorf("%w: legacy chart: %v", ErrMalformed, err)
	}
	keys := make([]string, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	c := Chart{Teeth: map[Category][]ToothID{}}
	for _, k := range keys {
		e := entries[k]
		id, ok := ParseTooth(e.Number)
		if !ok {
			id, ok = ParseTooth(k)
		}
		if !ok {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(e.Status)) {
		case "carie":
			c.Teeth[CategoryCaries] = append(c.Teeth[CategoryCaries], id)
		case "mancante", "estratto":
			c.Teeth[CategoryMissing] = append(c.Teeth[CategoryMissing], id)
		}
		if p, ok := LookupProcedure(e.Procedure); ok {
			for _, cat := range p.Categories() {
				c.Teeth[cat] = append(c.Teeth[cat], id)
			}
		}
	}
	c.Normalize()
	return c, nil
}
