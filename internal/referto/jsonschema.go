package referto

// JSON Schemas handed to structured-output model calls. Strict mode requires
// every property to be listed as required and additionalProperties=false.

type prop struct {
	name   string
	schema map[string]any
}

func object(props ...prop) map[string]any {
	properties := make(map[string]any, len(props))
	required := make([]string, 0, len(props))
	for _, p := range props {
		properties[p.name] = p.schema
		required = append(required, p.name)
	}
	return map[string]any{
		"type":                 "object",
		"properties":           properties,
		"required":             required,
		"additionalProperties": false,
	}
}

func str() map[string]any     { return map[string]any{"type": "string"} }
func boolean() map[string]any { return map[string]any{"type": "boolean"} }
func integer() map[string]any { return map[string]any{"type": "integer"} }
func number() map[string]any  { return map[string]any{"type": "number"} }

func enum(values ...string) map[string]any {
	return map[string]any{"type": "string", "enum": values}
}

func array(items map[string]any) map[string]any {
	return map[string]any{"type": "array", "items": items}
}

func toothArray() map[string]any {
	return array(map[string]any{"type": "string", "pattern": "^[1-4]\\.?[1-8]$"})
}

func anamnesisField() map[string]any {
	return object(
		prop{"obbligatorio", boolean()},
		prop{"priorita", enum(string(PriorityHigh), string(PriorityMedium), string(PriorityLow))},
		prop{"presente", boolean()},
		prop{"contenuto", str()},
	)
}

func findings() map[string]any {
	return object(
		prop{"elementi", array(object(
			prop{"dente", str()},
			prop{"tipo", str()},
			prop{"stato", str()},
			prop{"note", str()},
		))},
		prop{"note", str()},
		prop{"statistiche", object(
			prop{"totale", integer()},
			prop{"denti_coinvolti", integer()},
		)},
	)
}

// ChartJSONSchema describes the odontogramma.
func ChartJSONSchema() map[string]any {
	teeth := make([]prop, 0, len(colorTable))
	for _, c := range Categories() {
		teeth = append(teeth, prop{string(c), toothArray()})
	}
	cats := make([]string, 0, len(colorTable))
	for _, c := range Categories() {
		cats = append(cats, string(c))
	}
	return object(
		prop{"tabella_colori", array(object(
			prop{"categoria", enum(cats...)},
			prop{"colore", str()},
			prop{"etichetta", str()},
		))},
		prop{"denti_da_evidenziare", object(teeth...)},
		prop{"totale_denti_mancanti", integer()},
		prop{"completezza", object(
			prop{"denti_classificati", integer()},
			prop{"percentuale", integer()},
		)},
	)
}

// ReportJSONSchema describes the full structured report including its chart.
func ReportJSONSchema() map[string]any {
	anamnesis := make([]prop, 0, len(anamnesisFields)+1)
	for _, f := range anamnesisFields {
		anamnesis = append(anamnesis, prop{f.key, anamnesisField()})
	}
	anamnesis = append(anamnesis, prop{"completezza", object(
		prop{"obbligatori_compilati", integer()},
		prop{"facoltativi_compilati", integer()},
		prop{"percentuale", integer()},
	)})

	return object(
		prop{"versione_schema", str()},
		prop{"intestazione", object(
			prop{"data", str()},
			prop{"medico", str()},
		)},
		prop{"anamnesi", object(anamnesis...)},
		prop{"1_elementi_dentali", object(
			prop{"mancanti", toothArray()},
			prop{"inclusi", toothArray()},
			prop{"decidui", toothArray()},
			prop{"note", str()},
			prop{"statistiche", object(
				prop{"presenti", integer()},
				prop{"mancanti", integer()},
				prop{"inclusi", integer()},
			)},
		)},
		prop{"2_carie", object(
			prop{"lesioni", array(object(
				prop{"dente", str()},
				prop{"superficie", str()},
				prop{"gravita", str()},
				prop{"note", str()},
			))},
			prop{"statistiche", object(
				prop{"totale_lesioni", integer()},
				prop{"denti_coinvolti", integer()},
			)},
		)},
		prop{"3_conservativa", findings()},
		prop{"4_endodonzia", findings()},
		prop{"5_chirurgia", findings()},
		prop{"6_implantoprotesi", findings()},
		prop{"7_parodontologia_igiene", object(
			prop{"igiene_orale", str()},
			prop{"placca", str()},
			prop{"tartaro", str()},
			prop{"sanguinamento", str()},
			prop{"tasche", array(object(
				prop{"dente", str()},
				prop{"profondita_mm", number()},
			))},
			prop{"statistiche", object(
				prop{"tasche_rilevate", integer()},
				prop{"tasche_patologiche", integer()},
			)},
		)},
		prop{"8_estetica", findings()},
		prop{"9_ortodonzia_pedodonzia", object(
			prop{"classe_molare", str()},
			prop{"affollamento", str()},
			prop{"morso", str()},
			prop{"abitudini_viziate", str()},
			prop{"dentizione", str()},
			prop{"note", str()},
			prop{"statistiche", object(
				prop{"anomalie_rilevate", integer()},
			)},
		)},
		prop{"odontogramma", ChartJSONSchema()},
		prop{"validazione", object(
			prop{"campi_obbligatori_completati", boolean()},
			prop{"sezioni_cliniche_complete", integer()},
			prop{"avvisi", array(str())},
		)},
	)
}
