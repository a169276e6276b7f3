package referto

import "strings"

// Procedure is the canonical name of a per-tooth treatment in legacy charts.
type Procedure string

const (
	ProcedureExtract         Procedure = "extract"
	ProcedureRestorative     Procedure = "conservativa"
	ProcedureEndodontic      Procedure = "endodonzia"
	ProcedureImplant         Procedure = "impianto"
	ProcedureExtractImplant  Procedure = "extract-impianto"
	ProcedureEndodonticCrown Procedure = "endodonzia-corona"
)

var procedureAliases = map[string]Procedure{
	"estrazione":         ProcedureExtract,
	"extract":            ProcedureExtract,
	"extraction":         ProcedureExtract,
	"conservativa":       ProcedureRestorative,
	"conservative":       ProcedureRestorative,
	"otturazione":        ProcedureRestorative,
	"filling":            ProcedureRestorative,
	"endodonzia":         ProcedureEndodontic,
	"devitalizzazione":   ProcedureEndodontic,
	"root_canal":         ProcedureEndodontic,
	"impianto":           ProcedureImplant,
	"implant":            ProcedureImplant,
	"corona":             ProcedureImplant,
	"crown":              ProcedureImplant,
	"extract-impianto":   ProcedureExtractImplant,
	"extraction-implant": ProcedureExtractImplant,
	"endodonzia-corona":  ProcedureEndodonticCrown,
	"root_canal_crown":   ProcedureEndodonticCrown,
}

var procedureLabels = map[Procedure]string{
	ProcedureExtract:         "Estrazione",
	ProcedureRestorative:     "Conservativa",
	ProcedureEndodontic:      "Endodonzia",
	ProcedureImplant:         "Impianto + Corona",
	ProcedureExtractImplant:  "Estrazione + Impianto",
	ProcedureEndodonticCrown: "Endodonzia + Corona",
}

var procedureCategories = map[Procedure][]Category{
	ProcedureExtract:         {CategoryExtraction},
	ProcedureRestorative:     {CategoryFillings},
	ProcedureEndodontic:      {CategoryEndodontic},
	ProcedureImplant:         {CategoryImplants, CategoryProsthetics},
	ProcedureExtractImplant:  {CategoryExtraction, CategoryImplants},
	ProcedureEndodonticCrown: {CategoryEndodontic, CategoryProsthetics},
}

// LookupProcedure maps a free-form procedure name to its canonical value.
// Unknown names (including "none" and "sigillante") report false.
func LookupProcedure(name string) (Procedure, bool) {
	p, ok := procedureAliases[strings.ToLower(strings.TrimSpace(name))]
	return p, ok
}

// Label returns the display label of the procedure.
func (p Procedure) Label() string {
	if l, ok := procedureLabels[p]; ok {
		return l
	}
	return string(p)
}

// Categories returns the chart categories a procedure colors.
func (p Procedure) Categories() []Category {
	return procedureCategories[p]
}
