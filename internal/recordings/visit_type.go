package recordings

import "strings"

// VisitType selects the domain instruction set used to generate the report.
type VisitType string

const (
	VisitGeneralFirst   VisitType = "prima_visita_generica"
	VisitPediatricFirst VisitType = "prima_visita_pedodonzia"
	VisitSurgeryImplant VisitType = "chirurgia_impianti"
	VisitOrthodontic    VisitType = "visita_ortodontica"
	VisitPeriodontal    VisitType = "visita_parodontale"
)

var visitTypeNames = map[VisitType]string{
	VisitGeneralFirst:   "Prima visita generica",
	VisitPediatricFirst: "Prima visita pedodonzia",
	VisitSurgeryImplant: "Chirurgia e impianti",
	VisitOrthodontic:    "Visita ortodontica",
	VisitPeriodontal:    "Visita parodontale",
}

// VisitTypes returns every supported visit type in menu order.
func VisitTypes() []VisitType {
	return []VisitType{VisitGeneralFirst, VisitPediatricFirst, VisitSurgeryImplant, VisitOrthodontic, VisitPeriodontal}
}

// ParseVisitType defaults an empty value to the generic first visit.
func ParseVisitType(raw string) (VisitType, bool) {
	v := VisitType(strings.ToLower(strings.TrimSpace(raw)))
	if v == "" {
		return VisitGeneralFirst, true
	}
	_, ok := visitTypeNames[v]
	return v, ok
}

func (v VisitType) Valid() bool {
	_, ok := visitTypeNames[v]
	return ok
}

func (v VisitType) DisplayName() string {
	if n, ok := visitTypeNames[v]; ok {
		return n
	}
	return string(v)
}
