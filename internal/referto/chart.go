package referto

import "sort"

// Category is one of the eight fixed tooth-chart buckets.
type Category string

const (
	CategoryCaries      Category = "carie"
	CategoryFillings    Category = "otturazioni"
	CategoryEndodontic  Category = "endodonzia"
	CategoryExtraction  Category = "estrazioni"
	CategoryMissing     Category = "mancanti"
	CategoryImplants    Category = "impianti"
	CategoryProsthetics Category = "protesi"
	CategoryPeriodontal Category = "parodontale"
)

// Categories returns the chart categories in display order.
func Categories() []Category {
	return []Category{
		CategoryCaries,
		CategoryFillings,
		CategoryEndodontic,
		CategoryExtraction,
		CategoryMissing,
		CategoryImplants,
		CategoryProsthetics,
		CategoryPeriodontal,
	}
}

func (c Category) Valid() bool {
	_, ok := colorTable[c]
	return ok
}

// ColorEntry maps a chart category to its display color.
type ColorEntry struct {
	Category Category `json:"categoria"`
	Color    string   `json:"colore"`
	Label    string   `json:"etichetta"`
}

var colorTable = map[Category]ColorEntry{
	CategoryCaries:      {Category: CategoryCaries, Color: "#E53935", Label: "Carie"},
	CategoryFillings:    {Category: CategoryFillings, Color: "#1E88E5", Label: "Otturazioni"},
	CategoryEndodontic:  {Category: CategoryEndodontic, Color: "#8E24AA", Label: "Endodonzia"},
	CategoryExtraction:  {Category: CategoryExtraction, Color: "#212121", Label: "Da estrarre"},
	CategoryMissing:     {Category: CategoryMissing, Color: "#9E9E9E", Label: "Mancanti"},
	CategoryImplants:    {Category: CategoryImplants, Color: "#43A047", Label: "Impianti"},
	CategoryProsthetics: {Category: CategoryProsthetics, Color: "#FDD835", Label: "Corone e protesi"},
	CategoryPeriodontal: {Category: CategoryPeriodontal, Color: "#FB8C00", Label: "Parodontale"},
}

// ColorTable returns the eight fixed color entries in display order.
func ColorTable() []ColorEntry {
	out := make([]ColorEntry, 0, len(colorTable))
	for _, c := range Categories() {
		out = append(out, colorTable[c])
	}
	return out
}

// ColorFor returns the display color of a category, or "" if unknown.
func ColorFor(c Category) string {
	return colorTable[c].Color
}

// Chart is the odontogramma: per-category tooth lists plus derived totals.
type Chart struct {
	ColorTable   []ColorEntry           `json:"tabella_colori"`
	Teeth        map[Category][]ToothID `json:"denti_da_evidenziare"`
	MissingTotal int                    `json:"totale_denti_mancanti"`
	Completeness ChartCompleteness      `json:"completezza"`
}

type ChartCompleteness struct {
	ClassifiedTeeth int `json:"denti_classificati"`
	Percent         int `json:"percentuale"`
}

// EmptyChart is the well-formed chart substituted when extraction fails.
func EmptyChart() Chart {
	c := Chart{}
	c.Normalize()
	return c
}

// Normalize enforces the chart shape: the fixed color table, exactly the
// eight category keys, canonical deduplicated tooth ids, recomputed totals.
// It returns the raw values that were dropped.
func (c *Chart) Normalize() []string {
	var dropped []string
	teeth := make(map[Category][]ToothID, len(colorTable))
	for _, cat := range Categories() {
		seen := map[ToothID]bool{}
		list := make([]ToothID, 0)
		for _, raw := range c.Teeth[cat] {
			id, ok := ParseTooth(string(raw))
			if !ok {
				dropped = append(dropped, string(raw))
				continue
			}
			if seen[id] {
				continue
			}
			seen[id] = true
			list = append(list, id)
		}
		sort.Slice(list, func(i, j int) bool { return list[i] < list[j] })
		teeth[cat] = list
	}
	c.Teeth = teeth
	c.ColorTable = ColorTable()
	c.MissingTotal = len(teeth[CategoryMissing])

	classified := map[ToothID]bool{}
	for _, list := range teeth {
		for _, id := range list {
			classified[id] = true
		}
	}
	c.Completeness = ChartCompleteness{
		ClassifiedTeeth: len(classified),
		Percent:         len(classified) * 100 / 32,
	}
	return dropped
}

// HasCategories reports whether the chart carries at least one known category
// key, which is the condition for reusing a chart embedded in a report.
func (c *Chart) HasCategories() bool {
	if c == nil {
		return false
	}
	for cat := range c.Teeth {
		if cat.Valid() {
			return true
		}
	}
	return false
}

// CategoriesOf returns the categories a tooth appears in, in display order.
func (c Chart) CategoriesOf(id ToothID) []Category {
	var out []Category
	for _, cat := range Categories() {
		for _, t := range c.Teeth[cat] {
			if t == id {
				out = append(out, cat)
				break
			}
		}
	}
	return out
}
