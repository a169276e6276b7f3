package render

import (
	"fmt"
	"io"
	"strings"

	"medical-ai-platform/internal/referto"
)

// Surface receives a report section by section. Implementations decide how
// each element is displayed.
type Surface interface {
	Heading(title string)
	Section(key, title string)
	Field(label, value string)
	List(label string, items []string)
	Tooth(id referto.ToothID, category referto.Category, color string)
	Warning(text string)
}

type blockKind int

const (
	blockHeading blockKind = iota
	blockSection
	blockField
	blockList
	blockWarning
)

type block struct {
	kind  blockKind
	key   string
	label string
	value string
	items []string
}

// Mark is one colored category on a chart position.
type Mark struct {
	Category referto.Category
	Color    string
}

// Document is an in-memory Surface that can be printed as plain text.
type Document struct {
	blocks []block
	teeth  map[referto.ToothID][]Mark
}

func NewDocument() *Document {
	return &Document{teeth: map[referto.ToothID][]Mark{}}
}

func (d *Document) Heading(title string) {
	d.blocks = append(d.blocks, block{kind: blockHeading, value: title})
}

func (d *Document) Section(key, title string) {
	d.blocks = append(d.blocks, block{kind: blockSection, key: key, value: title})
}

func (d *Document) Field(label, value string) {
	d.blocks = append(d.blocks, block{kind: blockField, label: label, value: value})
}

func (d *Document) List(label string, items []string) {
	d.blocks = append(d.blocks, block{kind: blockList, label: label, items: items})
}

func (d *Document) Tooth(id referto.ToothID, category referto.Category, color string) {
	d.teeth[id] = append(d.teeth[id], Mark{Category: category, Color: color})
}

func (d *Document) Warning(text string) {
	d.blocks = append(d.blocks, block{kind: blockWarning, value: text})
}

// Marks returns the categories a chart position was tagged with.
func (d *Document) Marks(id referto.ToothID) []Mark {
	return d.teeth[id]
}

// Value returns the first field rendered under label, if any.
func (d *Document) Value(label string) (string, bool) {
	for _, b := range d.blocks {
		if b.kind == blockField && b.label == label {
			return b.value, true
		}
	}
	return "", false
}

// Sections returns the section keys in render order.
func (d *Document) Sections() []string {
	var out []string
	for _, b := range d.blocks {
		if b.kind == blockSection {
			out = append(out, b.key)
		}
	}
	return out
}

func (d *Document) Warnings() []string {
	var out []string
	for _, b := range d.blocks {
		if b.kind == blockWarning {
			out = append(out, b.value)
		}
	}
	return out
}

// WriteText prints the document followed by the chart grid in FDI order.
func (d *Document) WriteText(w io.Writer) error {
	var sb strings.Builder
	for _, b := range d.blocks {
		switch b.kind {
		case blockHeading:
			fmt.Fprintf(&sb, "%s\n%s\n", b.value, strings.Repeat("=", len(b.value)))
		case blockSection:
			fmt.Fprintf(&sb, "\n## %s\n", b.value)
		case blockField:
			fmt.Fprintf(&sb, "%s: %s\n", b.label, b.value)
		case blockList:
			if len(b.items) == 0 {
				fmt.Fprintf(&sb, "%s: %s\n", b.label, noneLabel)
				continue
			}
			fmt.Fprintf(&sb, "%s:\n", b.label)
			for _, it := range b.items {
				fmt.Fprintf(&sb, "  - %s\n", it)
			}
		case blockWarning:
			fmt.Fprintf(&sb, "! %s\n", b.value)
		}
	}

	if len(d.teeth) > 0 {
		sb.WriteString("\n## Odontogramma\n")
		for _, id := range referto.AllTeeth() {
			marks := d.teeth[id]
			if len(marks) == 0 {
				continue
			}
			tags := make([]string, len(marks))
			for i, m := range marks {
				tags[i] = fmt.Sprintf("%s %s", m.Category, m.Color)
			}
			fmt.Fprintf(&sb, "%s  %s\n", id, strings.Join(tags, ", "))
		}
	}
	_, err := io.WriteString(w, sb.String())
	return err
}
