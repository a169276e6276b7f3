package referto

import (
	"strconv"
	"strings"
)

// ToothID is a two-digit FDI identifier: quadrant (1-4) followed by position (1-8).
type ToothID string

// ParseTooth accepts "16", "1.6", "1-6" or a JSON number rendered as text and
// returns the canonical two-digit identifier.
func ParseTooth(raw string) (ToothID, bool) {
	s := strings.TrimSpace(raw)
	s = strings.NewReplacer(".", "", "-", "", " ", "").Replace(s)
	if len(s) != 2 {
		return "", false
	}
	q, err := strconv.Atoi(s[:1])
	if err != nil || q < 1 || q > 4 {
		return "", false
	}
	p, err := strconv.Atoi(s[1:])
	if err != nil || p < 1 || p > 8 {
		return "", false
	}
	return ToothID(s), true
}

// Valid reports whether t is one of the 32 permanent-dentition slots.
func (t ToothID) Valid() bool {
	_, ok := ParseTooth(string(t))
	return ok && len(t) == 2
}

func (t ToothID) Quadrant() int {
	if !t.Valid() {
		return 0
	}
	return int(t[0] - '0')
}

func (t ToothID) Position() int {
	if !t.Valid() {
		return 0
	}
	return int(t[1] - '0')
}

// AllTeeth lists the 32 FDI slots in quadrant order (11..18, 21..28, 31..38, 41..48).
func AllTeeth() []ToothID {
	out := make([]ToothID, 0, 32)
	for q := 1; q <= 4; q++ {
		for p := 1; p <= 8; p++ {
			out = append(out, ToothID(strconv.Itoa(q*10+p)))
		}
	}
	return out
}
