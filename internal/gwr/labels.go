// Package gwr extracts structured building attributes from the info popup of the
// federal building and dwelling register (GWR). The popup is an ad hoc two-column
// HTML table whose label text varies in spelling, case, diacritics and whitespace;
// the package maps those labels onto a fixed set of field keys.
//
// Extraction is pure: no I/O, no shared mutable state, and no error return.
// Markup that cannot be understood simply yields fewer fields.
package gwr

import (
	"slices"
	"strings"
	"sync"

	"github.com/rotisserie/eris"
)

// Field keys produced by extraction.
const (
	FieldStrasse                = "strasse"
	FieldHausnummer             = "hausnummer"
	FieldPLZ                    = "plz"
	FieldOrt                    = "ort"
	FieldEGID                   = "egid"
	FieldEDID                   = "edid"
	FieldAmtlicheGebaeudenummer = "amtliche_gebaeudenummer"
	FieldGrundstuecksnummer     = "grundstuecksnummer"
	FieldEKoord                 = "ekoord"
	FieldNKoord                 = "nkoord"

	// LinkKey holds the popup URL that produced a record. It is always present.
	LinkKey = "source_url"
)

// FieldLabel lists the literal label texts under which one field appears in
// the popup markup.
type FieldLabel struct {
	Key      string   `json:"key"`
	Variants []string `json:"variants"`
}

var fieldLabels = []FieldLabel{
	{Key: FieldStrasse, Variants: []string{"Strassenbezeichnung DE", "Strassenbezeichnung de", "Strassenbezeichnung"}},
	{Key: FieldHausnummer, Variants: []string{"Eingangsnummer Gebäude", "Eingangsnummer Gebaude", "Eingangsnummer", "Hausnummer"}},
	{Key: FieldPLZ, Variants: []string{"Postleitzahl", "PLZ"}},
	{Key: FieldOrt, Variants: []string{"Ortschaft", "Ort", "PLZ-Ort"}},
	{Key: FieldEGID, Variants: []string{"Eidg. Gebäudeidentifikator (EGID)", "Eidg. Gebaudeidentifikator (EGID)", "EGID"}},
	{Key: FieldEDID, Variants: []string{"Eidg. Eingangsidentifikator (EDID)", "EDID"}},
	{Key: FieldAmtlicheGebaeudenummer, Variants: []string{"Amtliche Gebäudenummer", "Amtliche Gebaudenummer"}},
	{Key: FieldGrundstuecksnummer, Variants: []string{"Grundstücksnummer", "Grundstucksnummer"}},
	{Key: FieldEKoord, Variants: []string{"E-Gebäudekoordinate (LV95)", "E Koordinate (LV95)", "E Koordinate", "E-Gebäudekoordinate"}},
	{Key: FieldNKoord, Variants: []string{"N-Gebäudekoordinate (LV95)", "N Koordinate (LV95)", "N Koordinate", "N-Gebäudekoordinate"}},
}

// FieldLabels returns a copy of the built-in field label table, in declaration order.
func FieldLabels() []FieldLabel {
	out := make([]FieldLabel, len(fieldLabels))
	for i, fl := range fieldLabels {
		out[i] = FieldLabel{Key: fl.Key, Variants: slices.Clone(fl.Variants)}
	}
	return out
}

// FieldKeys returns the field keys of the built-in table, in declaration order.
func FieldKeys() []string {
	keys := make([]string, len(fieldLabels))
	for i, fl := range fieldLabels {
		keys[i] = fl.Key
	}
	return keys
}

var umlauts = strings.NewReplacer("ä", "a", "ö", "o", "ü", "u", "ß", "ss")

// Normalize canonicalizes label text into a comparison key: trimmed, NBSP
// turned into a space, lower-cased, German umlauts and ß folded, whitespace
// runs collapsed to one space. Punctuation is kept. Normalize is idempotent.
func Normalize(s string) string {
	if s == "" {
		return ""
	}
	s = strings.ReplaceAll(s, "\u00a0", " ")
	s = strings.ToLower(s)
	s = umlauts.Replace(s)
	return strings.Join(strings.Fields(s), " ")
}

// LabelIndex maps normalized label text to field keys. It is immutable after
// construction and safe for concurrent use.
type LabelIndex struct {
	keys map[string]string
}

// NewLabelIndex builds an index from table. Two distinct keys claiming the same
// normalized label is a defect in the table: the index is still returned, with
// the later key winning, together with an error naming every conflict.
func NewLabelIndex(table []FieldLabel) (*LabelIndex, error) {
	idx := &LabelIndex{keys: make(map[string]string)}
	var conflicts []string
	for _, fl := range table {
		for _, v := range fl.Variants {
			norm := Normalize(v)
			if prev, ok := idx.keys[norm]; ok && prev != fl.Key {
				conflicts = append(conflicts, norm+": "+prev+" vs "+fl.Key)
			}
			idx.keys[norm] = fl.Key
		}
	}
	if len(conflicts) > 0 {
		return idx, eris.Errorf("gwr: conflicting labels: %s", strings.Join(conflicts, "; "))
	}
	return idx, nil
}

// Lookup returns the field key for an already normalized label.
func (ix *LabelIndex) Lookup(normalized string) (string, bool) {
	key, ok := ix.keys[normalized]
	return key, ok
}

// Len returns the number of distinct normalized labels.
func (ix *LabelIndex) Len() int {
	return len(ix.keys)
}

// DefaultIndex returns the process-wide index built from the built-in table.
var DefaultIndex = sync.OnceValue(func() *LabelIndex {
	idx, err := NewLabelIndex(fieldLabels)
	if err != nil {
		panic(err)
	}
	return idx
})
