package gwr

import (
	"iter"
	"regexp"
	"strings"
	"unicode"
)

var rePostalLocality = regexp.MustCompile(`(\p{Nd}{4})\s+(.+)`)

var coordinateFields = []string{FieldEKoord, FieldNKoord}

// Extract resolves the rows of an info popup against the built-in label table.
// link is recorded under LinkKey.
func Extract(doc, link string) Record {
	return Resolve(Scan(doc), DefaultIndex(), link)
}

// Resolve maps rows onto field keys. Rows with unknown labels are dropped and a
// later row for the same key overwrites an earlier one. A combined "PLZ Ort"
// value under the locality label fills both fields when no postal code was seen
// yet. Coordinates are normalized to a decimal point.
func Resolve(rows iter.Seq[Row], index *LabelIndex, link string) Record {
	rec := Record{}
	for row := range rows {
		key, ok := index.Lookup(Normalize(row.Label))
		if !ok {
			continue
		}
		if key == FieldOrt && rec[FieldPLZ] == "" && hasPostalToken(row.Value) {
			if plz, ort, ok := SplitPostalLocality(row.Value); ok {
				rec[FieldPLZ] = plz
				rec[FieldOrt] = ort
				continue
			}
		}
		rec[key] = row.Value
	}

	for _, k := range coordinateFields {
		if v, ok := rec[k]; ok {
			rec[k] = NormalizeDecimal(v)
		}
	}
	rec[LinkKey] = link
	return rec
}

// hasPostalToken reports whether value contains a word of exactly four
// decimal digits. Word boundaries are Unicode-aware, so "ä1234" is one word.
func hasPostalToken(value string) bool {
	for _, word := range strings.FieldsFunc(value, func(r rune) bool { return !isWordRune(r) }) {
		n := 0
		for _, r := range word {
			if !unicode.IsDigit(r) {
				n = -1
				break
			}
			n++
		}
		if n == 4 {
			return true
		}
	}
	return false
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsNumber(r)
}

// SplitPostalLocality splits "9000 St. Gallen" into "9000" and "St. Gallen".
func SplitPostalLocality(value string) (plz, ort string, ok bool) {
	m := rePostalLocality.FindStringSubmatch(value)
	if m == nil {
		return "", "", false
	}
	return m[1], m[2], true
}

// NormalizeDecimal replaces decimal commas with points.
func NormalizeDecimal(value string) string {
	return strings.ReplaceAll(value, ",", ".")
}
