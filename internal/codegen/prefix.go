package codegen

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// DefaultPrefix is used when a category yields no alphabetic characters.
const DefaultPrefix = "ATK"

var knownPrefixes = map[string]string{
	"paper & printing":      "PPR",
	"kertas":                "PPR",
	"writing instruments":   "WRT",
	"alat tulis":            "WRT",
	"filing & storage":      "FIL",
	"map & arsip":           "FIL",
	"desk accessories":      "DSK",
	"ink & toner":           "INK",
	"tinta & toner":         "INK",
	"adhesives & fasteners": "ADH",
	"envelopes":             "ENV",
	"amplop":                "ENV",
	"batteries":             "BAT",
	"baterai":               "BAT",
	"cleaning supplies":     "CLN",
	"computer supplies":     "CMP",
}

// PrefixFor maps a category name to its three letter item code prefix.
func PrefixFor(categoryName string) string {
	name := strings.ToLower(strings.Join(strings.Fields(categoryName), " "))
	if prefix, ok := knownPrefixes[name]; ok {
		return prefix
	}

	var b strings.Builder
	for _, r := range foldDiacritics(categoryName) {
		if b.Len() == 3 {
			break
		}
		if r <= unicode.MaxASCII && unicode.IsLetter(r) {
			b.WriteRune(unicode.ToUpper(r))
		}
	}
	if b.Len() == 0 {
		return DefaultPrefix
	}
	return b.String()
}

func foldDiacritics(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}
