package renderer

import (
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Transform is a named helper applied to a context value inside a template,
// e.g. {{ patient.name|sentence_case }} or {{ notes|elide:"None" }}.
// Transforms are pure: the same input and parameter always give the same
// output. Inside templates they do not fail on malformed optional data:
// fmt_date prints an unparseable date verbatim and prescription_rows fills
// what it cannot read with placeholders. The exported Go functions stay
// strict and return errors.
type Transform func(in any, param any) (any, error)

var transforms = map[string]Transform{
	"sentence_case": func(in any, _ any) (any, error) {
		return SentenceCase(stringify(in)), nil
	},
	"title_case": func(in any, _ any) (any, error) {
		return TitleCase(stringify(in)), nil
	},
	"elide": func(in any, param any) (any, error) {
		return Elide(in, stringify(param)), nil
	},
	"fmt_date": func(in any, param any) (any, error) {
		out, err := FormatDate(in, stringify(param))
		if err != nil {
			return strings.TrimSpace(stringify(in)), nil
		}
		return out, nil
	},
	"prescription_rows": func(in any, _ any) (any, error) {
		return prescriptionRows(in, false)
	},
	"typst": func(in any, _ any) (any, error) {
		return EscapeMarkup(stringify(in)), nil
	},
	"typst_str": func(in any, _ any) (any, error) {
		return QuoteString(stringify(in)), nil
	},
}

// Transforms returns the built-in transforms by name.
func Transforms() map[string]Transform {
	out := make(map[string]Transform, len(transforms))
	for name, fn := range transforms {
		out[name] = fn
	}
	return out
}

// TransformNames returns the sorted names of the built-in transforms.
func TransformNames() []string {
	names := make([]string, 0, len(transforms))
	for name := range transforms {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SentenceCase lower-cases s and upper-cases its first letter:
// "AMOXICILLIN 500MG capsules" becomes "Amoxicillin 500mg capsules".
func SentenceCase(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if s == "" {
		return ""
	}

	lower := cases.Lower(language.English).String(s)
	r, size := utf8.DecodeRuneInString(lower)
	if !unicode.IsLetter(r) {
		return lower
	}
	return cases.Upper(language.English).String(string(r)) + lower[size:]
}

// TitleCase capitalises every word of s.
func TitleCase(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	return cases.Title(language.English).String(s)
}

// IsEmpty reports whether v carries no displayable data: nil, a blank
// string, or an empty slice or map.
func IsEmpty(v any) bool {
	if v == nil {
		return true
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s) == ""
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Map, reflect.Array:
		return rv.Len() == 0
	case reflect.Pointer, reflect.Interface:
		return rv.IsNil()
	}
	return false
}

// Elide replaces an empty value with fallback and returns anything else
// unchanged.
func Elide(v any, fallback string) any {
	if IsEmpty(v) {
		return fallback
	}
	return v
}

// DefaultDateLayout is used by FormatDate when no layout is given.
const DefaultDateLayout = "02 Jan 2006"

var dateInputLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// FormatDate formats a time.Time or a date string (RFC 3339 or YYYY-MM-DD)
// with layout. Empty input yields an empty string.
func FormatDate(v any, layout string) (string, error) {
	if layout == "" {
		layout = DefaultDateLayout
	}

	switch d := v.(type) {
	case time.Time:
		return d.Format(layout), nil
	case *time.Time:
		if d == nil {
			return "", nil
		}
		return d.Format(layout), nil
	}

	if IsEmpty(v) {
		return "", nil
	}

	s := strings.TrimSpace(stringify(v))
	for _, in := range dateInputLayouts {
		if t, err := time.Parse(in, s); err == nil {
			return t.Format(layout), nil
		}
	}
	return "", fmt.Errorf("fmt_date: cannot parse %q as a date", s)
}

// markupSpecials are the characters with meaning in Typst markup.
const markupSpecials = "\\#$*_`<>@[]~/=+-'\""

// EscapeMarkup escapes s for literal use in Typst markup.
func EscapeMarkup(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if strings.ContainsRune(markupSpecials, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// QuoteString renders s as a Typst string literal.
func QuoteString(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 2)
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '\\':
			b.WriteString(`\\`)
		case '"':
			b.WriteString(`\"`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte('"')
	return b.String()
}

// Prescription is one line of a prescription table.
type Prescription struct {
	Drug         string `yaml:"drug" json:"drug"`
	Dose         string `yaml:"dose" json:"dose"`
	Frequency    string `yaml:"frequency" json:"frequency"`
	Duration     string `yaml:"duration" json:"duration"`
	Instructions string `yaml:"instructions" json:"instructions"`
}

// prescriptionPlaceholder fills empty optional cells.
const prescriptionPlaceholder = "—"

// PrescriptionRows formats a prescription list as Typst table cells, one
// row per line, numbered from 1:
//
//	[1], [Amoxicillin], [500 mg], [Three times daily], [7 days], [With food],
//
// Accepts []Prescription or a list of maps as decoded from YAML/JSON. An
// empty list yields an empty string. Items without a drug, items that are
// not mappings and non-list values are errors.
func PrescriptionRows(v any) (string, error) {
	return prescriptionRows(v, true)
}

// prescriptionRows formats v. When strict is false nothing is rejected: a
// scalar item or value becomes the drug of its row and a missing drug is
// shown as the placeholder.
func prescriptionRows(v any, strict bool) (string, error) {
	items, err := toPrescriptions(v, strict)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	for i, p := range items {
		drug := SentenceCase(strings.TrimSpace(p.Drug))
		if drug == "" {
			if strict {
				return "", fmt.Errorf("prescription_rows: item %d has no drug", i+1)
			}
			drug = prescriptionPlaceholder
		}
		cells := []string{
			strconv.Itoa(i + 1),
			drug,
			cell(p.Dose),
			cell(p.Frequency),
			cell(p.Duration),
			cell(p.Instructions),
		}
		b.WriteString("  ")
		for j, c := range cells {
			if j > 0 {
				b.WriteString(" ")
			}
			b.WriteString("[" + EscapeMarkup(c) + "],")
		}
		b.WriteString("\n")
	}
	return b.String(), nil
}

func cell(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if s == "" {
		return prescriptionPlaceholder
	}
	return s
}

func toPrescriptions(v any, strict bool) ([]Prescription, error) {
	switch list := v.(type) {
	case nil:
		return nil, nil
	case []Prescription:
		return list, nil
	case []map[string]any:
		out := make([]Prescription, 0, len(list))
		for _, m := range list {
			out = append(out, prescriptionFromMap(m))
		}
		return out, nil
	case []any:
		out := make([]Prescription, 0, len(list))
		for i, item := range list {
			switch m := item.(type) {
			case map[string]any:
				out = append(out, prescriptionFromMap(m))
			case Prescription:
				out = append(out, m)
			default:
				if strict {
					return nil, fmt.Errorf("prescription_rows: item %d is %T, not a mapping", i+1, item)
				}
				out = append(out, Prescription{Drug: stringify(item)})
			}
		}
		return out, nil
	case string:
		if strings.TrimSpace(list) == "" {
			return nil, nil
		}
	}
	if strict {
		return nil, fmt.Errorf("prescription_rows: expected a list, got %T", v)
	}
	return []Prescription{{Drug: stringify(v)}}, nil
}

func prescriptionFromMap(m map[string]any) Prescription {
	return Prescription{
		Drug:         firstString(m, "drug", "name", "medication"),
		Dose:         firstString(m, "dose", "dosage"),
		Frequency:    firstString(m, "frequency"),
		Duration:     firstString(m, "duration"),
		Instructions: firstString(m, "instructions", "notes"),
	}
}

func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := m[k]; ok && !IsEmpty(v) {
			return stringify(v)
		}
	}
	return ""
}

// stringify renders scalars the way a template would print them.
func stringify(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case fmt.Stringer:
		return s.String()
	default:
		return fmt.Sprint(v)
	}
}
