package source

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"

	"golang.org/x/net/html"

	"pulseboard/internal/record/domain"
)

// Field describes how to extract one item field from a row element.
// Exactly one of Const, Today, Class or the selector form applies, checked in that order.
type Field struct {
	// Selector finds the field element below the row; empty means the row itself.
	Selector string `yaml:"selector"`
	// Attrs are read in order when the element's text is empty.
	Attrs []string `yaml:"attrs"`
	// Default is used when nothing was found.
	Default string `yaml:"default"`
	// Required fails the item when the field is still empty.
	Required bool `yaml:"required"`

	// Const sets a fixed string value.
	Const string `yaml:"const"`
	// Today sets the current date (YYYY-MM-DD) in the source's location.
	Today bool `yaml:"today"`
	// Class produces a boolean: whether the row carries the class. With Negate the value is
	// true only when the row has a class attribute that lacks Class.
	Class  string `yaml:"class"`
	Negate bool   `yaml:"negate"`
}

// Profile maps an HTML page onto raw items: one item per row element.
type Profile struct {
	Kind   domain.Kind      `yaml:"kind"`
	Rows   string           `yaml:"rows"`
	Limit  int              `yaml:"limit"` // 0 = every row
	Fields map[string]Field `yaml:"fields"`
	// Label names the success screenshot (e.g. "inbox").
	Label string `yaml:"label"`
}

// Gmail reads the inbox list: the first 10 rows, sender, subject, snippet and read state.
func Gmail() Profile {
	return Profile{
		Kind:  domain.KindEmail,
		Rows:  "tr.zA",
		Limit: 10,
		Label: "inbox",
		Fields: map[string]Field{
			"sender":       {Selector: ".yP, .zF", Attrs: []string{"email", "name"}},
			"subject":      {Selector: ".y6, .aHS-b-n"},
			"body_snippet": {Selector: ".y2"},
			"is_read":      {Class: "zE", Negate: true},
		},
	}
}

// Calendar reads event chips. Their day is not in the markup, so every event is dated today.
func Calendar() Profile {
	return Profile{
		Kind:  domain.KindEvent,
		Rows:  ".g3dbUd",
		Label: "today",
		Fields: map[string]Field{
			"name": {Selector: "div, span", Default: "Untitled Event"},
			"date": {Today: true},
		},
	}
}

// BuiltinProfile returns a shipped profile by name.
func BuiltinProfile(name string) (Profile, bool) {
	switch name {
	case "gmail":
		return Gmail(), true
	case "calendar":
		return Calendar(), true
	}
	return Profile{}, false
}

type compiledField struct {
	name string
	Field
	sel *Selector
}

type compiledProfile struct {
	kind   domain.Kind
	rows   *Selector
	limit  int
	label  string
	fields []compiledField
}

func (p Profile) compile() (*compiledProfile, error) {
	kind, ok := domain.ParseKind(string(p.Kind))
	if !ok {
		return nil, fmt.Errorf("profile kind %q is not a record kind", p.Kind)
	}
	if p.Rows == "" {
		return nil, errors.New("profile rows selector is empty")
	}
	if p.Limit < 0 {
		return nil, fmt.Errorf("profile limit %d is negative", p.Limit)
	}
	rows, err := CompileSelector(p.Rows)
	if err != nil {
		return nil, err
	}
	cp := &compiledProfile{kind: kind, rows: rows, limit: p.Limit, label: p.Label}
	if cp.label == "" {
		cp.label = "page"
	}
	for _, name := range slices.Sorted(maps.Keys(p.Fields)) {
		f := p.Fields[name]
		cf := compiledField{name: name, Field: f}
		if f.Selector != "" {
			if cf.sel, err = CompileSelector(f.Selector); err != nil {
				return nil, fmt.Errorf("field %s: %w", name, err)
			}
		}
		cp.fields = append(cp.fields, cf)
	}
	return cp, nil
}

// rowsOf returns the row elements of doc, truncated to the profile limit.
func (cp *compiledProfile) rowsOf(doc *html.Node) []*html.Node {
	rows := cp.rows.MatchAll(doc)
	if cp.limit > 0 && len(rows) > cp.limit {
		rows = rows[:cp.limit]
	}
	return rows
}

// extract builds the raw item for one row.
func (cp *compiledProfile) extract(row *html.Node, now time.Time, loc *time.Location) (RawItem, error) {
	item := RawItem{}
	for _, f := range cp.fields {
		switch {
		case f.Const != "":
			item[f.name] = f.Const
		case f.Today:
			item[f.name] = now.In(loc).Format(time.DateOnly)
		case f.Class != "":
			if f.Negate {
				_, hasAttr := lookupAttr(row, "class")
				item[f.name] = hasAttr && !hasClass(row, f.Class)
			} else {
				item[f.name] = hasClass(row, f.Class)
			}
		default:
			v := f.text(row)
			if v == "" {
				v = f.Default
			}
			if v == "" {
				if f.Required {
					return nil, fmt.Errorf("field %s: no match for %q", f.name, f.Selector)
				}
				continue
			}
			item[f.name] = v
		}
	}
	return item, nil
}

func (f compiledField) text(row *html.Node) string {
	n := row
	if f.sel != nil {
		n = f.sel.MatchFirst(row)
	}
	if n == nil {
		return ""
	}
	if s := innerText(n); s != "" {
		return s
	}
	for _, a := range f.Attrs {
		if v, ok := lookupAttr(n, a); ok && v != "" {
			return v
		}
	}
	return ""
}
