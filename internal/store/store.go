package store

import (
	"fmt"
	"strconv"
)

// Record is the per-roastery row. Every field other than Name defaults to its zero value.
type Record struct {
	Name          string `json:"name"`
	Purchased     bool   `json:"purchased"`
	HasEspresso   bool   `json:"hasEspresso"`
	Comment       string `json:"comment"`
	QualityRating int    `json:"qualityRating"`
	PriceRating   int    `json:"priceRating"`
	ServiceRating int    `json:"serviceRating"`
	Website       string `json:"website"`
	Region        string `json:"region"`
	Starred       bool   `json:"starred"`
}

// DefaultRecord returns the record used when no row exists for name.
func DefaultRecord(name string) Record {
	return Record{Name: name}
}

// Field is one of the user-editable columns.
type Field int

const (
	FieldPurchased Field = iota + 1
	FieldHasEspresso
	FieldComment
	FieldWebsite
	FieldRegion
	FieldStarred
)

var fieldNames = map[Field]string{
	FieldPurchased:   "purchased",
	FieldHasEspresso: "hasEspresso",
	FieldComment:     "comment",
	FieldWebsite:     "website",
	FieldRegion:      "region",
	FieldStarred:     "starred",
}

var fieldColumns = map[Field]string{
	FieldPurchased:   "purchased",
	FieldHasEspresso: "has_espresso",
	FieldComment:     "comment",
	FieldWebsite:     "website",
	FieldRegion:      "region",
	FieldStarred:     "starred",
}

// Fields lists the editable fields in display order.
func Fields() []Field {
	return []Field{FieldPurchased, FieldHasEspresso, FieldComment, FieldWebsite, FieldRegion, FieldStarred}
}

// ParseField maps the external field name to a Field.
func ParseField(name string) (Field, error) {
	for f, n := range fieldNames {
		if n == name {
			return f, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownField, name)
}

func (f Field) String() string {
	if n, ok := fieldNames[f]; ok {
		return n
	}
	return fmt.Sprintf("Field(%d)", int(f))
}

// Column returns the SQL column backing f, or "" for an invalid field.
func (f Field) Column() string {
	return fieldColumns[f]
}

// IsBool reports whether f holds a flag.
func (f Field) IsBool() bool {
	switch f {
	case FieldPurchased, FieldHasEspresso, FieldStarred:
		return true
	}
	return false
}

// Update is a single-field change. Build one with the Set* constructors
// or ParseUpdate; the zero value is invalid.
type Update struct {
	field Field
	flag  bool
	text  string
}

func SetPurchased(v bool) Update   { return Update{field: FieldPurchased, flag: v} }
func SetHasEspresso(v bool) Update { return Update{field: FieldHasEspresso, flag: v} }
func SetStarred(v bool) Update     { return Update{field: FieldStarred, flag: v} }
func SetComment(v string) Update   { return Update{field: FieldComment, text: v} }
func SetWebsite(v string) Update   { return Update{field: FieldWebsite, text: v} }
func SetRegion(v string) Update    { return Update{field: FieldRegion, text: v} }

// ParseUpdate builds an Update from a field name and a textual value.
// Flags accept anything strconv.ParseBool does.
func ParseUpdate(field, value string) (Update, error) {
	f, err := ParseField(field)
	if err != nil {
		return Update{}, err
	}
	if f.IsBool() {
		b, err := strconv.ParseBool(value)
		if err != nil {
			return Update{}, fmt.Errorf("field %s: invalid boolean %q", f, value)
		}
		return Update{field: f, flag: b}, nil
	}
	return Update{field: f, text: value}, nil
}

// Field returns the field the update targets.
func (u Update) Field() Field {
	return u.field
}

// Valid reports whether u targets a known field.
func (u Update) Valid() bool {
	_, ok := fieldColumns[u.field]
	return ok
}

// Value returns the column value: 0/1 for flags, the string otherwise.
func (u Update) Value() any {
	if u.field.IsBool() {
		return boolToInt(u.flag)
	}
	return u.text
}

// Apply returns r with the update applied.
func (u Update) Apply(r Record) Record {
	switch u.field {
	case FieldPurchased:
		r.Purchased = u.flag
	case FieldHasEspresso:
		r.HasEspresso = u.flag
	case FieldStarred:
		r.Starred = u.flag
	case FieldComment:
		r.Comment = u.text
	case FieldWebsite:
		r.Website = u.text
	case FieldRegion:
		r.Region = u.text
	}
	return r
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
