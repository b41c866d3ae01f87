package models

import "maps"

// Record field names. They are the column names of every sink and the keys
// of the JSONL stream consumed downstream.
const (
	FieldURL          = "url"
	FieldTitle        = "title"
	FieldBHK          = "bhk"
	FieldAreaSqft     = "area_sqft"
	FieldPrice        = "price"
	FieldPriceUnit    = "price_unit"
	FieldLocation     = "location"
	FieldPropertyType = "property_type"
	FieldCity         = "city"
	FieldScrapedAt    = "scraped_at"
)

// Columns is the standard CSV column order.
var Columns = []string{
	FieldURL, FieldTitle, FieldCity, FieldLocation, FieldPropertyType,
	FieldBHK, FieldAreaSqft, FieldPrice, FieldPriceUnit, FieldScrapedAt,
}

// Fields is an open set of record attributes. Values are strings, ints or
// float64s.
type Fields map[string]any

// Record is one listing, keyed by its detail URL.
type Record struct {
	URL    string
	Fields Fields
}

// NewRecord creates an empty record for url.
func NewRecord(url string) Record {
	return Record{URL: url, Fields: Fields{}}
}

// Set assigns a field when value is non-empty.
func (r Record) Set(key string, value any) {
	if !isEmpty(value) {
		r.Fields[key] = value
	}
}

// Merge returns a copy of r with every non-empty field of detail laid over
// the listing fields. The URL never changes.
func (r Record) Merge(detail Fields) Record {
	out := Record{URL: r.URL, Fields: maps.Clone(r.Fields)}
	if out.Fields == nil {
		out.Fields = Fields{}
	}
	for k, v := range detail {
		if k == FieldURL || isEmpty(v) {
			continue
		}
		out.Fields[k] = v
	}
	return out
}

// Row flattens the record into the shape sinks write.
func (r Record) Row() Fields {
	row := make(Fields, len(r.Fields)+1)
	maps.Copy(row, r.Fields)
	row[FieldURL] = r.URL
	return row
}

func isEmpty(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return x == ""
	case int:
		return x == 0
	case float64:
		return x == 0
	}
	return false
}
