// Package record defines the canonical output record and the per-run
// deduplication set.
package record

import (
	"strings"
	"sync"

	"golang.org/x/text/unicode/norm"
)

// Raw field names produced by the extractor.
const (
	FieldName       = "name"
	FieldStreet     = "street"
	FieldPostalCode = "postalCode"
	FieldCity       = "city"
	FieldPhone      = "phone"
	FieldEmail      = "email"
	FieldWebsite    = "website"
	FieldCategory   = "category"
)

// Raw maps field names to best-effort extracted values. A missing key and an
// empty string both mean null.
type Raw map[string]string

// Set stores value under field when it is non-empty after trimming.
func (r Raw) Set(field, value string) {
	if strings.TrimSpace(value) == "" {
		return
	}
	r[field] = value
}

// Has reports whether field holds a non-blank value.
func (r Raw) Has(field string) bool {
	return strings.TrimSpace(r[field]) != ""
}

// Record is the canonical output unit. Every key is always serialised;
// missing values are explicit nulls.
type Record struct {
	Name            *string `json:"name"`
	Street          *string `json:"street"`
	PostalCode      *string `json:"postalCode"`
	City            *string `json:"city"`
	Phone           *string `json:"phone"`
	Email           *string `json:"email"`
	Website         *string `json:"website"`
	Category        *string `json:"category"`
	SourceQueryCode *string `json:"sourceQueryCode"`
	SourceURL       string  `json:"sourceUrl"`
	// Error marks a record whose detail page could not be processed.
	Error string `json:"error,omitempty"`
}

// Normalize maps raw values onto a Record: whitespace is collapsed, text is
// NFC-normalised and blank values become nil.
func Normalize(raw Raw, sourceURL, queryCode string) Record {
	return Record{
		Name:            Clean(raw[FieldName]),
		Street:          Clean(raw[FieldStreet]),
		PostalCode:      Clean(raw[FieldPostalCode]),
		City:            Clean(raw[FieldCity]),
		Phone:           Clean(raw[FieldPhone]),
		Email:           Clean(raw[FieldEmail]),
		Website:         Clean(raw[FieldWebsite]),
		Category:        Clean(raw[FieldCategory]),
		SourceQueryCode: Clean(queryCode),
		SourceURL:       strings.TrimSpace(sourceURL),
	}
}

// ErrorRecord builds the all-null record emitted when a detail page fails.
func ErrorRecord(sourceURL, queryCode string, err error) Record {
	rec := Record{
		SourceQueryCode: Clean(queryCode),
		SourceURL:       strings.TrimSpace(sourceURL),
		Error:           "unknown error",
	}
	if err != nil {
		rec.Error = err.Error()
	}
	return rec
}

// Failed reports whether the record carries an error marker.
func (r Record) Failed() bool {
	return r.Error != ""
}

// Fields returns the canonical fields in schema order, keyed by JSON name.
func (r Record) Fields() []Field {
	return []Field{
		{"name", r.Name},
		{"street", r.Street},
		{"postalCode", r.PostalCode},
		{"city", r.City},
		{"phone", r.Phone},
		{"email", r.Email},
		{"website", r.Website},
		{"category", r.Category},
		{"sourceQueryCode", r.SourceQueryCode},
		{"sourceUrl", &r.SourceURL},
	}
}

// Field is one named canonical value.
type Field struct {
	Key   string
	Value *string
}

// Clean collapses whitespace and NFC-normalises s. It returns nil for blank input.
func Clean(s string) *string {
	s = strings.Join(strings.Fields(s), " ")
	if s == "" {
		return nil
	}
	s = norm.NFC.String(s)
	return &s
}

// Deduper remembers source URLs already emitted in a run. It is safe for
// concurrent use.
type Deduper struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

// NewDeduper returns an empty set.
func NewDeduper() *Deduper {
	return &Deduper{seen: make(map[string]struct{})}
}

// Admit records url and reports whether it was new.
func (d *Deduper) Admit(url string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.seen[url]; ok {
		return false
	}
	d.seen[url] = struct{}{}
	return true
}

// Forget removes url so a later Admit accepts it again.
func (d *Deduper) Forget(url string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.seen, url)
}

// Len returns the number of admitted URLs.
func (d *Deduper) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}
