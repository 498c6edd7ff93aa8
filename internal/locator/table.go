package locator

import (
	"fmt"
	"sort"

	"github.com/JakeFAU/shopfinder-crawler/internal/browser"
)

// Field names a semantic element of the listing or detail page.
type Field string

// Listing and detail page fields.
const (
	ConsentAccept  Field = "consent-accept"
	ZipInput       Field = "zip-input"
	RadiusSelect   Field = "radius-select"
	SearchSubmit   Field = "search-submit"
	ResultCard     Field = "result-card"
	DetailLink     Field = "detail-link"
	LoadMore       Field = "load-more"
	DetailName     Field = "detail-name"
	DetailPhone    Field = "detail-phone"
	DetailEmail    Field = "detail-email"
	DetailAddress  Field = "detail-address"
	DetailCategory Field = "detail-category"
	DetailLinks    Field = "detail-links"
)

// Table maps each field to its candidate queries in priority order:
// attribute and role queries first, then text queries, then structural fallbacks.
type Table map[Field][]browser.Query

// DefaultTable returns the candidates observed to work on the shop finder.
func DefaultTable() Table {
	return Table{
		ConsentAccept: {
			browser.CSS("#uc-btn-accept-all"),
			browser.CSS(`button[data-testid="uc-accept-all-button"]`),
			browser.CSS(`button[aria-label*="kzeptieren"]`),
			browser.Text("button", "Alle akzeptieren"),
			browser.Text("button", "Akzeptieren"),
		},
		ZipInput: {
			browser.CSS(`input[placeholder*="Postleitzahl"]`),
			browser.CSS(`input[name*="location"]`),
			browser.CSS(`input[name*="zip"]`),
			browser.CSS(`input[type="search"]`),
		},
		RadiusSelect: {
			browser.CSS(`select[name*="radius"]`),
			browser.CSS(`select[id*="radius"]`),
			browser.XPath(`//select[option[contains(., "km")]]`),
			browser.CSS("form select"),
		},
		SearchSubmit: {
			browser.Text("button", "Bio-Händler finden"),
			browser.Text("button", "Händler finden"),
			browser.CSS(`form button[type="submit"]`),
			browser.CSS(`form input[type="submit"]`),
		},
		ResultCard: {
			browser.CSS(".splashshopfinder__entry"),
			browser.CSS(".dealerlist__item"),
			browser.CSS(".tx-splashshopfinder .entry"),
			browser.CSS(".teaser--result"),
		},
		DetailLink: {
			browser.CSS(`.splashshopfinder__entry a[href*="detail"]`),
			browser.Text("a", "Details"),
			browser.CSS(`.dealerlist__item a[href]`),
		},
		LoadMore: {
			browser.CSS(`[data-action="load-more"]`),
			browser.Text("button", "mehr"),
			browser.Text("a", "mehr anzeigen"),
		},
		DetailName: {
			browser.CSS(`[itemprop="name"]`),
			browser.CSS(".dealer__name"),
			browser.CSS("h1"),
			browser.CSS("h2"),
		},
		DetailPhone: {
			browser.CSS(`[itemprop="telephone"]`),
			browser.CSS(".phone"),
			browser.CSS(".telefon"),
		},
		DetailEmail: {
			browser.CSS(`[itemprop="email"]`),
			browser.CSS(".email"),
		},
		DetailAddress: {
			browser.CSS(`[itemprop="address"]`),
			browser.CSS(".dealer__address"),
			browser.CSS(".shop__address"),
			browser.CSS(`[class*="address"]`),
			browser.CSS(".adresse"),
			browser.CSS(".contact"),
			browser.CSS(".kontakt"),
		},
		DetailCategory: {
			browser.CSS(`[itemprop="category"]`),
			browser.CSS(`[class*="category"]`),
			browser.CSS(".kategorie"),
			browser.CSS(".type"),
		},
		DetailLinks: {
			browser.CSS("a[href]"),
		},
	}
}

// Build returns a copy of the default table with the given fields replaced.
// Overrides use the "kind:expr" query form.
func Build(overrides map[string][]string) (Table, error) {
	table := DefaultTable()
	for name, raws := range overrides {
		field := Field(name)
		if _, known := table[field]; !known {
			return nil, fmt.Errorf("unknown selector field %q", name)
		}
		if len(raws) == 0 {
			return nil, fmt.Errorf("selector field %q has no candidates", name)
		}
		queries := make([]browser.Query, 0, len(raws))
		for _, raw := range raws {
			q, err := browser.ParseQuery(raw)
			if err != nil {
				return nil, fmt.Errorf("selector field %q: %w", name, err)
			}
			queries = append(queries, q)
		}
		table[field] = queries
	}
	return table, nil
}

// Fields lists the table's fields in name order.
func (t Table) Fields() []Field {
	out := make([]Field, 0, len(t))
	for f := range t {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
