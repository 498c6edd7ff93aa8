package browser

import (
	"fmt"
	"strings"
)

// QueryKind selects how a query expression is interpreted.
type QueryKind string

// Supported query kinds.
const (
	KindCSS   QueryKind = "css"
	KindText  QueryKind = "text"
	KindXPath QueryKind = "xpath"
)

// Query is one candidate lookup expression.
//
// For KindText, Expr has the form "tag|fragment": any element with the given
// tag whose normalized text contains fragment, compared case-insensitively.
// An empty tag matches any element.
type Query struct {
	Kind QueryKind
	Expr string
}

// CSS builds a CSS query.
func CSS(expr string) Query { return Query{Kind: KindCSS, Expr: expr} }

// Text builds a tag+text query.
func Text(tag, fragment string) Query {
	return Query{Kind: KindText, Expr: tag + "|" + fragment}
}

// XPath builds an XPath query.
func XPath(expr string) Query { return Query{Kind: KindXPath, Expr: expr} }

// String renders the query in its "kind:expr" form.
func (q Query) String() string {
	return string(q.Kind) + ":" + q.Expr
}

// TextParts splits a text query into tag and fragment.
func (q Query) TextParts() (string, string) {
	tag, fragment, ok := strings.Cut(q.Expr, "|")
	if !ok {
		return "", q.Expr
	}
	return strings.TrimSpace(tag), strings.TrimSpace(fragment)
}

// XPathExpr translates the query to XPath. CSS queries cannot be translated.
func (q Query) XPathExpr() (string, error) {
	switch q.Kind {
	case KindXPath:
		return q.Expr, nil
	case KindText:
		tag, fragment := q.TextParts()
		if tag == "" {
			tag = "*"
		}
		lower := strings.ToLower(fragment)
		upper := strings.ToUpper(fragment)
		return fmt.Sprintf(
			`//%s[contains(translate(normalize-space(.), %s, %s), %s)]`,
			tag, xpathLiteral(upper), xpathLiteral(lower), xpathLiteral(lower),
		), nil
	default:
		return "", fmt.Errorf("query kind %q has no xpath form", q.Kind)
	}
}

// ParseQuery parses the "kind:expr" form. A missing kind defaults to css.
func ParseQuery(raw string) (Query, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Query{}, fmt.Errorf("empty query")
	}
	kind, expr, ok := strings.Cut(raw, ":")
	if ok {
		switch QueryKind(strings.ToLower(kind)) {
		case KindCSS, KindText, KindXPath:
			expr = strings.TrimSpace(expr)
			if expr == "" {
				return Query{}, fmt.Errorf("query %q has empty expression", raw)
			}
			return Query{Kind: QueryKind(strings.ToLower(kind)), Expr: expr}, nil
		}
	}
	// No known prefix: CSS pseudo-classes like a:hover also contain colons.
	return CSS(raw), nil
}

// xpathLiteral quotes s for use inside an XPath expression.
func xpathLiteral(s string) string {
	if !strings.Contains(s, `"`) {
		return `"` + s + `"`
	}
	if !strings.Contains(s, "'") {
		return "'" + s + "'"
	}
	parts := strings.Split(s, `"`)
	quoted := make([]string, 0, len(parts)*2)
	for i, p := range parts {
		if i > 0 {
			quoted = append(quoted, `'"'`)
		}
		quoted = append(quoted, `"`+p+`"`)
	}
	return "concat(" + strings.Join(quoted, ",") + ")"
}
