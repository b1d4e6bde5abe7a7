package query

import (
	"strings"

	"sta-timeseries/internal/domain"
)

// OrderTerm is one "column asc|desc" element of an order by clause.
type OrderTerm struct {
	Field  string // protocol name
	Column string
	Desc   bool
}

func (t OrderTerm) String() string {
	if t.Desc {
		return t.Column + " desc"
	}
	return t.Column + " asc"
}

// DefaultOrderBy is used when the request has no $orderBy.
var DefaultOrderBy = []OrderTerm{{Field: "phenomenonTime", Column: "timestamp"}}

// ParseOrderBy parses "field [asc|desc][, field [asc|desc]]...".
func ParseOrderBy(s string) ([]OrderTerm, error) {
	var terms []OrderTerm
	for _, part := range strings.Split(s, ",") {
		fields := strings.Fields(part)
		if len(fields) == 0 || len(fields) > 2 {
			return nil, domain.ProtocolSyntax("invalid $orderBy term %q", strings.TrimSpace(part))
		}
		f, err := parseField(fields[0])
		if err != nil {
			return nil, domain.ProtocolSyntax("unsupported field %q in $orderBy", fields[0])
		}
		term := OrderTerm{Field: f.Name, Column: f.Column}
		if len(fields) == 2 {
			switch strings.ToLower(fields[1]) {
			case "asc":
			case "desc":
				term.Desc = true
			default:
				return nil, domain.ProtocolSyntax("expected asc or desc in $orderBy, got %q", fields[1])
			}
		}
		terms = append(terms, term)
	}
	return terms, nil
}

// OrderByClause renders terms as "order by ..." and appends the natural-key
// columns not already present, so pagination sees a total order.
func OrderByClause(terms []OrderTerm, naturalKey ...string) string {
	if len(terms) == 0 {
		terms = DefaultOrderBy
	}
	seen := make(map[string]bool, len(terms))
	parts := make([]string, 0, len(terms)+len(naturalKey))
	for _, t := range terms {
		if seen[t.Column] {
			continue
		}
		seen[t.Column] = true
		parts = append(parts, t.String())
	}
	for _, col := range naturalKey {
		if !seen[col] {
			seen[col] = true
			parts = append(parts, col+" asc")
		}
	}
	return "order by " + strings.Join(parts, ", ")
}
