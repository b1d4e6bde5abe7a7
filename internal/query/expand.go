package query

import (
	"strings"

	"sta-timeseries/internal/domain"
)

// ExpandSpec is one $expand target with its nested options. Options.Expand
// may itself hold a further, still unparsed, $expand.
type ExpandSpec struct {
	Key     string
	Options *Options
}

// ParseExpand decomposes one level of an $expand value, e.g.
//
//	Observations($top=2;$expand=FeatureOfInterest),Sensor
//
// Separators are only honoured outside parentheses. "A/B" is read as
// A($expand=B).
func ParseExpand(s string) ([]ExpandSpec, error) {
	items, err := splitTopLevel(s, ',')
	if err != nil {
		return nil, err
	}
	specs := make([]ExpandSpec, 0, len(items))
	for _, item := range items {
		spec, err := parseExpandItem(strings.TrimSpace(item))
		if err != nil {
			return nil, err
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

// ValidateExpand parses every level of an $expand value and reports the
// first syntax error.
func ValidateExpand(s string) error {
	pending := []string{s}
	for len(pending) > 0 {
		specs, err := ParseExpand(pending[0])
		if err != nil {
			return err
		}
		pending = pending[1:]
		for _, spec := range specs {
			if spec.Options.Expand != "" {
				pending = append(pending, spec.Options.Expand)
			}
		}
	}
	return nil
}

func parseExpandItem(item string) (ExpandSpec, error) {
	if item == "" {
		return ExpandSpec{}, domain.ProtocolSyntax("empty $expand item")
	}

	head := item
	if open := strings.IndexByte(item, '('); open >= 0 {
		head = item[:open]
	}
	if slash := strings.IndexByte(head, '/'); slash >= 0 {
		key := head[:slash]
		if err := checkExpandKey(key, item); err != nil {
			return ExpandSpec{}, err
		}
		opts, err := Parse(map[string]string{"$expand": item[slash+1:]})
		if err != nil {
			return ExpandSpec{}, err
		}
		return ExpandSpec{Key: key, Options: opts}, nil
	}

	params := map[string]string{}
	if open := len(head); open < len(item) {
		if matchingParen(item, open) != len(item)-1 {
			return ExpandSpec{}, domain.ProtocolSyntax("unbalanced parentheses in $expand %q", item)
		}
		parts, err := splitTopLevel(item[open+1:len(item)-1], ';')
		if err != nil {
			return ExpandSpec{}, err
		}
		for _, part := range parts {
			if strings.TrimSpace(part) == "" {
				continue
			}
			eq := strings.IndexByte(part, '=')
			if eq <= 0 {
				return ExpandSpec{}, domain.ProtocolSyntax("invalid option %q in $expand %q", part, item)
			}
			params[strings.TrimSpace(part[:eq])] = part[eq+1:]
		}
	}
	if err := checkExpandKey(head, item); err != nil {
		return ExpandSpec{}, err
	}

	opts, err := Parse(params)
	if err != nil {
		return ExpandSpec{}, err
	}
	return ExpandSpec{Key: head, Options: opts}, nil
}

func checkExpandKey(key, item string) error {
	if key == "" || strings.ContainsAny(key, " ;=,") {
		return domain.ProtocolSyntax("invalid $expand target %q", item)
	}
	return nil
}

// splitTopLevel splits s on sep where sep is not inside parentheses.
func splitTopLevel(s string, sep byte) ([]string, error) {
	var parts []string
	depth, start := 0, 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '(':
			depth++
		case ')':
			depth--
			if depth < 0 {
				return nil, domain.ProtocolSyntax("unbalanced parentheses in $expand %q", s)
			}
		case sep:
			if depth == 0 {
				parts = append(parts, s[start:i])
				start = i + 1
			}
		}
	}
	if depth != 0 {
		return nil, domain.ProtocolSyntax("unbalanced parentheses in $expand %q", s)
	}
	return append(parts, s[start:]), nil
}

// matchingParen returns the index of the ) closing the ( at open, or -1.
func matchingParen(s string, open int) int {
	depth := 0
	for i := open; i < len(s); i++ {
		switch s[i] {
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}
