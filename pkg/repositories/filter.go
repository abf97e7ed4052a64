package repositories

import (
	"fmt"
	"net/url"
	"strings"
	"unicode"

	"github.com/ppcxy/cyfm-engine/pkg/apperrors"
)

// Operator is a comparison used by a SearchFilter.
type Operator string

const (
	OpEQ   Operator = "EQ"
	OpLIKE Operator = "LIKE"
	OpGT   Operator = "GT"
	OpLT   Operator = "LT"
	OpGTE  Operator = "GTE"
	OpLTE  Operator = "LTE"
)

// ParseOperator accepts an operator name in any case.
func ParseOperator(s string) (Operator, error) {
	op := Operator(strings.ToUpper(strings.TrimSpace(s)))
	switch op {
	case OpEQ, OpLIKE, OpGT, OpLT, OpGTE, OpLTE:
		return op, nil
	}
	return "", fmt.Errorf("operator %q: %w", s, apperrors.ErrInvalidFilter)
}

// SearchFilter restricts a search to rows whose Field compares to Value.
// Field is a property path such as "username" or "team.id".
type SearchFilter struct {
	Field    string   `json:"field"`
	Operator Operator `json:"op"`
	Value    any      `json:"value"`
}

// ParseSearchParams reads filters from query parameters named
// <prefix><OP>_<field>, e.g. search_LIKE_name=adm or search_EQ_team.id=3.
// Parameters without the prefix are ignored.
func ParseSearchParams(values url.Values, prefix string) ([]SearchFilter, error) {
	var filters []SearchFilter
	for key, vals := range values {
		rest, ok := strings.CutPrefix(key, prefix)
		if !ok || len(vals) == 0 || vals[0] == "" {
			continue
		}
		opName, field, ok := strings.Cut(rest, "_")
		if !ok || field == "" {
			return nil, fmt.Errorf("search parameter %q: %w", key, apperrors.ErrInvalidFilter)
		}
		op, err := ParseOperator(opName)
		if err != nil {
			return nil, err
		}
		filters = append(filters, SearchFilter{Field: field, Operator: op, Value: vals[0]})
	}
	return filters, nil
}

// Page bounds a result set. The zero value returns the first DefaultPageLimit
// rows ordered by primary key.
type Page struct {
	Limit   int    `json:"limit"`
	Offset  int    `json:"offset"`
	OrderBy string `json:"order_by,omitempty"`
	Desc    bool   `json:"desc,omitempty"`
}

const (
	DefaultPageLimit = 100
	MaxPageLimit     = 1000
)

func (p Page) normalized() Page {
	if p.Limit <= 0 {
		p.Limit = DefaultPageLimit
	}
	if p.Limit > MaxPageLimit {
		p.Limit = MaxPageLimit
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}

// columnName maps a property path to a column: "team.id" → "team_id",
// "createdAt" → "created_at".
func columnName(field string) string {
	field = strings.ReplaceAll(strings.TrimSpace(field), ".", "_")

	var b strings.Builder
	for i, r := range field {
		if unicode.IsUpper(r) {
			if i > 0 && field[i-1] != '_' {
				b.WriteByte('_')
			}
			r = unicode.ToLower(r)
		}
		b.WriteRune(r)
	}
	return b.String()
}
