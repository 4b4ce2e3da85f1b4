package filters

import (
	"fmt"
	"strings"

	"github.com/chain-ledger/internal/logging"
)

// numericTextColumns are stored as decimal-preserving text; ordering on them
// must cast to REAL to get numeric rather than lexicographic order.
var numericTextColumns = map[string]struct{}{
	"amount":    {},
	"fee":       {},
	"rate":      {},
	"pnl":       {},
	"usd_value": {},
}

// sortableColumns is the closed set of attributes an Order may name. The
// attribute lands in the SQL text rather than a binding, so anything
// outside this set degrades to no ordering, the same way a malformed tx
// hash degrades to no constraint.
var sortableColumns = map[string]struct{}{
	"identifier":       {},
	"event_identifier": {},
	"sequence_index":   {},
	"timestamp":        {},
	"time":             {},
	"location":         {},
	"location_label":   {},
	"asset":            {},
	"base_asset":       {},
	"quote_asset":      {},
	"type":             {},
	"subtype":          {},
	"counterparty":     {},
	"product":          {},
	"category":         {},
	"validator_index":  {},
	"amount":           {},
	"fee":              {},
	"rate":             {},
	"pnl":              {},
	"usd_value":        {},
}

// Order describes a single ORDER BY attribute and direction.
type Order struct {
	Attribute string
	Ascending bool
}

// render returns the ORDER BY expression for the attribute, or "" when the
// attribute is not a known sortable column.
func (o *Order) render() string {
	attr := o.Attribute
	if _, ok := sortableColumns[attr]; !ok {
		logging.WithField("attribute", attr).Warn("Skipping unknown order attribute")
		return ""
	}
	if _, ok := numericTextColumns[attr]; ok {
		attr = fmt.Sprintf("CAST(%s AS REAL)", attr)
	}
	direction := "DESC"
	if o.Ascending {
		direction = "ASC"
	}
	return attr + " " + direction
}

// Pagination describes a LIMIT/OFFSET window.
type Pagination struct {
	Limit  int
	Offset int
}

// Query is a composable container of filters plus ordering and pagination.
// It is an in-memory descriptor only; nothing about it is persisted. The
// zero value matches everything.
type Query struct {
	// Filters are applied in order. Each filter's fragments are joined by
	// the filter's own AND/OR flag and wrapped in parentheses; the
	// resulting composites are joined by the Query's And flag.
	Filters    []Filter
	And        bool
	Order      *Order
	Pagination *Pagination
}

// Prepare renders the query into a SQL suffix (`WHERE ... ORDER BY ...
// LIMIT ? OFFSET ?`) and its bindings. With withPagination false the suffix
// is also valid after `SELECT COUNT(*)`: pagination is the only difference
// between a page of results and a count of matches.
func (q *Query) Prepare(withPagination bool) (string, []interface{}) {
	var composites []string
	var bindings []interface{}

	for _, f := range q.Filters {
		clauses, filterBindings := f.Prepare()
		if len(clauses) == 0 {
			continue
		}
		junction := " OR "
		if f.JoinWithAnd() {
			junction = " AND "
		}
		composites = append(composites, "("+strings.Join(clauses, junction)+")")
		bindings = append(bindings, filterBindings...)
	}

	var sb strings.Builder
	if len(composites) > 0 {
		junction := " OR "
		if q.And {
			junction = " AND "
		}
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(composites, junction))
	}

	if q.Order != nil {
		if expr := q.Order.render(); expr != "" {
			sb.WriteString(" ORDER BY ")
			sb.WriteString(expr)
		}
	}

	if withPagination && q.Pagination != nil {
		sb.WriteString(" LIMIT ? OFFSET ?")
		bindings = append(bindings, q.Pagination.Limit, q.Pagination.Offset)
	}

	return sb.String(), bindings
}
