package query

import (
	"fmt"
	"strings"
)

// Sort is one ORDER BY term over a whitelisted column.
type Sort struct {
	Column string
	Desc   bool
}

func (s Sort) String() string {
	if s.Desc {
		return s.Column + " DESC"
	}
	return s.Column + " ASC"
}

// ParseSorts parses "col [asc|desc], ..." accepting only the columns in
// allowed. Blank terms are skipped; an empty string yields no sorts.
func ParseSorts(order string, allowed map[string]bool) ([]Sort, error) {
	var sorts []Sort
	for _, term := range strings.Split(order, ",") {
		tokens := strings.Fields(term)
		if len(tokens) == 0 {
			continue
		}
		if len(tokens) > 2 {
			return nil, fmt.Errorf("order term %q: want \"column [ASC|DESC]\"", strings.TrimSpace(term))
		}

		col := strings.ToLower(tokens[0])
		if !allowed[col] {
			return nil, fmt.Errorf("cannot order by %q", tokens[0])
		}
		s := Sort{Column: col}
		if len(tokens) == 2 {
			switch strings.ToUpper(tokens[1]) {
			case "ASC":
			case "DESC":
				s.Desc = true
			default:
				return nil, fmt.Errorf("order direction %q: want ASC or DESC", tokens[1])
			}
		}
		sorts = append(sorts, s)
	}
	return sorts, nil
}

// OrderBy renders sorts as an ORDER BY clause with columns passed through
// quote. No sorts renders nothing.
func OrderBy(sorts []Sort, quote func(string) string) string {
	if len(sorts) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("ORDER BY ")
	for i, s := range sorts {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(quote(s.Column))
		if s.Desc {
			b.WriteString(" DESC")
		} else {
			b.WriteString(" ASC")
		}
	}
	return b.String()
}

// Predicates accumulates AND-joined WHERE conditions and their positional
// arguments. Conditions use ? placeholders; callers rebind for the driver.
type Predicates struct {
	conds []string
	args  []interface{}
}

// Add appends one condition with its arguments.
func (p *Predicates) Add(cond string, args ...interface{}) {
	p.conds = append(p.conds, cond)
	p.args = append(p.args, args...)
}

// AnyOf appends the parenthesized OR of conds. Empty input is ignored.
func (p *Predicates) AnyOf(conds []string, args ...interface{}) {
	switch len(conds) {
	case 0:
		return
	case 1:
		p.Add(conds[0], args...)
	default:
		p.Add("("+strings.Join(conds, " OR ")+")", args...)
	}
}

// Len returns the number of conditions added.
func (p *Predicates) Len() int { return len(p.conds) }

// Where returns "WHERE c1 AND c2 ..." or the empty string.
func (p *Predicates) Where() string {
	if len(p.conds) == 0 {
		return ""
	}
	return "WHERE " + strings.Join(p.conds, " AND ")
}

// Args returns the accumulated arguments in placeholder order.
func (p *Predicates) Args() []interface{} {
	return p.args
}

// In returns "col IN (?, ?, ...)" for n values. n must be positive.
func In(col string, n int) string {
	return col + " IN (" + strings.TrimSuffix(strings.Repeat("?, ", n), ", ") + ")"
}
