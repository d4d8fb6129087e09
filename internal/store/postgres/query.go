package postgres

import (
	"fmt"
	"strings"

	"github.com/NFTCall-xyz/nftcall-core/internal/domain"
)

// query accumulates a WHERE clause with numbered placeholders.
type query struct {
	conds []string
	args  []any
}

func (q *query) where(cond string, arg any) {
	q.args = append(q.args, arg)
	q.conds = append(q.conds, fmt.Sprintf(cond, len(q.args)))
}

func (q *query) timeRange(col string, opts domain.ListOpts) {
	if opts.Since != nil {
		q.where(col+" >= $%d", *opts.Since)
	}
	if opts.Until != nil {
		q.where(col+" <= $%d", *opts.Until)
	}
}

// build renders base plus the conditions, order and page.
func (q *query) build(base, order string, opts domain.ListOpts) (string, []any) {
	var sb strings.Builder
	sb.WriteString(base)
	if len(q.conds) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(q.conds, " AND "))
	}
	sb.WriteString(" ORDER BY ")
	sb.WriteString(order)
	args := q.args
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		fmt.Fprintf(&sb, " LIMIT $%d", len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		fmt.Fprintf(&sb, " OFFSET $%d", len(args))
	}
	return sb.String(), args
}
