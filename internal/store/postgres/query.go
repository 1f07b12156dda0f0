package postgres

import (
	"fmt"

	"github.com/alanyoungcy/arbengine/internal/domain"
)

// query accumulates a SQL string with positional arguments.
type query struct {
	sql  string
	args []any
}

func newQuery(base string) *query {
	return &query{sql: base}
}

func (q *query) add(s string) {
	q.sql += s
}

// where appends " AND <clause> $n" with the next placeholder.
func (q *query) where(clause string, arg any) {
	q.args = append(q.args, arg)
	q.sql += fmt.Sprintf(" AND %s $%d", clause, len(q.args))
}

func (q *query) window(column string, opts domain.ListOpts) {
	if opts.Since != nil {
		q.where(column+" >=", *opts.Since)
	}
	if opts.Until != nil {
		q.where(column+" <", *opts.Until)
	}
}

func (q *query) page(opts domain.ListOpts) {
	if opts.Limit > 0 {
		q.args = append(q.args, opts.Limit)
		q.sql += fmt.Sprintf(" LIMIT $%d", len(q.args))
	}
	if opts.Offset > 0 {
		q.args = append(q.args, opts.Offset)
		q.sql += fmt.Sprintf(" OFFSET $%d", len(q.args))
	}
}
