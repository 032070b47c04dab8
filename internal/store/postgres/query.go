package postgres

import (
	"strconv"
	"strings"

	"github.com/alanyoungcy/prizevault/internal/domain"
)

// pageQuery appends the optional time window, ordering and paging of
// domain.ListOpts to a base SELECT.
type pageQuery struct {
	sb   strings.Builder
	args []any
}

func newPageQuery(base string) *pageQuery {
	q := &pageQuery{}
	q.sb.WriteString(base)
	return q
}

func (q *pageQuery) arg(v any) string {
	q.args = append(q.args, v)
	return "$" + strconv.Itoa(len(q.args))
}

// window filters timeCol by opts.Since and opts.Until.
func (q *pageQuery) window(timeCol string, opts domain.ListOpts) *pageQuery {
	clause := " WHERE "
	if strings.Contains(q.sb.String(), " WHERE ") {
		clause = " AND "
	}
	if opts.Since != nil {
		q.sb.WriteString(clause + timeCol + " >= " + q.arg(*opts.Since))
		clause = " AND "
	}
	if opts.Until != nil {
		q.sb.WriteString(clause + timeCol + " <= " + q.arg(*opts.Until))
	}
	return q
}

func (q *pageQuery) page(orderBy string, opts domain.ListOpts) (string, []any) {
	q.sb.WriteString(" ORDER BY " + orderBy)
	if opts.Limit > 0 {
		q.sb.WriteString(" LIMIT " + q.arg(opts.Limit))
	}
	if opts.Offset > 0 {
		q.sb.WriteString(" OFFSET " + q.arg(opts.Offset))
	}
	return q.sb.String(), q.args
}
