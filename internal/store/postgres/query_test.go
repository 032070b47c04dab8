package postgres

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/alanyoungcy/prizevault/internal/domain"
)

func TestPageQuery(t *testing.T) {
	since := time.Unix(100, 0)
	q, args := newPageQuery("SELECT id FROM audit_log").
		window("created_at", domain.ListOpts{Since: &since}).
		page("id DESC", domain.ListOpts{Limit: 10, Offset: 20})
	assert.Equal(t, "SELECT id FROM audit_log WHERE created_at >= $1 ORDER BY id DESC LIMIT $2 OFFSET $3", q)
	assert.Equal(t, []any{since, 10, 20}, args)

	q, args = newPageQuery("SELECT seq FROM vault_events").
		window("at", domain.ListOpts{}).
		page("seq DESC", domain.ListOpts{})
	assert.Equal(t, "SELECT seq FROM vault_events ORDER BY seq DESC", q)
	assert.Empty(t, args)
}
