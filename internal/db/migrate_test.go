package db

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrations(t *testing.T) {
	migrations, err := Migrations()
	require.NoError(t, err)
	require.Len(t, migrations, 2)

	assert.Equal(t, "0001_catalogue.sql", migrations[0].Version)
	assert.Equal(t, "0002_test_order.sql", migrations[1].Version)

	assert.Contains(t, migrations[0].SQL, "create table if not exists endpoints")
	assert.Contains(t, migrations[1].SQL, "test_order_proposals_one_pending_idx")
	assert.True(t, strings.Contains(migrations[1].SQL, "where status = 'pending'"))
}
