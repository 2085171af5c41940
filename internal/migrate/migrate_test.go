package migrate

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solenoid-labs/storekit/internal/dberr"
)

func TestChecksum_Deterministic(t *testing.T) {
	script := "CREATE TABLE widgets (id TEXT PRIMARY KEY)"

	first := Checksum(script)
	second := Checksum(script)

	assert.Equal(t, first, second)
	assert.Len(t, first, 16, "checksums are fixed-width hex")
}

func TestChecksum_SensitiveToAnyEdit(t *testing.T) {
	base := "ALTER TABLE users ADD COLUMN deleted_at TIMESTAMPTZ"

	assert.NotEqual(t, Checksum(base), Checksum(base+" "))
	assert.NotEqual(t, Checksum(base), Checksum(base[:len(base)-1]))
	assert.NotEqual(t, Checksum("ab"), Checksum("ba"))
}

func TestChecksum_EmptyScript(t *testing.T) {
	assert.Equal(t, fmt.Sprintf("%016x", 0), Checksum(""))
}

func TestAll_OrderedAndComplete(t *testing.T) {
	migrations := All()
	require.NotEmpty(t, migrations)

	seen := make(map[string]bool, len(migrations))
	var prev string
	for _, m := range migrations {
		assert.NotEmpty(t, m.ID)
		assert.NotEmpty(t, m.Name)
		assert.NotEmpty(t, m.Up)
		assert.False(t, seen[m.ID], "migration ids must be unique")
		seen[m.ID] = true
		assert.Greater(t, m.ID, prev, "migrations must be declared in id order")
		prev = m.ID
	}
}

func TestRollback_NotSupported(t *testing.T) {
	m := &Migrator{}

	err := m.Rollback(context.Background(), "001")

	require.Error(t, err)
	assert.Equal(t, dberr.Migration, dberr.KindOf(err))
	assert.Contains(t, err.Error(), "001")
}
