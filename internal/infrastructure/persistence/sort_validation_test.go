package persistence

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateSortOrder(t *testing.T) {
	assert.Equal(t, "ASC", ValidateSortOrder("asc"))
	assert.Equal(t, "ASC", ValidateSortOrder(" ASC "))
	assert.Equal(t, "DESC", ValidateSortOrder("desc"))
	assert.Equal(t, "DESC", ValidateSortOrder(""))
	assert.Equal(t, "DESC", ValidateSortOrder("ASC; DROP TABLE sync_records"))
}

func TestValidateSortField(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"allowed", "status", "status"},
		{"trimmed", "  last_synced_at ", "last_synced_at"},
		{"empty", "", "updated_at"},
		{"unknown column", "conflict_reason", "updated_at"},
		{"injection", "status; DELETE FROM sync_records", "updated_at"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ValidateSortField(tt.input, SyncRecordSortFields, "updated_at"))
		})
	}
}

func TestNormalizePage(t *testing.T) {
	limit, offset := normalizePage(0, 0)
	assert.Equal(t, defaultPageSize, limit)
	assert.Equal(t, 0, offset)

	limit, offset = normalizePage(3, 10)
	assert.Equal(t, 10, limit)
	assert.Equal(t, 20, offset)

	limit, _ = normalizePage(1, 1000)
	assert.Equal(t, maxPageSize, limit)
}
