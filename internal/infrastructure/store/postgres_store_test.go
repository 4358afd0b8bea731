package store

import (
	"database/sql"
	"errors"
	"fmt"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
)

func TestTranslate(t *testing.T) {
	other := errors.New("connection reset")

	tests := []struct {
		name string
		in   error
		want error
	}{
		{"nil", nil, nil},
		{"no rows", sql.ErrNoRows, ErrNotFound},
		{"wrapped no rows", fmt.Errorf("get item: %w", sql.ErrNoRows), ErrNotFound},
		{"unique violation", &pq.Error{Code: "23505", Detail: "Key (lower(sku))=(feed) already exists."}, ErrDuplicate},
		{"serialization failure", &pq.Error{Code: "40001"}, ErrConflict},
		{"deadlock", &pq.Error{Code: "40P01"}, ErrConflict},
		{"lock not available", &pq.Error{Code: "55P03"}, ErrConflict},
		{"other pq error", &pq.Error{Code: "42P01"}, nil},
		{"other error", other, other},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := translate(tt.in)
			switch {
			case tt.in == nil:
				assert.NoError(t, got)
			case tt.want == nil:
				assert.Equal(t, tt.in, got)
			default:
				assert.ErrorIs(t, got, tt.want)
			}
		})
	}
}

func TestPageClause(t *testing.T) {
	assert.Equal(t, "", pageClause(3, 0))
	assert.Equal(t, " LIMIT 50 OFFSET 0", pageClause(0, 50))
	assert.Equal(t, " LIMIT 50 OFFSET 100", pageClause(3, 50))
}
