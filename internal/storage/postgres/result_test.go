package postgres

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type brokenResult struct{}

func (brokenResult) LastInsertId() (int64, error) { return 0, nil }
func (brokenResult) RowsAffected() (int64, error) { return 0, errors.New("driver lost the count") }

type countResult int64

func (countResult) LastInsertId() (int64, error)   { return 0, nil }
func (c countResult) RowsAffected() (int64, error) { return int64(c), nil }

func TestRequireRow(t *testing.T) {
	r := &SessionRepository{}

	err := r.requireRow(context.Background(), brokenResult{}, uuid.New())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "driver lost the count")

	assert.NoError(t, r.requireRow(context.Background(), countResult(1), uuid.New()))
}
