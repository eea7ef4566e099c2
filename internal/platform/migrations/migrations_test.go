package migrations

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpFilesOrdered(t *testing.T) {
	names, err := UpFiles()
	require.NoError(t, err)
	require.Len(t, names, 6)
	assert.Equal(t, "0001_profiles.up.sql", names[0])
	assert.Equal(t, "0006_invoices_draws.up.sql", names[len(names)-1])
	for i := 1; i < len(names); i++ {
		assert.Less(t, names[i-1], names[i])
	}
}

func TestApplyRunsEachFileOnce(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	names, err := UpFiles()
	require.NoError(t, err)
	for range names {
		mock.ExpectExec("CREATE").WillReturnResult(sqlmock.NewResult(0, 0))
	}

	require.NoError(t, Apply(context.Background(), db))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyNamesFailingFile(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	mock.ExpectExec("CREATE").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE").WillReturnError(errors.New("relation exists"))

	err = Apply(context.Background(), db)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "0002_contracts.up.sql")
	assert.Contains(t, err.Error(), "relation exists")
}

func TestDownMigrationsPresent(t *testing.T) {
	names, err := UpFiles()
	require.NoError(t, err)
	for _, name := range names {
		down := strings.Replace(name, ".up.", ".down.", 1)
		body, err := files.ReadFile("sql/" + down)
		require.NoErrorf(t, err, "missing %s", down)
		assert.Contains(t, strings.ToUpper(string(body)), "DROP", down)
	}
}
