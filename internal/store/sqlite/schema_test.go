package sqlite

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/maloquacious/roasteries/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// oldSchema is the table as first shipped, before website, region and starred.
const oldSchema = `
CREATE TABLE roasteries (
    name TEXT PRIMARY KEY,
    purchased INTEGER DEFAULT 0,
    has_espresso INTEGER DEFAULT 0,
    comment TEXT DEFAULT '',
    quality_rating INTEGER DEFAULT 0,
    price_rating INTEGER DEFAULT 0,
    service_rating INTEGER DEFAULT 0
);
INSERT INTO roasteries (name, purchased, comment, quality_rating) VALUES ('akevator kaffe', 1, 'misspelled', 3);
INSERT INTO roasteries (name, has_espresso, comment) VALUES ('Amokka', 1, 'kept');
`

// oldSnapshot returns the image of a database created by an older version.
func oldSnapshot(t *testing.T, ddl string) []byte {
	t.Helper()
	ctx := context.Background()
	s, err := Open(ctx, nil)
	require.NoError(t, err)
	defer s.Close()

	_, err = s.db.ExecContext(ctx, ddl)
	require.NoError(t, err)

	image, err := s.Export(ctx)
	require.NoError(t, err)
	return image
}

func TestEnsureSchemaFresh(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, nil)
	require.NoError(t, err)
	defer s.Close()

	state, err := s.CheckState(ctx)
	require.NoError(t, err)
	assert.Equal(t, store.StateMissing, state)

	report, err := s.EnsureSchema(ctx, testNames)
	require.NoError(t, err)
	assert.True(t, report.Created)
	assert.Equal(t, len(testNames), report.Seeded)
	assert.Empty(t, report.Failures)

	records, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, records, len(testNames))
	for _, r := range records {
		assert.Equal(t, store.DefaultRecord(r.Name), r)
	}

	got, err := s.Get(ctx, "Coffee Collective")
	require.NoError(t, err)
	assert.False(t, got.Purchased)
	assert.False(t, got.Starred)
	assert.Equal(t, "", got.Comment)

	state, err = s.CheckState(ctx)
	require.NoError(t, err)
	assert.Equal(t, store.StateReady, state)
}

func TestEnsureSchemaIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Set(ctx, "Amokka", store.SetStarred(true)))

	before, err := s.List(ctx)
	require.NoError(t, err)
	colsBefore, err := s.Columns(ctx)
	require.NoError(t, err)

	report, err := s.EnsureSchema(ctx, testNames)
	require.NoError(t, err)
	assert.False(t, report.Created)
	assert.Zero(t, report.Seeded)
	assert.Empty(t, report.AddedColumns)
	assert.Empty(t, report.Renamed)
	assert.Empty(t, report.Failures)

	after, err := s.List(ctx)
	require.NoError(t, err)
	colsAfter, err := s.Columns(ctx)
	require.NoError(t, err)

	if diff := cmp.Diff(before, after); diff != "" {
		t.Errorf("records changed (-before +after):\n%s", diff)
	}
	assert.Equal(t, colsBefore, colsAfter)
	assert.Equal(t, columns, colsAfter)
}

func TestEnsureSchemaMigratesOldSnapshot(t *testing.T) {
	ctx := context.Background()
	s, err := OpenSnapshot(ctx, oldSnapshot(t, oldSchema), nil)
	require.NoError(t, err)
	defer s.Close()

	state, err := s.CheckState(ctx)
	require.NoError(t, err)
	assert.Equal(t, store.StateOutdated, state)

	names := []string{"Aekvator kaffe", "Amokka", "Coffee Collective"}
	report, err := s.EnsureSchema(ctx, names)
	require.NoError(t, err)
	assert.Equal(t, []string{"website", "region", "starred"}, report.AddedColumns)
	assert.Equal(t, []string{"akevator kaffe"}, report.Renamed)
	assert.Equal(t, 1, report.Seeded)
	assert.Empty(t, report.Failures)

	cols, err := s.Columns(ctx)
	require.NoError(t, err)
	assert.Equal(t, columns, cols)

	got, err := s.Get(ctx, "Aekvator kaffe")
	require.NoError(t, err)
	assert.Equal(t, store.Record{Name: "Aekvator kaffe", Purchased: true, Comment: "misspelled", QualityRating: 3}, got)

	got, err = s.Get(ctx, "Amokka")
	require.NoError(t, err)
	assert.Equal(t, store.Record{Name: "Amokka", HasEspresso: true, Comment: "kept"}, got)

	records, err := s.List(ctx)
	require.NoError(t, err)
	assert.Len(t, records, 3)

	state, err = s.CheckState(ctx)
	require.NoError(t, err)
	assert.Equal(t, store.StateReady, state)
}

func TestEnsureSchemaPartiallyMigrated(t *testing.T) {
	ctx := context.Background()
	ddl := oldSchema + `ALTER TABLE roasteries ADD COLUMN website TEXT DEFAULT '';`
	s, err := OpenSnapshot(ctx, oldSnapshot(t, ddl), nil)
	require.NoError(t, err)
	defer s.Close()

	report, err := s.EnsureSchema(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"region", "starred"}, report.AddedColumns)
	assert.Empty(t, report.Failures)
}

func TestEnsureSchemaRenameSkippedWhenTargetExists(t *testing.T) {
	ctx := context.Background()
	ddl := oldSchema + `INSERT INTO roasteries (name, comment) VALUES ('Aekvator kaffe', 'correct');`
	s, err := OpenSnapshot(ctx, oldSnapshot(t, ddl), nil)
	require.NoError(t, err)
	defer s.Close()

	report, err := s.EnsureSchema(ctx, []string{"Aekvator kaffe"})
	require.NoError(t, err)
	assert.Empty(t, report.Renamed)
	assert.Empty(t, report.Failures)

	got, err := s.Get(ctx, "Aekvator kaffe")
	require.NoError(t, err)
	assert.Equal(t, "correct", got.Comment)

	old, err := s.Get(ctx, "akevator kaffe")
	require.NoError(t, err)
	assert.Equal(t, "misspelled", old.Comment)
}

func TestSeedIsAdditiveOnly(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, nil)
	require.NoError(t, err)
	defer s.Close()

	_, err = s.EnsureSchema(ctx, []string{"X"})
	require.NoError(t, err)
	require.NoError(t, s.Set(ctx, "X", store.SetStarred(true)))

	report, err := s.EnsureSchema(ctx, []string{"X", "Y"})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Seeded)

	x, err := s.Get(ctx, "X")
	require.NoError(t, err)
	assert.Equal(t, store.Record{Name: "X", Starred: true}, x)

	y, err := s.Get(ctx, "Y")
	require.NoError(t, err)
	assert.Equal(t, store.DefaultRecord("Y"), y)
}

func TestEnsureSchemaMigrationFailureIsNotFatal(t *testing.T) {
	ctx := context.Background()
	// Column names are case-insensitive in SQLite, so "Website" is not seen by
	// the table info check but makes ADD COLUMN website fail.
	ddl := `
CREATE TABLE roasteries (
    name TEXT PRIMARY KEY,
    purchased INTEGER DEFAULT 0,
    has_espresso INTEGER DEFAULT 0,
    comment TEXT DEFAULT '',
    quality_rating INTEGER DEFAULT 0,
    price_rating INTEGER DEFAULT 0,
    service_rating INTEGER DEFAULT 0,
    Website TEXT DEFAULT ''
);`
	s, err := OpenSnapshot(ctx, oldSnapshot(t, ddl), nil)
	require.NoError(t, err)
	defer s.Close()

	report, err := s.EnsureSchema(ctx, []string{"Amokka"})
	require.NoError(t, err)

	require.Len(t, report.Failures, 1)
	assert.ErrorIs(t, report.Failures[0], store.ErrMigrationStepFailed)
	assert.Equal(t, []string{"region", "starred"}, report.AddedColumns)
	assert.Equal(t, 1, report.Seeded)
}
