package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/leadcrawler/internal/crawler"
)

func newMockStore(t *testing.T) (*LeadStore, pgxmock.PgxPoolIface, time.Time) {
	t.Helper()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	store, err := NewWithPool(mock, "leads")
	require.NoError(t, err)
	now := time.Unix(1700000000, 0).UTC()
	store.now = func() time.Time { return now }
	return store, mock, now
}

func TestStoreLeadsUpsertsInTransaction(t *testing.T) {
	t.Parallel()

	store, mock, now := newMockStore(t)
	rating := 4.5
	leads := []crawler.Lead{
		{Name: "Acme", Address: "1 Main St", Phone: "555", Rating: &rating, Source: crawler.SourceMapListing,
			SourceContext: "q1", RawPayload: []byte(`{"name":"Acme"}`)},
		{Name: "Sam", Email: "s@x.io", Source: crawler.SourceGroupPost, SourceContext: "https://g/1"},
	}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO leads").
		WithArgs("map_listing", "acme\x1f1 Main St", "run-1", "Acme", "", "555", "", "1 Main St", "",
			&rating, (*int)(nil), "q1", []byte(`{"name":"Acme"}`), now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("ON CONFLICT \\(source, dedupe_key\\)").
		WithArgs("group_post", "sam\x1fhttps://g/1", "run-1", "Sam", "s@x.io", "", "", "", "",
			(*float64)(nil), (*int)(nil), "https://g/1", []byte(nil), now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	require.NoError(t, store.StoreLeads(context.Background(), "run-1", leads))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreLeadsRollsBackOnError(t *testing.T) {
	t.Parallel()

	store, mock, _ := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO leads").WillReturnError(errors.New("constraint"))
	mock.ExpectRollback()

	err := store.StoreLeads(context.Background(), "run-1", []crawler.Lead{{Name: "Acme"}})
	require.ErrorContains(t, err, "upsert lead")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreLeadsEmptyIsNoop(t *testing.T) {
	t.Parallel()

	store, mock, _ := newMockStore(t)
	require.NoError(t, store.StoreLeads(context.Background(), "run-1", nil))
	require.NoError(t, mock.ExpectationsWereMet())
	require.Equal(t, "postgres", store.Name())
}

func TestNewWithPoolValidation(t *testing.T) {
	t.Parallel()

	_, err := NewWithPool(nil, "")
	require.Error(t, err)

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	_, err = NewWithPool(mock, "leads; DROP TABLE x")
	require.Error(t, err)

	_, err = New(context.Background(), Config{})
	require.Error(t, err)
}
