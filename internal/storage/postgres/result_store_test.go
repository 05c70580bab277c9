package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/sitemap-bot/internal/crawler"
	"github.com/JakeFAU/sitemap-bot/internal/store"
)

func TestRecordResultInsertsRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	rs, err := NewWithPool(mock, "")
	require.NoError(t, err)

	finished := time.Unix(1700000000, 0).UTC()
	res := crawler.CrawlResult{
		JobID:          "job-1",
		RootURL:        "https://example.com",
		RequestingUser: "U123",
		OutputFileName: "example.com.sitemap.xml",
		Location:       "https://storage.googleapis.com/maps/sitemap/example.com.sitemap.xml",
		Outcome:        crawler.OutcomeSucceeded,
		Elapsed:        1500 * time.Millisecond,
		FinishedAt:     finished,
	}
	location := res.Location

	mock.ExpectExec("INSERT INTO crawl_results").
		WithArgs(
			res.JobID,
			res.RootURL,
			res.RequestingUser,
			res.OutputFileName,
			&location,
			"succeeded",
			int64(1500),
			finished,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, rs.RecordResult(context.Background(), res))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordResultFailureHasNullLocation(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	rs, err := NewWithPool(mock, "sitemap_results")
	require.NoError(t, err)

	res := crawler.CrawlResult{
		JobID:   "job-2",
		RootURL: "https://example.com",
		Outcome: crawler.OutcomeCrawlFailed,
	}
	mock.ExpectExec("INSERT INTO sitemap_results").
		WithArgs("job-2", "https://example.com", "", "", (*string)(nil), "crawl_failed", int64(0), time.Time{}).
		WillReturnError(errors.New("db down"))

	err = rs.RecordResult(context.Background(), res)
	require.Error(t, err)
	require.Contains(t, err.Error(), "insert crawl result")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewWithPoolValidation(t *testing.T) {
	t.Parallel()

	_, err := NewWithPool(nil, "x")
	require.Error(t, err)

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	_, err = NewWithPool(mock, "bad;table")
	require.Error(t, err)

	rs, err := NewWithPool(mock, "ok_table")
	require.NoError(t, err)
	require.Error(t, rs.RecordResult(context.Background(), crawler.CrawlResult{}))
}

var resultColumns = []string{
	"job_id", "root_url", "requesting_user", "output_file_name",
	"location", "outcome", "elapsed_ms", "finished_at",
}

func TestGetResult(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	rs, err := NewWithPool(mock, "")
	require.NoError(t, err)

	finished := time.Unix(1700000000, 0).UTC()
	loc := "memory://sitemap/example.com.sitemap.xml"
	mock.ExpectQuery("SELECT job_id, root_url").
		WithArgs("job-1").
		WillReturnRows(mock.NewRows(resultColumns).
			AddRow("job-1", "https://example.com", "U1", "example.com.sitemap.xml", &loc, "succeeded", int64(2500), finished))

	got, err := rs.GetResult(context.Background(), "job-1")
	require.NoError(t, err)
	require.Equal(t, crawler.CrawlResult{
		JobID:          "job-1",
		RootURL:        "https://example.com",
		RequestingUser: "U1",
		OutputFileName: "example.com.sitemap.xml",
		Location:       loc,
		Outcome:        crawler.OutcomeSucceeded,
		Elapsed:        2500 * time.Millisecond,
		FinishedAt:     finished,
	}, got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetResultNotFound(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	rs, err := NewWithPool(mock, "")
	require.NoError(t, err)

	mock.ExpectQuery("SELECT job_id").WithArgs("missing").WillReturnError(pgx.ErrNoRows)

	_, err = rs.GetResult(context.Background(), "missing")
	require.ErrorIs(t, err, store.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListResultsAppliesFilters(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	rs, err := NewWithPool(mock, "")
	require.NoError(t, err)

	finished := time.Unix(1700000000, 0).UTC()
	mock.ExpectQuery(`FROM crawl_results WHERE outcome = \$1 AND root_url = \$2 ORDER BY finished_at DESC LIMIT \$3 OFFSET \$4`).
		WithArgs("crawl_failed", "https://example.com", 10, 5).
		WillReturnRows(mock.NewRows(resultColumns).
			AddRow("job-9", "https://example.com", "U1", "example.com.sitemap.xml", nil, "crawl_failed", int64(10), finished))

	got, err := rs.ListResults(context.Background(), store.ResultFilter{
		Outcome: crawler.OutcomeCrawlFailed,
		RootURL: "https://example.com",
		Limit:   10,
		Offset:  5,
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "job-9", got[0].JobID)
	require.Empty(t, got[0].Location)
	require.Equal(t, crawler.OutcomeCrawlFailed, got[0].Outcome)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListResultsDefaultsLimit(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	rs, err := NewWithPool(mock, "")
	require.NoError(t, err)

	mock.ExpectQuery(`FROM crawl_results ORDER BY finished_at DESC LIMIT \$1 OFFSET \$2`).
		WithArgs(50, 0).
		WillReturnError(errors.New("db down"))

	_, err = rs.ListResults(context.Background(), store.ResultFilter{})
	require.ErrorContains(t, err, "list crawl results")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPing(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	rs, err := NewWithPool(mock, "")
	require.NoError(t, err)

	mock.ExpectExec("SELECT 1").WillReturnResult(pgxmock.NewResult("SELECT", 1))
	require.NoError(t, rs.Ping(context.Background()))

	mock.ExpectExec("SELECT 1").WillReturnError(errors.New("down"))
	require.ErrorContains(t, rs.Ping(context.Background()), "ping results database")
	require.NoError(t, mock.ExpectationsWereMet())
}
