package aggregation

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeResult int64

func (r fakeResult) LastInsertId() (int64, error) { return 0, nil }
func (r fakeResult) RowsAffected() (int64, error) { return int64(r), nil }

type fakeExecer struct {
	query string
	args  []interface{}
	rows  int64
	err   error
}

func (f *fakeExecer) ExecContext(_ context.Context, query string, args ...interface{}) (sql.Result, error) {
	f.query = query
	f.args = args
	if f.err != nil {
		return nil, f.err
	}
	return fakeResult(f.rows), nil
}

type fakeCache struct {
	calls int
	err   error
}

func (c *fakeCache) Invalidate(context.Context) error {
	c.calls++
	return c.err
}

func TestHourlyAggregator_Refresh(t *testing.T) {
	db := &fakeExecer{rows: 12}
	cache := &fakeCache{}
	agg := NewHourlyAggregator(db, cache, nil)
	fixed := time.Date(2016, 3, 14, 10, 0, 0, 0, time.UTC)
	agg.now = func() time.Time { return fixed }

	groups, err := agg.Refresh(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(12), groups)
	assert.Contains(t, db.query, "ON CONFLICT (pickup_weekday, pickup_hour) DO UPDATE")
	assert.Equal(t, []interface{}{fixed}, db.args)
	assert.Equal(t, 1, cache.calls)
}

func TestHourlyAggregator_RefreshError(t *testing.T) {
	cache := &fakeCache{}
	agg := NewHourlyAggregator(&fakeExecer{err: errors.New("connection refused")}, cache, nil)

	_, err := agg.Refresh(context.Background())
	assert.ErrorContains(t, err, "failed to refresh hourly summary")
	assert.Zero(t, cache.calls)
}

func TestHourlyAggregator_CacheFailureIsNotFatal(t *testing.T) {
	agg := NewHourlyAggregator(&fakeExecer{rows: 1}, &fakeCache{err: errors.New("redis down")}, nil)

	groups, err := agg.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), groups)
}

func TestHourlyAggregator_NilCache(t *testing.T) {
	agg := NewHourlyAggregator(&fakeExecer{rows: 3}, nil, nil)

	_, err := agg.Refresh(context.Background())
	assert.NoError(t, err)
}
