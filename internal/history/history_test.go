package history

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestFacility(t *testing.T) *Facility {
	s := New(t.TempDir(), zap.NewNop().Sugar())
	f, err := s.Get("dev1")
	require.Nil(t, err)
	return f
}

func record(at time.Time) Record {
	return Record{
		Timestamp: at,
		XML: `<obj is="obix:HistoryRecord"><abstime name="timestamp" val="` +
			at.Format(timeLayout) + `"/></obj>`,
	}
}

func TestGetIsIdempotent(t *testing.T) {
	assert := require.New(t)
	s := New(t.TempDir(), zap.NewNop().Sugar())

	f1, err := s.Get("dev1")
	assert.Nil(err)
	f2, err := s.Get("dev1")
	assert.Nil(err)
	assert.Same(f1, f2)
}

func TestAppendRejectsOutOfOrderTimestamp(t *testing.T) {
	assert := require.New(t)
	f := newTestFacility(t)

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	_, err := f.Append([]Record{record(base)})
	assert.Nil(err)

	_, err = f.Append([]Record{record(base.Add(-time.Minute))})
	assert.NotNil(err)
}

func TestAppendAccumulatesAcrossDays(t *testing.T) {
	assert := require.New(t)
	f := newTestFacility(t)

	day1 := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	day2 := time.Date(2026, 1, 2, 12, 0, 0, 0, time.UTC)

	res, err := f.Append([]Record{record(day1)})
	assert.Nil(err)
	assert.Equal(1, res.NewCount)

	res, err = f.Append([]Record{record(day2)})
	assert.Nil(err)
	assert.Equal(2, res.NewCount)
	assert.Len(f.fragments, 2)
}

func TestQueryReturnsAppendedRecords(t *testing.T) {
	assert := require.New(t)
	f := newTestFacility(t)

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		_, err := f.Append([]Record{record(base.Add(time.Duration(i) * time.Hour))})
		assert.Nil(err)
	}

	result, err := f.Query(Filter{Limit: -1})
	assert.Nil(err)
	assert.Equal(3, result.Count)
	assert.Greater(result.Body.Len(), int64(0))
}

func TestQueryLimitZeroReturnsHeaderOnly(t *testing.T) {
	assert := require.New(t)
	f := newTestFacility(t)

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	_, err := f.Append([]Record{record(base)})
	assert.Nil(err)

	result, err := f.Query(Filter{Limit: 0})
	assert.Nil(err)
	assert.Zero(result.Count)
	assert.Zero(result.Body.Len())
}

func TestQueryEmptyFacilityReturnsEpoch(t *testing.T) {
	assert := require.New(t)
	f := newTestFacility(t)

	result, err := f.Query(Filter{Limit: -1})
	assert.Nil(err)
	assert.Zero(result.Count)
	assert.Equal(1970, result.Start.Year())
}
