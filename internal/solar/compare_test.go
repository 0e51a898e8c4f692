package solar

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dataset(src Source, metric string, from, to int, v float64) *SolarDataset {
	ds := &SolarDataset{Source: src, Annual: map[string]float64{metric: v}}
	for m := from; m <= to; m++ {
		ds.Monthly = append(ds.Monthly, MonthlyEntry{Month: m, Values: map[string]float64{metric: v}})
	}
	return ds
}

func TestCompare_UnionOfMonths(t *testing.T) {
	a := dataset(SourceNREL, "ghi", 1, 6, 5)
	b := dataset(SourceGoogleSolar, MetricFlux, 4, 12, 150)

	res := Compare(a, b)
	require.Len(t, res.Entries, 12)
	for i, e := range res.Entries {
		assert.Equal(t, i+1, e.Month)
		if e.Month <= 6 {
			require.NotNil(t, e.A)
			assert.InDelta(t, 5, *e.A, 1e-9)
		} else {
			assert.Nil(t, e.A)
		}
		if e.Month >= 4 {
			require.NotNil(t, e.B)
			assert.InDelta(t, 5, *e.B, 1e-9)
		} else {
			assert.Nil(t, e.B)
		}
	}
	assert.Equal(t, SourceNREL, res.SourceA)
	assert.Equal(t, SourceGoogleSolar, res.SourceB)
	assert.True(t, res.Approximate)
	assert.Len(t, res.Notes, 1)
	assert.Equal(t, dailyUnit, res.Unit)
}

func TestCompare_ExactWhenBothNREL(t *testing.T) {
	res := Compare(dataset(SourceNREL, "ghi", 1, 12, 4), dataset(SourceNREL, "ghi", 1, 12, 6))
	assert.False(t, res.Approximate)
	assert.Empty(t, res.Notes)
	assert.Len(t, res.Entries, 12)
}

func TestCompare_NilSides(t *testing.T) {
	res := Compare(nil, nil)
	assert.Empty(t, res.Entries)
	assert.NotNil(t, res.Entries)

	res = Compare(nil, dataset(SourceNSRDB, "ghi", 2, 3, 250))
	require.Len(t, res.Entries, 2)
	assert.Nil(t, res.Entries[0].A)
	assert.InDelta(t, 6, *res.Entries[0].B, 1e-9)
}

func TestCompare_Deterministic(t *testing.T) {
	a := dataset(SourceNREL, "ghi", 3, 9, 5)
	b := dataset(SourceNSRDB, "ghi", 1, 5, 200)
	assert.Equal(t, Compare(a, b), Compare(a, b))
}
