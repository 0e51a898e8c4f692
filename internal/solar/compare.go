package solar

import "sort"

// Compare aligns two datasets month by month in kWh/m²/day. Either side may
// be nil. The result lists the union of months present on either side in
// ascending order; a side without a value for that month is nil.
func Compare(a, b *SolarDataset) ComparisonResult {
	res := ComparisonResult{Unit: dailyUnit, Entries: []AlignedMonth{}}

	sideA, noteA, approxA := reconciledMonthly(a)
	sideB, noteB, approxB := reconciledMonthly(b)
	if a != nil {
		res.SourceA = a.Source
	}
	if b != nil {
		res.SourceB = b.Source
	}
	res.Approximate = approxA || approxB
	for _, n := range []string{noteA, noteB} {
		if n != "" {
			res.Notes = append(res.Notes, n)
		}
	}

	months := make([]int, 0, 12)
	seen := make(map[int]bool, 12)
	for _, side := range []map[int]float64{sideA, sideB} {
		for m := range side {
			if !seen[m] {
				seen[m] = true
				months = append(months, m)
			}
		}
	}
	sort.Ints(months)

	for _, m := range months {
		entry := AlignedMonth{Month: m}
		if v, ok := sideA[m]; ok {
			entry.A = &v
		}
		if v, ok := sideB[m]; ok {
			entry.B = &v
		}
		res.Entries = append(res.Entries, entry)
	}
	return res
}

func reconciledMonthly(ds *SolarDataset) (map[int]float64, string, bool) {
	if ds == nil {
		return nil, "", false
	}
	p, err := profileFor(ds.Source)
	if err != nil {
		return nil, "", false
	}
	out := make(map[int]float64, len(ds.Monthly))
	for _, e := range ds.Monthly {
		if e.Month < 1 || e.Month > 12 {
			continue
		}
		if v, ok := e.Values[p.MonthlyMetric]; ok {
			out[e.Month] = v * p.MonthlyToDaily
		}
	}
	return out, p.Note, p.Approximate
}
