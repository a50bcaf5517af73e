package infographic

import (
	"sort"

	"github.com/saiset-co/sai-desa/backend"
)

const (
	StatusSangatTertinggal = "Sangat Tertinggal"
	StatusTertinggal       = "Tertinggal"
	StatusBerkembang       = "Berkembang"
	StatusMaju             = "Maju"
	StatusMandiri          = "Mandiri"
)

var idmThresholds = []struct {
	min    float64
	status string
}{
	{0.8155, StatusMandiri},
	{0.7072, StatusMaju},
	{0.5989, StatusBerkembang},
	{0.4907, StatusTertinggal},
}

// IDMStatus maps a composite village development index to its category.
func IDMStatus(score float64) string {
	for _, t := range idmThresholds {
		if score >= t.min {
			return t.status
		}
	}
	return StatusSangatTertinggal
}

// IDMSeries returns scores oldest first with the status filled in from the
// score when the backend left it empty.
func IDMSeries(scores []backend.IDMScore) []backend.IDMScore {
	out := make([]backend.IDMScore, len(scores))
	copy(out, scores)

	for i := range out {
		if out[i].Status == "" {
			out[i].Status = IDMStatus(out[i].Skor)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Tahun < out[j].Tahun })
	return out
}

// LatestIDM returns the most recent year, or false when there is none.
func LatestIDM(scores []backend.IDMScore) (backend.IDMScore, bool) {
	series := IDMSeries(scores)
	if len(series) == 0 {
		return backend.IDMScore{}, false
	}
	return series[len(series)-1], true
}
