package infographic

import (
	"fmt"
	"math"

	"github.com/saiset-co/sai-desa/backend"
)

const noRatio = "-"

type Population struct {
	Total         int
	Male          int
	Female        int
	Households    int
	Ratio         string
	MalePercent   int
	FemalePercent int
	HouseholdSize string
}

// NewPopulation derives the displayed figures from the backend statistics.
func NewPopulation(stats *backend.PopulationStats) Population {
	if stats == nil {
		return Population{Ratio: noRatio, HouseholdSize: noRatio}
	}

	return Population{
		Total:         stats.TotalPenduduk,
		Male:          stats.TotalLakiLaki,
		Female:        stats.TotalPerempuan,
		Households:    stats.TotalKK,
		Ratio:         SexRatio(stats.TotalLakiLaki, stats.TotalPerempuan),
		MalePercent:   Percent(stats.TotalLakiLaki, stats.TotalPenduduk),
		FemalePercent: Percent(stats.TotalPerempuan, stats.TotalPenduduk),
		HouseholdSize: HouseholdSize(stats.TotalPenduduk, stats.TotalKK),
	}
}

// SexRatio formats male per female as "1.5 : 1 (L:P)".
func SexRatio(male, female int) string {
	if female <= 0 {
		return noRatio
	}
	return fmt.Sprintf("%.1f : 1 (L:P)", float64(male)/float64(female))
}

// Percent is part/total rounded to a whole percent, 0 for an empty total.
func Percent(part, total int) int {
	if total <= 0 {
		return 0
	}
	return int(math.Round(float64(part) * 100 / float64(total)))
}

func HouseholdSize(total, households int) string {
	if households <= 0 {
		return noRatio
	}
	return fmt.Sprintf("%.1f", float64(total)/float64(households))
}
