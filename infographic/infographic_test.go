package infographic

import (
	"testing"

	"github.com/saiset-co/sai-desa/backend"
)

func TestNewPopulation(t *testing.T) {
	tests := []struct {
		name      string
		stats     *backend.PopulationStats
		ratio     string
		male      int
		female    int
		household string
	}{
		{"balanced village", &backend.PopulationStats{TotalPenduduk: 100, TotalLakiLaki: 60, TotalPerempuan: 40, TotalKK: 25}, "1.5 : 1 (L:P)", 60, 40, "4.0"},
		{"no females", &backend.PopulationStats{TotalPenduduk: 10, TotalLakiLaki: 10, TotalKK: 3}, "-", 100, 0, "3.3"},
		{"empty", &backend.PopulationStats{}, "-", 0, 0, "-"},
		{"rounding", &backend.PopulationStats{TotalPenduduk: 3, TotalLakiLaki: 2, TotalPerempuan: 1, TotalKK: 1}, "2.0 : 1 (L:P)", 67, 33, "3.0"},
		{"nil stats", nil, "-", 0, 0, "-"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewPopulation(tt.stats)
			if p.Ratio != tt.ratio {
				t.Fatalf("ratio = %q, want %q", p.Ratio, tt.ratio)
			}
			if p.MalePercent != tt.male || p.FemalePercent != tt.female {
				t.Fatalf("percent = %d/%d, want %d/%d", p.MalePercent, p.FemalePercent, tt.male, tt.female)
			}
			if p.HouseholdSize != tt.household {
				t.Fatalf("household = %q, want %q", p.HouseholdSize, tt.household)
			}
		})
	}
}

func TestNewBudget(t *testing.T) {
	income := []backend.BudgetEntry{
		{Kategori: "Dana Desa", Anggaran: 800, Realisasi: 400},
		{Kategori: "ADD", Anggaran: 200, Realisasi: 200},
	}
	expense := []backend.BudgetEntry{
		{Kategori: "Pembangunan", Anggaran: 700, Realisasi: 350},
		{Kategori: "Pembangunan", Anggaran: 100},
		{Anggaran: 300},
	}

	b := NewBudget(2024, income, expense)

	if b.Income.Budget != 1000 || b.Expense.Budget != 1100 {
		t.Fatalf("totals = %v / %v", b.Income.Budget, b.Expense.Budget)
	}
	if b.Balance != -100 || b.Surplus {
		t.Fatalf("balance = %v surplus=%v", b.Balance, b.Surplus)
	}
	if b.Income.Realizing != 60 {
		t.Fatalf("income realization = %d", b.Income.Realizing)
	}

	cats := b.Expense.Categories
	if len(cats) != 2 || cats[0].Name != "Pembangunan" || cats[0].Budget != 800 || cats[1].Name != "Lainnya" {
		t.Fatalf("unexpected categories %+v", cats)
	}
	if cats[0].Share != 73 {
		t.Fatalf("share = %d", cats[0].Share)
	}
}

func TestIDMStatus(t *testing.T) {
	tests := []struct {
		score float64
		want  string
	}{
		{0.30, StatusSangatTertinggal},
		{0.4906, StatusSangatTertinggal},
		{0.4907, StatusTertinggal},
		{0.5989, StatusBerkembang},
		{0.7071, StatusBerkembang},
		{0.7072, StatusMaju},
		{0.8155, StatusMandiri},
		{0.95, StatusMandiri},
	}

	for _, tt := range tests {
		if got := IDMStatus(tt.score); got != tt.want {
			t.Fatalf("IDMStatus(%v) = %q, want %q", tt.score, got, tt.want)
		}
	}
}

func TestLatestIDM(t *testing.T) {
	latest, ok := LatestIDM([]backend.IDMScore{{Tahun: 2023, Skor: 0.72}, {Tahun: 2021, Skor: 0.6}})
	if !ok || latest.Tahun != 2023 || latest.Status != StatusMaju {
		t.Fatalf("unexpected latest %+v", latest)
	}

	if _, ok := LatestIDM(nil); ok {
		t.Fatalf("expected no latest for empty series")
	}
}

func TestRupiah(t *testing.T) {
	tests := []struct {
		amount float64
		want   string
	}{
		{1500000, "Rp 1.500.000"},
		{0, "Rp 0"},
		{-2500, "-Rp 2.500"},
		{999.6, "Rp 1.000"},
	}

	for _, tt := range tests {
		if got := Rupiah(tt.amount); got != tt.want {
			t.Fatalf("Rupiah(%v) = %q, want %q", tt.amount, got, tt.want)
		}
	}

	if got := Number(12345); got != "12.345" {
		t.Fatalf("Number = %q", got)
	}
	if got := Decimal(4.25, 1); got != "4,3" && got != "4,2" {
		t.Fatalf("Decimal = %q", got)
	}
}
