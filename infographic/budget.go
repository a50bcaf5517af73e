package infographic

import (
	"math"
	"sort"

	"github.com/saiset-co/sai-desa/backend"
)

type Category struct {
	Name      string
	Budget    float64
	Realized  float64
	Share     int
	Realizing int
}

type Ledger struct {
	Budget     float64
	Realized   float64
	Realizing  int
	Categories []Category
}

type Budget struct {
	Year    int
	Income  Ledger
	Expense Ledger
	Balance float64
	Surplus bool
}

// NewBudget totals the APBDesa lines of one year. Balance compares budgeted
// income against budgeted expense.
func NewBudget(year int, income, expense []backend.BudgetEntry) Budget {
	b := Budget{
		Year:    year,
		Income:  newLedger(income),
		Expense: newLedger(expense),
	}
	b.Balance = b.Income.Budget - b.Expense.Budget
	b.Surplus = b.Balance >= 0

	return b
}

func newLedger(entries []backend.BudgetEntry) Ledger {
	byName := make(map[string]*Category)
	var ledger Ledger

	for _, e := range entries {
		name := e.Kategori
		if name == "" {
			name = "Lainnya"
		}

		c, ok := byName[name]
		if !ok {
			c = &Category{Name: name}
			byName[name] = c
		}

		c.Budget += e.Anggaran
		c.Realized += e.Realisasi
		ledger.Budget += e.Anggaran
		ledger.Realized += e.Realisasi
	}

	for _, c := range byName {
		c.Share = sharePercent(c.Budget, ledger.Budget)
		c.Realizing = sharePercent(c.Realized, c.Budget)
		ledger.Categories = append(ledger.Categories, *c)
	}

	sort.Slice(ledger.Categories, func(i, j int) bool {
		if ledger.Categories[i].Budget == ledger.Categories[j].Budget {
			return ledger.Categories[i].Name < ledger.Categories[j].Name
		}
		return ledger.Categories[i].Budget > ledger.Categories[j].Budget
	})

	ledger.Realizing = sharePercent(ledger.Realized, ledger.Budget)
	return ledger
}

func sharePercent(part, total float64) int {
	if total <= 0 {
		return 0
	}
	return int(math.Round(part * 100 / total))
}
