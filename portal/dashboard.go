package portal

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/saiset-co/sai-desa/backend"
	"github.com/saiset-co/sai-desa/infographic"
)

type Dashboard struct {
	Year              int
	Population        infographic.Population
	Articles          int
	Published         int
	Complaints        int
	PendingComplaints int
	Budget            infographic.Budget
	LatestComplaints  []backend.Complaint
}

// Dashboard loads every figure of the admin overview concurrently. Any
// failing call fails the whole overview.
func (s *State) Dashboard(ctx context.Context, api *backend.API, year int) (*Dashboard, error) {
	var (
		stats      *backend.PopulationStats
		articles   []backend.Article
		complaints []backend.Complaint
		income     []backend.BudgetEntry
		expense    []backend.BudgetEntry
	)

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() (err error) {
		stats, err = api.PopulationStats(gCtx)
		return err
	})
	g.Go(func() (err error) {
		articles, err = api.Articles(gCtx)
		return err
	})
	g.Go(func() (err error) {
		complaints, err = api.Complaints(gCtx)
		return err
	})
	g.Go(func() (err error) {
		income, err = api.Income(gCtx, year)
		return err
	})
	g.Go(func() (err error) {
		expense, err = api.Expense(gCtx, year)
		return err
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}

	d := &Dashboard{
		Year:       year,
		Population: infographic.NewPopulation(stats),
		Articles:   len(articles),
		Complaints: len(complaints),
		Budget:     infographic.NewBudget(year, income, expense),
	}

	for _, a := range articles {
		if a.Status == "published" {
			d.Published++
		}
	}
	for _, c := range complaints {
		if c.Status == "" || c.Status == "pending" || c.Status == "baru" {
			d.PendingComplaints++
		}
	}

	d.LatestComplaints = complaints
	if len(d.LatestComplaints) > 5 {
		d.LatestComplaints = d.LatestComplaints[:5]
	}

	return d, nil
}
