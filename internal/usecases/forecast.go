package usecases

import (
	"context"
	"math"
	"sort"
	"time"

	"restobot/internal/entities"
)

type SalesSource interface {
	DailyQuantities(ctx context.Context, restaurantID string, since time.Time) ([]entities.DailyQuantity, error)
}

type InventorySource interface {
	Inventory(ctx context.Context, restaurantID string) ([]entities.Product, error)
}

// DemandForecaster projects per-product demand from recent daily sales.
type DemandForecaster struct {
	sales   SalesSource
	catalog InventorySource
	now     func() time.Time
}

func NewDemandForecaster(sales SalesSource, catalog InventorySource) *DemandForecaster {
	return &DemandForecaster{sales: sales, catalog: catalog, now: time.Now}
}

// Forecast fits a line to the last window days of sales for every available
// product and projects the next horizon days.
func (f *DemandForecaster) Forecast(ctx context.Context, restaurantID string, window, horizon int) ([]entities.DemandForecast, error) {
	if window < 2 {
		window = 28
	}
	if horizon < 1 {
		horizon = 7
	}
	today := f.now().UTC().Truncate(24 * time.Hour)
	since := today.AddDate(0, 0, -(window - 1))

	rows, err := f.sales.DailyQuantities(ctx, restaurantID, since)
	if err != nil {
		return nil, err
	}
	products, err := f.catalog.Inventory(ctx, restaurantID)
	if err != nil {
		return nil, err
	}

	series := map[string][]float64{}
	for _, p := range products {
		series[p.ID] = make([]float64, window)
	}
	for _, r := range rows {
		s, ok := series[r.ProductID]
		if !ok {
			continue
		}
		day := int(r.Day.UTC().Truncate(24*time.Hour).Sub(since).Hours() / 24)
		if day >= 0 && day < window {
			s[day] += float64(r.Quantity)
		}
	}

	out := make([]entities.DemandForecast, 0, len(products))
	for _, p := range products {
		slope, intercept := LinearFit(series[p.ID])
		projected := make([]float64, horizon)
		var total float64
		for i := range projected {
			v := math.Max(0, intercept+slope*float64(window+i))
			projected[i] = math.Round(v*100) / 100
			total += v
		}
		out = append(out, entities.DemandForecast{
			ProductID:    p.ID,
			ProductName:  p.Name,
			Slope:        slope,
			Intercept:    intercept,
			Forecast:     projected,
			CurrentStock: p.Stock,
			Restock:      total > float64(p.Stock),
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ProductName < out[j].ProductName })
	return out, nil
}

// LinearFit is an ordinary least squares fit of ys against 0..n-1.
func LinearFit(ys []float64) (slope, intercept float64) {
	n := float64(len(ys))
	if n == 0 {
		return 0, 0
	}
	var sumX, sumY, sumXY, sumXX float64
	for i, y := range ys {
		x := float64(i)
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}
	den := n*sumXX - sumX*sumX
	if den == 0 {
		return 0, sumY / n
	}
	slope = (n*sumXY - sumX*sumY) / den
	intercept = (sumY - slope*sumX) / n
	return slope, intercept
}
