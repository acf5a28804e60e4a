package usecases

import (
	"context"
	"io"
	"strings"
	"time"

	"restobot/internal/apperrors"
	"restobot/internal/entities"
	"restobot/internal/repository"
)

// DashboardUsecase backs the restaurant dashboard: tenants, catalog import,
// analytics and usage.
type DashboardUsecase struct {
	tenants        *repository.TenantManager
	config         *repository.ConfigRepository
	catalog        *repository.CatalogRepository
	analytics      *repository.AnalyticsRepository
	usage          *repository.UsageRepository
	forecaster     *DemandForecaster
	handoffMessage string
	now            func() time.Time
}

func NewDashboardUsecase(
	tenants *repository.TenantManager,
	config *repository.ConfigRepository,
	catalog *repository.CatalogRepository,
	analytics *repository.AnalyticsRepository,
	usage *repository.UsageRepository,
	handoffMessage string,
) *DashboardUsecase {
	return &DashboardUsecase{
		tenants:        tenants,
		config:         config,
		catalog:        catalog,
		analytics:      analytics,
		usage:          usage,
		forecaster:     NewDemandForecaster(analytics, catalog),
		handoffMessage: handoffMessage,
		now:            time.Now,
	}
}

// Restaurants (tenant-aware)
func (u *DashboardUsecase) Restaurants(ctx context.Context, ownerID string) ([]entities.Restaurant, error) {
	return u.tenants.ForOwner(ctx, ownerID)
}

// CreateRestaurant provisions a restaurant with an inactive default agent
// and a default escalation scenario.
func (u *DashboardUsecase) CreateRestaurant(ctx context.Context, ownerID string, r *entities.Restaurant) (*entities.Agent, error) {
	r.OwnerID = ownerID
	r.Name = strings.TrimSpace(r.Name)
	if r.Name == "" {
		return nil, apperrors.Invalid("DashboardUsecase.CreateRestaurant", "name is required")
	}
	return u.tenants.Provision(ctx, r, u.handoffMessage)
}

func (u *DashboardUsecase) Restaurant(ctx context.Context, id string) (*entities.Restaurant, error) {
	return u.tenants.Get(ctx, id)
}

func (u *DashboardUsecase) UpdateRestaurant(ctx context.Context, r *entities.Restaurant) error {
	return u.tenants.Update(ctx, r)
}

func (u *DashboardUsecase) OwnsRestaurant(ctx context.Context, restaurantID, userID string) (bool, error) {
	return u.tenants.OwnedBy(ctx, restaurantID, userID)
}

func (u *DashboardUsecase) LinkTelegram(ctx context.Context, restaurantID string, chatID *int64) error {
	return u.tenants.SetTelegramChat(ctx, restaurantID, chatID)
}

func (u *DashboardUsecase) PlatformStats(ctx context.Context) (*repository.PlatformStats, error) {
	return u.tenants.PlatformStats(ctx)
}

// Catalog import
func (u *DashboardUsecase) ImportProducts(ctx context.Context, restaurantID string, csvData io.Reader) (*repository.ImportReport, error) {
	return u.catalog.ImportProductsCSV(ctx, restaurantID, csvData)
}

// AnalyticsOverview is the dashboard's analytics landing data.
type AnalyticsOverview struct {
	Sentiment *entities.SentimentSummary `json:"sentiment"`
	Patterns  []entities.LearningPattern `json:"patterns"`
	Usage     *repository.UsageTotals    `json:"usage"`
	History   []entities.DailyUsage      `json:"history"`
}

func (u *DashboardUsecase) Analytics(ctx context.Context, restaurantID string, days int) (*AnalyticsOverview, error) {
	if days <= 0 || days > 365 {
		days = 30
	}
	since := u.now().AddDate(0, 0, -days)

	sentiment, err := u.analytics.SentimentSummary(ctx, restaurantID, since)
	if err != nil {
		return nil, err
	}
	patterns, err := u.analytics.PatternsForRestaurant(ctx, restaurantID, 20)
	if err != nil {
		return nil, err
	}
	totals, err := u.usage.Totals(ctx, restaurantID)
	if err != nil {
		return nil, err
	}
	history, err := u.usage.History(ctx, restaurantID, days)
	if err != nil {
		return nil, err
	}
	return &AnalyticsOverview{Sentiment: sentiment, Patterns: patterns, Usage: totals, History: history}, nil
}

func (u *DashboardUsecase) Forecast(ctx context.Context, restaurantID string, window, horizon int) ([]entities.DemandForecast, error) {
	return u.forecaster.Forecast(ctx, restaurantID, window, horizon)
}

// A/B tests (agent scoped)
func (u *DashboardUsecase) agent(ctx context.Context, restaurantID, agentID string) error {
	_, err := u.config.Agents.Get(ctx, restaurantID, agentID)
	return err
}

func (u *DashboardUsecase) Tests(ctx context.Context, restaurantID, agentID string) ([]entities.ABTest, error) {
	if err := u.agent(ctx, restaurantID, agentID); err != nil {
		return nil, err
	}
	return u.analytics.TestsForAgent(ctx, agentID)
}

func (u *DashboardUsecase) CreateTest(ctx context.Context, restaurantID string, test *entities.ABTest, variants []entities.ABTestVariant) error {
	op := "DashboardUsecase.CreateTest"
	if err := u.agent(ctx, restaurantID, test.AgentID); err != nil {
		return err
	}
	if len(variants) < 2 {
		return apperrors.Invalid(op, "a test needs at least two variants")
	}
	var weight float64
	for _, v := range variants {
		if v.Weight < 0 {
			return apperrors.Invalid(op, "variant weight cannot be negative")
		}
		weight += v.Weight
	}
	if weight <= 0 {
		return apperrors.Invalid(op, "at least one variant needs weight")
	}
	return u.analytics.CreateTest(ctx, test, variants)
}

func (u *DashboardUsecase) testOf(ctx context.Context, restaurantID, agentID, testID string) error {
	tests, err := u.Tests(ctx, restaurantID, agentID)
	if err != nil {
		return err
	}
	for _, t := range tests {
		if t.ID == testID {
			return nil
		}
	}
	return apperrors.NotFound("DashboardUsecase.testOf", "ab test")
}

func (u *DashboardUsecase) SetTestRunning(ctx context.Context, restaurantID, agentID, testID string, running bool) error {
	if err := u.testOf(ctx, restaurantID, agentID, testID); err != nil {
		return err
	}
	return u.analytics.SetTestRunning(ctx, testID, running)
}

func (u *DashboardUsecase) TestResults(ctx context.Context, restaurantID, agentID, testID string) ([]entities.VariantStats, error) {
	if err := u.testOf(ctx, restaurantID, agentID, testID); err != nil {
		return nil, err
	}
	return u.analytics.VariantStats(ctx, testID)
}
