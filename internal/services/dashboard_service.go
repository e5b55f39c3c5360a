package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/seoulthread/api/internal/repositories"
)

var (
	// ErrDashboardInvalidInput indicates an out-of-range reporting window.
	ErrDashboardInvalidInput = errors.New("dashboard: invalid input")
	// ErrDashboardUnavailable indicates an aggregation backend failure.
	ErrDashboardUnavailable = errors.New("dashboard: unavailable")
)

// dashboardMinYear bounds the reporting window; the store did not exist
// before then.
const dashboardMinYear = 2000

// DashboardServiceDeps bundles the repositories feeding the admin dashboard.
type DashboardServiceDeps struct {
	Orders   repositories.OrderRepository
	Products repositories.ProductRepository
	Users    repositories.UserRepository
	Clock    func() time.Time
}

type dashboardService struct {
	orders   repositories.OrderRepository
	products repositories.ProductRepository
	users    repositories.UserRepository
	clock    func() time.Time
}

// NewDashboardService wires dependencies into a concrete DashboardService implementation.
func NewDashboardService(deps DashboardServiceDeps) (DashboardService, error) {
	if deps.Orders == nil {
		return nil, errors.New("dashboard service: order repository is required")
	}
	if deps.Products == nil {
		return nil, errors.New("dashboard service: product repository is required")
	}
	if deps.Users == nil {
		return nil, errors.New("dashboard service: user repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	return &dashboardService{
		orders:   deps.Orders,
		products: deps.Products,
		users:    deps.Users,
		clock:    func() time.Time { return clock().UTC() },
	}, nil
}

// Summary aggregates the console landing metrics for the requested month:
// all-time counts, the month's new orders, products, customers, and settled
// sales, and each metric's change against the previous month.
func (s *dashboardService) Summary(ctx context.Context, query DashboardQuery) (DashboardSummary, error) {
	now := s.clock()

	year := query.Year
	if year == 0 {
		year = now.Year()
	}
	month := query.Month
	if month == 0 {
		month = int(now.Month())
	}
	if month < 1 || month > 12 {
		return DashboardSummary{}, fmt.Errorf("%w: month %d is out of range", ErrDashboardInvalidInput, month)
	}
	if year < dashboardMinYear || year > now.Year() {
		return DashboardSummary{}, fmt.Errorf("%w: year %d is out of range", ErrDashboardInvalidInput, year)
	}

	totalOrders, err := s.orders.Count(ctx)
	if err != nil {
		return DashboardSummary{}, fmt.Errorf("%w: %v", ErrDashboardUnavailable, err)
	}
	totalProducts, err := s.products.Count(ctx)
	if err != nil {
		return DashboardSummary{}, fmt.Errorf("%w: %v", ErrDashboardUnavailable, err)
	}
	totalCustomers, err := s.users.CountCustomers(ctx)
	if err != nil {
		return DashboardSummary{}, fmt.Errorf("%w: %v", ErrDashboardUnavailable, err)
	}

	current, previous := monthWindows(now, year, time.Month(month))

	monthOrders, err := s.orders.CountCreatedIn(ctx, current)
	if err != nil {
		return DashboardSummary{}, fmt.Errorf("%w: %v", ErrDashboardUnavailable, err)
	}
	prevOrders, err := s.orders.CountCreatedIn(ctx, previous)
	if err != nil {
		return DashboardSummary{}, fmt.Errorf("%w: %v", ErrDashboardUnavailable, err)
	}
	monthProducts, err := s.products.CountCreatedIn(ctx, current)
	if err != nil {
		return DashboardSummary{}, fmt.Errorf("%w: %v", ErrDashboardUnavailable, err)
	}
	prevProducts, err := s.products.CountCreatedIn(ctx, previous)
	if err != nil {
		return DashboardSummary{}, fmt.Errorf("%w: %v", ErrDashboardUnavailable, err)
	}
	monthCustomers, err := s.users.CountCustomersCreatedIn(ctx, current)
	if err != nil {
		return DashboardSummary{}, fmt.Errorf("%w: %v", ErrDashboardUnavailable, err)
	}
	prevCustomers, err := s.users.CountCustomersCreatedIn(ctx, previous)
	if err != nil {
		return DashboardSummary{}, fmt.Errorf("%w: %v", ErrDashboardUnavailable, err)
	}
	monthlySales, err := s.orders.SalesTotal(ctx, current)
	if err != nil {
		return DashboardSummary{}, fmt.Errorf("%w: %v", ErrDashboardUnavailable, err)
	}
	previousSales, err := s.orders.SalesTotal(ctx, previous)
	if err != nil {
		return DashboardSummary{}, fmt.Errorf("%w: %v", ErrDashboardUnavailable, err)
	}

	return DashboardSummary{
		TotalOrders:    totalOrders,
		TotalProducts:  totalProducts,
		TotalCustomers: totalCustomers,

		MonthlyOrders:    monthOrders,
		MonthlyProducts:  monthProducts,
		MonthlyCustomers: monthCustomers,
		MonthlySales:     monthlySales,
		PreviousSales:    previousSales,

		OrdersChangePercent:    changePercent(monthOrders, prevOrders),
		ProductsChangePercent:  changePercent(monthProducts, prevProducts),
		CustomersChangePercent: changePercent(monthCustomers, prevCustomers),
		SalesChangePercent:     changePercent(monthlySales, previousSales),

		Period: DashboardPeriod{
			Year:  year,
			Month: month,
			Start: current.Start,
			End:   current.End,
		},
		GeneratedAt: now,
	}, nil
}

// monthWindows computes the requested calendar-month window, clipped to now
// when the month is still running, and the full month before it.
func monthWindows(now time.Time, year int, month time.Month) (current repositories.SalesWindow, previous repositories.SalesWindow) {
	monthStart := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	monthEnd := monthStart.AddDate(0, 1, 0)
	if monthEnd.After(now) {
		monthEnd = now
	}
	if monthEnd.Before(monthStart) {
		monthEnd = monthStart
	}

	prevStart := monthStart.AddDate(0, -1, 0)

	current = repositories.SalesWindow{Start: monthStart, End: monthEnd}
	previous = repositories.SalesWindow{Start: prevStart, End: monthStart}
	return current, previous
}

// changePercent reports the month-over-month change. With no activity last
// month the change is reported as zero rather than dividing by zero.
func changePercent(current, previous int64) float64 {
	if previous == 0 {
		return 0
	}
	return (float64(current) - float64(previous)) / float64(previous) * 100
}
