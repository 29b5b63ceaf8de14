package commission

import (
	"context"
	"fmt"
)

// CommissionQuery is the admin reporting request.
type CommissionQuery struct {
	Filter CommissionFilter
	Page   Page
}

// CommissionReport is a page of commission rows plus per-agent aggregates over
// the whole filter (not just the page).
type CommissionReport struct {
	Rows       []CommissionRow
	TotalCount int64
	Page       Page
	Aggregates []AgentAggregate
}

// QueryCommissions returns filtered, paginated commission rows with agent aggregates.
// An empty result is not an error.
func (service *Service) QueryCommissions(ctx context.Context, query CommissionQuery) (CommissionReport, error) {
	page, err := normalizePage(query.Page)
	if err != nil {
		return CommissionReport{}, err
	}
	filter := query.Filter
	if filter.Status != "" {
		if _, err := ParseCommissionStatus(filter.Status.String()); err != nil {
			return CommissionReport{}, err
		}
	}
	if !filter.From.IsZero() && !filter.To.IsZero() && filter.From.After(filter.To) {
		return CommissionReport{}, fmt.Errorf("%w: from %s is after to %s", ErrInvalidDateRange, filter.From.Format("2006-01-02"), filter.To.Format("2006-01-02"))
	}
	rows, total, err := service.store.ListCommissions(ctx, filter, page)
	if err != nil {
		return CommissionReport{}, err
	}
	aggregates, err := service.store.SummarizeAgents(ctx, filter)
	if err != nil {
		return CommissionReport{}, err
	}
	now := service.nowFn()
	for index := range rows {
		if rows[index].Order.Commission != nil {
			rows[index].AutoReleaseEligible = AutoReleaseEligible(*rows[index].Order.Commission, now)
		}
	}
	if rows == nil {
		rows = []CommissionRow{}
	}
	if aggregates == nil {
		aggregates = []AgentAggregate{}
	}
	return CommissionReport{
		Rows:       rows,
		TotalCount: total,
		Page:       page,
		Aggregates: aggregates,
	}, nil
}

func normalizePage(page Page) (Page, error) {
	if page.Number < 0 || page.Size < 0 {
		return Page{}, fmt.Errorf("%w: negative page or size", ErrInvalidPage)
	}
	if page.Number == 0 {
		page.Number = 1
	}
	if page.Size == 0 {
		page.Size = defaultPageSize
	}
	if page.Size > maxPageSize {
		return Page{}, fmt.Errorf("%w: size exceeds maximum: %d > %d", ErrInvalidPage, page.Size, maxPageSize)
	}
	if !page.offsetFits() {
		return Page{}, fmt.Errorf("%w: page %d is out of range", ErrInvalidPage, page.Number)
	}
	return page, nil
}

// StatusLabels maps statuses to the labels the admin dashboard displays.
type StatusLabels struct {
	labels map[CommissionStatus]string
}

// NewStatusLabels builds the immutable label table.
func NewStatusLabels() StatusLabels {
	return StatusLabels{labels: map[CommissionStatus]string{
		StatusPending:   "ממתין",
		StatusAvailable: "זמין למשיכה",
		StatusClaimed:   "נמשך",
		StatusCancelled: "בוטל",
	}}
}

// Label returns the display label, falling back to the raw status.
func (table StatusLabels) Label(status CommissionStatus) string {
	if label, ok := table.labels[status]; ok {
		return label
	}
	return status.String()
}

// All returns a copy of the table keyed by wire value.
func (table StatusLabels) All() map[string]string {
	copied := make(map[string]string, len(table.labels))
	for status, label := range table.labels {
		copied[status.String()] = label
	}
	return copied
}
