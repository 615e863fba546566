package discovery

import (
	"context"
	"fmt"
	"sync"

	"github.com/adrata/crm_backend/config"
	"github.com/adrata/crm_backend/models"
	"github.com/shopspring/decimal"
)

const defaultBatchConcurrency = 4

// BatchStats summarizes one batch run. It is a returned value, never shared
// state, so concurrent batches cannot interfere.
type BatchStats struct {
	CompaniesProcessed int             `json:"companies_processed"`
	CompaniesFailed    int             `json:"companies_failed"`
	ProviderCalls      int             `json:"provider_calls"`
	Retries            int             `json:"retries"`
	CostUnits          decimal.Decimal `json:"cost_units"`
}

// DiscoverBatch runs discovery for many companies over a fixed worker pool.
// One company's failure never aborts the batch: the failed company gets an
// empty flagged group and the run continues. Results come back in input
// order. A cancelled context stops picking up new companies; in-flight ones
// finish.
func (o *Orchestrator) DiscoverBatch(ctx context.Context, companies []models.CompanyContext, tier models.EnrichmentTier, concurrency int) ([]*models.BuyerGroup, BatchStats, error) {
	if concurrency <= 0 {
		concurrency = defaultBatchConcurrency
	}
	if concurrency > len(companies) {
		concurrency = len(companies)
	}

	groups := make([]*models.BuyerGroup, len(companies))
	perRun := make([]RunStats, len(companies))
	failed := make([]bool, len(companies))

	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				groups[i], perRun[i], failed[i] = o.discoverIsolated(ctx, companies[i], tier)
			}
		}()
	}

	dispatched := 0
dispatch:
	for i := range companies {
		select {
		case <-ctx.Done():
			break dispatch
		case jobs <- i:
			dispatched++
		}
	}
	close(jobs)
	wg.Wait()

	stats := BatchStats{CostUnits: decimal.Zero}
	for i := 0; i < dispatched; i++ {
		stats.CompaniesProcessed++
		if failed[i] {
			stats.CompaniesFailed++
		}
		stats.ProviderCalls += perRun[i].ProviderCalls
		stats.Retries += perRun[i].Retries
		stats.CostUnits = stats.CostUnits.Add(perRun[i].CostUnits)
	}
	groups = groups[:dispatched]

	if err := ctx.Err(); err != nil {
		return groups, stats, err
	}
	return groups, stats, nil
}

// discoverIsolated converts any per-company failure, panics included, into
// an empty flagged group.
func (o *Orchestrator) discoverIsolated(ctx context.Context, company models.CompanyContext, tier models.EnrichmentTier) (group *models.BuyerGroup, stats RunStats, failed bool) {
	defer func() {
		if r := recover(); r != nil {
			config.LogError(o.logger(), "batch.go", "discoverIsolated", company.Name, nil, fmt.Errorf("panic: %v", r))
			group = o.EmptyGroup(company, tier, fmt.Sprintf("discovery panicked: %v", r))
			failed = true
		}
	}()

	group, stats, err := o.DiscoverWithStats(ctx, company, tier)
	if err != nil {
		config.LogError(o.logger(), "batch.go", "discoverIsolated", company.Name, nil, err)
		return o.EmptyGroup(company, tier, err.Error()), stats, true
	}
	return group, stats, false
}
