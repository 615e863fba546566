package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/adrata/crm_backend/config"
	"github.com/adrata/crm_backend/discovery"
	"github.com/adrata/crm_backend/models"
)

// Batch CLI: reads a JSON array of company contexts and runs discovery for
// each over a worker pool, persisting every group. Meant for one-off backfills
// and scheduled re-discovery jobs.
func main() {
	inputPath := flag.String("input", "", "Required: path to a JSON array of company contexts")
	tierFlag := flag.String("tier", "Identify", "Enrichment tier: Identify, Enrich or DeepResearch")
	concurrency := flag.Int("concurrency", 4, "Number of companies processed in parallel")
	timeoutMin := flag.Int("timeout-minutes", 60, "Overall batch deadline in minutes")
	dryRun := flag.Bool("dry-run", false, "Run discovery but skip persistence")
	flag.Parse()

	if strings.TrimSpace(*inputPath) == "" {
		fmt.Fprintln(os.Stderr, "-input is required")
		os.Exit(1)
	}

	tier, err := models.ParseEnrichmentTier(strings.TrimSpace(*tierFlag))
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid tier %q: %v\n", *tierFlag, err)
		os.Exit(1)
	}

	raw, err := os.ReadFile(*inputPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to read %s: %v\n", *inputPath, err)
		os.Exit(1)
	}
	var companies []models.CompanyContext
	if err := json.Unmarshal(raw, &companies); err != nil {
		fmt.Fprintf(os.Stderr, "failed to parse %s: %v\n", *inputPath, err)
		os.Exit(1)
	}
	if len(companies) == 0 {
		fmt.Fprintln(os.Stderr, "no companies in input")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(*timeoutMin)*time.Minute)
	defer cancel()

	logger := config.GetLogger()

	if !*dryRun {
		// Explicit DB connect (config no longer connects DB in init()).
		config.ConnectDatabaseWithRetry()
		if config.GetDB() == nil {
			fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil)")
			os.Exit(1)
		}
		models.MigrateTable()
		config.ConnectRedisWithRetry()
	}

	providers, err := discovery.ProvidersFromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "provider config: %v\n", err)
		os.Exit(1)
	}
	orchestrator := discovery.NewOrchestrator(providers, nil, nil, logger)
	orchestrator.ProviderDelay = time.Duration(intFromEnv("DISCOVERY_PROVIDER_DELAY_MS", 0)) * time.Millisecond

	groups, stats, batchErr := orchestrator.DiscoverBatch(ctx, companies, tier, *concurrency)

	saved := 0
	for i, group := range groups {
		if *dryRun {
			continue
		}
		if _, err := models.GetOrCreateCompany(ctx, companies[i]); err != nil {
			fmt.Fprintf(os.Stderr, "company %s: failed to record: %v\n", group.CompanyKey, err)
			continue
		}
		if err := models.SaveBuyerGroup(ctx, group); err != nil {
			fmt.Fprintf(os.Stderr, "company %s: failed to save group: %v\n", group.CompanyKey, err)
			continue
		}
		saved++
	}

	fmt.Printf("processed=%d failed=%d saved=%d provider_calls=%d retries=%d cost_units=%s\n",
		stats.CompaniesProcessed, stats.CompaniesFailed, saved,
		stats.ProviderCalls, stats.Retries, stats.CostUnits.String())

	if batchErr != nil {
		fmt.Fprintf(os.Stderr, "batch stopped early: %v\n", batchErr)
		os.Exit(1)
	}
}

func intFromEnv(name string, def int) int {
	if v := strings.TrimSpace(os.Getenv(name)); v != "" {
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil && n > 0 {
			return n
		}
	}
	return def
}
