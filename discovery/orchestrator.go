package discovery

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/adrata/crm_backend/config"
	"github.com/adrata/crm_backend/models"
	"github.com/adrata/crm_backend/utils"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("buyer-group-discovery")

// Relative cost units per optional enrichment call, used for batch cost
// accounting. Identify is the 1x baseline per company.
var (
	identifyCostUnits     = decimal.NewFromInt(1)
	contactCallCostUnits  = decimal.NewFromInt(25)
	insightCallCostUnits  = decimal.NewFromInt(65)
)

const (
	defaultCallTimeout  = 20 * time.Second
	defaultMaxRetries   = 3
	defaultRetryBackoff = 250 * time.Millisecond
	deepResearchTopN    = 3
)

// RunStats accumulates per-run provider usage. Returned alongside results
// instead of being kept in shared counters.
type RunStats struct {
	ProviderCalls int
	Retries       int
	CostUnits     decimal.Decimal
}

// Orchestrator is the top-level controller for one or more discovery runs.
// It owns provider access (retries, pacing, timeouts); scoring, assembly and
// aggregation are pure and synchronous.
type Orchestrator struct {
	Candidates []CandidateProvider
	Contacts   ContactValidator
	Insights   InsightProvider
	Logger     *logrus.Logger

	// CallTimeout bounds each external call, independently of the caller's
	// batch deadline.
	CallTimeout time.Duration
	// ProviderDelay is the explicit pause between successive provider calls.
	ProviderDelay time.Duration
	MaxRetries    int
	RetryBackoff  time.Duration

	// Now is injectable for deterministic tests; defaults to time.Now.
	Now func() time.Time
}

func NewOrchestrator(candidates []CandidateProvider, contacts ContactValidator, insights InsightProvider, logger *logrus.Logger) *Orchestrator {
	return &Orchestrator{
		Candidates:    candidates,
		Contacts:      contacts,
		Insights:      insights,
		Logger:        logger,
		CallTimeout:   defaultCallTimeout,
		MaxRetries:    defaultMaxRetries,
		RetryBackoff:  defaultRetryBackoff,
		ProviderDelay: 0,
	}
}

// Discover runs one company's buyer group discovery at the requested tier.
// It returns a ValidationError before any provider call for malformed input;
// all later failures degrade into a flagged group instead of an error.
func (o *Orchestrator) Discover(ctx context.Context, company models.CompanyContext, tier models.EnrichmentTier) (*models.BuyerGroup, error) {
	group, _, err := o.DiscoverWithStats(ctx, company, tier)
	return group, err
}

// DiscoverWithStats is Discover plus the run's provider usage accounting.
func (o *Orchestrator) DiscoverWithStats(ctx context.Context, company models.CompanyContext, tier models.EnrichmentTier) (*models.BuyerGroup, RunStats, error) {
	stats := RunStats{CostUnits: identifyCostUnits}

	if err := company.Validate(); err != nil {
		return nil, stats, &ValidationError{Reason: err.Error()}
	}
	tier, err := models.ParseEnrichmentTier(string(tier))
	if err != nil {
		return nil, stats, &ValidationError{Reason: err.Error()}
	}

	ctx, span := tracer.Start(ctx, "discovery.Discover")
	defer span.End()

	group := &models.BuyerGroup{
		ID:            uuid.NewString(),
		CompanyKey:    company.CompanyKey(),
		CompanyName:   company.Name,
		RequestedTier: string(tier),
		AchievedTier:  string(models.EnrichmentTierIdentify),
		GeneratedAt:   o.now(),
	}
	group.SizeTargetMin, group.SizeTargetMax = SizeRangeForEmployeeCount(company.EmployeeCount)

	// Identify tier: fetch, score, assemble, fallback, aggregate.
	roles := company.RolesOfInterest()
	merged, sourcesByKey := o.fetchCandidates(ctx, company, RoleHintTitles(roles), &stats)
	if len(merged) == 0 {
		group.Reason = ErrNoCandidatesFound.Error()
		group.OverallConfidence = 0
		return group, stats, nil
	}

	scored := ScoreCandidates(merged)
	candidatesByKey := make(map[string]models.Candidate, len(scored))
	for i := range scored {
		key := scored[i].Candidate.Key()
		scored[i].SeenBySources = sourcesByKey[key]
		candidatesByKey[key] = scored[i].Candidate
	}

	assembled := Assemble(scored, company)
	group.Members = assembled.Members

	var unresolvedCritical []models.BuyerGroupRole
	for _, role := range assembled.CriticalRoleMissing {
		member := o.resolveCriticalRole(ctx, role, company, assembled.AssignedKeys, candidatesByKey, &stats)
		if member == nil {
			unresolvedCritical = append(unresolvedCritical, role)
			continue
		}
		group.Members = append(group.Members, member)
		assembled.AssignedKeys[member.CandidateKey] = true
	}
	group.CriticalRoleUnresolved = len(unresolvedCritical) > 0

	for _, m := range group.Members {
		candidate := candidatesByKey[m.CandidateKey]
		multiSource := len(sourcesByKey[m.CandidateKey]) > 1
		m.Confidence = MemberConfidence(m, candidate, multiSource)
	}
	group.OverallConfidence = OverallConfidence(group.Members, unresolvedCritical)

	// Optional tiers are strictly additive on top of the finalized members;
	// they never change role assignment.
	if tier.Rank() >= models.EnrichmentTierEnrich.Rank() {
		o.enrichContacts(ctx, group, candidatesByKey, &stats)
	}
	if tier.Rank() >= models.EnrichmentTierDeepResearch.Rank() {
		o.deepResearch(ctx, group, company, &stats)
	}

	group.EngagementStrategy = engagementStrategy(group.Members)
	group.GroupPriority = groupPriority(group.OverallConfidence)
	return group, stats, nil
}

// EmptyGroup builds the flagged result for a company whose discovery failed
// unrecoverably; batch runs use it for per-company error isolation.
func (o *Orchestrator) EmptyGroup(company models.CompanyContext, tier models.EnrichmentTier, reason string) *models.BuyerGroup {
	group := &models.BuyerGroup{
		ID:            uuid.NewString(),
		CompanyKey:    company.CompanyKey(),
		CompanyName:   company.Name,
		RequestedTier: string(tier),
		AchievedTier:  string(models.EnrichmentTierIdentify),
		Reason:        reason,
		GeneratedAt:   o.now(),
	}
	group.SizeTargetMin, group.SizeTargetMax = SizeRangeForEmployeeCount(company.EmployeeCount)
	return group
}

func (o *Orchestrator) fetchCandidates(ctx context.Context, company models.CompanyContext, hints []string, stats *RunStats) ([]models.Candidate, map[string][]string) {
	ctx, span := tracer.Start(ctx, "discovery.fetchCandidates")
	defer span.End()

	var merged []models.Candidate
	sourcesByKey := map[string][]string{}
	indexByKey := map[string]int{}

	for _, provider := range o.Candidates {
		candidates, err := o.searchProvider(ctx, provider, company, hints, stats)
		if err != nil {
			config.LogError(o.logger(), "orchestrator.go", "fetchCandidates", provider.Name(), company.CompanyKey(), err)
			continue
		}
		for i, c := range candidates {
			if c.Source == "" {
				c.Source = provider.Name()
			}
			if c.ProviderRank == 0 {
				c.ProviderRank = i + 1
			}
			key := c.Key()
			if idx, seen := indexByKey[key]; seen {
				sourcesByKey[key] = appendSource(sourcesByKey[key], c.Source)
				merged[idx] = mergeCandidate(merged[idx], c)
				continue
			}
			indexByKey[key] = len(merged)
			sourcesByKey[key] = []string{c.Source}
			merged = append(merged, c)
		}
	}
	return merged, sourcesByKey
}

// mergeCandidate fills gaps in an earlier provider's record from a later
// one; the first provider's identity fields win.
func mergeCandidate(base, other models.Candidate) models.Candidate {
	if base.Title == "" {
		base.Title = other.Title
	}
	if base.Department == "" {
		base.Department = other.Department
	}
	if base.Seniority == models.SeniorityTierUnknown {
		base.Seniority = other.Seniority
	}
	if base.Email == "" {
		base.Email = other.Email
	}
	if base.Phone == "" {
		base.Phone = other.Phone
	}
	if base.Connections == 0 {
		base.Connections = other.Connections
	}
	if base.Followers == 0 {
		base.Followers = other.Followers
	}
	return base
}

func appendSource(sources []string, source string) []string {
	for _, s := range sources {
		if s == source {
			return sources
		}
	}
	return append(sources, source)
}

func (o *Orchestrator) resolveCriticalRole(ctx context.Context, role models.BuyerGroupRole, company models.CompanyContext, assigned map[string]bool, candidatesByKey map[string]models.Candidate, stats *RunStats) *models.BuyerGroupMember {
	ctx, span := tracer.Start(ctx, "discovery.resolveCriticalRole")
	defer span.End()

	search := func(ctx context.Context, company models.CompanyContext, hints []string) ([]models.Candidate, error) {
		merged, _ := o.fetchCandidates(ctx, company, hints, stats)
		return merged, nil
	}

	member, err := ResolveMissingCriticalRole(ctx, role, company, assigned, search)
	if err != nil {
		config.LogError(o.logger(), "orchestrator.go", "resolveCriticalRole", string(role), company.CompanyKey(), err)
		return nil
	}
	if member != nil {
		// Fallback members must be scoreable later; register the candidate.
		if _, ok := candidatesByKey[member.CandidateKey]; !ok {
			candidatesByKey[member.CandidateKey] = models.Candidate{
				Name:       member.Name,
				Title:      member.Title,
				Department: member.Department,
				Seniority:  models.SeniorityTier(member.Seniority),
				SourceId:   member.SourceId,
			}
		}
	}
	return member
}

func (o *Orchestrator) enrichContacts(ctx context.Context, group *models.BuyerGroup, candidatesByKey map[string]models.Candidate, stats *RunStats) {
	if o.Contacts == nil || !config.ContactValidationEnabled() {
		return
	}
	ctx, span := tracer.Start(ctx, "discovery.enrichContacts")
	defer span.End()

	achieved := false
	for _, m := range group.Members {
		candidate := candidatesByKey[m.CandidateKey]
		info, err := o.validateContact(ctx, candidate, stats)
		if err != nil {
			// Degrade gracefully: the member keeps its Identify-tier data.
			config.LogError(o.logger(), "orchestrator.go", "enrichContacts", m.CandidateKey, nil, err)
			continue
		}
		if info.Email != "" && utils.IsValidEmail(info.Email) {
			m.Email = info.Email
		}
		if info.Phone != "" {
			if normalized, err := utils.NormalizePhoneNumber(info.Phone, ""); err == nil {
				m.Phone = normalized
			} else {
				m.Phone = info.Phone
			}
		}
		m.ContactConfidence = info.Confidence
		m.AchievedTier = string(models.EnrichmentTierEnrich)
		achieved = true
	}
	if achieved {
		group.AchievedTier = string(models.EnrichmentTierEnrich)
	}
}

func (o *Orchestrator) deepResearch(ctx context.Context, group *models.BuyerGroup, company models.CompanyContext, stats *RunStats) {
	if o.Insights == nil || !config.DeepResearchEnabled() {
		return
	}
	ctx, span := tracer.Start(ctx, "discovery.deepResearch")
	defer span.End()

	achieved := false
	for _, m := range topPriorityMembers(group.Members, deepResearchTopN) {
		insight, err := o.analyzeMember(ctx, *m, company, stats)
		if err != nil {
			config.LogError(o.logger(), "orchestrator.go", "deepResearch", m.CandidateKey, nil, err)
			continue
		}
		m.Motivations = marshalList(insight.Motivations)
		m.PainSignals = marshalList(insight.PainSignals)
		m.SuggestedApproach = insight.SuggestedApproach
		m.AchievedTier = string(models.EnrichmentTierDeepResearch)
		achieved = true
	}
	if achieved {
		group.AchievedTier = string(models.EnrichmentTierDeepResearch)
	}
}

// topPriorityMembers selects who gets the expensive qualitative analysis:
// decision makers and champions first, then by confidence, capped at n.
func topPriorityMembers(members []*models.BuyerGroupMember, n int) []*models.BuyerGroupMember {
	ranked := make([]*models.BuyerGroupMember, len(members))
	copy(ranked, members)
	rolePriority := map[string]int{
		string(models.BuyerGroupRoleDecisionMaker): 0,
		string(models.BuyerGroupRoleChampion):      1,
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		pi, iok := rolePriority[ranked[i].Role]
		pj, jok := rolePriority[ranked[j].Role]
		if iok != jok {
			return iok
		}
		if iok && jok && pi != pj {
			return pi < pj
		}
		return ranked[i].Confidence > ranked[j].Confidence
	})
	if len(ranked) > n {
		ranked = ranked[:n]
	}
	return ranked
}

func marshalList(items []string) string {
	if len(items) == 0 {
		return ""
	}
	b, err := json.Marshal(items)
	if err != nil {
		return ""
	}
	return string(b)
}

// engagementStrategy mirrors the playbook heuristics: which roles were
// filled drives how the seller should approach the group.
func engagementStrategy(members []*models.BuyerGroupMember) string {
	hasDM := false
	hasChampion := false
	for _, m := range members {
		switch m.Role {
		case string(models.BuyerGroupRoleDecisionMaker):
			hasDM = true
		case string(models.BuyerGroupRoleChampion):
			hasChampion = true
		}
	}
	switch {
	case hasDM && hasChampion:
		return "executive sponsorship with internal champion"
	case hasDM:
		return "top-down executive engagement"
	case hasChampion:
		return "bottom-up champion-led adoption"
	case len(members) > 0:
		return "multi-threaded discovery outreach"
	default:
		return ""
	}
}

func groupPriority(overallConfidence float64) string {
	switch {
	case overallConfidence >= 75:
		return "High"
	case overallConfidence >= 50:
		return "Medium"
	case overallConfidence > 0:
		return "Low"
	default:
		return ""
	}
}

// --- provider call plumbing -------------------------------------------------

func (o *Orchestrator) searchProvider(ctx context.Context, provider CandidateProvider, company models.CompanyContext, hints []string, stats *RunStats) ([]models.Candidate, error) {
	var out []models.Candidate
	err := o.withRetry(ctx, provider.Name(), stats, func(callCtx context.Context) error {
		var err error
		out, err = provider.Search(callCtx, company, hints)
		return err
	})
	return out, err
}

func (o *Orchestrator) validateContact(ctx context.Context, candidate models.Candidate, stats *RunStats) (ContactInfo, error) {
	var out ContactInfo
	err := o.withRetry(ctx, o.Contacts.Name(), stats, func(callCtx context.Context) error {
		var err error
		out, err = o.Contacts.Validate(callCtx, candidate)
		return err
	})
	if err == nil {
		stats.CostUnits = stats.CostUnits.Add(contactCallCostUnits)
	}
	return out, err
}

func (o *Orchestrator) analyzeMember(ctx context.Context, member models.BuyerGroupMember, company models.CompanyContext, stats *RunStats) (Insight, error) {
	var out Insight
	err := o.withRetry(ctx, o.Insights.Name(), stats, func(callCtx context.Context) error {
		var err error
		out, err = o.Insights.Analyze(callCtx, member, company)
		return err
	})
	if err == nil {
		stats.CostUnits = stats.CostUnits.Add(insightCallCostUnits)
	}
	return out, err
}

// withRetry applies the pacing delay, per-call timeout and bounded backoff
// around one provider call. These calls are the only suspension points in a
// discovery run.
func (o *Orchestrator) withRetry(ctx context.Context, providerName string, stats *RunStats, fn func(ctx context.Context) error) error {
	maxRetries := o.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	backoff := o.RetryBackoff
	if backoff <= 0 {
		backoff = defaultRetryBackoff
	}
	callTimeout := o.CallTimeout
	if callTimeout <= 0 {
		callTimeout = defaultCallTimeout
	}

	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		if err := o.pace(ctx); err != nil {
			return err
		}

		callCtx, cancel := context.WithTimeout(ctx, callTimeout)
		err := fn(callCtx)
		cancel()
		stats.ProviderCalls++
		if err == nil {
			return nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		if attempt < maxRetries {
			stats.Retries++
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff * time.Duration(1<<(attempt-1))):
			}
		}
	}
	return &ProviderUnavailableError{Provider: providerName, Err: lastErr}
}

func (o *Orchestrator) pace(ctx context.Context) error {
	if o.ProviderDelay <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(o.ProviderDelay):
		return nil
	}
}

func (o *Orchestrator) logger() *logrus.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return config.GetLogger()
}

func (o *Orchestrator) now() time.Time {
	if o.Now != nil {
		return o.Now().UTC()
	}
	return time.Now().UTC()
}
