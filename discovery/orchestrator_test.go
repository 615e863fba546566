package discovery

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/adrata/crm_backend/models"
)

type fakeProvider struct {
	name     string
	pool     []models.Candidate
	failures int // fail this many calls before succeeding
	calls    int
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Search(ctx context.Context, company models.CompanyContext, roleHintTitles []string) ([]models.Candidate, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, errors.New("transient provider failure")
	}
	out := make([]models.Candidate, len(f.pool))
	copy(out, f.pool)
	return out, nil
}

type fakeValidator struct {
	calls int
	fail  bool
}

func (f *fakeValidator) Name() string { return "contact-check" }

func (f *fakeValidator) Validate(ctx context.Context, candidate models.Candidate) (ContactInfo, error) {
	f.calls++
	if f.fail {
		return ContactInfo{}, errors.New("validator down")
	}
	return ContactInfo{
		Email:      strings.ReplaceAll(candidate.Key(), " ", ".") + "@acme.com",
		Confidence: 0.9,
	}, nil
}

func newTestOrchestrator(providers ...CandidateProvider) *Orchestrator {
	o := NewOrchestrator(providers, nil, nil, nil)
	o.RetryBackoff = time.Millisecond
	o.Now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	return o
}

func standardPool() []models.Candidate {
	return []models.Candidate{
		{Name: "Jane Smith", Title: "Chief Executive Officer", Department: "Executive", Seniority: models.SeniorityTierCLevel, Connections: 5000, ProviderRank: 1},
		{Name: "Lee Chan", Title: "VP Sales", Department: "Sales", Seniority: models.SeniorityTierVP, Connections: 3000, ProviderRank: 2},
		{Name: "Ana Ruiz", Title: "Product Manager", Department: "Product", Seniority: models.SeniorityTierManager, ProviderRank: 3},
		{Name: "Kim Osei", Title: "General Counsel", Department: "Legal", Seniority: models.SeniorityTierVP, ProviderRank: 4},
		{Name: "Raj Patel", Title: "Customer Success Manager", Department: "Customer Success", Seniority: models.SeniorityTierManager, ProviderRank: 5},
	}
}

func TestDiscoverAssignsRoles(t *testing.T) {
	provider := &fakeProvider{name: "alpha", pool: standardPool()}
	o := newTestOrchestrator(provider)
	company := models.CompanyContext{Name: "Acme Corp", EmployeeCount: 250}

	group, err := o.Discover(context.Background(), company, models.EnrichmentTierIdentify)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if group.CompanyKey != "acme-corp" {
		t.Fatalf("unexpected company key %q", group.CompanyKey)
	}
	if group.CriticalRoleUnresolved {
		t.Fatal("decision maker is present, nothing should be unresolved")
	}

	rolesByKey := map[string]string{}
	for _, m := range group.Members {
		rolesByKey[m.CandidateKey] = m.Role
	}
	if rolesByKey["jane smith"] != string(models.BuyerGroupRoleDecisionMaker) {
		t.Fatalf("expected the CEO as decision maker, got %q", rolesByKey["jane smith"])
	}
	if rolesByKey["lee chan"] != string(models.BuyerGroupRoleChampion) {
		t.Fatalf("expected VP Sales as champion, got %q", rolesByKey["lee chan"])
	}
	if group.OverallConfidence <= 0 {
		t.Fatalf("expected positive overall confidence, got %.2f", group.OverallConfidence)
	}
	if group.SizeTargetMin != 4 || group.SizeTargetMax != 8 {
		t.Fatalf("expected size range 4-8 for 250 employees, got %d-%d", group.SizeTargetMin, group.SizeTargetMax)
	}
	for _, m := range group.Members {
		if m.Score < AdmissionThreshold {
			t.Fatalf("member %s admitted below threshold: %.2f", m.Name, m.Score)
		}
		if m.Reasoning == "" {
			t.Fatalf("member %s has no reasoning", m.Name)
		}
		if m.AchievedTier != string(models.EnrichmentTierIdentify) {
			t.Fatalf("member %s achieved tier %s, want Identify", m.Name, m.AchievedTier)
		}
	}
}

func TestDiscoverEmptyPool(t *testing.T) {
	provider := &fakeProvider{name: "alpha"}
	o := newTestOrchestrator(provider)
	company := models.CompanyContext{Name: "Ghost Town Inc", EmployeeCount: 50}

	group, err := o.Discover(context.Background(), company, models.EnrichmentTierIdentify)
	if err != nil {
		t.Fatalf("empty pool must not be an error, got %v", err)
	}
	if len(group.Members) != 0 {
		t.Fatalf("expected no members, got %d", len(group.Members))
	}
	if group.OverallConfidence != 0 {
		t.Fatalf("expected confidence 0, got %.2f", group.OverallConfidence)
	}
	if group.Reason == "" {
		t.Fatal("empty group must carry a reason")
	}
}

func TestDiscoverValidationFailsFast(t *testing.T) {
	provider := &fakeProvider{name: "alpha", pool: standardPool()}
	o := newTestOrchestrator(provider)

	_, err := o.Discover(context.Background(), models.CompanyContext{Name: "   "}, models.EnrichmentTierIdentify)
	var invalid *ValidationError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if provider.calls != 0 {
		t.Fatalf("validation must fail before any provider call, saw %d calls", provider.calls)
	}
}

func TestDiscoverDeterministic(t *testing.T) {
	company := models.CompanyContext{Name: "Acme Corp", EmployeeCount: 250}

	run := func() *models.BuyerGroup {
		o := newTestOrchestrator(&fakeProvider{name: "alpha", pool: standardPool()})
		group, err := o.Discover(context.Background(), company, models.EnrichmentTierIdentify)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		return group
	}

	a, b := run(), run()
	aJSON, _ := json.Marshal(a.Members)
	bJSON, _ := json.Marshal(b.Members)
	if string(aJSON) != string(bJSON) {
		t.Fatalf("identical inputs produced different members:\n%s\n%s", aJSON, bJSON)
	}
	if a.OverallConfidence != b.OverallConfidence {
		t.Fatalf("identical inputs produced different confidence: %.2f vs %.2f", a.OverallConfidence, b.OverallConfidence)
	}
}

func TestDiscoverMultiSourceAgreement(t *testing.T) {
	company := models.CompanyContext{Name: "Acme Corp", EmployeeCount: 250}
	ceo := models.Candidate{Name: "Jane Smith", Title: "Chief Executive Officer", Department: "Executive", Seniority: models.SeniorityTierCLevel, ProviderRank: 1}

	single := newTestOrchestrator(&fakeProvider{name: "alpha", pool: []models.Candidate{ceo}})
	sGroup, err := single.Discover(context.Background(), company, models.EnrichmentTierIdentify)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	double := newTestOrchestrator(
		&fakeProvider{name: "alpha", pool: []models.Candidate{ceo}},
		&fakeProvider{name: "beta", pool: []models.Candidate{{Name: "Jane  SMITH", Title: "CEO", ProviderRank: 1}}},
	)
	dGroup, err := double.Discover(context.Background(), company, models.EnrichmentTierIdentify)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Same person from two providers merges into one member with both sources
	// and a higher confidence.
	var sMember, dMember *models.BuyerGroupMember
	for _, m := range sGroup.Members {
		if m.CandidateKey == "jane smith" {
			sMember = m
		}
	}
	for _, m := range dGroup.Members {
		if m.CandidateKey == "jane smith" {
			dMember = m
		}
	}
	if sMember == nil || dMember == nil {
		t.Fatal("expected the CEO in both runs")
	}
	if !strings.Contains(dMember.Sources, "alpha") || !strings.Contains(dMember.Sources, "beta") {
		t.Fatalf("expected both sources recorded, got %q", dMember.Sources)
	}
	if dMember.Confidence <= sMember.Confidence {
		t.Fatalf("cross-source agreement must raise confidence: %.2f vs %.2f", dMember.Confidence, sMember.Confidence)
	}
}

func TestDiscoverRetriesTransientFailure(t *testing.T) {
	provider := &fakeProvider{name: "alpha", pool: standardPool(), failures: 2}
	o := newTestOrchestrator(provider)
	company := models.CompanyContext{Name: "Acme Corp", EmployeeCount: 250}

	group, stats, err := o.DiscoverWithStats(context.Background(), company, models.EnrichmentTierIdentify)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(group.Members) == 0 {
		t.Fatal("expected members after retries succeed")
	}
	if stats.Retries < 2 {
		t.Fatalf("expected at least 2 retries recorded, got %d", stats.Retries)
	}
}

func TestDiscoverProviderExhaustionDegrades(t *testing.T) {
	provider := &fakeProvider{name: "alpha", failures: 1 << 30}
	o := newTestOrchestrator(provider)
	company := models.CompanyContext{Name: "Acme Corp", EmployeeCount: 250}

	group, err := o.Discover(context.Background(), company, models.EnrichmentTierIdentify)
	if err != nil {
		t.Fatalf("provider exhaustion must degrade, not error: %v", err)
	}
	if len(group.Members) != 0 || group.OverallConfidence != 0 {
		t.Fatalf("expected empty flagged group, got %d members", len(group.Members))
	}
	if provider.calls != defaultMaxRetries {
		t.Fatalf("expected %d attempts, got %d", defaultMaxRetries, provider.calls)
	}
}

func TestDiscoverUnresolvedCriticalRoleFlagged(t *testing.T) {
	// Only a stakeholder-grade candidate exists; the decision maker cannot be
	// resolved even by fallback (the one candidate is already assigned).
	provider := &fakeProvider{name: "alpha", pool: []models.Candidate{
		{Name: "Ana Ruiz", Title: "Product Manager", Department: "Product", Seniority: models.SeniorityTierManager, ProviderRank: 1},
	}}
	o := newTestOrchestrator(provider)
	company := models.CompanyContext{Name: "Acme Corp", EmployeeCount: 250}

	group, err := o.Discover(context.Background(), company, models.EnrichmentTierIdentify)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !group.CriticalRoleUnresolved {
		t.Fatal("expected the unresolved critical role flag")
	}
	if len(group.Members) != 1 {
		t.Fatalf("expected the lone stakeholder, got %d members", len(group.Members))
	}
	halved := roundScore(group.Members[0].Confidence * decisionMakerMissingPenalty)
	if group.OverallConfidence != halved {
		t.Fatalf("expected confidence halved to %.2f, got %.2f", halved, group.OverallConfidence)
	}
}

func TestDiscoverEnrichTierAdditive(t *testing.T) {
	t.Setenv("CONTACT_VALIDATION_ENABLED", "true")
	company := models.CompanyContext{Name: "Acme Corp", EmployeeCount: 250}

	identify := newTestOrchestrator(&fakeProvider{name: "alpha", pool: standardPool()})
	iGroup, err := identify.Discover(context.Background(), company, models.EnrichmentTierIdentify)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	validator := &fakeValidator{}
	enrich := newTestOrchestrator(&fakeProvider{name: "alpha", pool: standardPool()})
	enrich.Contacts = validator
	eGroup, err := enrich.Discover(context.Background(), company, models.EnrichmentTierEnrich)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(iGroup.Members) != len(eGroup.Members) {
		t.Fatalf("enrichment must not change membership: %d vs %d", len(iGroup.Members), len(eGroup.Members))
	}
	for i := range eGroup.Members {
		im, em := iGroup.Members[i], eGroup.Members[i]
		// Identify-tier facts are frozen.
		if im.Role != em.Role || im.Score != em.Score || im.CandidateKey != em.CandidateKey {
			t.Fatalf("enrichment altered identify-tier data for %s", em.Name)
		}
		if em.Email == "" {
			t.Fatalf("expected validated email for %s", em.Name)
		}
		if em.AchievedTier != string(models.EnrichmentTierEnrich) {
			t.Fatalf("expected member tier Enrich, got %s", em.AchievedTier)
		}
	}
	if eGroup.AchievedTier != string(models.EnrichmentTierEnrich) {
		t.Fatalf("expected group tier Enrich, got %s", eGroup.AchievedTier)
	}
	if validator.calls != len(eGroup.Members) {
		t.Fatalf("validator must run once per finalized member: %d calls for %d members", validator.calls, len(eGroup.Members))
	}
}

func TestDiscoverEnrichValidatorFailureDegrades(t *testing.T) {
	t.Setenv("CONTACT_VALIDATION_ENABLED", "true")
	company := models.CompanyContext{Name: "Acme Corp", EmployeeCount: 250}

	o := newTestOrchestrator(&fakeProvider{name: "alpha", pool: standardPool()})
	o.Contacts = &fakeValidator{fail: true}
	o.MaxRetries = 1

	group, err := o.Discover(context.Background(), company, models.EnrichmentTierEnrich)
	if err != nil {
		t.Fatalf("validator failure must degrade, not error: %v", err)
	}
	if len(group.Members) == 0 {
		t.Fatal("identify results must survive a failed enrichment")
	}
	for _, m := range group.Members {
		if m.AchievedTier != string(models.EnrichmentTierIdentify) {
			t.Fatalf("failed enrichment must leave member at Identify, got %s", m.AchievedTier)
		}
	}
	if group.AchievedTier != string(models.EnrichmentTierIdentify) {
		t.Fatalf("expected group tier Identify, got %s", group.AchievedTier)
	}
}

func TestDiscoverLargeCompanyPicksExecutiveDecisionMaker(t *testing.T) {
	// 75k employees: a wide pool of executives, senior leaders and ICs.
	pool := []models.Candidate{
		{Name: "Jane Smith", Title: "Chief Executive Officer", Department: "Executive", Seniority: models.SeniorityTierCLevel, Connections: 8000, ProviderRank: 1},
		{Name: "Omar Diaz", Title: "Chief Financial Officer", Department: "Finance", Seniority: models.SeniorityTierCLevel, Connections: 4000, ProviderRank: 2},
	}
	vpTitles := []struct{ title, dept string }{
		{"VP Sales", "Sales"}, {"Sales Director", "Sales"}, {"Head of Sales", "Revenue"},
		{"Director of Product", "Product"}, {"Engineering Manager", "Engineering"},
		{"Marketing Director", "Marketing"}, {"IT Director", "IT"},
		{"General Counsel", "Legal"}, {"Procurement Director", "Procurement"},
		{"Customer Success Manager", "Customer Success"},
	}
	names := []string{"Ava Hill", "Ben Cole", "Cara Voss", "Dan Reed", "Ella Park", "Finn Shaw", "Gia Moss", "Hank Lowe", "Iris Vale", "Jude Kerr"}
	for i, v := range vpTitles {
		pool = append(pool, models.Candidate{Name: names[i], Title: v.title, Department: v.dept, ProviderRank: i + 3})
	}
	for i := 0; i < 10; i++ {
		pool = append(pool, models.Candidate{Name: names[i] + " Jr", Title: "Software Engineer", Department: "Engineering", Seniority: models.SeniorityTierIC, ProviderRank: i + 13})
	}

	o := newTestOrchestrator(&fakeProvider{name: "alpha", pool: pool})
	company := models.CompanyContext{Name: "Mega Corp", EmployeeCount: 75000}

	group, err := o.Discover(context.Background(), company, models.EnrichmentTierIdentify)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if group.SizeTargetMin != 12 || group.SizeTargetMax != 18 {
		t.Fatalf("expected range 12-18, got %d-%d", group.SizeTargetMin, group.SizeTargetMax)
	}
	if len(group.Members) > 18 {
		t.Fatalf("size cap exceeded: %d members", len(group.Members))
	}
	for _, m := range group.Members {
		if m.Role == string(models.BuyerGroupRoleDecisionMaker) {
			if m.Seniority != string(models.SeniorityTierCLevel) {
				t.Fatalf("with executives available the decision maker must be C-level, got %s (%s)", m.Seniority, m.Name)
			}
			return
		}
	}
	t.Fatal("no decision maker assigned")
}

func TestDiscoverFallbackFillsDecisionMakerInThinPool(t *testing.T) {
	// No candidate clears the normal bar for any role, but one plausible
	// leader qualifies for decision maker once titles are relaxed.
	provider := &fakeProvider{name: "alpha", pool: []models.Candidate{
		{Name: "Gus Moran", Title: "Deputy Manager of Operations", ProviderRank: 1},
	}}
	o := newTestOrchestrator(provider)
	company := models.CompanyContext{Name: "Midsize Co", EmployeeCount: 500}

	group, err := o.Discover(context.Background(), company, models.EnrichmentTierIdentify)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if group.SizeTargetMin != 6 || group.SizeTargetMax != 12 {
		t.Fatalf("expected range 6-12, got %d-%d", group.SizeTargetMin, group.SizeTargetMax)
	}
	if group.CriticalRoleUnresolved {
		t.Fatal("fallback should have resolved the decision maker")
	}
	if len(group.Members) != 1 {
		t.Fatalf("expected the fallback decision maker only, got %d members", len(group.Members))
	}
	m := group.Members[0]
	if m.Role != string(models.BuyerGroupRoleDecisionMaker) {
		t.Fatalf("expected decision maker, got %s", m.Role)
	}
	if !strings.Contains(m.Reasoning, "waterfall fallback") {
		t.Fatalf("fallback member must carry relaxation reasoning, got %q", m.Reasoning)
	}
	if m.Score < FallbackAdmissionThreshold {
		t.Fatalf("fallback admitted below the lowered threshold: %.2f", m.Score)
	}
}

type fakeInsights struct {
	calls int
}

func (f *fakeInsights) Name() string { return "analyst" }

func (f *fakeInsights) Analyze(ctx context.Context, member models.BuyerGroupMember, company models.CompanyContext) (Insight, error) {
	f.calls++
	return Insight{
		Motivations:       []string{"reduce revenue leakage"},
		PainSignals:       []string{"manual pipeline reviews"},
		SuggestedApproach: "lead with ROI analysis",
	}, nil
}

func TestDiscoverDeepResearchTopPriorityOnly(t *testing.T) {
	t.Setenv("DEEP_RESEARCH_ENABLED", "true")
	company := models.CompanyContext{Name: "Acme Corp", EmployeeCount: 250}

	insights := &fakeInsights{}
	o := newTestOrchestrator(&fakeProvider{name: "alpha", pool: standardPool()})
	o.Insights = insights

	group, err := o.Discover(context.Background(), company, models.EnrichmentTierDeepResearch)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if insights.calls != deepResearchTopN {
		t.Fatalf("deep research must only analyze the top %d members, got %d calls", deepResearchTopN, insights.calls)
	}
	if group.AchievedTier != string(models.EnrichmentTierDeepResearch) {
		t.Fatalf("expected group tier DeepResearch, got %s", group.AchievedTier)
	}

	analyzed := 0
	for _, m := range group.Members {
		if m.AchievedTier == string(models.EnrichmentTierDeepResearch) {
			analyzed++
			if m.SuggestedApproach == "" || m.Motivations == "" {
				t.Fatalf("analyzed member %s missing insight fields", m.Name)
			}
		}
	}
	if analyzed != deepResearchTopN {
		t.Fatalf("expected %d analyzed members, got %d", deepResearchTopN, analyzed)
	}
	// Decision maker and champion must be among the analyzed members.
	for _, m := range group.Members {
		if (m.Role == string(models.BuyerGroupRoleDecisionMaker) || m.Role == string(models.BuyerGroupRoleChampion)) &&
			m.AchievedTier != string(models.EnrichmentTierDeepResearch) {
			t.Fatalf("%s (%s) must be prioritized for deep research", m.Name, m.Role)
		}
	}
}

func TestDiscoverEnrichFlagOffDegrades(t *testing.T) {
	t.Setenv("CONTACT_VALIDATION_ENABLED", "false")
	company := models.CompanyContext{Name: "Acme Corp", EmployeeCount: 250}

	validator := &fakeValidator{}
	o := newTestOrchestrator(&fakeProvider{name: "alpha", pool: standardPool()})
	o.Contacts = validator

	group, err := o.Discover(context.Background(), company, models.EnrichmentTierEnrich)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if validator.calls != 0 {
		t.Fatalf("flag off: validator must not be called, saw %d calls", validator.calls)
	}
	if group.AchievedTier != string(models.EnrichmentTierIdentify) {
		t.Fatalf("expected degraded tier Identify, got %s", group.AchievedTier)
	}
}
