package discovery

import (
	"testing"

	"github.com/adrata/crm_backend/models"
)

func TestKeywordMatchGrade(t *testing.T) {
	keywords := []string{"chief executive officer", "vp sales"}
	cases := []struct {
		text     string
		expected float64
	}{
		{"Chief Executive Officer", matchExact},
		{"Deputy Chief Executive Officer at Acme", matchExact},
		{"VP Sales EMEA", matchExact},
		{"Officer of the Watch", matchPartial}, // token overlap only
		{"Sales Associate", matchPartial},
		{"Janitor", 0},
		{"", 0},
	}
	for _, tc := range cases {
		if got := keywordMatchGrade(tc.text, keywords); got != tc.expected {
			t.Fatalf("keywordMatchGrade(%q) expected %.0f, got %.0f", tc.text, tc.expected, got)
		}
	}
}

func TestScoreWeightsClampedToHundred(t *testing.T) {
	archetype, ok := ArchetypeFor(models.BuyerGroupRoleDecisionMaker)
	if !ok {
		t.Fatal("decision maker archetype missing")
	}
	c := models.Candidate{
		Name:            "Jane Smith",
		Title:           "Chief Executive Officer",
		Department:      "Executive",
		Seniority:       models.SeniorityTierCLevel,
		Connections:     9000,
		Followers:       2000,
		Recommendations: 12,
	}
	got := Score(c, archetype)
	// exact title (100*.4) + exact dept (100*.3) + c-level (100*.2) + capped network (100*.1)
	if got != 100 {
		t.Fatalf("expected perfect candidate to score 100, got %.2f", got)
	}

	empty := models.Candidate{Name: "Nobody"}
	if got := Score(empty, archetype); got != 0 {
		t.Fatalf("expected empty candidate to score 0, got %.2f", got)
	}
}

func TestScorePartialTitleMatch(t *testing.T) {
	archetype, _ := ArchetypeFor(models.BuyerGroupRoleDecisionMaker)
	c := models.Candidate{
		Name:      "Sam Lee",
		Title:     "Executive Assistant", // token match on "executive" only
		Seniority: models.SeniorityTierIC,
	}
	got := Score(c, archetype)
	expected := 0.40*matchPartial + 0.20*25 // partial title + IC seniority
	if got != expected {
		t.Fatalf("expected %.2f, got %.2f", expected, got)
	}
}

func TestEffectiveSeniorityFallsBackToTitle(t *testing.T) {
	cases := []struct {
		title    string
		expected models.SeniorityTier
	}{
		{"Chief Technology Officer", models.SeniorityTierCLevel},
		{"VP of Engineering", models.SeniorityTierVP},
		{"Director, Procurement", models.SeniorityTierDirector},
		{"Senior Engineering Manager", models.SeniorityTierManager},
		{"Software Engineer", models.SeniorityTierIC},
		{"", models.SeniorityTierUnknown},
	}
	for _, tc := range cases {
		c := models.Candidate{Title: tc.title}
		if got := effectiveSeniority(c); got != tc.expected {
			t.Fatalf("effectiveSeniority(%q) expected %s, got %s", tc.title, tc.expected, got)
		}
	}

	// Provider-supplied tier wins over inference.
	c := models.Candidate{Title: "Chief Executive Officer", Seniority: models.SeniorityTierManager}
	if got := effectiveSeniority(c); got != models.SeniorityTierManager {
		t.Fatalf("expected provider tier to win, got %s", got)
	}
}

func TestBetterForRoleTieBreaks(t *testing.T) {
	role := models.BuyerGroupRoleStakeholder

	higher := ScoredCandidate{
		Candidate: models.Candidate{Name: "A", ProviderRank: 5},
		Scores:    map[models.BuyerGroupRole]float64{role: 80},
	}
	lower := ScoredCandidate{
		Candidate: models.Candidate{Name: "B", ProviderRank: 1},
		Scores:    map[models.BuyerGroupRole]float64{role: 70},
	}
	if !betterForRole(higher, lower, role) {
		t.Fatal("higher score must win regardless of provider rank")
	}

	// Equal score: seniority ordinal decides.
	senior := ScoredCandidate{
		Candidate: models.Candidate{Name: "C", Seniority: models.SeniorityTierVP, ProviderRank: 9},
		Scores:    map[models.BuyerGroupRole]float64{role: 70},
	}
	junior := ScoredCandidate{
		Candidate: models.Candidate{Name: "D", Seniority: models.SeniorityTierManager, ProviderRank: 1},
		Scores:    map[models.BuyerGroupRole]float64{role: 70},
	}
	if !betterForRole(senior, junior, role) {
		t.Fatal("equal score: higher seniority must win")
	}

	// Equal score and seniority: populated fields decide.
	full := ScoredCandidate{
		Candidate: models.Candidate{Name: "E", Title: "PM", Department: "Product", Email: "e@x.com", ProviderRank: 4},
		Scores:    map[models.BuyerGroupRole]float64{role: 70},
	}
	sparse := ScoredCandidate{
		Candidate: models.Candidate{Name: "F", ProviderRank: 2},
		Scores:    map[models.BuyerGroupRole]float64{role: 70},
	}
	if !betterForRole(full, sparse, role) {
		t.Fatal("equal score and seniority: more populated fields must win")
	}

	// Everything equal: provider rank decides.
	first := ScoredCandidate{
		Candidate: models.Candidate{Name: "G", ProviderRank: 1},
		Scores:    map[models.BuyerGroupRole]float64{role: 70},
	}
	second := ScoredCandidate{
		Candidate: models.Candidate{Name: "H", ProviderRank: 2},
		Scores:    map[models.BuyerGroupRole]float64{role: 70},
	}
	if !betterForRole(first, second, role) {
		t.Fatal("full tie: lower provider rank must win")
	}
}

func TestScoreCandidatesDeterministicOrder(t *testing.T) {
	pool := []models.Candidate{
		{Name: "Zoe", ProviderRank: 2},
		{Name: "Ann", ProviderRank: 2},
		{Name: "Bob", ProviderRank: 1},
	}
	scored := ScoreCandidates(pool)
	wantOrder := []string{"bob", "ann", "zoe"}
	for i, want := range wantOrder {
		if scored[i].Candidate.Key() != want {
			t.Fatalf("position %d: expected %s, got %s", i, want, scored[i].Candidate.Key())
		}
	}
}

func TestNetworkSignalCaps(t *testing.T) {
	cases := []struct {
		name     string
		c        models.Candidate
		expected float64
	}{
		{"zero", models.Candidate{}, 0},
		{"capped size and recs", models.Candidate{Connections: 50000, Followers: 50000, Recommendations: 100}, 100},
		{"mid", models.Candidate{Connections: 1500, Recommendations: 2}, (1.5 + 1.0) / 15.0 * 100.0},
	}
	for _, tc := range cases {
		if got := tc.c.NetworkSignal(); got != tc.expected {
			t.Fatalf("%s: expected %.4f, got %.4f", tc.name, tc.expected, got)
		}
	}
}
