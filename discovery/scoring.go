package discovery

import (
	"fmt"
	"sort"
	"strings"

	"github.com/adrata/crm_backend/models"
	"github.com/adrata/crm_backend/utils"
)

const (
	matchExact   = 100.0
	matchPartial = 60.0
)

// ScoredCandidate carries one candidate's score against every role. Owned by
// the scoring step for the duration of one run.
type ScoredCandidate struct {
	Candidate models.Candidate
	Scores    map[models.BuyerGroupRole]float64
	// SeenBySources lists the distinct providers that surfaced this person;
	// >1 earns the cross-source agreement bonus.
	SeenBySources []string
}

type relaxLevel int

const (
	relaxNone relaxLevel = iota
	// relaxTitles counts partial title matches as exact and adds the
	// archetype's relaxed keyword set (fallback attempt 1).
	relaxTitles
	// relaxDepartments additionally widens department scope to adjacent
	// departments (fallback attempt 2).
	relaxDepartments
)

// Score rates one candidate against one role archetype on [0,100].
// Weighted sum of four independently normalized components; missing signals
// contribute 0 instead of erroring.
func Score(c models.Candidate, archetype RoleArchetype) float64 {
	return scoreWithRelax(c, archetype, relaxNone)
}

func scoreWithRelax(c models.Candidate, archetype RoleArchetype, relax relaxLevel) float64 {
	titleKeywords := archetype.TitleKeywords
	departmentKeywords := archetype.DepartmentKeywords
	if relax >= relaxTitles {
		titleKeywords = append(append([]string{}, titleKeywords...), archetype.RelaxedTitleKeywords...)
	}
	if relax >= relaxDepartments {
		departmentKeywords = append(append([]string{}, departmentKeywords...), archetype.AdjacentDepartments...)
	}

	titleComponent := keywordMatchGrade(c.Title, titleKeywords)
	if relax >= relaxTitles && titleComponent == matchPartial {
		titleComponent = matchExact
	}
	departmentComponent := keywordMatchGrade(c.Department, departmentKeywords)
	seniorityComponent := seniorityScore(effectiveSeniority(c))
	networkComponent := c.NetworkSignal()

	score := archetype.TitleWeight*titleComponent +
		archetype.DepartmentWeight*departmentComponent +
		archetype.SeniorityWeight*seniorityComponent +
		archetype.NetworkWeight*networkComponent

	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

// ScoreAll produces the per-role score vector for one candidate.
func ScoreAll(c models.Candidate) map[models.BuyerGroupRole]float64 {
	scores := make(map[models.BuyerGroupRole]float64, len(catalog))
	for role, archetype := range catalog {
		scores[role] = Score(c, archetype)
	}
	return scores
}

// keywordMatchGrade grades a field against a keyword set: a full keyword
// phrase present in the text is exact; a keyword token present is partial.
func keywordMatchGrade(text string, keywords []string) float64 {
	t := utils.NormalizeName(text)
	if t == "" || len(keywords) == 0 {
		return 0
	}
	best := 0.0
	for _, k := range keywords {
		k = strings.ToLower(strings.TrimSpace(k))
		if k == "" {
			continue
		}
		if strings.Contains(t, k) {
			return matchExact
		}
		for _, token := range strings.Fields(k) {
			if len(token) >= 3 && strings.Contains(t, token) {
				best = matchPartial
			}
		}
	}
	return best
}

func seniorityScore(tier models.SeniorityTier) float64 {
	switch tier.Ordinal() {
	case 5:
		return 100
	case 4:
		return 85
	case 3:
		return 70
	case 2:
		return 50
	case 1:
		return 25
	default:
		return 0
	}
}

// effectiveSeniority prefers the provider-supplied tier, falling back to a
// title inference.
func effectiveSeniority(c models.Candidate) models.SeniorityTier {
	if c.Seniority != models.SeniorityTierUnknown {
		return c.Seniority
	}
	return InferSeniorityTier(c.Title)
}

// ScoreCandidates scores a merged candidate pool against every role and
// returns it in a deterministic base order (provider rank, then name).
func ScoreCandidates(candidates []models.Candidate) []ScoredCandidate {
	scored := make([]ScoredCandidate, 0, len(candidates))
	for _, c := range candidates {
		sources := []string{c.Source}
		scored = append(scored, ScoredCandidate{
			Candidate:     c,
			Scores:        ScoreAll(c),
			SeenBySources: sources,
		})
	}
	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Candidate.ProviderRank != scored[j].Candidate.ProviderRank {
			return scored[i].Candidate.ProviderRank < scored[j].Candidate.ProviderRank
		}
		return scored[i].Candidate.Key() < scored[j].Candidate.Key()
	})
	return scored
}

// betterForRole is the deterministic comparison used when picking a role's
// best candidate: score, then seniority tier, then populated fields, then
// provider-supplied order. No randomness anywhere.
func betterForRole(a, b ScoredCandidate, role models.BuyerGroupRole) bool {
	sa, sb := a.Scores[role], b.Scores[role]
	if sa != sb {
		return sa > sb
	}
	oa := effectiveSeniority(a.Candidate).Ordinal()
	ob := effectiveSeniority(b.Candidate).Ordinal()
	if oa != ob {
		return oa > ob
	}
	pa, pb := a.Candidate.PopulatedFieldCount(), b.Candidate.PopulatedFieldCount()
	if pa != pb {
		return pa > pb
	}
	return a.Candidate.ProviderRank < b.Candidate.ProviderRank
}

func scoreReasoning(c models.Candidate, role models.BuyerGroupRole, score float64) string {
	return fmt.Sprintf("title %q and department %q matched the %s profile (score %.1f, seniority %s)",
		c.Title, c.Department, role, score, effectiveSeniority(c))
}
