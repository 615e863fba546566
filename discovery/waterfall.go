package discovery

import (
	"context"
	"fmt"

	"github.com/adrata/crm_backend/models"
)

// MaxFallbackAttempts bounds the waterfall expansion. The loop below is the
// termination guarantee: there is no recursion and no retry beyond this.
const MaxFallbackAttempts = 2

// fallbackSearch fetches an expanded candidate pool for a relaxation
// attempt. The orchestrator supplies a closure that applies provider
// retries, pacing and timeouts.
type fallbackSearch func(ctx context.Context, company models.CompanyContext, roleHintTitles []string) ([]models.Candidate, error)

// ResolveMissingCriticalRole runs the bounded secondary search for a
// critical role nobody qualified for. Each attempt relaxes matching a step
// further: attempt 1 widens title matching, attempt 2 additionally widens
// department scope. Returns (nil, nil) when the role stays unresolved.
func ResolveMissingCriticalRole(
	ctx context.Context,
	role models.BuyerGroupRole,
	company models.CompanyContext,
	alreadyConsidered map[string]bool,
	search fallbackSearch,
) (*models.BuyerGroupMember, error) {
	archetype, ok := ArchetypeFor(role)
	if !ok {
		return nil, fmt.Errorf("unknown role %q", role)
	}

	considered := make(map[string]bool, len(alreadyConsidered))
	for k := range alreadyConsidered {
		considered[k] = true
	}

	for attempt := 1; attempt <= MaxFallbackAttempts; attempt++ {
		relax := relaxTitles
		relaxation := "relaxed title matching"
		hints := append(append([]string{}, archetype.TitleKeywords...), archetype.RelaxedTitleKeywords...)
		if attempt >= 2 {
			relax = relaxDepartments
			relaxation = "relaxed title matching and widened department scope"
			hints = append(hints, archetype.AdjacentDepartments...)
		}

		candidates, err := search(ctx, company, hints)
		if err != nil {
			return nil, err
		}

		var best ScoredCandidate
		found := false
		for _, c := range ScoreCandidates(candidates) {
			if considered[c.Candidate.Key()] {
				continue
			}
			c.Scores[role] = scoreWithRelax(c.Candidate, archetype, relax)
			if c.Scores[role] < FallbackAdmissionThreshold {
				continue
			}
			if !found || betterForRole(c, best, role) {
				best = c
				found = true
			}
		}

		if found {
			score := best.Scores[role]
			reasoning := fmt.Sprintf("accepted via waterfall fallback (attempt %d, %s): %s",
				attempt, relaxation, scoreReasoning(best.Candidate, role, score))
			return newMember(best, role, score, reasoning), nil
		}

		// Everything seen this attempt is excluded from the next.
		for _, c := range candidates {
			considered[c.Key()] = true
		}
	}

	return nil, nil
}
