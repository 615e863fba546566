package discovery

import (
	"math"
	"strings"

	"github.com/adrata/crm_backend/models"
)

// AdmissionThreshold is the minimum role score a candidate needs to join the
// group during normal assembly.
const AdmissionThreshold = 40.0

// FallbackAdmissionThreshold is the lowered bar used by the waterfall
// resolver for critical roles.
const FallbackAdmissionThreshold = 25.0

// SizeRangeForEmployeeCount derives the adaptive member-count target from
// company scale.
func SizeRangeForEmployeeCount(employees int) (min int, max int) {
	switch {
	case employees >= 10000:
		return 12, 18
	case employees >= 1000:
		return 8, 15
	case employees >= 500:
		return 6, 12
	case employees >= 100:
		return 4, 8
	default:
		return 3, 6
	}
}

// AssembleResult is the partial buyer group produced by assembly, before
// fallback and confidence aggregation.
type AssembleResult struct {
	Members       []*models.BuyerGroupMember
	AssignedKeys  map[string]bool
	MissingRoles  []models.BuyerGroupRole
	TargetMin     int
	TargetMax     int
	// CriticalRoleMissing triggers the waterfall resolver for the named
	// roles (decision maker; champion when the caller marks it mandatory).
	CriticalRoleMissing []models.BuyerGroupRole
}

// Assemble picks a non-overlapping, adaptively sized set of role
// assignments from the scored pool. Roles are filled round-robin in fixed
// priority order; a candidate joins at most one role.
func Assemble(scored []ScoredCandidate, company models.CompanyContext) AssembleResult {
	targetMin, targetMax := SizeRangeForEmployeeCount(company.EmployeeCount)
	roles := company.RolesOfInterest()

	result := AssembleResult{
		AssignedKeys: map[string]bool{},
		TargetMin:    targetMin,
		TargetMax:    targetMax,
	}

	filled := map[models.BuyerGroupRole]int{}
	for len(result.Members) < targetMax {
		added := false
		for _, role := range roles {
			if len(result.Members) >= targetMax {
				// Upper bound reached: lower-priority roles in this pass are
				// dropped first, by construction of the iteration order.
				break
			}
			best, ok := bestUnassigned(scored, role, result.AssignedKeys, AdmissionThreshold)
			if !ok {
				continue
			}
			member := newMember(best, role, best.Scores[role], scoreReasoning(best.Candidate, role, best.Scores[role]))
			result.Members = append(result.Members, member)
			result.AssignedKeys[best.Candidate.Key()] = true
			filled[role]++
			added = true
		}
		if !added {
			break
		}
	}

	for _, role := range roles {
		if filled[role] > 0 {
			continue
		}
		result.MissingRoles = append(result.MissingRoles, role)
		if isCriticalRole(role, company) {
			result.CriticalRoleMissing = append(result.CriticalRoleMissing, role)
		}
	}

	return result
}

func isCriticalRole(role models.BuyerGroupRole, company models.CompanyContext) bool {
	if role == models.BuyerGroupRoleDecisionMaker {
		return true
	}
	return role == models.BuyerGroupRoleChampion && company.ChampionMandatory
}

func bestUnassigned(scored []ScoredCandidate, role models.BuyerGroupRole, assigned map[string]bool, threshold float64) (ScoredCandidate, bool) {
	var best ScoredCandidate
	found := false
	for _, sc := range scored {
		if assigned[sc.Candidate.Key()] {
			continue
		}
		if sc.Scores[role] < threshold {
			continue
		}
		if !found || betterForRole(sc, best, role) {
			best = sc
			found = true
		}
	}
	return best, found
}

func newMember(sc ScoredCandidate, role models.BuyerGroupRole, score float64, reasoning string) *models.BuyerGroupMember {
	c := sc.Candidate
	return &models.BuyerGroupMember{
		CandidateKey: c.Key(),
		Name:         c.Name,
		Title:        c.Title,
		Department:   c.Department,
		Seniority:    string(effectiveSeniority(c)),
		Role:         string(role),
		Score:        roundScore(score),
		Reasoning:    reasoning,
		Sources:      strings.Join(sc.SeenBySources, ","),
		SourceId:     c.SourceId,
		AchievedTier: string(models.EnrichmentTierIdentify),
	}
}

func roundScore(v float64) float64 {
	return math.Round(v*100) / 100
}
