package discovery

import (
	"strings"

	"github.com/adrata/crm_backend/models"
)

// RoleArchetype is the static scoring profile for one buyer group role.
// Weights sum to 1.0. The relaxed keyword sets only come into play during
// waterfall fallback.
type RoleArchetype struct {
	Role models.BuyerGroupRole

	TitleWeight      float64
	DepartmentWeight float64
	SeniorityWeight  float64
	NetworkWeight    float64

	TitleKeywords      []string
	DepartmentKeywords []string

	// RelaxedTitleKeywords widen the title search on fallback attempt 1.
	RelaxedTitleKeywords []string
	// AdjacentDepartments widen the department scope on fallback attempt 2.
	AdjacentDepartments []string
}

var catalog = map[models.BuyerGroupRole]RoleArchetype{
	models.BuyerGroupRoleDecisionMaker: {
		Role:             models.BuyerGroupRoleDecisionMaker,
		TitleWeight:      0.40,
		DepartmentWeight: 0.30,
		SeniorityWeight:  0.20,
		NetworkWeight:    0.10,
		TitleKeywords: []string{
			"ceo", "cto", "cfo", "coo", "chief executive officer", "chief revenue officer",
			"president", "founder", "co-founder", "owner", "general manager",
		},
		DepartmentKeywords: []string{
			"executive", "leadership", "general management", "finance",
		},
		RelaxedTitleKeywords: []string{
			"vp", "vice president", "head of", "senior director", "managing director",
		},
		AdjacentDepartments: []string{
			"operations", "sales", "revenue",
		},
	},
	models.BuyerGroupRoleChampion: {
		Role:             models.BuyerGroupRoleChampion,
		TitleWeight:      0.40,
		DepartmentWeight: 0.30,
		SeniorityWeight:  0.20,
		NetworkWeight:    0.10,
		TitleKeywords: []string{
			"sales director", "sales leader", "head of sales", "vp sales",
			"revenue operations", "sales enablement", "sales strategy", "sales operations",
		},
		DepartmentKeywords: []string{
			"sales", "revenue", "revenue operations", "growth",
		},
		RelaxedTitleKeywords: []string{
			"sales manager", "account executive", "business development",
		},
		AdjacentDepartments: []string{
			"marketing", "customer success",
		},
	},
	models.BuyerGroupRoleStakeholder: {
		Role:             models.BuyerGroupRoleStakeholder,
		TitleWeight:      0.40,
		DepartmentWeight: 0.30,
		SeniorityWeight:  0.20,
		NetworkWeight:    0.10,
		TitleKeywords: []string{
			"product manager", "engineering manager", "director of product",
			"head of marketing", "marketing director", "operations manager", "it director",
		},
		DepartmentKeywords: []string{
			"product", "engineering", "marketing", "operations", "it",
		},
		RelaxedTitleKeywords: []string{
			"analyst", "program manager", "project manager",
		},
		AdjacentDepartments: []string{
			"data", "design", "support",
		},
	},
	models.BuyerGroupRoleBlocker: {
		Role:             models.BuyerGroupRoleBlocker,
		TitleWeight:      0.40,
		DepartmentWeight: 0.30,
		SeniorityWeight:  0.20,
		NetworkWeight:    0.10,
		TitleKeywords: []string{
			"general counsel", "legal counsel", "security officer", "ciso",
			"procurement", "compliance", "controller", "risk",
		},
		DepartmentKeywords: []string{
			"legal", "security", "procurement", "compliance", "finance",
		},
		RelaxedTitleKeywords: []string{
			"attorney", "auditor", "privacy",
		},
		AdjacentDepartments: []string{
			"it", "operations",
		},
	},
	models.BuyerGroupRoleIntroducer: {
		Role:             models.BuyerGroupRoleIntroducer,
		TitleWeight:      0.40,
		DepartmentWeight: 0.30,
		SeniorityWeight:  0.20,
		NetworkWeight:    0.10,
		TitleKeywords: []string{
			"account manager", "customer success", "client manager", "partnerships",
			"business development", "alliances", "community",
		},
		DepartmentKeywords: []string{
			"customer success", "partnerships", "business development", "sales",
		},
		RelaxedTitleKeywords: []string{
			"relationship manager", "advisor", "consultant",
		},
		AdjacentDepartments: []string{
			"marketing", "support",
		},
	},
}

// Catalog returns the static archetype table. It is read-only and safely
// shared across concurrent discoveries.
func Catalog() map[models.BuyerGroupRole]RoleArchetype {
	return catalog
}

// ArchetypeFor looks up one role's profile.
func ArchetypeFor(role models.BuyerGroupRole) (RoleArchetype, bool) {
	a, ok := catalog[role]
	return a, ok
}

// RoleHintTitles collects the title keywords for the given roles, used to
// seed the provider search.
func RoleHintTitles(roles []models.BuyerGroupRole) []string {
	var hints []string
	for _, role := range roles {
		if a, ok := catalog[role]; ok {
			hints = append(hints, a.TitleKeywords...)
		}
	}
	return hints
}

// InferSeniorityTier derives a tier from a raw title when the provider did
// not supply one. Keyword ladder mirrors the title heuristics the candidate
// sources use.
func InferSeniorityTier(title string) models.SeniorityTier {
	t := strings.ToLower(title)
	switch {
	case containsAny(t, []string{"ceo", "cto", "cfo", "coo", "chief", "president", "founder", "co-founder", "owner"}):
		return models.SeniorityTierCLevel
	case containsAny(t, []string{"vice president", "vp", "svp", "evp"}):
		return models.SeniorityTierVP
	case containsAny(t, []string{"director", "head of"}):
		return models.SeniorityTierDirector
	case containsAny(t, []string{"manager", "lead", "principal"}):
		return models.SeniorityTierManager
	case strings.TrimSpace(t) == "":
		return models.SeniorityTierUnknown
	default:
		return models.SeniorityTierIC
	}
}

func containsAny(text string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(text, k) {
			return true
		}
	}
	return false
}
