package models

import "errors"

type BuyerGroupRole string

const (
	BuyerGroupRoleDecisionMaker BuyerGroupRole = "DecisionMaker"
	BuyerGroupRoleChampion      BuyerGroupRole = "Champion"
	BuyerGroupRoleStakeholder   BuyerGroupRole = "Stakeholder"
	BuyerGroupRoleBlocker       BuyerGroupRole = "Blocker"
	BuyerGroupRoleIntroducer    BuyerGroupRole = "Introducer"
)

// RolePriorityOrder is the fixed fill order during assembly. Higher-priority
// roles are filled first and survive when the size cap is hit.
func RolePriorityOrder() []BuyerGroupRole {
	return []BuyerGroupRole{
		BuyerGroupRoleDecisionMaker,
		BuyerGroupRoleChampion,
		BuyerGroupRoleStakeholder,
		BuyerGroupRoleIntroducer,
		BuyerGroupRoleBlocker,
	}
}

func ParseBuyerGroupRole(s string) (BuyerGroupRole, error) {
	switch s {
	case "DecisionMaker":
		return BuyerGroupRoleDecisionMaker, nil
	case "Champion":
		return BuyerGroupRoleChampion, nil
	case "Stakeholder":
		return BuyerGroupRoleStakeholder, nil
	case "Blocker":
		return BuyerGroupRoleBlocker, nil
	case "Introducer":
		return BuyerGroupRoleIntroducer, nil
	default:
		return "", errors.New("invalid buyer group role")
	}
}

type SeniorityTier string

const (
	SeniorityTierCLevel   SeniorityTier = "CLevel"
	SeniorityTierVP       SeniorityTier = "VP"
	SeniorityTierDirector SeniorityTier = "Director"
	SeniorityTierManager  SeniorityTier = "Manager"
	SeniorityTierIC       SeniorityTier = "IC"
	SeniorityTierUnknown  SeniorityTier = ""
)

// Ordinal gives the fixed seniority ordering used for scoring and tie-breaks.
func (t SeniorityTier) Ordinal() int {
	switch t {
	case SeniorityTierCLevel:
		return 5
	case SeniorityTierVP:
		return 4
	case SeniorityTierDirector:
		return 3
	case SeniorityTierManager:
		return 2
	case SeniorityTierIC:
		return 1
	default:
		return 0
	}
}

type EnrichmentTier string

const (
	EnrichmentTierIdentify     EnrichmentTier = "Identify"
	EnrichmentTierEnrich       EnrichmentTier = "Enrich"
	EnrichmentTierDeepResearch EnrichmentTier = "DeepResearch"
)

// Rank orders tiers so callers can compare requested vs achieved.
func (t EnrichmentTier) Rank() int {
	switch t {
	case EnrichmentTierIdentify:
		return 1
	case EnrichmentTierEnrich:
		return 2
	case EnrichmentTierDeepResearch:
		return 3
	default:
		return 0
	}
}

func ParseEnrichmentTier(s string) (EnrichmentTier, error) {
	switch s {
	case "", "Identify":
		return EnrichmentTierIdentify, nil
	case "Enrich":
		return EnrichmentTierEnrich, nil
	case "DeepResearch":
		return EnrichmentTierDeepResearch, nil
	default:
		return "", errors.New("invalid enrichment tier")
	}
}

type DiscoveryJobStatus string

const (
	DiscoveryJobStatusQueued    DiscoveryJobStatus = "Queued"
	DiscoveryJobStatusRunning   DiscoveryJobStatus = "Running"
	DiscoveryJobStatusCompleted DiscoveryJobStatus = "Completed"
	DiscoveryJobStatusFailed    DiscoveryJobStatus = "Failed"
)
