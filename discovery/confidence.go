package discovery

import (
	"github.com/adrata/crm_backend/models"
)

// Confidence weights: the winning role score dominates, data completeness
// and cross-source agreement adjust it.
const (
	confidenceScoreWeight        = 0.6
	confidenceCompletenessWeight = 0.3
	confidenceAgreementWeight    = 0.1

	decisionMakerMissingPenalty = 0.5
	championMissingPenalty      = 0.75
)

// MemberConfidence blends the member's winning role score, the candidate's
// data completeness, and a cross-source agreement bonus into [0,100].
func MemberConfidence(member *models.BuyerGroupMember, candidate models.Candidate, multiSource bool) float64 {
	completeness := candidate.CompletenessFraction() * 100
	agreement := 0.0
	if multiSource {
		agreement = 100
	}
	confidence := confidenceScoreWeight*member.Score +
		confidenceCompletenessWeight*completeness +
		confidenceAgreementWeight*agreement
	if confidence < 0 {
		return 0
	}
	if confidence > 100 {
		return 100
	}
	return roundScore(confidence)
}

// OverallConfidence averages member confidences and penalizes unresolved
// critical roles, so a group full of well-scored minor roles without a
// decision maker still reports low confidence. Returns 0 iff there are no
// members.
func OverallConfidence(members []*models.BuyerGroupMember, unresolvedCritical []models.BuyerGroupRole) float64 {
	if len(members) == 0 {
		return 0
	}
	sum := 0.0
	for _, m := range members {
		sum += m.Confidence
	}
	overall := sum / float64(len(members))
	for _, role := range unresolvedCritical {
		switch role {
		case models.BuyerGroupRoleDecisionMaker:
			overall *= decisionMakerMissingPenalty
		case models.BuyerGroupRoleChampion:
			overall *= championMissingPenalty
		}
	}
	if overall > 100 {
		overall = 100
	}
	return roundScore(overall)
}
