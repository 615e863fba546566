package discovery

import (
	"context"

	"github.com/adrata/crm_backend/models"
)

// CandidateProvider is the external people-data source. It may be called
// several times per company: the primary search and the fallback-expanded
// searches pass different role hint titles.
type CandidateProvider interface {
	Name() string
	Search(ctx context.Context, company models.CompanyContext, roleHintTitles []string) ([]models.Candidate, error)
}

// ContactInfo is the result of validating a finalized member's contact
// channels at the Enrich tier.
type ContactInfo struct {
	Email      string  `json:"email"`
	Phone      string  `json:"phone"`
	Confidence float64 `json:"confidence"`
}

// ContactValidator is invoked only for finalized members at Enrich tier or
// above.
type ContactValidator interface {
	Name() string
	Validate(ctx context.Context, candidate models.Candidate) (ContactInfo, error)
}

// Insight is the qualitative output of the Deep Research tier.
type Insight struct {
	Motivations       []string `json:"motivations"`
	PainSignals       []string `json:"pain_signals"`
	SuggestedApproach string   `json:"suggested_approach"`
}

// InsightProvider is invoked only for top-priority members at Deep Research
// tier. It never participates in role assignment.
type InsightProvider interface {
	Name() string
	Analyze(ctx context.Context, member models.BuyerGroupMember, company models.CompanyContext) (Insight, error)
}
