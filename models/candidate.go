package models

import (
	"strings"

	"github.com/adrata/crm_backend/utils"
)

// Candidate is one raw person record returned by a data provider. Immutable
// once fetched within a run.
type Candidate struct {
	Name            string        `json:"name"`
	Title           string        `json:"title"`
	Department      string        `json:"department"`
	Seniority       SeniorityTier `json:"seniority"`
	Connections     int           `json:"connections"`
	Followers       int           `json:"followers"`
	Recommendations int           `json:"recommendations"`
	Email           string        `json:"email"`
	Phone           string        `json:"phone"`
	Source          string        `json:"source"`
	SourceId        string        `json:"source_id"`
	// ProviderRank preserves the provider-supplied ordering; it is the final
	// deterministic tie-break during assembly.
	ProviderRank int `json:"provider_rank"`
}

// Key identifies the same person across providers.
func (c Candidate) Key() string {
	return utils.NormalizeName(c.Name)
}

// NetworkSignal normalizes external connectivity to [0,100].
// Base formula follows the network-size heuristic: (connections+followers)
// capped at 10k maps linearly onto the scale, with a small bump for peer
// recommendations.
func (c Candidate) NetworkSignal() float64 {
	raw := float64(c.Connections+c.Followers) / 1000.0
	if raw > 10 {
		raw = 10
	}
	bonus := float64(c.Recommendations) * 0.5
	if bonus > 5 {
		bonus = 5
	}
	signal := (raw + bonus) / 15.0 * 100.0
	if signal > 100 {
		signal = 100
	}
	return signal
}

// PopulatedFieldCount counts the informative fields a provider filled in.
// Used as the second deterministic tie-break.
func (c Candidate) PopulatedFieldCount() int {
	count := 0
	for _, s := range []string{c.Title, c.Department, c.Email, c.Phone} {
		if strings.TrimSpace(s) != "" {
			count++
		}
	}
	if c.Seniority != SeniorityTierUnknown {
		count++
	}
	if c.Connections+c.Followers > 0 {
		count++
	}
	return count
}

// CompletenessFraction is the proportion of fields expected by the
// confidence model that are populated: title, department, a contact
// channel, and a network signal.
func (c Candidate) CompletenessFraction() float64 {
	populated := 0
	if strings.TrimSpace(c.Title) != "" {
		populated++
	}
	if strings.TrimSpace(c.Department) != "" {
		populated++
	}
	if strings.TrimSpace(c.Email) != "" || strings.TrimSpace(c.Phone) != "" {
		populated++
	}
	if c.Connections+c.Followers > 0 {
		populated++
	}
	return float64(populated) / 4.0
}
