package config

import (
	"os"
	"strings"
)

// ContactValidationEnabled gates the Enrich tier's contact-channel
// validation calls. With the flag off, Enrich requests degrade to Identify.
//
// Set via env:
// - CONTACT_VALIDATION_ENABLED=true
func ContactValidationEnabled() bool {
	return boolFromEnv("CONTACT_VALIDATION_ENABLED")
}

// DeepResearchEnabled gates the Deep Research tier's qualitative AI
// analysis calls. With the flag off, DeepResearch requests degrade to
// whatever Enrich produced.
//
// Set via env:
// - DEEP_RESEARCH_ENABLED=true
func DeepResearchEnabled() bool {
	return boolFromEnv("DEEP_RESEARCH_ENABLED")
}

func boolFromEnv(key string) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	return v == "1" || v == "true" || v == "yes" || v == "y"
}
