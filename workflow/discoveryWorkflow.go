package workflow

import (
	"context"
	"errors"
	"fmt"

	"github.com/adrata/crm_backend/config"
	"github.com/adrata/crm_backend/discovery"
	"github.com/adrata/crm_backend/models"
	"github.com/sirupsen/logrus"
)

// ProcessDiscoveryJob handles one queued discovery delivery end to end:
// dedupe claim, discovery run, persistence, job bookkeeping. Returning nil
// acks the message; a non-nil error triggers redelivery.
func ProcessDiscoveryJob(ctx context.Context, logger *logrus.Logger, orchestrator *discovery.Orchestrator, messageId string, msg config.DiscoveryJobMessage) error {
	record, err := models.ClaimDiscoveryJob(ctx, msg.CompanyKey, messageId)
	if err != nil {
		config.LogError(logger, "discoveryWorkflow.go", "ProcessDiscoveryJob", "claim", msg, err)
		return err
	}
	if record == nil {
		// Duplicate delivery of an already completed job.
		config.LogWarn(logger, "discoveryWorkflow.go", "ProcessDiscoveryJob", msg.CompanyKey, "duplicate delivery ignored")
		return nil
	}

	company := models.CompanyContext{
		Name:          msg.CompanyName,
		EmployeeCount: msg.EmployeeCount,
		Industry:      msg.Industry,
	}
	tier, err := models.ParseEnrichmentTier(msg.EnrichmentTier)
	if err != nil {
		// Malformed tier will never succeed on redelivery; fail the job and ack.
		_ = record.MarkFailed(ctx, err)
		config.LogError(logger, "discoveryWorkflow.go", "ProcessDiscoveryJob", "tier", msg, err)
		return nil
	}

	if _, err := models.GetOrCreateCompany(ctx, company); err != nil {
		config.LogError(logger, "discoveryWorkflow.go", "ProcessDiscoveryJob", "company", msg, err)
		_ = record.MarkFailed(ctx, err)
		return err
	}

	group, err := orchestrator.Discover(ctx, company, tier)
	if err != nil {
		var invalid *discovery.ValidationError
		if errors.As(err, &invalid) {
			_ = record.MarkFailed(ctx, err)
			config.LogError(logger, "discoveryWorkflow.go", "ProcessDiscoveryJob", "validate", msg, err)
			return nil
		}
		config.LogError(logger, "discoveryWorkflow.go", "ProcessDiscoveryJob", "discover", msg, err)
		_ = record.MarkFailed(ctx, err)
		return err
	}

	if err := models.SaveBuyerGroup(ctx, group); err != nil {
		config.LogError(logger, "discoveryWorkflow.go", "ProcessDiscoveryJob", "save", group.CompanyKey, err)
		_ = record.MarkFailed(ctx, err)
		return err
	}

	if msg.OldGroupId != "" {
		// The new run supersedes the old one; drop any stale cached copy.
		_ = models.InvalidateBuyerGroupCache(msg.CompanyKey)
	}

	if err := record.MarkCompleted(ctx, group.ID); err != nil {
		config.LogError(logger, "discoveryWorkflow.go", "ProcessDiscoveryJob", "complete", group.ID, err)
		return err
	}

	logger.WithFields(logrus.Fields{
		"module":     "discoveryWorkflow.go",
		"companyKey": group.CompanyKey,
		"groupId":    group.ID,
		"tier":       group.AchievedTier,
		"members":    len(group.Members),
		"confidence": fmt.Sprintf("%.2f", group.OverallConfidence),
	}).Info("discovery job completed")
	return nil
}
