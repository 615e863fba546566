package models

import (
	"context"
	"errors"
	"time"

	"github.com/adrata/crm_backend/config"
	"gorm.io/gorm"
)

const buyerGroupCacheTTL = 6 * time.Hour

// BuyerGroupMember is a candidate finalized into exactly one role.
// Identify-tier fields (role, score, reasoning) are frozen after assembly;
// later tiers only fill the enrichment columns.
type BuyerGroupMember struct {
	ID           int     `gorm:"primary_key" json:"id"`
	BuyerGroupId string  `gorm:"index;size:36;not null" json:"buyer_group_id"`
	CandidateKey string  `gorm:"size:191;not null" json:"candidate_key"`
	Name         string  `gorm:"size:191;not null" json:"name"`
	Title        string  `gorm:"size:191" json:"title"`
	Department   string  `gorm:"size:100" json:"department"`
	Seniority    string  `gorm:"size:20" json:"seniority"`
	Role         string  `gorm:"size:20;not null" json:"role"`
	Score        float64 `gorm:"type:decimal(5,2)" json:"score"`
	Confidence   float64 `gorm:"type:decimal(5,2)" json:"confidence"`
	Reasoning    string  `gorm:"type:text" json:"reasoning"`
	Sources      string  `gorm:"size:191" json:"sources"`
	SourceId     string  `gorm:"size:100" json:"source_id"`

	// Enrich tier (additive).
	Email             string  `gorm:"size:191" json:"email"`
	Phone             string  `gorm:"size:40" json:"phone"`
	ContactConfidence float64 `gorm:"type:decimal(5,2)" json:"contact_confidence"`

	// Deep Research tier (additive).
	Motivations       string `gorm:"type:text" json:"motivations"`
	PainSignals       string `gorm:"type:text" json:"pain_signals"`
	SuggestedApproach string `gorm:"type:text" json:"suggested_approach"`

	// AchievedTier records the highest tier that actually completed for this
	// member; a failed optional enrichment leaves the lower tier's value.
	AchievedTier string    `gorm:"size:20;not null;default:'Identify'" json:"achieved_tier"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// BuyerGroup is one discovery run's result. A re-run inserts a new row and
// supersedes (never merges with) the previous one.
type BuyerGroup struct {
	ID                     string              `gorm:"primary_key;size:36" json:"id"`
	CompanyKey             string              `gorm:"index;size:191;not null" json:"company_key"`
	CompanyName            string              `gorm:"size:191;not null" json:"company_name"`
	RequestedTier          string              `gorm:"size:20;not null" json:"requested_tier"`
	AchievedTier           string              `gorm:"size:20;not null" json:"achieved_tier"`
	OverallConfidence      float64             `gorm:"type:decimal(5,2)" json:"overall_confidence"`
	SizeTargetMin          int                 `json:"size_target_min"`
	SizeTargetMax          int                 `json:"size_target_max"`
	CriticalRoleUnresolved bool                `gorm:"not null;default:false" json:"critical_role_unresolved"`
	Reason                 string              `gorm:"size:191" json:"reason"`
	EngagementStrategy     string              `gorm:"size:191" json:"engagement_strategy"`
	GroupPriority          string              `gorm:"size:20" json:"group_priority"`
	Members                []*BuyerGroupMember `gorm:"foreignKey:BuyerGroupId" json:"members"`
	GeneratedAt            time.Time           `gorm:"index;not null" json:"generated_at"`
	CreatedAt              time.Time           `gorm:"autoCreateTime" json:"created_at"`
}

func buyerGroupCacheKey(companyKey string) string {
	return "BuyerGroup:" + companyKey
}

// SaveBuyerGroup persists a finished run and refreshes the read cache.
func SaveBuyerGroup(ctx context.Context, group *BuyerGroup) error {
	if group == nil {
		return errors.New("buyer group is nil")
	}
	if group.ID == "" {
		return errors.New("buyer group id is required")
	}
	db := config.GetDB()
	if db == nil {
		return errors.New("db is nil")
	}

	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("Members").Create(group).Error; err != nil {
			return err
		}
		for _, m := range group.Members {
			m.BuyerGroupId = group.ID
			if err := tx.Create(m).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	// Cache refresh is best-effort; reads fall back to the DB.
	_ = config.SetRedisObject(buyerGroupCacheKey(group.CompanyKey), group, buyerGroupCacheTTL)
	return nil
}

// GetLatestBuyerGroup returns the newest stored run for a company, or
// (nil, nil) when none exists.
func GetLatestBuyerGroup(ctx context.Context, companyKey string) (*BuyerGroup, error) {
	var cached BuyerGroup
	if ok, err := config.GetRedisObject(buyerGroupCacheKey(companyKey), &cached); err == nil && ok {
		return &cached, nil
	}

	db := config.GetDB()
	if db == nil {
		return nil, errors.New("db is nil")
	}

	var group BuyerGroup
	err := db.WithContext(ctx).
		Where("company_key = ?", companyKey).
		Order("generated_at DESC").
		Preload("Members").
		First(&group).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}

	_ = config.SetRedisObject(buyerGroupCacheKey(companyKey), &group, buyerGroupCacheTTL)
	return &group, nil
}

// InvalidateBuyerGroupCache drops the cached run for a company, e.g. after
// an async re-discovery supersedes it.
func InvalidateBuyerGroupCache(companyKey string) error {
	return config.RemoveRedisKey(buyerGroupCacheKey(companyKey))
}
