package models

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/adrata/crm_backend/config"
	"github.com/adrata/crm_backend/utils"
	"github.com/shopspring/decimal"
)

// Company is the CRM record a discovered buyer group attaches to.
type Company struct {
	ID            int       `gorm:"primary_key" json:"id"`
	CompanyKey    string    `gorm:"uniqueIndex;size:191;not null" json:"company_key"`
	Name          string    `gorm:"size:191;not null" json:"name"`
	Industry      string    `gorm:"size:100" json:"industry"`
	EmployeeCount int       `gorm:"default:0" json:"employee_count"`
	Website       string    `gorm:"size:191" json:"website"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// CompanyContext is the read-only input for one discovery run. It is not
// persisted; the matching Company row is created/looked up by CompanyKey.
type CompanyContext struct {
	Name              string           `json:"name" validate:"required"`
	EmployeeCount     int              `json:"employee_count" validate:"gte=0"`
	Industry          string           `json:"industry"`
	Website           string           `json:"website"`
	TargetRoles       []BuyerGroupRole `json:"target_roles"`
	AverageDealSize   decimal.Decimal  `json:"average_deal_size"`
	SellerProduct     string           `json:"seller_product"`
	ChampionMandatory bool             `json:"champion_mandatory"`
}

var companyKeyPattern = regexp.MustCompile(`[^a-z0-9]+`)

// CompanyKey derives the stable lookup key a run is stored under.
func (c CompanyContext) CompanyKey() string {
	key := strings.ToLower(strings.TrimSpace(c.Name))
	key = companyKeyPattern.ReplaceAllString(key, "-")
	return strings.Trim(key, "-")
}

// Validate fails fast before any provider call is made.
func (c CompanyContext) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("company name is required")
	}
	if err := utils.ValidateStruct(c); err != nil {
		return err
	}
	for _, r := range c.TargetRoles {
		if _, err := ParseBuyerGroupRole(string(r)); err != nil {
			return fmt.Errorf("invalid target role %q", r)
		}
	}
	return nil
}

// RolesOfInterest returns the roles a run should fill: the caller's target
// roles when given, otherwise all five.
func (c CompanyContext) RolesOfInterest() []BuyerGroupRole {
	if len(c.TargetRoles) == 0 {
		return RolePriorityOrder()
	}
	ordered := make([]BuyerGroupRole, 0, len(c.TargetRoles))
	for _, role := range RolePriorityOrder() {
		for _, t := range c.TargetRoles {
			if t == role {
				ordered = append(ordered, role)
				break
			}
		}
	}
	return ordered
}

func GetOrCreateCompany(ctx context.Context, input CompanyContext) (*Company, error) {
	db := config.GetDB()
	key := input.CompanyKey()

	var company Company
	err := db.WithContext(ctx).Where("company_key = ?", key).Take(&company).Error
	if err == nil {
		// Refresh the mutable fields on re-discovery.
		updates := map[string]interface{}{}
		if input.EmployeeCount > 0 && input.EmployeeCount != company.EmployeeCount {
			updates["employee_count"] = input.EmployeeCount
		}
		if input.Industry != "" && input.Industry != company.Industry {
			updates["industry"] = input.Industry
		}
		if len(updates) > 0 {
			if err := db.WithContext(ctx).Model(&company).Updates(updates).Error; err != nil {
				return nil, err
			}
		}
		return &company, nil
	}

	company = Company{
		CompanyKey:    key,
		Name:          strings.TrimSpace(input.Name),
		Industry:      input.Industry,
		EmployeeCount: input.EmployeeCount,
		Website:       input.Website,
	}
	if err := db.WithContext(ctx).Create(&company).Error; err != nil {
		return nil, err
	}
	return &company, nil
}
