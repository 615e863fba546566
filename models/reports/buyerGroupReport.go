package reports

import (
	"fmt"

	"github.com/adrata/crm_backend/models"
	"github.com/xuri/excelize/v2"
)

// BuildBuyerGroupWorkbook renders a stored buyer group as a spreadsheet for
// sales teams: one summary row block, then one row per member.
func BuildBuyerGroupWorkbook(group *models.BuyerGroup) (*excelize.File, error) {
	f := excelize.NewFile()
	sheetName := "Buyer Group"
	idx, err := f.NewSheet(sheetName)
	if err != nil {
		return nil, err
	}
	f.SetActiveSheet(idx)
	_ = f.DeleteSheet("Sheet1")

	// Summary block.
	f.SetCellValue(sheetName, "A1", "Company")
	f.SetCellValue(sheetName, "B1", group.CompanyName)
	f.SetCellValue(sheetName, "A2", "Generated At")
	f.SetCellValue(sheetName, "B2", group.GeneratedAt.Format("2006-01-02 15:04:05"))
	f.SetCellValue(sheetName, "A3", "Requested Tier")
	f.SetCellValue(sheetName, "B3", group.RequestedTier)
	f.SetCellValue(sheetName, "A4", "Achieved Tier")
	f.SetCellValue(sheetName, "B4", group.AchievedTier)
	f.SetCellValue(sheetName, "A5", "Overall Confidence")
	f.SetCellValue(sheetName, "B5", group.OverallConfidence)
	f.SetCellValue(sheetName, "A6", "Engagement Strategy")
	f.SetCellValue(sheetName, "B6", group.EngagementStrategy)
	f.SetCellValue(sheetName, "A7", "Priority")
	f.SetCellValue(sheetName, "B7", group.GroupPriority)
	if group.CriticalRoleUnresolved {
		f.SetCellValue(sheetName, "A8", "Warning")
		f.SetCellValue(sheetName, "B8", "critical role unresolved")
	}

	// Member table headers.
	headerRow := 10
	headings := []string{"Name", "Title", "Department", "Seniority", "Role", "Score", "Confidence", "Email", "Phone", "Sources", "Tier", "Reasoning"}
	col := 'A'
	for _, h := range headings {
		f.SetCellValue(sheetName, fmt.Sprintf("%c%d", col, headerRow), h)
		col++
	}

	// Member rows.
	for i, m := range group.Members {
		row := headerRow + 1 + i
		values := []interface{}{
			m.Name, m.Title, m.Department, m.Seniority, m.Role,
			m.Score, m.Confidence, m.Email, m.Phone, m.Sources,
			m.AchievedTier, m.Reasoning,
		}
		col := 'A'
		for _, v := range values {
			f.SetCellValue(sheetName, fmt.Sprintf("%c%d", col, row), v)
			col++
		}
	}

	return f, nil
}
