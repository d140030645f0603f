package analyzer

import (
	"bytes"
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"
)

// RankingExportHeader 排名报表表头
var RankingExportHeader = []string{
	"Rank",
	"Entity ID",
	"Scope",
	"Goals",
	"Goals With Data",
	"Goals Achieved",
	"Achievement Rate",
	"Avg Variance %",
	"Performance Score",
	"Percentile",
}

// GenerateRankingExport 生成排名报表 Excel 文件
// entities 必须已经过 RankEntities 排序；为空时只生成表头
func GenerateRankingExport(entities []*RankedEntity, periodStart, periodEnd time.Time) ([]byte, error) {
	f := excelize.NewFile()
	// WriteTo 需要文件保持打开，出错路径手动 Close

	sheetName := "Goal Ranking"
	index, err := f.NewSheet(sheetName)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}

	f.DeleteSheet("Sheet1")
	f.SetActiveSheet(index)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{
			Bold: true,
		},
		Fill: excelize.Fill{
			Type:    "pattern",
			Color:   []string{"#E6F3FF"},
			Pattern: 1,
		},
		Alignment: &excelize.Alignment{
			Horizontal: "center",
			Vertical:   "center",
		},
	})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}

	// 报表期间写在第一行，表头从第二行开始
	period := fmt.Sprintf("Period: %s ~ %s",
		periodStart.Format("2006-01-02"), periodEnd.Format("2006-01-02"))
	if err := f.SetCellValue(sheetName, "A1", period); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to set period cell: %w", err)
	}

	for col, header := range RankingExportHeader {
		cell, err := excelize.CoordinatesToCellName(col+1, 2)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to convert coordinates: %w", err)
		}
		if err := f.SetCellValue(sheetName, cell, header); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to set header cell %s: %w", cell, err)
		}
		if err := f.SetCellStyle(sheetName, cell, cell, headerStyle); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to set header style: %w", err)
		}
	}

	columnWidths := []float64{8, 38, 12, 8, 15, 15, 16, 14, 17, 12}
	for i := range RankingExportHeader {
		col, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to convert column number: %w", err)
		}
		if err := f.SetColWidth(sheetName, col, col, columnWidths[i]); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to set column width: %w", err)
		}
	}

	for rowIdx, entity := range entities {
		row := rowIdx + 3
		values := []interface{}{
			entity.Rank,
			entity.EntityID,
			string(entity.Scope),
			entity.GoalCount,
			entity.GoalsWithData,
			entity.GoalsAchieved,
			fmt.Sprintf("%.1f%%", entity.AchievementRate*100),
			fmt.Sprintf("%.1f", entity.AverageVariance),
			fmt.Sprintf("%.1f", entity.PerformanceScore),
			fmt.Sprintf("%.0f", entity.Percentile),
		}
		for colIdx, value := range values {
			cell, err := excelize.CoordinatesToCellName(colIdx+1, row)
			if err != nil {
				f.Close()
				return nil, fmt.Errorf("failed to convert coordinates: %w", err)
			}
			if err := f.SetCellValue(sheetName, cell, value); err != nil {
				f.Close()
				return nil, fmt.Errorf("failed to set cell %s: %w", cell, err)
			}
		}
	}

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write to buffer: %w", err)
	}

	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("failed to close file: %w", err)
	}

	return buf.Bytes(), nil
}
