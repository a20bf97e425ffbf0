package report

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"forwarder/internal/domain"
	"forwarder/internal/models"

	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"
)

const (
	tasksSheet   = "Задачи"
	summarySheet = "Сводка"
)

// Exporter renders task state and aggregate counters into an Excel file.
type Exporter struct {
	store  domain.TaskStore
	path   string
	logger *zerolog.Logger
}

func NewExporter(store domain.TaskStore, path string, logger *zerolog.Logger) *Exporter {
	return &Exporter{store: store, path: path, logger: logger}
}

// ExportTasks создает Excel файл со срезом задач и сводкой
func (e *Exporter) ExportTasks(ctx context.Context, filter models.TaskFilter) (string, error) {
	if err := os.MkdirAll(e.path, 0o755); err != nil {
		return "", fmt.Errorf("error creating export directory: %v", err)
	}

	tasks, err := e.store.ListTasks(ctx, filter)
	if err != nil {
		return "", fmt.Errorf("error listing tasks: %v", err)
	}
	stats, err := e.store.TaskStats(ctx, filter)
	if err != nil {
		return "", fmt.Errorf("error aggregating stats: %v", err)
	}

	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(tasksSheet)
	if err != nil {
		return "", fmt.Errorf("error creating sheet: %v", err)
	}
	f.SetActiveSheet(index)

	e.writeTaskHeaders(f)
	e.writeTaskRows(f, tasks)
	e.writeSummary(f, stats)

	_ = f.DeleteSheet("Sheet1")

	fileName := fmt.Sprintf("tasks_export_%s.xlsx", time.Now().Format("2006-01-02_15-04-05"))
	filePath := filepath.Join(e.path, fileName)
	if err := f.SaveAs(filePath); err != nil {
		return "", fmt.Errorf("error saving file: %v", err)
	}

	e.logger.Info().Str("file_path", filePath).Int("tasks", len(tasks)).Msg("Excel file created")
	return filePath, nil
}

func (e *Exporter) writeTaskHeaders(f *excelize.File) {
	headers := []string{
		"ID", "Название", "Клиент", "Юзербот", "Статус", "Интервал (мин)",
		"Следующий запуск", "Последний запуск", "Всего запусков", "Успешных",
		"Провалов", "Провалов подряд", "Последняя ошибка",
	}

	style, _ := f.NewStyle(&excelize.Style{
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
		Font:      &excelize.Font{Bold: true},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})

	for i, header := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(tasksSheet, cell, header)
		_ = f.SetCellStyle(tasksSheet, cell, cell, style)
	}

	_ = f.SetColWidth(tasksSheet, "A", "A", 8)
	_ = f.SetColWidth(tasksSheet, "B", "D", 20)
	_ = f.SetColWidth(tasksSheet, "E", "F", 14)
	_ = f.SetColWidth(tasksSheet, "G", "H", 20)
	_ = f.SetColWidth(tasksSheet, "I", "L", 14)
	_ = f.SetColWidth(tasksSheet, "M", "M", 40)
}

func (e *Exporter) writeTaskRows(f *excelize.File, tasks []*models.Task) {
	for i, task := range tasks {
		row := i + 2
		lastRun := ""
		if task.LastRun != nil {
			lastRun = task.LastRun.Format("02.01.2006 15:04")
		}

		values := []interface{}{
			task.ID,
			task.Name,
			task.ClientID,
			task.UserbotPhone,
			statusLabel(task.Status),
			int64(task.Interval / time.Minute),
			task.NextDue.Format("02.01.2006 15:04"),
			lastRun,
			task.TotalRuns,
			task.SuccessfulRuns,
			task.FailedRuns,
			task.ConsecutiveFailures,
			task.LastError,
		}
		for col, value := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row)
			_ = f.SetCellValue(tasksSheet, cell, value)
		}

		if styleID, err := e.rowStyle(f, task.Status); err == nil {
			first, _ := excelize.CoordinatesToCellName(1, row)
			last, _ := excelize.CoordinatesToCellName(len(values), row)
			_ = f.SetCellStyle(tasksSheet, first, last, styleID)
		}
	}
}

func (e *Exporter) writeSummary(f *excelize.File, stats *models.Stats) {
	if _, err := f.NewSheet(summarySheet); err != nil {
		return
	}

	rows := [][]interface{}{
		{"Всего задач", stats.TotalTasks},
		{"Активных", stats.ActiveTasks},
		{"На паузе", stats.PausedTasks},
		{"Завершённых", stats.CompletedTasks},
		{"Проваленных", stats.FailedTasks},
		{"Всего запусков", stats.TotalRuns},
		{"Успешных запусков", stats.SuccessfulRuns},
		{"Проваленных запусков", stats.FailedRuns},
	}

	labelStyle, _ := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	for i, row := range rows {
		labelCell, _ := excelize.CoordinatesToCellName(1, i+1)
		valueCell, _ := excelize.CoordinatesToCellName(2, i+1)
		_ = f.SetCellValue(summarySheet, labelCell, row[0])
		_ = f.SetCellValue(summarySheet, valueCell, row[1])
		_ = f.SetCellStyle(summarySheet, labelCell, labelCell, labelStyle)
	}
	_ = f.SetColWidth(summarySheet, "A", "A", 25)
}

// rowStyle подсвечивает строку по статусу задачи
func (e *Exporter) rowStyle(f *excelize.File, status string) (int, error) {
	var color string
	switch status {
	case models.StatusFailed:
		color = "#FFC7CE"
	case models.StatusPaused:
		color = "#FFEB9C"
	case models.StatusCompleted:
		color = "#C6EFCE"
	default:
		color = "#FFFFFF"
	}
	return f.NewStyle(&excelize.Style{
		Fill:      excelize.Fill{Type: "pattern", Color: []string{color}, Pattern: 1},
		Alignment: &excelize.Alignment{Vertical: "top", WrapText: true},
	})
}

func statusLabel(status string) string {
	switch status {
	case models.StatusActive:
		return "✅ активна"
	case models.StatusPaused:
		return "⏸ пауза"
	case models.StatusCompleted:
		return "🏁 завершена"
	case models.StatusFailed:
		return "❌ провалена"
	default:
		return status
	}
}
