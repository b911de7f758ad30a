package pipeline

import (
	"log/slog"

	"github.com/maltedev/shop-ranking-scraper/internal/report"
)

// ExcelReports creates a fresh consolidated workbook for every run.
func ExcelReports(logger *slog.Logger) ReportFactory {
	return func() (Report, error) {
		a, err := report.New(logger)
		if err != nil {
			return nil, err
		}
		return a, nil
	}
}
