package models

import (
	"fmt"
	"strings"
	"time"
)

// Period is the ranking window a shop listing is filtered by.
type Period string

const (
	PeriodDaily   Period = "D"
	PeriodWeekly  Period = "W"
	PeriodMonthly Period = "M"
)

// Label returns the marker the site shows on the period control.
func (p Period) Label() string {
	switch p {
	case PeriodDaily:
		return "日"
	case PeriodWeekly:
		return "週"
	case PeriodMonthly:
		return "月"
	}
	return ""
}

func (p Period) IsValid() bool {
	return p == PeriodDaily || p == PeriodWeekly || p == PeriodMonthly
}

// ParsePeriod accepts D/W/M as well as daily/weekly/monthly.
func ParsePeriod(s string) (Period, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "d", "daily", "day":
		return PeriodDaily, nil
	case "w", "weekly", "week":
		return PeriodWeekly, nil
	case "m", "monthly", "month":
		return PeriodMonthly, nil
	}
	return "", fmt.Errorf("invalid period %q: must be one of D, W, M", s)
}

// ItemRecord is one ranked product of a shop after detail enrichment.
type ItemRecord struct {
	Shop        string  `json:"shop"`
	Name        string  `json:"name"`
	PriceJPY    int64   `json:"price_jpy"`
	PriceKRW    float64 `json:"price_krw"`
	ReviewCount int     `json:"review_count"`
	ProductURL  string  `json:"product_url"`
	TotalCount  string  `json:"total_count"`
	ImageURL    string  `json:"image_url"`
	ImageIndex  int     `json:"image_index"`
}

// ImageAsset holds the raw bytes of an item's primary picture.
type ImageAsset struct {
	Index int    `json:"index"`
	Data  []byte `json:"-"`
	Ext   string `json:"ext"`
}

// ListingEntry is the lightweight first-pass view of a ranked item.
type ListingEntry struct {
	Index      int
	Name       string
	PriceJPY   int64
	PriceKRW   float64
	ProductURL string
	TotalCount string
}

// ShopRunResult is what one shop's scrape hands to the report.
type ShopRunResult struct {
	Shop       string
	Period     Period
	Items      []ItemRecord
	Images     []ImageAsset
	StartedAt  time.Time
	FinishedAt time.Time
}

// Validate checks the positional correlation between items and images.
// A violation is a programming error in the producer.
func (r *ShopRunResult) Validate() error {
	if len(r.Items) != len(r.Images) {
		return fmt.Errorf("shop %s: %d items but %d images", r.Shop, len(r.Items), len(r.Images))
	}
	for i := range r.Items {
		if r.Items[i].ImageIndex != r.Images[i].Index {
			return fmt.Errorf("shop %s: item %d references image %d, found %d",
				r.Shop, i, r.Items[i].ImageIndex, r.Images[i].Index)
		}
	}
	return nil
}

// PreviewRow is the compact row shown by presentation consumers.
type PreviewRow struct {
	Shop    string  `json:"shop"`
	Name    string  `json:"name"`
	JPY     int64   `json:"jpy"`
	KRW     float64 `json:"krw"`
	Reviews int     `json:"reviews"`
	URL     string  `json:"url"`
}

func (r *ShopRunResult) PreviewRows() []PreviewRow {
	rows := make([]PreviewRow, 0, len(r.Items))
	for _, it := range r.Items {
		rows = append(rows, PreviewRow{
			Shop:    it.Shop,
			Name:    it.Name,
			JPY:     it.PriceJPY,
			KRW:     it.PriceKRW,
			Reviews: it.ReviewCount,
			URL:     it.ProductURL,
		})
	}
	return rows
}
