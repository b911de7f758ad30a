package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePeriod(t *testing.T) {
	tests := []struct {
		input    string
		expected Period
		hasError bool
	}{
		{"D", PeriodDaily, false},
		{"w", PeriodWeekly, false},
		{"monthly", PeriodMonthly, false},
		{" Weekly ", PeriodWeekly, false},
		{"yearly", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			p, err := ParsePeriod(tt.input)
			if tt.hasError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, p)
		})
	}
}

func TestPeriodLabel(t *testing.T) {
	assert.Equal(t, "週", PeriodWeekly.Label())
	assert.Equal(t, "", Period("X").Label())
	assert.False(t, Period("X").IsValid())
}

func TestShopRunResultValidate(t *testing.T) {
	res := &ShopRunResult{
		Shop: "anua",
		Items: []ItemRecord{
			{Name: "a", ImageIndex: 0},
			{Name: "b", ImageIndex: 1},
		},
		Images: []ImageAsset{{Index: 0}, {Index: 1}},
	}
	assert.NoError(t, res.Validate())

	res.Images = res.Images[:1]
	assert.Error(t, res.Validate())

	res.Images = []ImageAsset{{Index: 1}, {Index: 0}}
	assert.Error(t, res.Validate())
}

func TestPreviewRows(t *testing.T) {
	res := &ShopRunResult{
		Items: []ItemRecord{{Shop: "anua", Name: "toner", PriceJPY: 1980, PriceKRW: 18612, ReviewCount: 12, ProductURL: "https://m.qoo10.jp/g/1"}},
	}
	rows := res.PreviewRows()
	require.Len(t, rows, 1)
	assert.Equal(t, PreviewRow{Shop: "anua", Name: "toner", JPY: 1980, KRW: 18612, Reviews: 12, URL: "https://m.qoo10.jp/g/1"}, rows[0])
}
