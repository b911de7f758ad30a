package report

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"unicode/utf8"

	"github.com/maltedev/shop-ranking-scraper/internal/models"
	"github.com/xuri/excelize/v2"
)

const (
	SheetName = "ranking"

	headerHeight    = 24.0
	imageColumn     = "I"
	imageColWidth   = 25.0
	minColWidth     = 10
	maxColWidth     = 60
	autosizeColumns = 8 // A..H
)

// Headers is the fixed column order of the consolidated report.
var Headers = []string{
	"Rank", "Name", "Price(JPY)", "Price(KRW)", "Reviews",
	"Product URL", "Shop", "Total Count", "Image",
}

type column int

const (
	colRank column = iota
	colName
	colJPY
	colKRW
	colReviews
	colURL
	colShop
	colTotal
	numDataColumns
)

// Assembler builds the single consolidated workbook of a run. It is not
// safe for concurrent use; the run driver owns it.
type Assembler struct {
	file    *excelize.File
	sheet   string
	nextRow int
	maxLen  [autosizeColumns]int
	colPx   float64
	styles  [numDataColumns][2]int
	filter  string
	logger  *slog.Logger
}

// New creates the workbook with its styled header row, frozen header,
// filter over the header and the image column width set.
func New(logger *slog.Logger) (*Assembler, error) {
	f := excelize.NewFile()

	a := &Assembler{
		file:    f,
		sheet:   SheetName,
		nextRow: 2,
		colPx:   colWidthToPixels(imageColWidth),
		logger:  logger.With("component", "report"),
	}

	if err := a.initDocument(); err != nil {
		_ = f.Close()
		return nil, err
	}
	return a, nil
}

func (a *Assembler) initDocument() error {
	f := a.file
	if err := f.SetSheetName(f.GetSheetName(0), a.sheet); err != nil {
		return fmt.Errorf("failed to name sheet: %w", err)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true},
		Fill:      excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"D9E1F2"}},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center", WrapText: true},
		Border:    thinBorder(),
	})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}

	for i, h := range Headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(a.sheet, cell, h); err != nil {
			return fmt.Errorf("failed to write header %s: %w", h, err)
		}
		if i < autosizeColumns {
			a.maxLen[i] = utf8.RuneCountInString(h)
		}
	}
	last, _ := excelize.CoordinatesToCellName(len(Headers), 1)
	if err := f.SetCellStyle(a.sheet, "A1", last, headerStyle); err != nil {
		return fmt.Errorf("failed to style header: %w", err)
	}
	if err := f.SetRowHeight(a.sheet, 1, headerHeight); err != nil {
		return fmt.Errorf("failed to set header height: %w", err)
	}

	if err := f.SetPanes(a.sheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return fmt.Errorf("failed to freeze header: %w", err)
	}

	if err := f.SetColWidth(a.sheet, imageColumn, imageColumn, imageColWidth); err != nil {
		return fmt.Errorf("failed to size image column: %w", err)
	}

	if err := a.setFilter(1); err != nil {
		return err
	}

	return a.buildStyles()
}

func thinBorder() []excelize.Border {
	return []excelize.Border{
		{Type: "left", Color: "BFBFBF", Style: 1},
		{Type: "right", Color: "BFBFBF", Style: 1},
		{Type: "top", Color: "BFBFBF", Style: 1},
		{Type: "bottom", Color: "BFBFBF", Style: 1},
	}
}

// buildStyles registers one style per column for plain and shaded rows.
func (a *Assembler) buildStyles() error {
	intFmt := "#,##0"
	decFmt := "#,##0.00"

	base := func(c column) excelize.Style {
		s := excelize.Style{
			Border:    thinBorder(),
			Alignment: &excelize.Alignment{Vertical: "center"},
		}
		switch c {
		case colRank:
			s.Alignment.Horizontal = "center"
		case colName, colTotal:
			s.Alignment.Horizontal = "left"
			s.Alignment.WrapText = true
		case colJPY, colReviews:
			s.Alignment.Horizontal = "right"
			s.CustomNumFmt = &intFmt
		case colKRW:
			s.Alignment.Horizontal = "right"
			s.CustomNumFmt = &decFmt
		case colURL:
			s.Alignment.Horizontal = "left"
			s.Font = &excelize.Font{Color: "1265BE", Underline: "single"}
		case colShop:
			s.Alignment.Horizontal = "center"
		}
		return s
	}

	for c := colRank; c < numDataColumns; c++ {
		for band := 0; band < 2; band++ {
			s := base(c)
			if band == 1 {
				s.Fill = excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"F2F2F2"}}
			}
			id, err := a.file.NewStyle(&s)
			if err != nil {
				return fmt.Errorf("failed to create cell style: %w", err)
			}
			a.styles[c][band] = id
		}
	}
	return nil
}

func (a *Assembler) setFilter(lastRow int) error {
	ref := fmt.Sprintf("A1:%s%d", imageColumn, lastRow)
	if err := a.file.AutoFilter(a.sheet, ref, nil); err != nil {
		return fmt.Errorf("failed to set filter %s: %w", ref, err)
	}
	a.filter = ref
	return nil
}

// FilterRange is the current filter reference, header plus data rows.
func (a *Assembler) FilterRange() string {
	return a.filter
}

// Rows is the number of data rows written so far.
func (a *Assembler) Rows() int {
	return a.nextRow - 2
}

// AppendShopResult writes one row per item, ranked 1..n within the shop,
// and embeds each item's image in the image column.
func (a *Assembler) AppendShopResult(res *models.ShopRunResult) (int, error) {
	if res == nil || len(res.Items) == 0 {
		return 0, nil
	}
	if err := res.Validate(); err != nil {
		return 0, fmt.Errorf("refusing inconsistent result for %s: %w", res.Shop, err)
	}

	for i, it := range res.Items {
		row := a.nextRow
		band := 0
		if row%2 == 0 {
			band = 1
		}

		values := [numDataColumns]any{
			colRank:    i + 1,
			colName:    it.Name,
			colJPY:     it.PriceJPY,
			colKRW:     it.PriceKRW,
			colReviews: it.ReviewCount,
			colURL:     it.ProductURL,
			colShop:    it.Shop,
			colTotal:   it.TotalCount,
		}

		for c, v := range values {
			cell, _ := excelize.CoordinatesToCellName(c+1, row)
			if err := a.file.SetCellValue(a.sheet, cell, v); err != nil {
				return i, fmt.Errorf("failed to write %s: %w", cell, err)
			}
			if err := a.file.SetCellStyle(a.sheet, cell, cell, a.styles[c][band]); err != nil {
				return i, fmt.Errorf("failed to style %s: %w", cell, err)
			}
			a.track(c, fmt.Sprint(v))
		}

		if it.ProductURL != "" {
			cell, _ := excelize.CoordinatesToCellName(int(colURL)+1, row)
			if err := a.file.SetCellHyperLink(a.sheet, cell, it.ProductURL, "External"); err != nil {
				a.logger.Warn("failed to link product URL", "cell", cell, "error", err)
			}
		}

		a.embedImage(row, res.Images[i])
		a.nextRow++
	}

	if err := a.setFilter(a.nextRow - 1); err != nil {
		return len(res.Items), err
	}

	a.logger.Info("shop appended", "shop", res.Shop, "rows", len(res.Items), "total_rows", a.Rows())
	return len(res.Items), nil
}

// embedImage scales the image to the column width and sizes the row to
// it. An undecodable image leaves the cell empty.
func (a *Assembler) embedImage(row int, asset models.ImageAsset) {
	cell := fmt.Sprintf("%s%d", imageColumn, row)

	img, err := prepareImage(asset.Data)
	if err != nil {
		a.logger.Warn("skipping image", "cell", cell, "index", asset.Index, "error", err)
		return
	}

	scale := fitScale(a.colPx, img.width)
	if err := a.file.SetRowHeight(a.sheet, row, pixelsToPoints(float64(img.height)*scale)); err != nil {
		a.logger.Warn("failed to size image row", "row", row, "error", err)
	}

	if err := a.file.AddPictureFromBytes(a.sheet, cell, &excelize.Picture{
		Extension: img.ext,
		File:      img.data,
		Format: &excelize.GraphicOptions{
			ScaleX:      scale,
			ScaleY:      scale,
			Positioning: "oneCell",
		},
	}); err != nil {
		a.logger.Warn("failed to embed image", "cell", cell, "error", err)
	}
}

func (a *Assembler) track(c int, v string) {
	if c >= autosizeColumns {
		return
	}
	if n := utf8.RuneCountInString(v); n > a.maxLen[c] {
		a.maxLen[c] = n
	}
}

// Finalize autosizes the text columns and writes the workbook to path.
func (a *Assembler) Finalize(path string) error {
	for c := 0; c < autosizeColumns; c++ {
		col, _ := excelize.ColumnNumberToName(c + 1)
		width := min(max(a.maxLen[c]+2, minColWidth), maxColWidth)
		if err := a.file.SetColWidth(a.sheet, col, col, float64(width)); err != nil {
			return &PersistenceError{Path: path, Err: err}
		}
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return &PersistenceError{Path: path, Err: err}
		}
	}

	if err := a.file.SaveAs(path); err != nil {
		return &PersistenceError{Path: path, Err: err}
	}

	a.logger.Info("report saved", "path", path, "rows", a.Rows())
	return nil
}

// Close releases the workbook's temporary resources.
func (a *Assembler) Close() error {
	return a.file.Close()
}
