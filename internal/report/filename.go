package report

import (
	"path/filepath"
	"time"
)

// kst is Korea Standard Time; Korea observes no daylight saving.
var kst = time.FixedZone("KST", 9*60*60)

// FileName is the consolidated report name for a run started at t.
func FileName(t time.Time) string {
	return "qoo10_top_" + t.In(kst).Format("2006-01-02_150405") + ".xlsx"
}

// OutputPath joins dir and the report name for t.
func OutputPath(dir string, t time.Time) string {
	return filepath.Join(dir, FileName(t))
}
