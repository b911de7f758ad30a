package database

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var ErrBadAnnouncement = errors.New("malformed run announcement")

// StreamValues flattens the payload into the fields of a stream entry.
// Every value is a string so readers get back exactly what was written.
func (p RunFinishedPayload) StreamValues() map[string]interface{} {
	return map[string]interface{}{
		"event_type":   EventTypeRunFinished,
		"run_id":       p.RunID,
		"status":       p.Status,
		"period":       p.Period,
		"shops":        strings.Join(p.Shops, ","),
		"shops_done":   strconv.Itoa(p.ShopsDone),
		"shops_failed": strconv.Itoa(p.ShopsFailed),
		"rows":         strconv.Itoa(p.Rows),
		"saved":        strconv.FormatBool(p.Saved),
		"output_path":  p.OutputPath,
		"finished_at":  p.FinishedAt.UTC().Format(time.RFC3339Nano),
	}
}

// ParseRunAnnouncement reads a stream entry written by StreamValues.
func ParseRunAnnouncement(values map[string]interface{}) (*RunFinishedPayload, error) {
	str := func(key string) string {
		s, _ := values[key].(string)
		return s
	}
	num := func(key string) (int, error) {
		n, err := strconv.Atoi(str(key))
		if err != nil {
			return 0, fmt.Errorf("%w: %s: %v", ErrBadAnnouncement, key, err)
		}
		return n, nil
	}

	p := &RunFinishedPayload{
		RunID:      str("run_id"),
		Status:     str("status"),
		Period:     str("period"),
		OutputPath: str("output_path"),
	}
	if p.RunID == "" {
		return nil, fmt.Errorf("%w: run_id is missing", ErrBadAnnouncement)
	}
	if shops := str("shops"); shops != "" {
		p.Shops = strings.Split(shops, ",")
	}

	var err error
	if p.ShopsDone, err = num("shops_done"); err != nil {
		return nil, err
	}
	if p.ShopsFailed, err = num("shops_failed"); err != nil {
		return nil, err
	}
	if p.Rows, err = num("rows"); err != nil {
		return nil, err
	}
	if p.Saved, err = strconv.ParseBool(str("saved")); err != nil {
		return nil, fmt.Errorf("%w: saved: %v", ErrBadAnnouncement, err)
	}
	if p.FinishedAt, err = time.Parse(time.RFC3339Nano, str("finished_at")); err != nil {
		return nil, fmt.Errorf("%w: finished_at: %v", ErrBadAnnouncement, err)
	}
	return p, nil
}
