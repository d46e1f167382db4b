package billing

import "time"

// WindowLayout is the compact timestamp layout the source platform expects
// in window query parameters.
const WindowLayout = "20060102150405"

// Window is one ≤24h slice of a fetch range. The source bills endpoints
// have no page parameter; time windows are the only pagination mechanism
// and requests spanning more than a day are rejected.
type Window struct {
	Index int
	Start time.Time
	End   time.Time
}

// StartParam returns the window start in the compact wire layout.
func (w Window) StartParam() string { return w.Start.Format(WindowLayout) }

// EndParam returns the window end in the compact wire layout.
func (w Window) EndParam() string { return w.End.Format(WindowLayout) }

// SliceWindows normalizes [start, end] to day boundaries (00:00:00 through
// 23:59:59) and splits the range into consecutive 24-hour windows. Windows
// are indexed in chronological order so results fetched concurrently can be
// reassembled deterministically regardless of completion order.
func SliceWindows(start, end time.Time) []Window {
	start = start.UTC()
	end = end.UTC()

	from := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, time.UTC)
	until := time.Date(end.Year(), end.Month(), end.Day(), 23, 59, 59, 0, time.UTC)

	var windows []Window
	cursor := from
	for idx := 0; !cursor.After(until); idx++ {
		wEnd := cursor.Add(24*time.Hour - time.Second)
		if wEnd.After(until) {
			wEnd = until
		}
		windows = append(windows, Window{Index: idx, Start: cursor, End: wEnd})
		cursor = cursor.Add(24 * time.Hour)
	}
	return windows
}
