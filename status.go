package dualdb

import (
	"fmt"
	"io"
	"time"

	"github.com/medatechnology/goutil/print"
	"github.com/medatechnology/goutil/timedate"
)

// BackendStatus describes the database an adapter talks to. Fields a backend cannot
// provide stay at their zero value.
type BackendStatus struct {
	Backend       string        `json:"backend"`
	Driver        string        `json:"driver,omitempty"`
	URL           string        `json:"url,omitempty"` // never includes credentials
	Version       string        `json:"version,omitempty"`
	StartTime     time.Time     `json:"start_time,omitempty"`
	Uptime        time.Duration `json:"uptime,omitempty"`
	DBSize        int64         `json:"db_size,omitempty"`  // main database file or database size in bytes
	WALSize       int64         `json:"wal_size,omitempty"` // -wal sidecar, embedded only
	SchemaVersion int           `json:"schema_version,omitempty"`
	Leader        string        `json:"leader,omitempty"` // replicated backends only
	Peers         []string      `json:"peers,omitempty"`
	Pool          PoolStatus    `json:"pool"`
}

// PrintPretty writes the status as aligned "Label: value" lines, skipping empty values.
// This is mainly for debugging and the CLI.
// Example usage: status.PrintPretty(os.Stdout, "", "Status")
func (s BackendStatus) PrintPretty(w io.Writer, indent, title string) {
	if title == "" {
		title = "Status"
	}
	fmt.Fprintln(w, title+":")

	uptime := ""
	if s.Uptime > 0 {
		uptime = timedate.DurationUptimeShort(s.Uptime)
	}
	startTime := ""
	if !s.StartTime.IsZero() {
		startTime = s.StartTime.Format("2006-01-02 15:04:05")
	}
	sizeOf := func(n int64) string {
		if n <= 0 {
			return ""
		}
		return print.BytesToHumanReadable(n, " ")
	}
	schema := ""
	if s.SchemaVersion > 0 {
		schema = fmt.Sprintf("%d", s.SchemaVersion)
	}
	peers := ""
	if len(s.Peers) > 0 {
		peers = fmt.Sprintf("%v", s.Peers)
	}

	fields := []struct {
		label string
		value string
	}{
		{"Backend", s.Backend},
		{"Driver", s.Driver},
		{"URL", s.URL},
		{"Version", s.Version},
		{"Start Time", startTime},
		{"Uptime", uptime},
		{"DB Size", sizeOf(s.DBSize)},
		{"WAL Size", sizeOf(s.WALSize)},
		{"Schema", schema},
		{"Leader", s.Leader},
		{"Peers", peers},
		{"Pool", fmt.Sprintf("total=%d idle=%d waiting=%d", s.Pool.TotalCount, s.Pool.IdleCount, s.Pool.WaitingCount)},
	}

	maxLabelLength := 0
	for _, field := range fields {
		if len(field.label) > maxLabelLength {
			maxLabelLength = len(field.label)
		}
	}

	for _, field := range fields {
		if field.value != "" {
			fmt.Fprintf(w, "%s%-*s: %s\n", indent, maxLabelLength, field.label, field.value)
		}
	}
}
