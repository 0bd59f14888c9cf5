package ui

import (
	"strings"
	"time"

	"github.com/five82/pairsync/internal/logtail"
)

func formatLogEntry(e logtail.Entry) string {
	if e.Level == "" && e.Time.IsZero() {
		return e.Msg
	}
	parts := make([]string, 0, 4)
	if !e.Time.IsZero() {
		parts = append(parts, e.Time.In(time.Local).Format("15:04:05"))
	}
	level := strings.ToUpper(strings.TrimSpace(e.Level))
	if level == "" {
		level = "INFO"
	}
	parts = append(parts, padRight(level, 5), e.Msg)
	if attrs := e.AttrString(); attrs != "" {
		parts = append(parts, attrs)
	}
	return strings.Join(parts, " ")
}
