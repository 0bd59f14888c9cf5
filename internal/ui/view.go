package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/five82/pairsync/internal/status"
)

const (
	minPanelWidth = 40
	barWidth      = 24
	qrPreview     = 48
)

func (m Model) renderMain() string {
	width := max(m.width, minPanelWidth)

	sections := []string{
		m.renderHeader(width),
		m.renderSession(width),
		m.renderStatus(width),
	}
	if m.job != nil {
		sections = append(sections, m.renderJob(width))
	}
	used := 0
	for _, s := range sections {
		used += lipgloss.Height(s)
	}
	footer := m.renderFooter(width)
	logHeight := m.height - used - lipgloss.Height(footer) - 2
	if logHeight > 0 {
		sections = append(sections, m.renderLogs(width, logHeight))
	}
	sections = append(sections, footer)
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (m Model) renderHeader(width int) string {
	styles := m.theme.Styles()
	bg := NewBgStyle(m.theme.Surface)

	parts := []string{
		bg.Render("PAIRSYNC", styles.Logo),
		bg.Render(string(m.sys.Mode), styles.MutedText),
	}
	if m.sys.Connected {
		parts = append(parts, bg.Render("● connected", styles.SuccessText))
	} else {
		parts = append(parts, bg.Render("● offline", styles.DangerText))
	}
	if m.tabID != "" {
		parts = append(parts, bg.Render("tab "+truncate(m.tabID, 8), styles.FaintText))
	}
	if m.busy != "" {
		parts = append(parts, bg.Render(m.spinner.View()+" "+m.busy, styles.AccentText))
	}
	return bg.FillLine(bg.Join(parts, "  "), width)
}

func (m Model) renderSession(width int) string {
	styles := m.theme.Styles()
	snap := m.snapshot

	state := string(snap.State)
	if state == "" {
		state = "none"
	}
	lines := []string{
		styles.Text.Bold(true).Render("Session") + "  " + styles.StatusStyle(state).Render(titleCase(state)),
	}
	if snap.QR != "" {
		lines = append(lines, styles.MutedText.Render("QR      ")+styles.WarningText.Render(truncateMiddle(snap.QR, qrPreview)))
	}
	if snap.Regenerations > 0 {
		lines = append(lines, styles.MutedText.Render("QR regenerated ")+styles.Text.Render(fmt.Sprintf("%d×", snap.Regenerations)))
	}
	if !snap.UpdatedAt.IsZero() {
		lines = append(lines, styles.FaintText.Render("updated "+humanizeDuration(time.Since(snap.UpdatedAt))+" ago"))
	}
	return styles.Panel.Width(width - 2).Render(strings.Join(lines, "\n"))
}

func (m Model) renderStatus(width int) string {
	styles := m.theme.Styles()
	st := m.sys

	verdict := styles.SuccessText.Render("can act now")
	if !st.CanActNow {
		reason := st.BlockReason
		if reason == "" {
			reason = status.ReasonNotReady
		}
		verdict = styles.DangerText.Render("blocked") + " " + styles.WarningText.Render(reason)
	}
	lines := []string{styles.Text.Bold(true).Render("Status") + "  " + verdict}

	if st.Phone != "" {
		lines = append(lines, styles.MutedText.Render("phone   ")+styles.Text.Render(st.Phone))
	}
	if u := st.Usage; u != nil {
		usage := fmt.Sprintf("%s %d/%d today", progressBar(u.Percent(), barWidth), u.SentToday, u.DailyCap)
		if u.BusinessHoursEnabled {
			if u.WithinAllowedWindow {
				usage += "  in hours"
			} else {
				usage += "  out of hours"
			}
		}
		lines = append(lines, styles.MutedText.Render("usage   ")+styles.InfoText.Render(usage))
	}
	if st.RetryCount > 0 || st.Paused {
		retry := fmt.Sprintf("retry %d, next in %s", st.RetryCount, st.RetryDelay)
		if st.Paused {
			retry = fmt.Sprintf("paused after %d failures, press r", st.RetryCount)
		}
		lines = append(lines, styles.WarningText.Render(retry))
	}
	if st.LastError != "" {
		lines = append(lines, styles.DangerText.Render(truncate(st.LastError, width-6)))
	}
	if !st.LastUpdated.IsZero() {
		lines = append(lines, styles.FaintText.Render("checked "+st.LastUpdated.Format("15:04:05")))
	}
	return styles.Panel.Width(width - 2).Render(strings.Join(lines, "\n"))
}

func (m Model) renderJob(width int) string {
	styles := m.theme.Styles()
	js := m.jobState

	title := styles.Text.Bold(true).Render("Job") + "  " +
		styles.MutedText.Render(m.job.Category()+" / "+m.job.Owner())
	var line string
	switch {
	case js.Err != "":
		line = styles.DangerText.Render("failed: " + js.Err)
	case js.Progress == nil:
		line = styles.FaintText.Render("no job running")
	default:
		p := js.Progress
		line = styles.InfoText.Render(fmt.Sprintf("%s %3.0f%%  %d/%d",
			progressBar(p.Percentage, barWidth), p.Percentage, p.Processed, p.Total))
		if p.Succeeded != nil && p.Failed != nil {
			line += styles.MutedText.Render(fmt.Sprintf("  ok %d  failed %d", *p.Succeeded, *p.Failed))
		}
		if js.Completed {
			line += "  " + styles.SuccessText.Render("completed")
		}
	}
	return styles.Panel.Width(width - 2).Render(title + "\n" + line)
}

func (m Model) renderLogs(width, height int) string {
	styles := m.theme.Styles()
	entries := m.logs
	if len(entries) > height {
		entries = entries[len(entries)-height:]
	}
	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		text := truncate(formatLogEntry(e), width)
		switch strings.ToUpper(e.Level) {
		case "ERROR":
			lines = append(lines, styles.DangerText.Render(text))
		case "WARN":
			lines = append(lines, styles.WarningText.Render(text))
		case "DEBUG":
			lines = append(lines, styles.FaintText.Render(text))
		default:
			lines = append(lines, styles.MutedText.Render(text))
		}
	}
	return strings.Join(lines, "\n")
}

func (m Model) renderFooter(width int) string {
	styles := m.theme.Styles()
	bg := NewBgStyle(m.theme.Surface)

	hints := make([]string, 0, len(m.keys.ShortHelp()))
	for _, b := range m.keys.ShortHelp() {
		h := b.Help()
		hints = append(hints, bg.Render(h.Key, styles.AccentText)+bg.Space()+bg.Render(h.Desc, styles.MutedText))
	}
	line := bg.Join(hints, "  ")
	if m.flash != "" {
		style := styles.SuccessText
		if m.flashErr {
			style = styles.DangerText
		}
		line += bg.Spaces(2) + bg.Render(m.flash, style)
	}
	return bg.FillLine(line, width)
}
