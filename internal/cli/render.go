package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/JannisRoesner/PICARD-sub000/internal/app"
	"github.com/JannisRoesner/PICARD-sub000/internal/timer"
	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"
)

const nameColumnWidth = 24

// Board is everything the watch display shows at one moment.
type Board struct {
	Session   *app.SessionView
	Timer     timer.Snapshot
	Connected bool
}

type styles struct {
	title   lipgloss.Style
	current lipgloss.Style
	muted   lipgloss.Style
	running lipgloss.Style
	expired lipgloss.Style
	warning lipgloss.Style
}

func newStyles(r *lipgloss.Renderer) styles {
	return styles{
		title:   r.NewStyle().Bold(true).Foreground(lipgloss.Color("#61AFEF")),
		current: r.NewStyle().Bold(true).Foreground(lipgloss.Color("#E5C07B")),
		muted:   r.NewStyle().Foreground(lipgloss.Color("#636B78")),
		running: r.NewStyle().Bold(true).Foreground(lipgloss.Color("#98C379")),
		expired: r.NewStyle().Bold(true).Foreground(lipgloss.Color("#E06C75")),
		warning: r.NewStyle().Foreground(lipgloss.Color("#D19A66")),
	}
}

// Render draws the running order with the countdown above it. Styles are
// applied per line only, so an ASCII renderer yields plain text.
func Render(b Board, r *lipgloss.Renderer) string {
	st := newStyles(r)
	var lines []string

	if b.Session == nil {
		lines = append(lines, st.title.Render("PICARD"), st.muted.Render("no active session"))
	} else {
		lines = append(lines, st.title.Render("PICARD  "+b.Session.Name))
		lines = append(lines, timerLine(b.Timer, st), "")
		lines = append(lines, st.muted.Render(fmt.Sprintf("  %2s  %-*s %-10s %5s", "#", nameColumnWidth, "Name", "Typ", "Dauer")))

		current := currentItemID(b.Timer)
		for _, item := range b.Session.Items {
			isCurrent := current != uuid.Nil && item.ID == current
			marker := " "
			if isCurrent {
				marker = ">"
			}
			row := fmt.Sprintf("%s %2d  %-*s %-10s %5s",
				marker, item.Nummer, nameColumnWidth, truncate(item.Name, nameColumnWidth), item.Typ, formatDauer(item.Dauer))
			if isCurrent {
				row = st.current.Render(row)
			}
			lines = append(lines, row)
		}
		if len(b.Session.Items) == 0 {
			lines = append(lines, st.muted.Render("  (no program items)"))
		}
	}

	if !b.Connected {
		lines = append(lines, "", st.warning.Render("disconnected, reconnecting..."))
	}
	return strings.Join(lines, "\n") + "\n"
}

func timerLine(s timer.Snapshot, st styles) string {
	name := itemName(s.Item)
	switch s.State {
	case timer.Running:
		line := fmt.Sprintf("%s / %s", formatClock(s.Remaining), formatClock(s.Total))
		if name != "" {
			line += "  " + name
		}
		return st.running.Render(line)
	case timer.Expired:
		line := fmt.Sprintf("%s / %s expired", formatClock(0), formatClock(s.Total))
		if name != "" {
			line += "  " + name
		}
		return st.expired.Render(line)
	default:
		return st.muted.Render("timer idle")
	}
}

type timerItem struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
}

func decodeTimerItem(raw json.RawMessage) timerItem {
	var item timerItem
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &item)
	}
	return item
}

func currentItemID(s timer.Snapshot) uuid.UUID {
	if s.State == timer.Idle {
		return uuid.Nil
	}
	return decodeTimerItem(s.Item).ID
}

func itemName(raw json.RawMessage) string {
	return decodeTimerItem(raw).Name
}

// formatClock renders seconds as mm:ss, or h:mm:ss from one hour on.
func formatClock(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	h, m, s := seconds/3600, (seconds%3600)/60, seconds%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}

func formatDauer(seconds int) string {
	if seconds <= 0 {
		return "-"
	}
	return formatClock(seconds)
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n-1]) + "~"
}
