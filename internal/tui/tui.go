// Package tui provides a Bubble Tea viewer for exported ride bundles.
package tui

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/fakeyudi/ridelog/internal/bundle"
	"github.com/fakeyudi/ridelog/internal/telemetry"
)

var (
	barBg  = lipgloss.Color("235")
	accent = lipgloss.Color("62")

	titleStyle = lipgloss.NewStyle().Bold(true).
			Foreground(lipgloss.Color("15")).Background(accent).Padding(0, 2)
	activeTabStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("15")).Background(accent).Padding(0, 1)
	inactiveTabStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Background(barBg).Padding(0, 1)
	barStyle         = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Background(barBg)

	sectionHeader = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))
	labelStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("33"))
	dimStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	timeStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("178"))
	presentStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("82"))
)

type tabID int

const (
	tabSummary tabID = iota
	tabTimeline
	tabLocation
	tabInclination
	tabEnvironment
	tabBody
	tabCount
)

var tabNames = [tabCount]string{
	"Summary", "Timeline", "Location", "Inclination", "Environment", "Body",
}

// chromeRows is the title, tab bar and status bar.
const chromeRows = 3

// Model is the Bubble Tea model of the ride viewer.
type Model struct {
	bundle    *bundle.ContextBundle
	filename  string
	activeTab tabID
	viewports [tabCount]viewport.Model
	width     int
	height    int
	ready     bool
	sortAsc   bool
}

// New creates a viewer model for the given bundle and source filename.
func New(b *bundle.ContextBundle, filename string) Model {
	return Model{bundle: b, filename: filepath.Base(filename), sortAsc: true}
}

func (m Model) Init() tea.Cmd { return nil }

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.ready = true
		m.layout()
		return m, nil
	case tea.KeyMsg:
		if quit := m.handleKey(msg.String()); quit {
			return m, tea.Quit
		}
		var cmd tea.Cmd
		m.viewports[m.activeTab], cmd = m.viewports[m.activeTab].Update(msg)
		return m, cmd
	}
	return m, nil
}

// handleKey applies a navigation key and reports whether to quit.
func (m *Model) handleKey(key string) bool {
	switch key {
	case "q", "ctrl+c":
		return true
	case "tab", "l", "right":
		m.activeTab = (m.activeTab + 1) % tabCount
	case "shift+tab", "h", "left":
		m.activeTab = (m.activeTab + tabCount - 1) % tabCount
	case "s":
		if m.activeTab == tabTimeline {
			m.sortAsc = !m.sortAsc
			m.viewports[tabTimeline].SetContent(m.renderTab(tabTimeline))
			m.viewports[tabTimeline].GotoTop()
		}
	default:
		if len(key) == 1 && key[0] >= '1' && key[0] < '1'+byte(tabCount) {
			m.activeTab = tabID(key[0] - '1')
		}
	}
	return false
}

func (m Model) View() string {
	if !m.ready {
		return "Loading…"
	}
	name := m.bundle.Session.Name
	if name == "" {
		name = m.bundle.Session.ID
	}
	title := titleStyle.Width(m.width).Render(fmt.Sprintf("ridelog  %s  (%s)", name, m.filename))
	return lipgloss.JoinVertical(lipgloss.Left, title, m.tabBar(), m.viewports[m.activeTab].View(), m.statusBar())
}

func (m Model) tabBar() string {
	parts := make([]string, 0, 2*int(tabCount))
	for i := tabID(0); i < tabCount; i++ {
		if i > 0 {
			parts = append(parts, barStyle.Render("│"))
		}
		style := inactiveTabStyle
		if i == m.activeTab {
			style = activeTabStyle
		}
		parts = append(parts, style.Render(fmt.Sprintf(" %d %s ", i+1, tabNames[i])))
	}
	return barStyle.Width(m.width).Render(lipgloss.JoinHorizontal(lipgloss.Top, parts...))
}

func (m Model) statusBar() string {
	keys := "←/→ tab  ↑/↓ scroll  1-6 jump  q quit"
	if m.activeTab == tabTimeline {
		keys += "  s reverse"
	}
	pct := fmt.Sprintf("%3.0f%%", m.viewports[m.activeTab].ScrollPercent()*100)
	gap := max(1, m.width-lipgloss.Width(keys)-lipgloss.Width(pct)-4)
	return barStyle.Width(m.width).Padding(0, 1).Render(keys + strings.Repeat(" ", gap) + pct)
}

// layout sizes one viewport per tab to the space below the chrome.
func (m *Model) layout() {
	h := max(1, m.height-chromeRows)
	for i := tabID(0); i < tabCount; i++ {
		vp := viewport.New(m.width, h)
		vp.SetContent(m.renderTab(i))
		m.viewports[i] = vp
	}
}

func (m *Model) renderTab(t tabID) string {
	switch t {
	case tabSummary:
		return m.renderSummary()
	case tabTimeline:
		return m.renderTimeline()
	case tabLocation:
		return m.renderKind(telemetry.Location, "Location", func(r bundle.Row) string {
			l := r.Location
			return fmt.Sprintf("%.6f, %.6f  %6.1f m  %5.1f km/h  %3.0f°", l.Latitude, l.Longitude, l.Altitude, l.Speed, l.Bearing)
		})
	case tabInclination:
		return m.renderKind(telemetry.Inclination, "Inclination", func(r bundle.Row) string {
			o := r.Inclination.Orientation
			return fmt.Sprintf("azimuth %6.1f°  pitch %6.1f°  roll %6.1f°", o.X, o.Y, o.Z)
		})
	case tabEnvironment:
		return m.renderKind(telemetry.Environment, "Environment", func(r bundle.Row) string {
			e := r.Environment
			return fmt.Sprintf("%5.1f °C  wind %5.1f km/h @ %3.0f°  %3.0f%%  %6.1f hPa",
				e.Temperature, e.WindSpeed, e.WindDirection, e.Humidity, e.Pressure)
		})
	case tabBody:
		return m.renderKind(telemetry.Body, "Body", func(r bundle.Row) string {
			return fmt.Sprintf("%3d bpm", r.Body.HeartRate)
		})
	}
	return ""
}

func heading(s string) string {
	return "\n" + sectionHeader.Render("  "+s) + "\n\n"
}

func clock(ms int64) string {
	return time.UnixMilli(ms).UTC().Format("15:04:05")
}

func (m *Model) renderSummary() string {
	s := m.bundle.Session
	var sb strings.Builder
	sb.WriteString(heading("Session Summary"))

	row := func(label, value string) {
		sb.WriteString(labelStyle.Render(fmt.Sprintf("  %-14s", label)) + "  " + value + "\n")
	}
	row("Session:", s.ID)
	if s.Name != "" {
		row("Name:", s.Name)
	}
	row("Started:", bundle.FormatTime(s.InitTimestamp))
	if s.EndTimestamp != nil {
		row("Stopped:", bundle.FormatTime(*s.EndTimestamp))
	}
	row("Duration:", s.Duration)

	sb.WriteString("\n")
	sb.WriteString(heading("Counts"))
	row("Snapshots:", fmt.Sprintf("%d", len(m.bundle.Rows)))
	for i, k := range telemetry.Kinds {
		row(tabNames[tabLocation+tabID(i)]+":", fmt.Sprintf("%d", m.bundle.Count(k)))
	}
	return sb.String()
}

func (m *Model) renderTimeline() string {
	var sb strings.Builder
	dir := "newest first"
	if m.sortAsc {
		dir = "oldest first"
	}
	sb.WriteString(heading(fmt.Sprintf("Timeline (%s)", dir)))

	rows := m.bundle.Rows
	if len(rows) == 0 {
		sb.WriteString(dimStyle.Render("  (no snapshots in this session)") + "\n")
		return sb.String()
	}
	sb.WriteString(dimStyle.Render("  time       loc  inc  env  body") + "\n")
	for i := range rows {
		r := rows[i]
		if !m.sortAsc {
			r = rows[len(rows)-1-i]
		}
		sb.WriteString("  " + timeStyle.Render(clock(r.Timestamp)))
		for _, k := range telemetry.Kinds {
			cell := dimStyle.Render("  ·  ")
			if r.Has(k) {
				cell = presentStyle.Render("  ●  ")
			}
			sb.WriteString(cell)
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

func (m *Model) renderKind(k telemetry.Kind, title string, line func(bundle.Row) string) string {
	var sb strings.Builder
	sb.WriteString(heading(fmt.Sprintf("%s (%d)", title, m.bundle.Count(k))))
	n := 0
	for _, r := range m.bundle.Rows {
		if !r.Has(k) {
			continue
		}
		sb.WriteString("  " + timeStyle.Render(clock(r.Timestamp)) + "  " + line(r) + "\n")
		n++
	}
	if n == 0 {
		sb.WriteString(dimStyle.Render("  (none)") + "\n")
	}
	return sb.String()
}

// Run starts the viewer for the given bundle.
func Run(b *bundle.ContextBundle, filename string) error {
	p := tea.NewProgram(New(b, filename), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
