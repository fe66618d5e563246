// Package monitor renders a live terminal dashboard of a buildbuddy server
// from its Prometheus metrics endpoint.
package monitor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/NimbleMarkets/ntcharts/sparkline"
	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const (
	sparklineWidth  = 30
	sparklineHeight = 3
	historySize     = 30
)

// Model is the BubbleTea dashboard model.
type Model struct {
	serverURL  string
	interval   time.Duration
	scraper    *MetricsClient
	lastUpdate time.Time
	prev       Exposition
	prevAt     time.Time
	metrics    MetricsSnapshot
	err        error
	quitting   bool

	successProgress progress.Model
	loadProgress    progress.Model
}

// Lipgloss styles (k9s-inspired color scheme)
var (
	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("0")).
			Background(lipgloss.Color("51")).
			Bold(true).
			Padding(0, 1)

	sectionStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51")).
			Bold(true).
			MarginTop(1)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("45"))

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("231")).
			Bold(true)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))

	healthyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("46")).
			Bold(true)

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("226")).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	containerStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("238")).
			Padding(1, 2)

	footerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			MarginTop(1)

	footerKeyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51")).
			Bold(true)

	sparklineStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51"))
)

// NewModel creates a dashboard for the server at serverURL.
func NewModel(serverURL string, interval time.Duration) Model {
	return Model{
		serverURL: serverURL,
		interval:  interval,
		scraper:   NewMetricsClient(serverURL),
		successProgress: progress.New(
			progress.WithGradient("#ff0000", "#00ff00"),
			progress.WithWidth(40),
		),
		loadProgress: progress.New(
			progress.WithGradient("#00ffff", "#ff00ff"),
			progress.WithWidth(40),
		),
		metrics: MetricsSnapshot{
			RunRateHistory:  make([]float64, 0, historySize),
			HTTPRateHistory: make([]float64, 0, historySize),
			RunRatePeak:     1.0,
		},
	}
}

// Run starts the dashboard and blocks until the user quits.
func Run(serverURL string, interval time.Duration) error {
	_, err := tea.NewProgram(NewModel(serverURL, interval), tea.WithAltScreen()).Run()
	return err
}

// latencyBadge grades a stage's mean latency.
func latencyBadge(seconds float64) string {
	switch {
	case seconds < 10:
		return healthyStyle.Render("[✓]")
	case seconds < 30:
		return warningStyle.Render("[⚠]")
	}
	return errorStyle.Render("[✗]")
}

// statusBadge grades the server by the share of runs that produced a build.
func statusBadge(s MetricsSnapshot) string {
	switch {
	case s.TotalRuns() == 0:
		return dimStyle.Render("○ IDLE")
	case s.SuccessRatio() >= 0.95:
		return healthyStyle.Render("✓ HEALTHY")
	case s.SuccessRatio() >= 0.75:
		return warningStyle.Render("⚠ WARN")
	}
	return errorStyle.Render("✗ ERROR")
}

func appendToHistory(history []float64, value float64) []float64 {
	history = append(history, value)
	if len(history) > historySize {
		history = history[1:]
	}
	return history
}

func createSparkline(data []float64) string {
	if len(data) == 0 {
		return dimStyle.Render(fmt.Sprintf("%*s", sparklineWidth, "no data"))
	}

	spark := sparkline.New(sparklineWidth, sparklineHeight)
	for _, v := range data {
		spark.Push(v)
	}
	spark.Draw()
	return sparklineStyle.Render(spark.View())
}

// Message types
type tickMsg time.Time
type scrapeMsg struct {
	exp Exposition
	at  time.Time
}
type errMsg error

// Init initializes the model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		tick(m.interval),
		fetchMetrics(m.scraper),
	)
}

func tick(interval time.Duration) tea.Cmd {
	return tea.Tick(interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func fetchMetrics(c *MetricsClient) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		exp, err := c.Scrape(ctx)
		if err != nil {
			return errMsg(err)
		}
		return scrapeMsg{exp: exp, at: time.Now()}
	}
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "r":
			return m, fetchMetrics(m.scraper)
		}

	case tickMsg:
		return m, tea.Batch(
			tick(m.interval),
			fetchMetrics(m.scraper),
		)

	case scrapeMsg:
		var elapsed time.Duration
		if !m.prevAt.IsZero() {
			elapsed = msg.at.Sub(m.prevAt)
		}
		next := Summarize(m.prev, msg.exp, elapsed)

		next.RunRateHistory = appendToHistory(m.metrics.RunRateHistory, next.RunRate)
		next.HTTPRateHistory = appendToHistory(m.metrics.HTTPRateHistory, next.HTTPRate)
		next.RunRatePeak = m.metrics.RunRatePeak
		if next.RunRate > next.RunRatePeak {
			next.RunRatePeak = next.RunRate
		}

		m.metrics = next
		m.prev = msg.exp
		m.prevAt = msg.at
		m.lastUpdate = msg.at
		m.err = nil
		return m, nil

	case errMsg:
		m.err = error(msg)
		return m, nil
	}

	return m, nil
}

// View renders the dashboard.
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	if m.err != nil {
		return m.renderError()
	}
	return m.renderDashboard()
}

func (m Model) renderError() string {
	header := headerStyle.Render("buildbuddy Monitor")

	var b strings.Builder
	b.WriteString("\n")
	b.WriteString(errorStyle.Render("⚠ Cannot scrape buildbuddy metrics") + "\n\n")
	b.WriteString(dimStyle.Render("URL: ") + valueStyle.Render(m.scraper.url) + "\n")
	b.WriteString(dimStyle.Render("Error: ") + errorStyle.Render(m.err.Error()) + "\n\n")
	b.WriteString(dimStyle.Render("Start the server with: buildbuddy") + "\n\n")
	b.WriteString(footerKeyStyle.Render("[q]") + footerStyle.Render(" quit  ") +
		footerKeyStyle.Render("[r]") + footerStyle.Render(" retry") + "\n")

	return containerStyle.Render(header + "\n" + b.String())
}

func (m Model) renderDashboard() string {
	s := m.metrics
	var b strings.Builder

	lastUpdateStr := "Never"
	if !m.lastUpdate.IsZero() {
		lastUpdateStr = m.lastUpdate.Format("3:04:05 PM")
	}
	b.WriteString(headerStyle.Render(" buildbuddy Monitor ") + "\n")
	b.WriteString(fmt.Sprintf("%s   %s   %s\n",
		statusBadge(s),
		dimStyle.Render(m.serverURL),
		dimStyle.Render(lastUpdateStr)))

	b.WriteString("\n" + sectionStyle.Render("┃ Pipeline Runs") + "\n")
	b.WriteString(labelStyle.Render("  Rate: ") +
		valueStyle.Render(FormatRunRate(s.RunRate)) +
		"   " + createSparkline(s.RunRateHistory) + "\n")
	b.WriteString(labelStyle.Render("  Outcomes: ") +
		dimStyle.Render("complete=") + valueStyle.Render(FormatCount(s.RunsComplete)) +
		dimStyle.Render("  degraded=") + valueStyle.Render(FormatCount(s.RunsDegraded)) +
		dimStyle.Render("  failed=") + valueStyle.Render(FormatCount(s.RunsFailed)) +
		dimStyle.Render("  canceled=") + valueStyle.Render(FormatCount(s.RunsCanceled)) + "\n")
	b.WriteString(labelStyle.Render("  Success: ") +
		m.successProgress.ViewAs(s.SuccessRatio()) +
		" " + dimStyle.Render(FormatPercentage(s.SuccessRatio())) + "\n")

	b.WriteString("\n" + sectionStyle.Render("┃ Stages") + "\n")
	if len(s.Stages) == 0 {
		b.WriteString(dimStyle.Render("  no runs yet") + "\n")
	}
	for _, st := range s.Stages {
		b.WriteString(labelStyle.Render(fmt.Sprintf("  %-10s", st.Stage)) +
			valueStyle.Render(FormatLatency(st.Seconds)) +
			" " + latencyBadge(st.Seconds) + "\n")
	}
	b.WriteString(labelStyle.Render("  Degradations: ") + valueStyle.Render(FormatCount(s.Degradations)) +
		labelStyle.Render("  Dropped changes: ") + valueStyle.Render(FormatCount(s.DroppedChanges)) + "\n")

	b.WriteString("\n" + sectionStyle.Render("┃ Model") + "\n")
	b.WriteString(labelStyle.Render("  Calls: ") +
		valueStyle.Render(FormatRate(s.ModelRate)) +
		labelStyle.Render("  Errors: ") +
		valueStyle.Render(FormatPercentage(s.ModelErrorRatio)) + "\n")

	b.WriteString("\n" + sectionStyle.Render("┃ HTTP") + "\n")
	b.WriteString(labelStyle.Render("  Rate: ") +
		valueStyle.Render(FormatRate(s.HTTPRate)) +
		"   " + createSparkline(s.HTTPRateHistory) + "\n")
	load := 0.0
	if s.RunRatePeak > 0 {
		load = s.RunRate / s.RunRatePeak
		if load > 1.0 {
			load = 1.0
		}
	}
	b.WriteString(labelStyle.Render("  Load: ") +
		m.loadProgress.ViewAs(load) +
		" " + dimStyle.Render(fmt.Sprintf("%.0f in flight", s.ActiveRequests)) + "\n")

	footer := footerKeyStyle.Render("[q]") + footerStyle.Render(" quit  ") +
		footerKeyStyle.Render("[r]") + footerStyle.Render(" refresh  ") +
		footerStyle.Render(fmt.Sprintf("Auto: %v", m.interval))
	b.WriteString("\n" + footer)

	return containerStyle.Render(b.String())
}
