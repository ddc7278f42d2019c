// armjog is an interactive jog console for a running arm control service.
// It polls the safety snapshot, charts position estimates, and maps
// keystrokes onto the HTTP command API.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/NimbleMarkets/ntcharts/canvas/runes"
	"github.com/NimbleMarkets/ntcharts/linechart/streamlinechart"

	"github.com/danmuck/armctl/internal/arm"
	"github.com/danmuck/armctl/internal/armclient"
)

const (
	headerHeight = 2 // title + blank line
	legendHeight = 2 // legend row + blank
	footerHeight = 7 // log box height
	maxLogs      = 5 // number of log messages to show
	borderSize   = 2 // chart border

	pollInterval = 250 * time.Millisecond
	cmdTimeout   = 3 * time.Second

	minStep, maxStep   = 1, 45
	minSpeed, maxSpeed = 5, 100
)

// channelPalette cycles distinct colors over however many channels the
// service reports.
var channelPalette = []string{
	"196", // red
	"208", // orange
	"226", // yellow
	"46",  // green
	"51",  // cyan
	"201", // magenta
}

var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	chartStyle    = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("240"))
	statusStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	selectedStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("15"))
	faultStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	estopStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("15")).Background(lipgloss.Color("196"))
)

type model struct {
	client *armclient.Client
	chart  *streamlinechart.Model

	width    int
	height   int
	logs     []string
	quitting bool

	snapshot      arm.Snapshot
	channels      []string // sorted ids from the latest snapshot
	selected      int
	lastPositions map[string]float64

	step  float64 // degrees per jog keystroke
	speed float64 // percent applied to jogs and runs
}

// Messages from the poll loop and command dispatches
type tickMsg time.Time
type snapshotMsg arm.Snapshot
type logMsg string
type cmdDoneMsg string

func pollTick() tea.Cmd {
	return tea.Tick(pollInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func fetchSnapshot(client *armclient.Client) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), cmdTimeout)
		defer cancel()
		snap, err := client.Status(ctx)
		if err != nil {
			return logMsg(fmt.Sprintf("status poll: %v", err))
		}
		return snapshotMsg(snap)
	}
}

func (m *model) addLog(msg string) {
	m.logs = append(m.logs, msg)
	if len(m.logs) > maxLogs {
		m.logs = m.logs[len(m.logs)-maxLogs:]
	}
}

// hasMovement checks if any position estimate changed since the last poll
func (m *model) hasMovement(snap arm.Snapshot) bool {
	if m.lastPositions == nil {
		return true // first reading, consider it movement
	}
	for id, st := range snap.Servos {
		if st.Position == nil {
			continue
		}
		if last, ok := m.lastPositions[id]; !ok || *st.Position != last {
			return true
		}
	}
	return false
}

// chartSize calculates the size of the chart based on terminal dimensions
func (m *model) chartSize() (width, height int) {
	if m.width == 0 || m.height == 0 {
		return 80, 16 // default size before we know terminal size
	}
	width = m.width - borderSize - 2
	if width < 40 {
		width = 40
	}
	tableHeight := len(m.channels) + 1
	height = m.height - headerHeight - tableHeight - legendHeight - footerHeight - borderSize
	if height < 8 {
		height = 8
	}
	return width, height
}

func (m *model) resizeChart() {
	w, h := m.chartSize()
	m.chart.Resize(w, h)
}

func initialModel(client *armclient.Client, p prefs) model {
	chart := streamlinechart.New(80, 16,
		streamlinechart.WithYRange(0, 180),
	)
	return model{
		client: client,
		chart:  &chart,
		step:   clampRange(p.Step, minStep, maxStep),
		speed:  clampRange(p.Speed, minSpeed, maxSpeed),
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(fetchSnapshot(m.client), pollTick())
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resizeChart()
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case tickMsg:
		return m, tea.Batch(fetchSnapshot(m.client), pollTick())

	case snapshotMsg:
		m.applySnapshot(arm.Snapshot(msg))
		return m, nil

	case logMsg:
		m.addLog(string(msg))
		return m, nil

	case cmdDoneMsg:
		m.addLog(string(msg))
		return m, fetchSnapshot(m.client)
	}

	return m, nil
}

func (m *model) applySnapshot(snap arm.Snapshot) {
	firstSnapshot := m.channels == nil
	m.snapshot = snap
	m.channels = sortedChannelIDs(snap)
	if m.selected >= len(m.channels) {
		m.selected = 0
	}
	if firstSnapshot {
		for i, id := range m.channels {
			color := channelPalette[i%len(channelPalette)]
			style := lipgloss.NewStyle().Foreground(lipgloss.Color(color))
			m.chart.SetDataSetStyles(id, runes.ThinLineStyle, style)
		}
		m.resizeChart()
	}
	if m.hasMovement(snap) {
		positions := make(map[string]float64, len(snap.Servos))
		for id, st := range snap.Servos {
			if st.Position == nil {
				continue
			}
			m.chart.PushDataSet(id, *st.Position)
			positions[id] = *st.Position
		}
		m.chart.DrawAll()
		m.lastPositions = positions
	}
}

func (m model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()
	switch key {
	case "q", "ctrl+c":
		m.quitting = true
		return m, tea.Quit

	case "down", "j", "tab":
		if len(m.channels) > 0 {
			m.selected = (m.selected + 1) % len(m.channels)
		}
		return m, nil
	case "up", "k", "shift+tab":
		if len(m.channels) > 0 {
			m.selected = (m.selected + len(m.channels) - 1) % len(m.channels)
		}
		return m, nil
	case "1", "2", "3", "4", "5", "6", "7", "8", "9":
		idx := int(key[0] - '1')
		if idx < len(m.channels) {
			m.selected = idx
		}
		return m, nil

	case "left", "h":
		return m.jog(-m.step)
	case "right", "l":
		return m.jog(+m.step)

	case "f":
		return m.run(arm.DirectionForward)
	case "b":
		return m.run(arm.DirectionBackward)

	case " ", "s":
		st, ok := m.current()
		if !ok {
			return m, nil
		}
		return m, m.command(fmt.Sprintf("stop %s", st.ID), func(ctx context.Context) error {
			_, err := m.client.Stop(ctx, st.ID)
			return err
		})

	case "g":
		st, ok := m.current()
		if !ok {
			return m, nil
		}
		target := (st.MinAngle + st.MaxAngle) / 2
		return m, m.command(fmt.Sprintf("center %s at %.1f", st.ID, target), func(ctx context.Context) error {
			_, err := m.client.SetPosition(ctx, st.ID, target, m.speed)
			return err
		})

	case "i":
		return m, m.command("initialize all", func(ctx context.Context) error {
			_, err := m.client.Initialize(ctx)
			return err
		})

	case "r":
		st, ok := m.current()
		if !ok {
			return m, nil
		}
		return m, m.command(fmt.Sprintf("reset %s", st.ID), func(ctx context.Context) error {
			_, err := m.client.Reset(ctx, st.ID)
			return err
		})

	case "e":
		return m, m.command("emergency stop", func(ctx context.Context) error {
			_, err := m.client.EmergencyStop(ctx)
			return err
		})
	case "c":
		return m, m.command("clear emergency stop", func(ctx context.Context) error {
			_, err := m.client.ClearEmergencyStop(ctx)
			return err
		})

	case "+", "=":
		m.step = clampRange(m.step+1, minStep, maxStep)
		return m, nil
	case "-":
		m.step = clampRange(m.step-1, minStep, maxStep)
		return m, nil
	case "]":
		m.speed = clampRange(m.speed+5, minSpeed, maxSpeed)
		return m, nil
	case "[":
		m.speed = clampRange(m.speed-5, minSpeed, maxSpeed)
		return m, nil
	}

	return m, nil
}

func (m model) jog(delta float64) (tea.Model, tea.Cmd) {
	st, ok := m.current()
	if !ok {
		return m, nil
	}
	target, ok := jogTarget(st, delta)
	if !ok {
		m.addLog(fmt.Sprintf("%s has no position estimate, press g to center first", st.ID))
		return m, nil
	}
	return m, m.command(fmt.Sprintf("jog %s to %.1f", st.ID, target), func(ctx context.Context) error {
		_, err := m.client.SetPosition(ctx, st.ID, target, m.speed)
		return err
	})
}

func (m model) run(dir arm.Direction) (tea.Model, tea.Cmd) {
	st, ok := m.current()
	if !ok {
		return m, nil
	}
	return m, m.command(fmt.Sprintf("run %s %s", st.ID, dir), func(ctx context.Context) error {
		_, err := m.client.Start(ctx, st.ID, string(dir), m.speed)
		return err
	})
}

func (m model) command(label string, fn func(ctx context.Context) error) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), cmdTimeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			return logMsg(fmt.Sprintf("%s: %v", label, err))
		}
		return cmdDoneMsg(label)
	}
}

func (m model) current() (arm.ChannelStatus, bool) {
	if m.selected < 0 || m.selected >= len(m.channels) {
		return arm.ChannelStatus{}, false
	}
	st, ok := m.snapshot.Servos[m.channels[m.selected]]
	return st, ok
}

func (m model) View() string {
	if m.quitting {
		return "Jog console closed.\n"
	}

	var sb strings.Builder

	// Header
	sb.WriteString(titleStyle.Render("Arm Jog Console"))
	sb.WriteString(fmt.Sprintf(" - %s", m.client.BaseURL))
	sb.WriteString(statusStyle.Render(fmt.Sprintf("  step=%.0f° speed=%.0f%%", m.step, m.speed)))
	if m.snapshot.EmergencyStop.Active {
		sb.WriteString("  ")
		sb.WriteString(estopStyle.Render(fmt.Sprintf(" EMERGENCY STOP by %s, press c to clear ", m.snapshot.EmergencyStop.TriggeredBy)))
	}
	sb.WriteString("\n\n")

	// Chart
	sb.WriteString(chartStyle.Render(m.chart.View()))
	sb.WriteString("\n")

	// Channel table
	sb.WriteString(m.renderTable())

	// Legend
	sb.WriteString(statusStyle.Render("←/→ jog  ↑/↓ select  f/b run  space stop  g center  i init  r reset  e estop  c clear  +/- step  [/] speed  q quit"))
	sb.WriteString("\n")

	// Log box
	logStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Width(m.width - 4).
		Foreground(lipgloss.Color("9"))

	var logLines string
	if len(m.logs) == 0 {
		logLines = statusStyle.Render("Waiting for commands")
	} else {
		logLines = strings.Join(m.logs, "\n")
	}
	sb.WriteString(logStyle.Render(logLines))
	sb.WriteString("\n")

	return sb.String()
}

func (m model) renderTable() string {
	if len(m.channels) == 0 {
		return statusStyle.Render("no channels reported yet") + "\n"
	}
	var sb strings.Builder
	for i, id := range m.channels {
		st := m.snapshot.Servos[id]
		cursor := "  "
		if i == m.selected {
			cursor = "> "
		}
		pos := "    ?"
		if st.Position != nil {
			pos = fmt.Sprintf("%5.1f", *st.Position)
		}
		color := channelPalette[i%len(channelPalette)]
		dot := lipgloss.NewStyle().Foreground(lipgloss.Color(color)).Render("●")
		line := fmt.Sprintf("%s%s %-14s %-8s %-9s %s°  [%.0f..%.0f]  %3.0f%%",
			cursor, dot, id, st.RunState, st.Direction, pos, st.MinAngle, st.MaxAngle, st.Speed)
		switch {
		case st.RunState == arm.StateFaulted:
			line = faultStyle.Render(line)
		case i == m.selected:
			line = selectedStyle.Render(line)
		}
		sb.WriteString(line)
		sb.WriteString("\n")
	}
	return sb.String()
}

func sortedChannelIDs(snap arm.Snapshot) []string {
	ids := make([]string, 0, len(snap.Servos))
	for id := range snap.Servos {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// jogTarget computes the next positional target for a relative jog, clamped
// to the channel bounds. A channel without a position estimate cannot jog.
func jogTarget(st arm.ChannelStatus, delta float64) (float64, bool) {
	if st.Position == nil {
		return 0, false
	}
	target := *st.Position + delta
	if target < st.MinAngle {
		target = st.MinAngle
	}
	if target > st.MaxAngle {
		target = st.MaxAngle
	}
	return target, true
}

func clampRange(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func main() {
	var (
		addr      = flag.String("addr", "", "arm service base URL (defaults to saved prefs)")
		key       = flag.String("key", "", "API key for mutating endpoints")
		step      = flag.Float64("step", 0, "jog step in degrees")
		speed     = flag.Float64("speed", 0, "speed percent for jogs and runs")
		prefsPath = flag.String("prefs", defaultPrefsFile, "path to the prefs file")
	)
	flag.Parse()

	p, err := loadPrefs(*prefsPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "armjog: %v\n", err)
		os.Exit(1)
	}
	if *addr != "" {
		p.Addr = *addr
	}
	if *key != "" {
		p.Key = *key
	}
	if *step > 0 {
		p.Step = *step
	}
	if *speed > 0 {
		p.Speed = *speed
	}

	client := armclient.New(p.Addr, p.Key)
	ctx, cancel := context.WithTimeout(context.Background(), cmdTimeout)
	_, err = client.Health(ctx)
	cancel()
	if err != nil {
		fmt.Fprintf(os.Stderr, "armjog: cannot reach %s: %v\n", p.Addr, err)
		fmt.Fprintln(os.Stderr, "")
		fmt.Fprintln(os.Stderr, "Start the service with 'armctl', or point at it with -addr.")
		os.Exit(1)
	}

	prog := tea.NewProgram(initialModel(client, p), tea.WithAltScreen())
	final, err := prog.Run()
	if err != nil {
		log.Fatalf("Error running program: %v", err)
	}

	if m, ok := final.(model); ok {
		p.Step = m.step
		p.Speed = m.speed
		if err := savePrefs(*prefsPath, p); err != nil {
			fmt.Fprintf(os.Stderr, "armjog: save prefs: %v\n", err)
		}
	}
}
