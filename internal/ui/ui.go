package ui

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/pmoss/stunnel-pool/internal/appconfig"
	"github.com/pmoss/stunnel-pool/internal/config"
	"github.com/pmoss/stunnel-pool/internal/events"
	"github.com/pmoss/stunnel-pool/internal/history"
	"github.com/pmoss/stunnel-pool/internal/model"
	"github.com/pmoss/stunnel-pool/internal/pool"
	"github.com/pmoss/stunnel-pool/internal/stunnel"
	"github.com/pmoss/stunnel-pool/internal/util"
)

type tickMsg time.Time

type statusMsg string

type modelUI struct {
	targets     []model.TargetEntry
	filtered    []model.TargetEntry
	sel         int
	filter      string
	filterMode  bool
	showHelp    bool
	status      string
	warnings    []string
	entries     []model.PoolEntry
	lastConnect map[string]int64
	width       int
	height      int
	cfg         appconfig.Config
	pool        *pool.Pool
	form        *targetForm

	// connect is a seam for tests; production code keeps stunnel.Connect.
	connect pool.ConnectFunc
}

func initialModel() modelUI {
	cfg, _ := appconfig.Load()
	if cfg.StunnelPath != "" {
		stunnel.SetBinaryPath(cfg.StunnelPath)
	}
	if cfg.VerifySentinel != "" {
		stunnel.SetVerifySentinel(cfg.VerifySentinel)
	}
	p := pool.New(pool.LimitsFromConfig(cfg.Pool), nil)
	journal := events.NewStore()
	p.SetJournal(journal)
	stunnel.SetJournal(journal)
	m := modelUI{cfg: cfg, pool: p, connect: stunnel.Connect}
	m.reloadConfig()
	m.status = "Ready. Select a target, then w to pool a tunnel or c to check one out."
	return m
}

func (m *modelUI) reloadConfig() {
	res, err := config.ParseDefault()
	if err != nil {
		m.status = "config parse error: " + err.Error()
		return
	}
	last, _ := history.LastConnect()
	m.lastConnect = last
	m.targets = history.SortTargetsRecent(res.Targets, last)
	m.warnings = res.Warnings
	m.applyFilter()
	m.entries = m.pool.Snapshot()
}

func (m *modelUI) applyFilter() {
	if strings.TrimSpace(m.filter) == "" {
		m.filtered = append([]model.TargetEntry(nil), m.targets...)
	} else {
		f := strings.ToLower(strings.TrimSpace(m.filter))
		m.filtered = nil
		for _, t := range m.targets {
			if strings.Contains(strings.ToLower(t.Alias), f) || strings.Contains(strings.ToLower(t.DisplayTarget()), f) {
				m.filtered = append(m.filtered, t)
			}
		}
	}
	if m.sel >= len(m.filtered) {
		m.sel = len(m.filtered) - 1
	}
	if m.sel < 0 {
		m.sel = 0
	}
}

func tickCmd(seconds int) tea.Cmd {
	if seconds <= 0 {
		seconds = util.DefaultRefreshSeconds
	}
	return tea.Tick(time.Duration(seconds)*time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m modelUI) Init() tea.Cmd {
	return tickCmd(m.cfg.UI.RefreshSeconds)
}

func (m modelUI) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tickMsg:
		m.pool.Sweep()
		m.entries = m.pool.Snapshot()
		return m, tickCmd(m.cfg.UI.RefreshSeconds)
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil
	case tea.KeyMsg:
		if m.form != nil {
			if msg.String() == "esc" && m.form.mode == formModeSelect {
				m.form = nil
				m.status = "Add target cancelled"
				return m, nil
			}
			if msg.String() == "esc" {
				m.form.mode = formModeSelect
				return m, nil
			}
			res, cmd := m.form.update(msg)
			if res != nil {
				m.form = nil
				m.applyFormResult(res)
			}
			return m, cmd
		}
		if m.filterMode {
			switch msg.String() {
			case "enter", "esc":
				m.filterMode = false
				m.applyFilter()
				return m, nil
			case "backspace":
				if len(m.filter) > 0 {
					m.filter = m.filter[:len(m.filter)-1]
				}
				m.applyFilter()
				return m, nil
			default:
				if len(msg.String()) == 1 {
					m.filter += msg.String()
					m.applyFilter()
				}
				return m, nil
			}
		}
		switch msg.String() {
		case "q", "ctrl+c":
			m.pool.Flush()
			return m, tea.Quit
		case "j", "down":
			if m.sel < len(m.filtered)-1 {
				m.sel++
			}
		case "k", "up":
			if m.sel > 0 {
				m.sel--
			}
		case "/":
			m.filterMode = true
			m.status = "Filter mode: type and press Enter"
		case "?":
			m.showHelp = !m.showHelp
		case "r":
			m.reloadConfig()
			m.status = "Refreshed target registry and pool snapshot"
		case "a":
			m.form = newTargetForm()
		case "f":
			n := m.pool.Len()
			m.pool.Flush()
			m.entries = m.pool.Snapshot()
			m.status = fmt.Sprintf("Flushed %d pooled tunnel(s)", n)
		case "w", "enter":
			if len(m.filtered) == 0 {
				break
			}
			m.warmTarget(m.filtered[m.sel])
		case "c":
			if len(m.filtered) == 0 {
				break
			}
			m.checkoutTarget(m.filtered[m.sel])
		}
	case statusMsg:
		m.status = string(msg)
	}
	return m, nil
}

func (m *modelUI) connectOptions(t model.TargetEntry) stunnel.Options {
	return stunnel.Options{
		Verify:            t.Verify,
		ExtendedDiagnosis: t.Diagnosis,
		Attempts:          m.cfg.Connect.Attempts,
		Backoff:           time.Duration(m.cfg.Connect.BackoffSeconds) * time.Second,
	}
}

// warmTarget spawns a fresh tunnel and donates it to the pool.
func (m *modelUI) warmTarget(t model.TargetEntry) {
	h, err := m.connect(t.Host, t.Port, m.connectOptions(t))
	if err != nil {
		m.status = "Connect failed: " + err.Error()
		return
	}
	m.pool.Donate(h)
	_ = history.Touch(h.Endpoint())
	m.status = fmt.Sprintf("Pooled tunnel to %s (pid=%d)", t.DisplayTarget(), h.Pid())
	m.entries = m.pool.Snapshot()
}

// checkoutTarget exercises the checkout path: a pooled tunnel is reused
// when one exists, otherwise a fresh one is spawned, and the handle is
// torn down immediately afterwards.
func (m *modelUI) checkoutTarget(t model.TargetEntry) {
	before := m.pool.Len()
	h, err := m.pool.Connect(t.Host, t.Port, m.connectOptions(t))
	if err != nil {
		m.status = "Checkout failed: " + err.Error()
		return
	}
	reused := m.pool.Len() < before
	_ = stunnel.Disconnect(h, true, false)
	if reused {
		m.status = fmt.Sprintf("Checked out pooled tunnel to %s and closed it", t.DisplayTarget())
	} else {
		m.status = fmt.Sprintf("No pooled tunnel for %s; spawned and closed a fresh one", t.DisplayTarget())
	}
	m.entries = m.pool.Snapshot()
}

func (m *modelUI) applyFormResult(res *formResult) {
	if res.save {
		if err := config.ValidateAlias(res.target.Alias); err != nil {
			m.status = "Add target failed: " + err.Error()
			return
		}
		if err := config.AppendTarget(res.target); err != nil {
			m.status = "Add target failed: " + err.Error()
			return
		}
		m.reloadConfig()
		m.status = "Added target " + res.target.Alias
	}
	if res.warm {
		m.warmTarget(res.target)
	}
}

func (m modelUI) View() string {
	head := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39")).Render("Stunnel Pool Dashboard")
	subhead := fmt.Sprintf("targets=%d shown=%d pooled=%d refresh=%ds", len(m.targets), len(m.filtered), len(m.entries), clampRefresh(m.cfg.UI.RefreshSeconds))
	left := strings.Builder{}
	left.WriteString("j/k to navigate; [P] means pooled tunnel(s).\n")
	for i, t := range m.filtered {
		cursor := " "
		if i == m.sel {
			cursor = ">"
		}
		poolMark := " "
		if m.pooledCount(t.Endpoint()) > 0 {
			poolMark = "P"
		}
		left.WriteString(fmt.Sprintf("%s[%s] %-22s %-22s\n", cursor, poolMark, t.Alias, t.DisplayTarget()))
	}
	if len(m.filtered) == 0 {
		left.WriteString("  (no targets matched)\n")
	}

	detail := strings.Builder{}
	if len(m.filtered) > 0 {
		t := m.filtered[m.sel]
		detail.WriteString(fmt.Sprintf("Alias: %s\nEndpoint: %s\nVerify: %s\nDiagnosis: %v\nPooled: %d\nLast connect: %s\n",
			t.Alias, t.DisplayTarget(), util.EmptyDash(string(t.Verify)), t.Diagnosis, m.pooledCount(t.Endpoint()), m.lastConnectString(t)))
		detail.WriteString("\nNext steps:\n")
		detail.WriteString(m.guidanceForTarget(t))
	} else {
		detail.WriteString("Pick a target to view pool and connection options.\n")
	}

	tbl := strings.Builder{}
	tbl.WriteString(fmt.Sprintf("%-6s %-26s %-8s %-12s %-8s %-8s %-8s\n", "ID", "ENDPOINT", "PID", "TUNNEL", "VERIFY", "AGE", "IDLE"))
	for _, e := range m.entries {
		tbl.WriteString(fmt.Sprintf("%-6d %-26s %-8d %-12s %-8v %-8s %-8s\n",
			e.ID, e.Endpoint.String(), e.PID, shortID(e.UniqueID), e.Verified, secondsString(e.AgeSec), secondsString(e.IdleSec)))
	}
	if len(m.entries) == 0 {
		tbl.WriteString("(none)\n")
	}

	warn := ""
	if len(m.warnings) > 0 {
		warn = "Warnings: " + strings.Join(m.warnings, " | ") + "\n"
	}
	filterLine := fmt.Sprintf("Filter: %s", m.filter)
	if m.filterMode {
		filterLine += " (typing...)"
	}

	quickHelp := "Keys: w pool tunnel | c checkout | f flush | a add target | / filter | r refresh | ? help | q quit"
	main := m.renderMainPanels(left.String(), detail.String())
	pooled := m.renderPanel("Pooled Tunnels", tbl.String(), m.effectiveWidth(), lipgloss.Color("63"))
	status := m.renderPanel("Status", m.status, m.effectiveWidth(), lipgloss.Color("205"))
	help := ""
	if m.showHelp {
		help = m.renderPanel("Help", m.helpBlock(), m.effectiveWidth(), lipgloss.Color("244"))
	}
	form := ""
	if m.form != nil {
		form = m.form.view(m.renderPanel, m.effectiveWidth())
	}
	layout := lipgloss.JoinVertical(
		lipgloss.Left,
		head,
		subhead,
		filterLine,
		quickHelp,
		main,
		pooled,
		form,
		help,
		warn,
		status,
	)
	return layout
}

// Run starts the interactive dashboard.
func Run() error {
	if _, err := stunnel.BinaryPath(); err != nil {
		return err
	}
	p := tea.NewProgram(initialModel(), tea.WithAltScreen())
	_, err := p.Run()
	return err
}

func clampRefresh(seconds int) int {
	if seconds <= 0 {
		return util.DefaultRefreshSeconds
	}
	return seconds
}

func (m modelUI) pooledCount(ep model.Endpoint) int {
	n := 0
	for _, e := range m.entries {
		if e.Endpoint == ep {
			n++
		}
	}
	return n
}

func (m modelUI) lastConnectString(t model.TargetEntry) string {
	ts, ok := m.lastConnect[t.Endpoint().String()]
	if !ok || ts == 0 {
		return "-"
	}
	return time.Unix(ts, 0).Format(time.RFC3339)
}

func (m modelUI) guidanceForTarget(t model.TargetEntry) string {
	var lines []string
	n := m.pooledCount(t.Endpoint())
	if n == 0 {
		lines = append(lines, "  - Press w to spawn a tunnel and keep it pooled.")
		lines = append(lines, "  - Press c to spawn, use and close a throwaway tunnel.")
	} else {
		lines = append(lines, fmt.Sprintf("  - %d pooled tunnel(s); press c to check out the longest-idle one.", n))
		lines = append(lines, "  - Press w to pool another tunnel for this endpoint.")
	}
	if t.Verify == model.VerifyNever {
		lines = append(lines, "  - Certificate verification is disabled for this target.")
	}
	return strings.Join(lines, "\n") + "\n"
}

func (m modelUI) renderMainPanels(targetsPanel, detailsPanel string) string {
	width := m.effectiveWidth()
	if width < 96 {
		return lipgloss.JoinVertical(
			lipgloss.Left,
			m.renderPanel("Targets", targetsPanel, width, lipgloss.Color("39")),
			m.renderPanel("Details", detailsPanel, width, lipgloss.Color("69")),
		)
	}
	leftWidth := width / 2
	rightWidth := width - leftWidth
	return lipgloss.JoinHorizontal(
		lipgloss.Top,
		m.renderPanel("Targets", targetsPanel, leftWidth, lipgloss.Color("39")),
		m.renderPanel("Details", detailsPanel, rightWidth, lipgloss.Color("69")),
	)
}

func (m modelUI) helpBlock() string {
	return strings.Join([]string{
		"  Navigation: j/k or arrow keys move selection.",
		"  Filtering: press /, type alias/host text, then Enter.",
		"  Pool: press w (or Enter) to spawn a tunnel and donate it to the pool.",
		"  Checkout: press c to reuse the longest-idle pooled tunnel, or spawn fresh.",
		"  Flush: press f to disconnect every pooled tunnel.",
		"  Add: press a to register a new target.",
		"  Refresh: press r to reparse targets.conf and refresh the pool snapshot.",
		"  Quit: press q (or Ctrl+C) and the pool is flushed.",
	}, "\n")
}

func (m modelUI) effectiveWidth() int {
	if m.width <= 0 {
		return 100
	}
	return m.width
}

func (m modelUI) renderPanel(title, body string, width int, accent lipgloss.Color) string {
	if width < 24 {
		width = 24
	}
	header := lipgloss.NewStyle().Bold(true).Foreground(accent).Render(title)
	content := strings.TrimSuffix(body, "\n")
	panel := strings.TrimSpace(header + "\n" + content)
	return lipgloss.NewStyle().
		Width(width).
		Border(lipgloss.RoundedBorder()).
		BorderForeground(accent).
		Padding(0, 1).
		Render(panel)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return util.EmptyDash(id)
}

func secondsString(s int64) string {
	if s < 0 {
		s = 0
	}
	return (time.Duration(s) * time.Second).String()
}
