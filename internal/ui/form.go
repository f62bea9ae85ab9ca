package ui

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/pmoss/stunnel-pool/internal/model"
	"github.com/pmoss/stunnel-pool/internal/util"
)

// formMode distinguishes between the mode-select, quick-pool, and full-target screens.
type formMode int

const (
	formModeSelect formMode = iota
	formModeQuick
	formModeFull
)

// Field indices for the full target form.
const (
	fieldAlias = iota
	fieldHost
	fieldPort
	fieldVerify
	fieldCount
)

// formResult is returned when the user completes the form.
type formResult struct {
	target model.TargetEntry
	save   bool // true = append to targets.conf
	warm   bool // true = pool a tunnel immediately
}

// targetForm holds all state for the "new target" configurator.
type targetForm struct {
	mode    formMode
	modeSel int // 0 = quick, 1 = full (for mode selection screen)

	// Quick pool
	quickInput textinput.Model

	// Full target form
	fields   []textinput.Model
	focusIdx int

	// Persistence and diagnosis choices
	saveToRegistry bool
	diagnosis      bool

	// Validation error
	errMsg string
}

// newTargetForm creates an initialized form starting at mode selection.
func newTargetForm() *targetForm {
	f := &targetForm{
		mode: formModeSelect,
	}

	// Quick pool input.
	qi := textinput.New()
	qi.Placeholder = "host:port"
	qi.CharLimit = 256
	qi.Width = 50
	f.quickInput = qi

	// Full form fields.
	placeholders := []string{
		"pool-db-primary (required)",
		"192.168.1.1 or db.example.com (required)",
		"443 (required)",
		"yes / no (blank = sentinel file)",
	}
	limits := []int{64, 256, 6, 4}

	f.fields = make([]textinput.Model, fieldCount)
	for i := range f.fields {
		ti := textinput.New()
		ti.Placeholder = placeholders[i]
		ti.CharLimit = limits[i]
		ti.Width = 40
		f.fields[i] = ti
	}

	return f
}

// update processes a key message and returns a formResult if the form is complete.
func (f *targetForm) update(msg tea.KeyMsg) (*formResult, tea.Cmd) {
	switch f.mode {
	case formModeSelect:
		return f.updateModeSelect(msg)
	case formModeQuick:
		return f.updateQuick(msg)
	case formModeFull:
		return f.updateFull(msg)
	}
	return nil, nil
}

func (f *targetForm) updateModeSelect(msg tea.KeyMsg) (*formResult, tea.Cmd) {
	switch msg.String() {
	case "j", "down":
		if f.modeSel < 1 {
			f.modeSel++
		}
	case "k", "up":
		if f.modeSel > 0 {
			f.modeSel--
		}
	case "enter":
		if f.modeSel == 0 {
			f.mode = formModeQuick
			f.quickInput.Focus()
			return nil, f.quickInput.Cursor.BlinkCmd()
		}
		f.mode = formModeFull
		f.focusIdx = 0
		f.fields[0].Focus()
		return nil, f.fields[0].Cursor.BlinkCmd()
	}
	return nil, nil
}

func (f *targetForm) updateQuick(msg tea.KeyMsg) (*formResult, tea.Cmd) {
	switch msg.String() {
	case "enter":
		target, err := parseQuickTarget(f.quickInput.Value())
		if err != nil {
			f.errMsg = err.Error()
			return nil, nil
		}
		return &formResult{target: target, warm: true}, nil
	default:
		var cmd tea.Cmd
		f.quickInput, cmd = f.quickInput.Update(msg)
		f.errMsg = ""
		return nil, cmd
	}
}

func (f *targetForm) updateFull(msg tea.KeyMsg) (*formResult, tea.Cmd) {
	switch msg.String() {
	case "tab", "shift+tab":
		// Navigate between fields.
		f.fields[f.focusIdx].Blur()
		if msg.String() == "tab" {
			f.focusIdx = (f.focusIdx + 1) % fieldCount
		} else {
			f.focusIdx = (f.focusIdx - 1 + fieldCount) % fieldCount
		}
		f.fields[f.focusIdx].Focus()
		return nil, f.fields[f.focusIdx].Cursor.BlinkCmd()
	case "ctrl+s":
		f.saveToRegistry = !f.saveToRegistry
		return nil, nil
	case "ctrl+d":
		f.diagnosis = !f.diagnosis
		return nil, nil
	case "enter":
		target, err := f.buildTargetEntry()
		if err != nil {
			f.errMsg = err.Error()
			return nil, nil
		}
		return &formResult{target: target, save: f.saveToRegistry, warm: true}, nil
	default:
		var cmd tea.Cmd
		f.fields[f.focusIdx], cmd = f.fields[f.focusIdx].Update(msg)
		f.errMsg = ""
		return nil, cmd
	}
}

func (f *targetForm) buildTargetEntry() (model.TargetEntry, error) {
	alias := strings.TrimSpace(f.fields[fieldAlias].Value())
	host := strings.TrimSpace(f.fields[fieldHost].Value())
	portStr := strings.TrimSpace(f.fields[fieldPort].Value())
	verifyStr := strings.TrimSpace(f.fields[fieldVerify].Value())

	if alias == "" {
		return model.TargetEntry{}, fmt.Errorf("alias is required")
	}
	if host == "" {
		return model.TargetEntry{}, fmt.Errorf("host is required")
	}

	port, err := strconv.Atoi(portStr)
	if err != nil || util.ValidatePort(port) != nil {
		return model.TargetEntry{}, fmt.Errorf("port must be %d-%d", util.MinPort, util.MaxPort)
	}

	verify := model.VerifyDefault
	switch strings.ToLower(verifyStr) {
	case "":
	case "yes":
		verify = model.VerifyAlways
	case "no":
		verify = model.VerifyNever
	default:
		return model.TargetEntry{}, fmt.Errorf("verify must be yes, no or blank")
	}

	t := model.TargetEntry{
		Alias:     alias,
		Host:      host,
		Port:      port,
		Verify:    verify,
		Diagnosis: f.diagnosis,
	}
	return t, nil
}

// view renders the form panel.
func (f *targetForm) view(renderPanel func(string, string, int, lipgloss.Color) string, width int) string {
	accent := lipgloss.Color("214")
	switch f.mode {
	case formModeSelect:
		return renderPanel("New Target", f.modeSelectView(), width, accent)
	case formModeQuick:
		return renderPanel("Quick Pool", f.quickView(), width, accent)
	case formModeFull:
		return renderPanel("New Target - Full Config", f.fullView(), width, accent)
	}
	return ""
}

func (f *targetForm) modeSelectView() string {
	var b strings.Builder
	b.WriteString("Choose how to add the target:\n\n")

	options := []struct {
		label string
		desc  string
	}{
		{"Quick Pool", "Enter host:port and pool a tunnel immediately"},
		{"Full Config", "Configure verification and diagnosis with optional save"},
	}

	for i, opt := range options {
		cursor := "  "
		if i == f.modeSel {
			cursor = "> "
		}
		b.WriteString(fmt.Sprintf("%s[%s]  %s\n", cursor, opt.label, opt.desc))
	}

	b.WriteString("\nj/k to select, Enter to confirm, Esc to cancel")
	return b.String()
}

func (f *targetForm) quickView() string {
	var b strings.Builder
	b.WriteString("Endpoint:\n\n")
	b.WriteString("  " + f.quickInput.View() + "\n\n")
	b.WriteString("Format: host:port\n")

	if f.errMsg != "" {
		errStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
		b.WriteString("\n" + errStyle.Render("Error: "+f.errMsg) + "\n")
	}

	b.WriteString("\nEnter to pool a tunnel, Esc to go back")
	return b.String()
}

func (f *targetForm) fullView() string {
	labels := []string{"Alias:", "Host:", "Port:", "Verify:"}

	var b strings.Builder
	for i, label := range labels {
		cursor := "  "
		if i == f.focusIdx {
			cursor = "> "
		}
		b.WriteString(fmt.Sprintf("%s%-10s %s\n", cursor, label, f.fields[i].View()))
	}

	b.WriteString("\n")
	saveMarker := " "
	sessionMarker := "x"
	if f.saveToRegistry {
		saveMarker = "x"
		sessionMarker = " "
	}
	b.WriteString(fmt.Sprintf("  Save: (%s) Session only  (%s) Save to targets.conf\n", sessionMarker, saveMarker))
	diagMarker := " "
	if f.diagnosis {
		diagMarker = "x"
	}
	b.WriteString(fmt.Sprintf("  Diagnosis: (%s) Preserve stunnel logs for post-failure diagnosis\n", diagMarker))

	if f.errMsg != "" {
		errStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
		b.WriteString("\n" + errStyle.Render("Error: "+f.errMsg) + "\n")
	}

	b.WriteString("\nTab/Shift-Tab navigate | Ctrl+S toggle save | Ctrl+D toggle diagnosis | Enter submit | Esc back")
	return b.String()
}

// parseQuickTarget parses a quick-pool string into an ad-hoc TargetEntry.
func parseQuickTarget(input string) (model.TargetEntry, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return model.TargetEntry{}, fmt.Errorf("endpoint cannot be empty")
	}

	colonIdx := strings.LastIndex(input, ":")
	if colonIdx <= 0 {
		return model.TargetEntry{}, fmt.Errorf("endpoint must be host:port")
	}
	port, err := strconv.Atoi(input[colonIdx+1:])
	if err != nil || util.ValidatePort(port) != nil {
		return model.TargetEntry{}, fmt.Errorf("port must be %d-%d", util.MinPort, util.MaxPort)
	}

	t := model.TargetEntry{
		Alias: input,
		Host:  input[:colonIdx],
		Port:  port,
	}
	return t, nil
}
