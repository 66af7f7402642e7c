package tui

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/rshade/regscan/internal/engine/batch"
)

// ScanState is the lifecycle state of a progress view.
type ScanState int

const (
	// StateScanning means at least one device is still being read.
	StateScanning ScanState = iota
	// StateDone means every device finished.
	StateDone
	// StateCancelled means the user interrupted the scan.
	StateCancelled
)

const (
	defaultBarWidth = 40
	maxBarWidth     = 80
	labelWidth      = 28
	percentDivisor  = 100
	etaRounding     = time.Second
)

// ProgressMsg carries a device progress snapshot into the program.
type ProgressMsg batch.ProgressSnapshot

// DoneMsg tells the program that all devices finished.
type DoneMsg struct {
	Err error
}

// ProgressModel renders one progress bar per scanned device.
type ProgressModel struct {
	devices   []string
	snapshots map[string]batch.ProgressSnapshot
	bar       progress.Model
	state     ScanState
	err       error
	width     int
	cancel    context.CancelFunc
}

// NewProgressModel creates a progress view for the given devices. cancel is
// invoked when the user quits before the scan ends; it may be nil.
func NewProgressModel(devices []string, cancel context.CancelFunc) ProgressModel {
	return ProgressModel{
		devices:   append([]string(nil), devices...),
		snapshots: make(map[string]batch.ProgressSnapshot, len(devices)),
		bar:       progress.New(progress.WithDefaultGradient(), progress.WithWidth(defaultBarWidth)),
		state:     StateScanning,
		cancel:    cancel,
	}
}

// Init implements tea.Model.
func (m ProgressModel) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m ProgressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.bar.Width = barWidth(msg.Width)
		return m, nil

	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC || (msg.Type == tea.KeyRunes && msg.String() == "q") {
			m.state = StateCancelled
			if m.cancel != nil {
				m.cancel()
			}
			return m, tea.Quit
		}
		return m, nil

	case ProgressMsg:
		snap := batch.ProgressSnapshot(msg)
		if _, known := m.snapshots[snap.Device]; !known && !m.hasDevice(snap.Device) {
			m.devices = append(m.devices, snap.Device)
		}
		m.snapshots[snap.Device] = snap
		return m, nil

	case DoneMsg:
		m.state = StateDone
		m.err = msg.Err
		return m, tea.Quit
	}

	return m, nil
}

// View implements tea.Model.
func (m ProgressModel) View() string {
	titleStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	dimStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("240"))

	var b strings.Builder
	b.WriteString(titleStyle.Render(m.title()))
	b.WriteString("\n\n")

	for _, device := range m.devices {
		snap := m.snapshots[device]
		b.WriteString(fmt.Sprintf("%-*s ", labelWidth, truncate(device, labelWidth)))
		b.WriteString(m.bar.ViewAs(snap.PercentComplete / percentDivisor))
		b.WriteString("\n")
		b.WriteString(dimStyle.Render(detailLine(snap)))
		b.WriteString("\n")
	}

	if m.state == StateScanning {
		b.WriteString("\n")
		b.WriteString(dimStyle.Render("q/ctrl+c: cancel"))
		b.WriteString("\n")
	}
	return b.String()
}

// State returns the current lifecycle state.
func (m ProgressModel) State() ScanState {
	return m.state
}

// Snapshot returns the latest snapshot received for device.
func (m ProgressModel) Snapshot(device string) (batch.ProgressSnapshot, bool) {
	snap, ok := m.snapshots[device]
	return snap, ok
}

// Devices returns the devices in display order.
func (m ProgressModel) Devices() []string {
	return append([]string(nil), m.devices...)
}

func (m ProgressModel) title() string {
	switch m.state {
	case StateDone:
		if m.err != nil {
			return "Scan finished with errors"
		}
		return "Scan complete"
	case StateCancelled:
		return "Scan cancelled"
	default:
		return fmt.Sprintf("Scanning %d device(s)", len(m.devices))
	}
}

func (m ProgressModel) hasDevice(device string) bool {
	for _, d := range m.devices {
		if d == device {
			return true
		}
	}
	return false
}

func detailLine(s batch.ProgressSnapshot) string {
	if s.TotalRegisters == 0 {
		return "  waiting"
	}
	line := fmt.Sprintf("  %d/%d registers, %d accessible, chunk %d/%d, %.0f reg/s",
		s.ScannedRegisters, s.TotalRegisters, s.AccessibleRegisters,
		s.ScannedChunks, s.TotalChunks, s.RegistersPerSecond)
	if s.EstimatedRemaining > 0 && s.ScannedRegisters < s.TotalRegisters {
		line += ", ETA " + s.EstimatedRemaining.Round(etaRounding).String()
	}
	return line
}

func barWidth(termWidth int) int {
	w := termWidth - labelWidth - 2 //nolint:mnd // label gap
	if w < defaultBarWidth {
		return defaultBarWidth
	}
	return min(w, maxBarWidth)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}

// sortedDevices returns devices ordered for a stable initial layout.
func sortedDevices(devices []string) []string {
	out := append([]string(nil), devices...)
	sort.Strings(out)
	return out
}
