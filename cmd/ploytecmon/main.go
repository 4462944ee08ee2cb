// Command ploytecmon is a small bubbletea TUI that attaches to a
// running ploytecd's shared memory region and displays its live state:
// session id (copyable to clipboard), sample clock, ring occupancy,
// MIDI activity, and a host resource sidebar. Scaled down from
// internal/cli/ui's full pipeline-control TUI to a single read-only
// dashboard, since nothing here needs menus, chat, or a pipeline view.
package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	psutil "github.com/shirou/gopsutil/v3/cpu"
	psmem "github.com/shirou/gopsutil/v3/mem"
	flag "github.com/spf13/pflag"

	"ploytecd/internal/config"
	"ploytecd/internal/shmring"
	"ploytecd/internal/usbengine"
)

// activityLogLines bounds the scrollback kept for the MIDI activity
// panel; older lines are dropped rather than growing unbounded.
const activityLogLines = 200

var (
	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#000000")).
			Background(lipgloss.Color("#FFFF00")).
			Padding(0, 2).
			Bold(true)

	footerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFFFF")).
			Background(lipgloss.Color("#4B5563")).
			Padding(0, 2)

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#9CA3AF")).
			Padding(0, 1)

	copiedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#34D399")).Bold(true)
)

type tickMsg time.Time

type snapshot struct {
	present, ready          bool
	vendorID, productID     uint32
	sessionID               uint32
	sampleRate, deviceFlags uint32
	sampleTime, hostTime    uint64
	midiOutLen, midiInLen   uint32
	cpuPercent, memPercent  float64
}

type model struct {
	region      *shmring.Region
	snap        snapshot
	copiedUntil time.Time

	activity     viewport.Model
	activityLog  []string
	lastMidiOut  uint32
	lastMidiIn   uint32
	haveBaseline bool
}

func main() {
	var shmName = flag.String("shm-name", "", "shared memory region name (default from config/.env)")
	flag.Parse()

	cfg, err := config.LoadEngineConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, "ploytecmon: load config:", err)
		os.Exit(1)
	}
	name := cfg.ShmName
	if *shmName != "" {
		name = *shmName
	}

	profile := usbengine.ReferenceProfile(0)
	region, err := shmring.Open(name, profile.NumPackets, profile.MaxPacketSize)
	if err != nil {
		fmt.Fprintln(os.Stderr, "ploytecmon: open shared region:", err)
		os.Exit(1)
	}
	defer region.Unmap()

	activity := viewport.New(40, 6)
	activity.SetContent("waiting for MIDI activity...")

	p := tea.NewProgram(model{region: region, activity: activity})
	if _, err := p.Run(); err != nil {
		fmt.Fprintln(os.Stderr, "ploytecmon:", err)
		os.Exit(1)
	}
}

func (m model) Init() tea.Cmd {
	return tick()
}

func tick() tea.Cmd {
	return tea.Tick(250*time.Millisecond, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.activity.Width = msg.Width/2 - 4
		m.activity.Height = 6
		return m, nil
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case "c":
			if err := clipboard.WriteAll(fmt.Sprintf("%d", m.snap.sessionID)); err == nil {
				m.copiedUntil = time.Now().Add(2 * time.Second)
			}
		}
		var cmd tea.Cmd
		m.activity, cmd = m.activity.Update(msg)
		return m, cmd
	case tickMsg:
		m.snap = snapshotOf(m.region)
		m.recordActivity()
		return m, tick()
	}
	return m, nil
}

// recordActivity appends a line to the MIDI activity log whenever a
// ring's queued length changes since the last tick. It only reads
// Len(), never Pop(), so the monitor cannot steal bytes from the real
// consumer on either ring.
func (m *model) recordActivity() {
	if !m.haveBaseline {
		m.lastMidiOut = m.snap.midiOutLen
		m.lastMidiIn = m.snap.midiInLen
		m.haveBaseline = true
		return
	}

	now := time.Now().Format("15:04:05.000")
	if m.snap.midiOutLen != m.lastMidiOut {
		m.activityLog = append(m.activityLog, fmt.Sprintf("%s  midi-out queue %d -> %d", now, m.lastMidiOut, m.snap.midiOutLen))
	}
	if m.snap.midiInLen != m.lastMidiIn {
		m.activityLog = append(m.activityLog, fmt.Sprintf("%s  midi-in queue  %d -> %d", now, m.lastMidiIn, m.snap.midiInLen))
	}
	if over := len(m.activityLog) - activityLogLines; over > 0 {
		m.activityLog = m.activityLog[over:]
	}
	m.lastMidiOut = m.snap.midiOutLen
	m.lastMidiIn = m.snap.midiInLen

	width := m.activity.Width
	if width <= 0 {
		width = 40
	}
	wrapped := ansi.Wordwrap(strings.Join(m.activityLog, "\n"), width, " \t")
	m.activity.SetContent(wrapped)
	m.activity.GotoBottom()
}

func (m model) View() string {
	s := m.snap

	status := "no device"
	if s.present && s.ready {
		status = "streaming"
	} else if s.present {
		status = "enumerating"
	}

	header := headerStyle.Render(fmt.Sprintf(" ploytecd monitor — %s ", status))

	deviceLines := fmt.Sprintf(
		"vendor   %#04x\nproduct  %#04x\nsession  %d\nrate     %d Hz\nflags    %#02x",
		s.vendorID, s.productID, s.sessionID, s.sampleRate, s.deviceFlags)
	devicePanel := panelStyle.Render("Device\n\n" + deviceLines)

	clockLines := fmt.Sprintf("sampleTime  %d\nhostTime    %d ns", s.sampleTime, s.hostTime)
	clockPanel := panelStyle.Render("Sample clock\n\n" + clockLines)

	ringLines := fmt.Sprintf("midi-out queued  %d\nmidi-in queued   %d", s.midiOutLen, s.midiInLen)
	ringPanel := panelStyle.Render("Rings\n\n" + ringLines)

	hostLines := fmt.Sprintf("cpu  %.1f%%\nmem  %.1f%%", s.cpuPercent, s.memPercent)
	hostPanel := panelStyle.Render("Host\n\n" + hostLines)

	top := lipgloss.JoinHorizontal(lipgloss.Top, devicePanel, clockPanel)
	bottom := lipgloss.JoinHorizontal(lipgloss.Top, ringPanel, hostPanel)
	activityPanel := panelStyle.Render("MIDI activity\n\n" + m.activity.View())

	copyNote := ""
	if time.Now().Before(m.copiedUntil) {
		copyNote = "  " + copiedStyle.Render("session id copied")
	}

	footer := footerStyle.Render(" q quit · c copy session id · ↑/↓ scroll activity " + copyNote)

	return lipgloss.JoinVertical(lipgloss.Left, header, top, bottom, activityPanel, footer)
}

// snapshotOf reads the region's live fields into a plain struct so
// View can render without touching atomics directly.
func snapshotOf(r *shmring.Region) snapshot {
	sampleTime, hostTime := r.Audio.Timestamp.Read()

	cpuPct, _ := psutil.Percent(0, false)
	memInfo, _ := psmem.VirtualMemory()

	snap := snapshot{
		present:     r.Audio.HardwarePresent.Load(),
		ready:       r.Audio.DriverReady.Load(),
		vendorID:    r.Header.VendorID.Load(),
		productID:   r.Header.ProductID.Load(),
		sessionID:   r.Header.SessionID.Load(),
		sampleRate:  r.Audio.SampleRate.Load(),
		deviceFlags: r.Audio.DeviceFlags.Load(),
		sampleTime:  sampleTime,
		hostTime:    hostTime,
		midiOutLen:  r.MIDIOut.Len(),
		midiInLen:   r.MIDIIn.Len(),
	}
	if len(cpuPct) > 0 {
		snap.cpuPercent = cpuPct[0]
	}
	if memInfo != nil {
		snap.memPercent = memInfo.UsedPercent
	}
	return snap
}
