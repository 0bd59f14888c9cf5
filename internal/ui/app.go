package ui

import (
	"context"
	"time"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/five82/pairsync/internal/logtail"
	"github.com/five82/pairsync/internal/prefs"
	"github.com/five82/pairsync/internal/progress"
	"github.com/five82/pairsync/internal/session"
	"github.com/five82/pairsync/internal/status"
)

const (
	defaultTick   = time.Second
	logTailLines  = 200
	actionTimeout = 15 * time.Second
)

// SessionController is the part of session.Machine the monitor drives.
type SessionController interface {
	Snapshot() session.Snapshot
	Reconnect(ctx context.Context) error
	Logout(ctx context.Context) error
}

// StatusSource is the part of status.Reconciler the monitor reads.
type StatusSource interface {
	Status() status.Status
	Refresh()
}

// JobSource is satisfied by *progress.Handle.
type JobSource interface {
	State() progress.State
	Category() string
	Owner() string
	Reset()
}

// Options configures the UI.
type Options struct {
	Context   context.Context
	Session   SessionController
	Status    StatusSource
	Job       JobSource
	LogPath   string
	TabID     string
	ThemeName string
	PrefsPath string
	PollTick  time.Duration

	// Clipboard defaults to clipboard.WriteAll.
	Clipboard func(string) error
}

// Model is the root application state for Bubble Tea.
type Model struct {
	ctx       context.Context
	session   SessionController
	status    StatusSource
	job       JobSource
	logPath   string
	tabID     string
	prefsPath string
	pollTick  time.Duration
	copyText  func(string) error

	theme   Theme
	keys    keyMap
	spinner spinner.Model
	width   int
	height  int
	ready   bool

	snapshot session.Snapshot
	sys      status.Status
	jobState progress.State
	logs     []logtail.Entry

	busy     string
	flash    string
	flashErr bool
	showHelp bool
}

// New creates a new Bubble Tea model.
func New(opts Options) Model {
	ctx := opts.Context
	if ctx == nil {
		ctx = context.Background()
	}

	pollTick := opts.PollTick
	if pollTick <= 0 {
		pollTick = defaultTick
	}

	themeName := opts.ThemeName
	if themeName == "" {
		themeName = themeOrder[0]
	}

	prefsPath := opts.PrefsPath
	if prefsPath == "" {
		prefsPath = prefs.DefaultPath()
	}

	copyText := opts.Clipboard
	if copyText == nil {
		copyText = clipboard.WriteAll
	}

	theme := GetTheme(themeName)
	return Model{
		ctx:       ctx,
		session:   opts.Session,
		status:    opts.Status,
		job:       opts.Job,
		logPath:   opts.LogPath,
		tabID:     opts.TabID,
		prefsPath: prefsPath,
		pollTick:  pollTick,
		copyText:  copyText,
		theme:     theme,
		keys:      DefaultKeyMap(),
		spinner:   newSpinner(theme),
	}
}

func newSpinner(theme Theme) spinner.Model {
	return spinner.New(
		spinner.WithSpinner(spinner.Dot),
		spinner.WithStyle(lipgloss.NewStyle().Foreground(lipgloss.Color(theme.Accent))),
	)
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		tea.EnterAltScreen,
		tickCmd(m.pollTick),
		m.readStateCmd(),
		m.logTailCmd(),
		m.spinner.Tick,
	)
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.ready = true
		return m, nil

	case tickMsg:
		return m, tea.Batch(m.readStateCmd(), m.logTailCmd(), tickCmd(m.pollTick))

	case stateMsg:
		m.snapshot = msg.snapshot
		m.sys = msg.status
		m.jobState = msg.job
		return m, nil

	case logTailMsg:
		m.logs = msg
		return m, nil

	case actionDoneMsg:
		m.busy = ""
		m.flashErr = msg.err != nil
		if msg.err != nil {
			m.flash = msg.action + " failed: " + msg.err.Error()
		} else {
			m.flash = msg.action + " done"
		}
		return m, m.readStateCmd()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

// View implements tea.Model.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	if m.showHelp {
		return m.renderHelp()
	}
	return m.renderMain()
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.showHelp {
		m.showHelp = false
		return m, nil
	}

	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit

	case key.Matches(msg, m.keys.Help):
		m.showHelp = true
		return m, nil

	case key.Matches(msg, m.keys.CycleTheme):
		m.theme = GetTheme(NextTheme(m.theme.Name))
		m.spinner = newSpinner(m.theme)
		if m.prefsPath != "" {
			saved, _ := prefs.Load(m.prefsPath)
			saved.Theme = m.theme.Name
			if saved.TabID == "" {
				saved.TabID = m.tabID
			}
			_ = prefs.Save(m.prefsPath, saved)
		}
		return m, m.spinner.Tick

	case key.Matches(msg, m.keys.Refresh):
		if m.status == nil {
			return m, nil
		}
		m.status.Refresh()
		m.setFlash("refresh requested", false)
		return m, m.readStateCmd()

	case key.Matches(msg, m.keys.Reconnect):
		if m.session == nil || m.busy != "" {
			return m, nil
		}
		m.busy = "reconnect"
		return m, m.actionCmd("reconnect", m.session.Reconnect)

	case key.Matches(msg, m.keys.Logout):
		if m.session == nil || m.busy != "" {
			return m, nil
		}
		m.busy = "logout"
		return m, m.actionCmd("logout", m.session.Logout)

	case key.Matches(msg, m.keys.CopyQR):
		qr := m.snapshot.QR
		if qr == "" {
			m.setFlash("no QR payload to copy", true)
			return m, nil
		}
		copyText := m.copyText
		return m, func() tea.Msg {
			return actionDoneMsg{action: "copy QR", err: copyText(qr)}
		}

	case key.Matches(msg, m.keys.ResetProgress):
		if m.job == nil {
			return m, nil
		}
		m.job.Reset()
		return m, m.readStateCmd()
	}

	return m, nil
}

func (m *Model) setFlash(text string, isErr bool) {
	m.flash = text
	m.flashErr = isErr
}

// Messages

type tickMsg time.Time

type stateMsg struct {
	snapshot session.Snapshot
	status   status.Status
	job      progress.State
}

type logTailMsg []logtail.Entry

type actionDoneMsg struct {
	action string
	err    error
}

// Commands

func tickCmd(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m Model) readStateCmd() tea.Cmd {
	sess, st, job := m.session, m.status, m.job
	return func() tea.Msg {
		var msg stateMsg
		if sess != nil {
			msg.snapshot = sess.Snapshot()
		}
		if st != nil {
			msg.status = st.Status()
		}
		if job != nil {
			msg.job = job.State()
		}
		return msg
	}
}

func (m Model) logTailCmd() tea.Cmd {
	path := m.logPath
	if path == "" {
		return nil
	}
	return func() tea.Msg {
		entries, err := logtail.ReadEntries(path, logTailLines)
		if err != nil {
			return nil
		}
		return logTailMsg(entries)
	}
}

func (m Model) actionCmd(name string, fn func(context.Context) error) tea.Cmd {
	ctx := m.ctx
	return tea.Batch(m.spinner.Tick, func() tea.Msg {
		actx, cancel := context.WithTimeout(ctx, actionTimeout)
		defer cancel()
		return actionDoneMsg{action: name, err: fn(actx)}
	})
}

// Run starts the Bubble Tea program and blocks until the user quits or the
// context is cancelled.
func Run(opts Options) error {
	m := New(opts)
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(m.ctx))
	_, err := p.Run()
	if err != nil && m.ctx.Err() != nil {
		return nil
	}
	return err
}
