package app

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/sourcegraph/conc/panics"

	"github.com/brensch/deccp/internal/orchestrator"
)

// TaskTag labels the decompile run in progress messages.
const TaskTag = "Decompile"

var (
	titleStyle              = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("62"))
	errorStyle              = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	infoStyle               = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	doneStyle               = lipgloss.NewStyle().Foreground(lipgloss.Color("46"))
	progressBarStyle        = lipgloss.NewStyle().Padding(0, 1)
	fileProgressHeaderStyle = lipgloss.NewStyle().Bold(true).MarginBottom(1)
	fileStatusStyle         = map[string]lipgloss.Style{
		StatusDecompiling: lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		StatusComplete:    lipgloss.NewStyle().Foreground(lipgloss.Color("46")),
		StatusSkipped:     lipgloss.NewStyle().Foreground(lipgloss.Color("240")),
		StatusError:       lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
	}
)

// RunFunc runs the pipeline, reporting progress to obs.
type RunFunc func(obs orchestrator.Observer) (orchestrator.Summary, error)

type FileProgress struct {
	FileName string
	Status   string
	ErrMsg   string
	Elapsed  time.Duration
}

// AppModel is the bubbletea model of the progress view. Update runs on the
// bubbletea goroutine only. The run itself outlives the view: closing the view
// detaches the run, which then drains on its own, and Wait returns its result.
type AppModel struct {
	Title  string
	State  AppState
	Logger *slog.Logger

	run             RunFunc
	spinner         spinner.Model
	overallProgress progress.Model

	fileProgress   map[string]*FileProgress
	fileOrder      []string
	overallTotal   int64
	overallCurrent int64
	lastActivity   string
	taskStartTime  time.Time

	Summary  orchestrator.Summary
	FatalErr error
	Quitting bool

	termWidth  int
	termHeight int

	uiMsgChan chan tea.Msg

	uiDone     chan struct{}
	detachOnce sync.Once
	started    atomic.Bool
	runDone    chan struct{}
	runSummary orchestrator.Summary
	runErr     error
}

func NewAppModel(title string, run RunFunc, logger *slog.Logger) *AppModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))
	if logger == nil {
		logger = slog.Default()
	}

	return &AppModel{
		Title:           title,
		State:           Planning,
		Logger:          logger,
		run:             run,
		spinner:         s,
		overallProgress: progress.New(progress.WithDefaultGradient()),
		fileProgress:    make(map[string]*FileProgress),
		termWidth:       100,
		termHeight:      30,
		uiDone:          make(chan struct{}),
		runDone:         make(chan struct{}),
	}
}

// Detach stops progress delivery to the view. A run still in flight keeps going
// and drains to completion.
func (m *AppModel) Detach() {
	m.detachOnce.Do(func() { close(m.uiDone) })
}

// Wait blocks until the run has finished and returns its result.
func (m *AppModel) Wait() (orchestrator.Summary, error) {
	if !m.started.Load() {
		return orchestrator.Summary{}, errors.New("run was never started")
	}
	<-m.runDone
	return m.runSummary, m.runErr
}

// Finished reports whether the run completed before the UI exited.
func (m *AppModel) Finished() bool {
	return m.State == Done || m.State == ShowError
}

func (m *AppModel) Init() tea.Cmd {
	m.taskStartTime = time.Now()
	m.uiMsgChan = make(chan tea.Msg)
	m.startRun(m.uiMsgChan)
	return tea.Batch(m.spinner.Tick, m.waitForActivityCmd(m.uiMsgChan))
}

func (m *AppModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.Logger.Debug("Quit requested from the progress view.", slog.Bool("finished", m.Finished()))
			m.Quitting = true
			if !m.Finished() {
				m.State = Exiting
			}
			m.Detach()
			m.uiMsgChan = nil
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.termWidth = msg.Width
		m.termHeight = msg.Height
		m.overallProgress.Width = max(0, m.termWidth-4)
	case ProgressMsg:
		m.State = Decompiling
		m.overallCurrent = msg.Current
		m.overallTotal = msg.Total
		if msg.Activity != "" {
			m.lastActivity = msg.Activity
		}
		var percent float64
		if msg.Total > 0 {
			percent = float64(msg.Current) / float64(msg.Total)
		}
		cmds = append(cmds, m.overallProgress.SetPercent(percent), m.waitForActivityCmd(m.uiMsgChan))
	case FileProgressMsg:
		fp, exists := m.fileProgress[msg.FileID]
		if !exists {
			fp = &FileProgress{FileName: msg.FileName}
			m.fileProgress[msg.FileID] = fp
			m.fileOrder = append(m.fileOrder, msg.FileID)
		}
		fp.Status = msg.Status
		fp.ErrMsg = msg.ErrMsg
		fp.Elapsed = msg.ElapsedTime
		cmds = append(cmds, m.waitForActivityCmd(m.uiMsgChan))
	case TaskFinishedMsg:
		m.Logger.Debug("Task finished.", slog.String("tag", msg.Tag), slog.Duration("duration", msg.EndTime.Sub(msg.StartTime)))
		m.Summary = msg.Summary
		m.uiMsgChan = nil
		if msg.Err != nil {
			m.FatalErr = msg.Err
			m.State = ShowError
		} else {
			m.State = Done
		}
		return m, tea.Quit
	case GeneralErrorMsg:
		m.FatalErr = msg.Err
		m.State = ShowError
		m.uiMsgChan = nil
		return m, tea.Quit
	case spinner.TickMsg:
		if m.State == Planning || m.State == Decompiling {
			m.spinner, cmd = m.spinner.Update(msg)
			cmds = append(cmds, cmd)
		}
	case progress.FrameMsg:
		progModel, frameCmd := m.overallProgress.Update(msg)
		if newModel, ok := progModel.(progress.Model); ok {
			m.overallProgress = newModel
			cmds = append(cmds, frameCmd)
		}
	}

	return m, tea.Batch(cmds...)
}

func (m *AppModel) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render(fmt.Sprintf("--- %s ---", m.Title)))
	b.WriteString("\n\n")

	switch m.State {
	case Planning:
		b.WriteString(fmt.Sprintf("%s Reading archive...\n", m.spinner.View()))
	case Decompiling:
		b.WriteString(m.viewProgress())
	case Done:
		b.WriteString(m.viewProgress())
		b.WriteString("\n")
		b.WriteString(m.viewSummary())
	case ShowError:
		b.WriteString(m.viewError())
	case Exiting:
		b.WriteString(infoStyle.Render("Exiting..."))
	}

	b.WriteString("\n\n")
	if m.State == Planning || m.State == Decompiling {
		b.WriteString(infoStyle.Render("Decompiling... 'q' or Ctrl+C to quit."))
	}

	return b.String()
}

// --- View Helpers ---

func (m *AppModel) viewProgress() string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("%s %s: %s\n", m.spinner.View(), TaskTag, m.lastActivity))
	b.WriteString(progressBarStyle.Render(m.overallProgress.View()))
	b.WriteString(fmt.Sprintf(" (%d/%d)\n\n", m.overallCurrent, m.overallTotal))

	maxLines := m.termHeight - 10
	if maxLines < 1 {
		maxLines = 1
	}
	startIdx := 0
	if len(m.fileOrder) > maxLines {
		startIdx = len(m.fileOrder) - maxLines
	}

	if len(m.fileOrder) > 0 {
		b.WriteString(fileProgressHeaderStyle.Render(fmt.Sprintf("%-40s | %-11s | %s", "Entry", "Status", "Elapsed")))
		b.WriteString("\n")
		b.WriteString(strings.Repeat("-", m.termWidth))
		b.WriteString("\n")
		for i := startIdx; i < len(m.fileOrder); i++ {
			fp := m.fileProgress[m.fileOrder[i]]
			if fp == nil {
				continue
			}
			statusStyled, ok := fileStatusStyle[fp.Status]
			if !ok {
				statusStyled = infoStyle
			}
			elapsedStr := ""
			if fp.Elapsed > 0 {
				elapsedStr = fp.Elapsed.Round(time.Millisecond).String()
			}
			fileName := truncate(fp.FileName, 40)
			b.WriteString(fmt.Sprintf("%-40s | %s | %s", fileName, statusStyled.Render(fmt.Sprintf("%-11s", fp.Status)), elapsedStr))
			if fp.Status == StatusError && fp.ErrMsg != "" {
				b.WriteString("\n")
				b.WriteString(errorStyle.Render(truncate("  -> Error: "+fp.ErrMsg, m.termWidth-1)))
			}
			b.WriteString("\n")
		}
	}
	return b.String()
}

func (m *AppModel) viewSummary() string {
	s := m.Summary
	line := fmt.Sprintf("Finished in %s: %d decompiled, %d failed, %d skipped.",
		s.Duration.Round(time.Millisecond), s.Succeeded, s.Failed, s.Skipped)
	if s.ErrorsPath != "" {
		line += fmt.Sprintf(" Errors written to %s.", s.ErrorsPath)
	}
	return doneStyle.Render(line)
}

func (m *AppModel) viewError() string {
	var b strings.Builder
	b.WriteString(errorStyle.Render("An error occurred:"))
	b.WriteString("\n\n")
	if m.FatalErr != nil {
		b.WriteString(wrapText(m.FatalErr.Error(), m.termWidth-4))
	} else {
		b.WriteString("Unknown error.")
	}
	b.WriteString("\n")
	return b.String()
}

// --- Commands ---

func (m *AppModel) waitForActivityCmd(uiMsgChan chan tea.Msg) tea.Cmd {
	if uiMsgChan == nil {
		return nil
	}
	return func() tea.Msg {
		msg, ok := <-uiMsgChan
		if !ok {
			return nil
		}
		return msg
	}
}

// startRun launches the pipeline in its own goroutine. The pipeline's final
// message is a TaskFinishedMsg, or a GeneralErrorMsg if it panicked, after which
// the channel is closed.
func (m *AppModel) startRun(uiMsgChan chan tea.Msg) {
	m.started.Store(true)
	startTime := m.taskStartTime
	go func() {
		defer close(uiMsgChan)
		bridge := NewBridge(TaskTag, uiMsgChan, m.uiDone)

		var pc panics.Catcher
		pc.Try(func() { m.runSummary, m.runErr = m.run(bridge) })
		var final tea.Msg
		if r := pc.Recovered(); r != nil {
			m.runErr = r.AsError()
			final = NewError(m.runErr)
		} else {
			final = NewTaskFinished(TaskTag, startTime, m.runSummary, m.runErr, "Decompile finished.")
		}
		close(m.runDone)
		bridge.send(final)
	}()
}

// --- Helpers ---

// truncate shortens s to width runes.
func truncate(s string, width int) string {
	r := []rune(s)
	if width <= 3 || len(r) <= width {
		return s
	}
	return string(r[:width-3]) + "..."
}

func wrapText(text string, maxWidth int) string {
	if maxWidth <= 0 {
		return text
	}
	var result strings.Builder
	var currentLine strings.Builder
	words := strings.Fields(text)
	for _, word := range words {
		if currentLine.Len() > 0 && currentLine.Len()+len(word)+1 > maxWidth {
			result.WriteString(currentLine.String())
			result.WriteString("\n")
			currentLine.Reset()
		}
		if currentLine.Len() > 0 {
			currentLine.WriteString(" ")
		}
		currentLine.WriteString(word)
	}
	result.WriteString(currentLine.String())
	return result.String()
}
