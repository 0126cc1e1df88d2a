package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/brensch/batchfetch/internal/orchestrator"
)

// ErrInterrupted is returned by Run when the user quits before the task ends.
var ErrInterrupted = errors.New("interrupted by user")

// --- Styles ---
var (
	titleStyle              = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("62"))
	errorStyle              = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	okStyle                 = lipgloss.NewStyle().Foreground(lipgloss.Color("46"))
	infoStyle               = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	progressBarStyle        = lipgloss.NewStyle().Padding(0, 1)
	fileProgressHeaderStyle = lipgloss.NewStyle().Bold(true).MarginBottom(1)
	fileStatusStyle         = map[string]lipgloss.Style{
		"Complete":    lipgloss.NewStyle().Foreground(lipgloss.Color("46")),
		"Skipped":     lipgloss.NewStyle().Foreground(lipgloss.Color("240")),
		"Error":       lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
		"Queued":      lipgloss.NewStyle().Foreground(lipgloss.Color("248")),
		"Downloading": lipgloss.NewStyle().Foreground(lipgloss.Color("39")),
		"Extracting":  lipgloss.NewStyle().Foreground(lipgloss.Color("45")),
	}
)

// Task is the workflow driven by the UI. It reports through obs.
type Task func(ctx context.Context, obs orchestrator.Observer) ([]*orchestrator.Result, error)

// --- Model ---
type FileProgress struct {
	FileName string
	Status   string
	Progress float64
	ErrMsg   string
	Start    time.Time
	Elapsed  time.Duration
}

type AppModel struct {
	Title            string
	State            AppState
	spinner          spinner.Model
	overallProgress  progress.Model
	progressBarWidth int

	mu             sync.RWMutex
	fileProgress   map[string]*FileProgress
	fileOrder      []string
	overallTotal   int64
	overallCurrent int64
	currentTaskTag string
	lastActivity   string
	finished       []PipelineDoneMsg

	Results  []*orchestrator.Result
	FatalErr error
	Quitting bool

	termWidth  int
	termHeight int

	ctx       context.Context
	task      Task
	logger    *slog.Logger
	uiMsgChan chan tea.Msg
}

func NewAppModel(ctx context.Context, title string, task Task, logger *slog.Logger) *AppModel {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))
	prog := progress.New(progress.WithDefaultGradient())

	return &AppModel{
		Title:           title,
		State:           Running,
		spinner:         s,
		overallProgress: prog,
		fileProgress:    make(map[string]*FileProgress),
		fileOrder:       make([]string, 0),
		termWidth:       80,
		termHeight:      24,
		ctx:             ctx,
		task:            task,
		logger:          logger,
		uiMsgChan:       make(chan tea.Msg),
	}
}

// Run drives task behind a progress view and returns its results once the
// view exits.
func Run(ctx context.Context, title string, task Task, logger *slog.Logger) ([]*orchestrator.Result, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	m := NewAppModel(ctx, title, task, logger)
	final, err := tea.NewProgram(m, tea.WithContext(ctx)).Run()
	if err != nil {
		return nil, fmt.Errorf("run progress view: %w", err)
	}
	fm, ok := final.(*AppModel)
	if !ok {
		return nil, fmt.Errorf("unexpected model type %T", final)
	}
	if fm.Quitting {
		return fm.Results, ErrInterrupted
	}
	return fm.Results, fm.FatalErr
}

// --- Bubbletea Interface ---

func (m *AppModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.startTask(m.uiMsgChan), m.waitForActivityCmd(m.uiMsgChan))
}

func (m *AppModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd
	var cmd tea.Cmd
	fromTask := false

	switch msg := msg.(type) {
	case tea.KeyMsg:
		if m.State == Running && (msg.String() == "ctrl+c" || msg.String() == "q") {
			m.logger.Debug("Quit requested during task.")
			m.Quitting = true
			m.State = Exiting
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.termWidth = msg.Width
		m.termHeight = msg.Height
		m.progressBarWidth = max(0, m.termWidth-4)
		m.overallProgress.Width = m.progressBarWidth
	case ProgressMsg:
		fromTask = true
		m.mu.Lock()
		if msg.Tag != m.currentTaskTag {
			m.fileProgress = make(map[string]*FileProgress)
			m.fileOrder = make([]string, 0)
		}
		m.currentTaskTag = msg.Tag
		m.overallCurrent = msg.Current
		m.overallTotal = msg.Total
		m.lastActivity = msg.Activity
		m.mu.Unlock()
		var percent float64
		if msg.Total > 0 {
			percent = float64(msg.Current) / float64(msg.Total)
		}
		cmds = append(cmds, m.overallProgress.SetPercent(percent))
	case FileProgressMsg:
		fromTask = true
		m.applyFileProgress(msg)
	case PipelineDoneMsg:
		fromTask = true
		m.mu.Lock()
		m.finished = append(m.finished, msg)
		m.mu.Unlock()
	case TaskFinishedMsg:
		m.logger.Debug("Task finished.", slog.Duration("duration", msg.EndTime.Sub(msg.StartTime).Round(time.Millisecond)))
		m.Results = msg.Results
		m.FatalErr = msg.Err
		m.uiMsgChan = nil
		m.State = ShowSummary
		if msg.Err != nil {
			m.State = ShowError
		}
		return m, tea.Quit
	case spinner.TickMsg:
		if m.State == Running {
			m.spinner, cmd = m.spinner.Update(msg)
			cmds = append(cmds, cmd)
		}
	case progress.FrameMsg:
		if m.State == Running {
			progModel, frameCmd := m.overallProgress.Update(msg)
			if newModel, ok := progModel.(progress.Model); ok {
				m.overallProgress = newModel
				cmds = append(cmds, frameCmd)
			}
		}
	}

	if fromTask && m.uiMsgChan != nil {
		cmds = append(cmds, m.waitForActivityCmd(m.uiMsgChan))
	}
	return m, tea.Batch(cmds...)
}

func (m *AppModel) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render(fmt.Sprintf("--- %s ---", m.Title)))
	b.WriteString("\n\n")

	switch m.State {
	case Running:
		b.WriteString(m.viewProgress())
		b.WriteString(m.viewFinished())
		b.WriteString("\n")
		b.WriteString(infoStyle.Render("Task running... 'q' or Ctrl+C to quit."))
	case ShowSummary:
		b.WriteString(m.viewFinished())
	case ShowError:
		b.WriteString(m.viewFinished())
		b.WriteString(m.viewError())
	case Exiting:
		b.WriteString(infoStyle.Render("Exiting..."))
	}
	b.WriteString("\n")
	return b.String()
}

// --- View Helpers ---

func (m *AppModel) viewProgress() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var b strings.Builder
	fmt.Fprintf(&b, "%s Running: %s %s\n", m.spinner.View(), m.currentTaskTag, m.lastActivity)
	b.WriteString(progressBarStyle.Render(m.overallProgress.View()))
	fmt.Fprintf(&b, " (%d/%d)\n\n", m.overallCurrent, m.overallTotal)

	maxLines := max(1, m.termHeight-10)
	startIdx := 0
	if len(m.fileOrder) > maxLines {
		startIdx = len(m.fileOrder) - maxLines
	}
	if len(m.fileOrder) == 0 {
		return b.String()
	}

	b.WriteString(fileProgressHeaderStyle.Render(fmt.Sprintf("%-40s | %-15s | %s", "File", "Status", "Elapsed")))
	b.WriteString("\n")
	b.WriteString(strings.Repeat("-", m.termWidth))
	b.WriteString("\n")
	for _, id := range m.fileOrder[startIdx:] {
		fp := m.fileProgress[id]
		if fp == nil {
			continue
		}
		statusStyled, ok := fileStatusStyle[fp.Status]
		if !ok {
			statusStyled = infoStyle
		}
		elapsed := ""
		if fp.Elapsed > 0 {
			elapsed = fp.Elapsed.Round(time.Millisecond).String()
		} else if fp.Status == "Downloading" || fp.Status == "Extracting" {
			elapsed = fmt.Sprintf("%.0f%%", fp.Progress*100)
		}
		name := fp.FileName
		if len(name) > 40 {
			name = name[:37] + "..."
		}
		b.WriteString(fmt.Sprintf("%-40s | %-15s | %s", name, statusStyled.Render(fp.Status), elapsed))
		if fp.Status == "Error" && fp.ErrMsg != "" {
			b.WriteString("\n")
			b.WriteString(errorStyle.Render(wrapText("  -> Error: "+fp.ErrMsg, m.termWidth-1)))
		}
		b.WriteString("\n")
	}
	return b.String()
}

func (m *AppModel) viewFinished() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var b strings.Builder
	for _, f := range m.finished {
		b.WriteString("\n")
		b.WriteString(RenderSummary(f.Pipeline, f.Summary))
	}
	return b.String()
}

func (m *AppModel) viewError() string {
	var b strings.Builder
	b.WriteString("\n")
	b.WriteString(errorStyle.Render("An error occurred:"))
	b.WriteString("\n")
	if m.FatalErr != nil {
		b.WriteString(wrapText(m.FatalErr.Error(), m.termWidth-4))
	} else {
		b.WriteString("Unknown error.")
	}
	b.WriteString("\n")
	return b.String()
}

// --- Update Helpers ---

func (m *AppModel) applyFileProgress(msg FileProgressMsg) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fp, exists := m.fileProgress[msg.FileID]
	if !exists {
		fp = &FileProgress{FileName: msg.FileName, Status: "Queued", Start: time.Now()}
		m.fileProgress[msg.FileID] = fp
		m.fileOrder = append(m.fileOrder, msg.FileID)
	}
	fp.Status = msg.Status
	fp.ErrMsg = msg.ErrMsg
	if msg.Total > 0 {
		fp.Progress = float64(msg.Current) / float64(msg.Total)
	} else if msg.Status == "Complete" || msg.Status == "Skipped" {
		fp.Progress = 1.0
	}
	if msg.ElapsedTime > 0 {
		fp.Elapsed = msg.ElapsedTime
	} else if (msg.Status == "Complete" || msg.Status == "Skipped" || msg.Status == "Error") && fp.Elapsed == 0 {
		fp.Elapsed = time.Since(fp.Start)
	}
}

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

// startTask launches the task in its own goroutine. Observer callbacks block
// until the view has consumed the previous message, or the context ends.
func (m *AppModel) startTask(uiMsgChan chan tea.Msg) tea.Cmd {
	ctx, task := m.ctx, m.task
	return func() tea.Msg {
		send := func(msg tea.Msg) {
			select {
			case uiMsgChan <- msg:
			case <-ctx.Done():
			}
		}
		go func() {
			start := time.Now()
			results, err := task(ctx, NewObserver(send))
			send(NewTaskFinished(start, results, err))
			close(uiMsgChan)
		}()
		return nil
	}
}

// --- Helpers ---
func wrapText(text string, maxWidth int) string {
	if maxWidth <= 0 {
		return text
	}
	var result strings.Builder
	var currentLine strings.Builder
	for _, word := range strings.Fields(text) {
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
