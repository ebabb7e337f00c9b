package output

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

type TaskOutput struct {
	ID          int
	Name        string
	Status      string
	Message     string
	StreamLines []string
	Complete    bool
	StartTime   time.Time
	LastUpdated time.Time
	Error       error
	Index       int
}

type ErrorReport struct {
	TaskName string
	Error    error
	Time     time.Time
}

// Manager renders live task status to the terminal. All mutating methods are
// safe for concurrent use by scheduler workers.
type Manager struct {
	outputs     map[int]*TaskOutput
	mutex       sync.RWMutex
	numLines    int
	maxStreams  int // Max output stream lines per task
	errors      []ErrorReport
	doneCh      chan struct{}
	displayTick time.Duration
	taskCount   int
	displayWg   sync.WaitGroup
}

func NewManager() *Manager {
	return &Manager{
		outputs:     make(map[int]*TaskOutput),
		errors:      []ErrorReport{},
		maxStreams:  8,
		doneCh:      make(chan struct{}),
		displayTick: 300 * time.Millisecond,
	}
}

func (m *Manager) Register(name string) int {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.taskCount++
	m.outputs[m.taskCount] = &TaskOutput{
		ID:          m.taskCount,
		Name:        name,
		Status:      "pending",
		StreamLines: []string{},
		StartTime:   time.Now(),
		LastUpdated: time.Now(),
		Index:       m.taskCount,
	}
	return m.taskCount
}

func (m *Manager) SetMessage(id int, message string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if info, exists := m.outputs[id]; exists {
		info.Message = message
		info.LastUpdated = time.Now()
	}
}

func (m *Manager) SetStatus(id int, status string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if info, exists := m.outputs[id]; exists {
		info.Status = status
		info.LastUpdated = time.Now()
	}
}

func (m *Manager) Complete(id int, message string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if info, exists := m.outputs[id]; exists {
		info.StreamLines = []string{}
		if message == "" {
			info.Message = fmt.Sprintf("Completed %s", info.Name)
		} else {
			info.Message = message
		}
		info.Complete = true
		info.Status = "success"
		info.LastUpdated = time.Now()
	}
}

func (m *Manager) ReportError(id int, err error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if info, exists := m.outputs[id]; exists {
		info.Complete = true
		info.Status = "error"
		info.Error = err
		info.LastUpdated = time.Now()
		m.errors = append(m.errors, ErrorReport{
			TaskName: info.Name,
			Error:    err,
			Time:     time.Now(),
		})
	}
}

func (m *Manager) AddStreamLine(id int, line string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if info, exists := m.outputs[id]; exists {
		wrappedLines := wrapText(line, 2+4)
		info.StreamLines = append(info.StreamLines, wrappedLines...)
		if len(info.StreamLines) > m.maxStreams {
			info.StreamLines = info.StreamLines[len(info.StreamLines)-m.maxStreams:]
		}
		info.LastUpdated = time.Now()
	}
}

func (m *Manager) SetProgress(id int, downloaded, total int64, text string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if info, exists := m.outputs[id]; exists {
		bar := ProgressBar(max(0, downloaded), total, 30)
		elapsed := time.Since(info.StartTime).Round(time.Second).Seconds()
		display := fmt.Sprintf("%s%s %s %s", bar, debugStyle.Render(text), StyleSymbols["bullet"], debugStyle.Render(formatSpeed(downloaded, elapsed)))
		info.StreamLines = []string{display} // Set as only stream so nothing else is displayed
		info.LastUpdated = time.Now()
	}
}

func (m *Manager) statusIndicator(status string) string {
	switch status {
	case "success", "pass":
		return successStyle.Render(StyleSymbols["pass"])
	case "error", "fail":
		return errorStyle.Render(StyleSymbols["fail"])
	case "warning":
		return warningStyle.Render(StyleSymbols["warning"])
	case "pending":
		return pendingStyle.Render(StyleSymbols["pending"])
	default:
		return infoStyle.Render(StyleSymbols["bullet"])
	}
}

func (m *Manager) sortTasks() (active, pending, completed []*TaskOutput) {
	var all []*TaskOutput
	for _, info := range m.outputs {
		all = append(all, info)
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].Index < all[j].Index
	})
	for _, t := range all {
		if t.Complete {
			completed = append(completed, t)
		} else if t.Status == "pending" && t.Message == "" {
			pending = append(pending, t)
		} else {
			active = append(active, t)
		}
	}
	return active, pending, completed
}

func (m *Manager) styledMessage(info *TaskOutput) string {
	switch info.Status {
	case "success":
		return successStyle.Render(info.Message)
	case "error":
		return errorStyle.Render(info.Message)
	case "warning":
		return warningStyle.Render(info.Message)
	default:
		return pendingStyle.Render(info.Message)
	}
}

func (m *Manager) updateDisplay() {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	_, termHeight := getTerminalSize()
	availableLines := termHeight - 3 // Leave some buffer for prompt

	if m.numLines > 0 {
		fmt.Printf("\033[%dA\033[J", m.numLines)
	}

	lineCount := 0
	activeTasks, pendingTasks, completedTasks := m.sortTasks()

	totalNeeded := len(completedTasks)
	for _, t := range activeTasks {
		totalNeeded += 1 + len(t.StreamLines)
	}
	totalNeeded += len(pendingTasks)
	if totalNeeded > availableLines {
		maxCompleted := max(availableLines-(totalNeeded-len(completedTasks)), 0)
		if len(completedTasks) > maxCompleted {
			completedTasks = completedTasks[len(completedTasks)-maxCompleted:]
		}
	}

	indent := strings.Repeat(" ", 2)
	streamIndent := strings.Repeat(" ", 2+4)
	for _, info := range activeTasks {
		if lineCount >= availableLines {
			break
		}
		elapsed := time.Since(info.StartTime).Round(time.Second)
		fmt.Printf("%s%s %s %s\n", indent, m.statusIndicator(info.Status), debugStyle.Render(elapsed.String()), m.styledMessage(info))
		lineCount++
		for _, line := range info.StreamLines {
			if lineCount >= availableLines {
				break
			}
			fmt.Printf("%s%s\n", streamIndent, streamStyle.Render(line))
			lineCount++
		}
	}

	for range pendingTasks {
		if lineCount >= availableLines {
			break
		}
		fmt.Printf("%s%s %s\n", indent, m.statusIndicator("pending"), pendingStyle.Render("Waiting..."))
		lineCount++
	}

	for _, info := range completedTasks {
		if lineCount >= availableLines {
			break
		}
		totalTime := info.LastUpdated.Sub(info.StartTime).Round(time.Second)
		fmt.Printf("%s%s %s %s\n", indent, m.statusIndicator(info.Status), debugStyle.Render(totalTime.String()), m.styledMessage(info))
		lineCount++
	}
	m.numLines = lineCount
}

func (m *Manager) StartDisplay() {
	m.displayWg.Add(1)
	go func() {
		defer m.displayWg.Done()
		ticker := time.NewTicker(m.displayTick)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.updateDisplay()
			case <-m.doneCh:
				m.updateDisplay()
				m.ShowSummary()
				return
			}
		}
	}()
}

func (m *Manager) StopDisplay() {
	close(m.doneCh)
	m.displayWg.Wait()
}

func (m *Manager) displayErrors() {
	if len(m.errors) == 0 {
		return
	}
	fmt.Println()
	fmt.Println(strings.Repeat(" ", 2) + errorStyle.Bold(true).Render("Errors:"))
	for i, report := range m.errors {
		fmt.Printf("%s%s %s %s\n",
			strings.Repeat(" ", 4),
			errorStyle.Render(fmt.Sprintf("%d.", i+1)),
			debugStyle.Render(fmt.Sprintf("[%s]", report.Time.Format("15:04:05"))),
			errorStyle.Render(report.TaskName))
		fmt.Printf("%s%s\n", strings.Repeat(" ", 6), errorStyle.Render(fmt.Sprintf("Error: %v", report.Error)))
	}
}

func (m *Manager) ShowSummary() {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	fmt.Println()
	var success, failures int
	for _, info := range m.outputs {
		switch info.Status {
		case "success":
			success++
		case "error":
			failures++
		}
	}
	fmt.Println(strings.Repeat(" ", 2) + successStyle.Render(fmt.Sprintf("Completed %d of %d", success, len(m.outputs))))
	if failures > 0 {
		fmt.Println(strings.Repeat(" ", 2) + errorStyle.Render(fmt.Sprintf("Failed %d of %d", failures, len(m.outputs))))
	}
	m.displayErrors()
	fmt.Println()
}

// HasErrors reports whether any task ended in error.
func (m *Manager) HasErrors() bool {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return len(m.errors) > 0
}
