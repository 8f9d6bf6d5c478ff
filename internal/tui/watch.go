// Package tui implements the live delivery watch screen.
package tui

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/pulldock/internal/events"
)

// --- Styles ---

var (
	docStyle = lipgloss.NewStyle().Margin(1, 2)

	borderStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#874BFD"))

	statusOK      = lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF00"))
	statusRunning = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFFF00"))
	statusFailed  = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000"))
	statusIdle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Padding(0, 1)
)

// --- Types ---

// DeliveryNode tracks one webhook delivery as its lifecycle events arrive.
type DeliveryNode struct {
	ID        string
	Project   string
	Status    string
	Message   string
	StartTime time.Time
	EndTime   time.Time

	ActionsStarted int
	ActionsOK      int
	ActionsFailed  int
}

type Model struct {
	baseURL    string
	adminToken string

	width  int
	height int

	deliveries map[string]*DeliveryNode
	order      []*DeliveryNode // newest first
	eventLog   []events.Event
	hubEvents  chan events.Event

	health struct {
		Status        string
		UptimeSeconds int64
		Projects      int
		Total         int64
	}

	deliveryTable table.Model
}

type eventMsg events.Event

type healthMsg struct {
	Status        string                  `json:"status"`
	UptimeSeconds int64                   `json:"uptime_seconds"`
	Projects      map[string]projectEntry `json:"projects"`
	Deliveries    deliveryTotals          `json:"deliveries"`
}

type projectEntry struct {
	Name    string `json:"name"`
	Enabled bool   `json:"enabled"`
}

type deliveryTotals struct {
	Total int64 `json:"total"`
}

type errMsg error

// --- Init ---

// NewWatch creates the watch model pointed at a running pulldock server.
func NewWatch(baseURL, adminToken string) *Model {
	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "ST", Width: 2},
			{Title: "Project", Width: 16},
			{Title: "ID", Width: 10},
			{Title: "Actions", Width: 8},
			{Title: "Duration", Width: 10},
			{Title: "Message", Width: 40},
		}),
		table.WithFocused(true),
		table.WithHeight(10),
	)

	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(false)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57")).
		Bold(false)
	t.SetStyles(s)

	return &Model{
		baseURL:       strings.TrimRight(baseURL, "/"),
		adminToken:    adminToken,
		deliveries:    make(map[string]*DeliveryNode),
		order:         make([]*DeliveryNode, 0),
		eventLog:      make([]events.Event, 0),
		hubEvents:     make(chan events.Event, 100),
		deliveryTable: t,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.subscribeToEvents(),
		m.receiveNextEvent(),
		m.pollHealth(),
		tea.EnterAltScreen,
	)
}

// --- Update ---

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.deliveryTable.SetWidth(m.width - 6)

	case eventMsg:
		m.handleEvent(events.Event(msg))
		m.updateTable()
		return m, m.receiveNextEvent()

	case healthMsg:
		m.health.Status = msg.Status
		m.health.UptimeSeconds = msg.UptimeSeconds
		m.health.Projects = len(msg.Projects)
		m.health.Total = msg.Deliveries.Total
		return m, tea.Tick(5*time.Second, func(t time.Time) tea.Msg {
			return m.fetchHealth()
		})

	case errMsg:
		// Keep the screen alive; health polling retries on its tick.
	}

	m.deliveryTable, cmd = m.deliveryTable.Update(msg)
	return m, cmd
}

// handleEvent folds one lifecycle event into the delivery map. Only the
// update loop calls this, so no locking is needed.
func (m *Model) handleEvent(e events.Event) {
	m.eventLog = append([]events.Event{e}, m.eventLog...)
	if len(m.eventLog) > 50 {
		m.eventLog = m.eventLog[:50]
	}

	data := make(map[string]any)
	_ = json.Unmarshal(e.Data, &data)

	deliveryID, _ := data["delivery_id"].(string)
	if deliveryID == "" {
		return
	}

	node, ok := m.deliveries[deliveryID]
	if !ok {
		node = &DeliveryNode{ID: deliveryID, StartTime: time.Now()}
		if project, ok := data["project"].(string); ok {
			node.Project = project
		}
		m.deliveries[deliveryID] = node
		m.order = append([]*DeliveryNode{node}, m.order...)
		if len(m.order) > 100 {
			drop := m.order[100:]
			m.order = m.order[:100]
			for _, d := range drop {
				delete(m.deliveries, d.ID)
			}
		}
	}

	switch e.Type {
	case events.TypeDeliveryReceived:
		node.Status = "received"

	case events.TypeActionStarted:
		node.Status = "running"
		node.ActionsStarted++

	case events.TypeActionCompleted:
		node.ActionsOK++

	case events.TypeActionFailed:
		node.ActionsFailed++

	case events.TypeDeliveryCompleted, events.TypeDeliveryRejected:
		if status, ok := data["status"].(string); ok && status != "" {
			node.Status = status
		} else if e.Type == events.TypeDeliveryRejected {
			node.Status = "rejected"
		}
		if message, ok := data["message"].(string); ok {
			node.Message = message
		}
		node.EndTime = time.Now()
	}
}

func (m *Model) updateTable() {
	rows := make([]table.Row, 0, len(m.order))
	for _, node := range m.order {
		rows = append(rows, m.nodeToRow(node))
	}
	m.deliveryTable.SetRows(rows)
}

func (m *Model) nodeToRow(node *DeliveryNode) table.Row {
	statusSym := "○"
	switch node.Status {
	case "received":
		statusSym = statusIdle.Render("○")
	case "running":
		statusSym = statusRunning.Render("◉")
	case "completed":
		statusSym = statusOK.Render("●")
	case "partial":
		statusSym = statusFailed.Render("◑")
	case "rejected":
		statusSym = statusFailed.Render("∅")
	case "skipped":
		statusSym = statusIdle.Render("◌")
	}

	duration := "-"
	if !node.StartTime.IsZero() {
		end := node.EndTime
		if end.IsZero() {
			end = time.Now()
		}
		duration = end.Sub(node.StartTime).Round(time.Millisecond).String()
	}

	return table.Row{
		statusSym,
		node.Project,
		shortID(node.ID),
		fmt.Sprintf("%d/%d", node.ActionsOK, node.ActionsStarted),
		duration,
		node.Message,
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// --- View ---

func (m Model) View() string {
	if m.width == 0 {
		return "Initializing..."
	}

	header := m.renderHeader()
	deliveriesView := borderStyle.Width(m.width - 4).Render(
		lipgloss.JoinVertical(lipgloss.Left,
			titleStyle.Render("Deliveries"),
			m.deliveryTable.View(),
		),
	)

	eventsView := borderStyle.Width(m.width - 4).Render(
		lipgloss.JoinVertical(lipgloss.Left,
			titleStyle.Render("Event Stream"),
			m.renderEvents(),
		),
	)

	help := lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Render(" [q] Quit • [↑/↓] Scroll Deliveries")

	return docStyle.Render(
		lipgloss.JoinVertical(
			lipgloss.Left,
			header,
			deliveriesView,
			eventsView,
			help,
		),
	)
}

func (m Model) renderHeader() string {
	status := statusOK.Render("RUNNING")
	if m.health.Status != "healthy" && m.health.Status != "" {
		status = statusFailed.Render("DEGRADED")
	}

	uptime := time.Duration(m.health.UptimeSeconds) * time.Second

	items := []string{
		fmt.Sprintf("Status: %s", status),
		fmt.Sprintf("Uptime: %s", uptime.String()),
		fmt.Sprintf("Projects: %d", m.health.Projects),
		fmt.Sprintf("Deliveries: %d", m.health.Total),
	}

	return borderStyle.Width(m.width - 4).Render(
		lipgloss.JoinHorizontal(lipgloss.Top,
			lipgloss.NewStyle().Width((m.width-4)/4).Render(items[0]),
			lipgloss.NewStyle().Width((m.width-4)/4).Render(items[1]),
			lipgloss.NewStyle().Width((m.width-4)/4).Render(items[2]),
			lipgloss.NewStyle().Width((m.width-4)/4).Render(items[3]),
		),
	)
}

func (m Model) renderEvents() string {
	var lines []string
	for i, e := range m.eventLog {
		if i >= 10 {
			break
		}
		ts := e.At.Format("15:04:05")
		lines = append(lines, fmt.Sprintf("%s | %-19s | %s", ts, e.Type, string(e.Data)))
	}
	if len(lines) == 0 {
		return "  No events yet..."
	}
	return lipgloss.NewStyle().Padding(0, 1).Render(strings.Join(lines, "\n"))
}

// --- Commands ---

// subscribeToEvents reads the server's SSE stream and forwards parsed events
// to the update loop. Frames carry the hub payload on the data: line, with
// id: and event: lines around it.
func (m Model) subscribeToEvents() tea.Cmd {
	return func() tea.Msg {
		req, err := http.NewRequest(http.MethodGet, m.baseURL+"/events", nil)
		if err != nil {
			return errMsg(err)
		}
		if m.adminToken != "" {
			req.Header.Set("Authorization", "Bearer "+m.adminToken)
		}

		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return errMsg(err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return errMsg(fmt.Errorf("event stream returned %s", resp.Status))
		}

		scanner := bufio.NewScanner(resp.Body)
		var ev events.Event
		for scanner.Scan() {
			line := scanner.Text()
			switch {
			case strings.HasPrefix(line, "id: "):
				ev.ID, _ = strconv.ParseInt(line[len("id: "):], 10, 64)
			case strings.HasPrefix(line, "event: "):
				ev.Type = line[len("event: "):]
			case strings.HasPrefix(line, "data: "):
				ev.Data = []byte(line[len("data: "):])
				ev.At = time.Now()
			case line == "":
				// Blank line ends a frame; comments (keep-alives) never set Type.
				if ev.Type != "" {
					m.hubEvents <- ev
				}
				ev = events.Event{}
			}
		}
		return nil
	}
}

func (m Model) receiveNextEvent() tea.Cmd {
	return func() tea.Msg {
		return eventMsg(<-m.hubEvents)
	}
}

func (m Model) pollHealth() tea.Cmd {
	return func() tea.Msg {
		return m.fetchHealth()
	}
}

func (m Model) fetchHealth() tea.Msg {
	client := &http.Client{Timeout: 2 * time.Second}
	req, err := http.NewRequest(http.MethodGet, m.baseURL+"/health", nil)
	if err != nil {
		return errMsg(err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return errMsg(err)
	}
	defer resp.Body.Close()

	var h healthMsg
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		return errMsg(err)
	}
	return h
}
