package ui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea/v2"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"github.com/kwatch-io/kwatch/pkg/binding"
)

// resultMsg carries a fresh binding result into the update loop.
type resultMsg struct {
	result binding.Result
}

// Panel renders the live state of one bound resource: a spinner line while
// loading, an error line on failure, object rows on success.
type Panel struct {
	session *binding.Session
	title   string

	result binding.Result
	seen   bool
	width  int
	height int
}

func NewPanel(title string, session *binding.Session) *Panel {
	return &Panel{session: session, title: title, width: 80, height: 24}
}

func (p *Panel) Init() tea.Cmd {
	return p.waitForResult()
}

// waitForResult re-arms after every delivery; the session's results channel
// is latest-wins, so the panel never lags behind the cluster.
func (p *Panel) waitForResult() tea.Cmd {
	ch := p.session.Results()
	return func() tea.Msg {
		r, ok := <-ch
		if !ok {
			return tea.Quit()
		}
		return resultMsg{result: r}
	}
}

func (p *Panel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		p.width, p.height = msg.Width, msg.Height
		return p, nil
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			return p, tea.Quit
		}
		return p, nil
	case resultMsg:
		p.result = msg.result
		p.seen = true
		return p, p.waitForResult()
	}
	return p, nil
}

func (p *Panel) View() (string, *tea.Cursor) {
	var b strings.Builder

	header := p.title
	switch {
	case !p.seen || !p.result.Loaded:
		header += "  (loading…)"
	case p.result.Error != nil:
		header += "  (error)"
	}
	b.WriteString(HeaderStyle.Width(p.width).Render(header))
	b.WriteString("\n")

	for _, line := range p.bodyLines() {
		b.WriteString(line)
		b.WriteString("\n")
	}

	b.WriteString(FooterStyle.Width(p.width).Render("q: quit"))
	return b.String(), nil
}

func (p *Panel) bodyLines() []string {
	if !p.seen || !p.result.Loaded {
		return []string{RowStyle.Render("waiting for data…")}
	}
	if p.result.Error != nil {
		return []string{ErrorStyle.Render(p.result.Error.Error())}
	}

	max := p.height - 2
	if max < 1 {
		max = 1
	}

	switch data := p.result.Data.(type) {
	case []*unstructured.Unstructured:
		if len(data) == 0 {
			return []string{RowStyle.Render("no objects")}
		}
		lines := make([]string, 0, len(data))
		for i, obj := range data {
			if i >= max {
				lines = append(lines, RowStyle.Render(fmt.Sprintf("… and %d more", len(data)-max)))
				break
			}
			lines = append(lines, RowStyle.Render(objLine(obj)))
		}
		return lines
	case *unstructured.Unstructured:
		if len(data.Object) == 0 {
			return []string{RowStyle.Render("no data")}
		}
		return []string{RowStyle.Render(objLine(data))}
	default:
		return []string{RowStyle.Render("no data")}
	}
}

func objLine(obj *unstructured.Unstructured) string {
	if ns := obj.GetNamespace(); ns != "" {
		return ns + "/" + obj.GetName()
	}
	return obj.GetName()
}

// Run drives the panel program until the user quits.
func Run(title string, session *binding.Session) error {
	p := tea.NewProgram(NewPanel(title, session), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
