package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"sticky-board/backend"
	"sticky-board/board"
	"sticky-board/domain"
)

const columnWidth = 30

var columnTitles = map[domain.Status]string{
	domain.StatusTodo:      "To do",
	domain.StatusProgress:  "In progress",
	domain.StatusCompleted: "Completed",
}

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	modeStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	columnStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("241")).
			Padding(0, 1).
			Width(columnWidth)
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("170"))
	idStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	emptyStyle = lipgloss.NewStyle().Italic(true).Foreground(lipgloss.Color("241"))
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("46"))
)

// hueColors maps the hue of a task color class onto terminal colors.
var hueColors = map[string]lipgloss.Color{
	"blue":   lipgloss.Color("117"),
	"green":  lipgloss.Color("157"),
	"yellow": lipgloss.Color("228"),
	"pink":   lipgloss.Color("218"),
	"purple": lipgloss.Color("183"),
	"indigo": lipgloss.Color("147"),
	"red":    lipgloss.Color("210"),
	"orange": lipgloss.Color("216"),
}

// noteColor picks the color from the "from-<hue>-<shade>" class of a note.
func noteColor(class string) (lipgloss.Color, bool) {
	for _, f := range strings.Fields(class) {
		rest, ok := strings.CutPrefix(f, "from-")
		if !ok {
			continue
		}
		hue, _, _ := strings.Cut(rest, "-")
		c, ok := hueColors[hue]
		return c, ok
	}
	return "", false
}

func renderBoard(cols board.Columns, mode backend.Mode, search string) string {
	header := headerStyle.Render("Sticky board") + " " + modeStyle.Render(fmt.Sprintf("(%s, %d tasks)", mode, cols.Len()))
	if search != "" {
		header += " " + modeStyle.Render(fmt.Sprintf("matching %q", search))
	}
	rendered := make([]string, 0, len(domain.Statuses))
	for _, s := range domain.Statuses {
		rendered = append(rendered, renderColumn(s, cols.Column(s)))
	}
	return lipgloss.JoinVertical(lipgloss.Left, header, lipgloss.JoinHorizontal(lipgloss.Top, rendered...))
}

func renderColumn(status domain.Status, tasks []domain.Task) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(fmt.Sprintf("%s (%d)", columnTitles[status], len(tasks))))
	if len(tasks) == 0 {
		b.WriteString("\n" + emptyStyle.Render("nothing here"))
	}
	for _, t := range tasks {
		b.WriteString("\n" + renderNote(t))
	}
	return columnStyle.Render(b.String())
}

func renderNote(t domain.Task) string {
	style := lipgloss.NewStyle()
	if c, ok := noteColor(t.ColorClass); ok {
		style = style.Foreground(c)
	}
	text := t.Text
	if text == "" {
		text = "(empty)"
	}
	return style.Render("• "+text) + "\n  " + idStyle.Render(t.ID)
}

func renderTask(verb string, t domain.Task) string {
	return okStyle.Render(verb) + " " + t.Text + " " + idStyle.Render(fmt.Sprintf("[%s, %s]", t.ID, t.Status))
}
