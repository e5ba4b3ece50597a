package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/wippyai/federation/container"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	pathStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	exportStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4"))

	resultStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#90EE90"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

func newBrowseCmd(g *globalFlags) *cobra.Command {
	var url string
	cmd := &cobra.Command{
		Use:   "browse <container>",
		Short: "Browse and call the exposed modules of a container",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, argv []string) error {
			ctx := cmd.Context()
			s, err := g.open(ctx, resolversFor(argv[0], url)...)
			if err != nil {
				return err
			}
			defer s.Close(ctx)

			c, err := s.loader.Load(ctx, argv[0])
			if err != nil {
				return err
			}
			items, err := collect(ctx, c)
			if err != nil {
				return err
			}

			if !term.IsTerminal(int(os.Stdout.Fd())) {
				list(cmd.OutOrStdout(), c, items)
				return nil
			}
			_, err = tea.NewProgram(newBrowseModel(ctx, c.Name, items), tea.WithAltScreen()).Run()
			return err
		},
	}
	cmd.Flags().StringVar(&url, "url", "", "bundle URL or path for the container")
	return cmd
}

type item struct {
	path   string
	export string
	value  any
}

// collect initializes every exposed module and flattens their exports.
func collect(ctx context.Context, c *container.Container) ([]item, error) {
	var items []item
	for _, p := range c.Paths() {
		exports, err := c.Module(ctx, p)
		if err != nil {
			return nil, err
		}
		names := make([]string, 0, len(exports))
		for name := range exports {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			items = append(items, item{path: p, export: name, value: exports[name]})
		}
	}
	return items, nil
}

func list(w io.Writer, c *container.Container, items []item) {
	fmt.Fprintf(w, "%s (%s)\n", c.Name, c.ScriptID)
	for _, it := range items {
		fmt.Fprintf(w, "  %s %s: %s\n", it.path, it.export, describe(it.value))
	}
}

type browseState int

const (
	stateSelect browseState = iota
	stateArgs
	stateResult
)

type browseModel struct {
	ctx      context.Context
	err      error
	name     string
	result   string
	items    []item
	input    textinput.Model
	selected int
	state    browseState
}

type callResultMsg struct {
	err    error
	result string
}

func newBrowseModel(ctx context.Context, name string, items []item) *browseModel {
	return &browseModel{ctx: ctx, name: name, items: items, state: stateSelect}
}

func (m *browseModel) Init() tea.Cmd {
	return nil
}

func (m *browseModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			return m, tea.Quit

		case "q":
			if m.state != stateArgs {
				return m, tea.Quit
			}

		case "up", "k":
			if m.state == stateSelect && m.selected > 0 {
				m.selected--
			}

		case "down", "j":
			if m.state == stateSelect && m.selected < len(m.items)-1 {
				m.selected++
			}

		case "enter":
			switch m.state {
			case stateSelect:
				if len(m.items) == 0 {
					return m, nil
				}
				it := m.items[m.selected]
				if !callable(it.value) {
					m.result, m.err = describe(it.value), nil
					m.state = stateResult
					return m, nil
				}
				if arity(it.value) == 0 {
					return m, m.call(nil)
				}
				m.input = textinput.New()
				m.input.Prompt = "args: "
				m.input.Placeholder = "space separated"
				m.input.Width = 40
				m.input.Focus()
				m.state = stateArgs
				return m, nil

			case stateArgs:
				return m, m.call(strings.Fields(m.input.Value()))

			case stateResult:
				m.state = stateSelect
				m.result, m.err = "", nil
			}

		case "esc":
			if m.state != stateSelect {
				m.state = stateSelect
				m.result, m.err = "", nil
			}
		}

	case callResultMsg:
		m.result = msg.result
		m.err = msg.err
		m.state = stateResult
		return m, nil
	}

	if m.state == stateArgs {
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *browseModel) call(args []string) tea.Cmd {
	it := m.items[m.selected]
	return func() tea.Msg {
		res, err := invoke(m.ctx, it.value, args)
		return callResultMsg{result: res, err: err}
	}
}

func (m *browseModel) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("Federation"))
	b.WriteString(" ")
	b.WriteString(m.name)
	b.WriteString("\n\n")

	if len(m.items) == 0 {
		b.WriteString("Container exposes no modules.\n\n")
		b.WriteString(helpStyle.Render("q quit"))
		return b.String()
	}

	switch m.state {
	case stateSelect:
		b.WriteString("Select an export:\n\n")
		for i, it := range m.items {
			line := formatItem(it)
			if i == m.selected {
				b.WriteString(selectedStyle.Render("> " + line))
			} else {
				b.WriteString("  " + line)
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("↑/↓ select • enter call • q quit"))

	case stateArgs:
		it := m.items[m.selected]
		fmt.Fprintf(&b, "Calling %s\n\n", formatItem(it))
		b.WriteString(m.input.View())
		b.WriteString("\n\n")
		b.WriteString(helpStyle.Render("enter call • esc back"))

	case stateResult:
		it := m.items[m.selected]
		fmt.Fprintf(&b, "Result of %s:\n\n", formatItem(it))
		if m.err != nil {
			b.WriteString(errorStyle.Render(fmt.Sprintf("Error: %v", m.err)))
		} else {
			b.WriteString(resultStyle.Render(m.result))
		}
		b.WriteString("\n\n")
		b.WriteString(helpStyle.Render("enter continue • q quit"))
	}

	return b.String()
}

func formatItem(it item) string {
	return pathStyle.Render(it.path) + " " + exportStyle.Render(it.export) + "  " + describe(it.value)
}
