// Copyright 2026 The Livechat Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/peertube-go/livechat/chat"
)

var (
	nicknameStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	moderatorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	systemStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Italic(true)
	timeStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	errorStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	inputStyle     = lipgloss.NewStyle().BorderStyle(lipgloss.NormalBorder()).BorderTop(true)
)

// sessionEvent wraps a chat event for the bubbletea update loop.
type sessionEvent struct {
	event chat.Event
}

// sendResult reports the outcome of an asynchronous Message or Delete.
type sendResult struct {
	err error
}

type model struct {
	session  *chat.Session
	viewport viewport.Model
	input    textinput.Model
	lines    []string
	sized    bool
	status   string
}

func newModel(session *chat.Session) model {
	input := textinput.New()
	input.Placeholder = "say something (enter sends, /delete <origin-id> retracts)"
	input.Focus()

	m := model{session: session, input: input}
	for _, message := range session.Messages() {
		m.lines = append(m.lines, m.renderMessage(message, false))
	}
	return m
}

func (m model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.waitForEvent())
}

// waitForEvent blocks on the session's event channel and feeds the
// next event into the update loop.
func (m model) waitForEvent() tea.Cmd {
	return func() tea.Msg {
		return sessionEvent{event: <-m.session.Events()}
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		inputHeight := lipgloss.Height(m.renderInput())
		if !m.sized {
			m.viewport = viewport.New(msg.Width, msg.Height-inputHeight)
			m.sized = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = msg.Height - inputHeight
		}
		m.input.Width = msg.Width - 4
		m.refresh()
		return m, nil

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			m.session.Stop()
			return m, tea.Quit
		case tea.KeyEnter:
			line := strings.TrimSpace(m.input.Value())
			m.input.Reset()
			if line == "" {
				return m, nil
			}
			return m, m.submit(line)
		}

	case sessionEvent:
		m.apply(msg.event)
		m.refresh()
		return m, m.waitForEvent()

	case sendResult:
		if msg.err != nil {
			m.status = errorStyle.Render(msg.err.Error())
		} else {
			m.status = ""
		}
		return m, nil
	}

	var commands []tea.Cmd
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	commands = append(commands, cmd)
	m.viewport, cmd = m.viewport.Update(msg)
	commands = append(commands, cmd)
	return m, tea.Batch(commands...)
}

// submit runs the command for one input line off the update loop.
func (m model) submit(line string) tea.Cmd {
	session := m.session
	return func() tea.Msg {
		if originID, ok := strings.CutPrefix(line, "/delete "); ok {
			return sendResult{err: session.Delete(context.Background(), strings.TrimSpace(originID))}
		}
		_, err := session.Message(context.Background(), line)
		return sendResult{err: err}
	}
}

func (m *model) apply(event chat.Event) {
	switch e := event.(type) {
	case chat.ReadyEvent:
		m.lines = append(m.lines, systemStyle.Render(
			fmt.Sprintf("joined as %s", m.session.Self().Nickname)))
	case chat.MessageEvent:
		m.lines = append(m.lines, m.renderMessage(e.Message, false))
	case chat.OldMessageEvent:
		m.lines = append(m.lines, m.renderMessage(e.Message, true))
	case chat.MessageRemoveEvent:
		if e.Message != nil {
			m.lines = append(m.lines, systemStyle.Render(
				fmt.Sprintf("message deleted: %s", e.Message.Body)))
		} else {
			m.lines = append(m.lines, systemStyle.Render("a message was deleted"))
		}
	case chat.PresenceEvent:
		switch {
		case e.Old == nil && e.New.Online:
			m.lines = append(m.lines, systemStyle.Render(e.New.Nickname+" joined"))
		case e.Old != nil && e.Old.Online && !e.New.Online:
			m.lines = append(m.lines, systemStyle.Render(e.New.Nickname+" left"))
		}
	}
}

func (m *model) renderMessage(message *chat.Message, history bool) string {
	name := message.AuthorID
	style := nicknameStyle
	if author, ok := m.session.Author(message); ok {
		name = author.Nickname
		if author.Role == "moderator" {
			style = moderatorStyle
		}
	}
	stamp := timeStyle.Render(message.Time.Local().Format("15:04"))
	line := fmt.Sprintf("%s %s %s", stamp, style.Render(name+":"), message.Body)
	if history {
		line = systemStyle.Render("(history) ") + line
	}
	return line
}

func (m *model) refresh() {
	if !m.sized {
		return
	}
	atBottom := m.viewport.AtBottom()
	m.viewport.SetContent(strings.Join(m.lines, "\n"))
	if atBottom {
		m.viewport.GotoBottom()
	}
}

func (m model) renderInput() string {
	view := inputStyle.Render(m.input.View())
	if m.status != "" {
		view += "\n" + m.status
	}
	return view
}

func (m model) View() string {
	if !m.sized {
		return "connecting..."
	}
	return m.viewport.View() + "\n" + m.renderInput()
}
