package repl

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"codejudge/internal/cli/command"
	httpclient "codejudge/internal/cli/http"
	"codejudge/internal/cli/state"

	"github.com/chzyer/readline"
	"github.com/google/shlex"
)

const defaultPrompt = "codejudge> "

var errExit = errors.New("exit")

// LineReader is the interactive input of a session.
type LineReader interface {
	Readline() (string, error)
	SetPrompt(prompt string)
}

// Session holds REPL state.
type Session struct {
	client     *httpclient.Client
	commands   map[string]command.Command
	state      *state.State
	statePath  string
	prettyJSON bool
	out        io.Writer
}

func New(client *httpclient.Client, commands map[string]command.Command, st *state.State, statePath string, prettyJSON bool, out io.Writer) *Session {
	return &Session{
		client:     client,
		commands:   commands,
		state:      st,
		statePath:  statePath,
		prettyJSON: prettyJSON,
		out:        out,
	}
}

// NewReadline builds a line editor with history and command completion.
func NewReadline(commands map[string]command.Command, historyFile string) (*readline.Instance, error) {
	return readline.NewEx(&readline.Config{
		Prompt:          defaultPrompt,
		HistoryFile:     historyFile,
		AutoComplete:    newCompleter(commands),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
}

func newCompleter(commands map[string]command.Command) *readline.PrefixCompleter {
	actions := map[string][]string{}
	for _, cmd := range commands {
		actions[cmd.Service] = append(actions[cmd.Service], cmd.Action)
	}
	services := make([]string, 0, len(actions))
	for service := range actions {
		services = append(services, service)
	}
	sort.Strings(services)

	items := make([]readline.PrefixCompleterInterface, 0, len(services)+5)
	for _, service := range services {
		sort.Strings(actions[service])
		children := make([]readline.PrefixCompleterInterface, 0, len(actions[service]))
		for _, action := range actions[service] {
			children = append(children, readline.PcItem(action))
		}
		items = append(items, readline.PcItem(service, children...))
	}
	items = append(items,
		readline.PcItem("set", readline.PcItem("base"), readline.PcItem("timeout"), readline.PcItem("token"), readline.PcItem("language")),
		readline.PcItem("show", readline.PcItem("token"), readline.PcItem("config")),
		readline.PcItem("logout"),
		readline.PcItem("help"),
		readline.PcItem("exit"),
	)
	return readline.NewPrefixCompleter(items...)
}

// Run reads lines until exit, EOF or an input error.
func (s *Session) Run(ctx context.Context, lines LineReader) {
	for {
		lines.SetPrompt(defaultPrompt)
		line, err := lines.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			continue
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.printLine("read input failed: %v", err)
			}
			return
		}
		if err := s.Execute(ctx, lines, line); err != nil {
			if errors.Is(err, errExit) {
				s.printLine("bye")
				return
			}
			s.printLine("error: %v", err)
		}
	}
}

// Execute runs one input line.
func (s *Session) Execute(ctx context.Context, lines LineReader, line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	tokens, err := shlex.Split(line)
	if err != nil {
		return fmt.Errorf("parse command failed: %w", err)
	}
	return s.ExecuteArgs(ctx, lines, tokens)
}

// ExecuteArgs runs an already split command. lines may be nil, in which case
// missing fields are reported instead of prompted for.
func (s *Session) ExecuteArgs(ctx context.Context, lines LineReader, tokens []string) error {
	if len(tokens) == 0 {
		return nil
	}
	if handled, err := s.handleSystemCommand(tokens); handled {
		return err
	}
	if len(tokens) < 2 {
		return fmt.Errorf("invalid command, use: <service> <action> key=value ...")
	}
	cmd, ok := s.commands[tokens[0]+" "+tokens[1]]
	if !ok {
		return fmt.Errorf("unknown command: %s %s", tokens[0], tokens[1])
	}
	params, err := command.ParseArgs(tokens[2:])
	if err != nil {
		return err
	}

	if params.Get("language") == "" && params.Get("lang") == "" && s.state.Language != "" {
		params.Set("language", s.state.Language)
	}
	if err := s.promptMissing(lines, cmd, params); err != nil {
		return err
	}
	req, err := command.BuildRequest(cmd, params)
	if err != nil {
		return err
	}
	resp, err := s.client.Do(ctx, req.Method, req.Path, req.Body)
	if err != nil {
		return err
	}
	s.renderResponse(resp)
	return nil
}

func (s *Session) handleSystemCommand(tokens []string) (bool, error) {
	switch tokens[0] {
	case "exit", "quit":
		return true, errExit
	case "help":
		s.printHelp()
		return true, nil
	case "set":
		return true, s.handleSet(tokens[1:])
	case "show":
		s.handleShow(tokens[1:])
		return true, nil
	case "logout":
		s.state.AccessToken = ""
		if err := s.saveState(); err != nil {
			return true, err
		}
		s.printLine("token cleared")
		return true, nil
	}
	return false, nil
}

func (s *Session) handleSet(args []string) error {
	if len(args) < 2 {
		s.printLine("usage: set base|timeout|token|language <value>")
		return nil
	}
	switch args[0] {
	case "base":
		s.client.SetBaseURL(args[1])
		s.printLine("base set to %s", args[1])
	case "timeout":
		dur, err := time.ParseDuration(args[1])
		if err != nil {
			return fmt.Errorf("invalid duration: %w", err)
		}
		s.client.SetTimeout(dur)
		s.printLine("timeout set to %s", dur)
	case "token":
		s.state.AccessToken = args[1]
		if err := s.saveState(); err != nil {
			return err
		}
		s.printLine("token updated")
	case "language":
		s.state.Language = args[1]
		if err := s.saveState(); err != nil {
			return err
		}
		s.printLine("default language set to %s", args[1])
	default:
		s.printLine("unknown set command")
	}
	return nil
}

func (s *Session) handleShow(args []string) {
	topic := ""
	if len(args) > 0 {
		topic = args[0]
	}
	switch topic {
	case "token":
		if s.state.AccessToken == "" {
			s.printLine("token: <empty>")
			return
		}
		token := s.state.AccessToken
		if len(token) > 12 {
			token = token[:6] + "..." + token[len(token)-4:]
		}
		s.printLine("token: %s", token)
	case "config":
		s.printLine("base: %s", s.client.BaseURL())
		s.printLine("statePath: %s", s.statePath)
		if s.state.Language != "" {
			s.printLine("language: %s", s.state.Language)
		}
	default:
		s.printLine("usage: show token|config")
	}
}

func (s *Session) saveState() error {
	if s.statePath == "" {
		return nil
	}
	return state.Save(s.statePath, *s.state)
}

func (s *Session) promptMissing(lines LineReader, cmd command.Command, params command.Params) error {
	missing := command.Missing(cmd, params)
	if len(missing) == 0 {
		return nil
	}
	if lines == nil {
		names := make([]string, len(missing))
		for i, field := range missing {
			names[i] = field.Name
		}
		return fmt.Errorf("missing params: %s", strings.Join(names, ", "))
	}
	for _, field := range missing {
		lines.SetPrompt(field.Prompt + ": ")
		value, err := lines.Readline()
		if err != nil {
			return fmt.Errorf("read input failed: %w", err)
		}
		params.Set(field.Name, strings.TrimSpace(value))
	}
	return nil
}

func (s *Session) renderResponse(resp *httpclient.Response) {
	status := "ok"
	if !resp.OK() {
		status = "failed"
	}
	s.printLine("HTTP %d %s (%s) trace=%s", resp.StatusCode, status, resp.Duration.Round(time.Millisecond), resp.TraceID)
	if resp.Envelope != nil && resp.OK() {
		if summary := summarize(resp.Envelope.Data); summary != "" {
			s.printLine("%s", summary)
		}
	}
	if len(resp.Body) == 0 {
		return
	}
	if s.prettyJSON {
		var buf bytes.Buffer
		if err := json.Indent(&buf, resp.Body, "", "  "); err == nil {
			s.printLine("%s", buf.String())
			return
		}
	}
	s.printLine("%s", string(resp.Body))
}

// summarize renders a one line verdict for submit responses.
func summarize(data json.RawMessage) string {
	var result struct {
		SubmissionID    string  `json:"submission_id"`
		Accepted        *bool   `json:"accepted"`
		TotalTestCases  int     `json:"total_test_cases"`
		PassedTestCases int     `json:"passed_test_cases"`
		Runtime         float64 `json:"runtime"`
		Memory          int64   `json:"memory"`
	}
	if len(data) == 0 || json.Unmarshal(data, &result) != nil || result.Accepted == nil {
		return ""
	}
	verdict := "Rejected"
	if *result.Accepted {
		verdict = "Accepted"
	}
	return fmt.Sprintf("%s %d/%d  runtime=%.3fs memory=%dKB  submission=%s",
		verdict, result.PassedTestCases, result.TotalTestCases,
		result.Runtime, result.Memory, result.SubmissionID)
}

func (s *Session) printHelp() {
	s.printLine("usage: <service> <action> key=value ...")
	s.printLine("system: help | exit | logout | set base|timeout|token|language <value> | show token|config")
	s.printLine("commands:")
	for _, usage := range command.Usages(s.commands) {
		s.printLine("  %s", usage)
	}
}

func (s *Session) printLine(format string, args ...interface{}) {
	_, _ = fmt.Fprintf(s.out, format+"\n", args...)
}
