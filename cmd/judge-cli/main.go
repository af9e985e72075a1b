package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"codejudge/internal/cli/command"
	"codejudge/internal/cli/config"
	httpclient "codejudge/internal/cli/http"
	"codejudge/internal/cli/repl"
	"codejudge/internal/cli/state"
)

const defaultConfigPath = "configs/cli.yaml"

// flags override values from the config file and saved state.
type flags struct {
	configPath string
	baseURL    string
	statePath  string
	token      string
	timeout    time.Duration
	pretty     bool
}

func parseFlags(args []string) (flags, []string, error) {
	var f flags
	fs := flag.NewFlagSet("judge-cli", flag.ContinueOnError)
	fs.StringVar(&f.configPath, "config", defaultConfigPath, "path to config file")
	fs.StringVar(&f.baseURL, "base", "", "API base URL")
	fs.DurationVar(&f.timeout, "timeout", 0, "HTTP timeout, e.g. 90s")
	fs.StringVar(&f.token, "token", "", "access token for this run")
	fs.StringVar(&f.statePath, "state", "", "state file path")
	fs.BoolVar(&f.pretty, "pretty", false, "pretty print JSON responses")
	if err := fs.Parse(args); err != nil {
		return flags{}, nil, err
	}
	return f, fs.Args(), nil
}

func (f flags) apply(cfg *config.Config) {
	if f.baseURL != "" {
		cfg.BaseURL = f.baseURL
	}
	if f.timeout > 0 {
		cfg.Timeout = f.timeout
	}
	if f.statePath != "" {
		cfg.StatePath = f.statePath
	}
	if f.pretty {
		pretty := true
		cfg.PrettyJSON = &pretty
	}
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	f, rest, err := parseFlags(args)
	if err != nil {
		return 2
	}
	cfg, err := config.Load(f.configPath)
	if err != nil {
		fmt.Fprintf(stderr, "load config: %v\n", err)
		return 1
	}
	f.apply(&cfg)

	st, err := state.Load(cfg.StatePath)
	if err != nil {
		fmt.Fprintf(stderr, "load state: %v\n", err)
		return 1
	}
	if f.token != "" {
		st.AccessToken = f.token
	}

	client := httpclient.New(cfg.BaseURL, cfg.Timeout, func() string { return st.AccessToken })
	commands := command.Registry()
	pretty := cfg.PrettyJSON != nil && *cfg.PrettyJSON
	session := repl.New(client, commands, &st, cfg.StatePath, pretty, stdout)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Arguments after the flags run as a single command.
	if len(rest) > 0 {
		if err := session.ExecuteArgs(ctx, nil, rest); err != nil {
			fmt.Fprintf(stderr, "error: %v\n", err)
			return 1
		}
		return 0
	}

	rl, err := repl.NewReadline(commands, cfg.HistoryFile)
	if err != nil {
		fmt.Fprintf(stderr, "init line editor: %v\n", err)
		return 1
	}
	defer rl.Close()
	session.Run(ctx, rl)
	return 0
}
