package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/MegaGrindStone/streamchat/internal/handlers"
	"github.com/MegaGrindStone/streamchat/internal/render"
	"github.com/spf13/cobra"
)

type flags struct {
	configPath     string
	serverURL      string
	conversationID string
	logLevel       string
	htmlPath       string
}

func main() {
	if err := newRootCommand().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var f flags

	cmd := &cobra.Command{
		Use:   "streamchat",
		Short: "Chat with a streaming assistant from the terminal",
		Long: "streamchat keeps a conversation in memory and prints assistant replies as they stream in.\n\n" +
			"Commands at the prompt: /new, /load <id>, /history, /quit.",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), f, cmd.InOrStdin(), os.Stdout, os.Stderr)
		},
	}

	cmd.Flags().StringVar(&f.configPath, "config", "", "config file (default <user config dir>/streamchat/config.yaml)")
	cmd.Flags().StringVar(&f.serverURL, "server", "", "chat server base URL; selects the sse transport")
	cmd.Flags().StringVar(&f.conversationID, "conversation-id", "", "conversation to open")
	cmd.Flags().StringVar(&f.logLevel, "log-level", "", "log level: debug, info, warn, error")
	cmd.Flags().StringVar(&f.htmlPath, "html", "", "also keep an HTML page of the conversation at this path")

	return cmd
}

func run(ctx context.Context, f flags, stdin io.Reader, stdout *os.File, stderr io.Writer) error {
	cfg, err := resolveConfig(f)
	if err != nil {
		return err
	}

	level, err := parseLogLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	opener, err := cfg.Transport.opener(logger)
	if err != nil {
		return fmt.Errorf("error configuring transport: %w", err)
	}
	creator, err := cfg.Transport.creator(logger)
	if err != nil {
		return fmt.Errorf("error configuring conversation service: %w", err)
	}

	terminal := render.NewTerminal(stdout)
	renderers := render.Multi{terminal}

	var page *render.HTML
	if cfg.HTML.Path != "" {
		page, err = render.NewHTML(cfg.HTML.Path, cfg.HTML.Refresh, logger)
		if err != nil {
			return err
		}
		renderers = append(renderers, page)
	}

	m := handlers.NewMain(opener, creator, renderers, logger)
	if err := m.HandleLoadConversation(cfg.ConversationID); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	r := repl{
		main:     m,
		terminal: terminal,
		page:     page,
		out:      stdout,
		logger:   logger,
	}
	r.loaded()

	lines, readErrs := readLines(stdin)
	return r.loop(ctx, lines, readErrs)
}

// resolveConfig loads the config file and applies command line overrides.
func resolveConfig(f flags) (config, error) {
	path, required := f.configPath, true
	if path == "" {
		p, err := defaultConfigPath()
		if err != nil {
			return config{}, err
		}
		path, required = p, false
	}

	cfg, err := loadConfig(path, required)
	if err != nil {
		return config{}, err
	}

	if f.serverURL != "" {
		cfg.Transport = &sseConfig{Provider: "sse", URL: f.serverURL}
	}
	if f.conversationID != "" {
		cfg.ConversationID = f.conversationID
	}
	if f.logLevel != "" {
		cfg.LogLevel = f.logLevel
	}
	if f.htmlPath != "" {
		cfg.HTML.Path = f.htmlPath
	}
	return cfg, nil
}

// maxInputLine is the longest input line the REPL accepts.
const maxInputLine = 1 << 20

// readLines forwards input lines on the returned channel, which is closed at end of input. A read
// failure, such as a line longer than maxInputLine, is sent on the error channel before lines is closed.
func readLines(r io.Reader) (<-chan string, <-chan error) {
	lines := make(chan string)
	errs := make(chan error, 1)
	go func() {
		defer close(lines)
		defer close(errs)

		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64*1024), maxInputLine)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		if err := scanner.Err(); err != nil {
			errs <- err
		}
	}()
	return lines, errs
}

type repl struct {
	main     *handlers.Main
	terminal *render.Terminal
	page     *render.HTML
	out      io.Writer

	logger *slog.Logger
}

func (r repl) loop(ctx context.Context, lines <-chan string, readErrs <-chan error) error {
	for {
		fmt.Fprint(r.out, "> ")

		var line string
		select {
		case <-ctx.Done():
			fmt.Fprintln(r.out)
			return nil
		case l, ok := <-lines:
			if !ok {
				fmt.Fprintln(r.out)
				if err := <-readErrs; err != nil {
					r.logger.Error("Failed to read input", slog.String("err", err.Error()))
					return fmt.Errorf("error reading input: %w", err)
				}
				return nil
			}
			line = l
		}

		quit, err := r.handle(ctx, line)
		if err != nil {
			r.logger.Debug("Command failed", slog.String("err", err.Error()))
		}
		if quit || ctx.Err() != nil {
			return nil
		}
	}
}

func (r repl) handle(ctx context.Context, line string) (bool, error) {
	cmd, arg, _ := strings.Cut(strings.TrimSpace(line), " ")

	switch cmd {
	case "/quit", "/exit":
		return true, nil
	case "/new":
		id, err := r.main.HandleNewConversation(ctx)
		if err != nil {
			fmt.Fprintln(r.out, "could not create a conversation")
			return false, err
		}
		r.logger.Debug("Created conversation", slog.String("conversationID", id))
		r.loaded()
		return false, nil
	case "/load":
		if err := r.main.HandleLoadConversation(arg); err != nil {
			return false, err
		}
		r.loaded()
		return false, nil
	case "/history":
		r.main.HandleHistory()
		r.terminal.Break()
		return false, nil
	}

	err := r.main.HandleSubmit(ctx, line)
	r.terminal.Break()
	if errors.Is(err, handlers.ErrSendInProgress) {
		fmt.Fprintln(r.out, "wait for the current reply to finish")
	}
	return false, err
}

// loaded announces the current conversation and resets the HTML page for it.
func (r repl) loaded() {
	id := r.main.ConversationID()
	if r.page != nil {
		r.page.Reset(id)
		r.page.ScrollToLatest()
	}
	fmt.Fprintf(r.out, "conversation %s\n", id)
}
