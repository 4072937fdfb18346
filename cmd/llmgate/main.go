// Package main is the command-line entry point for the LLM gateway.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"llmgate/config"
	"llmgate/internal/app"
	"llmgate/internal/core"
	"llmgate/internal/logging"
	"llmgate/internal/session"

	// Import backend packages to trigger their init() registration
	_ "llmgate/internal/backends/anthropic"
	_ "llmgate/internal/backends/codex"
	_ "llmgate/internal/backends/openrouter"
)

const usage = `usage: llmgate <command> [flags]

commands:
  login <backend>   run the OAuth login flow (anthropic, codex)
  models            list the model catalog
  chat              run one completion turn
  sessions          list stored sessions; "sessions rm <id>" deletes one
  usage             show codex account usage

chat flags:
  -model    model id (required)
  -system   system prompt
  -stream   stream the response
  -session  session id; prior messages are replayed and the turn is stored
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "loading config:", err)
		os.Exit(1)
	}
	logging.Setup(os.Stderr, logging.ParseLevel(cfg.LogLevel))
	logger := slog.Default()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	gw, err := app.New(ctx, cfg, logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, "building gateway:", err)
		os.Exit(1)
	}
	defer gw.Close()

	switch os.Args[1] {
	case "login":
		err = runLogin(ctx, gw, os.Args[2:])
	case "models":
		err = runModels(ctx, gw)
	case "chat":
		err = runChat(ctx, gw, os.Args[2:])
	case "sessions":
		err = runSessions(ctx, gw, os.Args[2:])
	case "usage":
		err = runUsage(ctx, gw)
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func runLogin(ctx context.Context, gw *app.Gateway, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("login requires a backend name")
	}
	backend := args[0]

	err := gw.Login(ctx, backend,
		func(url string) {
			fmt.Println("Open this URL in your browser:")
			fmt.Println()
			fmt.Println("  " + url)
			fmt.Println()
		},
		func() (string, error) {
			fmt.Print("Paste the code shown after authorizing: ")
			reader := bufio.NewReader(os.Stdin)
			line, err := reader.ReadString('\n')
			if err != nil {
				return "", err
			}
			return strings.TrimSpace(line), nil
		})
	if err != nil {
		return err
	}
	fmt.Println("login successful")
	return nil
}

func runModels(ctx context.Context, gw *app.Gateway) error {
	models, err := gw.Models(ctx)
	if err != nil {
		return err
	}
	for _, m := range models {
		fmt.Printf("%-48s ctx=%-8d %s\n", m.ID, m.ContextLength, m.Name)
	}
	return nil
}

func runChat(ctx context.Context, gw *app.Gateway, args []string) error {
	fs := flag.NewFlagSet("chat", flag.ExitOnError)
	model := fs.String("model", "", "model id")
	system := fs.String("system", "", "system prompt")
	stream := fs.Bool("stream", false, "stream the response")
	sessionID := fs.String("session", "", "session id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *model == "" {
		return fmt.Errorf("chat requires -model")
	}

	prompt := strings.Join(fs.Args(), " ")
	if prompt == "" {
		data, _ := io.ReadAll(os.Stdin)
		prompt = strings.TrimSpace(string(data))
	}
	if prompt == "" {
		return fmt.Errorf("no prompt given")
	}

	userMsg := core.Message{Role: core.RoleUser, Content: prompt}
	req := &core.Request{
		Model:    *model,
		System:   *system,
		Messages: []core.Message{userMsg},
	}

	store := gw.Sessions()
	if *sessionID != "" {
		prior, err := store.Messages(ctx, *sessionID)
		if err != nil && !errors.Is(err, session.ErrNotFound) {
			return err
		}
		req.Messages = append(prior, userMsg)
	}

	persist := func(resp *core.Response) error {
		if *sessionID == "" {
			return nil
		}
		if err := store.Append(ctx, *sessionID, userMsg); err != nil {
			return err
		}
		return store.Append(ctx, *sessionID, core.Message{
			Role:      core.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})
	}

	if !*stream {
		resp, err := gw.Complete(ctx, req)
		if err != nil {
			return err
		}
		fmt.Println(resp.Content)
		return persist(resp)
	}

	s, err := gw.Stream(ctx, req)
	if err != nil {
		return err
	}
	defer s.Close()

	var final *core.Response
	for ev := range s.Events() {
		switch e := ev.(type) {
		case core.TextFragment:
			fmt.Print(e.Text)
		case core.ToolCallStarted:
			fmt.Printf("\n[tool call: %s]\n", e.Name)
		case core.TurnCompleted:
			final = e.Response
			fmt.Println()
		}
	}
	if err := s.Err(); err != nil {
		return err
	}
	if final != nil {
		return persist(final)
	}
	return nil
}

func runSessions(ctx context.Context, gw *app.Gateway, args []string) error {
	store := gw.Sessions()

	if len(args) > 0 && args[0] == "rm" {
		if len(args) != 2 {
			return fmt.Errorf("sessions rm requires a session id")
		}
		return store.Delete(ctx, args[1])
	}

	infos, err := store.List(ctx)
	if err != nil {
		return err
	}
	for _, info := range infos {
		fmt.Printf("%-40s %4d messages  %s\n", info.ID, info.Messages, info.UpdatedAt.Format(time.RFC3339))
	}
	return nil
}

func runUsage(ctx context.Context, gw *app.Gateway) error {
	info, err := gw.Usage(ctx)
	if err != nil {
		return err
	}
	fmt.Println("plan:", info.PlanType)
	if info.Primary != nil {
		fmt.Printf("primary window: %.1f%% used, resets in %ds\n",
			info.Primary.UsedPercent, info.Primary.ResetsInSecs)
	}
	if info.Secondary != nil {
		fmt.Printf("secondary window: %.1f%% used, resets in %ds\n",
			info.Secondary.UsedPercent, info.Secondary.ResetsInSecs)
	}
	return nil
}
