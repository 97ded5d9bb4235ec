package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/joho/godotenv"
	"github.com/peterh/liner"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"featherine-chat/internal/chat"
	"featherine-chat/internal/config"
	"featherine-chat/internal/domain"
	"featherine-chat/internal/history"
	"featherine-chat/internal/kv"
	"featherine-chat/internal/llm"
	"featherine-chat/internal/workspace"
)

const helpText = `Commands:
  /new                  start a new chat
  /history              list archived sessions
  /open <n>             open session n from /history
  /clear                delete all archived sessions
  /image <path> [text]  send an image with optional text
  /help                 show this help
  /quit                 exit`

type cli struct {
	ws       *workspace.Workspace
	renderer *glamour.TermRenderer
}

func main() {
	ctx := context.Background()

	_ = godotenv.Load()

	cfg, err := config.LoadLocalConfig()
	if err != nil {
		log.Fatal(err)
	}

	logger := zap.NewNop()
	if os.Getenv("CLI_DEBUG") != "" {
		logger = zap.NewExample()
	}
	defer logger.Sync()

	var redisClient *redis.Client
	if cfg.LocalBackend == config.LocalBackendRedis {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		defer redisClient.Close()
	}
	store, closeStore, err := kv.Open(ctx, cfg.LocalBackend, kv.Options{
		Dir:        cfg.LocalDir,
		SQLitePath: cfg.SQLitePath,
		Redis:      redisClient,
	})
	if err != nil {
		log.Fatalf("local store: %v", err)
	}
	defer closeStore()

	llmClient := llm.NewHTTPClient(cfg.LLMBaseURL, cfg.LLMAPIKey, cfg.LLMModel,
		llm.WithTemperature(cfg.LLMTemperature),
		llm.WithLogger(logger),
	)
	local := history.NewLocalStore(store, history.LocalKey, logger)
	ws := workspace.New("cli", llmClient, history.NewRouter(nil, local), nil, logger,
		chat.WithApology(cfg.Apology()),
		chat.WithArchiveErrorHook(func(_ domain.Session, err error) {
			fmt.Fprintf(os.Stderr, "(this exchange was not saved: %v)\n", err)
		}),
	)
	if err := ws.RefreshSessions(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "could not load history: %v\n", err)
	}

	renderer, err := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(80))
	if err != nil {
		renderer = nil
	}
	c := &cli{ws: ws, renderer: renderer}

	line := liner.NewLiner()
	line.SetCtrlCAborts(true)
	defer line.Close()
	historyFile := filepath.Join(os.TempDir(), "featherine_cli_history")
	if f, err := os.Open(historyFile); err == nil {
		line.ReadHistory(f)
		f.Close()
	}
	defer func() {
		if f, err := os.OpenFile(historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600); err == nil {
			line.WriteHistory(f)
			f.Close()
		}
	}()

	fmt.Println("Featherine AI. Type /help for commands.")
	if cfg.LLMAPIKey == "" {
		fmt.Println("warning: LLM_API_KEY is not set; replies will fail.")
	}

	for {
		input, err := line.Prompt("you> ")
		if err != nil {
			if !errors.Is(err, liner.ErrPromptAborted) {
				fmt.Println()
			}
			return
		}
		if strings.TrimSpace(input) == "" {
			continue
		}
		line.AppendHistory(input)

		if !c.handle(ctx, parseCommand(input)) {
			return
		}
	}
}

// handle ejecuta una linea; devuelve false para salir.
func (c *cli) handle(ctx context.Context, cmd command) bool {
	switch cmd.name {
	case "":
		c.submit(ctx, chat.Input{Text: cmd.args})
	case "image":
		path, text := parseImageArgs(cmd.args)
		if path == "" {
			fmt.Println("usage: /image <path> [text]")
			return true
		}
		dataURL, err := imageDataURL(path)
		if err != nil {
			fmt.Printf("cannot read image: %v\n", err)
			return true
		}
		c.submit(ctx, chat.Input{Image: dataURL, Text: text})
	case "new":
		c.ws.Controller.Reset()
		fmt.Println("New chat started.")
	case "history":
		c.printHistory(ctx)
	case "open":
		sessions := c.ws.Sessions()
		if len(sessions) == 0 {
			fmt.Println("No archived sessions.")
			return true
		}
		i, err := parseIndex(cmd.args, len(sessions))
		if err != nil {
			fmt.Println(err)
			return true
		}
		s, err := c.ws.OpenSession(sessions[i].ID)
		if err != nil {
			fmt.Println(err)
			return true
		}
		for _, m := range s.Messages {
			c.printMessage(m)
		}
	case "clear":
		if err := c.ws.ClearSessions(ctx); err != nil {
			fmt.Printf("could not clear history: %v\n", err)
			return true
		}
		fmt.Println("History cleared.")
	case "help":
		fmt.Println(helpText)
	case "quit", "exit":
		return false
	default:
		fmt.Printf("unknown command /%s\n", cmd.name)
	}
	return true
}

func (c *cli) submit(ctx context.Context, in chat.Input) {
	fmt.Println("Featherine is typing...")
	res, err := c.ws.Submit(ctx, in)
	if err != nil {
		if errors.Is(err, chat.ErrEmptySubmission) {
			return
		}
		fmt.Printf("error: %v\n", err)
		return
	}
	c.printMessage(res.Reply)
}

func (c *cli) printHistory(ctx context.Context) {
	if err := c.ws.RefreshSessions(ctx); err != nil {
		fmt.Printf("could not load history: %v\n", err)
	}
	sessions := c.ws.Sessions()
	if len(sessions) == 0 {
		fmt.Println("No archived sessions.")
		return
	}
	for i, s := range sessions {
		fmt.Printf("%3d  %s\n", i+1, sessionTitle(s))
	}
}

func (c *cli) printMessage(m domain.Message) {
	prefix := "featherine"
	if m.IsUser() {
		prefix = "you"
	}
	body := messageMarkdown(m)
	if c.renderer != nil && !m.IsUser() {
		if rendered, err := c.renderer.Render(body); err == nil {
			body = rendered
		}
	}
	fmt.Printf("%s> %s\n", prefix, strings.TrimRight(body, "\n"))
}
