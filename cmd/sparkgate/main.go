package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/sparkforge/sparkgate/internal/audit"
	"github.com/sparkforge/sparkgate/internal/classify"
	"github.com/sparkforge/sparkgate/internal/config"
	"github.com/sparkforge/sparkgate/internal/gateway"
	"github.com/sparkforge/sparkgate/internal/provider"
	"github.com/sparkforge/sparkgate/internal/route"
	"github.com/sparkforge/sparkgate/internal/session"
	"github.com/sparkforge/sparkgate/internal/spark"
)

// ChatOptions for running the chat pipeline with custom dependencies
type ChatOptions struct {
	RuntimeFactory provider.Factory
	Stdin          io.Reader
	Stdout         io.Writer
	Stderr         io.Writer
}

var rootCmd = &cobra.Command{
	Use:   "sparkgate",
	Short: "sparkgate - safe K-12 tutoring gateway",
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat with the tutor in single message or REPL mode",
	RunE:  runChat,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the full gateway (channels + safety monitor + cron)",
	RunE:  runServe,
}

var onboardCmd = &cobra.Command{
	Use:   "onboard",
	Short: "Initialize config and workspace",
	RunE:  runOnboard,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show sparkgate status",
	RunE:  runStatus,
}

var messageFlag string

func init() {
	chatCmd.Flags().StringVarP(&messageFlag, "message", "m", "", "Single message to send")
	rootCmd.AddCommand(chatCmd, serveCmd, onboardCmd, statusCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// runChat is the command handler that uses default options
func runChat(cmd *cobra.Command, args []string) error {
	return runChatWithOptions(ChatOptions{})
}

// runChatWithOptions runs the chat pipeline with injectable dependencies for
// testing. It exercises the same classify/route path the gateway uses, minus
// channels and the alert store.
func runChatWithOptions(opts ChatOptions) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	factory := opts.RuntimeFactory
	if factory == nil {
		if cfg.Provider.APIKey == "" {
			return fmt.Errorf("API key not set. Run 'sparkgate onboard' or set SPARKGATE_API_KEY / OPENAI_API_KEY")
		}
		factory = provider.DefaultFactory
	}

	pool, err := provider.NewPool(cfg, factory)
	if err != nil {
		return err
	}
	defer pool.Close()

	stdin := opts.Stdin
	if stdin == nil {
		stdin = os.Stdin
	}
	stdout := opts.Stdout
	if stdout == nil {
		stdout = os.Stdout
	}
	stderr := opts.Stderr
	if stderr == nil {
		stderr = os.Stderr
	}

	classifier := classify.New(classify.NewHeuristicModel(cfg.Safety.ExtraTriggers))
	sessions := session.NewManager(cfg.Agent.HistoryDepth)
	ctx := context.Background()

	exchange := func(key, input string) {
		sess := sessions.Get(key)

		cls := classifier.Classify(ctx, classify.Message{
			SessionID: sess.ID,
			Channel:   "cli",
			Text:      input,
			Timestamp: time.Now(),
		})
		dec := route.Route(cls, sess.Spark)

		if dec.Strategy == route.GuardianEscalate {
			fmt.Fprintf(stdout, "\n[notice] %s\n\n", dec.DisclosureNotice)
			sessions.RecordAlert(key)
			if v, err := sessions.Switch(key, spark.Guardian); err == nil {
				sess = v
			}
		}

		reply, err := pool.Reply(ctx, dec.Spark, sess.RuntimeSession, input, dec.Constraint)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			reply = route.FallbackGuidance
		}
		if dec.ForbiddenLiteral != "" {
			reply, _ = route.ScrubAnswer(reply, dec.ForbiddenLiteral)
		}
		reply = spark.MustGet(dec.Spark).WithAnchor(reply)

		sessions.RecordExchange(key, input, reply)
		fmt.Fprintln(stdout, reply)
	}

	// Single message mode
	if messageFlag != "" {
		exchange("cli:single", messageFlag)
		return nil
	}

	// REPL mode
	fmt.Fprintln(stdout, "sparkgate chat (type 'exit' to quit)")
	scanner := bufio.NewScanner(stdin)
	for {
		fmt.Fprint(stdout, "\n> ")
		if !scanner.Scan() {
			break
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			break
		}
		exchange("cli:repl", input)
	}
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if cfg.Provider.APIKey == "" {
		return fmt.Errorf("API key not set. Run 'sparkgate onboard' or set SPARKGATE_API_KEY / OPENAI_API_KEY")
	}

	gw, err := gateway.New(cfg)
	if err != nil {
		return fmt.Errorf("create gateway: %w", err)
	}

	return gw.Run(context.Background())
}

func runOnboard(cmd *cobra.Command, args []string) error {
	cfgDir := config.ConfigDir()
	cfgPath := config.ConfigPath()

	if err := os.MkdirAll(cfgDir, 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		cfg := config.DefaultConfig()
		data, _ := json.MarshalIndent(cfg, "", "  ")
		if err := os.WriteFile(cfgPath, data, 0644); err != nil {
			return fmt.Errorf("write config: %w", err)
		}
		fmt.Printf("Created config: %s\n", cfgPath)
	} else {
		fmt.Printf("Config already exists: %s\n", cfgPath)
	}

	cfg, _ := config.LoadConfig()
	ws := cfg.Agent.Workspace
	if err := os.MkdirAll(filepath.Join(cfgDir, "data"), 0755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	if err := os.MkdirAll(ws, 0755); err != nil {
		return fmt.Errorf("create workspace: %w", err)
	}

	fmt.Printf("Workspace ready: %s\n", ws)
	fmt.Println("\nNext steps:")
	fmt.Printf("  1. Edit %s to set your API key\n", cfgPath)
	fmt.Println("  2. Or set SPARKGATE_API_KEY environment variable")
	fmt.Println("  3. Run 'sparkgate chat -m \"What are fractions?\"' to test")
	fmt.Println("  4. Run 'sparkgate serve' and open the web UI")

	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Printf("Config: error (%v)\n", err)
		return nil
	}

	fmt.Printf("Config: %s\n", config.ConfigPath())
	fmt.Printf("Workspace: %s\n", cfg.Agent.Workspace)
	fmt.Printf("Model: %s\n", cfg.Agent.Model)
	fmt.Printf("Provider: %s\n", providerDisplay(cfg.Provider.Type))
	if cfg.Provider.APIKey != "" && len(cfg.Provider.APIKey) > 8 {
		masked := cfg.Provider.APIKey[:4] + "..." + cfg.Provider.APIKey[len(cfg.Provider.APIKey)-4:]
		fmt.Printf("API Key: %s\n", masked)
	} else if cfg.Provider.APIKey != "" {
		fmt.Println("API Key: set")
	} else {
		fmt.Println("API Key: not set")
	}

	fmt.Printf("WebUI: enabled=%v (port %d)\n", cfg.Channels.WebUI.Enabled, cfg.Gateway.Port)
	fmt.Printf("Telegram: enabled=%v\n", cfg.Channels.Telegram.Enabled)
	if cfg.Safety.GuardianWebhook != "" {
		fmt.Println("Guardian webhook: configured")
	} else {
		fmt.Println("Guardian webhook: not set (alerts handled in-session only)")
	}

	fmt.Print("Sparks:")
	for _, s := range spark.All() {
		fmt.Printf(" %s", s.ID)
	}
	fmt.Println()

	dbPath := cfg.Audit.DBPath
	if dbPath == "" {
		dbPath = filepath.Join(config.ConfigDir(), "data", "alerts.db")
	}
	if _, err := os.Stat(dbPath); err != nil {
		fmt.Println("Alerts: no audit database yet")
		return nil
	}
	store, err := audit.NewStore(dbPath)
	if err != nil {
		fmt.Printf("Alerts: error (%v)\n", err)
		return nil
	}
	defer store.Close()
	if n, err := store.CountSince(time.Now().Add(-24 * time.Hour)); err == nil {
		fmt.Printf("Alerts: %d in the last 24h\n", n)
	}

	return nil
}

func providerDisplay(t string) string {
	if t == "" {
		return "openai (default)"
	}
	return t
}
