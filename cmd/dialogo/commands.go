package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/user"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kalambet/dialogo/internal/catalog"
	"github.com/kalambet/dialogo/internal/config"
	"github.com/kalambet/dialogo/internal/conversation"
	"github.com/kalambet/dialogo/internal/engine"
	"github.com/kalambet/dialogo/internal/intent"
	"github.com/kalambet/dialogo/internal/storage"
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// --- chat ---

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Talk to a running server interactively",
	Long: `Talk to a running server interactively.

Lines starting with a slash are commands:
  /reset   leave the current guided step
  /forget  delete the whole conversation state
  /quit    exit`,
	RunE: func(cmd *cobra.Command, args []string) error {
		sender, _ := cmd.Flags().GetString("sender")
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		return runChat(cmd.Context(), client, sender, os.Stdin, os.Stdout)
	},
}

func init() {
	chatCmd.Flags().String("sender", defaultSender(), "conversation identifier")
}

func defaultSender() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return "cli:" + u.Username
	}
	return "cli:local"
}

func runChat(ctx context.Context, client *apiClient, sender string, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	prompt := func() { fmt.Fprint(out, colorize(colorCyan, "> ")) }

	prompt()
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
		case "/quit", "/exit":
			return nil
		case "/reset":
			if err := resetWorkflow(ctx, client, sender); err != nil {
				printError("%v", err)
			} else {
				fmt.Fprintln(out, colorize(colorDim, "(workflow reset)"))
			}
		case "/forget":
			if err := forgetSession(ctx, client, sender); err != nil {
				printError("%v", err)
			} else {
				fmt.Fprintln(out, colorize(colorDim, "(conversation forgotten)"))
			}
		default:
			res, err := sendTurn(ctx, client, sender, line)
			if err != nil {
				return err
			}
			printTurnResult(out, res)
		}
		prompt()
	}
	return scanner.Err()
}

func sendTurn(ctx context.Context, client *apiClient, sender, message string) (conversation.TurnResult, error) {
	resp, err := client.post(ctx, "/v1/turns", map[string]any{
		"sender_id": sender,
		"message":   message,
		"metadata":  map[string]string{"channel": "cli"},
	})
	if err != nil {
		return conversation.TurnResult{}, err
	}
	var res conversation.TurnResult
	if err := decodeJSON(resp, &res); err != nil {
		return conversation.TurnResult{}, err
	}
	return res, nil
}

func printTurnResult(w io.Writer, res conversation.TurnResult) {
	fmt.Fprintln(w, res.Response)
	meta := fmt.Sprintf("[%s via %s, %.2f]", res.Intent, res.Stage, res.Confidence)
	if res.WorkflowContext != nil {
		meta += fmt.Sprintf(" workflow=%s step=%d", res.WorkflowContext.Name, res.WorkflowContext.Step)
	}
	if res.Error != "" {
		meta += " error=" + res.Error
	}
	fmt.Fprintln(w, colorize(colorDim, meta))
}

func resetWorkflow(ctx context.Context, client *apiClient, sender string) error {
	resp, err := client.delete(ctx, "/v1/sessions/"+url.PathEscape(sender)+"/workflow")
	if err != nil {
		return err
	}
	var result map[string]string
	return decodeJSON(resp, &result)
}

func forgetSession(ctx context.Context, client *apiClient, sender string) error {
	resp, err := client.delete(ctx, "/v1/sessions/"+url.PathEscape(sender))
	if err != nil {
		return err
	}
	var result map[string]string
	return decodeJSON(resp, &result)
}

// --- classify ---

var classifyCmd = &cobra.Command{
	Use:   "classify <message>",
	Short: "Classify a message locally without running a turn",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		details, _ := cmd.Flags().GetBool("details")
		noLLM, _ := cmd.Flags().GetBool("no-llm")

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		cat, err := loadCatalog(cfg)
		if err != nil {
			return err
		}
		var eng engine.Engine
		if !noLLM {
			if eng, err = connectEngine(cmd.Context(), cfg, io.Discard); err != nil {
				return err
			}
		}
		router, err := newRouter(cfg, cat, eng)
		if err != nil {
			return err
		}
		return classify(cmd.Context(), router, strings.Join(args, " "), details, os.Stdout)
	},
}

func init() {
	classifyCmd.Flags().Bool("details", false, "classify as if the previous answer left details to show")
	classifyCmd.Flags().Bool("no-llm", false, "use only the deterministic stages")
}

type classification struct {
	intent.Result
	Stage intent.Stage `json:"stage"`
}

func classify(ctx context.Context, router *intent.Router, message string, details bool, w io.Writer) error {
	res, stage := router.ClassifyStage(ctx, message, intent.Hints{HasDetailContext: details})
	return printJSON(w, classification{Result: res, Stage: stage})
}

// --- turns ---

var turnsCmd = &cobra.Command{
	Use:   "turns",
	Short: "Inspect the turn audit log",
}

var turnsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent turns",
	RunE: func(cmd *cobra.Command, args []string) error {
		sender, _ := cmd.Flags().GetString("sender")
		intentID, _ := cmd.Flags().GetString("intent")
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		turns, err := listTurns(cmd.Context(), client, sender, intentID, limit)
		if err != nil {
			return err
		}
		if len(turns) == 0 {
			fmt.Println("No turns found.")
			return nil
		}
		printTurns(os.Stdout, turns)
		return nil
	},
}

var turnsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a single turn",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/v1/turns/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}
		var turn storage.Turn
		if err := decodeJSON(resp, &turn); err != nil {
			return err
		}
		return printJSON(os.Stdout, turn)
	},
}

func init() {
	turnsListCmd.Flags().String("sender", "", "only turns of this sender")
	turnsListCmd.Flags().String("intent", "", "only turns resolved to this intent")
	turnsListCmd.Flags().Int("limit", 20, "maximum number of turns to list")
	turnsCmd.AddCommand(turnsListCmd)
	turnsCmd.AddCommand(turnsShowCmd)
}

func listTurns(ctx context.Context, client *apiClient, sender, intentID string, limit int) ([]storage.Turn, error) {
	q := url.Values{}
	if sender != "" {
		q.Set("sender", sender)
	}
	if intentID != "" {
		q.Set("intent", intentID)
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}
	path := "/v1/turns"
	if enc := q.Encode(); enc != "" {
		path += "?" + enc
	}
	resp, err := client.get(ctx, path)
	if err != nil {
		return nil, err
	}
	var turns []storage.Turn
	if err := decodeJSON(resp, &turns); err != nil {
		return nil, err
	}
	return turns, nil
}

func printTurns(w io.Writer, turns []storage.Turn) {
	for _, t := range turns {
		id := t.ID
		if len(id) > 8 {
			id = id[:8]
		}
		label := t.Intent
		if t.Error != "" {
			label = colorize(colorRed, label)
		}
		fmt.Fprintf(w, "%s  %s  %-14s %-22s %s\n",
			colorize(colorCyan, id),
			t.CreatedAt.Local().Format("2006-01-02 15:04:05"),
			t.SenderID,
			label,
			truncate(t.Message, 60),
		)
	}
}

// --- session ---

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Inspect or reset a conversation",
}

var sessionShowCmd = &cobra.Command{
	Use:   "show <sender>",
	Short: "Show the stored state of a conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/v1/sessions/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}
		var rec any
		if err := decodeJSON(resp, &rec); err != nil {
			return err
		}
		return printJSON(os.Stdout, rec)
	},
}

var sessionResetCmd = &cobra.Command{
	Use:   "reset <sender>",
	Short: "End the active workflow of a conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		all, _ := cmd.Flags().GetBool("all")
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		if all {
			if err := forgetSession(cmd.Context(), client, args[0]); err != nil {
				return err
			}
			printSuccess("Deleted session %s", args[0])
			return nil
		}
		if err := resetWorkflow(cmd.Context(), client, args[0]); err != nil {
			return err
		}
		printSuccess("Workflow reset for %s", args[0])
		return nil
	},
}

func init() {
	sessionResetCmd.Flags().Bool("all", false, "delete the whole session, not just the workflow")
	sessionCmd.AddCommand(sessionShowCmd)
	sessionCmd.AddCommand(sessionResetCmd)
}

// --- catalog ---

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "List the intents the engine can resolve",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		cat, err := loadCatalog(cfg)
		if err != nil {
			return err
		}
		printCatalog(os.Stdout, cat)
		return nil
	},
}

func printCatalog(w io.Writer, cat *catalog.Catalog) {
	for _, c := range cat.Categories() {
		intents := cat.IntentsIn(c.ID)
		if len(intents) == 0 {
			continue
		}
		fmt.Fprintf(w, "%s %s\n", colorize(colorBold, c.Label), colorize(colorDim, "("+c.ID+")"))
		for _, m := range intents {
			line := fmt.Sprintf("  %-24s %s", m.ID, m.Label)
			if len(m.RequiredSlots) > 0 {
				line += colorize(colorDim, " needs "+strings.Join(m.RequiredSlots, "|"))
			}
			fmt.Fprintln(w, line)
		}
	}
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		printStatus("Config file", "%s", config.ConfigFilePath())
		for _, k := range config.ShowAll(cfg) {
			fmt.Printf("  %s = %s %s\n", colorize(colorBold, k.Key), k.Value, colorize(colorDim, "["+k.EnvVar+"]"))
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			printWarning("valid keys: %s", strings.Join(config.ValidKeys(), ", "))
			return err
		}

		printSuccess("Set %s", key)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
