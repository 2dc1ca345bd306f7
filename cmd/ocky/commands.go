package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/kalambet/ocky/internal/api"
	"github.com/kalambet/ocky/internal/catalog"
	"github.com/kalambet/ocky/internal/config"
	"github.com/kalambet/ocky/internal/features"
	"github.com/kalambet/ocky/internal/pipeline"
	"github.com/kalambet/ocky/internal/training"
)

// --- message ---

var messageCmd = &cobra.Command{
	Use:   "message <text>",
	Short: "Send a test message through the gate",
	Long: `Send a message to the running bot as if it arrived from chat.

Examples:
  ocky message "anyone around?"
  ocky message --channel general --author u42 "what's up"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		channel, _ := cmd.Flags().GetString("channel")
		author, _ := cmd.Flags().GetString("author")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		out, err := sendMessage(cmd.Context(), client, newInbound(strings.Join(args, " "), channel, author))
		if err != nil {
			return err
		}
		printOutcome(out)
		return nil
	},
}

func init() {
	messageCmd.Flags().String("channel", "cli", "channel id of the message")
	messageCmd.Flags().String("author", "cli", "author id of the message")
}

func newInbound(text, channel, author string) pipeline.Inbound {
	return pipeline.Inbound{Message: features.Message{
		ID:        uuid.NewString(),
		Text:      text,
		AuthorID:  author,
		ChannelID: channel,
		Timestamp: time.Now().UTC(),
	}}
}

func sendMessage(ctx context.Context, c *apiClient, in pipeline.Inbound) (pipeline.Outcome, error) {
	resp, err := c.post(ctx, "/messages", in)
	if err != nil {
		return pipeline.Outcome{}, err
	}
	var out pipeline.Outcome
	if err := decodeJSON(resp, &out); err != nil {
		return pipeline.Outcome{}, err
	}
	return out, nil
}

func printOutcome(out pipeline.Outcome) {
	if out.Trained {
		printStatus("Probability", "%s %.3f (effective %.3f)", meter(out.Effective, out.Threshold), out.Probability, out.Effective)
	} else {
		printStatus("Probability", "untrained")
	}
	if out.TrainingRequested {
		printStep("Training requested")
	}
	if out.Response != nil {
		printSuccess("%s", out.Response.Text)
		printStatus("Response", "%s (similarity %.3f)", out.Response.ID, out.Response.Similarity)
		return
	}
	printStatus("Skipped", "%s", out.Skipped)
}

// --- train ---

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Run a training pass now",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		printStep("Training...")
		report, err := runTrain(cmd.Context(), client)
		if err != nil {
			return err
		}
		printReport(report)
		return nil
	},
}

func runTrain(ctx context.Context, c *apiClient) (training.Report, error) {
	resp, err := c.post(ctx, "/train", nil)
	if err != nil {
		return training.Report{}, err
	}
	var report training.Report
	if err := decodeJSON(resp, &report); err != nil {
		return training.Report{}, err
	}
	return report, nil
}

func printReport(r training.Report) {
	if r.Skipped {
		printWarning("Training skipped: %s", r.Reason)
		return
	}
	printSuccess("Training complete in %s", r.Duration.Round(time.Millisecond))
	printStatus("Respond examples", "%d (%d positive, %d negative, ratio %.2f)", r.RespondExamples, r.Positive, r.Negative, r.Ratio)
	printStatus("Feedback examples", "%d (%d nudged)", r.FeedbackExamples, r.Nudged)
	if r.GateRefit {
		printStatus("Gate", "refit")
	} else {
		printStatus("Gate", "kept (%s)", r.GateNote)
	}
	if r.DriftSamples > 0 {
		printStatus("Drift", "%.4f over %d responses", r.Drift, r.DriftSamples)
	}
}

// --- stats ---

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show example counts and model state",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		s, err := fetchStats(cmd.Context(), client)
		if err != nil {
			return err
		}
		printStats(s)
		return nil
	},
}

func fetchStats(ctx context.Context, c *apiClient) (pipeline.Stats, error) {
	resp, err := c.get(ctx, "/stats")
	if err != nil {
		return pipeline.Stats{}, err
	}
	var s pipeline.Stats
	if err := decodeJSON(resp, &s); err != nil {
		return pipeline.Stats{}, err
	}
	return s, nil
}

func printStats(s pipeline.Stats) {
	printStatus("Respond examples", "%d (%d positive)", s.Examples.Respond, s.Examples.RespondPositive)
	printStatus("Feedback examples", "%d (%d scored)", s.Examples.Feedback, s.Examples.FeedbackScored)
	printStatus("Responses", "%d in %d categories", s.Responses, s.Categories)

	gateState := "untrained"
	if s.GateTrained {
		gateState = fmt.Sprintf("trained, threshold %.2f", s.Threshold)
	}
	if s.Observation {
		gateState += ", observation mode"
	}
	printStatus("Gate", "%s", gateState)

	if s.LastTrain != nil {
		if s.LastTrain.Skipped {
			printStatus("Last training", "skipped: %s", s.LastTrain.Reason)
		} else {
			printStatus("Last training", "ratio %.2f, drift %.4f", s.LastTrain.Ratio, s.LastTrain.Drift)
		}
	}
}

// --- reload ---

var reloadCmd = &cobra.Command{
	Use:       "reload [catalog|gate|all]",
	Short:     "Reload the catalog or gate from disk",
	Args:      cobra.MaximumNArgs(1),
	ValidArgs: []string{pipeline.ComponentCatalog, pipeline.ComponentGate, pipeline.ComponentAll},
	RunE: func(cmd *cobra.Command, args []string) error {
		component := pipeline.ComponentAll
		if len(args) == 1 {
			component = args[0]
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		if err := reload(cmd.Context(), client, component); err != nil {
			return err
		}
		printSuccess("Reloaded %s", component)
		return nil
	},
}

func reload(ctx context.Context, c *apiClient, component string) error {
	resp, err := c.post(ctx, "/reload/"+component, nil)
	if err != nil {
		return err
	}
	return decodeJSON(resp, nil)
}

// --- catalog ---

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Inspect or extend the response catalog",
}

var catalogListCmd = &cobra.Command{
	Use:   "list",
	Short: "List categories",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		cats, err := listCategories(cmd.Context(), client)
		if err != nil {
			return err
		}
		if len(cats) == 0 {
			fmt.Println("No categories.")
			return nil
		}
		for _, c := range cats {
			fmt.Printf("%s  %d responses  %s\n",
				colorize(colorCyan, c.Name),
				c.Count,
				c.ExamplePreview(),
			)
		}
		return nil
	},
}

var catalogAddCmd = &cobra.Command{
	Use:   "add <category> <text>",
	Short: "Add a response to an existing category",
	Long: `Add a response to an existing category. The response is embedded from
--example when given, otherwise from its own text.

Examples:
  ocky catalog add greeting "hey hey"
  ocky catalog add farewell "later!" --example "gotta go"`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		example, _ := cmd.Flags().GetString("example")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		res, err := addResponse(cmd.Context(), client, api.AddResponseRequest{
			Category:     args[0],
			Text:         args[1],
			ExampleInput: example,
		})
		if err != nil {
			return err
		}
		printSuccess("Added %s", res.ID)
		return nil
	},
}

func init() {
	catalogAddCmd.Flags().String("example", "", "example input the response answers")
	catalogCmd.AddCommand(catalogListCmd)
	catalogCmd.AddCommand(catalogAddCmd)
}

func listCategories(ctx context.Context, c *apiClient) ([]catalog.CategoryInfo, error) {
	resp, err := c.get(ctx, "/categories")
	if err != nil {
		return nil, err
	}
	var cats []catalog.CategoryInfo
	if err := decodeJSON(resp, &cats); err != nil {
		return nil, err
	}
	return cats, nil
}

func addResponse(ctx context.Context, c *apiClient, req api.AddResponseRequest) (api.AddResponseResult, error) {
	resp, err := c.post(ctx, "/responses", req)
	if err != nil {
		return api.AddResponseResult{}, err
	}
	var res api.AddResponseResult
	if err := decodeJSON(resp, &res); err != nil {
		return api.AddResponseResult{}, err
	}
	return res, nil
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

		for _, k := range config.ShowAll(cfg) {
			val := k.Value
			if k.Changed() {
				val = colorize(colorYellow, val) + " (default " + k.Default + ")"
			}
			fmt.Printf("  %s = %s  %s\n", colorize(colorBold, k.Key), val, colorize(colorCyan, "$"+k.EnvVar))
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:               "set <key> <value>",
	Short:             "Set a configuration value",
	Args:              cobra.ExactArgs(2),
	ValidArgsFunction: completeConfigKey,
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

var configUnsetCmd = &cobra.Command{
	Use:               "unset <key>",
	Short:             "Reset a configuration value to its default",
	Args:              cobra.ExactArgs(1),
	ValidArgsFunction: completeConfigKey,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.UnsetKey(args[0]); err != nil {
			return err
		}
		printSuccess("Unset %s", args[0])
		return nil
	},
}

func completeConfigKey(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	if len(args) != 0 {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	return config.ValidKeys(), cobra.ShellCompDirectiveNoFileComp
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configUnsetCmd)
}
