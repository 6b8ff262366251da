package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/loomchat/loom/internal/config"
	"github.com/loomchat/loom/internal/provider"
)

var (
	cfgFile      string
	modelFlag    string
	providerFlag string

	// Package-level version info, set by Execute().
	appVersion string
	appCommit  string
	appDate    string
)

// Execute is the main entry point called from main.go.
func Execute(version, commit, date string) {
	appVersion = version
	appCommit = commit
	appDate = date

	rootCmd := &cobra.Command{
		Use:   "loom",
		Short: "Conversational session engine with branching and time travel",
		Long: "loom is an interactive chat client built on a branching conversation\n" +
			"engine: fork the conversation from any message, merge branches back,\n" +
			"track the token budget, and summarize old history in place.",
		// Running loom with no subcommand starts chat mode.
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat()
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path (default ~/.config/loom/config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&modelFlag, "model", "m", "", "override model")
	rootCmd.PersistentFlags().StringVarP(&providerFlag, "provider", "p", "", "override provider")

	rootCmd.AddCommand(newVersionCmd(version, commit, date))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newVersionCmd(version, commit, date string) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("loom %s (commit %s, built %s)\n", version, commit, date)
		},
	}
}

// initConfig loads configuration, applying CLI flag overrides.
func initConfig() *config.Config {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	if providerFlag != "" {
		cfg.Provider = providerFlag
	}
	if modelFlag != "" {
		cfg.Model = modelFlag
	}

	return cfg
}

// buildProvider creates a Provider instance based on configuration.
func buildProvider(cfg *config.Config) (provider.Provider, error) {
	name := cfg.Provider
	pc := cfg.GetProviderConfig(name)

	apiKey := pc.APIKey
	if apiKey == "" {
		return nil, fmt.Errorf(
			"API key not configured for provider %q.\n"+
				"Set it via:\n"+
				"  - config file: providers.%s.api_key\n"+
				"  - environment: LLM_API_KEY",
			name, name,
		)
	}

	// Model priority: CLI flag / config > per-provider config > known default.
	model := cfg.Model
	if model == "" {
		model = pc.Model
	}
	if model == "" {
		model = config.KnownProviderModels[name]
	}

	if name == "anthropic" {
		return provider.NewAnthropicProvider(apiKey, model), nil
	}

	// All other providers use the OpenAI-compatible API.
	baseURL := pc.BaseURL
	if baseURL == "" {
		if u, ok := config.KnownProviderBaseURLs[name]; ok {
			baseURL = u
		} else {
			return nil, fmt.Errorf("unknown provider %q; set providers.%s.base_url in config", name, name)
		}
	}
	return provider.NewOpenAIProvider(apiKey, baseURL, model), nil
}
