// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package main

import (
	"fmt"
	"os"
	"sort"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/teradata-labs/weft/internal/log"
	"github.com/teradata-labs/weft/internal/version"
	"github.com/teradata-labs/weft/pkg/config"
	"github.com/teradata-labs/weft/pkg/llm"
	"github.com/teradata-labs/weft/pkg/llm/anthropic"
	"github.com/teradata-labs/weft/pkg/llm/mock"
	"github.com/teradata-labs/weft/pkg/orchestration"
	"github.com/teradata-labs/weft/pkg/plugins"
	"github.com/teradata-labs/weft/pkg/prompts"
	"github.com/teradata-labs/weft/pkg/sinks"
)

var rootCmd = &cobra.Command{
	Use:   "weft",
	Short: "Weft - LLM cycle suite runner",
	Long: `Weft runs suites of LLM processing cycles: it merges layered
configuration, compiles prompts, dispatches rows through the retrying
executor and routes the results through the sink artifact pipeline.`,
	Version:      version.Get(),
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		log.Init(viper.GetBool("verbose"))
	},
}

var runCmd = &cobra.Command{
	Use:   "run <suite.yaml>",
	Short: "Run every cycle in a suite",
	Args:  cobra.ExactArgs(1),
	RunE:  runSuite,
}

var validateCmd = &cobra.Command{
	Use:   "validate <suite.yaml>",
	Short: "Check a suite file without calling any LLM",
	Args:  cobra.ExactArgs(1),
	RunE:  validateSuite,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the weft version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "weft %s\n", version.Get())
	},
}

func init() {
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().String("profile", "", "YAML overlay merged between the prompt pack and suite defaults")

	runCmd.Flags().String("output", "results", "Directory for default sink output")
	runCmd.Flags().Bool("dry-run", false, "Use a mock LLM client instead of the provider")
	runCmd.Flags().String("mock-response", "dry run response", "Response content used with --dry-run")
	runCmd.Flags().String("model", "", "Override the provider model")
	runCmd.Flags().String("encoding", "cl100k_base", "tiktoken encoding for token estimates")

	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
	_ = viper.BindPFlag("output", runCmd.Flags().Lookup("output"))
	_ = viper.BindPFlag("model", runCmd.Flags().Lookup("model"))
	viper.SetEnvPrefix("WEFT")
	viper.AutomaticEnv()

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRegistry() *plugins.Registry {
	registry := plugins.NewDefaultRegistry()
	sinks.Register(registry)
	return registry
}

func loadProfile(cmd *cobra.Command) (map[string]interface{}, error) {
	path, _ := cmd.Flags().GetString("profile")
	if path == "" {
		return nil, nil
	}
	return config.LoadProfile(path)
}

func runSuite(cmd *cobra.Command, args []string) error {
	suite, err := config.LoadSuite(args[0])
	if err != nil {
		return err
	}
	profile, err := loadProfile(cmd)
	if err != nil {
		return err
	}

	runID := uuid.NewString()
	log.Info("starting suite run",
		zap.String("suite", suite.Name),
		zap.String("strategy", suite.Strategy),
		zap.String("run_id", runID),
		zap.Int("cycles", len(suite.Cycles)))

	var client llm.Client
	if dryRun, _ := cmd.Flags().GetBool("dry-run"); dryRun {
		content, _ := cmd.Flags().GetString("mock-response")
		client = mock.New(content)
	} else {
		client = anthropic.NewClient(anthropic.Config{Model: viper.GetString("model")})
	}

	var estimator *llm.TokenEstimator
	if encoding, _ := cmd.Flags().GetString("encoding"); encoding != "" {
		estimator, err = llm.NewTokenEstimator(encoding)
		if err != nil {
			log.Warn("token estimation disabled", zap.Error(err))
		}
	}

	orchestrator, err := orchestration.New(suite, orchestration.Options{
		Registry:       newRegistry(),
		Client:         client,
		SystemDefaults: map[string]interface{}{"metadata": map[string]interface{}{"run_id": runID}},
		Profile:        profile,
		OutputDir:      viper.GetString("output"),
		Estimator:      estimator,
	})
	if err != nil {
		return err
	}

	results, err := orchestrator.Run(cmd.Context())
	if err != nil {
		return err
	}

	names := make([]string, 0, len(results))
	for name := range results {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		result := results[name]
		log.Info("cycle complete",
			zap.String("cycle", name),
			zap.Int("rows", len(result.Payload.Results)),
			zap.Int("failures", len(result.Payload.Failures)))
		if len(result.BaselineComparison) > 0 {
			log.Info("baseline comparison",
				zap.String("cycle", name),
				zap.Any("comparisons", result.BaselineComparison))
		}
	}
	return nil
}

// validateSuite builds every cycle's effective config and prompt set without
// touching a datasource or provider.
func validateSuite(cmd *cobra.Command, args []string) error {
	suite, err := config.LoadSuite(args[0])
	if err != nil {
		return err
	}
	profile, err := loadProfile(cmd)
	if err != nil {
		return err
	}
	for _, spec := range suite.Cycles {
		cfg, _, err := config.EffectiveCycle(suite, spec, nil, profile)
		if err != nil {
			return err
		}
		if _, err := prompts.CompileCycle(cfg.Name, cfg.Prompts); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "cycle %q ok\n", cfg.Name)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "suite %q ok (%d cycles)\n", suite.Name, len(suite.Cycles))
	return nil
}
