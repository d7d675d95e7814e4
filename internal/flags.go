package internal

import (
	"fmt"

	"github.com/spf13/cobra"
)

// AddGenerationFlags adds flags shared by commands that run the pipeline
func AddGenerationFlags(cmd *cobra.Command) {
	cmd.Flags().String("lang", "", "Preferred caption language code")
	cmd.Flags().String("plan", "", "Plan tier to generate under (free, pro, premium)")
	cmd.Flags().String("chapters-model", "", "Override the chapter planning model")
	cmd.Flags().String("writer-model", "", "Override the writing model")
	cmd.Flags().String("feedback-model", "", "Override the review model")
}

// HandleGenerationFlags applies generation flags to the config
func HandleGenerationFlags(cmd *cobra.Command, config *Config) error {
	if lang, _ := cmd.Flags().GetString("lang"); lang != "" {
		config.Lang = lang
	}
	if plan, _ := cmd.Flags().GetString("plan"); plan != "" {
		switch Plan(plan) {
		case PlanFree, PlanPro, PlanPremium:
			config.Plan = Plan(plan)
		default:
			return fmt.Errorf("unknown plan %q (expected free, pro or premium)", plan)
		}
	}
	if model, _ := cmd.Flags().GetString("chapters-model"); model != "" {
		config.ChaptersModel = model
	}
	if model, _ := cmd.Flags().GetString("writer-model"); model != "" {
		config.WriterModel = model
	}
	if model, _ := cmd.Flags().GetString("feedback-model"); model != "" {
		config.FeedbackModel = model
	}
	return nil
}

// HandleVerboseFlag processes the --verbose flag to update config
func HandleVerboseFlag(cmd *cobra.Command, config *Config) error {
	verbose, err := cmd.Flags().GetBool("verbose")
	if err != nil {
		return fmt.Errorf("failed to get verbose flag: %w", err)
	}
	config.Verbose = verbose
	return nil
}

// ValidateGenerationRequirements validates the OpenRouter API key before any
// command that talks to models.
func ValidateGenerationRequirements(config *Config) error {
	return ValidateAPIKey(config.OpenRouterAPIKey)
}
