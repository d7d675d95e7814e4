package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/vid2md/vid2md/internal"
)

func isTerminal(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

var (
	config *internal.Config
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "vid2md [YouTube URL or ID]",
	Short: "Turn YouTube videos into SEO blog articles",
	Long: `vid2md turns a YouTube video into a polished, SEO-optimized blog article.

It fetches the video's captions, plans a chapter outline with an LLM,
writes each section from the matching part of the transcript, has a second
model critique the draft, and rewrites the article applying the feedback.

The finished article is stored locally and printed as Markdown.`,
	Example: `  # Generate an article from a YouTube video
  vid2md "https://www.youtube.com/watch?v=tAP1eZYEuKA"
  vid2md tAP1eZYEuKA

  # Write the article to a file instead of rendering it
  vid2md tAP1eZYEuKA -o article.md

  # Generate under a different plan's model routing
  vid2md tAP1eZYEuKA --plan premium`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return internal.HandleVerboseFlag(cmd, config)
	},
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := internal.ValidateGenerationRequirements(config); err != nil {
			return err
		}
		if err := internal.HandleGenerationFlags(cmd, config); err != nil {
			return err
		}

		// Validate argument before processing
		arg := args[0]
		if internal.IsLikelyCommand(arg) {
			availableCommands := []string{"serve", "mcp", "cp", "articles", "version", "paths", "help"}
			var suggestions []string
			for _, cmdName := range availableCommands {
				if strings.Contains(cmdName, arg) || (len(arg) <= len(cmdName) && strings.Contains(arg, cmdName[:len(arg)])) {
					suggestions = append(suggestions, cmdName)
				}
			}

			if len(suggestions) > 0 {
				return fmt.Errorf("'%s' doesn't look like a YouTube URL or video ID. Did you mean: %s?", arg, strings.Join(suggestions, ", "))
			}
			return fmt.Errorf("'%s' doesn't look like a YouTube URL or video ID. Use --help to see available commands", arg)
		}

		app, err := internal.NewApp(config)
		if err != nil {
			return err
		}
		defer app.Close()

		article, err := app.GenerateArticle(cmd.Context(), arg)
		if err != nil {
			return err
		}

		return outputArticle(cmd, article)
	},
}

// outputArticle writes the finished article to a file, a pipe, or the
// terminal depending on flags and where stdout points.
func outputArticle(cmd *cobra.Command, article *internal.ArticleRecord) error {
	if outPath, _ := cmd.Flags().GetString("output"); outPath != "" {
		if err := os.WriteFile(outPath, []byte(article.Markdown), 0644); err != nil {
			return fmt.Errorf("writing article: %w", err)
		}
		if !config.Quiet {
			fmt.Printf("Article written to %s\n", outPath)
		}
		return nil
	}

	noRender, _ := cmd.Flags().GetBool("no-render")
	if noRender || !isTerminal(os.Stdout) {
		fmt.Println(article.Markdown)
		return nil
	}

	rendered, err := internal.RenderMarkdown(article.Markdown)
	if err != nil {
		// Fall back to raw markdown when the terminal renderer chokes.
		fmt.Println(article.Markdown)
		return nil
	}
	fmt.Println(rendered)
	return nil
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	// Initialize configuration with Viper
	config = internal.InitConfig()

	// Ensure XDG directories exist
	if err := internal.EnsureDirs(config.ConfigDir, config.DataDir, config.CacheDir); err != nil {
		fmt.Fprintf(os.Stderr, "Error creating XDG directories: %v\n", err)
		os.Exit(1)
	}

	// Ensure default config exists in XDG config directory
	if err := internal.EnsureDefaultConfig(config.ConfigDir); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Failed to ensure default config: %v\n", err)
	}

	// Cancel the command context on interrupt so in-flight work can stop
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SetContext(ctx)

	return rootCmd.Execute()
}

func init() {
	internal.AddGenerationFlags(rootCmd)
	rootCmd.Flags().StringP("output", "o", "", "Write the article markdown to a file")
	rootCmd.Flags().Bool("no-render", false, "Print raw markdown instead of rendering to the terminal")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose output for debugging")
	rootCmd.PersistentFlags().String("config", "", "Config file (default is $XDG_CONFIG_HOME/vid2md/config.toml)")
	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
}
