package cmd

import (
	"fmt"

	"github.com/atotto/clipboard"
	"github.com/spf13/cobra"

	"github.com/vid2md/vid2md/internal"
)

// cpCmd copies a stored article's markdown to the system clipboard.
var cpCmd = &cobra.Command{
	Use:   "cp [article ID]",
	Short: "Copy a stored article's markdown to the clipboard",
	Example: `  # Copy the most recently completed article
  vid2md cp

  # Copy a specific article by id
  vid2md cp 9b2f6c1e-...-d41d`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := internal.NewApp(config)
		if err != nil {
			return err
		}
		defer app.Close()

		var article *internal.ArticleRecord
		if len(args) == 1 {
			article, err = app.Store().GetArticle(cmd.Context(), args[0])
		} else {
			article, err = app.Store().LatestComplete(cmd.Context(), "local")
		}
		if err != nil {
			return fmt.Errorf("loading article: %w", err)
		}

		if article.Markdown == "" {
			return fmt.Errorf("article %s has no markdown yet (status: %s)", article.ID, article.Status)
		}

		if err := clipboard.WriteAll(article.Markdown); err != nil {
			return fmt.Errorf("copying article to clipboard: %w", err)
		}

		if !config.Quiet {
			fmt.Printf("Copied %q to clipboard\n", article.Title)
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(cpCmd)
}
