package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vid2md/vid2md/internal"
)

// articlesCmd lists stored articles.
var articlesCmd = &cobra.Command{
	Use:   "articles",
	Short: "List stored articles",
	Example: `  # List all locally generated articles
  vid2md articles`,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := internal.NewApp(config)
		if err != nil {
			return err
		}
		defer app.Close()

		articles, err := app.Store().ListArticles(cmd.Context(), "local")
		if err != nil {
			return fmt.Errorf("listing articles: %w", err)
		}

		if len(articles) == 0 {
			fmt.Println("No articles yet. Generate one with: vid2md <YouTube URL>")
			return nil
		}

		for _, a := range articles {
			fmt.Printf("%s  %-8s  %s  %s\n", a.CreatedAt.Format("2006-01-02 15:04"), a.Status, a.ID, a.Title)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(articlesCmd)
}
