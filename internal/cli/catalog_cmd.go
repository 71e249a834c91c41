package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/Arize-ai/chat-to-purchase-router-agent/internal/catalog"
	"github.com/Arize-ai/chat-to-purchase-router-agent/internal/config"
	"github.com/spf13/cobra"
)

func newCatalogCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Manage and query the product catalog",
	}

	cmd.AddCommand(newCatalogSeedCmd())
	cmd.AddCommand(newCatalogSearchCmd())

	return cmd
}

func newCatalogSeedCmd() *cobra.Command {
	var (
		file  string
		force bool
	)

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load products from a JSON cache file",
		Long: `Load products from a JSON cache file.

The file maps image filenames to product records:

  {"shoe-a.png": {"name": "Shoe A", "description": "...", "price": 79.99,
                  "rating": 4.5, "category": "athletic shoes"}}`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			products, err := catalog.LoadSeedFile(file)
			if err != nil {
				return err
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := context.Background()
			a, err := openCatalog(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer a.Close()

			n, err := a.products.Seed(ctx, products, force)
			if err != nil {
				return err
			}
			fmt.Printf("Seeded %d products into the %s catalog.\n", n, cfg.Catalog.Driver)
			return nil
		},
	}

	cmd.Flags().StringVar(&file, "file", "", "product cache JSON file")
	cmd.Flags().BoolVar(&force, "force", false, "replace existing products")
	cmd.MarkFlagRequired("file")
	return cmd
}

func newCatalogSearchCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Translate a request into a filter and list the matching products",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := context.Background()
			a, err := openCatalog(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer a.Close()

			categories := cfg.Catalog.Categories
			if len(categories) == 0 {
				categories = config.DefaultCategories
			}
			tr := catalog.NewTranslator(a.products, nil, catalog.TranslatorOptions{
				Categories: categories,
				Limits:     catalog.Limits{Default: cfg.Catalog.DefaultLimit, Max: cfg.Catalog.MaxLimit},
			}, log)

			res, err := tr.Translate(ctx, strings.Join(args, " "), nil, nil)
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(map[string]any{
					"filter":   res.Spec,
					"products": res.Candidates,
					"total":    res.Total,
				})
			}

			spec, err := json.Marshal(res.Spec)
			if err != nil {
				return err
			}
			fmt.Printf("Filter: %s\n", spec)
			fmt.Printf("Showing %d of %d match(es)\n\n", len(res.Candidates), res.Total)

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tPRICE\tRATING\tCATEGORY")
			for _, p := range res.Candidates {
				fmt.Fprintf(w, "%d\t%s\t$%.2f\t%.1f\t%s\n", p.ID, p.Name, p.Price, p.Rating, p.Category)
			}
			return w.Flush()
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print the filter and matches as JSON")
	return cmd
}
