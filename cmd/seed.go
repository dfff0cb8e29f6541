/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"fmt"
	"os"

	"github.com/bizzylink/apiserver/config"
	"github.com/bizzylink/apiserver/internal/db"
	"github.com/bizzylink/apiserver/internal/services"
	"github.com/bizzylink/apiserver/internal/store"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

var seedCategoriesFile string

// seedCmd groups the data seeding commands.
var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed reference data",
}

var seedCategoriesCmd = &cobra.Command{
	Use:   "categories",
	Short: "Upsert forum categories from a YAML file, keyed by slug",
	Long: `Upsert forum categories from a YAML file. Usage:

	bizzylink seed categories --file internal/db/seeds/categories.yaml
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		seeds, err := loadCategorySeeds(seedCategoriesFile)
		if err != nil {
			return err
		}

		cfg := config.LoadConfig()
		logger, err := newLogger(cfg)
		if err != nil {
			return fmt.Errorf("init logger: %w", err)
		}
		defer func() { _ = logger.Sync() }()

		dbConn, err := db.Open(cmd.Context(), cfg)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer dbConn.Close()

		forum := services.NewForumService(store.NewForumRepository(dbConn), store.NewUserRepository(dbConn), nil, nil, logger)
		for _, seed := range seeds {
			category, err := forum.UpsertCategory(cmd.Context(), seed)
			if err != nil {
				return fmt.Errorf("seed category %q: %w", seed.Name, err)
			}
			logger.Info("category seeded", zap.Int("id", category.ID), zap.String("slug", category.Slug))
		}
		fmt.Fprintf(cmd.OutOrStdout(), "seeded %d categories\n", len(seeds))
		return nil
	},
}

// categorySeedFile is the YAML layout read by seed categories.
type categorySeedFile struct {
	Categories []services.CategoryInput `yaml:"categories"`
}

func loadCategorySeeds(path string) ([]services.CategoryInput, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var file categorySeedFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if len(file.Categories) == 0 {
		return nil, fmt.Errorf("%s defines no categories", path)
	}
	return file.Categories, nil
}

func init() {
	rootCmd.AddCommand(seedCmd)
	seedCmd.AddCommand(seedCategoriesCmd)
	seedCategoriesCmd.Flags().StringVar(&seedCategoriesFile, "file", "internal/db/seeds/categories.yaml", "YAML file with a categories list")
}
