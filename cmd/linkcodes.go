/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"fmt"

	"github.com/bizzylink/apiserver/config"
	"github.com/bizzylink/apiserver/internal/db"
	"github.com/bizzylink/apiserver/internal/services"
	"github.com/bizzylink/apiserver/internal/store"
	"github.com/spf13/cobra"
)

// linkcodesCmd groups link code maintenance commands.
var linkcodesCmd = &cobra.Command{
	Use:   "linkcodes",
	Short: "Manage Minecraft link codes",
}

var linkcodesCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete expired link codes once and report the count",
	RunE: func(cmd *cobra.Command, args []string) error {
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

		linking := services.NewLinkingService(
			store.NewLinkRepository(dbConn),
			store.NewUserRepository(dbConn),
			nil, nil, nil, nil,
			services.LinkConfig{CodeTTL: cfg.Link.CodeTTL},
			logger,
		)
		removed, err := linking.CleanupExpired(cmd.Context())
		if err != nil {
			return fmt.Errorf("cleanup link codes: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "removed %d expired link codes\n", removed)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(linkcodesCmd)
	linkcodesCmd.AddCommand(linkcodesCleanupCmd)
}
