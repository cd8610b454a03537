package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	exportGuild string
	exportOut   string

	clearGuild string
	clearYes   bool
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Print a guild's streak record and ledger as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.ValidateStore(); err != nil {
			return err
		}
		guildID := guildOrDefault(exportGuild)
		if guildID == "" {
			return fmt.Errorf("no guild given (use --guild or set STREAK_GUILD_ID)")
		}

		svc, st, err := openService(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close()

		data, err := svc.Export(cmd.Context(), guildID)
		if err != nil {
			return err
		}
		if exportOut == "" || exportOut == "-" {
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return err
		}
		if err := os.WriteFile(exportOut, data, 0o644); err != nil {
			return fmt.Errorf("failed to write export: %w", err)
		}
		logger.Info("export written", zap.String("guild_id", guildID), zap.String("path", exportOut))
		return nil
	},
}

var clearLedgerCmd = &cobra.Command{
	Use:   "clear-ledger",
	Short: "Remove every contribution for a guild",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.ValidateStore(); err != nil {
			return err
		}
		guildID := guildOrDefault(clearGuild)
		if guildID == "" {
			return fmt.Errorf("no guild given (use --guild or set STREAK_GUILD_ID)")
		}
		if !clearYes {
			return fmt.Errorf("refusing to clear the ledger for %s without --yes", guildID)
		}

		_, st, err := openService(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.ClearLedger(cmd.Context(), guildID); err != nil {
			return fmt.Errorf("failed to clear ledger: %w", err)
		}
		logger.Info("ledger cleared", zap.String("guild_id", guildID))
		fmt.Fprintf(cmd.OutOrStdout(), "Ledger for %s cleared.\n", guildID)
		return nil
	},
}

func guildOrDefault(flag string) string {
	if flag != "" {
		return flag
	}
	return cfg.Discord.GuildID
}

func init() {
	exportCmd.Flags().StringVarP(&exportGuild, "guild", "g", "", "Guild id (defaults to STREAK_GUILD_ID)")
	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "", "Write to this file instead of stdout")

	clearLedgerCmd.Flags().StringVarP(&clearGuild, "guild", "g", "", "Guild id (defaults to STREAK_GUILD_ID)")
	clearLedgerCmd.Flags().BoolVar(&clearYes, "yes", false, "Confirm the ledger should be cleared")
}
