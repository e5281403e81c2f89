package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/pixmind/internal/config"
	"github.com/MarkoPoloResearchLab/pixmind/internal/database"
	"github.com/MarkoPoloResearchLab/pixmind/internal/store/gormstore"
	"github.com/MarkoPoloResearchLab/pixmind/pkg/credits"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const (
	flagUser              = "user"
	flagPoints            = "points"
	flagReason            = "reason"
	businessNoAdminPrefix = "admin:"
)

func newMigrateCommand(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(cfg.DatabaseURL) == "" {
				return fmt.Errorf("database url is required")
			}
			handle, err := database.Open(cmd.Context(), cfg.DatabaseURL)
			if err != nil {
				return fmt.Errorf("database open: %w", err)
			}
			defer func() { _ = handle.Close() }()
			if err := database.Migrate(handle); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "migrated %s database\n", handle.Driver)
			return nil
		},
	}
}

type grantOptions struct {
	user   string
	points int64
	reason string
}

func newGrantCommand(cfg *config.Config) *cobra.Command {
	options := &grantOptions{}
	cmd := &cobra.Command{
		Use:   "grant",
		Short: "Adjust a user's credit balance",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(cfg.DatabaseURL) == "" {
				return fmt.Errorf("database url is required")
			}
			logger, err := zap.NewProduction()
			if err != nil {
				return fmt.Errorf("logger init: %w", err)
			}
			defer func() { _ = logger.Sync() }()

			userUUID, err := credits.NewUserUUID(options.user)
			if err != nil {
				return err
			}
			delta, err := credits.NewPointsDelta(options.points)
			if err != nil {
				return err
			}
			businessNo, err := credits.NewBusinessNo(businessNoAdminPrefix + uuid.NewString())
			if err != nil {
				return err
			}
			encoded, err := json.Marshal(map[string]string{"reason": options.reason})
			if err != nil {
				return err
			}
			metadata, err := credits.NewMetadataJSON(string(encoded))
			if err != nil {
				return err
			}

			handle, err := database.Open(cmd.Context(), cfg.DatabaseURL)
			if err != nil {
				return fmt.Errorf("database open: %w", err)
			}
			defer func() { _ = handle.Close() }()
			service, err := credits.NewService(gormstore.New(handle.DB), func() int64 { return time.Now().UTC().Unix() })
			if err != nil {
				return err
			}
			entry, err := service.Adjust(cmd.Context(), userUUID, delta, businessNo, metadata)
			if err != nil {
				return err
			}
			logger.Info("credits adjusted",
				zap.String("user_uuid", userUUID.String()),
				zap.Int64("delta", entry.Delta.Int64()),
				zap.Int64("balance", entry.BalanceAfter.Int64()),
				zap.String("business_no", businessNo.String()))
			fmt.Fprintf(cmd.OutOrStdout(), "balance for %s is now %d\n", userUUID.String(), entry.BalanceAfter.Int64())
			return nil
		},
	}
	cmd.Flags().StringVar(&options.user, flagUser, "", "user uuid")
	cmd.Flags().Int64Var(&options.points, flagPoints, 0, "points to add (negative to deduct)")
	cmd.Flags().StringVar(&options.reason, flagReason, "", "reason recorded in the entry metadata")
	_ = cmd.MarkFlagRequired(flagUser)
	_ = cmd.MarkFlagRequired(flagPoints)
	return cmd
}
