package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"decisiond/internal/auth"
	"decisiond/internal/config"
	"decisiond/internal/model"
	"decisiond/internal/policy"
	"decisiond/internal/store"
)

const bootstrapAdminEmail = "admin@example.com"

func newBootstrapCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "bootstrap",
		Short: "Create the default admin user and KYC policy if absent",
		Long: "Bootstrap is idempotent: it creates the default administrative " +
			"user and installs the built-in KYC policy only when missing, and " +
			"leaves existing data untouched.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBootstrap(cmd.Context())
		},
	}
}

func runBootstrap(ctx context.Context) error {
	cfg := config.FromEnv()
	logger := slog.Default()

	db, err := store.Open(cfg.DB)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	if err := bootstrapAdmin(ctx, db, logger); err != nil {
		return err
	}
	return bootstrapPolicy(ctx, db, logger)
}

func bootstrapAdmin(ctx context.Context, db *store.DB, logger *slog.Logger) error {
	_, err := db.GetUserByEmail(ctx, bootstrapAdminEmail)
	if err == nil {
		logger.Info("admin user already present", "email", bootstrapAdminEmail)
		return nil
	}
	if !store.IsNotFound(err) {
		return err
	}

	password := os.Getenv("DECISIOND_ADMIN_PASSWORD")
	if password == "" {
		password = "admin123"
		logger.Warn("bootstrapping admin with the default password, change it",
			"email", bootstrapAdminEmail)
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}
	u := model.User{
		UserID:       "usr_" + uuid.NewString()[:12],
		Email:        bootstrapAdminEmail,
		FullName:     "Platform Administrator",
		Role:         "admin",
		PasswordHash: hash,
		Active:       true,
		CreatedAt:    time.Now().UTC(),
	}
	if err := db.CreateUser(ctx, &u); err != nil {
		return err
	}
	logger.Info("admin user created", "email", u.Email, "user_id", u.UserID)
	return nil
}

func bootstrapPolicy(ctx context.Context, db *store.DB, logger *slog.Logger) error {
	policies := policy.NewStore(db, nil, logger)
	if p, err := policies.GetActive(ctx, "kyc"); err == nil {
		logger.Info("kyc vertical already has an active policy", "policy_id", p.PolicyID)
		return nil
	} else if !policy.IsNoActivePolicy(err) {
		return err
	}

	p := policy.DefaultKYCPolicy()
	if err := policies.Save(ctx, p); err != nil {
		return err
	}
	logger.Info("default kyc policy installed", "policy_id", p.PolicyID)
	return nil
}
