package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"decisiond/internal/audit"
	"decisiond/internal/config"
	"decisiond/internal/store"
)

func newVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Verify every audit hash chain",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerify(cmd.Context())
		},
	}
}

func runVerify(ctx context.Context) error {
	cfg := config.FromEnv()

	db, err := store.Open(cfg.DB)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	log := audit.NewLog(db)
	caseIDs, err := log.CaseIDs(ctx)
	if err != nil {
		return err
	}

	broken := 0
	for _, caseID := range caseIDs {
		status, err := log.VerifyCase(ctx, caseID)
		if err != nil {
			return err
		}
		if status.Valid {
			fmt.Printf("ok   %s  events=%d\n", caseID, status.TotalEvents)
			continue
		}
		broken++
		fmt.Printf("FAIL %s  events=%d broken_at=%d %s\n",
			caseID, status.TotalEvents, status.BrokenAt, status.Error)
	}

	fmt.Printf("verified %d chains, %d broken\n", len(caseIDs), broken)
	if broken > 0 {
		return fmt.Errorf("%d audit chains failed verification", broken)
	}
	return nil
}
