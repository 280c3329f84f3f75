package main

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/adamstosho/GroChain-sub000/internal/model"
	"github.com/adamstosho/GroChain-sub000/internal/tier"
)

func tiersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tiers",
		Short: "Manage commission tiers",
	}
	cmd.AddCommand(tiersListCmd())
	cmd.AddCommand(tiersSetCmd())
	return cmd
}

func tiersListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List commission tiers",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			tiers, err := a.Store.ListCommissionTiers(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd, tiers)
		},
	}
}

func tiersSetCmd() *cobra.Command {
	var (
		id        string
		name      string
		minTx     int
		maxTx     int
		rate      string
		inactive  bool
		effective string
		expiry    string
	)
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Create or update a commission tier",
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := decimal.NewFromString(rate)
			if err != nil {
				return fmt.Errorf("--rate: %w", err)
			}
			t := model.CommissionTier{
				ID:              id,
				Name:            name,
				MinTransactions: minTx,
				CommissionRate:  r,
				Status:          tier.StatusActive,
				EffectiveDate:   time.Now().UTC(),
			}
			if t.ID == "" {
				t.ID = uuid.New().String()
			}
			if inactive {
				t.Status = "inactive"
			}
			if maxTx > 0 {
				t.MaxTransactions = &maxTx
			}
			if effective != "" {
				if t.EffectiveDate, err = parseDate(effective); err != nil {
					return fmt.Errorf("--effective: %w", err)
				}
			}
			if expiry != "" {
				exp, err := parseDate(expiry)
				if err != nil {
					return fmt.Errorf("--expiry: %w", err)
				}
				t.ExpiryDate = &exp
			}
			if err := tier.Validate(t); err != nil {
				return err
			}

			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.Store.UpsertCommissionTier(cmd.Context(), &t); err != nil {
				return err
			}
			return printJSON(cmd, t)
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "tier id (default: new)")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().IntVar(&minTx, "min", 0, "minimum completed commissions, inclusive")
	cmd.Flags().IntVar(&maxTx, "max", 0, "maximum completed commissions, exclusive (0 = unbounded)")
	cmd.Flags().StringVar(&rate, "rate", "", "commission rate, e.g. 0.07")
	cmd.Flags().BoolVar(&inactive, "inactive", false, "create the tier inactive")
	cmd.Flags().StringVar(&effective, "effective", "", "effective date (YYYY-MM-DD, default now)")
	cmd.Flags().StringVar(&expiry, "expiry", "", "expiry date, exclusive (YYYY-MM-DD)")
	cmd.MarkFlagRequired("rate")
	return cmd
}
