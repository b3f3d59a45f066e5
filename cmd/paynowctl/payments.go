package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"taxi/internal/app"
	"taxi/internal/repository"
	"taxi/internal/repository/postgres"
	"taxi/internal/service"
)

func findReferenceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "find-reference [reference...]",
		Short: "Resolve references to a payment and print it with its audit log",
		Long: `Resolve one or more references (local payment id, Paynow reference, or any
value that appears in a stored gateway payload) the same way the webhook does,
and print the payment, its booking and every audit entry.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _ := loadConfig()

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			db, err := app.NewDatabase(ctx, cfg.Database, nil)
			if err != nil {
				return err
			}
			defer db.Close()

			payments := postgres.NewPaymentRepository(db)
			payment, err := service.NewReferenceResolver(payments).Resolve(ctx, args)
			if err != nil {
				return err
			}
			if payment == nil {
				return fmt.Errorf("no payment matches %v", args)
			}

			booking, err := postgres.NewBookingRepository(db).GetByID(ctx, payment.BookingID)
			if err != nil && !errors.Is(err, repository.ErrNotFound) {
				return err
			}

			fmt.Fprint(cmd.OutOrStdout(), service.FormatPayment(payment, booking))
			return nil
		},
	}
}

func pollCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "poll [poll-url]",
		Short: "Poll a Paynow status URL and print the normalized result",
		Long: `Poll a Paynow status URL without touching the database. The argument may be
a full poll URL or a bare Paynow reference, which is turned into a
CheckPayment URL.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger := loadConfig()
			client := app.NewPaynowClient(cfg.Paynow, logger)

			target := args[0]
			if !looksLikeURL(target) {
				target = client.CheckPaymentURL(target)
			}

			ctx, cancel := context.WithTimeout(context.Background(), cfg.Paynow.PollTimeout+5*time.Second)
			defer cancel()

			res, err := client.PollStatus(ctx, target)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "URL:        %s\n", target)
			fmt.Fprintf(out, "Paid:       %t\n", res.Paid)
			fmt.Fprintf(out, "Status:     %s\n", res.Status)
			fmt.Fprintf(out, "Structured: %t\n", res.Structured)
			if res.Amount != nil {
				fmt.Fprintf(out, "Amount:     %s\n", res.Amount.StringFixed(2))
			}
			if res.ProviderReference != "" {
				fmt.Fprintf(out, "Reference:  %s\n", res.ProviderReference)
			}
			for k, v := range res.Raw {
				fmt.Fprintf(out, "  %s = %s\n", k, v)
			}
			return nil
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger := loadConfig()

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			db, err := app.NewDatabase(ctx, cfg.Database, nil)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := postgres.Migrate(ctx, db); err != nil {
				return err
			}
			logger.Info("schema applied")
			return nil
		},
	}
}

func looksLikeURL(s string) bool {
	return len(s) > 8 && (s[:7] == "http://" || s[:8] == "https://")
}
