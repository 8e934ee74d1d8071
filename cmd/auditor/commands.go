package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"auditai/internal/ml"
)

func newAuditCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "audit",
		Short: "Run one audit pass and print the report as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDeps(cmd.Context(), func(d *deps) error {
				report, err := d.auditor.Audit(cmd.Context())
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), report)
			})
		},
	}
}

func newTrainCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "train",
		Short: "Train the classifier on recorded feedback",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDeps(cmd.Context(), func(d *deps) error {
				result, err := d.classifier.Train(cmd.Context())
				if errors.Is(err, ml.ErrNoTrainingData) {
					return fmt.Errorf("%w: record feedback before training", err)
				}
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Model trained on %d feedback samples (classes: %v)\n",
					result.Samples, result.Classes)
				return nil
			})
		},
	}
}

func newPredictCmd() *cobra.Command {
	var id int64

	cmd := &cobra.Command{
		Use:   "predict",
		Short: "Classify a stored transaction with the trained model",
		RunE: func(cmd *cobra.Command, args []string) error {
			if id <= 0 {
				return errors.New("--id is required")
			}
			return withDeps(cmd.Context(), func(d *deps) error {
				prediction, err := d.classifier.PredictByID(cmd.Context(), id)
				if errors.Is(err, ml.ErrModelNotTrained) {
					return fmt.Errorf("%w: run `auditor train` first", err)
				}
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), prediction)
			})
		},
	}

	cmd.Flags().Int64Var(&id, "id", 0, "Transaction ID to classify")

	return cmd
}

func newRulesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Inspect the rule catalogs",
	}
	cmd.AddCommand(newRulesCheckCmd())
	return cmd
}

func newRulesCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Load every catalog and report rejected rules",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDeps(cmd.Context(), func(d *deps) error {
				cat, err := d.loader.Load(cmd.Context())
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				for _, src := range cat.Sources {
					fmt.Fprintf(out, "source   %s\n", src)
				}
				for _, rule := range cat.Rules {
					fmt.Fprintf(out, "ok       %-10s %-14s %s\n", rule.Code, rule.Parsed.Kind, rule.Condition)
				}
				for _, rej := range cat.Rejected {
					fmt.Fprintf(out, "rejected %s\n", rej.Error())
				}
				fmt.Fprintf(out, "\n%d rules loaded, %d rejected\n", len(cat.Rules), len(cat.Rejected))

				if len(cat.Rejected) > 0 {
					return fmt.Errorf("%d rules rejected", len(cat.Rejected))
				}
				return nil
			})
		},
	}
}

func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding output: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
