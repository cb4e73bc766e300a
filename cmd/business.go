package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/listify/reviewsync/internal/model"
)

var businessCmd = &cobra.Command{
	Use:   "business",
	Short: "Manage directory businesses",
}

var businessAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Register a business in the directory",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		name, _ := cmd.Flags().GetString("name")
		placeID, _ := cmd.Flags().GetString("place-id")
		tier, _ := cmd.Flags().GetString("tier")

		t := model.PlanTier(tier)
		if !t.Valid() {
			return eris.Errorf("unknown tier %q (free, starter, pro, power)", tier)
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		b, err := st.CreateBusiness(ctx, model.Business{
			Name:    name,
			PlaceID: placeID,
			Tier:    t,
		})
		if err != nil {
			return eris.Wrap(err, "business add")
		}

		zap.L().Info("business created",
			zap.String("business_id", b.ID),
			zap.String("name", b.Name),
			zap.String("tier", string(b.Tier)),
		)
		return nil
	},
}

var businessShowCmd = &cobra.Command{
	Use:   "show <business-id>",
	Short: "Show a business record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		b, err := st.GetBusiness(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "business show")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(b)
	},
}

func init() {
	businessAddCmd.Flags().String("name", "", "business name (required)")
	_ = businessAddCmd.MarkFlagRequired("name")
	businessAddCmd.Flags().String("place-id", "", "external place identifier")
	businessAddCmd.Flags().String("tier", "free", "plan tier (free, starter, pro, power)")

	businessCmd.AddCommand(businessAddCmd)
	businessCmd.AddCommand(businessShowCmd)
	rootCmd.AddCommand(businessCmd)
}
