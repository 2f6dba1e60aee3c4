package main

import (
	"github.com/samber/oops"
	"github.com/spf13/cobra"
)

// NewProvisionAdminCmd creates or resets the administrator account. The
// password comes from ADMIN_BOOTSTRAP_PASSWORD so it stays out of shell
// history.
func NewProvisionAdminCmd() *cobra.Command {
	var phone, name, email string

	cmd := &cobra.Command{
		Use:   "provision-admin",
		Short: "Create or reset the administrator account",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.Admin.BootstrapPassword == "" {
				return oops.Code("CONFIG_INVALID").Errorf("ADMIN_BOOTSTRAP_PASSWORD environment variable is required")
			}
			logger := newLogger(cfg.Log.Level)

			a, err := buildApp(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer a.close()

			user, created, err := a.auth.ProvisionAdmin(cmd.Context(), phone, name, email, cfg.Admin.BootstrapPassword)
			if err != nil {
				return err
			}

			if created {
				cmd.Printf("Created administrator %s\n", user.ID)
			} else {
				cmd.Printf("Reset password of administrator %s\n", user.ID)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&phone, "phone", "", "administrator phone number")
	cmd.Flags().StringVar(&name, "name", "Administrator", "display name")
	cmd.Flags().StringVar(&email, "email", "", "contact email")
	_ = cmd.MarkFlagRequired("phone")

	return cmd
}
