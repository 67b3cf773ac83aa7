package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/propertyhub-dev/propertyhub/internal/cli/client"
)

type registerOptions struct {
	name     string
	email    string
	password string
	phone    string
	role     string
}

// NewRegisterCmd creates the register command
func NewRegisterCmd(opts *Options) *cobra.Command {
	var ro registerOptions

	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account and sign in",
		Long: `Create an account and sign in.

Accounts are created as buyers (role "user") unless --role agent is given.
Admin accounts can only be granted by an existing admin.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRegister(cmd, opts, ro)
		},
	}

	cmd.Flags().StringVar(&ro.name, "name", "", "Display name")
	cmd.Flags().StringVar(&ro.email, "email", "", "Email address")
	cmd.Flags().StringVar(&ro.password, "password", "", "Password (or set PROPERTYHUB_PASSWORD, will prompt if not provided)")
	cmd.Flags().StringVar(&ro.phone, "phone", "", "Phone number in E.164 form, e.g. +14155550100")
	cmd.Flags().StringVar(&ro.role, "role", "", "Account type: user or agent")

	return cmd
}

func runRegister(cmd *cobra.Command, opts *Options, ro registerOptions) error {
	if ro.email == "" {
		return fmt.Errorf("email is required (use --email flag)")
	}
	if ro.name == "" {
		return fmt.Errorf("name is required (use --name flag)")
	}
	if ro.password == "" {
		ro.password = os.Getenv(envPassword)
	}

	env, err := openSession(opts)
	if err != nil {
		return err
	}
	defer env.Close()

	if ro.password == "" {
		ro.password, err = readPassword(envPassword)
		if err != nil {
			return err
		}
	}

	user, err := env.auth.Register(cmd.Context(), client.RegisterRequest{
		Name:     ro.name,
		Email:    ro.email,
		Password: ro.password,
		Phone:    ro.phone,
		Role:     ro.role,
	})
	if err != nil {
		return fmt.Errorf("registration failed: %w", friendlyError(err))
	}

	fmt.Fprintf(env.out, "✓ Account created on %s\n", describeEndpoint(env.endpoint))
	printUser(env.out, user)
	return nil
}
