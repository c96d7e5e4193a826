package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/anthonygricco/openevidence-cli/internal/evidence"
	"github.com/anthonygricco/openevidence-cli/internal/observability"
	"github.com/anthonygricco/openevidence-cli/internal/session"
)

func newAuthCmd() *cobra.Command {
	authCmd := &cobra.Command{
		Use:   "auth",
		Short: "Manage the saved OpenEvidence session",
	}

	authCmd.AddCommand(
		newAuthSetupCmd(),
		newAuthStatusCmd(),
		newAuthReauthCmd(),
		newAuthClearCmd(),
		newAuthValidateCmd(),
	)
	return authCmd
}

func newAuthClient() (*evidence.Client, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger := observability.GetLogger()
	store := session.New(cfg.Paths, logger)
	return evidence.NewClient(cfg, store, logger), nil
}

func newAuthSetupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "setup",
		Short: "Log in interactively and save the session",
		Long: `Opens a visible browser on the OpenEvidence site and starts the login
flow. Complete Apple Sign-In in the window, then press ENTER here to save
the session.`,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return viper.BindPFlags(cmd.Flags())
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newAuthClient()
			if err != nil {
				return err
			}

			status, err := client.Setup(cmd.Context(), waitForEnter(cmd.InOrStdin(), cmd.ErrOrStderr()))
			if err != nil {
				return fmt.Errorf("authentication setup failed: %w", err)
			}

			fmt.Fprintln(cmd.OutOrStdout(), "Session saved. Authenticated via", status.Provider+".")
			return nil
		},
	}
}

// waitForEnter blocks until the user presses ENTER, the reader closes, or the
// context runs out (login timeout / SIGINT).
func waitForEnter(in io.Reader, prompt io.Writer) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		fmt.Fprintln(prompt)
		fmt.Fprintln(prompt, "Complete the login in the browser window.")
		fmt.Fprint(prompt, "Press ENTER when you are signed in... ")

		done := make(chan error, 1)
		go func() {
			_, err := bufio.NewReader(in).ReadString('\n')
			if err != nil && err != io.EOF {
				done <- err
				return
			}
			done <- nil
		}()

		select {
		case <-ctx.Done():
			return fmt.Errorf("login not confirmed: %w", ctx.Err())
		case err := <-done:
			return err
		}
	}
}

func newAuthStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the saved session status",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newAuthClient()
			if err != nil {
				return err
			}

			status, hasState, err := client.Status()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if !status.Authenticated || !hasState {
				fmt.Fprintln(out, "Not authenticated. Run `openevidence-cli auth setup`.")
				return nil
			}

			email := "(unknown)"
			if status.Email != nil {
				email = *status.Email
			}
			fmt.Fprintln(out, "Authenticated:", status.Authenticated)
			fmt.Fprintln(out, "Email:        ", email)
			fmt.Fprintln(out, "Provider:     ", status.Provider)
			fmt.Fprintln(out, "Last login:   ", status.LastAuth.Local().Format("2006-01-02 15:04:05"))
			return nil
		},
	}
}

func newAuthReauthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reauth",
		Short: "Clear the saved session and log in again",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newAuthClient()
			if err != nil {
				return err
			}
			if err := client.Clear(); err != nil {
				return err
			}

			status, err := client.Setup(cmd.Context(), waitForEnter(cmd.InOrStdin(), cmd.ErrOrStderr()))
			if err != nil {
				return fmt.Errorf("re-authentication failed: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Session replaced. Authenticated via", status.Provider+".")
			return nil
		},
	}
}

func newAuthClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Delete the saved session, auth record, and browser profile",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newAuthClient()
			if err != nil {
				return err
			}
			if err := client.Clear(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Session data cleared.")
			return nil
		},
	}
}

func newAuthValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the saved session against the live site",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newAuthClient()
			if err != nil {
				return err
			}

			ok, err := client.Validate(cmd.Context())
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("session is invalid or expired: run `openevidence-cli auth reauth`")
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Session is valid.")
			return nil
		},
	}
}
