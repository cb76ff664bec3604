package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"taskcal/internal/auth"
)

// passwordFrom returns the flag value, or reads one line from stdin.
func passwordFrom(flag string, in io.Reader) (string, error) {
	if flag != "" {
		return flag, nil
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	pw := strings.TrimRight(line, "\r\n")
	if pw == "" {
		return "", errors.New("password is required (--password or stdin)")
	}
	return pw, nil
}

func loginCmd(g *globals) *cobra.Command {
	var email, password string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in and store the session",
		RunE: func(cmd *cobra.Command, args []string) error {
			pw, err := passwordFrom(password, cmd.InOrStdin())
			if err != nil {
				return err
			}
			s, err := auth.OpenSession(g.cfg.SessionFile)
			if err != nil {
				return err
			}
			resp, err := g.authClient(s).Login(cmd.Context(), email, pw)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "logged in as %s (%s token)\n", email, resp.TokenType)
			return nil
		},
	}

	cmd.Flags().StringVarP(&email, "email", "e", "", "Account email")
	cmd.Flags().StringVarP(&password, "password", "p", "", "Password (read from stdin when empty)")
	_ = cmd.MarkFlagRequired("email")

	return cmd
}

func logoutCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "End the session and forget the stored token",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := auth.OpenSession(g.cfg.SessionFile)
			if err != nil {
				return err
			}
			if err := g.authClient(s).Logout(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "logged out")
			return nil
		},
	}
}

func whoamiCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Print the current user",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := g.session()
			if err != nil {
				return err
			}
			if !s.Authenticated() {
				return auth.ErrNoSession
			}
			me, err := g.authClient(s).WhoAmI(cmd.Context())
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(me)
		},
	}
}

func registerCmd(g *globals) *cobra.Command {
	var email, password string

	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account",
		RunE: func(cmd *cobra.Command, args []string) error {
			pw, err := passwordFrom(password, cmd.InOrStdin())
			if err != nil {
				return err
			}
			resp, err := g.authClient(nil).Register(cmd.Context(), email, pw)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), resp.Message)
			return nil
		},
	}

	cmd.Flags().StringVarP(&email, "email", "e", "", "Account email")
	cmd.Flags().StringVarP(&password, "password", "p", "", "Password (read from stdin when empty)")
	_ = cmd.MarkFlagRequired("email")

	return cmd
}

func forgotPasswordCmd(g *globals) *cobra.Command {
	var email string

	cmd := &cobra.Command{
		Use:   "forgot-password",
		Short: "Request a password reset email",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := g.authClient(nil).ForgotPassword(cmd.Context(), email)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), resp.Message)
			return nil
		},
	}

	cmd.Flags().StringVarP(&email, "email", "e", "", "Account email")
	_ = cmd.MarkFlagRequired("email")

	return cmd
}

func resetPasswordCmd(g *globals) *cobra.Command {
	var p auth.ResetParams

	cmd := &cobra.Command{
		Use:   "reset-password",
		Short: "Set a new password with the tokens from the reset email",
		RunE: func(cmd *cobra.Command, args []string) error {
			pw, err := passwordFrom(p.NewPassword, cmd.InOrStdin())
			if err != nil {
				return err
			}
			p.NewPassword = pw
			resp, err := g.authClient(nil).ResetPassword(cmd.Context(), p)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), resp.Message)
			return nil
		},
	}

	cmd.Flags().StringVar(&p.AccessToken, "access-token", "", "Access token from the reset link")
	cmd.Flags().StringVar(&p.RefreshToken, "refresh-token", "", "Refresh token from the reset link")
	cmd.Flags().StringVarP(&p.NewPassword, "password", "p", "", "New password (read from stdin when empty)")
	_ = cmd.MarkFlagRequired("access-token")

	return cmd
}
