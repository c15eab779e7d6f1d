package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"taskboard/internal/api"
	"taskboard/internal/app"
	"taskboard/internal/session"
)

func loginCmd() *cobra.Command {
	var creds api.Credentials
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in and remember the session",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				user, err := env.Session.Login(ctx, creds)
				if err != nil {
					return fmt.Errorf("login failed: %w", err)
				}
				if viper.GetBool("json") {
					return printJSON(user)
				}
				fmt.Printf("logged in as %s <%s>\n", user.Username, user.Email)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&creds.Email, "email", "", "account email")
	cmd.Flags().StringVar(&creds.Password, "password", "", "account password")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func registerCmd() *cobra.Command {
	var reg api.Registration
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account and log in",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				user, err := env.Session.Register(ctx, reg)
				if err != nil {
					return fmt.Errorf("registration failed: %w", err)
				}
				if viper.GetBool("json") {
					return printJSON(user)
				}
				fmt.Printf("registered and logged in as %s <%s>\n", user.Username, user.Email)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&reg.Username, "username", "", "user name")
	cmd.Flags().StringVar(&reg.Email, "email", "", "account email")
	cmd.Flags().StringVar(&reg.Password, "password", "", "account password")
	cmd.Flags().StringVar(&reg.ConfirmPassword, "confirm-password", "", "repeat the password")
	for _, name := range []string{"username", "email", "password", "confirm-password"} {
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}

func logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the saved session",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				if err := env.Session.Logout(ctx); err != nil {
					return err
				}
				fmt.Println("logged out")
				return nil
			})
		},
	}
}

func whoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the logged-in user and check the token with the server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				if err := env.ValidateSession(ctx); err != nil {
					return err
				}
				snap := env.Session.Current()
				expires := "unknown"
				if exp, ok := session.TokenExpiry(snap.Token); ok {
					expires = exp.Local().Format(time.RFC1123)
				}
				out := map[string]any{
					"id":       snap.User.ID,
					"username": snap.User.Username,
					"email":    snap.User.Email,
					"server":   env.Config.API.BaseURL,
					"expires":  expires,
				}
				if viper.GetBool("json") {
					return printJSON(out)
				}
				fmt.Printf("%s <%s>\nid:      %s\nserver:  %s\nexpires: %s\n",
					snap.User.Username, snap.User.Email, snap.User.ID, env.Config.API.BaseURL, expires)
				return nil
			})
		},
	}
}
