package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"gotmail/config"
	"gotmail/models"
	"gotmail/storage"
	"gotmail/utils"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "gotmail",
		Short:         "GotMail webmail server",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "config.toml", "Path to the TOML configuration file")

	load := func() (*config.Config, error) {
		cfg, err := config.LoadConfig(configPath)
		if err != nil {
			return nil, err
		}
		utils.Log = utils.NewLoggerWithFormat(utils.ParseLevel(cfg.Log.Level), cfg.Log.Format)
		if err := utils.InitI18n(); err != nil {
			utils.Log.Error("Failed to initialize i18n: %v", err)
		}
		return cfg, nil
	}

	serve := newServeCommand(load)
	root.AddCommand(serve, newUserCommand(load))
	root.RunE = serve.RunE

	return root
}

func newServeCommand(load func() (*config.Config, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and live push server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			utils.Log.Info("Initializing GotMail...")

			srv, err := newServer(cfg)
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			errc := make(chan error, 1)
			go func() {
				utils.Log.Info("Starting server on port %d...", cfg.Server.Port)
				errc <- srv.Listen(cfg.Server.Port)
			}()

			select {
			case err = <-errc:
				utils.Log.Error("Error starting server: %v", err)
			case <-ctx.Done():
				utils.Log.Info("Shutting down...")
			}

			if cerr := srv.Close(); cerr != nil && err == nil {
				err = cerr
			}
			_ = utils.Log.Sync()
			return err
		},
	}
}

func newUserCommand(load func() (*config.Config, error)) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage accounts",
	}

	var (
		user     models.User
		password string
	)
	create := &cobra.Command{
		Use:   "create",
		Short: "Create an account with its default labels",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			return withStorage(cfg, func(db *storage.DB) error {
				if err := storage.NewUserStorage(db).CreateUser(&user, password); err != nil {
					return err
				}
				if err := storage.NewLabelStorage(db).CreateDefaultLabels(user.ID); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "created user %d <%s>\n", user.ID, user.Email)
				return nil
			})
		},
	}
	create.Flags().StringVar(&user.PhoneNumber, "phone", "", "Phone number, used to log in")
	create.Flags().StringVar(&user.Email, "email", "", "Email address")
	create.Flags().StringVar(&user.FirstName, "first-name", "", "First name")
	create.Flags().StringVar(&user.LastName, "last-name", "", "Last name")
	create.Flags().StringVar(&password, "password", "", "Password")
	for _, flag := range []string{"phone", "email", "password"} {
		_ = create.MarkFlagRequired(flag)
	}

	var userID int64
	remove := &cobra.Command{
		Use:   "delete",
		Short: "Delete an account with everything it owns",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			return withStorage(cfg, func(db *storage.DB) error {
				if err := storage.NewUserStorage(db).DeleteUser(userID); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted user %d\n", userID)
				return nil
			})
		},
	}
	remove.Flags().Int64Var(&userID, "id", 0, "User id")
	_ = remove.MarkFlagRequired("id")

	cmd.AddCommand(create, remove)
	return cmd
}

func withStorage(cfg *config.Config, fn func(db *storage.DB) error) error {
	db, err := storage.InitDB(cfg.Storage.DataDir)
	if err != nil {
		return err
	}
	defer db.Close()
	return fn(db)
}
