package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/marcus/cadence/internal/db"
	"github.com/marcus/cadence/internal/models"
	"github.com/marcus/cadence/internal/output"
	"github.com/marcus/cadence/internal/provider"
	"github.com/spf13/cobra"
)

var accountCmd = &cobra.Command{
	Use:     "account",
	Aliases: []string{"accounts"},
	Short:   "Manage connected Google and Outlook accounts",
	GroupID: "calendars",
}

var accountAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Connect an account from OAuth tokens",
	Long: `Connect an account. The OAuth consent flow happens outside cadence; pass the
resulting refresh token (and the access token, if you have a fresh one).

Example:
  cadence account add --provider google --email me@example.com --refresh-token 1//0g...`,
	RunE: func(cmd *cobra.Command, args []string) error {
		acct, err := accountFromFlags(cmd, time.Now())
		if err != nil {
			output.Error("%v", err)
			return err
		}

		database, err := openDB()
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer database.Close()

		if err := database.CreateAccount(cmd.Context(), acct); err != nil {
			output.Error("%v", err)
			return err
		}
		output.Success("connected %s (%s)", acct.Email, acct.ID)

		if pull, _ := cmd.Flags().GetBool("pull"); pull {
			res, err := newPuller(database).Pull(cmd.Context(), acct)
			if err != nil {
				output.Warning("first pull failed: %v", err)
				return nil
			}
			printReplaceResult(acct.Email, res)
		}
		return nil
	},
}

var accountListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List connected accounts",
	RunE: func(cmd *cobra.Command, args []string) error {
		database, err := openDB()
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer database.Close()

		accounts, err := database.ListAccounts(cmd.Context())
		if err != nil {
			output.Error("%v", err)
			return err
		}
		if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
			return output.JSON(accounts)
		}
		if len(accounts) == 0 {
			fmt.Println("no accounts")
			return nil
		}
		for i := range accounts {
			fmt.Println(output.FormatAccount(&accounts[i]))
		}
		return nil
	},
}

var accountPullCmd = &cobra.Command{
	Use:   "pull [account-id...]",
	Short: "Pull events from accounts (all when none given)",
	RunE: func(cmd *cobra.Command, args []string) error {
		database, err := openDB()
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer database.Close()

		accounts, err := selectAccounts(cmd.Context(), database, args)
		if err != nil {
			output.Error("%v", err)
			return err
		}
		if len(accounts) == 0 {
			fmt.Println("no accounts")
			return nil
		}

		puller := newPuller(database)
		var errs []error
		for i := range accounts {
			acct := &accounts[i]
			res, err := puller.Pull(cmd.Context(), acct)
			if err != nil {
				output.Error("%s: %v", acct.Email, err)
				errs = append(errs, err)
				continue
			}
			printReplaceResult(acct.Email, res)
		}
		return errors.Join(errs...)
	},
}

var accountRmCmd = &cobra.Command{
	Use:     "rm <account-id>",
	Aliases: []string{"remove", "disconnect"},
	Short:   "Disconnect an account and remove its events",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		database, err := openDB()
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer database.Close()

		acct, err := database.GetAccount(cmd.Context(), args[0])
		if err != nil {
			output.Error("%v", err)
			return err
		}
		res, err := database.ReplaceProviderEvents(cmd.Context(), acct.Provider, acct.ID, nil)
		if err != nil {
			output.Error("%v", err)
			return err
		}
		if err := database.DeleteAccount(cmd.Context(), acct.ID); err != nil {
			output.Error("%v", err)
			return err
		}
		output.Success("disconnected %s (%d events removed)", acct.Email, res.Removed)
		return nil
	},
}

var accountDeleteRemoteCmd = &cobra.Command{
	Use:   "delete-remote <event-id>",
	Short: "Delete an imported event at its provider",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		database, err := openDB()
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer database.Close()

		ev, err := resolveEvent(cmd.Context(), database, args[0])
		if err != nil {
			output.Error("%v", err)
			return err
		}
		if ev.Provider != models.ProviderGoogle && ev.Provider != models.ProviderOutlook {
			err := fmt.Errorf("event %d is a %s event, not from a connected account", ev.ID, ev.Provider)
			output.Error("%v", err)
			return err
		}
		acct, err := database.GetAccount(cmd.Context(), ev.AccountID)
		if err != nil {
			output.Error("%v", err)
			return err
		}

		if err := newPuller(database).DeleteRemote(cmd.Context(), acct, ev.ExternalID()); err != nil {
			output.Error("%v", err)
			return err
		}
		if err := database.DeleteEvent(cmd.Context(), ev.ID); err != nil {
			output.Error("%v", err)
			return err
		}
		output.Success("deleted %q from %s", ev.Title, output.FormatProvider(ev.Provider))
		return nil
	},
}

// newPuller builds a provider puller from the configured OAuth settings.
func newPuller(database *db.DB) *provider.Puller {
	tokens := &provider.TokenManager{
		Apps:       cfg.OAuthApps(),
		BackendURL: cfg.Providers.BackendURL,
		BackendKey: cfg.Providers.BackendKey,
		HTTP:       &http.Client{Timeout: 30 * time.Second},
	}
	p := provider.NewPuller(database, tokens)
	p.LookBack = cfg.LookBack()
	p.LookAhead = cfg.LookAhead()
	p.FirstLookAhead = cfg.FirstLookAhead()
	return p
}

func selectAccounts(ctx context.Context, database *db.DB, ids []string) ([]models.Account, error) {
	if len(ids) == 0 {
		return database.ListAccounts(ctx)
	}
	accounts := make([]models.Account, 0, len(ids))
	for _, id := range ids {
		a, err := database.GetAccount(ctx, id)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, *a)
	}
	return accounts, nil
}

func accountFromFlags(cmd *cobra.Command, now time.Time) (*models.Account, error) {
	flags := cmd.Flags()
	p, _ := flags.GetString("provider")
	email, _ := flags.GetString("email")
	refresh, _ := flags.GetString("refresh-token")
	access, _ := flags.GetString("access-token")
	expiresIn, _ := flags.GetDuration("expires-in")

	acct := &models.Account{
		Provider:     models.Provider(p),
		Email:        email,
		AccessToken:  access,
		RefreshToken: refresh,
	}
	if acct.Provider != models.ProviderGoogle && acct.Provider != models.ProviderOutlook {
		return nil, fmt.Errorf("--provider must be google or outlook, got %q", p)
	}
	if email == "" {
		return nil, errors.New("--email is required")
	}
	if refresh == "" && access == "" {
		return nil, errors.New("--refresh-token or --access-token is required")
	}
	if access != "" {
		acct.TokenExpiry = now.Add(expiresIn).UTC()
	}
	return acct, nil
}

func init() {
	accountAddCmd.Flags().String("provider", "", "google or outlook")
	accountAddCmd.Flags().String("email", "", "account email")
	accountAddCmd.Flags().String("refresh-token", "", "OAuth refresh token")
	accountAddCmd.Flags().String("access-token", "", "OAuth access token")
	accountAddCmd.Flags().Duration("expires-in", time.Hour, "lifetime of --access-token")
	accountAddCmd.Flags().Bool("pull", true, "pull events right away")

	accountListCmd.Flags().Bool("json", false, "JSON output")

	accountCmd.AddCommand(accountAddCmd, accountListCmd, accountPullCmd, accountRmCmd, accountDeleteRemoteCmd)
	rootCmd.AddCommand(accountCmd)
}
