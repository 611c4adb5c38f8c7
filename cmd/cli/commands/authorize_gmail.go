package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jakechorley/campus-rota/internal/config"
	"github.com/jakechorley/campus-rota/pkg/utils"
)

// AuthorizeGmailCmd creates the authorizeGmail command
func AuthorizeGmailCmd(app *AppContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "authorizeGmail",
		Short: "Authorize the mailbox used for fallback emails and store its token",
		Long: `Runs the browser-based OAuth flow for the Gmail send scope and saves the token for this
environment. The worker loads the saved token without prompting.`,
		Args:        cobra.NoArgs,
		Annotations: map[string]string{AnnotationConfigOnly: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			oauthCfg, err := config.LoadOAuthClientWithEnv(app.Env)
			if err != nil {
				return fmt.Errorf("failed to load OAuth client config: %w", err)
			}

			oauthConfig, err := utils.GetOAuthConfig(oauthCfg)
			if err != nil {
				return err
			}

			store, err := utils.DefaultTokenStore()
			if err != nil {
				return err
			}
			if reset, _ := cmd.Flags().GetBool("reset"); reset {
				if err := store.Delete(app.Env); err != nil {
					return err
				}
			}

			token, err := utils.NewAuthorizer(oauthConfig, store, app.Env, os.Stdout).Token(app.Ctx)
			if err != nil {
				return err
			}

			fmt.Printf("\n✓ Gmail authorized for environment %q (token expires %s)\n\n",
				app.Env, token.Expiry.Format("2006-01-02 15:04"))
			return nil
		},
	}

	cmd.Flags().Bool("reset", false, "Discard the saved token and authorize again")
	return cmd
}
