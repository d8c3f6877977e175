package main

import (
	"os"

	"github.com/alphabot-ai/articles/internal/client"

	"github.com/spf13/cobra"
)

const defaultURL = "http://localhost:3000"

// rootOptions holds the global flags shared by every command.
type rootOptions struct {
	URL      string
	User     string
	Password string
	Verbose  bool
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "articles",
		Short: "A small flat-file article CMS",
		Long: `articles serves a public list of articles and a password-protected
admin area for writing them. With no subcommand it starts the server.

Server settings come from ARTICLES_* environment variables or the YAML file
named by ARTICLES_CONFIG.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts, "")
		},
	}

	cmd.PersistentFlags().StringVar(&opts.URL, "url", envOr("ARTICLES_URL", defaultURL), "server URL for client commands")
	cmd.PersistentFlags().StringVar(&opts.User, "user", envOr("ARTICLES_ADMIN_USER", "admin"), "admin username for client commands")
	cmd.PersistentFlags().StringVar(&opts.Password, "password", "", "admin password for client commands (default $ARTICLES_ADMIN_PASSWORD)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "debug logging and verbose output")

	cmd.AddCommand(newServeCommand(opts))
	cmd.AddCommand(newHashPasswordCommand())
	cmd.AddCommand(newListCommand(opts))
	cmd.AddCommand(newShowCommand(opts))
	cmd.AddCommand(newAddCommand(opts))
	cmd.AddCommand(newEditCommand(opts))
	cmd.AddCommand(newDeleteCommand(opts))

	return cmd
}

func (o *rootOptions) client() *client.Client {
	password := o.Password
	if password == "" {
		password = os.Getenv("ARTICLES_ADMIN_PASSWORD")
	}
	return client.New(o.URL).WithCredentials(o.User, password)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
