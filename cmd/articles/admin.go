package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/alphabot-ai/articles/internal/auth"
	"github.com/alphabot-ai/articles/internal/model"

	"github.com/spf13/cobra"
)

func newHashPasswordCommand() *cobra.Command {
	var cost int

	cmd := &cobra.Command{
		Use:   "hash-password [password]",
		Short: "Print a bcrypt hash for ARTICLES_ADMIN_PASSWORD_HASH",
		Long: `Print a bcrypt hash suitable for ARTICLES_ADMIN_PASSWORD_HASH or the
admin.password_hash config key. The password is read from the first line of
stdin when no argument is given.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var password string
			if len(args) == 1 {
				password = args[0]
			} else {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && !errors.Is(err, io.EOF) {
					return err
				}
				password = strings.TrimRight(line, "\r\n")
			}
			if password == "" {
				return errors.New("password must not be empty")
			}
			hash, err := auth.HashPassword(password, cost)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
	cmd.Flags().IntVar(&cost, "cost", 0, "bcrypt cost (default 10)")
	return cmd
}

func newListCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List articles, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			articles, err := opts.client().List(cmd.Context())
			if err != nil {
				return err
			}
			if len(articles) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No articles.")
				return nil
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tDATE\tTITLE")
			for _, a := range articles {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", a.ID, a.Date.Local().Format("2006-01-02 15:04"), a.Title)
			}
			return tw.Flush()
		},
	}
}

func newShowCommand(opts *rootOptions) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Print one article",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.client().Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printArticle(cmd.OutOrStdout(), a, asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the raw JSON record")
	return cmd
}

func newAddCommand(opts *rootOptions) *cobra.Command {
	var title, content string

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Publish a new article",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("title") {
				return errors.New("--title is required")
			}
			a, err := opts.client().Create(cmd.Context(), title, content)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created %s\n", a.ID)
			if opts.Verbose {
				return printArticle(cmd.OutOrStdout(), a, false)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "article title (required)")
	cmd.Flags().StringVar(&content, "content", "", "article body")
	return cmd
}

func newEditCommand(opts *rootOptions) *cobra.Command {
	var title, content string

	cmd := &cobra.Command{
		Use:   "edit <id>",
		Short: "Change an article's title or content",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var upd model.ArticleUpdate
			if cmd.Flags().Changed("title") {
				upd.Title = &title
			}
			if cmd.Flags().Changed("content") {
				upd.Content = &content
			}
			if upd.Empty() {
				return errors.New("nothing to change: pass --title and/or --content")
			}
			a, err := opts.client().Update(cmd.Context(), args[0], upd)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Updated %s\n", a.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "new title")
	cmd.Flags().StringVar(&content, "content", "", "new body")
	return cmd
}

func newDeleteCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "delete <id>",
		Aliases: []string{"rm"},
		Short:   "Delete an article",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.client().Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
			return nil
		},
	}
}

func printArticle(w io.Writer, a model.Article, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(a)
	}
	fmt.Fprintf(w, "%s\n%s\n\n%s\n", a.Title, a.Date.Local().Format("January 2, 2006"), a.Content)
	return nil
}
