package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"qqbridge/internal/binding"
	"qqbridge/internal/config"
	"qqbridge/internal/domain"
	"qqbridge/internal/host"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

// withStore loads the config and opens the host store for one admin command.
func withStore(ctx context.Context, fn func(cfg *config.Config, store host.Store) error) error {
	cfg, closeLog, err := loadConfig()
	if err != nil {
		return err
	}
	defer closeLog()
	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(cfg, store)
}

func bindingsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bindings",
		Short: "Inspect and remove QQ account bindings",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List every bound QQ ID",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(_ *config.Config, store host.Store) error {
				list, err := binding.NewStore(store, logger).List(cmd.Context())
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "USER ID\tQQ ID")
				for _, b := range list {
					fmt.Fprintf(w, "%d\t%s\n", b.AccountID, b.ChatID)
				}
				return w.Flush()
			})
		},
	})

	var yes bool
	purge := &cobra.Command{
		Use:   "purge",
		Short: "Delete every binding (run when decommissioning the bridge)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("refusing to delete all bindings without --yes")
			}
			return withStore(cmd.Context(), func(_ *config.Config, store host.Store) error {
				n, err := binding.NewStore(store, logger).Purge(cmd.Context())
				if err != nil {
					return err
				}
				logger.Info("bindings purged", "count", n)
				return nil
			})
		},
	}
	purge.Flags().BoolVar(&yes, "yes", false, "confirm deletion")
	cmd.AddCommand(purge)

	return cmd
}

func usersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "users",
		Short: "Manage site accounts in the embedded store",
	}

	var login, name string
	add := &cobra.Command{
		Use:   "add [email]",
		Short: "Create a site account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(_ *config.Config, store host.Store) error {
				if login == "" {
					login = args[0]
				}
				id, err := store.CreateUser(cmd.Context(), domain.Account{Login: login, Email: args[0], DisplayName: name})
				if err != nil {
					return err
				}
				fmt.Println(id)
				return nil
			})
		},
	}
	add.Flags().StringVar(&login, "login", "", "login name (default: the email)")
	add.Flags().StringVar(&name, "name", "", "display name")
	cmd.AddCommand(add)

	return cmd
}

func postsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "posts",
		Short: "Manage posts in the embedded store",
	}

	var p domain.Post
	add := &cobra.Command{
		Use:   "add [title]",
		Short: "Create a post",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(_ *config.Config, store host.Store) error {
				p.Title = args[0]
				if p.PublishedAt.IsZero() {
					p.PublishedAt = time.Now()
				}
				id, err := store.CreatePost(cmd.Context(), p)
				if err != nil {
					return err
				}
				fmt.Println(id)
				return nil
			})
		},
	}
	add.Flags().StringVar(&p.Type, "type", "forum_post", "post type (post or forum_post)")
	add.Flags().StringVar(&p.Status, "status", "publish", "post status")
	add.Flags().StringVar(&p.Section, "section", "", "forum section name")
	add.Flags().StringVar(&p.Permalink, "permalink", "", "public URL")
	add.Flags().StringVar(&p.ImageURL, "image", "", "featured image URL")
	add.Flags().Int64Var(&p.AuthorID, "author", 0, "author user ID")
	cmd.AddCommand(add)

	var limit int
	latest := &cobra.Command{
		Use:   "latest",
		Short: "Show the most recent published forum posts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(_ *config.Config, store host.Store) error {
				posts, err := store.RecentPosts(cmd.Context(), domain.PostQuery{Type: "forum_post", Status: "publish", Limit: limit})
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tSECTION\tTITLE\tAUTHOR\tREPLIES")
				for _, p := range posts {
					fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%d\n", p.ID, p.Section, p.Title, p.AuthorName, p.CommentCount)
				}
				return w.Flush()
			})
		},
	}
	latest.Flags().IntVar(&limit, "limit", 5, "number of posts")
	cmd.AddCommand(latest)

	return cmd
}

func pointsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "points",
		Short: "Inspect and adjust account points",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "balance [user-id]",
		Short: "Show an account's points balance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid user id %q", args[0])
			}
			return withStore(cmd.Context(), func(_ *config.Config, store host.Store) error {
				bal, err := store.Balance(cmd.Context(), id)
				if err != nil {
					return err
				}
				fmt.Println(bal)
				return nil
			})
		},
	})

	var note string
	grant := &cobra.Command{
		Use:   "grant [user-id] [delta]",
		Short: "Add (or with a negative delta, remove) points",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid user id %q", args[0])
			}
			delta, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid delta %q", args[1])
			}
			return withStore(cmd.Context(), func(_ *config.Config, store host.Store) error {
				token := "admin_" + uuid.NewString()
				if err := store.Mutate(cmd.Context(), domain.PointsMutation{
					AccountID: id, Delta: delta, Token: token, Type: "admin", Note: note,
				}); err != nil {
					return err
				}
				logger.Info("points adjusted", "user_id", id, "delta", delta, "token", token)
				return nil
			})
		},
	}
	grant.Flags().StringVar(&note, "note", "管理员调整", "audit note")
	cmd.AddCommand(grant)

	return cmd
}
