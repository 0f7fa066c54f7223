package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"missionline/internal/app"
	"missionline/internal/domain"
	"missionline/internal/engine/auth"
	"missionline/internal/repo"
)

func webhookCmd() *cobra.Command {
	w := &cobra.Command{Use: "webhook", Short: "Manage your mission webhooks"}

	add := &cobra.Command{
		Use:   "add <name> <url>",
		Short: "Register a webhook that receives your missions",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			hook, err := domain.NewWebhookRegistration(viper.GetString("actor-id"), args[0], args[1])
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if err := a.Repo.InsertWebhook(ctx, hook); err != nil {
					return err
				}
				ok("webhook %s registered", hook.Name)
				return nil
			})
		},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List your webhooks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Repo.ListWebhooks(ctx, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"Name", "URL", "Created"})
				for _, h := range items {
					tw.AppendRow(table.Row{h.Name, h.URL, h.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}

	del := &cobra.Command{
		Use:   "delete <name>",
		Short: "Remove one of your webhooks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if err := a.Repo.DeleteWebhook(ctx, viper.GetString("actor-id"), args[0]); err != nil {
					return err
				}
				ok("webhook %s removed", args[0])
				return nil
			})
		},
	}

	w.AddCommand(add, list, del)
	return w
}

func nominateCmd() *cobra.Command {
	var note string
	var all bool
	n := &cobra.Command{Use: "nominate", Short: "Community nominations"}

	add := &cobra.Command{
		Use:   "add <nominee>",
		Short: "Nominate someone",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			nom, err := domain.NewNomination(viper.GetString("actor-id"), args[0], note)
			if err != nil {
				return err
			}
			if nom.NominatorID == nom.NomineeID {
				return fmt.Errorf("you cannot nominate yourself")
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if err := a.Repo.InsertNomination(ctx, nom); err != nil {
					return err
				}
				ok("nominated %s", nom.NomineeID)
				return nil
			})
		},
	}
	add.Flags().StringVar(&note, "note", "", "reason for the nomination")

	list := &cobra.Command{
		Use:   "list",
		Short: "Show the nomination tally",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				ns, err := a.Repo.ListNominations(ctx, "")
				if err != nil {
					return err
				}
				tally := domain.TallyNominations(ns)
				if viper.GetBool("json") {
					return printJSON(tally)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"Nominee", "Nominations"})
				for _, c := range tally {
					tw.AppendRow(table.Row{c.NomineeID, c.Count})
				}
				tw.Render()
				return nil
			})
		},
	}

	del := &cobra.Command{
		Use:   "delete <nominee>",
		Short: "Withdraw your nomination, or clear all of them with --all",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if all {
					n, err := a.Repo.DeleteNominationsFor(ctx, args[0])
					if err != nil {
						return err
					}
					ok("cleared %d nominations for %s", n, args[0])
					return nil
				}
				if err := a.Repo.DeleteNomination(ctx, viper.GetString("actor-id"), args[0]); err != nil {
					return err
				}
				ok("withdrew nomination for %s", args[0])
				return nil
			})
		},
	}
	del.Flags().BoolVar(&all, "all", false, "remove every nomination for the nominee")

	n.AddCommand(add, list, del)
	return n
}

func communityCmd() *cobra.Command {
	c := &cobra.Command{Use: "community", Short: "Community carrier channels"}

	add := &cobra.Command{
		Use:   "add <owner> <channel-id> <role-id>",
		Short: "Record an owner's community channel",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			rec, err := domain.NewCommunityChannel(args[0], args[1], args[2])
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if err := a.Repo.InsertCommunityChannel(ctx, rec); err != nil {
					return err
				}
				ok("community channel %s recorded for %s", rec.ChannelID, rec.OwnerID)
				return nil
			})
		},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List community channels",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Repo.ListCommunityChannels(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"Owner", "Channel", "Role"})
				for _, r := range items {
					tw.AppendRow(table.Row{r.OwnerID, r.ChannelID, r.RoleID})
				}
				tw.Render()
				return nil
			})
		},
	}

	del := &cobra.Command{
		Use:   "delete <owner>",
		Short: "Forget an owner's community channel",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if err := a.Repo.DeleteCommunityChannel(ctx, args[0]); err != nil {
					return err
				}
				ok("community channel for %s removed", args[0])
				return nil
			})
		},
	}

	c.AddCommand(add, list, del)
	return c
}

func apiKeyCmd() *cobra.Command {
	var name string
	var roles []string
	k := &cobra.Command{Use: "api-key", Short: "Operator API keys"}

	create := &cobra.Command{
		Use:   "create",
		Short: "Create an API key for the current actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, r := range roles {
				if !auth.KnownRole(r) {
					return fmt.Errorf("unknown role %q", r)
				}
			}
			secret, err := randomHex(24)
			if err != nil {
				return err
			}
			raw := "ml_" + secret
			key := repo.APIKey{
				ID:        uuid.NewString(),
				ActorID:   viper.GetString("actor-id"),
				Name:      name,
				KeyHash:   repo.HashAPIKey(raw),
				Roles:     roles,
				CreatedAt: time.Now().UTC().Format(time.RFC3339),
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if err := a.Repo.InsertAPIKey(ctx, key); err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"id": key.ID, "key": raw, "roles": key.Roles})
				}
				ok("created key %s for %s", key.ID, key.ActorID)
				fmt.Println(raw)
				warn("store this key now; it is not shown again")
				return nil
			})
		},
	}
	create.Flags().StringVar(&name, "name", "", "label for the key")
	create.Flags().StringSliceVar(&roles, "role", []string{auth.RoleOwner}, "role granted to the key (repeatable)")

	list := &cobra.Command{
		Use:   "list",
		Short: "List API keys for the current actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Repo.ListAPIKeys(ctx, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "Name", "Roles", "Created"})
				for _, key := range items {
					tw.AppendRow(table.Row{key.ID, key.Name, strings.Join(key.Roles, ","), key.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}

	revoke := &cobra.Command{
		Use:   "revoke <id>",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if err := a.Repo.DeleteAPIKey(ctx, args[0]); err != nil {
					return err
				}
				ok("revoked %s", args[0])
				return nil
			})
		},
	}

	k.AddCommand(create, list, revoke)
	return k
}
