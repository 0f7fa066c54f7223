package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"missionline/internal/app"
	"missionline/internal/destination"
	"missionline/internal/domain"
	"missionline/internal/engine"
	"missionline/internal/repo"
)

func carrierCmd() *cobra.Command {
	c := &cobra.Command{Use: "carrier", Short: "Manage the carrier registry"}
	c.AddCommand(carrierAddCmd())
	c.AddCommand(carrierListCmd())
	c.AddCommand(carrierShowCmd())
	c.AddCommand(carrierEditCmd())
	c.AddCommand(carrierDeleteCmd())
	return c
}

func carrierAddCmd() *cobra.Command {
	var in domain.Carrier
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Register a carrier",
		RunE: func(cmd *cobra.Command, args []string) error {
			if in.ChannelName == "" {
				in.ChannelName = in.ShortName
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				c, err := a.Engine.AddCarrier(ctx, in, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(c)
				}
				ok("added %s (%s) as #%d", c.LongName, c.Code, c.ID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&in.LongName, "long-name", "", "full carrier name")
	cmd.Flags().StringVar(&in.ShortName, "short-name", "", "short lookup name")
	cmd.Flags().StringVar(&in.Code, "code", "", "carrier registration code (e.g. H0T-P0K)")
	cmd.Flags().StringVar(&in.OwnerID, "owner", "", "owner user id")
	cmd.Flags().StringVar(&in.ChannelName, "channel", "", "mission channel name (defaults to short name)")
	return cmd
}

func carrierListCmd() *cobra.Command {
	var search, field string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List or search carriers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				var (
					items []domain.Carrier
					err   error
				)
				if search != "" {
					items, err = a.Repo.FindCarriers(ctx, search, repo.CarrierField(field))
				} else {
					items, err = a.Repo.ListCarriers(ctx)
				}
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "Name", "Short", "Code", "Owner", "Channel", "Last trade"})
				for _, c := range items {
					tw.AppendRow(table.Row{c.ID, c.LongName, c.ShortName, c.Code, c.OwnerID, c.ChannelName, lastTrade(c)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&search, "search", "", "substring to match")
	cmd.Flags().StringVar(&field, "by", string(repo.FieldShortName), "field to search (short_name, long_name, code, owner)")
	return cmd
}

func lastTrade(c domain.Carrier) string {
	if c.LastTrade == 0 {
		return color.New(color.FgYellow).Sprint("never")
	}
	return time.Unix(c.LastTrade, 0).UTC().Format(time.RFC3339)
}

func carrierShowCmd() *cobra.Command {
	var field string
	cmd := &cobra.Command{
		Use:   "show <term>",
		Short: "Show one carrier and its lifecycle state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				c, err := a.Repo.FindCarrier(ctx, args[0], repo.CarrierField(field))
				if err != nil {
					return err
				}
				state, err := a.Engine.State(ctx, c.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"carrier": c, "state": state})
				}
				fmt.Printf("%s (%s)\n", c.LongName, c.Code)
				fmt.Printf("  short name: %s\n  owner:      %s\n  channel:    %s\n  last trade: %s\n", c.ShortName, c.OwnerID, c.ChannelName, lastTrade(c))
				fmt.Printf("  state:      %s\n", stateLabel(state))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&field, "by", string(repo.FieldShortName), "field to match")
	return cmd
}

func stateLabel(s engine.State) string {
	switch s {
	case engine.StateActive:
		return color.New(color.FgGreen).Sprint(s)
	case engine.StateNone, engine.StateRetired:
		return color.New(color.FgBlue).Sprint(s)
	default:
		return color.New(color.FgYellow).Sprint(s)
	}
}

func carrierEditCmd() *cobra.Command {
	var longName, shortName, code, owner, channel string
	cmd := &cobra.Command{
		Use:   "edit <short-name>",
		Short: "Edit a carrier",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			u := repo.CarrierUpdate{
				LongName:    optionalString(cmd, "long-name", longName),
				ShortName:   optionalString(cmd, "short-name", shortName),
				Code:        optionalString(cmd, "code", code),
				OwnerID:     optionalString(cmd, "owner", owner),
				ChannelName: optionalString(cmd, "channel", channel),
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				c, err := a.Repo.FindCarrier(ctx, args[0], repo.FieldShortName)
				if err != nil {
					return err
				}
				updated, err := a.Engine.EditCarrier(ctx, c.ID, u, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(updated)
				}
				ok("updated %s", updated.LongName)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&longName, "long-name", "", "full carrier name")
	cmd.Flags().StringVar(&shortName, "short-name", "", "short lookup name")
	cmd.Flags().StringVar(&code, "code", "", "registration code")
	cmd.Flags().StringVar(&owner, "owner", "", "owner user id")
	cmd.Flags().StringVar(&channel, "channel", "", "mission channel name")
	return cmd
}

func carrierDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <short-name>",
		Short: "Delete a carrier with no active mission",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				c, err := a.Repo.FindCarrier(ctx, args[0], repo.FieldShortName)
				if err != nil {
					return err
				}
				if err := a.Engine.DeleteCarrier(ctx, c.ID, viper.GetString("actor-id")); err != nil {
					var busy engine.AlreadyOnMissionError
					if errors.As(err, &busy) {
						return fmt.Errorf("%s has an active mission; conclude it first", c.LongName)
					}
					return err
				}
				ok("deleted %s", c.LongName)
				return nil
			})
		},
	}
	return cmd
}

func missionCmd() *cobra.Command {
	m := &cobra.Command{Use: "mission", Short: "Inspect active missions"}
	m.AddCommand(missionListCmd())
	m.AddCommand(missionShowCmd())
	return m
}

func missionListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List active missions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Engine.Missions(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"Carrier", "Kind", "Commodity", "Station", "System", "Profit", "Pads", "Demand", "Targets"})
				for _, m := range items {
					tw.AppendRow(table.Row{m.CarrierName, m.Kind, m.Commodity, m.Station, m.System, destination.FormatProfit(m.Profit), m.Pads, m.Demand, m.Targets.String()})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func missionShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <carrier>",
		Short: "Show a carrier's mission and where it was posted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				c, err := a.Repo.FindCarrier(ctx, args[0], repo.FieldShortName)
				if err != nil {
					return err
				}
				m, err := a.Repo.FindMissionByCarrierID(ctx, c.ID)
				if errors.Is(err, repo.ErrNotFound) {
					warn("%s has no active mission", c.LongName)
					return nil
				}
				if err != nil {
					return err
				}
				return printJSONOrTable(m)
			})
		},
	}
}
