package main

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"missionline/internal/app"
	"missionline/internal/config"
	"missionline/internal/db"
	"missionline/internal/repo"
)

var rootCmd = &cobra.Command{
	Use:   "ml",
	Short: "Missionline CLI",
	Long: `Missionline coordinates fleet-carrier trade missions.
- Carriers: registered ships with an owner and a mission channel name.
- Missions: one active load or unload per carrier, published to chat, the discussion site and webhooks.
- Retirement: completing or failing a mission retires every post and deletes the channel after a delay.
- Maintenance: owners idle past the inactivity threshold lose the owner role; orphan mission channels are cleaned at startup.
- Event log: every lifecycle step is recorded, view with 'ml log tail'.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return app.LoadEnv(workspace)
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, color.New(color.FgRed).Sprint("error:"), err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("MISSIONLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().String("platform", app.PlatformLocal, "platform backend")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	for _, name := range []string{"workspace", "json", "actor-id", "platform", "log-level"} {
		_ = viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(carrierCmd())
	rootCmd.AddCommand(missionCmd())
	rootCmd.AddCommand(webhookCmd())
	rootCmd.AddCommand(nominateCmd())
	rootCmd.AddCommand(communityCmd())
	rootCmd.AddCommand(apiKeyCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(maintenanceCmd())
	rootCmd.AddCommand(serveCmd())
}

func initCmd() *cobra.Command {
	var guild string
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create missionline.yml and a JWT secret in the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists; use --force to overwrite", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault(guild)), 0o644); err != nil {
				return err
			}
			fmt.Printf("%s wrote %s\n", color.New(color.FgGreen).Sprint("CREATE "), path)
			if os.Getenv("MISSIONLINE_JWT_SECRET") == "" {
				secret, err := randomHex(32)
				if err != nil {
					return err
				}
				envPath := filepath.Join(workspace, ".env")
				if err := setEnvValue(envPath, "MISSIONLINE_JWT_SECRET", secret); err != nil {
					return err
				}
				fmt.Printf("%s MISSIONLINE_JWT_SECRET in %s\n", color.New(color.FgGreen).Sprint("CREATE "), envPath)
			} else {
				fmt.Printf("%s MISSIONLINE_JWT_SECRET already set\n", color.New(color.FgBlue).Sprint("EXISTS "))
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				fmt.Printf("%s database at %s\n", color.New(color.FgGreen).Sprint("READY  "), db.Path(workspace))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&guild, "guild", "", "chat guild id")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config")
	return cmd
}

func logCmd() *cobra.Command {
	l := &cobra.Command{Use: "log", Short: "Event log"}
	l.AddCommand(logTailCmd())
	return l
}

func logTailCmd() *cobra.Command {
	var f repo.EventFilter
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Repo.LatestEvents(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "Time", "Type", "Entity", "Actor", "Payload"})
				for _, e := range items {
					tw.AppendRow(table.Row{e.ID, e.TS, e.Type, e.EntityKind + ":" + e.EntityID, e.ActorID, e.Payload})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&f.Limit, "n", 20, "number of events")
	cmd.Flags().StringVar(&f.Type, "type", "", "event type filter")
	cmd.Flags().StringVar(&f.EntityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&f.EntityID, "entity-id", "", "entity id")
	return cmd
}

// --- helpers ---

func newLogger() *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(viper.GetString("log-level"))); err != nil {
		level = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	a, err := app.Open(app.Options{
		Workspace: viper.GetString("workspace"),
		Platform:  viper.GetString("platform"),
		Logger:    newLogger(),
	})
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func newTable() table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.SetStyle(table.StyleLight)
	return tw
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func setEnvValue(path, key, value string) error {
	var lines []string
	seen := false
	f, err := os.Open(path)
	if err == nil {
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			line := scanner.Text()
			if strings.HasPrefix(line, key+"=") {
				lines = append(lines, fmt.Sprintf("%s=%s", key, value))
				seen = true
			} else {
				lines = append(lines, line)
			}
		}
		if err := scanner.Err(); err != nil {
			f.Close()
			return err
		}
		f.Close()
	} else if !os.IsNotExist(err) {
		return err
	}
	if !seen {
		lines = append(lines, fmt.Sprintf("%s=%s", key, value))
	}
	content := strings.Join(lines, "\n")
	if content != "" && !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	return os.WriteFile(path, []byte(content), 0o600)
}

func optionalString(cmd *cobra.Command, flag, value string) *string {
	if !cmd.Flags().Changed(flag) {
		return nil
	}
	return &value
}

func ok(format string, args ...any) {
	fmt.Printf("%s %s\n", color.New(color.FgGreen).Sprint("✓"), fmt.Sprintf(format, args...))
}

func warn(format string, args ...any) {
	fmt.Printf("%s %s\n", color.New(color.FgYellow).Sprint("!"), fmt.Sprintf(format, args...))
}
