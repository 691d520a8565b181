package main

import (
	"fmt"
	"os"

	"github.com/MarcoPoloResearchLab/sketchroom/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func main() {
	if err := newRootCommand(config.NewViper()).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand(configViper *viper.Viper) *cobra.Command {
	var cfgFile string
	rootCmd := &cobra.Command{
		Use:           "sketchroom-api",
		Short:         "Sketchroom collaborative canvas room server",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return readConfigFile(configViper, cfgFile)
		},
	}

	defaults := config.NewViper()
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "Path to configuration file")
	flags.String("database-path", defaults.GetString("database.path"), "SQLite database path")
	flags.String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	bindFlag(configViper, rootCmd, "database.path", "database-path")
	bindFlag(configViper, rootCmd, "log.level", "log-level")

	rootCmd.AddCommand(
		newServeCommand(configViper, defaults),
		newExportCommand(configViper, defaults),
		newJoinCommand(configViper),
	)
	return rootCmd
}

func newServeCommand(configViper, defaults *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve rooms over HTTP and websocket",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), configViper)
		},
	}
	flags := cmd.PersistentFlags()
	flags.String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	flags.String("redis-url", defaults.GetString("redis.url"), "Redis URL for the presence mirror (empty disables it)")
	flags.Int("presence-ttl-seconds", defaults.GetInt("presence.ttl_seconds"), "Presence mirror TTL in seconds")
	flags.Bool("mdns", defaults.GetBool("mdns.enabled"), "Advertise the server over mDNS")
	flags.String("mdns-instance", defaults.GetString("mdns.instance"), "mDNS instance name")
	bindFlag(configViper, cmd, "http.address", "http-address")
	bindFlag(configViper, cmd, "redis.url", "redis-url")
	bindFlag(configViper, cmd, "presence.ttl_seconds", "presence-ttl-seconds")
	bindFlag(configViper, cmd, "mdns.enabled", "mdns")
	bindFlag(configViper, cmd, "mdns.instance", "mdns-instance")
	return cmd
}

func newExportCommand(configViper, defaults *viper.Viper) *cobra.Command {
	var options exportOptions
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Render a room's document to PDF or PNG",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(cmd.Context(), configViper, options, cmd.OutOrStdout())
		},
	}
	flags := cmd.PersistentFlags()
	flags.StringVar(&options.room, "room", "", "Room to export")
	flags.StringVar(&options.format, "format", "", "Output format: pdf or png (defaults to the output extension)")
	flags.StringVarP(&options.output, "output", "o", "", "Output file ('-' writes to stdout)")
	flags.Int("width", defaults.GetInt("export.width"), "Page width in pixels")
	flags.Int("height", defaults.GetInt("export.height"), "Page height in pixels")
	bindFlag(configViper, cmd, "export.width", "width")
	bindFlag(configViper, cmd, "export.height", "height")
	return cmd
}

func newJoinCommand(configViper *viper.Viper) *cobra.Command {
	var options joinOptions
	cmd := &cobra.Command{
		Use:   "join",
		Short: "Join a room as a participant and drive it with commands read from stdin",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJoin(cmd.Context(), configViper, options, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	flags := cmd.PersistentFlags()
	flags.StringVar(&options.server, "server", "http://localhost:8080", "Base URL of the room server")
	flags.StringVar(&options.room, "room", "", "Room to join")
	flags.Float64Var(&options.width, "width", 1280, "Canvas width in pixels")
	flags.Float64Var(&options.height, "height", 720, "Canvas height in pixels")
	return cmd
}

func bindFlag(configViper *viper.Viper, cmd *cobra.Command, key, flag string) {
	if err := configViper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func readConfigFile(configViper *viper.Viper, cfgFile string) error {
	if cfgFile == "" {
		return nil
	}
	configViper.SetConfigFile(cfgFile)
	if err := configViper.ReadInConfig(); err != nil {
		return fmt.Errorf("read config %s: %w", cfgFile, err)
	}
	return nil
}
