package cmd

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/marcus/cadence/internal/config"
	"github.com/marcus/cadence/internal/output"
	"github.com/marcus/cadence/internal/suggest"
	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:     "config",
	Short:   "Manage cadence configuration",
	GroupID: "system",
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a config value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, val := args[0], args[1]

		if err := cfg.Set(key, val); err != nil {
			output.Error("%v", err)
			if errors.Is(err, config.ErrUnknownKey) {
				printKeyHint(key)
			}
			return err
		}
		if err := saveConfig(); err != nil {
			output.Error("save config: %v", err)
			return err
		}

		output.Success("set %s = %s", key, maskSecret(key, val))
		return nil
	},
}

var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Get the effective value of a config key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, kv := range effectiveConfig() {
			if kv[0] == args[0] {
				fmt.Println(kv[1])
				return nil
			}
		}
		err := fmt.Errorf("%w: %s", config.ErrUnknownKey, args[0])
		output.Error("%v", err)
		printKeyHint(args[0])
		return err
	},
}

var configListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"show"},
	Short:   "List effective config values (environment overrides applied)",
	RunE: func(cmd *cobra.Command, args []string) error {
		values := effectiveConfig()
		if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
			m := make(map[string]string, len(values))
			for _, kv := range values {
				m[kv[0]] = kv[1]
			}
			return output.JSON(m)
		}
		for _, kv := range values {
			fmt.Printf("%-28s %s\n", kv[0], kv[1])
		}
		return nil
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the config file path",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := config.Path()
		if err != nil {
			output.Error("%v", err)
			return err
		}
		fmt.Println(path)
		return nil
	},
}

var configKeysCmd = &cobra.Command{
	Use:   "keys",
	Short: "List the keys accepted by config set",
	Run: func(cmd *cobra.Command, args []string) {
		for _, k := range config.Keys() {
			fmt.Println(k)
		}
	},
}

// effectiveConfig lists the resolved settings in display order.
func effectiveConfig() [][2]string {
	dataDir, err := cfg.DataPath()
	if err != nil {
		dataDir = "(" + err.Error() + ")"
	}
	tz := "(local)"
	if loc, err := cfg.Location(); err == nil && cfg.Timezone != "" {
		tz = loc.String()
	}
	return [][2]string{
		{"data_dir", dataDir},
		{"timezone", tz},
		{"occurrence_cap", strconv.Itoa(cfg.Cap())},
		{"sync.url", cfg.SyncURL()},
		{"sync.api_key", maskSecret("sync.api_key", cfg.SyncAPIKey())},
		{"sync.channel", cfg.SyncChannel()},
		{"sync.batch_size", strconv.Itoa(cfg.SyncBatchSize())},
		{"sync.ack_capacity", strconv.Itoa(cfg.SyncAckCapacity())},
		{"sync.min_pull_interval", cfg.MinPullInterval().String()},
		{"sync.follow_up_delay", cfg.FollowUpDelay().String()},
		{"sync.interval", cfg.SyncInterval().String()},
		{"sync.debounce", cfg.SyncDebounce().String()},
		{"providers.backend_url", cfg.Providers.BackendURL},
		{"providers.backend_key", maskSecret("providers.backend_key", cfg.Providers.BackendKey)},
		{"providers.google.client_id", cfg.Providers.Google.ClientID},
		{"providers.google.client_secret", maskSecret("client_secret", cfg.Providers.Google.ClientSecret)},
		{"providers.outlook.client_id", cfg.Providers.Outlook.ClientID},
		{"providers.outlook.client_secret", maskSecret("client_secret", cfg.Providers.Outlook.ClientSecret)},
		{"providers.look_back", cfg.LookBack().String()},
		{"providers.look_ahead", cfg.LookAhead().String()},
		{"providers.first_look_ahead", cfg.FirstLookAhead().String()},
		{"providers.refresh", cfg.RefreshSchedule()},
	}
}

// maskSecret hides all but the last four characters of credential values.
func maskSecret(key, val string) string {
	if val == "" || !(strings.HasSuffix(key, "key") || strings.HasSuffix(key, "secret")) {
		return val
	}
	if len(val) <= 4 {
		return "****"
	}
	return "****" + val[len(val)-4:]
}

func printKeyHint(key string) {
	if similar := suggest.Similar(key, config.Keys()); len(similar) > 0 {
		fmt.Println("Did you mean:", strings.Join(similar, ", "))
		return
	}
	fmt.Println("Run 'cadence config keys' to list valid keys")
}

func saveConfig() error {
	path, err := config.Path()
	if err != nil {
		return err
	}
	return config.Save(path, cfg)
}

func feedConfig(id, url string) config.FeedConfig {
	return config.FeedConfig{ID: id, URL: url}
}

func init() {
	configListCmd.Flags().Bool("json", false, "JSON output")

	configCmd.AddCommand(configSetCmd, configGetCmd, configListCmd, configPathCmd, configKeysCmd)
	rootCmd.AddCommand(configCmd)
}
