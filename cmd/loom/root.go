package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"loom/internal/config"
)

type commandContext struct {
	addrFlag   *string
	configFlag *string

	cfg *config.Config
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	if c.cfg != nil {
		return c.cfg, nil
	}
	cfg, _, _, err := config.Load(strings.TrimSpace(*c.configFlag))
	if err != nil {
		return nil, err
	}
	c.cfg = cfg
	return cfg, nil
}

// baseURL resolves the daemon address from the --addr flag or the config.
func (c *commandContext) baseURL() (string, error) {
	addr := strings.TrimSpace(*c.addrFlag)
	if addr == "" {
		cfg, err := c.ensureConfig()
		if err != nil {
			return "", err
		}
		addr = strings.TrimSpace(cfg.Paths.APIBind)
	}
	if addr == "" {
		return "", fmt.Errorf("no daemon address configured, set paths.api_bind or pass --addr")
	}
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	return strings.TrimSuffix(addr, "/"), nil
}

func (c *commandContext) client() (*apiClient, error) {
	base, err := c.baseURL()
	if err != nil {
		return nil, err
	}
	return newAPIClient(base), nil
}

func newRootCommand() *cobra.Command {
	var addrFlag string
	var configFlag string

	ctx := &commandContext{addrFlag: &addrFlag, configFlag: &configFlag}

	rootCmd := &cobra.Command{
		Use:           "loom",
		Short:         "Loom workflow CLI",
		Long:          "Submit prompts, inspect task progress, and approve drafts produced by the loom daemon.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVar(&addrFlag, "addr", "", "Daemon API address (host:port)")
	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Configuration file path")

	rootCmd.AddCommand(newSubmitCommand(ctx))
	rootCmd.AddCommand(newStatusCommand(ctx))
	rootCmd.AddCommand(newApproveCommand(ctx))
	rootCmd.AddCommand(newListCommand(ctx))
	rootCmd.AddCommand(newServeCommand(ctx))

	return rootCmd
}
