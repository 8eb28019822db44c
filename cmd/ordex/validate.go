package main

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/ordexlabs/ordex/pkg/config"
)

// ValidateCmd validates a configuration file without running anything.
type ValidateCmd struct {
	Config      string `arg:"" name:"config" help:"Configuration file path." type:"path"`
	PrintConfig bool   `short:"p" name:"print-config" help:"Print the effective configuration with defaults applied and environment variables resolved."`
}

func (c *ValidateCmd) Run() error {
	cfg, err := config.Load(c.Config)
	if err != nil {
		return fmt.Errorf("%s: %w", c.Config, err)
	}

	if c.PrintConfig {
		data, err := yaml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("failed to render configuration: %w", err)
		}
		fmt.Print(string(data))
		return nil
	}

	fmt.Printf("%s: configuration is valid\n", c.Config)
	return nil
}
