package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/sandevgo/recall/internal/config"
	"github.com/sandevgo/recall/pkg/env"
	"github.com/sandevgo/recall/pkg/log"
	"github.com/spf13/cobra"
)

var writeEnv bool

var configCmd = &cobra.Command{
	Use:          "config",
	Short:        "Show the effective configuration as .env",
	Long:         `Prints the effective configuration without secrets. With --write the defaults are saved to <runtime>/.env unless that file exists.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, flushLog := setupLogger(cmd.Context())
		defer flushLog()

		runtimePath := config.GetRuntimePath()
		if err := initEnv(ctx, runtimePath); err != nil {
			return err
		}
		cfg, err := config.LoadAppConfig()
		if err != nil {
			return err
		}

		out, err := env.MarshalEnv(cfg)
		if err != nil {
			return err
		}

		if !writeEnv {
			fmt.Fprint(cmd.OutOrStdout(), out)
			return nil
		}

		envPath := filepath.Join(runtimePath, ".env")
		if _, err := os.Stat(envPath); err == nil {
			return fmt.Errorf("%s already exists", envPath)
		}
		if err := os.MkdirAll(runtimePath, 0755); err != nil {
			return fmt.Errorf("create runtime directory: %w", err)
		}
		if err := os.WriteFile(envPath, []byte(out), 0600); err != nil {
			return fmt.Errorf("write %s: %w", envPath, err)
		}

		log.FromCtx(ctx).Info().Str("path", envPath).Msg("configuration written")
		return nil
	},
}

func init() {
	configCmd.Flags().BoolVarP(&writeEnv, "write", "w", false, "write the configuration to <runtime>/.env")
	rootCmd.AddCommand(configCmd)
}
