// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package cmd holds the stylus command tree.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/relabs-tech/inertial_stylus/internal/app"
	"github.com/relabs-tech/inertial_stylus/internal/config"
)

// runner is the body shared by every long-running command.
type runner func(ctx context.Context, cfg *config.Config) error

// withConfig loads the configuration, applies the log level and runs fn until
// SIGINT or SIGTERM.
func withConfig(fn runner) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Parse(cmd)
		if err != nil {
			return err
		}
		cfg.ApplyLogLevel()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return fn(ctx, cfg)
	}
}

// NewRootCmd builds the stylus command tree.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   config.DefaultAppName,
		Short: "orientation pipeline for a BLE inertial stylus",
		Long: `stylus decodes the 21-byte notifications of an inertial stylus, rescales
and conditions its accelerometer and gyroscope, and estimates roll, pitch and
yaw with a Mahony filter.

The configuration is looked up in this order:
1. path given by --config
2. path in the ` + config.EnvConfigPath + ` environment variable
3. $HOME/.config/stylus/config.yaml, /etc/stylus/config.yaml, current directory
Every key can be overridden by STYLUS_<SECTION>_<KEY>.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().String("config", "", "configuration file path")
	root.PersistentFlags().Bool("debug", false, "toggle debug logging")

	root.AddCommand(
		newProduceCmd(),
		newWebCmd(),
		newConsoleCmd(),
		newConsoleMQTTCmd(),
		newDisplayCmd(),
		newCalibrateCmd(),
		newDecodeCmd(),
		newInitCmd(),
	)
	return root
}

func newProduceCmd() *cobra.Command {
	return &cobra.Command{
		Use:        "produce",
		SuggestFor: []string{"prod", "run"},
		Short:      "read frames from the configured source and publish pose and telemetry to MQTT",
		Example:    "  stylus produce --config=/etc/stylus/config.yaml",
		Args:       cobra.NoArgs,
		RunE:       withConfig(app.RunProducer),
	}
}

func newWebCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "web",
		Short: "serve the latest pose and telemetry over HTTP and websocket",
		Args:  cobra.NoArgs,
		RunE:  withConfig(app.RunWeb),
	}
}

func newConsoleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "console",
		Short: "run the pipeline on the mock stylus and print the pose, no broker needed",
		Args:  cobra.NoArgs,
		RunE:  withConfig(app.RunMockConsole),
	}
}

func newConsoleMQTTCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "console-mqtt",
		Short: "print every pose, telemetry and raw message seen on the broker",
		Args:  cobra.NoArgs,
		RunE:  withConfig(app.RunConsoleMQTT),
	}
}

func newDisplayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "display",
		Short: "mirror the pose and battery on an SSD1306 OLED",
		Args:  cobra.NoArgs,
		RunE: withConfig(func(ctx context.Context, cfg *config.Config) error {
			if !cfg.Display.Enabled {
				log.Warn("display.enabled is false in the configuration, starting anyway")
			}
			return app.RunDisplay(ctx, cfg)
		}),
	}
}

func newCalibrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "calibrate",
		Short: "capture the static gyro bias while the stylus rests flat",
		Long: `calibrate reads calibration.samples frames from the configured source while
the stylus lies still, and writes the gyro bias with its confidence scores.
Point calibration.file at the result to have the producer apply it.`,
		Example: "  stylus calibrate -o ~/.config/stylus/calibration.yaml",
		Args:    cobra.NoArgs,
	}
	cmd.Flags().StringP("output", "o", "", "calibration output file (defaults to calibration.file)")
	cmd.RunE = withConfig(func(ctx context.Context, cfg *config.Config) error {
		out, _ := cmd.Flags().GetString("output")
		return app.RunCalibration(ctx, cfg, os.Stdin, os.Stdout, out)
	})
	return cmd
}

func newDecodeCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "decode <hex>",
		Short:   "decode one notification given as hex",
		Example: "  stylus decode NTF>c401010e740000012c000afff6080080007fff0000",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Parse(cmd)
			if err != nil {
				return err
			}
			out, err := app.DescribeFrame(strings.Join(args, ""), cfg)
			if err != nil {
				return err
			}
			_, err = fmt.Fprint(cmd.OutOrStdout(), out)
			return err
		},
	}
}

func newInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:        "init",
		SuggestFor: []string{"ini", "in"},
		Short:      "create a configuration template",
		Long: `init writes the default configuration.
With --print the template goes to stdout. Otherwise it is written to --output,
or to $HOME/.config/stylus/config.yaml. An existing file is kept unless --yes
is given.`,
		Example: `  stylus init --print
  stylus init -o /etc/stylus/config.yaml -y`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			printOnly, _ := cmd.Flags().GetBool("print")
			overwrite, _ := cmd.Flags().GetBool("yes")
			output, _ := cmd.Flags().GetString("output")

			if printOnly {
				b, err := config.Template()
				if err != nil {
					return err
				}
				_, err = cmd.OutOrStdout().Write(b)
				return err
			}
			if err := config.WriteTemplate(output, overwrite); err != nil {
				return err
			}
			log.Infof("configuration written to %s", output)
			return nil
		},
	}
	cmd.Flags().Bool("print", false, "print config to stdout")
	cmd.Flags().BoolP("yes", "y", false, "overwrite")
	cmd.Flags().StringP("output", "o", config.DefaultConfigPath, "output path")
	return cmd
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		log.Error(err)
		os.Exit(1)
	}
}
