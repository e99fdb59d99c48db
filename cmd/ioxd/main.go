/*
 *
 * Copyright 2025 iceoryx-go authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 *
 */

// Command ioxd is the shared memory middleware daemon: it lays out the
// segments, services the control channel, and reaps dead applications.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/urfave/cli"

	"github.com/SyPeter/iceoryx/internal/config"
	"github.com/SyPeter/iceoryx/internal/daemon"
)

var version = "0.1.0"

// Exit codes of the daemon CLI.
const (
	exitOK        = 0
	exitConfig    = 64
	exitShmFailed = 71
	exitIpcFailed = 74
)

func main() {
	app := cli.NewApp()
	app.Name = "ioxd"
	app.Version = version
	app.Usage = "zero-copy shared memory pub/sub daemon"

	configFlag := cli.StringFlag{
		Name:   "config, c",
		Usage:  "Load configuration from `FILE`",
		EnvVar: "IOX_CONFIG",
		Value:  "configs/ioxd.json",
	}

	app.Commands = []cli.Command{
		{
			Name:  "start",
			Usage: "start the daemon",
			Flags: []cli.Flag{configFlag},
			Action: func(c *cli.Context) error {
				return runDaemon(c.String("config"))
			},
		},
	}

	// `ioxd --config <path>` starts directly, `ioxd` prints help.
	app.Flags = []cli.Flag{configFlag}
	app.Action = func(c *cli.Context) error {
		if c.IsSet("config") {
			return runDaemon(c.String("config"))
		}
		cli.ShowAppHelp(c)
		return nil
	}

	_ = app.Run(os.Args)
}

func runDaemon(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(exitConfig)
	}

	logger, err := daemon.NewLogger(cfg.LogOutput, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(exitConfig)
	}

	d, err := daemon.New(cfg, logger)
	if err != nil {
		logger.Errorf("startup failed: %v", err)
		switch {
		case errors.Is(err, daemon.ErrShmSetup):
			os.Exit(exitShmFailed)
		case errors.Is(err, daemon.ErrIpcSetup):
			os.Exit(exitIpcFailed)
		default:
			os.Exit(exitConfig)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Infof("received %v, shutting down", sig)
		cancel()
	}()

	logger.Infof("ioxd %s listening on %s", version, d.ChannelPath())
	d.Run(ctx)

	os.Exit(exitOK)
	return nil
}
