// Copyright (c) 2020-2025 Zhang Jingcheng <diogin@gmail.com>.
// Copyright (c) 2022-2024 HexInfra Co., Ltd.
// All rights reserved.
// Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.

// The worker process binary. It is exec'd once per worker by a leader
// process that has already bound the listening sockets and the IPC pipe;
// this binary never binds a data-plane socket itself, only inherits
// descriptors named on the command line (spec §6). The one socket it binds
// is the loopback /metrics listener.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hexinfra/shrpx/internal/config"
	"github.com/hexinfra/shrpx/internal/metrics"
	"github.com/hexinfra/shrpx/internal/passthrough"
	"github.com/hexinfra/shrpx/internal/process"
)

var (
	cfgFile    string
	metricAddr string
)

var rootCmd = &cobra.Command{
	Use:     "shrpx-worker",
	Version: "development",
	Short:   "the worker process core of an HTTP/2 reverse proxy",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cmd.SilenceUsage = true
		cmd.SilenceErrors = true
		return run(cmd.Context())
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (env and flags always take precedence)")
	flags.StringVar(&metricAddr, "metrics-addr", "127.0.0.1:0", "loopback address to serve /metrics on")

	flags.Int("num-worker", 1, "number of worker threads")
	flags.Int("uid", 0, "uid to drop privileges to")
	flags.Int("gid", 0, "gid to drop privileges to")
	flags.String("user", "", "user name to drop privileges to (resolves supplementary groups)")
	flags.Bool("upstream-no-tls", false, "disable TLS on the upstream-facing acceptors")
	flags.Bool("no-ocsp", false, "disable OCSP stapling")
	flags.String("tls-ticket-key-cipher", "aes-128-cbc", "aes-128-cbc or aes-256-cbc")
	flags.StringSlice("tls-ticket-key-files", nil, "ticket key files, active key first")
	flags.String("tls-ticket-key-memcached-host", "", "redis host:port serving remote ticket keys")
	flags.Duration("tls-session-timeout", 0, "TLS session ticket lifetime")
	flags.Int("server-fd", config.AbsentFD, "inherited IPv4 listening descriptor")
	flags.Int("server-fd6", config.AbsentFD, "inherited IPv6 listening descriptor")
	flags.Int("ipc-fd", config.AbsentFD, "inherited IPC pipe descriptor")
	flags.String("log-file", "", "worker log file path (empty logs to stderr)")

	v := viper.GetViper()
	v.BindPFlag("num_worker", flags.Lookup("num-worker"))
	v.BindPFlag("uid", flags.Lookup("uid"))
	v.BindPFlag("gid", flags.Lookup("gid"))
	v.BindPFlag("user", flags.Lookup("user"))
	v.BindPFlag("upstream_no_tls", flags.Lookup("upstream-no-tls"))
	v.BindPFlag("no_ocsp", flags.Lookup("no-ocsp"))
	v.BindPFlag("tls_ticket_key_cipher", flags.Lookup("tls-ticket-key-cipher"))
	v.BindPFlag("tls_ticket_key_files", flags.Lookup("tls-ticket-key-files"))
	v.BindPFlag("tls_ticket_key_memcached_host", flags.Lookup("tls-ticket-key-memcached-host"))
	v.BindPFlag("tls_session_timeout", flags.Lookup("tls-session-timeout"))
	v.BindPFlag("server_fd", flags.Lookup("server-fd"))
	v.BindPFlag("server_fd6", flags.Lookup("server-fd6"))
	v.BindPFlag("ipc_fd", flags.Lookup("ipc-fd"))
	v.BindPFlag("log_file", flags.Lookup("log-file"))
	v.SetEnvPrefix("shrpx_worker")
	v.AutomaticEnv()
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	v := viper.GetViper()
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return err
		}
	}

	cfg, err := config.Load(v)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	metricsSrv, err := metrics.NewServer(metricAddr, reg)
	if err != nil {
		return err
	}
	go metricsSrv.Serve()
	defer metricsSrv.Close(context.Background())

	wp, err := process.New(cfg, passthrough.NewHandler(cfg.UpstreamNoTLS), reg)
	if err != nil {
		return err
	}
	return wp.Run(ctx)
}
