// Copyright (c) 2020-2025 Zhang Jingcheng <diogin@gmail.com>.
// Copyright (c) 2022-2024 HexInfra Co., Ltd.
// All rights reserved.
// Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.

// Worker process configuration. Flag-grammar and config-file-format design
// are out of scope (spec §1): this package only binds the fields spec §6
// names onto a *viper.Viper the caller has already populated from
// whichever sources it likes (flags, env, file).
package config

import (
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/hexinfra/shrpx/internal/ticketkey"
)

// AbsentFD is the sole sentinel meaning "no descriptor inherited"; see
// accept.AbsentFD and the Open Question resolved in SPEC_FULL.md §6.
const AbsentFD = -1

// WorkerProcessConfig mirrors the "Configuration inputs consumed" and
// "Inherited descriptors" of spec §6.
type WorkerProcessConfig struct {
	NumWorker int

	UID  int
	GID  int
	User string

	UpstreamNoTLS bool
	NoOCSP        bool

	TicketKeyCipher      ticketkey.Cipher
	TicketKeyCipherGiven bool
	TicketKeyFiles       []string

	// TicketKeyRedisHost, when non-empty, selects the RemoteKeyFetcher (C4)
	// over the local TicketKeyRotator (C3). The config key retains its
	// original "tls_ticket_key_memcached_host" name for operator
	// familiarity even though the backend wired in this module is Redis
	// (see SPEC_FULL.md §2.1).
	TicketKeyRedisHost string

	TLSSessionTimeout time.Duration

	ServerFD  int
	ServerFD6 int
	IPCFD     int

	LogFile string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("num_worker", 1)
	v.SetDefault("upstream_no_tls", false)
	v.SetDefault("no_ocsp", false)
	v.SetDefault("tls_ticket_key_cipher", "aes-128-cbc")
	v.SetDefault("tls_session_timeout", "12h")
	v.SetDefault("server_fd", AbsentFD)
	v.SetDefault("server_fd6", AbsentFD)
	v.SetDefault("ipc_fd", AbsentFD)
}

// Load reads a WorkerProcessConfig out of v. v is expected to already have
// its sources (flags/env/file) configured by the caller; Load applies
// defaults and type coercion, and rejects an unsupported
// tls_ticket_key_cipher, a non-positive tls_session_timeout, and
// num_worker < 1.
func Load(v *viper.Viper) (*WorkerProcessConfig, error) {
	// checked before setDefaults populates v's default map, which would
	// otherwise make every key look "set".
	cipherGiven := v.IsSet("tls_ticket_key_cipher")

	setDefaults(v)

	cipherName := v.GetString("tls_ticket_key_cipher")
	cipher, err := parseCipher(cipherName)
	if err != nil {
		return nil, err
	}

	timeout := v.GetDuration("tls_session_timeout")
	if timeout <= 0 {
		return nil, errors.New("config: tls_session_timeout must be positive")
	}

	cfg := &WorkerProcessConfig{
		NumWorker:            v.GetInt("num_worker"),
		UID:                  v.GetInt("uid"),
		GID:                  v.GetInt("gid"),
		User:                 v.GetString("user"),
		UpstreamNoTLS:        v.GetBool("upstream_no_tls"),
		NoOCSP:               v.GetBool("no_ocsp"),
		TicketKeyCipher:      cipher,
		TicketKeyCipherGiven: cipherGiven,
		TicketKeyFiles:       v.GetStringSlice("tls_ticket_key_files"),
		TicketKeyRedisHost:   v.GetString("tls_ticket_key_memcached_host"),
		TLSSessionTimeout:    timeout,
		ServerFD:             v.GetInt("server_fd"),
		ServerFD6:            v.GetInt("server_fd6"),
		IPCFD:                v.GetInt("ipc_fd"),
		LogFile:              v.GetString("log_file"),
	}
	if cfg.NumWorker < 1 {
		return nil, errors.New("config: num_worker must be >= 1")
	}
	return cfg, nil
}

func parseCipher(name string) (ticketkey.Cipher, error) {
	switch name {
	case "aes-128-cbc", "":
		return ticketkey.AES128CBC, nil
	case "aes-256-cbc":
		return ticketkey.AES256CBC, nil
	default:
		return 0, errors.Errorf("config: unsupported tls_ticket_key_cipher %q", name)
	}
}

// UsesRemoteKeyFetcher reports whether C4 (RemoteKeyFetcher) should be used
// in place of C3 (TicketKeyRotator), per spec §6.
func (c *WorkerProcessConfig) UsesRemoteKeyFetcher() bool { return c.TicketKeyRedisHost != "" }

// UsesTicketKeyFiles reports whether the ticket-key set should be loaded
// once at startup from TicketKeyFiles, bypassing C3. It is consulted only
// when UsesRemoteKeyFetcher is false: the remote fetcher takes precedence
// over files whenever both are configured (spec §6).
func (c *WorkerProcessConfig) UsesTicketKeyFiles() bool { return len(c.TicketKeyFiles) > 0 }
