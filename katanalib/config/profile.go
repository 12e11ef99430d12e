// Copyright 2024 The Katana Authors
// This file is part of Katana.
//
// Katana is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Katana is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with Katana. If not, see <http://www.gnu.org/licenses/>.

// Package config holds the TOML-encoded configuration surfaces this
// sequencer loads at startup: the world/profile manifest and the RPC server
// limits. Encoding follows the teacher's own choice of
// github.com/pelletier/go-toml/v2 over the stdlib encoding/json for
// human-edited config files.
package config

import (
	"fmt"
	"net"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// WorldConfig is the `[world]` table of a profile manifest: the
// human-facing description of a deployment, per spec.md §6.
type WorldConfig struct {
	Name        string `toml:"name"`
	Description string `toml:"description,omitempty"`
	Seed        string `toml:"seed,omitempty"`
	CoverURI    string `toml:"cover_uri,omitempty"`
	Website     string `toml:"website,omitempty"`
	Socials     []SocialLink `toml:"socials,omitempty"`
}

type SocialLink struct {
	Name string `toml:"name"`
	URL  string `toml:"url"`
}

// NamespaceConfig is the `[namespace]` table: the default Starknet
// contract namespace new accounts and classes are seeded under.
type NamespaceConfig struct {
	Default string `toml:"default,omitempty"`
}

// ProfileConfig is the top-level `katana.toml` profile manifest.
type ProfileConfig struct {
	World     WorldConfig     `toml:"world"`
	Namespace NamespaceConfig `toml:"namespace"`
}

// LoadProfile reads and decodes a profile manifest from path.
func LoadProfile(path string) (*ProfileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profile %s: %w", path, err)
	}
	var cfg ProfileConfig
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("decode profile %s: %w", path, err)
	}
	return &cfg, nil
}

// Default RPC server limits, grounded on the original implementation's
// config/rpc.rs defaults (DEFAULT_RPC_ADDR/PORT and the per-method caps).
const (
	DefaultRPCPort            = 5050
	DefaultMaxEventPageSize   = 1024
	DefaultMaxProofKeys       = 100
	DefaultMaxCallGas         = 1_000_000_000
)

// RPCModule names an RPC namespace that can be toggled on or off.
type RPCModule string

const (
	RPCModuleStarknet RPCModule = "starknet"
	RPCModuleDev      RPCModule = "dev"
	RPCModuleTorii    RPCModule = "torii"
)

// RPCConfig mirrors the original RpcConfig: listen address, enabled
// modules, CORS origins, and per-method resource caps.
type RPCConfig struct {
	Addr                string      `toml:"addr"`
	Port                uint16      `toml:"port"`
	Modules             []RPCModule `toml:"modules"`
	CORSOrigins         []string    `toml:"cors_origins,omitempty"`
	MaxConnections      *uint32     `toml:"max_connections,omitempty"`
	MaxRequestBodySize  *uint32     `toml:"max_request_body_size,omitempty"`
	MaxResponseBodySize *uint32     `toml:"max_response_body_size,omitempty"`
	MaxProofKeys        *uint64     `toml:"max_proof_keys,omitempty"`
	MaxEventPageSize    *uint64     `toml:"max_event_page_size,omitempty"`
	MaxCallGas          *uint64     `toml:"max_call_gas,omitempty"`
}

// DefaultRPCConfig returns the Starknet-only localhost default, matching
// the original implementation's Default impl for RpcConfig.
func DefaultRPCConfig() RPCConfig {
	pageSize := uint64(DefaultMaxEventPageSize)
	proofKeys := uint64(DefaultMaxProofKeys)
	callGas := uint64(DefaultMaxCallGas)
	return RPCConfig{
		Addr:             "127.0.0.1",
		Port:             DefaultRPCPort,
		Modules:          []RPCModule{RPCModuleStarknet},
		MaxEventPageSize: &pageSize,
		MaxProofKeys:     &proofKeys,
		MaxCallGas:       &callGas,
	}
}

// SocketAddr renders the host:port pair net.Listen expects.
func (c RPCConfig) SocketAddr() string {
	return net.JoinHostPort(c.Addr, fmt.Sprintf("%d", c.Port))
}

// HasModule reports whether module is enabled.
func (c RPCConfig) HasModule(m RPCModule) bool {
	for _, e := range c.Modules {
		if e == m {
			return true
		}
	}
	return false
}
