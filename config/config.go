// Package config loads the daemon's INI-shaped configuration file (§6):
// which hosts serve which backend family, which backend module and path
// template each family uses, and the operation size limit. Parsed with
// gopkg.in/ini.v1, the ecosystem's INI library (there is no INI parser
// anywhere in the retrieval pack to ground this on, so this is the one
// justified out-of-pack pick named in the DOMAIN STACK).
package config

import (
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/ini.v1"

	"github.com/juleafs/julea/backend"
)

// Server is one host:port pair serving a backend family.
type Server struct {
	Host string
	Port uint16
}

// BackendConfig names the module and storage-path template for one
// backend family. PathTemplate may contain a "{PORT}" placeholder,
// substituted with the serving port at startup.
type BackendConfig struct {
	Name         string
	PathTemplate string
}

// Config is the immutable, parsed configuration. Construct with Load.
type Config struct {
	servers          map[backend.Type][]Server
	backends         map[backend.Type]BackendConfig
	maxOperationSize uint64
}

// Load parses path as an INI file shaped per §6: a [servers] section with
// comma-separated host:port lists keyed by backend-type name, a
// [backend] section with "<type>" and "<type>_path" keys, and a [limits]
// section with max_operation_size.
func Load(path string) (*Config, error) {
	f, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("config: load %s: %w", path, err)
	}
	return fromFile(f)
}

func fromFile(f *ini.File) (*Config, error) {
	c := &Config{
		servers:  make(map[backend.Type][]Server),
		backends: make(map[backend.Type]BackendConfig),
	}

	serversSec := f.Section("servers")
	for _, t := range []backend.Type{backend.TypeObject, backend.TypeKV, backend.TypeDB} {
		key := serversSec.Key(t.String())
		if key.String() == "" {
			continue
		}
		servers, err := parseServers(key.String())
		if err != nil {
			return nil, fmt.Errorf("config: [servers] %s: %w", t, err)
		}
		c.servers[t] = servers
	}

	backendSec := f.Section("backend")
	for _, t := range []backend.Type{backend.TypeObject, backend.TypeKV, backend.TypeDB} {
		name := backendSec.Key(t.String()).String()
		if name == "" {
			continue
		}
		path := backendSec.Key(t.String() + "_path").String()
		c.backends[t] = BackendConfig{Name: name, PathTemplate: path}
	}

	limitsSec := f.Section("limits")
	maxOp, err := limitsSec.Key("max_operation_size").Uint64()
	if err != nil {
		maxOp = 0
	}
	c.maxOperationSize = maxOp

	return c, nil
}

func parseServers(raw string) ([]Server, error) {
	var out []Server
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		host, portStr, err := splitHostPort(entry)
		if err != nil {
			return nil, err
		}
		port, err := strconv.ParseUint(portStr, 10, 16)
		if err != nil {
			return nil, fmt.Errorf("invalid port in %q: %w", entry, err)
		}
		out = append(out, Server{Host: host, Port: uint16(port)})
	}
	return out, nil
}

func splitHostPort(entry string) (host, port string, err error) {
	i := strings.LastIndex(entry, ":")
	if i < 0 {
		return "", "", fmt.Errorf("missing port in %q", entry)
	}
	return entry[:i], entry[i+1:], nil
}

// Servers returns the configured host:port list for a backend family.
func (c *Config) Servers(t backend.Type) []Server { return c.servers[t] }

// Backend returns the module name and path template configured for a
// backend family.
func (c *Config) Backend(t backend.Type) (BackendConfig, bool) {
	b, ok := c.backends[t]
	return b, ok
}

// MaxOperationSize is the configured [limits] max_operation_size, or 0 if
// unset (no limit enforced).
func (c *Config) MaxOperationSize() uint64 { return c.maxOperationSize }

// BackendPath resolves a backend family's path template, substituting
// "{PORT}" with port.
func (c *Config) BackendPath(t backend.Type, port uint16) (string, bool) {
	b, ok := c.backends[t]
	if !ok {
		return "", false
	}
	return strings.ReplaceAll(b.PathTemplate, "{PORT}", strconv.Itoa(int(port))), true
}

// HostsBackend reports whether host:port is configured to serve t,
// mirroring server.c's jd_is_server_for_backend.
func (c *Config) HostsBackend(host string, port uint16, t backend.Type) bool {
	for _, s := range c.servers[t] {
		if s.Host == host && s.Port == port {
			return true
		}
	}
	return false
}
