// Package config loads the server's TLS material from the required CLI
// flags and an optional YAML overlay for soft-fail defaults (MOTD, seed
// rooms, listen address), following the teacher's server.yaml shape.
package config

import (
	"crypto/tls"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/wyrmforge/gameserver/internal/server"
)

// DefaultListenAddr is used when neither --listen nor the YAML overlay
// specifies one.
const DefaultListenAddr = "127.0.0.1:25252"

// File is the optional YAML overlay read from disk, matching the
// teacher's server.yaml field names where they overlap in purpose.
type File struct {
	ListenAddr string     `yaml:"listen_addr"`
	Motd       string     `yaml:"motd"`
	Rooms      []FileRoom `yaml:"rooms"`
}

// FileRoom is one seed room entry in the YAML overlay.
type FileRoom struct {
	ID   uint64 `yaml:"id"`
	Name string `yaml:"name"`
}

// LoadFile reads and parses the YAML overlay at path. A missing file is
// not an error: the caller just gets zero-value defaults.
func LoadFile(path string) (File, error) {
	var f File
	if path == "" {
		return f, nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return f, nil
	}
	if err != nil {
		return f, fmt.Errorf("config: reading %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &f); err != nil {
		return f, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return f, nil
}

// LoadTLS reads a PEM certificate and an RSA-PEM private key from disk and
// builds a server-side tls.Config with no client authentication.
func LoadTLS(certPath, keyPath string) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return nil, fmt.Errorf("config: loading TLS cert/key: %w", err)
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		ClientAuth:   tls.NoClientCert,
	}, nil
}

// BuildAcceptorConfig merges the YAML overlay with the resolved TLS config
// and the CLI-supplied listen address (which always wins over the
// overlay's, when both are non-empty).
func BuildAcceptorConfig(f File, tlsConfig *tls.Config, listenAddr string) server.Config {
	addr := listenAddr
	if addr == "" {
		addr = f.ListenAddr
	}
	if addr == "" {
		addr = DefaultListenAddr
	}

	motd := f.Motd
	if motd == "" {
		motd = "A Wyrmforge Server"
	}

	seeds := make([]server.SeedRoom, 0, len(f.Rooms))
	for _, r := range f.Rooms {
		seeds = append(seeds, server.SeedRoom{ID: r.ID, Name: r.Name})
	}

	return server.Config{
		ListenAddr: addr,
		TLSConfig:  tlsConfig,
		MOTD:       motd,
		SeedRooms:  seeds,
	}
}
