/*
 * Copyright (c) 2026 Francesco Biribo'
 *
 * Permission to use, copy, modify, and distribute this software for any purpose with or without fee is hereby granted, provided that the above copyright notice and this permission notice appear in all copies.
 *
 * THE SOFTWARE IS PROVIDED "AS IS" AND THE AUTHOR DISCLAIMS ALL WARRANTIES WITH REGARD TO THIS SOFTWARE INCLUDING ALL IMPLIED WARRANTIES OF MERCHANTABILITY AND FITNESS. IN NO EVENT SHALL THE AUTHOR BE LIABLE FOR ANY SPECIAL, DIRECT, INDIRECT, OR CONSEQUENTIAL DAMAGES OR ANY DAMAGES WHATSOEVER RESULTING FROM LOSS OF USE, DATA OR PROFITS, WHETHER IN AN ACTION OF CONTRACT, NEGLIGENCE OR OTHER TORTIOUS ACTION, ARISING OUT OF OR IN CONNECTION WITH THE USE OR PERFORMANCE OF THIS SOFTWARE.
 */

package internal

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	FolderPath     string   `json:"folder-path"`
	NodeId         uint64   `json:"node-id"`
	EnableLogging  bool     `json:"enable-logging"`
	DBName         string   `json:"db-name"`
	HTTPServerPort uint16   `json:"http-server-port"`
	HealthPort     uint16   `json:"health-port"`
	RelayPort      uint16   `json:"relay-port"`  // 0 disables the relay
	RelayPeers     []string `json:"relay-peers"` // host:port of the other nodes' relay sockets
	ReadTimeout    int64    `json:"read-timeout"`
	WriteTimeout   int64    `json:"write-timeout"`
	SecretKey      string   `json:"secret-key"`
	PollIntervalMs int64    `json:"poll-interval-ms"` // Advertised to clients for snapshot pulls
	AllowedOrigins []string `json:"allowed-origins"`  // Cross-origin pages allowed to open the push connection
}

// LoadConfig reads <folderPath>/.cfg, then applies the environment (and a .env file in the folder, if any).
func LoadConfig(folderPath string) (*Config, error) {

	file, err := os.OpenFile(filepath.Join(folderPath, ".cfg"), os.O_RDONLY, 0755)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	payload, err := io.ReadAll(file)
	if err != nil {
		return nil, err
	}

	var config *Config = &Config{}
	if err = json.Unmarshal(payload, config); err != nil {
		return nil, err
	}
	if config.FolderPath == "" {
		config.FolderPath = folderPath
	}

	// A missing .env is normal, the environment may be set by other means
	_ = godotenv.Load(filepath.Join(folderPath, ".env"))
	config.applyEnv()
	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("CHAT_DB_NAME"); v != "" {
		c.DBName = v
	}
	if v := os.Getenv("CHAT_HTTP_PORT"); v != "" {
		if port, err := strconv.ParseUint(v, 10, 16); err == nil {
			c.HTTPServerPort = uint16(port)
		}
	}
	if v := os.Getenv("CHAT_SECRET_KEY"); v != "" {
		c.SecretKey = v
	}
	if v := os.Getenv("CHAT_RELAY_PEERS"); v != "" {
		c.RelayPeers = splitList(v)
	}
	if v := os.Getenv("CHAT_ALLOWED_ORIGINS"); v != "" {
		c.AllowedOrigins = splitList(v)
	}
	if v := os.Getenv("CHAT_ENABLE_LOGGING"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			c.EnableLogging = enabled
		}
	}
}

// splitList splits a comma separated variable, dropping blanks
func splitList(v string) []string {
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func (c *Config) applyDefaults() {
	if c.DBName == "" {
		c.DBName = "chat.db"
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 15
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 15
	}
	if c.PollIntervalMs <= 0 {
		c.PollIntervalMs = 1000
	}
}

// Validate checks the fields the node cannot start without
func (c *Config) Validate() error {
	if c.HTTPServerPort == 0 {
		return fmt.Errorf("http-server-port must be set")
	}
	if c.SecretKey == "" {
		return fmt.Errorf("secret-key must be set")
	}
	if c.RelayPort != 0 && c.RelayPort == c.HTTPServerPort {
		return fmt.Errorf("Cannot use the same port for relay and http server")
	}
	return nil
}

// DBPath returns the path of the SQLite database
func (c *Config) DBPath() string {
	return filepath.Join(c.FolderPath, c.DBName)
}
