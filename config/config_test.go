// Copyright (c) 2022 The rcproxy Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "fioreactor.yaml")
	require.Nil(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func Test_LoadConfig_AppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
listen_addr: "tcp://:9000"
log_level: "INFO"
`)
	cfg, err := LoadConfig(path)
	require.Nil(t, err)

	assert.Equal(t, "tcp://:9000", cfg.ListenAddr)
	assert.Equal(t, 600, cfg.DefaultTimeoutSec)
	assert.Equal(t, 5, cfg.ShutdownTimeoutSec)
	assert.Equal(t, 1024*1024, cfg.ThrottleLimitBytes)
	assert.Equal(t, "fioreactor", cfg.MetricsNamespace)
	assert.Equal(t, 600*time.Second, cfg.DefaultTimeout())
	assert.Equal(t, 5*time.Second, cfg.ShutdownTimeout())
}

func Test_LoadConfig_RejectsMissingListenAddr(t *testing.T) {
	path := writeConfig(t, `
log_level: "INFO"
`)
	_, err := LoadConfig(path)
	assert.NotNil(t, err)
}

func Test_LoadConfig_RejectsUnknownLogLevel(t *testing.T) {
	path := writeConfig(t, `
listen_addr: "tcp://:9000"
log_level: "VERBOSE"
`)
	_, err := LoadConfig(path)
	assert.NotNil(t, err)
}

func Test_LoadConfig_RejectsMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.NotNil(t, err)
}

func Test_LoadConfig_HonorsExplicitValues(t *testing.T) {
	path := writeConfig(t, `
listen_addr: "tcp://:9000"
log_level: "DEBUG"
default_timeout_sec: 30
shutdown_timeout_sec: 2
throttle_limit_bytes: 4096
metrics_namespace: "custom"
`)
	cfg, err := LoadConfig(path)
	require.Nil(t, err)

	assert.Equal(t, 30, cfg.DefaultTimeoutSec)
	assert.Equal(t, 2, cfg.ShutdownTimeoutSec)
	assert.Equal(t, 4096, cfg.ThrottleLimitBytes)
	assert.Equal(t, "custom", cfg.MetricsNamespace)
}

func Test_Watch_ReloadsOnWrite(t *testing.T) {
	path := writeConfig(t, `
listen_addr: "tcp://:9000"
log_level: "INFO"
`)

	reloaded := make(chan *Config, 1)
	w, err := Watch(path, func(c *Config) {
		select {
		case reloaded <- c:
		default:
		}
	})
	require.Nil(t, err)
	defer w.Close()

	time.Sleep(50 * time.Millisecond)
	require.Nil(t, os.WriteFile(path, []byte(`
listen_addr: "tcp://:9001"
log_level: "DEBUG"
`), 0o644))

	select {
	case cfg := <-reloaded:
		assert.Equal(t, "tcp://:9001", cfg.ListenAddr)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for config reload")
	}
}
