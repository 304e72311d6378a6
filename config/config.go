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
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"fioreactor/pkg/logging"
)

// Config is the reactor process's on-disk configuration.
type Config struct {
	ListenAddr   string `yaml:"listen_addr"`
	AdminPort    int    `yaml:"admin_port"`
	LogPath      string `yaml:"log_path"`
	LogLevel     string `yaml:"log_level"`
	LogExpireDay int    `yaml:"log_expire_day"`

	Threads int `yaml:"threads"`
	Workers int `yaml:"workers"`

	DefaultTimeoutSec  int `yaml:"default_timeout_sec"`
	ShutdownTimeoutSec int `yaml:"shutdown_timeout_sec"`
	ThrottleLimitBytes int `yaml:"throttle_limit_bytes"`

	ReapChildren     bool   `yaml:"reap_children"`
	MetricsNamespace string `yaml:"metrics_namespace"`
}

// LoadConfig reads and validates a Config from fileName.
func LoadConfig(fileName string) (*Config, error) {
	file, err := os.ReadFile(fileName)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read file from %s", fileName)
	}
	var cfg Config
	if err = yaml.Unmarshal(file, &cfg); err != nil {
		return nil, errors.Wrapf(err, "failed to unmarshal config from %s", fileName)
	}
	cfg.applyDefaults()
	if err = cfg.validate(); err != nil {
		return nil, errors.Wrapf(err, "config validate failed")
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.DefaultTimeoutSec <= 0 {
		c.DefaultTimeoutSec = 600
	}
	if c.ShutdownTimeoutSec <= 0 {
		c.ShutdownTimeoutSec = 5
	}
	if c.ThrottleLimitBytes <= 0 {
		c.ThrottleLimitBytes = 1024 * 1024
	}
	if c.MetricsNamespace == "" {
		c.MetricsNamespace = "fioreactor"
	}
}

func (c *Config) validate() error {
	if _, ok := logging.LevelMapperRev[c.LogLevel]; !ok {
		return errors.Errorf("unknown log level %s", c.LogLevel)
	}
	if c.ListenAddr == "" {
		return errors.New("listen_addr must be set")
	}
	return nil
}

func (c *Config) DefaultTimeout() time.Duration {
	return time.Duration(c.DefaultTimeoutSec) * time.Second
}

func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutSec) * time.Second
}

// Watch reloads fileName whenever it changes on disk and hands the new
// Config to onChange. Fields that the running reactor cannot apply
// without a restart (ListenAddr, AdminPort, Threads, Workers) are read at
// startup only; onChange is meant for log level and timeout tuning.
func Watch(fileName string, onChange func(*Config)) (*fsnotify.Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create config watcher")
	}
	if err = w.Add(fileName); err != nil {
		w.Close()
		return nil, errors.Wrapf(err, "failed to watch %s", fileName)
	}
	go func() {
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				cfg, err := LoadConfig(fileName)
				if err != nil {
					logging.Errorf("config reload failed: %v", err)
					continue
				}
				onChange(cfg)
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				logging.Errorf("config watcher error: %v", err)
			}
		}
	}()
	return w, nil
}
