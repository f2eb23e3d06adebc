// Copyright 2026 The Prefork Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use file except in compliance with the License.
// You may obtain a copy of the license at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package prefork

import (
	"fmt"
	"log"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DefaultHost         = "0.0.0.0"
	DefaultPort         = 8000
	DefaultWorkers      = 2
	DefaultGracePeriod  = time.Second * 30
	DefaultStartTimeout = time.Second * 30
	DefaultRateLimit    = 10
	DefaultRatePeriod   = time.Minute
	DefaultStopSignal   = "SIGTERM"
)

// RestartPolicy decides what happens to a slot whose worker exits
// without being asked to.
type RestartPolicy string

const (
	// PolicyRestart spawns a replacement worker in the same slot,
	// subject to the rate limit.  This is the default.
	PolicyRestart RestartPolicy = "restart"

	// PolicyFixed leaves the slot crashed; the pool runs under capacity
	// for the rest of its life.
	PolicyFixed RestartPolicy = "fixed"
)

// AdminConfig describes the optional administrative HTTP listener.  It
// is consumed by the daemon, not by the Supervisor itself.
type AdminConfig struct {
	Addr         string `yaml:"addr"`
	User         string `yaml:"user"`
	PasswordHash string `yaml:"passwordHash"` // bcrypt
}

// Config is the supervisor configuration.  It is copied by Start, and
// the running supervisor never observes later changes to the caller's
// value.
type Config struct {
	Name         string        `yaml:"name"`
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	Workers      int           `yaml:"workers"`
	Command      []string      `yaml:"command"`
	Dir          string        `yaml:"dir"`
	Env          []string      `yaml:"env"`
	EnvFiles     []string      `yaml:"envFiles"`
	GracePeriod  time.Duration `yaml:"gracePeriod"`
	StopSignal   string        `yaml:"stopSignal"`
	Policy       RestartPolicy `yaml:"policy"`
	RateLimit    int           `yaml:"rateLimit"` // starts per RatePeriod, < 0 disables
	RatePeriod   time.Duration `yaml:"ratePeriod"`
	WaitReady    bool          `yaml:"waitReady"`
	StartTimeout time.Duration `yaml:"startTimeout"`
	Admin        AdminConfig   `yaml:"admin"`

	// Logger receives supervisor messages and worker output.  If nil,
	// messages go to stderr.
	Logger *log.Logger `yaml:"-"`

	// OnEvent, if set, is called for every lifecycle event.  It is
	// called from the supervisor's control loop, and must not block.
	OnEvent func(Event) `yaml:"-"`

	// Metrics, if set, is updated with worker lifecycle counters.
	Metrics *Metrics `yaml:"-"`
}

// DefaultConfig returns a Config populated with the launcher defaults.
// The Command is left empty.
func DefaultConfig() Config {
	return Config{
		Name:         "prefork",
		Host:         DefaultHost,
		Port:         DefaultPort,
		Workers:      DefaultWorkers,
		GracePeriod:  DefaultGracePeriod,
		StopSignal:   DefaultStopSignal,
		Policy:       PolicyRestart,
		RateLimit:    DefaultRateLimit,
		RatePeriod:   DefaultRatePeriod,
		StartTimeout: DefaultStartTimeout,
	}
}

// LoadConfig reads a YAML configuration file.  Values absent from the
// file keep their defaults.
func LoadConfig(path string) (Config, error) {
	c := DefaultConfig()
	b, e := os.ReadFile(path)
	if e != nil {
		return c, e
	}
	if e := yaml.Unmarshal(b, &c); e != nil {
		return c, fmt.Errorf("%s: %w", path, e)
	}
	return c, nil
}

// fillDefaults replaces zero values with defaults.  Explicitly invalid
// values (such as a negative worker count) are left for Validate.
func (c *Config) fillDefaults() {
	if c.Name == "" {
		c.Name = "prefork"
	}
	if c.Host == "" {
		c.Host = DefaultHost
	}
	if c.StopSignal == "" {
		c.StopSignal = DefaultStopSignal
	}
	if c.Policy == "" {
		c.Policy = PolicyRestart
	}
	if c.RateLimit == 0 {
		c.RateLimit = DefaultRateLimit
	}
	if c.RatePeriod == 0 {
		c.RatePeriod = DefaultRatePeriod
	}
	if c.StartTimeout <= 0 {
		c.StartTimeout = DefaultStartTimeout
	}
}

// Validate checks the configuration, returning a *ConfigError describing
// the first problem found.
func (c *Config) Validate() error {
	if c.Workers < 1 {
		return &ConfigError{Field: "workers", Err: ErrBadWorkerCount}
	}
	if c.Port < 1 || c.Port > 65535 {
		return &ConfigError{Field: "port", Err: ErrBadPort}
	}
	if len(c.Command) == 0 || c.Command[0] == "" {
		return &ConfigError{Field: "command", Err: ErrNoCommand}
	}
	if c.GracePeriod <= 0 {
		return &ConfigError{Field: "gracePeriod", Err: ErrBadGrace}
	}
	if _, e := ParseSignal(c.StopSignal); e != nil {
		return &ConfigError{Field: "stopSignal", Err: e}
	}
	switch c.Policy {
	case "", PolicyRestart, PolicyFixed:
	default:
		return &ConfigError{Field: "policy",
			Err: fmt.Errorf("unknown restart policy %q", c.Policy)}
	}
	if c.RateLimit > 0 && c.RatePeriod < 0 {
		return &ConfigError{Field: "ratePeriod", Err: ErrBadRateLimit}
	}
	return nil
}

// Addr returns the host:port the listening socket binds to.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Environ returns the environment handed to every worker: the
// supervisor's own environment, then the contents of each env file in
// order, then Env.  Later entries win.
func (c *Config) Environ() ([]string, error) {
	env := os.Environ()
	for _, f := range c.EnvFiles {
		m, e := godotenv.Read(f)
		if e != nil {
			return nil, &ConfigError{Field: "envFiles", Err: e}
		}
		for k, v := range m {
			env = append(env, k+"="+v)
		}
	}
	env = append(env, c.Env...)
	return env, nil
}

func (c Config) clone() Config {
	c.Command = append([]string{}, c.Command...)
	c.Env = append([]string{}, c.Env...)
	c.EnvFiles = append([]string{}, c.EnvFiles...)
	return c
}
