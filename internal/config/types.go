package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"
)

// Config is the behavior half of the configuration: everything that is
// not a credential lives in the config file (YAML or JSON). Credentials
// come from the environment, see Secrets.
type Config struct {
	// Timezone is the IANA zone used for run timestamps and expiry math.
	Timezone string `json:"timezone,omitempty"`

	Logging  LoggingConfig  `json:"logging"`
	Query    QueryConfig    `json:"query"`
	Tracker  TrackerConfig  `json:"tracker"`
	Schedule ScheduleConfig `json:"schedule"`
	Email    EmailConfig    `json:"email"`
	Chat     ChatConfig     `json:"chat"`

	// Groups define the external recipient groups and their routing
	// rules. The reserved "internal" group is implicit and always
	// receives the full batch.
	Groups []GroupConfig `json:"groups,omitempty"`
}

type LoggingConfig struct {
	Level   string     `json:"level,omitempty"`
	Console *bool      `json:"console,omitempty"` // default true
	File    FileConfig `json:"file,omitempty"`
}

type FileConfig struct {
	Enabled bool   `json:"enabled,omitempty"`
	Path    string `json:"path,omitempty"`
}

// QueryConfig drives the events query and the rendered report.
type QueryConfig struct {
	// Dir holds the .sql files; File and TypeStatusFile are names
	// inside it (path traversal outside Dir is rejected).
	Dir            string `json:"dir,omitempty"`
	File           string `json:"file"`
	TypeStatusFile string `json:"type_status_file,omitempty"`

	TypeID       int    `json:"type_id,omitempty"`
	StatusID     int    `json:"status_id,omitempty"`
	NameFilter   string `json:"name_filter,omitempty"`
	NameExclude  string `json:"name_exclude,omitempty"`
	LookbackDays int    `json:"lookback_days,omitempty"`

	// EventsBaseURL is used to build per-event links in notifications.
	EventsBaseURL string `json:"events_base_url,omitempty"`
	CompanyName   string `json:"company_name,omitempty"`
}

type TrackerConfig struct {
	Driver string `json:"driver,omitempty"` // "file" (default) or "sqlite"
	Path   string `json:"path,omitempty"`

	// Window is a Go duration string (e.g. "720h" for 30 days).
	Window string `json:"window,omitempty"`

	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

// ScheduleConfig controls the run loop.
//
// Every accepts either a Go duration ("1h", "30m") or a cron spec
// ("0 * * * *", "@every 1h"). Cooldown is the delay after a run that
// ended in an unexpected error.
type ScheduleConfig struct {
	Every    string `json:"every,omitempty"`
	Cooldown string `json:"cooldown,omitempty"`
}

type EmailConfig struct {
	Enabled            bool     `json:"enabled"`
	InternalRecipients []string `json:"internal_recipients,omitempty"`

	// SpecialChannel mails the logo-free internal report to one extra
	// address, typically a chat channel's inbound mailbox.
	SpecialChannel SpecialChannelConfig `json:"special_channel,omitempty"`
}

type SpecialChannelConfig struct {
	Enabled bool   `json:"enabled,omitempty"`
	Address string `json:"address,omitempty"`
}

type ChatConfig struct {
	Enabled bool `json:"enabled"`

	// RatePerSec caps webhook posts; 0 means 1/sec.
	RatePerSec int `json:"rate_per_sec,omitempty"`
}

type GroupConfig struct {
	Name       string   `json:"name"`
	Match      string   `json:"match"`
	Recipients []string `json:"recipients,omitempty"`
}

// Load reads, strictly decodes, defaults, and validates a config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	jsonBytes, format, err := toStrictJSON(path, data)
	if err != nil {
		return nil, fmt.Errorf("parse config (%s): %w", format, err)
	}

	dec := json.NewDecoder(bytes.NewReader(jsonBytes))
	dec.DisallowUnknownFields()

	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config (%s): %w", format, err)
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.Timezone) == "" {
		c.Timezone = "Europe/Athens"
	}
	if strings.TrimSpace(c.Logging.Level) == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Console == nil {
		v := true
		c.Logging.Console = &v
	}
	if strings.TrimSpace(c.Query.Dir) == "" {
		c.Query.Dir = "queries"
	}
	if c.Query.LookbackDays <= 0 {
		c.Query.LookbackDays = 17
	}
	if strings.TrimSpace(c.Query.CompanyName) == "" {
		c.Query.CompanyName = "Company"
	}
	if strings.TrimSpace(c.Tracker.Driver) == "" {
		c.Tracker.Driver = "file"
	}
	if strings.TrimSpace(c.Tracker.Path) == "" {
		c.Tracker.Path = "data/sent_events.json"
	}
	if strings.TrimSpace(c.Tracker.Window) == "" {
		c.Tracker.Window = "720h" // 30 days
	}
	if strings.TrimSpace(c.Schedule.Every) == "" {
		c.Schedule.Every = "1h"
	}
	if strings.TrimSpace(c.Schedule.Cooldown) == "" {
		c.Schedule.Cooldown = "5m"
	}
}

func (c *Config) validate() error {
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("timezone: unknown zone %q", c.Timezone)
	}
	if strings.TrimSpace(c.Query.File) == "" {
		return fmt.Errorf("query.file is required")
	}
	if _, err := ParseDurationField("tracker.window", c.Tracker.Window); err != nil {
		return err
	}
	if _, err := ParseDurationField("tracker.busy_timeout", c.Tracker.BusyTimeout); err != nil {
		return err
	}
	if _, err := ParseDurationField("schedule.cooldown", c.Schedule.Cooldown); err != nil {
		return err
	}
	seen := map[string]bool{"internal": true}
	for i, g := range c.Groups {
		name := strings.ToLower(strings.TrimSpace(g.Name))
		if name == "" {
			return fmt.Errorf("groups[%d]: name is required", i)
		}
		if seen[name] {
			return fmt.Errorf("groups[%d]: duplicate or reserved name %q", i, g.Name)
		}
		seen[name] = true
		if strings.TrimSpace(g.Match) == "" {
			return fmt.Errorf("groups[%d] (%s): match is required", i, g.Name)
		}
	}
	return nil
}

// Location resolves the configured timezone. Validation guarantees it
// parses; UTC is the fallback if it somehow does not.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// TrackerWindow returns the parsed re-notification window, defaulting
// to 30 days so a blank config can never disable expiry.
func (c *Config) TrackerWindow() time.Duration {
	d, _ := ParseDurationOrDefault("tracker.window", c.Tracker.Window, 720*time.Hour)
	return d
}

// TrackerBusyTimeout returns the parsed sqlite busy timeout, zero when unset.
func (c *Config) TrackerBusyTimeout() time.Duration {
	d, _ := ParseDurationField("tracker.busy_timeout", c.Tracker.BusyTimeout)
	return d
}

// Cooldown returns the parsed error-retry delay, defaulting to 5m.
func (c *Config) Cooldown() time.Duration {
	d, _ := ParseDurationOrDefault("schedule.cooldown", c.Schedule.Cooldown, 5*time.Minute)
	return d
}
