package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"tsundoku/internal/config"
	"tsundoku/internal/logging"
	"tsundoku/internal/tracker"
)

type access int

const (
	readOnly access = iota
	readWrite
)

type commandContext struct {
	configFlag   *string
	logLevelFlag *string
	jsonFlag     *bool

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag, logLevelFlag *string, jsonFlag *bool) *commandContext {
	return &commandContext{
		configFlag:   configFlag,
		logLevelFlag: logLevelFlag,
		jsonFlag:     jsonFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) jsonOutput() bool {
	return c.jsonFlag != nil && *c.jsonFlag
}

// logLevel returns the --log-level override, falling back to fallback.
func (c *commandContext) logLevel(fallback string) string {
	if c.logLevelFlag != nil && strings.TrimSpace(*c.logLevelFlag) != "" {
		return *c.logLevelFlag
	}
	return fallback
}

func (c *commandContext) newLogger(cfg *config.Config, level string, journal *logging.Journal) (*slog.Logger, error) {
	logger, err := logging.NewFromConfig(cfg, level, journal)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	return logger, nil
}

// withTracker opens the tracker for the duration of fn. Writers take the
// daemon lock first so they never race a running daemon's in-memory state.
// An error from fn is journaled before the tracker saves the journal.
func (c *commandContext) withTracker(cmd *cobra.Command, mode access, fn func(*tracker.Tracker) error) (err error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	if mode == readWrite {
		lock := flock.New(cfg.Daemon.LockPath)
		ok, lockErr := lock.TryLock()
		if lockErr != nil {
			return fmt.Errorf("acquire lock: %w", lockErr)
		}
		if !ok {
			return fmt.Errorf("the tsundoku daemon is running (lock %s); stop it before changing the library", cfg.Daemon.LockPath)
		}
		defer lock.Unlock() //nolint:errcheck
	}

	journal := logging.NewJournal(logging.DefaultJournalCapacity)
	logger, err := c.newLogger(cfg, c.logLevel("warn"), journal)
	if err != nil {
		return err
	}
	tr, err := tracker.Open(cmd.Context(), cfg, logger, journal, nil)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, tr.Close())
	}()
	if err := fn(tr); err != nil {
		if !errors.Is(err, context.Canceled) {
			journal.JournalError(cmd.CommandPath(), "command failed", err)
		}
		return err
	}
	return nil
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func parseTitleID(arg string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(arg), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid title id %q", arg)
	}
	return id, nil
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
