package cli

import (
	"io"
	"log/slog"
	"strings"
	"sync"

	"yt-transcripts/internal/config"
	"yt-transcripts/internal/logging"
)

type commandContext struct {
	stdout io.Writer
	stderr io.Writer

	configFlag string
	debugFlag  bool
	jsonFlag   bool

	configOnce sync.Once
	config     *config.Config
	configPath string
	configErr  error
}

func newCommandContext(stdout, stderr io.Writer) *commandContext {
	return &commandContext{stdout: stdout, stderr: stderr}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		cfg, path, _, err := config.Load(strings.TrimSpace(c.configFlag))
		if err != nil {
			c.configErr = err
			return
		}
		if c.debugFlag {
			cfg.Logging.Level = "debug"
		}
		c.config = cfg
		c.configPath = path
	})
	return c.config, c.configErr
}

// logger builds the console logger. quiet drops console output entirely, which
// keeps log lines from tearing the live dashboard.
func (c *commandContext) logger(cfg *config.Config, quiet bool) (*slog.Logger, error) {
	if quiet {
		return logging.Discard(), nil
	}
	return logging.New(logging.Options{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: c.stderr,
	})
}
