package cmdutil

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/marketcore/gatekeeper/internal/config"
)

var (
	mu        sync.Mutex
	loadedCfg *config.Config
	loadedLog *logrus.Logger
)

// SetRuntime records the configuration and logger resolved by the root command.
func SetRuntime(cfg *config.Config, log *logrus.Logger) {
	mu.Lock()
	defer mu.Unlock()
	loadedCfg, loadedLog = cfg, log
}

// Current returns the configuration and logger for subcommands, loading
// them when the root command did not run its pre-run hook.
func Current() (*config.Config, *logrus.Logger, error) {
	mu.Lock()
	defer mu.Unlock()
	if loadedCfg == nil {
		cfg, err := config.Load()
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load config: %w", err)
		}
		loadedCfg, loadedLog = cfg, NewLogger(cfg)
	}
	return loadedCfg, loadedLog, nil
}

// OpenServiceBundle builds a ServiceBundle from the current configuration.
func OpenServiceBundle() (*ServiceBundle, error) {
	cfg, log, err := Current()
	if err != nil {
		return nil, err
	}
	return NewServiceBundle(cfg, log, ServiceBundleOptions{})
}
