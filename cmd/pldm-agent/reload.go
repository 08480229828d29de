package main

import (
	"slices"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/rmacdonaldsmith/pldm-agent-go/internal/config"
	"github.com/rmacdonaldsmith/pldm-agent-go/internal/logging"
)

// watchConfig applies log level edits in the config file while the agent
// runs. Other keys need a restart.
func watchConfig(v *viper.Viper, logger *logging.Logger) {
	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		applyConfigChange(v, logger, e.Name)
	})
	v.WatchConfig()
}

func applyConfigChange(v *viper.Viper, logger *logging.Logger, file string) {
	level := v.GetString("log.level")
	if !slices.Contains(config.ValidLogLevels(), strings.ToLower(level)) {
		logger.Warn("ignoring invalid log level in changed config", "file", file, "log_level", level)
		return
	}
	if strings.EqualFold(level, logger.Level()) {
		return
	}
	logger.SetLevel(level)
	logger.Info("log level changed", "file", file, "log_level", strings.ToUpper(level))
}
