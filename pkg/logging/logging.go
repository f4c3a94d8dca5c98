package logging

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/viper"
)

var logFile *os.File

/*
Init configures the process-wide charm logger from viper: `log.level`
(debug|info|warn|error), `log.caller` to report call sites, and
`log.file` to tee output into a file next to stderr.  Safe to call
before a config is loaded; everything has a default.
*/
func Init() error {
	log.SetTimeFormat(time.Kitchen)

	switch viper.GetString("log.level") {
	case "debug":
		log.SetLevel(log.DebugLevel)
	case "warn":
		log.SetLevel(log.WarnLevel)
	case "error":
		log.SetLevel(log.ErrorLevel)
	default:
		log.SetLevel(log.InfoLevel)
	}

	log.SetReportCaller(viper.GetBool("log.caller"))

	if path := viper.GetString("log.file"); path != "" {
		var err error

		logFile, err = os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return fmt.Errorf("failed to open log file %s: %w", path, err)
		}

		log.SetOutput(io.MultiWriter(os.Stderr, logFile))
	}

	log.Debug("logging initialized", "level", log.GetLevel())
	return nil
}

// Close closes the log file if Init opened one.
func Close() {
	if logFile != nil {
		logFile.Close()
		logFile = nil
	}
}
