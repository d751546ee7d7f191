package main

import (
	"fmt"
	"io"
	"os"

	"github.com/kelseyhightower/envconfig"
	"github.com/sirupsen/logrus"
)

// log formats as defined by CFDDNS_LOG_FORMAT
const (
	logFormatText = "text"
	logFormatJSON = "json"
)

// envOptions are read from CFDDNS_* environment variables (or a .env file).
type envOptions struct {
	ConfigPath string `envconfig:"CONFIG" default:"cfddns.yaml"`
	LogLevel   string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat  string `envconfig:"LOG_FORMAT" default:"text"`
}

func loadEnv() (envOptions, error) {
	var opts envOptions
	if err := envconfig.Process("cfddns", &opts); err != nil {
		return opts, fmt.Errorf("error reading environment: %w", err)
	}
	return opts, nil
}

func newLogger(opts envOptions, out io.Writer) (*logrus.Logger, error) {
	log := logrus.New()
	log.SetOutput(out)

	switch opts.LogFormat {
	case logFormatJSON:
		log.SetFormatter(&logrus.JSONFormatter{})
	case logFormatText, "":
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, DisableColors: true})
	default:
		return nil, fmt.Errorf("unknown log format %q", opts.LogFormat)
	}

	level, err := logrus.ParseLevel(opts.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}
	log.SetLevel(level)
	return log, nil
}

// openLogFile opens path for appending, creating it if needed.
func openLogFile(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("unable to open log file: %w", err)
	}
	return f, nil
}
