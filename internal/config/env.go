package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Environment variables read by ApplyEnvOverrides.
const (
	EnvHome         = "REGSCAN_HOME"
	EnvProjectDir   = "REGSCAN_PROJECT_DIR"
	EnvHost         = "REGSCAN_HOST"
	EnvPort         = "REGSCAN_PORT"
	EnvURL          = "REGSCAN_URL"
	EnvUnitID       = "REGSCAN_UNIT_ID"
	EnvLogLevel     = "REGSCAN_LOG_LEVEL"
	EnvLogFormat    = "REGSCAN_LOG_FORMAT"
	EnvOutputFormat = "REGSCAN_OUTPUT_FORMAT"
	EnvMQTTBroker   = "REGSCAN_MQTT_BROKER"
	EnvMQTTPassword = "REGSCAN_MQTT_PASSWORD"
)

// LoadDotEnv loads variables from path into the process environment without overriding
// variables that are already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	err := godotenv.Load(path)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("loading %s: %w", path, err)
}

// ApplyEnvOverrides applies REGSCAN_* variables found through lookupEnv.
// Numeric variables that do not parse are reported and left unapplied.
func (c *Config) ApplyEnvOverrides(lookupEnv func(string) (string, bool)) error {
	if lookupEnv == nil {
		lookupEnv = os.LookupEnv
	}

	var errs []error
	str := func(key string, dst *string) {
		if v, ok := lookupEnv(key); ok && v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		v, ok := lookupEnv(key)
		if !ok || v == "" {
			return
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = n
	}

	str(EnvHost, &c.Connection.Host)
	num(EnvPort, &c.Connection.Port)
	str(EnvURL, &c.Connection.URL)
	num(EnvUnitID, &c.Connection.UnitID)
	str(EnvLogLevel, &c.Logging.Level)
	str(EnvLogFormat, &c.Logging.Format)
	str(EnvOutputFormat, &c.Output.Format)
	if v, ok := lookupEnv(EnvMQTTBroker); ok && v != "" {
		c.MQTT.Broker = v
		c.MQTT.Enabled = true
	}
	str(EnvMQTTPassword, &c.MQTT.Password)

	return errors.Join(errs...)
}
