package main

import (
	"flag"
	"os"
	"strconv"
	"time"
)

// Config holds the application configuration
type Config struct {
	// BindAddress is the address the server listens on (e.g. "0.0.0.0:8080")
	BindAddress string
	// SerialPort is the path to the modem's serial port (e.g. "/dev/ttyUSB0")
	SerialPort string
	// BaudRate is the baud rate for serial communication with the modem (e.g. 115200)
	BaudRate int
	// LogLevel sets the logging level (e.g. "debug", "info", "warn", "error")
	LogLevel string
	// MaintainInterval is the period of the modem maintenance pass
	MaintainInterval time.Duration

	// RedisAddr selects the Redis session store when set (e.g. "localhost:6379")
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// MQTTBroker enables the MQTT bridge when set (e.g. "tcp://localhost:1883")
	MQTTBroker   string
	MQTTClientID string
	MQTTUser     string
	MQTTPassword string
	// MQTTTopic is the topic prefix of the bridge (e.g. "cellmux")
	MQTTTopic string
}

// ConfigOption is a function that modifies a Config
type ConfigOption func(*Config) error

// LoadConfig creates a new config by applying the given options in order
func LoadConfig(opts ...ConfigOption) (*Config, error) {
	config := &Config{}

	for _, opt := range opts {
		if err := opt(config); err != nil {
			return nil, err
		}
	}

	return config, nil
}

// WithDefaults applies default configuration values
func WithDefaults() ConfigOption {
	return func(c *Config) error {
		c.BindAddress = "0.0.0.0:8080"
		c.SerialPort = "/dev/ttyUSB0"
		c.BaudRate = 115200
		c.LogLevel = "info"
		c.MaintainInterval = 100 * time.Millisecond
		c.MQTTClientID = "cellmuxd"
		c.MQTTTopic = "cellmux"
		return nil
	}
}

// WithEnv loads configuration from environment variables
func WithEnv() ConfigOption {
	return func(c *Config) error {
		if addr := os.Getenv("BIND_ADDRESS"); addr != "" {
			c.BindAddress = addr
		}

		if serial := os.Getenv("SERIAL_PORT"); serial != "" {
			c.SerialPort = serial
		}

		if baud := os.Getenv("BAUD_RATE"); baud != "" {
			if b, err := strconv.Atoi(baud); err == nil {
				c.BaudRate = b
			}
		}

		if level := os.Getenv("LOG_LEVEL"); level != "" {
			c.LogLevel = level
		}

		if interval := os.Getenv("MAINTAIN_INTERVAL"); interval != "" {
			if d, err := time.ParseDuration(interval); err == nil {
				c.MaintainInterval = d
			}
		}

		if addr := os.Getenv("REDIS_ADDR"); addr != "" {
			c.RedisAddr = addr
		}
		if password := os.Getenv("REDIS_PASSWORD"); password != "" {
			c.RedisPassword = password
		}
		if db := os.Getenv("REDIS_DB"); db != "" {
			if n, err := strconv.Atoi(db); err == nil {
				c.RedisDB = n
			}
		}

		if broker := os.Getenv("MQTT_BROKER"); broker != "" {
			c.MQTTBroker = broker
		}
		if id := os.Getenv("MQTT_CLIENT_ID"); id != "" {
			c.MQTTClientID = id
		}
		if user := os.Getenv("MQTT_USER"); user != "" {
			c.MQTTUser = user
		}
		if password := os.Getenv("MQTT_PASSWORD"); password != "" {
			c.MQTTPassword = password
		}
		if topic := os.Getenv("MQTT_TOPIC"); topic != "" {
			c.MQTTTopic = topic
		}

		return nil
	}
}

// WithFlags loads configuration from command-line flags
func WithFlags(fSet *flag.FlagSet) ConfigOption {
	return func(c *Config) error {
		fSet.Visit(func(f *flag.Flag) {
			switch f.Name {
			case "bind-address":
				c.BindAddress = f.Value.String()
			case "serial-port":
				c.SerialPort = f.Value.String()
			case "baud-rate":
				if b, err := strconv.Atoi(f.Value.String()); err == nil {
					c.BaudRate = b
				}
			case "log-level":
				c.LogLevel = f.Value.String()
			case "maintain-interval":
				if d, err := time.ParseDuration(f.Value.String()); err == nil {
					c.MaintainInterval = d
				}
			case "redis-addr":
				c.RedisAddr = f.Value.String()
			case "redis-db":
				if n, err := strconv.Atoi(f.Value.String()); err == nil {
					c.RedisDB = n
				}
			case "mqtt-broker":
				c.MQTTBroker = f.Value.String()
			case "mqtt-client-id":
				c.MQTTClientID = f.Value.String()
			case "mqtt-topic":
				c.MQTTTopic = f.Value.String()
			}

		})
		return nil
	}

}
