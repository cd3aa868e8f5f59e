// Package config defines the configuration of a signaling test run and of
// the relay server command.
package config

import (
	"testing"
	"time"

	webrtc "github.com/pion/webrtc/v2"
	lfshook "github.com/rifflock/lfshook"
	"github.com/sirupsen/logrus"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"

	"github.com/mosaicnetworks/rtcsignal/src/common"
)

// Default configuration values.
const (
	DefaultLogLevel    = "debug"
	DefaultRelayAddr   = "127.0.0.1:8765"
	DefaultRole        = 0
	DefaultLoopback    = true
	DefaultDialTimeout = 5 * time.Second
	DefaultTestTimeout = 30 * time.Second
	DefaultDoneTimeout = 10 * time.Second
	DefaultICEAddress  = "stun:stun.l.google.com:19302"
	DefaultICEUsername = ""
	DefaultICEPassword = ""
)

// Config contains all the configuration properties of a signaling test
// run.
type Config struct {
	// LogLevel determines the chattiness of the log output.
	LogLevel string `mapstructure:"log"`

	// LogFile, when set, duplicates all log output to a file.
	LogFile string `mapstructure:"log-file"`

	// Loopback selects the execution mode: when true, both test roles run
	// in this process over cross-wired in-process transports; when false,
	// this process runs a single role and signals through the relay
	// server. The mode is decided once, at suite start.
	Loopback bool `mapstructure:"loopback"`

	// RelayAddr is the IP:PORT of the relay server. It is ignored in
	// loopback mode. The connection is over plain websockets.
	RelayAddr string `mapstructure:"relay-addr"`

	// Role identifies this end of a cross-instance run: 0 offers, 1
	// answers. It is ignored in loopback mode.
	Role int `mapstructure:"role"`

	// DialTimeout bounds the relay websocket handshake.
	DialTimeout time.Duration `mapstructure:"dial-timeout"`

	// TestTimeout is the time budget of a single test body. It is the
	// only mechanism that abandons a wait which will never resolve.
	TestTimeout time.Duration `mapstructure:"test-timeout"`

	// DoneTimeout bounds the wait for the peer's done message during
	// result reconciliation.
	DoneTimeout time.Duration `mapstructure:"done-timeout"`

	// ICEAddress is the URI of a server providing services for ICE, such
	// as STUN and TURN.
	ICEAddress string `mapstructure:"ice-addr"`

	// ICEUsername is the username used to authenticate with the ICE
	// server.
	ICEUsername string `mapstructure:"ice-username"`

	// ICEPassword is the password used to authenticate with the ICE
	// server.
	ICEPassword string `mapstructure:"ice-password"`

	logger *logrus.Logger
}

// NewDefaultConfig returns a config object with default values.
func NewDefaultConfig() *Config {
	return &Config{
		LogLevel:    DefaultLogLevel,
		Loopback:    DefaultLoopback,
		RelayAddr:   DefaultRelayAddr,
		Role:        DefaultRole,
		DialTimeout: DefaultDialTimeout,
		TestTimeout: DefaultTestTimeout,
		DoneTimeout: DefaultDoneTimeout,
		ICEAddress:  DefaultICEAddress,
		ICEUsername: DefaultICEUsername,
		ICEPassword: DefaultICEPassword,
	}
}

// NewTestConfig returns a config object with default values and a special
// logger for debugging tests.
func NewTestConfig(t testing.TB, level logrus.Level) *Config {
	config := NewDefaultConfig()
	config.logger = common.NewTestLogger(t, level)
	return config
}

// RelayURL returns the base ws:// URL of the relay server.
func (c *Config) RelayURL() string {
	return "ws://" + c.RelayAddr
}

// ICEServers returns the ICE server list used by peer connections. The
// list contains a single item based on the configuration, with
// password-based authentication when a username is set.
func (c *Config) ICEServers() []webrtc.ICEServer {
	server := webrtc.ICEServer{
		URLs: []string{c.ICEAddress},
	}
	if c.ICEUsername != "" {
		server.Username = c.ICEUsername
		server.Credential = c.ICEPassword
		server.CredentialType = webrtc.ICECredentialTypePassword
	}
	return []webrtc.ICEServer{server}
}

// Logger returns a formatted logrus Entry, with prefix set to "rtcsignal".
// When LogFile is set, output is duplicated to the file through a hook.
func (c *Config) Logger() *logrus.Entry {
	if c.logger == nil {
		c.logger = logrus.New()
		c.logger.Level = LogLevel(c.LogLevel)
		c.logger.Formatter = new(prefixed.TextFormatter)

		if c.LogFile != "" {
			pathMap := make(lfshook.PathMap)
			for _, level := range logrus.AllLevels {
				if level <= c.logger.Level {
					pathMap[level] = c.LogFile
				}
			}
			c.logger.Hooks.Add(lfshook.NewHook(pathMap, c.logger.Formatter))
		}
	}
	return c.logger.WithField("prefix", "rtcsignal")
}

// LogLevel parses a string into a Logrus log level.
func LogLevel(l string) logrus.Level {
	switch l {
	case "debug":
		return logrus.DebugLevel
	case "info":
		return logrus.InfoLevel
	case "warn":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	case "fatal":
		return logrus.FatalLevel
	case "panic":
		return logrus.PanicLevel
	default:
		return logrus.DebugLevel
	}
}
