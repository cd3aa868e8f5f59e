package commands

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mosaicnetworks/rtcsignal/src/config"
	"github.com/mosaicnetworks/rtcsignal/src/signal/relay"
	"github.com/mosaicnetworks/rtcsignal/src/version"
)

var (
	listenAddr  string
	logLevel    string
	logFile     string
	showVersion bool
)

func init() {
	RootCmd.Flags().StringVarP(&listenAddr, "listen", "l", config.DefaultRelayAddr, "Listen IP:Port for the relay server")
	RootCmd.Flags().StringVar(&logLevel, "log", config.DefaultLogLevel, "Log level (debug, info, warn, error, fatal, panic)")
	RootCmd.Flags().StringVar(&logFile, "log-file", "", "Duplicate log output to a file")
	RootCmd.Flags().BoolVarP(&showVersion, "version", "v", false, "Show version and exit")

	viper.BindPFlags(RootCmd.Flags())
}

// RootCmd is the root command for the signaling relay server
var RootCmd = &cobra.Command{
	Use:   "relay",
	Short: "Signaling relay server for WebRTC interop tests",
	RunE:  runServer,
}

// runServer starts the relay server and waits for a SIGINT or SIGTERM
func runServer(cmd *cobra.Command, args []string) error {
	if showVersion {
		fmt.Println(version.Version)
		return nil
	}

	cfg := config.NewDefaultConfig()
	cfg.LogLevel = viper.GetString("log")
	cfg.LogFile = viper.GetString("log-file")
	cfg.RelayAddr = viper.GetString("listen")

	logger := cfg.Logger()

	server := relay.NewServer(cfg.RelayAddr, logger)
	if err := server.Listen(); err != nil {
		return err
	}

	logger.WithField("addr", server.Addr()).Info("Relay server listening")

	go server.Run()

	//Prepare sigCh to relay SIGINT and SIGTERM system calls
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	<-sigCh

	server.Shutdown()

	return nil
}
