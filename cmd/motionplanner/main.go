package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tiiuae/motionplanning/internal/config"
	"github.com/tiiuae/motionplanning/internal/engine"
)

var (
	defaultFlagSet    = flag.NewFlagSet(os.Args[0], flag.ContinueOnError)
	configPath        = defaultFlagSet.String("config", "", "YAML configuration file")
	host              = defaultFlagSet.String("host", "", "Vehicle MAVLink host")
	port              = defaultFlagSet.Int("port", 0, "Vehicle MAVLink TCP port")
	timeout           = defaultFlagSet.Duration("timeout", 0, "Connection and telemetry timeout")
	deviceID          = defaultFlagSet.String("device_id", "", "The provisioned device id")
	mqttBrokerAddress = defaultFlagSet.String("mqtt_broker", "", "MQTT broker protocol, address and port")
	logLevel          = defaultFlagSet.String("log_level", "", "trace, debug, info, warn or error")
)

func main() {
	if err := defaultFlagSet.Parse(os.Args[1:]); err != nil {
		os.Exit(2)
	}

	conf, err := config.Load(*configPath)
	if err != nil {
		logrus.WithError(err).Fatal("Could not load configuration")
	}
	applyFlags(conf)

	logFile, err := setupLogging(conf.Log)
	if err != nil {
		logrus.WithError(err).Fatal("Could not set up logging")
	}
	if logFile != nil {
		defer logFile.Close()
	}

	// attach sigint & sigterm listeners
	terminationSignals := make(chan os.Signal, 1)
	signal.Notify(terminationSignals, syscall.SIGINT, syscall.SIGTERM)

	e := engine.New(conf)
	go func() {
		<-terminationSignals
		logrus.Info("Shutting down..")
		e.Stop()
	}()

	started := time.Now()
	err = e.Start(context.Background())
	if err != nil {
		entry := logrus.WithError(err).WithField("elapsed", time.Since(started))
		if engine.IsInfeasible(err) {
			entry.Error("Mission infeasible")
		} else {
			entry.Error("Mission failed")
		}
		if logFile != nil {
			logFile.Close()
		}
		os.Exit(1)
	}
	logrus.Info("Signing off - BYE")
}

// applyFlags overrides configuration with the flags given on the command line.
func applyFlags(conf *config.Config) {
	defaultFlagSet.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "host":
			conf.Vehicle.Host = *host
		case "port":
			conf.Vehicle.Port = *port
		case "timeout":
			conf.Vehicle.Timeout = *timeout
		case "device_id":
			conf.MQTT.DeviceID = *deviceID
		case "mqtt_broker":
			conf.MQTT.Broker = *mqttBrokerAddress
		case "log_level":
			conf.Log.Level = *logLevel
		}
	})
}
