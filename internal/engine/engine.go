// Package engine runs one mission: it loads the survey, connects to the
// vehicle and wires the flight state machine to the link over the bus.
package engine

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/tiiuae/motionplanning/internal/config"
	"github.com/tiiuae/motionplanning/internal/flight"
	"github.com/tiiuae/motionplanning/internal/planning"
	"github.com/tiiuae/motionplanning/internal/survey"
	"github.com/tiiuae/motionplanning/internal/telemetry"
	"github.com/tiiuae/motionplanning/internal/types"
	"github.com/tiiuae/motionplanning/internal/vehicle"
)

type Engine struct {
	conf *config.Config

	mu     sync.Mutex
	cancel context.CancelFunc
	stop   bool
}

func New(conf *config.Config) *Engine {
	return &Engine{conf: conf}
}

// Start flies the mission and blocks until it completes, fails or Stop is
// called. A nil error means the vehicle is back in MANUAL or the engine was
// stopped.
func (e *Engine) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if !e.setCancel(cancel) {
		return nil
	}

	if err := e.conf.Validate(); err != nil {
		return errors.WithMessage(err, "invalid configuration")
	}

	s, err := survey.Load(e.conf.Planning.SurveyPath)
	if err != nil {
		return err
	}
	logrus.WithFields(logrus.Fields{
		"obstacles": len(s.Obstacles),
		"lat0":      s.Origin.Lat,
		"lon0":      s.Origin.Lon,
	}).Info("Survey loaded")

	planner := planning.New(s, PlanningOptions(e.conf.Planning))
	goal := types.GlobalPosition{Lat: e.conf.Mission.GoalLat, Lon: e.conf.Mission.GoalLon, Alt: e.conf.Mission.GoalAlt}

	vc := vehicle.Config{
		Host:     e.conf.Vehicle.Host,
		Port:     e.conf.Vehicle.Port,
		Timeout:  e.conf.Vehicle.Timeout,
		SystemID: byte(e.conf.Vehicle.SystemID),
	}
	link, err := vehicle.Dial(ctx, vc)
	if err != nil {
		return err
	}
	defer link.Close()
	logrus.WithField("address", vc.Address()).Info("Vehicle connected")

	sup := newSupervisor()
	handlers := []types.MessageHandler{
		types.NewLogger(),
		flight.New(flight.NewMachine(planner, goal)),
		link,
		sup,
	}
	if uplink := e.newUplink(); uplink != nil {
		handlers = append(handlers, uplink)
	}
	bus := types.NewMessageBus(make(chan types.Message, 100), handlers...)

	var wg sync.WaitGroup
	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		bus.Run(ctx, &wg)
		return nil
	})
	eg.Go(func() error {
		defer cancel()
		return sup.wait(ctx)
	})

	err = eg.Wait()
	wg.Wait()
	if err != nil {
		return err
	}
	logrus.Info("Mission finished")
	return nil
}

// Stop ends a running Start. Calling Stop before Start makes Start return
// immediately.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stop = true
	if e.cancel != nil {
		e.cancel()
	}
}

func (e *Engine) setCancel(cancel context.CancelFunc) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cancel = cancel
	return !e.stop
}

// newUplink connects the MQTT telemetry uplink when a broker is configured.
// The mission flies without it if the broker cannot be reached.
func (e *Engine) newUplink() types.MessageHandler {
	mc := e.conf.MQTT
	if mc.Broker == "" {
		return nil
	}
	client, err := telemetry.NewMQTTClient(telemetry.MQTTConfig{
		Broker:         mc.Broker,
		DeviceID:       mc.DeviceID,
		ProjectID:      mc.ProjectID,
		Region:         mc.Region,
		RegistryID:     mc.RegistryID,
		PrivateKeyPath: mc.PrivateKey,
		Algorithm:      mc.Algorithm,
		ConnectRetries: mc.ConnectRetries,
	})
	if err != nil {
		logrus.WithError(err).Warn("Telemetry uplink disabled")
		return nil
	}
	return &disconnecting{
		MessageHandler: telemetry.NewUplink(telemetry.NewMQTTPublisher(client, mc.Interval*10), mc.DeviceID, mc.Interval),
		disconnect:     func() { client.Disconnect(1000) },
	}
}

// disconnecting closes the MQTT client once the uplink has stopped.
type disconnecting struct {
	types.MessageHandler
	disconnect func()
}

func (d *disconnecting) Run(ctx context.Context, wg *sync.WaitGroup, post types.PostFn) {
	d.MessageHandler.Run(ctx, wg, post)
	wg.Add(1)
	go func() {
		defer wg.Done()
		<-ctx.Done()
		d.disconnect()
	}()
}

// PlanningOptions maps the planning configuration to planner options.
func PlanningOptions(c config.PlanningConfig) planning.Options {
	o := planning.Options{
		TargetAltitude: c.TargetAltitude,
		SafetyDistance: c.SafetyDistance,
		Connectivity:   planning.EightConnected,
		Epsilon:        c.Epsilon,
		Shortcut:       c.Shortcut,
	}
	if c.Moves == "straight" {
		o.Connectivity = planning.FourConnected
	}
	return o
}

// IsInfeasible reports whether err means no mission can be flown from the
// configured survey and goal.
func IsInfeasible(err error) bool {
	return errors.Is(err, planning.ErrPlanningInfeasible) || errors.Is(err, survey.ErrMalformedSurvey)
}
