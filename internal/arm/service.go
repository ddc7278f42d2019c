package arm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/danmuck/armctl/internal/actuation"
	"github.com/danmuck/armctl/internal/actuation/feetech"
	"github.com/danmuck/armctl/internal/actuation/mock"
	"github.com/danmuck/armctl/internal/actuation/pca9685"
	"github.com/danmuck/armctl/internal/config"
	"github.com/danmuck/armctl/internal/gpiobutton"
	"github.com/danmuck/armctl/internal/observability"
	"github.com/danmuck/armctl/internal/telemetry"
)

var (
	ErrInvalidHeartbeatInterval = errors.New("arm: invalid heartbeat interval")
	ErrUnknownDriver            = errors.New("arm: unknown actuation driver")
)

// EStopButtonConfig wires an optional physical stop button.
type EStopButtonConfig struct {
	Enabled  bool
	Pin      string
	Debounce time.Duration
}

// TelemetryConfig wires optional MQTT safety events.
type TelemetryConfig struct {
	Enabled     bool
	Broker      string
	TopicPrefix string
	ClientID    string
}

// ServiceConfig configures the standalone arm control runtime.
type ServiceConfig struct {
	Name              string
	Addr              string
	CORSOrigins       []string
	APIKey            string
	Policy            SafetyPolicy
	Channels          []ChannelSpec
	Actuation         actuation.Config
	EStopButton       EStopButtonConfig
	Telemetry         TelemetryConfig
	HeartbeatInterval time.Duration
}

func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		Name:              "arm-ctl",
		Addr:              ":8080",
		Policy:            DefaultSafetyPolicy(),
		Channels:          DefaultChannels(),
		Actuation:         actuation.Config{Kind: actuation.KindMock},
		HeartbeatInterval: 5 * time.Second,
	}
}

// DefaultChannels is the stock five-joint bench arm.
func DefaultChannels() []ChannelSpec {
	names := []string{"base", "shoulder", "elbow", "wrist_rotate", "gripper"}
	specs := make([]ChannelSpec, 0, len(names))
	for i, name := range names {
		specs = append(specs, ChannelSpec{
			ID:       name,
			Output:   i,
			MinAngle: 0,
			MaxAngle: 180,
			MaxSpeed: 100,
		})
	}
	return specs
}

// ServiceConfigFromFile maps a loaded file config onto the runtime
// config, resolving the calibration file when one is named.
func ServiceConfigFromFile(cfg config.Config) (ServiceConfig, error) {
	sc := DefaultServiceConfig()
	sc.Name = cfg.Name
	sc.Addr = cfg.Addr
	sc.CORSOrigins = cfg.CorsOrigins
	sc.APIKey = cfg.APIKey
	sc.Policy = SafetyPolicy{
		GlobalMaxSpeed:        cfg.Safety.GlobalMaxSpeed,
		GlobalMaxAcceleration: cfg.Safety.GlobalMaxAcceleration,
		CommandTimeout:        time.Duration(cfg.Safety.CommandTimeoutMS) * time.Millisecond,
		MovementTimeout:       time.Duration(cfg.Safety.MovementTimeoutMS) * time.Millisecond,
		BoundsChecking:        cfg.Safety.BoundsChecking,
		SpeedLimiting:         cfg.Safety.SpeedLimiting,
		TimeoutProtection:     cfg.Safety.TimeoutProtection,
		EmergencyStop:         cfg.Safety.EmergencyStop,
		FaultEscalation:       cfg.Safety.FaultEscalation,
	}
	sc.Actuation = actuation.Config{
		Kind:       cfg.Actuation.Driver,
		I2CBus:     cfg.Actuation.I2CBus,
		I2CAddr:    uint16(cfg.Actuation.I2CAddr),
		SerialPort: cfg.Actuation.SerialPort,
		BaudRate:   cfg.Actuation.BaudRate,
	}

	var cal config.Calibration
	if cfg.Actuation.Calibration != "" {
		loaded, err := config.LoadCalibration(cfg.Actuation.Calibration)
		if err != nil {
			return ServiceConfig{}, fmt.Errorf("%w: %v", ErrConfiguration, err)
		}
		cal = loaded
		sc.Actuation.PWMFrequency = cal.PWMFrequency
	}

	sc.Channels = make([]ChannelSpec, 0, len(cfg.Channels))
	for _, ch := range cfg.Channels {
		spec := ChannelSpec{
			ID:       ch.ID,
			Output:   ch.Output,
			MinAngle: ch.MinAngle,
			MaxAngle: ch.MaxAngle,
			MaxSpeed: ch.MaxSpeed,
			Pulses:   actuation.DefaultPulses(),
		}
		if c, ok := cal.Channels[ch.ID]; ok {
			spec.Pulses = actuation.PulseProfile{
				Min:    time.Duration(c.MinPulseUS) * time.Microsecond,
				Center: time.Duration(c.CenterPulseUS) * time.Microsecond,
				Max:    time.Duration(c.MaxPulseUS) * time.Microsecond,
			}
		}
		sc.Channels = append(sc.Channels, spec)
	}

	sc.EStopButton = EStopButtonConfig{
		Enabled:  cfg.EStopButton.Enabled,
		Pin:      cfg.EStopButton.Pin,
		Debounce: time.Duration(cfg.EStopButton.DebounceMS) * time.Millisecond,
	}
	sc.Telemetry = TelemetryConfig{
		Enabled:     cfg.Telemetry.Enabled,
		Broker:      cfg.Telemetry.Broker,
		TopicPrefix: cfg.Telemetry.TopicPrefix,
		ClientID:    cfg.Telemetry.ClientID,
	}
	return sc, nil
}

// Service runs the arm control lifecycle as a standalone process.
type Service struct {
	cfg    ServiceConfig
	logger zerolog.Logger

	driver  actuation.Driver
	store   *Store
	sup     *Supervisor
	ctrl    *Controller
	server  *Server
	emitter *telemetry.Emitter
	button  *gpiobutton.Watcher
}

func NewService() *Service {
	return NewServiceWithConfig(DefaultServiceConfig())
}

func NewServiceWithConfig(cfg ServiceConfig) *Service {
	return &Service{cfg: cfg, logger: log.Logger}
}

// Run blocks until process signal shutdown.
func (s *Service) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := s.bootstrap(); err != nil {
		return err
	}
	return s.serve(ctx)
}

func (s *Service) Server() *Server {
	return s.server
}

func (s *Service) Controller() *Controller {
	return s.ctrl
}

func (s *Service) Supervisor() *Supervisor {
	return s.sup
}

// bootstrap validates config, opens hardware, and assembles the
// control stack. No motion happens here.
func (s *Service) bootstrap() error {
	if s.cfg.HeartbeatInterval <= 0 {
		return ErrInvalidHeartbeatInterval
	}
	if err := s.cfg.Policy.Validate(); err != nil {
		return err
	}
	if len(s.cfg.Channels) == 0 {
		return fmt.Errorf("%w: at least one channel required", ErrConfiguration)
	}

	driver, err := openDriver(s.cfg.Actuation)
	if err != nil {
		return err
	}
	s.driver = driver

	store, err := NewStore(s.cfg.Channels, driver)
	if err != nil {
		_ = driver.Close()
		return err
	}
	s.store = store

	var sink telemetry.Sink = telemetry.Nop{}
	if s.cfg.Telemetry.Enabled {
		s.emitter = telemetry.NewEmitter(telemetry.Config{
			Broker:      s.cfg.Telemetry.Broker,
			TopicPrefix: s.cfg.Telemetry.TopicPrefix,
			ClientID:    s.cfg.Telemetry.ClientID,
		}, s.logger)
		sink = s.emitter
	}

	s.sup = NewSupervisor(s.cfg.Policy, store, s.logger, sink)
	s.ctrl = NewController(store, s.sup, s.logger)
	s.server = NewServer(s.cfg.Name, s.ctrl, s.sup, s.cfg.CORSOrigins, s.cfg.APIKey)
	s.server.RegisterRoutes()

	if s.cfg.EStopButton.Enabled {
		s.button = gpiobutton.New(gpiobutton.Config{
			Pin:      s.cfg.EStopButton.Pin,
			Debounce: s.cfg.EStopButton.Debounce,
		}, func(source string) {
			s.sup.EmergencyStop(source)
		}, s.logger)
	}

	s.logger.Info().
		Str("name", s.cfg.Name).
		Str("addr", s.cfg.Addr).
		Str("driver", s.cfg.Actuation.Kind).
		Int("channels", len(s.cfg.Channels)).
		Msg("arm service ready")
	return nil
}

// serve runs the HTTP listener, heartbeat, and optional button watcher
// until the context is cancelled.
func (s *Service) serve(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()

	httpSrv := &http.Server{Addr: s.cfg.Addr, Handler: s.server.Handler()}
	serverErr := make(chan error, 1)
	go func() {
		err := httpSrv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
			return
		}
		serverErr <- nil
	}()

	buttonErr := make(chan error, 1)
	if s.button != nil {
		go func() {
			buttonErr <- s.button.Run(ctx)
		}()
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("arm service shutdown")
			return s.shutdown(httpSrv)
		case err := <-serverErr:
			if err != nil {
				s.shutdownHardware()
				return err
			}
		case err := <-buttonErr:
			if err != nil && ctx.Err() == nil {
				s.logger.Warn().Err(err).Msg("estop button watcher stopped")
			}
		case <-ticker.C:
			running := s.store.RunningCount()
			observability.SetChannelsRunning(running)
			estop := s.sup.EStop()
			s.logger.Info().
				Int("running", running).
				Bool("estop", estop.Active).
				Msg("arm service heartbeat")
		}
	}
}

func (s *Service) shutdown(httpSrv *http.Server) error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := httpSrv.Shutdown(shutdownCtx)
	s.shutdownHardware()
	return err
}

// shutdownHardware stops motion and releases the actuation backend.
func (s *Service) shutdownHardware() {
	if s.sup != nil {
		s.sup.StopAll()
	}
	if s.emitter != nil {
		s.emitter.Close()
	}
	if s.driver != nil {
		if err := s.driver.Close(); err != nil {
			s.logger.Warn().Err(err).Msg("actuation close failed")
		}
	}
}

func openDriver(cfg actuation.Config) (actuation.Driver, error) {
	switch cfg.Kind {
	case actuation.KindMock, "":
		return mock.New(), nil
	case actuation.KindPCA9685:
		return pca9685.New(cfg)
	case actuation.KindFeetech:
		return feetech.New(cfg)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, cfg.Kind)
	}
}
