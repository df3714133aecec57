package main

import (
	"context"
	"errors"
	"flag"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"paperpiper/internal/activity"
	"paperpiper/internal/battery"
	"paperpiper/internal/config"
	"paperpiper/internal/epd"
	"paperpiper/internal/imu"
	appLog "paperpiper/internal/log"
	"paperpiper/internal/model"
	"paperpiper/internal/mqtt"
	"paperpiper/internal/orchestrator"
	"paperpiper/internal/power"
	"paperpiper/internal/render"
	"paperpiper/internal/stream"
	"paperpiper/internal/touch"
	"paperpiper/internal/web"
)

// flagConfig holds CLI flag values.
type flagConfig struct {
	configPath string
	listen     string
	debug      bool
}

func main() {
	appLog.Info("paperpiper starting", "version", "0.1.0")

	flags := parseFlags()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}

	// CLI --listen overrides config file listen if provided.
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	applyLogLevel(conf.LogLevel, flags.debug)

	appLog.Info("effective config",
		"listen", conf.Listen,
		"stream_listen", conf.StreamListen,
		"idle_timeout", conf.IdleTimeout.String(),
		"panel", conf.Display.Panel,
		"rotation", conf.Display.Rotation,
		"touch", conf.Touch.Source,
		"imu", conf.IMU.Enabled,
	)

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		appLog.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	if err := config.Watch(ctx, flags.configPath, func(c *config.Config) {
		applyLogLevel(c.LogLevel, flags.debug)
	}); err != nil {
		appLog.Warn("config hot reload disabled", "err", err.Error())
	}

	if err := run(ctx, conf); err != nil && !errors.Is(err, context.Canceled) {
		if errors.Is(err, orchestrator.ErrPoweredOff) {
			appLog.Info("paperpiper powered off")
			return
		}
		appLog.Error("paperpiper failed", err)
		os.Exit(1)
	}
	appLog.Info("paperpiper exiting")
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/paperpiper/config.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.debug, "debug", false, "Force debug logging")

	flag.Parse()

	return cfg
}

func applyLogLevel(level string, debug bool) {
	if debug {
		level = "debug"
	}
	appLog.SetLevel(appLog.ParseLevel(level))
}

// run wires the display loop to its producers and blocks until the loop
// exits.
func run(ctx context.Context, conf *config.Config) error {
	d := conf.Display

	panel, err := epd.Open(d.Panel, epd.Options{Width: d.Width, Height: d.Height, DumpDir: d.DumpDir})
	if err != nil {
		return err
	}
	defer func() {
		if err := panel.Close(); err != nil {
			appLog.Warn("panel close failed", "err", err.Error())
		}
	}()

	fonts, err := render.NewFonts()
	if err != nil {
		return err
	}
	defer fonts.Close()

	bat, err := battery.NewPoller(battery.DefaultReader(conf.Battery.I2CBus, conf.Battery.Address), conf.Battery.Refresh)
	if err != nil {
		return err
	}
	bat.Start()
	defer bat.Stop()

	info := &headerInfo{addr: localAddress(), battery: bat}
	renderer := render.New(panel, fonts, info, render.Options{
		NativeWidth:   d.Width,
		NativeHeight:  d.Height,
		SurfaceBudget: conf.Image.MaxSurfaceBytes,
	})

	q := orchestrator.NewQueue(0)
	o := orchestrator.New(orchestrator.Options{
		Renderer:     renderer,
		Metrics:      fonts,
		Power:        power.New(conf.Power.Command),
		NativeWidth:  d.Width,
		NativeHeight: d.Height,
		Layout: model.Layout{
			HeaderHeight: d.HeaderHeight,
			FooterHeight: d.FooterHeight,
			Margin:       d.Margin,
		},
		Rotation:    d.Rotation,
		IdleTimeout: activity.MillisFrom(conf.IdleTimeout),
	}, 0)

	loop := &orchestrator.Loop{O: o, Q: q}
	if conf.IMU.Enabled {
		acc, err := imu.Open(conf.IMU.I2CBus, conf.IMU.Address)
		if err != nil {
			appLog.Warn("accelerometer unavailable, rotation fixed", "err", err.Error())
		} else {
			defer acc.Close()
			loop.Accel = acc
		}
	}

	// Producers stop with the loop, whichever ends first.
	pctx, stopProducers := context.WithCancel(ctx)
	var wg sync.WaitGroup
	defer wg.Wait()
	defer stopProducers()

	goRun(&wg, "stream server", func() error {
		return stream.NewServer(conf.StreamListen, q).ListenAndServe(pctx)
	})

	dial := func(ctx context.Context, s model.MQTTSettings) (orchestrator.Subscription, error) {
		link, err := mqtt.Dial(ctx, s, q, mqtt.Options{
			RetryInterval:  conf.MQTT.RetryInterval,
			ConnectTimeout: conf.MQTT.ConnectTimeout,
		})
		if err != nil {
			return nil, err
		}
		return link, nil
	}
	srv := web.NewServer(conf, q, dial, bat)
	goRun(&wg, "http server", func() error { return srv.Start(pctx) })

	if src := openTouch(conf); src != nil {
		defer src.Close()
		goRun(&wg, "touch", func() error { return src.Run(pctx, q) })
	}

	err = loop.Run(ctx)
	stopProducers()
	return err
}

// goRun runs fn in the group and logs an unexpected exit.
func goRun(wg *sync.WaitGroup, name string, fn func() error) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := fn(); err != nil && !errors.Is(err, context.Canceled) {
			appLog.Error(name+" stopped", err)
		}
	}()
}

func openTouch(conf *config.Config) touch.Source {
	var (
		src touch.Source
		err error
	)
	switch conf.Touch.Source {
	case "evdev":
		src, err = touch.OpenEvdev(conf.Touch.Device)
	case "gt1151":
		src, err = touch.OpenGT1151(touch.GT1151Options{
			Bus:     conf.Touch.I2CBus,
			NativeW: conf.Display.Width,
			NativeH: conf.Display.Height,
		})
	default:
		return nil
	}
	if err != nil {
		appLog.Warn("touch unavailable", "source", conf.Touch.Source, "err", err.Error())
		return nil
	}
	return src
}

// headerInfo feeds the renderer header. The address is resolved lazily
// because the network may come up after start.
type headerInfo struct {
	mu       sync.Mutex
	addr     string
	resolved time.Time
	battery  *battery.Poller
}

func (h *headerInfo) Address() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.addr == "" && time.Since(h.resolved) > 10*time.Second {
		h.addr = localAddress()
		h.resolved = time.Now()
	}
	return h.addr
}

func (h *headerInfo) BatteryPercent() (int, bool) {
	return h.battery.BatteryPercent()
}

// localAddress returns the first non-loopback IPv4 address, or "".
func localAddress() string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return ""
	}
	for _, a := range addrs {
		ipn, ok := a.(*net.IPNet)
		if !ok || ipn.IP.IsLoopback() {
			continue
		}
		if v4 := ipn.IP.To4(); v4 != nil {
			return v4.String()
		}
	}
	return ""
}
