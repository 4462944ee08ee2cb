// Command ploytecd is the Ploytec USB audio/MIDI engine daemon: it
// watches for a supported device, runs the enumeration handshake and
// streaming pumps, and serves the shared memory region consumers
// attach to.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	charmlog "github.com/charmbracelet/log"
	"github.com/google/gousb"
	flag "github.com/spf13/pflag"

	"ploytecd/internal/config"
	"ploytecd/internal/diag"
	"ploytecd/internal/shmring"
	"ploytecd/internal/usbengine"
)

const devicePollInterval = 500 * time.Millisecond

func main() {
	var (
		shmName  = flag.String("shm-name", "", "shared memory region name (default from config/.env)")
		diagAddr = flag.String("diag-addr", "", "diagnostics HTTP listen address (default from config/.env)")
		logLevel = flag.String("log-level", "", "log level: debug, info, warn, error (default from config/.env)")
	)
	flag.Parse()

	cfg, err := config.LoadEngineConfig()
	if err != nil {
		charmlog.Fatal("load config", "err", err)
	}
	if *shmName != "" {
		cfg.ShmName = *shmName
	}
	if *diagAddr != "" {
		cfg.DiagAddr = *diagAddr
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	log := charmlog.NewWithOptions(os.Stderr, charmlog.Options{ReportTimestamp: true})
	if lvl, err := charmlog.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(lvl)
	}

	profile := usbengine.ReferenceProfile(0)
	profile.URBCount = cfg.URBCount

	region, err := createRegion(cfg.ShmName, profile)
	if err != nil {
		log.Fatal("create shared region", "err", err)
	}

	opener := func(vid, pid uint16) (usbengine.Transport, error) {
		t, err := usbengine.OpenGousbTransport(vid, pid)
		if err != nil {
			return nil, err
		}
		return t, nil
	}

	engine := usbengine.NewEngine(profile, region, opener, log.With("component", "usbengine"))

	diagServer := diag.New(region, engine)
	go func() {
		if err := diagServer.Run(cfg.DiagAddr); err != nil {
			log.Error("diagnostics server stopped", "err", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	stopPoll := make(chan struct{})
	go pollForDevice(log, engine, cfg.ProductIDOverride, stopPoll)

	log.Info("ploytecd started", "shm", cfg.ShmName, "diag", cfg.DiagAddr)
	<-quit

	log.Info("shutting down")
	close(stopPoll)
	if err := engine.Shutdown(); err != nil {
		log.Error("engine shutdown", "err", err)
	}
}

// createRegion maps the shared region, wrapping any failure in
// usbengine.ErrShmCreateFailed so callers can errors.Is against the
// same six sentinel kinds spec.md §7 names for the rest of the engine.
func createRegion(name string, profile usbengine.Profile) (*shmring.Region, error) {
	region, err := shmring.Create(name, profile.NumPackets, profile.MaxPacketSize)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", usbengine.ErrShmCreateFailed, err)
	}
	return region, nil
}

// pollForDevice periodically probes for a supported device the way
// the reference driver's IsUSBDeviceAvailable does (open-then-close a
// throwaway gousb context), and drives the engine's hotplug events
// from the presence transitions it observes. gousb does not expose a
// portable hotplug callback API, so polling is the engine's only
// source of device-matched/device-terminated events.
func pollForDevice(log *charmlog.Logger, engine *usbengine.Engine, productOverride uint16, stop <-chan struct{}) {
	ticker := time.NewTicker(devicePollInterval)
	defer ticker.Stop()

	present := false
	var presentPID uint16

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			pid, found := probeDevice(productOverride)
			switch {
			case found && !present:
				present = true
				presentPID = pid
				if err := engine.HandleDeviceMatched(usbengine.VendorID, pid); err != nil {
					log.Error("device matched handler failed", "err", err)
					present = false
				}
			case !found && present:
				present = false
				presentPID = 0
				if err := engine.HandleDeviceTerminated(); err != nil {
					log.Warn("device terminated", "err", err)
				}
			case found && present && pid != presentPID:
				// Different product id appeared without an intervening
				// gap; treat as a termination followed by a fresh match.
				_ = engine.HandleDeviceTerminated()
				presentPID = pid
				if err := engine.HandleDeviceMatched(usbengine.VendorID, pid); err != nil {
					log.Error("device matched handler failed", "err", err)
					present = false
				}
			}
		}
	}
}

// probeDevice opens and immediately closes a throwaway libusb context
// to check for a supported product id, the same shape as
// usb_device.go's IsUSBDeviceAvailable. If productOverride is nonzero,
// only that product id is probed; otherwise all four family members
// are tried in turn.
func probeDevice(productOverride uint16) (uint16, bool) {
	candidates := []uint16{usbengine.ProductDB4, usbengine.ProductDB2, usbengine.ProductDX, usbengine.Product4D}
	if productOverride != 0 {
		candidates = []uint16{productOverride}
	}

	ctx := gousb.NewContext()
	defer ctx.Close()

	for _, pid := range candidates {
		dev, err := ctx.OpenDeviceWithVIDPID(gousb.ID(usbengine.VendorID), gousb.ID(pid))
		if err != nil || dev == nil {
			continue
		}
		dev.Close()
		return pid, true
	}
	return 0, false
}
