package app

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/devices/v3/ssd1306"
	"periph.io/x/devices/v3/ssd1306/image1bit"
	"periph.io/x/host/v3"

	"github.com/relabs-tech/inertial_stylus/internal/config"
	"github.com/relabs-tech/inertial_stylus/internal/orientation"
)

const (
	displayW = 128
	displayH = 64
)

// displayState holds the latest documents received for the OLED.
type displayState struct {
	mu sync.RWMutex

	pose     orientation.Pose
	havePose bool

	tele     TelemetryMessage
	haveTele bool
}

type displaySnapshot struct {
	pose     orientation.Pose
	havePose bool
	tele     TelemetryMessage
	haveTele bool
}

func (d *displayState) snapshot() displaySnapshot {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return displaySnapshot{pose: d.pose, havePose: d.havePose, tele: d.tele, haveTele: d.haveTele}
}

func (d *displayState) setPose(payload []byte) error {
	var m PoseMessage
	if err := json.Unmarshal(payload, &m); err != nil {
		return fmt.Errorf("display: pose unmarshal: %w", err)
	}
	d.mu.Lock()
	d.pose, d.havePose = m.Pose, true
	d.mu.Unlock()
	return nil
}

func (d *displayState) setTelemetry(payload []byte) error {
	var m TelemetryMessage
	if err := json.Unmarshal(payload, &m); err != nil {
		return fmt.Errorf("display: telemetry unmarshal: %w", err)
	}
	d.mu.Lock()
	d.tele, d.haveTele = m, true
	d.mu.Unlock()
	return nil
}

// RunDisplay mirrors pose and battery on an SSD1306 until ctx is cancelled.
func RunDisplay(ctx context.Context, cfg *config.Config) error {
	if _, err := host.Init(); err != nil {
		return fmt.Errorf("failed to initialize periph: %w", err)
	}

	bus, err := i2creg.Open(cfg.Display.I2CBus)
	if err != nil {
		return fmt.Errorf("failed to open I2C bus %q: %w", cfg.Display.I2CBus, err)
	}
	defer bus.Close()

	dev, err := ssd1306.NewI2C(bus, &ssd1306.DefaultOpts)
	if err != nil {
		return fmt.Errorf("failed to initialize display: %w", err)
	}
	defer dev.Halt()
	log.Infof("display: initialized on bus %q", cfg.Display.I2CBus)

	if err := dev.Draw(dev.Bounds(), renderSplash(cfg.Targets.Manufacturer+" "+cfg.Targets.Model), image.Point{}); err != nil {
		log.Warnf("display: error showing splash: %v", err)
	}

	state := &displayState{}

	client, err := connectMQTT(cfg.MQTT.Broker, cfg.MQTT.ClientIDDisplay)
	if err != nil {
		return err
	}
	defer client.Disconnect(250)

	if err := subscribe(client, cfg.Topics.Pose, func(p []byte) {
		if err := state.setPose(p); err != nil {
			log.Warn(err)
		}
	}); err != nil {
		return err
	}
	if err := subscribe(client, cfg.Topics.Telemetry, func(p []byte) {
		if err := state.setTelemetry(p); err != nil {
			log.Warn(err)
		}
	}); err != nil {
		return err
	}

	ticker := time.NewTicker(cfg.DisplayInterval())
	defer ticker.Stop()

	log.Info("display: starting update loop")
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := dev.Draw(dev.Bounds(), renderStatus(state.snapshot()), image.Point{}); err != nil {
				log.Warnf("display: error updating display: %v", err)
			}
		}
	}
}

func newCanvas() (*image1bit.VerticalLSB, *font.Drawer) {
	img := image1bit.NewVerticalLSB(image.Rect(0, 0, displayW, displayH))
	drawer := &font.Drawer{
		Dst:  img,
		Src:  &image.Uniform{image1bit.On},
		Face: basicfont.Face7x13,
	}
	return img, drawer
}

func drawLine(d *font.Drawer, x, y int, s string) {
	d.Dot = fixed.P(x, y)
	d.DrawString(s)
}

// renderStatus draws roll/pitch/yaw and the battery line.
func renderStatus(s displaySnapshot) *image1bit.VerticalLSB {
	img, d := newCanvas()

	if !s.havePose {
		drawLine(d, 0, 26, "Orientation")
		drawLine(d, 0, 39, "Waiting...")
	} else {
		drawLine(d, 0, 13, fmt.Sprintf("R: %7.1f", s.pose.Roll))
		drawLine(d, 0, 26, fmt.Sprintf("P: %7.1f", s.pose.Pitch))
		drawLine(d, 0, 39, fmt.Sprintf("Y: %7.1f", s.pose.Yaw))
	}

	if s.haveTele {
		line := fmt.Sprintf("%.2fV %ddBm", s.tele.Telemetry.BatteryVoltage, s.tele.Telemetry.RSSI)
		if !s.tele.Report.OK {
			line += " !"
		}
		drawLine(d, 0, 58, line)
	}
	return img
}

func renderSplash(label string) *image1bit.VerticalLSB {
	img, d := newCanvas()
	drawLine(d, 10, 26, "Inertial Stylus")
	drawLine(d, 10, 43, label)
	return img
}
