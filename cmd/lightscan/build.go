package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/hashicorp/go-multierror"

	"github.com/thzlab/lightscan/daq"
	"github.com/thzlab/lightscan/demo"
	"github.com/thzlab/lightscan/generichttp"
	httplockin "github.com/thzlab/lightscan/generichttp/lockin"
	httpmotion "github.com/thzlab/lightscan/generichttp/motion"
	httpscan "github.com/thzlab/lightscan/generichttp/scan"
	"github.com/thzlab/lightscan/keysight"
	"github.com/thzlab/lightscan/lockin"
	"github.com/thzlab/lightscan/motion"
	"github.com/thzlab/lightscan/recorder"
	"github.com/thzlab/lightscan/scan"
	"github.com/thzlab/lightscan/server"
	"github.com/thzlab/lightscan/server/middleware/locker"
	"github.com/thzlab/lightscan/srs"
	"github.com/thzlab/lightscan/thorlabs"
)

// rig is the set of instruments one program instance drives
type rig struct {
	amp     lockin.Amplifier
	stage   motion.Stage
	dig     daq.Digitizer
	archive *recorder.SQLiteArchive

	overhead scan.Overhead
}

type opener interface {
	Open() error
	Close() error
}

func (r *rig) devices() []opener {
	out := []opener{}
	if r.amp != nil {
		out = append(out, r.amp)
	}
	if r.stage != nil {
		out = append(out, r.stage)
	}
	if r.dig != nil {
		out = append(out, r.dig)
	}
	return out
}

func demoDataset(c DemoConfig) (*demo.Dataset, error) {
	if c.Dataset != "" {
		return demo.LoadFile(c.Dataset)
	}
	n := c.Points
	if n < 1 {
		n = 101
	}
	return demo.New(demo.Pulse(n, 1e-3))
}

// buildRig creates, but does not open, the instruments named by c
func buildRig(c Config) (*rig, error) {
	r := &rig{}
	useDig := strings.EqualFold(c.Source, sourceDigitizer)
	switch strings.ToLower(c.Mode) {
	case modeDemo:
		data, err := demoDataset(c.Demo)
		if err != nil {
			return nil, err
		}
		if useDig {
			r.dig = daq.NewMock(data)
		} else {
			r.amp = srs.NewMock(data)
		}
		stage := thorlabs.NewMock(c.Stage.Velocity)
		stage.MoveTimeout = c.Stage.MoveTimeout
		r.stage = stage
		travel, fixed := scan.VelocityOverhead(c.Stage.Velocity), c.Demo.Overhead
		r.overhead = func(p scan.Parameters) time.Duration {
			return travel(p) + fixed
		}
	case modeReal:
		amp := srs.NewSR830(c.Lockin.Addr, c.Lockin.Baud)
		amp.FlushSettle = c.Lockin.FlushSettle
		r.amp = amp
		stage := thorlabs.NewLTS150(c.Stage.Addr, c.Stage.Baud)
		stage.HomeTimeout = c.Stage.HomeTimeout
		stage.MoveTimeout = c.Stage.MoveTimeout
		r.stage = stage
		if useDig {
			r.dig = keysight.NewDAQ(c.Digitizer.Addr, c.Digitizer.Serial, c.Digitizer.Channel)
		}
		r.overhead = scan.VelocityOverhead(c.Stage.Velocity)
	default:
		return nil, fmt.Errorf("unknown mode %q", c.Mode)
	}
	if c.Save.Archive != "" {
		r.archive = recorder.NewSQLiteArchive(c.Save.Archive)
	}
	return r, nil
}

// open connects every instrument, closing the ones already open if any fails
func (r *rig) open() error {
	devs := r.devices()
	for i, d := range devs {
		if err := d.Open(); err != nil {
			var result error = err
			for _, o := range devs[:i] {
				if cerr := o.Close(); cerr != nil {
					result = multierror.Append(result, cerr)
				}
			}
			return result
		}
	}
	return nil
}

// close releases every instrument and the archive
func (r *rig) close() error {
	var result error
	for _, d := range r.devices() {
		if err := d.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if r.archive != nil {
		if err := r.archive.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result
}

// setup applies the connection-time configuration: the amplifier preset and
// the stage homing
func (r *rig) setup(ctx context.Context, c Config) error {
	if c.Lockin.StandardSetup {
		if ss, ok := r.amp.(lockin.StandardSetupper); ok {
			if err := ss.StandardSetup(); err != nil {
				return fmt.Errorf("standard setup: %w", err)
			}
		}
	}
	if c.Stage.HomeOnStart && r.stage != nil {
		log.Println("homing stage")
		if err := r.stage.Home(ctx); err != nil {
			return fmt.Errorf("homing: %w", err)
		}
	}
	return nil
}

// controller builds the scan controller for r
func (r *rig) controller(c Config, obs ...scan.Observer) *scan.Controller {
	var archives []recorder.Archive
	if r.archive != nil {
		archives = append(archives, r.archive)
	}
	opts := []scan.Option{
		scan.WithRecorder(recorder.New(archives...)),
		scan.WithOverhead(r.overhead),
		scan.WithPollInterval(c.Scan.PollInterval),
		scan.WithQuiesceOnStop(c.Scan.QuiesceOnStop),
		scan.WithSavePolicy(c.Save.Policy()),
		scan.WithObserver(scan.MultiObserver(obs)),
	}
	if r.amp != nil {
		opts = append(opts, scan.WithAmplifier(r.amp))
	}
	if r.dig != nil {
		opts = append(opts, scan.WithDigitizer(r.dig))
	}
	return scan.New(r.stage, opts...)
}

// buildMux binds the scan, lock-in and stage routes.  Instrument routes are
// locked while the controller is busy
func buildMux(c Config, r *rig, ctl *scan.Controller, feed *httpscan.Feed) chi.Router {
	defaults := func() scan.Parameters {
		p, err := c.Scan.Parameters()
		if err != nil {
			log.Printf("default scan parameters: %v", err)
		}
		return p
	}
	lock := locker.New(ctl.Busy)
	lock.DoNotProtect = append(lock.DoNotProtect, "/data/")

	root := chi.NewRouter()
	root.Use(middleware.Logger)
	root.Use(lock.Check)

	rt := generichttp.RouteTable{}
	hs := httpscan.NewHTTPScan(ctl, defaults, feed)
	locker.Inject(hs, lock)
	rt.Merge(hs.RT())
	if r.amp != nil {
		rt.Merge(httplockin.NewHTTPLockin(r.amp, ctl).RT())
	}
	if r.stage != nil {
		rt.Merge(httpmotion.NewHTTPStage(r.stage, ctl).RT())
	}
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/data/{name}"}] = server.Files(func() string {
		return ctl.SavePolicy().Dir
	})
	rt.Bind(root)
	return root
}
