package main

import (
	"flag"
	"fmt"
	"strconv"

	"github.com/hsiscan/hsiscan/internal/logic/geometry"
)

// runFlags are the flags of the run command. Request flags override the
// config defaults only when given on the command line.
type runFlags struct {
	fs      *flag.FlagSet
	cfgPath string
	web     *webPortFlag
	output  string

	minFOR, maxFOR float64
	integration    int
	imageEvery     int
	repeats        int
	pixelFormat    string
	file           string
	lab            bool
	sceneCal       bool
	moveToStart    bool
}

func newRunFlags() *runFlags {
	rf := &runFlags{
		fs:  flag.NewFlagSet("run", flag.ContinueOnError),
		web: &webPortFlag{defaultPort: 8080},
	}
	fs := rf.fs
	fs.Var(rf.web, "web", "serve the HTTP API on port; -web= for default 8080, -web 8980 for custom port")
	fs.StringVar(&rf.cfgPath, "config", defaultConfigPath, "path to config file")
	fs.StringVar(&rf.output, "output", "", "output directory (overrides output.dir)")
	fs.Float64Var(&rf.minFOR, "min_for", 0, "FOR start in degrees [-0.25, 0]")
	fs.Float64Var(&rf.maxFOR, "max_for", 0, "FOR end in degrees [0, 0.25]")
	fs.IntVar(&rf.integration, "integration_us", 0, "integration time in microseconds")
	fs.IntVar(&rf.imageEvery, "image_every", 0, "image every N base positions (1-65)")
	fs.IntVar(&rf.repeats, "repeats", 0, "exposures averaged per image (1-99)")
	fs.StringVar(&rf.pixelFormat, "pixel_format", "", "camera pixel format, e.g. Mono12")
	fs.StringVar(&rf.file, "file", "", "output file name (.npy or .fits)")
	fs.BoolVar(&rf.lab, "lab", false, "lab calibration: skip the dark frame")
	fs.BoolVar(&rf.sceneCal, "scene_calibration", false, "mark the scan as a scene calibration")
	fs.BoolVar(&rf.moveToStart, "move_to_start", false, "move to min_for before scanning")
	return rf
}

// apply copies every request flag that was set onto req.
func (rf *runFlags) apply(req *geometry.Request) {
	rf.fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "min_for":
			req.MinFOR = rf.minFOR
		case "max_for":
			req.MaxFOR = rf.maxFOR
		case "integration_us":
			req.IntegrationTimeUs = rf.integration
		case "image_every":
			req.ImageEverySteps = rf.imageEvery
		case "repeats":
			req.ImagesPerStep = rf.repeats
		case "pixel_format":
			req.PixelFormat = rf.pixelFormat
		case "file":
			req.FileName = rf.file
		case "lab":
			req.LabCalibration = rf.lab
		case "scene_calibration":
			req.SceneCalibration = rf.sceneCal
		case "move_to_start":
			req.MoveToStart = rf.moveToStart
		}
	})
}

// webPortFlag implements flag.Value for -web: 0 = disabled, -web= or -web 8080 → 8080, -web 8980 → 8980.
type webPortFlag struct {
	val         int
	defaultPort int
}

func (w *webPortFlag) String() string {
	if w == nil || w.val == 0 {
		return "0"
	}
	return strconv.Itoa(w.val)
}

func (w *webPortFlag) Set(s string) error {
	if s == "" {
		w.val = w.defaultPort
		return nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return err
	}
	if v <= 0 || v > 65535 {
		return fmt.Errorf("port must be 1-65535, got %d", v)
	}
	w.val = v
	return nil
}

func (w *webPortFlag) port() int { return w.val }
