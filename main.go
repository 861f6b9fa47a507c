package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
)

// Version is set at build time via -ldflags
var Version = "dev"

// AppOptions holds the parsed command line
type AppOptions struct {
	ConfigFile string
	Inputs     []string
	OutputDir  string

	Build      bool
	Register   bool
	FitSurface bool
	Orient     bool
	Apply      bool

	From string
	To   string
	Mode string

	HttpMode bool
	HttpPort int
	MqttMode bool
}

// Application is implemented by App; tests substitute a recorder
type Application interface {
	ApplyOptions(opts AppOptions)
	RunBuild() error
	RunRegister() error
	RunFitSurface() error
	RunOrient() error
	RunApply() error
	RunService() error
}

func main() {
	if err := run(os.Args[1:], os.Stdout, NewApp()); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		log.Fatalf("Error: %v", err)
	}
}

// run parses args and dispatches to the selected mode
func run(args []string, out io.Writer, app Application) error {
	fs := flag.NewFlagSet("eegmontage", flag.ContinueOnError)
	fs.SetOutput(out)

	var opts AppOptions
	var inputs string
	fs.StringVar(&opts.ConfigFile, "config", "config.yaml", "Path to configuration file")
	fs.BoolVar(&opts.Build, "build", false, "Build a template from the subject coordinate files and exit")
	fs.StringVar(&inputs, "inputs", "", "Comma-separated subject coordinate files or URLs (default: inputs from config)")
	fs.StringVar(&opts.OutputDir, "output-dir", "", "Directory for output files (default: output.dir from config)")
	fs.BoolVar(&opts.Register, "register", false, "Register -from onto -to and exit")
	fs.BoolVar(&opts.FitSurface, "fit-surface", false, "Fit the deformable head model to -from and exit")
	fs.BoolVar(&opts.Orient, "orient", false, "Bring -from into the canonical orientation and exit")
	fs.BoolVar(&opts.Apply, "apply", false, "Apply the stored template transform of the -from subject and exit")
	fs.StringVar(&opts.From, "from", "", "Source coordinate file")
	fs.StringVar(&opts.To, "to", "", "Target coordinate file for -register")
	fs.StringVar(&opts.Mode, "mode", "", "Fit mode: registration mode, surface fit mode or orientation objective")
	fs.BoolVar(&opts.MqttMode, "mqtt", false, "Run MQTT service mode, building templates on request")
	fs.BoolVar(&opts.HttpMode, "http", false, "Enable HTTP server for the last template build")
	fs.IntVar(&opts.HttpPort, "http-port", 8080, "HTTP server port")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if inputs != "" {
		for _, in := range strings.Split(inputs, ",") {
			if in = strings.TrimSpace(in); in != "" {
				opts.Inputs = append(opts.Inputs, in)
			}
		}
	}

	fmt.Fprintf(out, "eegmontage version: %s\n", Version)
	app.ApplyOptions(opts)

	switch {
	case opts.Build:
		return app.RunBuild()
	case opts.Register:
		return app.RunRegister()
	case opts.FitSurface:
		return app.RunFitSurface()
	case opts.Orient:
		return app.RunOrient()
	case opts.Apply:
		return app.RunApply()
	case opts.MqttMode || opts.HttpMode:
		return app.RunService()
	}

	fmt.Fprintln(out, "Usage:")
	fmt.Fprintln(out, "  -build -inputs a.xyz,b.xyz     build a group template")
	fmt.Fprintln(out, "  -register -from a.xyz -to b.xyz register one montage onto another")
	fmt.Fprintln(out, "  -fit-surface -from a.xyz        fit the deformable head model")
	fmt.Fprintln(out, "  -orient -from a.xyz             canonical orientation")
	fmt.Fprintln(out, "  -apply -from a.xyz              map a subject into the last template frame")
	fmt.Fprintln(out, "  -mqtt [-http]                   service mode (build on {prefix}/build)")
	fmt.Fprintln(out, "\nConfiguration:")
	fmt.Fprintln(out, "  config.yaml - inputs, outputs, fitting and MQTT settings")
	return nil
}
