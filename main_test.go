package main

import (
	"bytes"
	"errors"
	"flag"
	"strings"
	"testing"
)

type mockApp struct {
	opts   AppOptions
	called map[string]bool
	err    error
}

func newMockApp() *mockApp {
	return &mockApp{
		called: make(map[string]bool),
	}
}

func (m *mockApp) ApplyOptions(opts AppOptions) { m.opts = opts }
func (m *mockApp) RunBuild() error              { m.called["RunBuild"] = true; return m.err }
func (m *mockApp) RunRegister() error           { m.called["RunRegister"] = true; return m.err }
func (m *mockApp) RunFitSurface() error         { m.called["RunFitSurface"] = true; return m.err }
func (m *mockApp) RunOrient() error             { m.called["RunOrient"] = true; return m.err }
func (m *mockApp) RunApply() error              { m.called["RunApply"] = true; return m.err }
func (m *mockApp) RunService() error            { m.called["RunService"] = true; return m.err }

func TestRun_Flags(t *testing.T) {
	tests := []struct {
		name           string
		args           []string
		expectedCalled string
		verifyOpts     func(*testing.T, AppOptions)
	}{
		{
			name:           "Build",
			args:           []string{"--build", "--inputs", "a.xyz, b.xyz,,http://host/c.xyz", "--output-dir", "/tmp/out"},
			expectedCalled: "RunBuild",
			verifyOpts: func(t *testing.T, opts AppOptions) {
				want := []string{"a.xyz", "b.xyz", "http://host/c.xyz"}
				if strings.Join(opts.Inputs, "|") != strings.Join(want, "|") {
					t.Errorf("expected Inputs %v, got %v", want, opts.Inputs)
				}
				if opts.OutputDir != "/tmp/out" {
					t.Errorf("expected OutputDir /tmp/out, got %s", opts.OutputDir)
				}
				if opts.ConfigFile != "config.yaml" {
					t.Errorf("expected default ConfigFile config.yaml, got %s", opts.ConfigFile)
				}
			},
		},
		{
			name:           "Register",
			args:           []string{"--register", "--from", "s1.xyz", "--to", "tpl.xyz", "--mode", "closestPoints"},
			expectedCalled: "RunRegister",
			verifyOpts: func(t *testing.T, opts AppOptions) {
				if opts.From != "s1.xyz" || opts.To != "tpl.xyz" {
					t.Errorf("expected From s1.xyz and To tpl.xyz, got %s and %s", opts.From, opts.To)
				}
				if opts.Mode != "closestPoints" {
					t.Errorf("expected Mode closestPoints, got %s", opts.Mode)
				}
			},
		},
		{
			name:           "FitSurface",
			args:           []string{"--fit-surface", "--from", "s1.xyz", "--config", "lab.yaml"},
			expectedCalled: "RunFitSurface",
			verifyOpts: func(t *testing.T, opts AppOptions) {
				if opts.ConfigFile != "lab.yaml" {
					t.Errorf("expected ConfigFile lab.yaml, got %s", opts.ConfigFile)
				}
				if !opts.FitSurface {
					t.Error("expected FitSurface true")
				}
			},
		},
		{
			name:           "Orient",
			args:           []string{"--orient", "--from", "s1.xyz", "--mode", "sagittal"},
			expectedCalled: "RunOrient",
			verifyOpts: func(t *testing.T, opts AppOptions) {
				if opts.Mode != "sagittal" {
					t.Errorf("expected Mode sagittal, got %s", opts.Mode)
				}
			},
		},
		{
			name:           "Apply",
			args:           []string{"--apply", "--from", "new/s2.xyz"},
			expectedCalled: "RunApply",
			verifyOpts: func(t *testing.T, opts AppOptions) {
				if !opts.Apply || opts.From != "new/s2.xyz" {
					t.Errorf("expected Apply with From new/s2.xyz, got %+v", opts)
				}
			},
		},
		{
			name:           "MqttMode",
			args:           []string{"--mqtt", "--http-port", "9090"},
			expectedCalled: "RunService",
			verifyOpts: func(t *testing.T, opts AppOptions) {
				if !opts.MqttMode {
					t.Error("expected MqttMode true")
				}
				if opts.HttpPort != 9090 {
					t.Errorf("expected HttpPort 9090, got %d", opts.HttpPort)
				}
			},
		},
		{
			name:           "HttpOnly",
			args:           []string{"--http"},
			expectedCalled: "RunService",
			verifyOpts: func(t *testing.T, opts AppOptions) {
				if opts.MqttMode || !opts.HttpMode {
					t.Errorf("expected only HttpMode, got %+v", opts)
				}
				if opts.HttpPort != 8080 {
					t.Errorf("expected default HttpPort 8080, got %d", opts.HttpPort)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := newMockApp()
			var out bytes.Buffer
			err := run(tt.args, &out, app)
			if err != nil {
				t.Fatalf("run failed: %v", err)
			}

			if !app.called[tt.expectedCalled] {
				t.Errorf("expected %s to be called", tt.expectedCalled)
			}
			if len(app.called) != 1 {
				t.Errorf("expected exactly one mode, got %v", app.called)
			}

			if tt.verifyOpts != nil {
				tt.verifyOpts(t, app.opts)
			}
		})
	}
}

func TestRun_PropagatesErrors(t *testing.T) {
	app := newMockApp()
	app.err = errors.New("no inputs")
	var out bytes.Buffer
	err := run([]string{"--build"}, &out, app)
	if !errors.Is(err, app.err) {
		t.Errorf("expected the build error, got %v", err)
	}
}

func TestRun_Help(t *testing.T) {
	app := newMockApp()
	var out bytes.Buffer
	err := run([]string{"--help"}, &out, app)
	if !errors.Is(err, flag.ErrHelp) {
		t.Errorf("expected flag.ErrHelp from --help, got %v", err)
	}
	if !strings.Contains(out.String(), "Usage of eegmontage") {
		t.Errorf("expected usage info in output, got: %s", out.String())
	}
}

func TestRun_UnknownFlag(t *testing.T) {
	var out bytes.Buffer
	if err := run([]string{"--calibrate"}, &out, newMockApp()); err == nil {
		t.Error("expected an error for an unknown flag")
	}
}

func TestRun_Default(t *testing.T) {
	app := newMockApp()
	var out bytes.Buffer
	err := run([]string{}, &out, app)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	expectedPrefix := "eegmontage version: " + Version
	if !strings.Contains(out.String(), expectedPrefix) {
		t.Errorf("expected output to contain version, got: %s", out.String())
	}
	if !strings.Contains(out.String(), "Usage:") {
		t.Errorf("expected output to contain usage, got: %s", out.String())
	}
	if len(app.called) != 0 {
		t.Errorf("expected no mode to run, got %v", app.called)
	}
}

func TestMain_Execute(t *testing.T) {
	// Smoke test to ensure version is set
	if Version == "" {
		t.Error("expected Version to be set")
	}
}
