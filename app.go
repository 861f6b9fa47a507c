package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/kwv/eegmontage/montage"
)

// App encapsulates the application state and dependencies
type App struct {
	Config     *montage.Config
	Store      *montage.ResultStore
	MQTTClient *montage.MQTTClient
	Publisher  *montage.Publisher

	// CLI options
	ConfigFile string
	Inputs     []string
	OutputDir  string
	From       string
	To         string
	Mode       string
	HttpPort   int
	MqttMode   bool
	HttpMode   bool

	out     io.Writer
	buildMu sync.Mutex
}

// NewApp creates a new App instance
func NewApp() *App {
	return &App{
		Store: montage.NewResultStore(),
		out:   os.Stdout,
	}
}

// ApplyOptions applies CLI options to the App instance
func (a *App) ApplyOptions(opts AppOptions) {
	a.ConfigFile = opts.ConfigFile
	a.Inputs = opts.Inputs
	a.OutputDir = opts.OutputDir
	a.From = opts.From
	a.To = opts.To
	a.Mode = opts.Mode
	a.HttpPort = opts.HttpPort
	a.MqttMode = opts.MqttMode
	a.HttpMode = opts.HttpMode
}

// loadConfig reads the config file. A missing default config.yaml falls
// back to the built-in defaults; an explicit file that cannot be loaded is
// an error.
func (a *App) loadConfig() (*montage.Config, error) {
	if a.Config != nil {
		return a.Config, nil
	}
	if a.ConfigFile == "" {
		a.Config = montage.DefaultConfig()
		return a.Config, nil
	}
	if _, err := os.Stat(a.ConfigFile); errors.Is(err, os.ErrNotExist) && a.ConfigFile == "config.yaml" {
		log.Printf("No %s found, using defaults", a.ConfigFile)
		a.Config = montage.DefaultConfig()
		return a.Config, nil
	}
	cfg, err := montage.LoadConfig(a.ConfigFile)
	if err != nil {
		return nil, err
	}
	log.Printf("Loaded config from %s", a.ConfigFile)
	a.Config = cfg
	return cfg, nil
}

// output returns the output settings with the -output-dir override applied
func (a *App) output(cfg *montage.Config) montage.OutputConfig {
	out := cfg.Output
	if a.OutputDir != "" {
		out.Dir = a.OutputDir
	}
	return out
}

// RunBuild builds a template from the configured inputs and writes every
// enabled output
func (a *App) RunBuild() error {
	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}
	inputs := a.Inputs
	if len(inputs) == 0 {
		inputs = cfg.Inputs
	}
	if len(inputs) == 0 {
		return fmt.Errorf("no inputs: use -inputs or set inputs in %s", a.ConfigFile)
	}

	res, err := a.build(context.Background(), cfg, inputs)
	if err != nil {
		return err
	}

	fmt.Fprintf(a.out, "Template: %d electrodes from %d subjects\n", res.Template.Len(), len(res.Subjects))
	fmt.Fprintf(a.out, "Global average distance: %.4f\n", res.Diagnostics.GlobalAverage)
	for _, w := range res.Warnings {
		fmt.Fprintf(a.out, "Warning: %s (%v) average %.4f, CV %.2f\n", w.Name, w.Reasons, w.Average, w.CV)
	}
	fmt.Fprintf(a.out, "Outputs written to %s\n", a.output(cfg).Dir)
	return nil
}

// build runs one template build, writes its outputs and records it in the
// store. Builds never overlap.
func (a *App) build(ctx context.Context, cfg *montage.Config, inputs []string) (*montage.TemplateResult, error) {
	a.buildMu.Lock()
	defer a.buildMu.Unlock()

	a.Store.Begin(inputs)
	res, err := montage.BuildTemplateFromFiles(ctx, inputs, cfg.Template)
	if err != nil {
		a.Store.Fail(err)
		return nil, fmt.Errorf("building template: %w", err)
	}
	if err := montage.WriteOutputs(res, a.output(cfg)); err != nil {
		log.Printf("Warning: some outputs could not be written: %v", err)
	}
	a.Store.Update(res)
	return res, nil
}

// RunRegister registers -from onto -to and writes the registered set
func (a *App) RunRegister() error {
	if a.From == "" || a.To == "" {
		return fmt.Errorf("-register needs -from and -to")
	}
	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}
	rc := cfg.Registration
	if a.Mode != "" {
		rc.Mode = montage.RegistrationMode(a.Mode)
	}

	ctx := context.Background()
	from, err := montage.LoadPointSet(ctx, a.From)
	if err != nil {
		return err
	}
	to, err := montage.LoadPointSet(ctx, a.To)
	if err != nil {
		return err
	}

	res, moved, err := montage.Register(ctx, from, to, rc)
	if err != nil {
		return err
	}

	path := a.resultPath(cfg, a.From, "registered")
	if err := montage.WritePointSetFile(path, moved); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Registration (%s): average %.4f, max %.4f, %d/%d points kept\n",
		rc.Mode, res.Quality.Average, res.Quality.Max, res.Quality.Kept, res.Quality.Total)
	printMatrix(a.out, res.Matrix)
	fmt.Fprintf(a.out, "Written %s\n", path)
	return nil
}

// RunFitSurface fits the deformable head model to -from and writes the
// points projected on the model and their spherized coordinates
func (a *App) RunFitSurface() error {
	if a.From == "" {
		return fmt.Errorf("-fit-surface needs -from")
	}
	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}
	sc := cfg.Surface
	if a.Mode != "" {
		sc.Mode = montage.SurfaceFitMode(a.Mode)
	}

	ctx := context.Background()
	ps, err := montage.LoadPointSet(ctx, a.From)
	if err != nil {
		return err
	}
	res, err := montage.FitSurface(ctx, ps, sc)
	if err != nil {
		return err
	}

	projected := a.resultPath(cfg, a.From, "surface")
	spherized := a.resultPath(cfg, a.From, "spherized")
	if err := montage.WritePointSetFile(projected, res.Model.TransformSet(ps)); err != nil {
		return err
	}
	if err := montage.WritePointSetFile(spherized, res.Model.SpherizeSet(ps)); err != nil {
		return err
	}

	figure := strings.TrimSuffix(projected, ".xyz") + ".svg"
	if err := montage.WriteSurfaceFigure(figure, ps, res); err != nil {
		log.Printf("Warning: could not write %s: %v", figure, err)
	}

	c := res.Model.Center()
	fmt.Fprintf(a.out, "Surface fit (%s): average %.4f, max %.4f, cost %.6g\n",
		sc.Mode, res.Quality.Average, res.Quality.Max, res.Cost)
	fmt.Fprintf(a.out, "Center (%.3f, %.3f, %.3f), evaluations %d\n", c.X, c.Y, c.Z, res.Evaluations)
	fmt.Fprintf(a.out, "Written %s and %s\n", projected, spherized)
	return nil
}

// RunOrient brings -from into the canonical frame. Without -mode the full
// solver sequence is used; with -mode a single objective is fitted.
func (a *App) RunOrient() error {
	if a.From == "" {
		return fmt.Errorf("-orient needs -from")
	}
	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}

	ctx := context.Background()
	ps, err := montage.LoadPointSet(ctx, a.From)
	if err != nil {
		return err
	}

	var m montage.Matrix4
	if a.Mode == "" {
		o := montage.NewSolverOrientation()
		o.Transverse.Search = cfg.Orientation.Search
		o.Sagittal.Search = cfg.Orientation.Search
		if m, err = o.Orientation(ctx, ps); err != nil {
			return err
		}
	} else {
		oc := cfg.Orientation
		oc.Objective = montage.OrientationObjective(a.Mode)
		res, err := montage.FitOrientation(ctx, ps, oc)
		if err != nil {
			return err
		}
		m = res.Matrix
	}

	path := a.resultPath(cfg, a.From, "oriented")
	if err := montage.WritePointSetFile(path, m.ApplySet(ps)); err != nil {
		return err
	}
	printMatrix(a.out, m)
	fmt.Fprintf(a.out, "Written %s\n", path)
	return nil
}

// RunApply maps -from into the template frame of the last build using the
// transform stored for the subject of the same name
func (a *App) RunApply() error {
	if a.From == "" {
		return fmt.Errorf("-apply needs -from")
	}
	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}
	out := a.output(cfg)
	path := out.Path(out.Transforms)
	if path == "" {
		return fmt.Errorf("-apply needs output.transforms in %s", a.ConfigFile)
	}
	cache, err := montage.LoadTransforms(path)
	if err != nil {
		return err
	}
	if cache == nil {
		return fmt.Errorf("no transforms at %s: run -build first", path)
	}

	name := montage.SubjectNameFromPath(a.From)
	m, ok := cache.Lookup(name)
	if !ok {
		return fmt.Errorf("subject %q not in %s (known: %v)", name, path, cache.Subjects)
	}
	ps, err := montage.LoadPointSet(context.Background(), a.From)
	if err != nil {
		return err
	}

	result := a.resultPath(cfg, a.From, "applied")
	if err := montage.WritePointSetFile(result, m.ApplySet(ps)); err != nil {
		return err
	}
	printMatrix(a.out, m)
	fmt.Fprintf(a.out, "Written %s\n", result)
	return nil
}

// resultPath names a single-file result after its input
func (a *App) resultPath(cfg *montage.Config, input, suffix string) string {
	name := fmt.Sprintf("%s-%s.xyz", montage.SubjectNameFromPath(input), suffix)
	out := a.output(cfg)
	if out.Dir == "" {
		return name
	}
	return filepath.Join(out.Dir, name)
}

func printMatrix(w io.Writer, m montage.Matrix4) {
	for _, row := range m {
		fmt.Fprintf(w, "  % 10.5f % 10.5f % 10.5f % 10.4f\n", row[0], row[1], row[2], row[3])
	}
}

// handleBuildRequest runs a build requested over MQTT and publishes it
func (a *App) handleBuildRequest(ctx context.Context, req montage.BuildRequest) {
	log.Printf("[MQTT] Build requested for %d inputs", len(req.Inputs))
	res, err := a.build(ctx, a.Config, req.Inputs)
	if err != nil {
		log.Printf("[MQTT] Build failed: %v", err)
		return
	}
	if a.Publisher != nil {
		if err := a.Publisher.PublishResult(res); err != nil {
			log.Printf("[MQTT] Error publishing result: %v", err)
		}
	}
}

// RunService starts MQTT and/or HTTP and blocks until interrupted
func (a *App) RunService() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return a.serve(ctx)
}

// serve runs the service until ctx is done
func (a *App) serve(ctx context.Context) error {
	fmt.Fprintln(a.out, "Starting eegmontage service...")

	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}
	out := a.output(cfg)
	if p := out.Path(out.Cache); p != "" {
		a.Store = montage.NewResultStoreWithCache(p)
		if a.Store.HasResult() {
			log.Printf("Loaded cached template from %s", p)
		}
	}

	// serve the configured inputs right away when there are any
	if len(cfg.Inputs) > 0 {
		go func() {
			if _, err := a.build(ctx, cfg, cfg.Inputs); err != nil {
				log.Printf("Initial build failed: %v", err)
			}
		}()
	}

	if a.MqttMode {
		client, err := montage.InitMQTT(cfg, func(req montage.BuildRequest) {
			a.handleBuildRequest(ctx, req)
		})
		if err != nil {
			return fmt.Errorf("initializing MQTT: %w", err)
		}
		if client == nil {
			return fmt.Errorf("MQTT broker not configured (set mqtt.broker or MQTT_BROKER)")
		}
		a.MQTTClient = client
		a.Publisher = montage.NewPublisherWithPrefix(client.GetClient(), client.Prefix())
		fmt.Printf("MQTT: listening on %s, publishing to %s/template\n", client.BuildTopic(), client.Prefix())
	}

	var srv *http.Server
	if a.HttpMode {
		srv = &http.Server{
			Addr:              fmt.Sprintf("0.0.0.0:%d", a.HttpPort),
			Handler:           newHTTPServer(a.Store),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			log.Printf("[HTTP] Starting server on %s", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Printf("[HTTP] Server error: %v", err)
			}
		}()
		fmt.Fprintf(a.out, "\nHTTP endpoints (port %d):\n", a.HttpPort)
		fmt.Fprintln(a.out, "  GET /health           - Health check and build status")
		fmt.Fprintln(a.out, "  GET /template.xyz     - Template coordinates")
		fmt.Fprintln(a.out, "  GET /report.json      - Diagnostics and transforms")
		fmt.Fprintln(a.out, "  GET /distances.tsv    - Subject x electrode distances")
		fmt.Fprintln(a.out, "  GET /montage.svg      - Montage top view (SVG)")
		fmt.Fprintln(a.out, "  GET /montage.png      - Montage top view (PNG)")
		fmt.Fprintln(a.out, "  GET /heatmap.png      - Distance heatmap")
		fmt.Fprintln(a.out, "  GET /montage.geojson  - Montage top view (GeoJSON)")
	}

	fmt.Fprintln(a.out, "\nPress Ctrl+C to stop")
	<-ctx.Done()

	fmt.Fprintln(a.out, "\nShutting down service...")
	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}
	if a.MQTTClient != nil {
		a.MQTTClient.Disconnect()
	}
	fmt.Fprintln(a.out, "Service stopped")
	return nil
}
