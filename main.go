package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"time"

	"gata-mixer/src/server"
	"gata-mixer/src/server/bridge"
	"gata-mixer/src/server/config"
	"gata-mixer/src/server/discovery"
	"gata-mixer/src/server/link"
	"gata-mixer/src/server/logging"
	"gata-mixer/src/server/notify"
	"gata-mixer/src/server/osmixer"
	"gata-mixer/src/server/protocol"
	"gata-mixer/src/server/routing"
	"gata-mixer/src/server/surface"
	"gata-mixer/src/server/vmixer"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const version = "1.0.0"

const requestTimeout = 5 * time.Second

type App struct {
	configPath string
	store      *config.Store
	bridge     *bridge.Bridge
	engine     *vmixer.Client
	router     *routing.Router
	notifier   *notify.Server
	panel      *surface.Panel
	started    time.Time
	logger     zerolog.Logger
}

func NewApp(cfg *config.Config, configPath string) *App {
	store := config.NewStore(cfg)
	osMixer := osmixer.New()
	engine := vmixer.NewClient(
		vmixer.NewOSCEngine(cfg.Engine.Address, time.Duration(cfg.Engine.TimeoutMS)*time.Millisecond),
		link.RealClock,
	)
	router := routing.NewRouter(store, engine, osMixer)
	notifier := notify.NewServer(cfg.Notify.Port, version, cfg.Notify.ServeExternally)

	app := &App{
		configPath: configPath,
		store:      store,
		engine:     engine,
		router:     router,
		notifier:   notifier,
		started:    time.Now(),
		logger:     logging.ComponentLogger("app"),
	}
	app.bridge = bridge.New(bridge.Options{
		Opener:   link.SerialOpener,
		Clock:    link.RealClock,
		Baud:     cfg.Serial.Baud,
		Router:   router,
		Engine:   engine,
		Sessions: osMixer,
		Ports:    discovery.ListPorts,
		Notifier: notifier,
	})
	if cfg.Modbus.Enabled {
		app.panel = surface.NewPanel(cfg.Modbus, app.routePanelFrame)
	}
	return app
}

// Start brings up the notification stream and whatever the configuration
// asks to start automatically.
func (app *App) Start() {
	cfg := app.store.Load()

	if err := app.notifier.Start(); err != nil {
		app.logger.Warn().Err(err).Msg("failed to start notification server")
	}
	if !osmixer.CheckPactlAvailable() {
		app.logger.Warn().Msg("pactl not found, OS session control will fail")
	}
	if cfg.Engine.AutoStart {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		app.bridge.StartVirtualMixerConnection(ctx, true)
		cancel()
	}
	if cfg.Serial.AutoStart && cfg.Serial.Port != "" {
		app.bridge.Connect(cfg.Serial.Port, true)
	}
	if app.panel != nil {
		if err := app.panel.Start(); err != nil {
			app.logger.Error().Err(err).Str("port", cfg.Modbus.Port).Msg("failed to start modbus panel")
		}
	}
}

func (app *App) Stop() {
	app.bridge.Close()
	if app.panel != nil {
		app.panel.Stop()
	}
	app.engine.Stop()
	app.notifier.Stop()
}

// routePanelFrame routes a Modbus panel frame. The panel has no display, so
// the rendered tokens are dropped.
func (app *App) routePanelFrame(f protocol.Frame) {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	app.router.Route(ctx, f)
}

func (app *App) Routes() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/", app.rootHandler).Methods("GET")
	r.HandleFunc("/api/ports", app.listPortsHandler).Methods("GET")
	r.HandleFunc("/api/ports/test", app.testPortHandler).Methods("POST")
	r.HandleFunc("/api/serial/connect", app.connectHandler).Methods("POST")
	r.HandleFunc("/api/serial/close", app.closeHandler).Methods("POST")
	r.HandleFunc("/api/engine/start", app.engineStartHandler).Methods("POST")
	r.HandleFunc("/api/engine/param", app.getParamHandler).Methods("GET")
	r.HandleFunc("/api/engine/param", app.setParamHandler).Methods("POST")
	r.HandleFunc("/api/sessions", app.sessionsHandler).Methods("GET")
	r.HandleFunc("/api/status", app.statusHandler).Methods("GET")
	r.HandleFunc("/api/config/reload", app.reloadHandler).Methods("POST")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (app *App) rootHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"service": "gata-mixer", "version": version})
}

func (app *App) listPortsHandler(w http.ResponseWriter, r *http.Request) {
	ports, err := app.bridge.ListAvailablePorts()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if ports == nil {
		ports = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"ports": ports})
}

type portRequest struct {
	Port      string `json:"port"`
	Reconnect bool   `json:"reconnect"`
}

func decodePortRequest(r *http.Request) (portRequest, error) {
	var req portRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return req, errors.New("invalid body")
	}
	if req.Port == "" {
		return req, errors.New("port is required")
	}
	return req, nil
}

func (app *App) testPortHandler(w http.ResponseWriter, r *http.Request) {
	req, err := decodePortRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": app.bridge.TestPort(req.Port)})
}

func (app *App) connectHandler(w http.ResponseWriter, r *http.Request) {
	req, err := decodePortRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": app.bridge.Connect(req.Port, req.Reconnect)})
}

func (app *App) closeHandler(w http.ResponseWriter, r *http.Request) {
	app.bridge.Close()
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (app *App) engineStartHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reconnect bool `json:"reconnect"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid body")
			return
		}
	}
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()
	writeJSON(w, http.StatusOK, map[string]bool{"ok": app.bridge.StartVirtualMixerConnection(ctx, req.Reconnect)})
}

func (app *App) getParamHandler(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	if name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	value, ok := app.bridge.GetVirtualMixerParam(ctx, name)
	if !ok {
		writeError(w, http.StatusBadGateway, "engine did not answer")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"name": name, "value": value})
}

func (app *App) setParamHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name  string   `json:"name"`
		Value *float64 `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" || req.Value == nil {
		writeError(w, http.StatusBadRequest, "name and value are required")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	app.bridge.SetVirtualMixerParam(ctx, req.Name, *req.Value)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (app *App) sessionsHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	sessions, err := app.bridge.ListOSAudioSessions(ctx)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	if sessions == nil {
		sessions = []osmixer.Session{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

func (app *App) statusHandler(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{
		"version":         version,
		"host":            server.GetHostInfo(app.started),
		"serial":          app.bridge.Status(),
		"engineRetry":     app.engine.PendingRetry(),
		"notifyConnected": app.notifier.IsConnected(),
		"strips":          len(app.store.Load().Strips),
	}
	if app.panel != nil {
		status["panel"] = app.panel.Last()
	}
	writeJSON(w, http.StatusOK, status)
}

// reloadHandler swaps in the configuration file's strips and ranges. Link
// settings take effect on the next restart.
func (app *App) reloadHandler(w http.ResponseWriter, r *http.Request) {
	if err := app.store.Reload(app.configPath); err != nil {
		app.logger.Warn().Err(err).Str("path", app.configPath).Msg("config reload rejected")
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	app.logger.Info().Str("path", app.configPath).Msg("config reloaded")
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "strips": len(app.store.Load().Strips)})
}

func main() {
	os.Args[0] = "gata-mixer"
	logger := logging.GetDefaultLogger()

	path := config.GetConfigPath()
	cfg, err := config.Load(path)
	if err != nil {
		logger.Fatal().Err(err).Str("path", path).Msg("failed to load config")
	}

	app := NewApp(cfg, path)
	app.Start()
	defer app.Stop()

	logger.Info().Str("addr", cfg.HTTPAddr).Str("config", path).Msg("gata-mixer starting")
	if err := http.ListenAndServe(cfg.HTTPAddr, app.Routes()); err != nil {
		logger.Fatal().Err(err).Msg("http server stopped")
	}
}
