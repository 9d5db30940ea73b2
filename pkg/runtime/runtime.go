// Package runtime assembles the denoise-bridge server from its config.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	appconfig "github.com/saker-ai/denoise-bridge/internal/config"
	apphttp "github.com/saker-ai/denoise-bridge/internal/http"
	applogger "github.com/saker-ai/denoise-bridge/internal/logger"
	"github.com/saker-ai/denoise-bridge/internal/ws"
	"github.com/saker-ai/denoise-bridge/pkg/denoise"
	"github.com/saker-ai/denoise-bridge/pkg/denoise/spectral"
)

// Server owns the effect, the stream handler and the HTTP listener.
type Server struct {
	cfg    appconfig.Config
	log    *applogger.Logger
	logger *zap.Logger
	effect *denoise.Effect
	stream *ws.Handler
	server *http.Server

	mu          sync.Mutex
	listener    net.Listener
	tls         bool
	suppression appconfig.SuppressionConfig
}

// New loads configPath (or the default search path when empty) and builds
// the server without binding a socket.
func New(configPath string) (*Server, error) {
	cfg, err := appconfig.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return NewWithConfig(cfg)
}

// NewWithConfig builds the server from an already loaded config.
func NewWithConfig(cfg appconfig.Config) (*Server, error) {
	log, err := applogger.New(cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	log.Info("logger configured",
		zap.String("level", cfg.Log.Level),
		zap.Bool("stdout", cfg.Log.Stdout),
		zap.Bool("file_enabled", cfg.Log.File.Enabled),
		zap.String("file_path", cfg.Log.File.Path),
	)
	log.Info("config loaded",
		zap.String("config_file", cfg.ConfigFile),
		zap.String("root_dir", cfg.RootDir),
		zap.String("http_addr", cfg.HTTPAddr),
	)

	params, err := cfg.Suppression.Params()
	if err != nil {
		return nil, err
	}
	effect := denoise.NewEffect(spectral.Factory, params, cfg.Effect.Options(log.Component("effect")))
	stream := ws.NewHandler(log.Component("stream"), effect, ws.Config{
		Inline:      cfg.Effect.Inline,
		PresetsDir:  cfg.PresetsDir,
		ReportsDir:  cfg.ReportsDir,
		IdleTimeout: cfg.Server.StreamIdleTimeout,
	})
	router := apphttp.NewRouter(cfg, effect, stream, log.Component("http"))

	return &Server{
		cfg:         cfg,
		log:         log,
		logger:      log.Logger,
		effect:      effect,
		stream:      stream,
		suppression: cfg.Suppression,
		server: &http.Server{
			Addr:              cfg.HTTPAddr,
			Handler:           router,
			ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		},
	}, nil
}

// Logger returns the root logger.
func (s *Server) Logger() *zap.Logger { return s.logger }

// Effect returns the shared effect descriptor.
func (s *Server) Effect() *denoise.Effect { return s.effect }

// Config returns the config the server was built from.
func (s *Server) Config() appconfig.Config { return s.cfg }

// WatchConfig hot-reloads the config file: suppression changes go to the
// effect store and the log level is adjusted. Other sections need a restart.
func (s *Server) WatchConfig() error {
	if err := appconfig.Watch(s.cfg.ConfigFile, s.reload); err != nil {
		return err
	}
	s.logger.Info("watching config file", zap.String("path", s.cfg.ConfigFile))
	return nil
}

func (s *Server) reload(cfg appconfig.Config, err error) {
	if err != nil {
		s.logger.Warn("config reload failed; keeping previous values", zap.Error(err))
		return
	}
	s.log.SetLevel(cfg.Log.Level)

	s.mu.Lock()
	changed := cfg.Suppression != s.suppression
	s.suppression = cfg.Suppression
	s.mu.Unlock()
	if !changed {
		s.logger.Debug("config reloaded; suppression unchanged")
		return
	}
	params, err := cfg.Suppression.Params()
	if err != nil {
		s.logger.Warn("config reload has invalid suppression", zap.Error(err))
		return
	}
	_, revision := s.effect.SetParams(params)
	s.logger.Info("suppression reloaded from config", zap.Uint64("revision", revision))
}

// Listen binds the configured address.
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return err
	}
	tlsOn, err := configureTLS(s.server, s.cfg.Server, s.logger)
	if err != nil {
		_ = ln.Close()
		return err
	}
	s.mu.Lock()
	s.listener = ln
	s.tls = tlsOn
	s.mu.Unlock()
	return nil
}

// Serve blocks until the server is shut down.
func (s *Server) Serve() error {
	s.mu.Lock()
	ln, tlsOn := s.listener, s.tls
	s.mu.Unlock()
	if ln == nil {
		return errors.New("runtime: Serve called before Listen")
	}

	var err error
	if tlsOn {
		certFile, keyFile := s.cfg.Server.TLSCertPath, s.cfg.Server.TLSKeyPath
		if s.server.TLSConfig != nil {
			certFile, keyFile = "", ""
		}
		s.logger.Info("starting https server", zap.String("addr", ln.Addr().String()))
		err = s.server.ServeTLS(ln, certFile, keyFile)
	} else {
		s.logger.Info("starting http server", zap.String("addr", ln.Addr().String()))
		err = s.server.Serve(ln)
	}
	return ignoreServerClosed(err)
}

// Run listens and serves.
func (s *Server) Run() error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve()
}

// Addr returns the bound address, or the configured one before Listen.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.server.Addr
}

// Shutdown closes stream sessions, then the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.stream.CloseAll()
	err := ignoreServerClosed(s.server.Shutdown(ctx))
	_ = s.logger.Sync()
	return err
}

func ignoreServerClosed(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// configureTLS reports whether the server should serve TLS. Missing cert or
// key files fall back to an in-memory self-signed certificate.
func configureTLS(server *http.Server, cfg appconfig.ServerConfig, logger *zap.Logger) (bool, error) {
	if cfg.TLSDisable {
		return false, nil
	}

	certPath := filepath.Clean(cfg.TLSCertPath)
	keyPath := filepath.Clean(cfg.TLSKeyPath)
	if fileExists(certPath) && fileExists(keyPath) {
		return true, nil
	}

	logger.Warn("tls cert or key missing; using in-memory cert",
		zap.String("cert", certPath),
		zap.String("key", keyPath),
	)
	cert, fingerprint, err := selfSignedCert(cfg.Host)
	if err != nil {
		return false, fmt.Errorf("failed to generate tls cert: %w", err)
	}
	logger.Info("self-signed tls cert generated", zap.String("sha256", fingerprint))
	server.TLSConfig = tlsConfig(cert)
	return true, nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
