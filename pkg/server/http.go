package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"

	"rewardmint/pkg/config"

	"github.com/fsnotify/fsnotify"
	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var ProvideHTTPServer = fx.Module("http.server",
	fx.Provide(NewHTTPServer),
	fx.Invoke(Run),
)

// certStore holds the serving certificate and swaps it when the files on
// disk change.
type certStore struct {
	certPath string
	keyPath  string
	cert     atomic.Pointer[tls.Certificate]
}

func (c *certStore) load() error {
	cert, err := tls.LoadX509KeyPair(c.certPath, c.keyPath)
	if err != nil {
		return err
	}
	c.cert.Store(&cert)
	return nil
}

func (c *certStore) getCertificate(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	if cert := c.cert.Load(); cert != nil {
		return cert, nil
	}
	return nil, errors.New("no TLS certificate loaded")
}

// watch reloads the pair on write, create or rename until ctx is done. A
// failed reload keeps serving the previous certificate.
func (c *certStore) watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	for _, p := range []string{c.certPath, c.keyPath} {
		if err := w.Add(p); err != nil {
			w.Close()
			return fmt.Errorf("watch %s: %w", p, err)
		}
	}

	go func() {
		defer w.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
					continue
				}
				if err := c.load(); err != nil {
					zap.L().Warn("[HTTP] TLS reload failed, keeping previous certificate", zap.String("file", ev.Name), zap.Error(err))
					continue
				}
				zap.L().Info("[HTTP] TLS certificate reloaded", zap.String("file", ev.Name))
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				zap.L().Warn("[HTTP] TLS watcher error", zap.Error(err))
			}
		}
	}()
	return nil
}

type Server struct {
	server *http.Server
	certs  *certStore
}

type Params struct {
	fx.In
	Config         *config.Config
	Handler        *runtime.ServeMux
	TracerProvider trace.TracerProvider
}

func NewHTTPServer(p Params) (*Server, error) {
	cfg := p.Config
	srv := &Server{
		server: &http.Server{
			Addr: fmt.Sprintf(":%s", cfg.Server.Addr),
			Handler: otelhttp.NewHandler(p.Handler, cfg.AppName,
				otelhttp.WithTracerProvider(p.TracerProvider),
				otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
					return r.Method + " " + r.URL.Path
				}),
			),
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
			IdleTimeout:  cfg.Server.IdleTimeout,
		},
	}

	if cfg.TLS.Enable {
		srv.certs = &certStore{certPath: cfg.TLS.CertPath, keyPath: cfg.TLS.KeyPath}
		if err := srv.certs.load(); err != nil {
			return nil, fmt.Errorf("load TLS certificate: %w", err)
		}
		srv.server.TLSConfig = &tls.Config{
			MinVersion:     tls.VersionTLS12,
			GetCertificate: srv.certs.getCertificate,
		}
	}
	return srv, nil
}

func serve(listen func() error) {
	if err := listen(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		zap.L().Error("[HTTP] server exited", zap.Error(err))
	}
}

func Run(lc fx.Lifecycle, srv *Server) {
	watchCtx, stopWatch := context.WithCancel(context.Background())

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if srv.certs == nil {
				zap.L().Info("[HTTP] listening", zap.String("addr", srv.server.Addr))
				go serve(srv.server.ListenAndServe)
				return nil
			}

			if err := srv.certs.watch(watchCtx); err != nil {
				return err
			}
			zap.L().Info("[HTTP] listening with TLS", zap.String("addr", srv.server.Addr))
			go serve(func() error { return srv.server.ListenAndServeTLS("", "") })
			return nil
		},
		OnStop: func(ctx context.Context) error {
			stopWatch()
			zap.L().Info("[HTTP] shutting down")
			return srv.server.Shutdown(ctx)
		},
	})
}
