package web

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/mbocsi/goxfs/services"
)

// WebClient serves the controller's JSON API over the service layer
type WebClient struct {
	services *services.ServiceContainer
	server   *http.Server
	log      *slog.Logger
}

func NewWebClient(serviceContainer *services.ServiceContainer, logger *slog.Logger) *WebClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebClient{
		services: serviceContainer,
		log:      logger.With("component", "web"),
	}
}

// Start serves the API on addr until Shutdown is called
func (w *WebClient) Start(addr string) error {
	w.server = &http.Server{
		Addr:              addr,
		Handler:           w.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	w.log.Info("Starting web API", "addr", addr)
	if err := w.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (w *WebClient) Shutdown(ctx context.Context) error {
	if w.server == nil {
		return nil
	}
	w.log.Info("Shutting down web API")
	return w.server.Shutdown(ctx)
}

// Routes returns the HTTP routes of the API
func (w *WebClient) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(w.logRequests)

	r.Route("/api", func(r chi.Router) {
		r.Get("/services", w.HandleServices)
		r.Route("/services/{id}", func(r chi.Router) {
			r.Get("/", w.HandleServiceDetail)
			r.Delete("/", w.HandleServiceRemove)
			r.Post("/refresh", w.HandleServiceRefresh)
			r.Post("/commands/{name}", w.HandleExecute)
			r.Post("/cancel", w.HandleCancel)
		})
		r.Post("/discovery", w.HandleDiscovery)
	})
	return r
}

func (w *WebClient) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(wr http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(wr, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		w.log.Debug("HTTP request", "method", r.Method, "path", r.URL.Path, "status", ww.Status(),
			"size", ww.BytesWritten(), "elapsed", time.Since(start), "requestId", middleware.GetReqID(r.Context()))
	})
}
