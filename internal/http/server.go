package httpapi

import (
	"log/slog"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/hilbu/internal/app"
	"github.com/example/hilbu/internal/auth"
)

type Server struct {
	app      *app.App
	logger   *slog.Logger
	validate *validator.Validate
	upgrader websocket.Upgrader
	mux      *mux.Router
}

func NewServer(a *app.App, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	s := &Server{
		app:      a,
		logger:   logger.With("component", "http"),
		validate: v,
		upgrader: websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024},
		mux:      mux.NewRouter(),
	}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
	s.mux.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	api := s.mux.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/auth/otp", s.handleSendOTP).Methods(http.MethodPost)
	api.HandleFunc("/auth/otp/resend", s.handleResendOTP).Methods(http.MethodPost)
	api.HandleFunc("/auth/otp/verify", s.handleVerifyOTP).Methods(http.MethodPost)
	api.HandleFunc("/auth/guest", s.handleGuest).Methods(http.MethodPost)
	api.HandleFunc("/auth/register", s.authed(s.handleRegister)).Methods(http.MethodPost)
	api.HandleFunc("/auth/logout", s.authed(s.handleLogout)).Methods(http.MethodPost)
	api.HandleFunc("/me", s.authed(s.handleMe)).Methods(http.MethodGet)

	customer := func(h http.HandlerFunc) http.HandlerFunc { return s.authed(s.requireRole(auth.RoleCustomer, h)) }
	api.HandleFunc("/requests", customer(s.handleSubmit)).Methods(http.MethodPost)
	api.HandleFunc("/requests/current", customer(s.handleCurrent)).Methods(http.MethodGet)
	api.HandleFunc("/requests/history", customer(s.handleHistory)).Methods(http.MethodGet)
	api.HandleFunc("/requests/{id}/cancel", customer(s.handleCancel)).Methods(http.MethodPost)
	api.HandleFunc("/requests/{id}/tracking", customer(s.handleTracking)).Methods(http.MethodGet)
	api.HandleFunc("/trips/{id}", customer(s.handleTripDetails)).Methods(http.MethodGet)

	api.HandleFunc("/payment-methods", customer(s.handleListMethods)).Methods(http.MethodGet)
	api.HandleFunc("/payment-methods", customer(s.handleAddMethod)).Methods(http.MethodPost)
	api.HandleFunc("/payment-methods/{id}/default", customer(s.handleSetDefaultMethod)).Methods(http.MethodPost)
	api.HandleFunc("/payment-methods/{id}", customer(s.handleRemoveMethod)).Methods(http.MethodDelete)

	api.HandleFunc("/support/messages", s.authed(s.handleSupportMessages)).Methods(http.MethodGet)
	api.HandleFunc("/support/messages", s.authed(s.handleSupportSend)).Methods(http.MethodPost)

	driver := func(h http.HandlerFunc) http.HandlerFunc { return s.authed(s.requireRole(auth.RoleDriver, h)) }
	api.HandleFunc("/driver/requests", driver(s.handleDriverQueue)).Methods(http.MethodGet)
	api.HandleFunc("/driver/requests/{id}/accept", driver(s.handleDriverAccept)).Methods(http.MethodPost)
	api.HandleFunc("/driver/requests/{id}/reject", driver(s.handleDriverReject)).Methods(http.MethodPost)
	api.HandleFunc("/driver/job/complete", driver(s.handleDriverComplete)).Methods(http.MethodPost)
	api.HandleFunc("/driver/online", driver(s.handleDriverOnline)).Methods(http.MethodPost)
	api.HandleFunc("/driver/offline", driver(s.handleDriverOffline)).Methods(http.MethodPost)

	s.mux.HandleFunc("/ws/tracking/{id}", customer(s.handleTrackingWS))
	s.mux.HandleFunc("/ws/driver", driver(s.handleDriverWS))
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }
