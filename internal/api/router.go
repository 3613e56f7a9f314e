package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/agrovision/advisory-chat/internal/config"
	"github.com/agrovision/advisory-chat/internal/handlers"
	"github.com/agrovision/advisory-chat/internal/middleware"
	"github.com/agrovision/advisory-chat/internal/observability"
)

func NewRouter(
	cfg *config.Config,
	msgH *handlers.MessageHandler,
	convH *handlers.ConversationHandler,
	streamH http.Handler,
	store observability.Pinger,
) http.Handler {

	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(observability.MetricsMiddleware(cfg.ServiceName))
	r.Use(middleware.Recovery())
	r.Use(middleware.CORS(cfg.CORSAllowedOrigins))

	r.Get("/health/live", observability.HealthLiveHandler)
	r.Get("/health/ready", observability.HealthReadyHandler(store))
	if cfg.MetricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	r.Group(func(p chi.Router) {
		if cfg.AuthDisabled {
			p.Use(middleware.TrustHeader())
		} else {
			p.Use(middleware.JWT(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTAudience))
		}
		if cfg.RateLimitRequests > 0 {
			p.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))
		}

		p.Post("/api/messages", msgH.SendMessage)

		convPath := "/api/conversations"
		p.Get(convPath, convH.ListConversations)
		p.Post(convPath+"/open", convH.OpenConversation)
		p.Post(convPath+"/read", convH.MarkRead)
		p.Get(convPath+"/{key}/messages", convH.History)

		p.Handle("/ws/conversations/{key}", streamH)
	})

	return otelhttp.NewHandler(r, cfg.ServiceName)
}
