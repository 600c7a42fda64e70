package api

import (
	"net/http"
	"time"

	"chatrelay-backend/internal/config"
	"chatrelay-backend/internal/handlers"
	"chatrelay-backend/internal/logging"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
)

// requestTimeout bounds the non-streaming routes. Streaming routes are only
// bounded by the backend client timeout.
const requestTimeout = 60 * time.Second

// RouterDependencies holds all the dependencies required by the router setup,
// primarily handlers and configuration.
type RouterDependencies struct {
	ChatHandler         *handlers.ChatHandlers
	ConversationHandler *handlers.ConversationHandlers
	Config              *config.Config
	Logger              *zap.Logger
}

// NewRouter creates and configures the main Chi router for the application.
func NewRouter(deps RouterDependencies) *chi.Mux {
	if deps.ChatHandler == nil {
		panic("ChatHandler dependency is nil in router setup")
	}
	logger := deps.Logger.Named("router")

	r := chi.NewRouter()

	// --- Base Middleware Stack ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logging.RequestLogger(deps.Logger.Named("http")))
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   deps.Config.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Requested-With"},
		ExposedHeaders:   []string{"X-Conversation-ID"},
		AllowCredentials: true,
		MaxAge:           300, // Maximum value not ignored by any of major browsers
	}))

	// --- Public Routes ---
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	r.Post("/api/chat", deps.ChatHandler.HandleChat)

	// --- Conversation Routes (JWT Required when configured) ---
	r.Route("/v1", func(r chi.Router) {
		if deps.Config.JWTSecret != "" {
			r.Use(JwtAuthMiddleware(deps.Config.JWTSecret, deps.Logger))
		} else {
			logger.Warn("JWT_SECRET is empty, /v1 routes are unauthenticated")
		}

		r.Post("/chat", deps.ChatHandler.HandleSend)

		if deps.ConversationHandler == nil {
			logger.Warn("ConversationHandler dependency is nil, skipping conversation routes")
			return
		}
		h := deps.ConversationHandler

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(requestTimeout))

			r.Route("/conversations", func(r chi.Router) {
				r.Get("/", h.HandleListConversations)
				r.Post("/", h.HandleCreateConversation)
				r.Get("/{conversationID}", h.HandleGetConversation)
				r.Delete("/{conversationID}", h.HandleDeleteConversation)
				r.Get("/{conversationID}/messages", h.HandleListMessages)
				r.Post("/{conversationID}/messages", h.HandleAddMessage)
			})

			r.Get("/messages/{messageID}/sources", h.HandleGetSources)
			r.Put("/messages/{messageID}/sources", h.HandleSetSources)

			r.Route("/current", func(r chi.Router) {
				r.Get("/", h.HandleGetCurrent)
				r.Put("/", h.HandleSetCurrent)
				r.Delete("/", h.HandleClearCurrent)
				r.Get("/sources", h.HandleLatestSources)
			})
		})
	})

	return r
}
