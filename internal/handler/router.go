package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/weiawesome/peace-chat/pkg/log"
)

// NewRouter mounts the push endpoint and plain health check on gorilla/mux
// and hands everything under /api to a gin engine.
func NewRouter(ws *WSHandler, api *HTTPHandler, logger zerolog.Logger) http.Handler {
	engine := gin.New()
	engine.Use(gin.Recovery(), log.GinMiddleware(logger))
	api.RegisterRoutes(engine)

	router := mux.NewRouter()
	plain := router.NewRoute().Subrouter()
	plain.Use(log.HTTPMiddleware(logger))
	ws.RegisterRoutes(plain)
	plain.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}).Methods(http.MethodGet)

	router.PathPrefix("/api").Handler(engine)
	return router
}
