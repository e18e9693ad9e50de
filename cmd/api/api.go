package api

import (
	"log"
	"net/http"

	"github.com/plumaapp/pluma-server/cmd/models"
	"github.com/plumaapp/pluma-server/service/feed"
	"github.com/plumaapp/pluma-server/service/notification"
	"github.com/plumaapp/pluma-server/service/realtime"
	"github.com/plumaapp/pluma-server/service/user"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"gorm.io/gorm"
)

type APIServer struct {
	address string
	db      *gorm.DB
}

func NewApiServer(address string, db *gorm.DB) *APIServer {
	return &APIServer{
		address: address,
		db:      db,
	}
}

func (s *APIServer) Run() error {
	router := mux.NewRouter()
	subrouter := router.PathPrefix("/api/v1").Subrouter()

	hub := models.NewHub()
	go hub.Run()

	notifier := notification.NewNotifier(s.db)

	userHandler := user.NewHandler(s.db, notifier, hub)
	userHandler.RegisterRoutes(subrouter)

	postHandler := feed.NewPostHandler(s.db, notifier, hub)
	postHandler.RegisterRoutes(subrouter)

	notificationHandler := notification.NewNotificationHandler(s.db, notifier)
	notificationHandler.RegisterRoutes(subrouter)

	realtimeHandler := realtime.NewHandler(s.db, hub)
	realtimeHandler.RegisterRoutes(router)

	fileServer := http.FileServer(http.Dir("uploads/media"))
	router.PathPrefix("/media/").Handler(http.StripPrefix("/media/", fileServer))

	cors := handlers.CORS(
		handlers.AllowedOrigins([]string{"*"}),
		handlers.AllowedMethods([]string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}),
		handlers.AllowedHeaders([]string{"Content-Type", "Authorization"}),
	)

	log.Println("Server running at", s.address)
	return http.ListenAndServe(s.address, cors(router))
}
