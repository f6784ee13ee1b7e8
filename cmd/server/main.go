package main

import (
	"encoding/json"
	"flag"
	"io"
	"net/http"
	"time"

	"github.com/gofrs/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/natter-auth/auth/auth"
	"github.com/natter-auth/auth/auth/capability"
	"github.com/natter-auth/auth/config"
)

func main() {
	var (
		configFile string
		addr       string
		debug      bool
	)

	flag.StringVar(&configFile, "config", "config.yaml", "Configuration file")
	flag.StringVar(&addr, "addr", "localhost:8080", "Address to listen on")
	flag.BoolVar(&debug, "debug", false, "Debug mode")

	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}

	if debug {
		logger, err = zap.NewDevelopment()
		if err != nil {
			panic(err)
		}
	}

	cfg, err := config.Load(configFile)
	if err != nil {
		logger.Sugar().Fatalf("Error loading configuration: %v", err)
	}

	if err := cfg.Validate(); err != nil {
		logger.Sugar().Fatalf("Invalid configuration: %v", err)
	}

	store, err := cfg.TokenStore.Config.CreateTokenStore()
	if err != nil {
		logger.Sugar().Fatalf("Error creating token store: %v", err)
	}

	if closer, ok := store.(io.Closer); ok {
		defer closer.Close()
	}

	tokenServer := auth.TokenServer{
		Service: auth.TokenService{
			Store:  store,
			Expiry: cfg.Session.Expiry,
			Logger: logger,
		},
	}

	capabilityServer := capability.Server{
		Service: capability.Service{
			Store:       store,
			BindSubject: cfg.Capability.BindSubject,
			Logger:      logger,
		},
	}

	capabilityTTL := cfg.Capability.TTL
	if capabilityTTL == 0 {
		capabilityTTL = time.Hour
	}

	router := mux.NewRouter()
	router.Use(
		basicAuthSubject,
		mux.MiddlewareFunc(tokenServer.Authenticate),
		mux.MiddlewareFunc(capabilityServer.Authorize),
	)

	router.Path("/sessions").Methods("POST").HandlerFunc(tokenServer.LoginHandler)
	router.Path("/sessions").Methods("DELETE").HandlerFunc(tokenServer.LogoutHandler)
	router.Path("/capabilities").Methods("POST").HandlerFunc(capabilityServer.ShareHandler)

	router.Path("/spaces").Methods("POST").HandlerFunc(createSpaceHandler(capabilityServer.Service, capabilityTTL))
	router.Path("/spaces/{spaceID}/messages").Methods("GET").Handler(capability.RequirePerm("r")(listMessagesHandler()))
	router.Path("/spaces/{spaceID}/messages").Methods("POST").Handler(capability.RequirePerm("w")(postMessageHandler()))

	logger.Sugar().Infof("Listening on %s", addr)

	err = http.ListenAndServe(addr, router)
	if err != nil {
		logger.Sugar().Infof("Error serving: %v", err)
	}
}

// basicAuthSubject resolves Basic auth credentials into an Identity.
//
// TODO: back this with a real credential check once a user registry exists.
func basicAuthSubject(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if username, _, ok := r.BasicAuth(); ok && username != "" {
			ctx := auth.WithIdentity(r.Context(), auth.NewIdentity(username, nil))
			r = r.WithContext(ctx)
		}

		next.ServeHTTP(w, r)
	})
}

// createSpaceHandler creates a new message space and returns a capability URI
// granting full access to it.
func createSpaceHandler(service capability.Service, ttl time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		spaceID, err := uuid.NewV4()
		if err != nil {
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}

		ctx := auth.WithExchange(r.Context(), w, r)

		messagesURI, err := service.Mint(ctx, r, "/spaces/"+spaceID.String()+"/messages", "rwd", ttl)
		if err != nil {
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]string{
			"name":     spaceID.String(),
			"messages": messagesURI.String(),
		})
	}
}

func listMessagesHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode([]string{})
	})
}

func postMessageHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusCreated)
	})
}
