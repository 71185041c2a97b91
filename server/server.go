package server

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-playground/validator"
	"github.com/gorilla/mux"
	"github.com/havenapp/haven/server/auth"
	"github.com/havenapp/haven/server/auth/key"
	"github.com/havenapp/haven/server/logger"
	"github.com/havenapp/haven/server/models"
	"github.com/havenapp/haven/server/sos"
	"github.com/havenapp/haven/server/twilio"
	"github.com/havenapp/haven/server/work"
	"github.com/havenapp/haven/shared"
	"github.com/spf13/viper"
)

type RequestContextKey string

type DecodedJWT struct {
	Claims   *auth.HavenTokenClaims
	ErrorMsg string
}

type ResponsePayload struct {
	Errors  []string       `json:"errors,omitempty"`
	Success string         `json:"success,omitempty"`
	Data    interface{}    `json:"data,omitempty"`
	Paging  *models.Paging `json:"paging,omitempty"`
}

var (
	logg     = logger.NewLogger()
	validate = validator.New()

	serverConfig   *shared.ServerConfig
	authKeyPair    *key.KeyPair
	dispatchEngine *sos.Engine
	appRootDir     string
)

// Start brings up the haven API server: opens the encrypted sqlite db,
// wires the SMS dispatch engine & worker pool, registers routes & then
// blocks until an interrupt triggers a graceful shutdown.
func Start(vConfig *viper.Viper, devMode bool) {
	fatalOnError(RegisterValidators(validate))

	serverConfig = parseServerConfig(vConfig)
	appRootDir = configDirectory(devMode)

	fatalOnError(models.AutoMigrate(serverConfig.Sqlite.PassPhrase, appRootDir))

	keyPair, err := key.NewKeyPairFromRSAPrivateKeyPem(serverConfig.Haven.PrivateKeyPem)
	fatalOnError(err)
	authKeyPair = keyPair

	smsClient := twilio.NewClient(serverConfig.Twilio, devMode)
	dispatchEngine = sos.NewEngine(smsClient)

	workerPool := work.NewWorkerAdapter(serverConfig.Haven.Cron.TimeZone, false)
	registerJobHandlers(workerPool)
	enqueueJobs(workerPool, serverConfig)
	fatalOnError(workerPool.Start())

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%v", serverConfig.Haven.Listener.Port),
		Handler: newRouter(),
	}
	go serve(httpServer)

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM)
	<-signalChan

	backupOnShutdown := configFlagEnabled(serverConfig.Google.Storage.EnableSqliteBackupAndSync)
	cleanup(workerPool, httpServer, backupOnShutdown)
}

func newRouter() *mux.Router {
	router := mux.NewRouter()
	router.Use(loggingMiddleware, initialContextMiddleware)

	router.HandleFunc("/health", healthCheck).Methods("GET")
	router.HandleFunc("/.well-known/jwks.json", jwks).Methods("GET")
	router.HandleFunc("/login", logIn).Methods("POST")

	// Guest SOS needs no account - registered ahead of the /sos subrouter
	// so it isn't swallowed by the auth-required routes below.
	router.HandleFunc("/sos/guest", createGuestSOSAlert).Methods("POST")

	signUpRouter := router.PathPrefix("/users").Subrouter()
	signUpRouter.Use(adminRouteMiddleware)
	signUpRouter.HandleFunc("", createUser).Methods("POST")

	userRouter := router.PathPrefix("/users/{uid:[0-9]+}").Subrouter()
	userRouter.Use(protectedRouteMiddleware)
	userRouter.HandleFunc("", findUser).Methods("GET")
	userRouter.HandleFunc("", updateUser).Methods("PUT")
	userRouter.HandleFunc("", deleteUser).Methods("DELETE")
	userRouter.HandleFunc("/contacts", createContact).Methods("POST")
	userRouter.HandleFunc("/contacts", listContacts).Methods("GET")
	userRouter.HandleFunc("/contacts/{id:[0-9]+}", updateContact).Methods("PUT")
	userRouter.HandleFunc("/contacts/{id:[0-9]+}", deleteContact).Methods("DELETE")

	sosRouter := router.PathPrefix("/sos").Subrouter()
	sosRouter.HandleFunc("", createSOSAlert).Methods("POST")
	sosRouter.HandleFunc("", sosAlertHistory).Methods("GET")
	sosRouter.Use(authRequiredMiddleware)

	// Cancel/resolve/retry accept either a token or the guest session
	// header, so guests can act on their own alerts too.
	router.HandleFunc("/sos/{id:[0-9]+}/cancel", cancelSOSAlert).Methods("POST")
	router.HandleFunc("/sos/{id:[0-9]+}/resolve", resolveSOSAlert).Methods("POST")
	router.HandleFunc("/sos/{id:[0-9]+}/retry", retrySOSAlert).Methods("POST")

	bookingRouter := router.PathPrefix("/").Subrouter()
	bookingRouter.Use(authRequiredMiddleware)
	bookingRouter.HandleFunc("/counselors/{uid:[0-9]+}/slots", counselorSlots).Methods("GET")
	bookingRouter.HandleFunc("/appointments", createAppointment).Methods("POST")
	bookingRouter.HandleFunc("/appointments", listAppointments).Methods("GET")
	bookingRouter.HandleFunc("/appointments/{id:[0-9]+}/cancel", cancelAppointment).Methods("POST")

	adminRouter := router.PathPrefix("/admin").Subrouter()
	adminRouter.Use(adminRouteMiddleware)
	adminRouter.HandleFunc("/jobs", getJobs).Methods("GET")
	adminRouter.HandleFunc("/stats", getStats).Methods("GET")

	return router
}
