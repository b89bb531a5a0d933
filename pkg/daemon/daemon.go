package daemon

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/flowlab/flowcal/pkg/config"
	"github.com/flowlab/flowcal/pkg/events"
	"github.com/flowlab/flowcal/pkg/link"
	"github.com/flowlab/flowcal/pkg/store"
)

var (
	conf    config.Config
	conn    link.Conn
	dataset *store.Store
	sseHub  *events.EventHub
	console *ConsoleRecorder

	// linkMu serializes every use of conn. A session holds it for its whole
	// run; the passive reader only takes it with TryLock.
	linkMu = &sync.Mutex{}
	// daemonCtx is cancelled on shutdown and aborts a running session.
	daemonCtx, stopDaemon = context.WithCancel(context.Background())
)

// newLink builds the serial link. Replaced in tests.
var newLink = func(baudRate int) link.Conn { return link.NewSerial(baudRate) }

func setupRoutes() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(ginLogger(logrus.StandardLogger()))
	router.GET("/version", getVersion)
	router.GET("/config", getConfig)
	router.GET("/metrics", serveMetrics())

	router.GET("/link", getLink)
	router.POST("/link", connectLink)
	router.DELETE("/link", disconnectLink)
	router.POST("/send", sendLine)
	router.GET("/console", getConsole)
	router.DELETE("/console", clearConsole)
	router.GET("/events", streamEvents)

	router.POST("/measure", postMeasure)
	router.GET("/experiments", getExperiments)
	router.DELETE("/experiments", clearExperiments)
	router.DELETE("/experiments/:index", removeExperiment)
	router.GET("/selection", getSelection)
	router.PUT("/selection", setSelection)
	router.GET("/offsets", getOffsets)

	router.GET("/regression", getRegression)
	router.GET("/deviation/:index", getDeviation)
	router.GET("/summary", getSummary)

	return router
}

// initState wires the package state from c. It does not touch the network.
func initState(c config.Config) {
	conf = c
	conn = newLink(c.BaudRate())
	dataset = store.New(c.OffsetPolicy())
	sseHub = events.NewEventHub()
	console = NewConsoleRecorder(c.ConsoleHistory())
}

// reloadConfig re-reads the config file and applies what can change at
// runtime. A new baud rate takes effect on the next connect.
func reloadConfig() error {
	if err := conf.Load(); err != nil {
		return err
	}
	dataset.SetPolicy(conf.OffsetPolicy())
	console.Resize(conf.ConsoleHistory())
	return nil
}

func Run(configPath string, unixSocketPath string, allowNonRoot bool) error {
	c, err := config.NewFile(configPath)
	if err != nil {
		logrus.Fatalf("failed to parse config during startup: %v", err)
	}
	logrus.WithFields(c.LogrusFields()).Infof("config loaded")

	initState(c)
	router := setupRoutes()

	// Receive SIGHUP to reload config
	go func() {
		sigc := make(chan os.Signal, 1)
		signal.Notify(sigc, syscall.SIGHUP)
		for range sigc {
			err := reloadConfig()
			if err != nil {
				logrus.Errorf("failed to reload config: %v", err)
				continue
			}
			logrus.WithFields(conf.LogrusFields()).Infof("config reloaded")
		}
	}()

	if port := conf.Port(); port != "" {
		if err := openLink(port); err != nil {
			logrus.WithError(err).Warnf("failed to open %s on startup, waiting for a client to connect", port)
		}
	}

	srv := &http.Server{
		Handler: router,
	}

	// Remove a stale socket left behind by a crashed daemon.
	if err := os.Remove(unixSocketPath); err != nil && !os.IsNotExist(err) {
		logrus.Fatal(err)
	}

	// Create the socket to listen on:
	l, err := net.Listen("unix", unixSocketPath)
	if err != nil {
		logrus.Fatal(err)
	}

	if conf.AllowNonRootAccess() || allowNonRoot {
		logrus.Infof("non-root access is allowed, changing permissions of %s to 0777", unixSocketPath)
		err = os.Chmod(unixSocketPath, 0777)
		if err != nil {
			logrus.Fatal(err)
		}
	}

	// Serve HTTP on unix socket
	go func() {
		logrus.Infof("http server listening on %s", l.Addr().String())
		if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.Fatal(err)
		}
	}()

	go func() {
		logrus.Debugln("console reader starts")

		consoleLoop(daemonCtx)

		logrus.Debugln("console reader exited")
	}()

	// Handle common process-killing signals, so we can gracefully shut down:
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	// Wait for a SIGINT or SIGTERM:
	sig := <-sigc
	logrus.Infof("caught signal \"%s\": shutting down.", sig)

	// Aborts a running session so the http server can drain.
	stopDaemon()

	logrus.Info("shutting down http server")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	err = srv.Shutdown(ctx)
	if err != nil {
		logrus.Errorf("failed to shutdown http server: %v", err)
	}
	cancel()

	logrus.Info("closing serial link")
	linkMu.Lock()
	err = conn.Disconnect()
	linkMu.Unlock()
	if err != nil {
		logrus.Errorf("failed to close serial link: %v", err)
	}

	logrus.Info("exiting")
	return nil
}
