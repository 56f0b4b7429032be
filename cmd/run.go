package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jake-scott/smartthings-appliances/internal/pkg/certs"
	"github.com/jake-scott/smartthings-appliances/internal/pkg/dispatch"
	"github.com/jake-scott/smartthings-appliances/internal/pkg/handlers"
	"github.com/jake-scott/smartthings-appliances/internal/pkg/logging"
	"github.com/jake-scott/smartthings-appliances/internal/pkg/mapper"
	"github.com/jake-scott/smartthings-appliances/internal/pkg/registry"
	"github.com/jake-scott/smartthings-appliances/internal/pkg/scheduler"
	"github.com/jake-scott/smartthings-appliances/internal/pkg/session"
	"github.com/jake-scott/smartthings-appliances/pkg/middlewares"
)

var _runCmdOpts struct {
	httpPort        uint16
	csrFile         string
	keyFile         string
	apiTimeout      time.Duration
	reconnectDelay  time.Duration
	gracefulTimeout time.Duration
	logRequests     bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the appliance gateway",

	RunE: func(cmd *cobra.Command, args []string) error {
		return doRun()
	},

	PreRunE: func(cmd *cobra.Command, args []string) error {
		return checkRequiredFlags("streaming.csr-file", "streaming.key-file")
	},
}

func init() {
	runCmd.Flags().Uint16Var(&_runCmdOpts.httpPort, "http-port", 8585, "local hub API port number")
	runCmd.Flags().StringVar(&_runCmdOpts.csrFile, "csr-file", "", "certificate signing request (PEM) for the streaming session")
	runCmd.Flags().StringVar(&_runCmdOpts.keyFile, "key-file", "", "private key (PEM) matching the CSR")
	runCmd.Flags().DurationVar(&_runCmdOpts.apiTimeout, "api-timeout", time.Second*15, "maximum duration of a vendor API call, eg. 1m or 10s")
	runCmd.Flags().DurationVar(&_runCmdOpts.reconnectDelay, "reconnect-delay", session.DefaultReconnectDelay, "delay between streaming reconnection attempts")
	runCmd.Flags().DurationVar(&_runCmdOpts.gracefulTimeout, "graceful-timeout", time.Second*15, "duration to wait for the local API server to finish")
	runCmd.Flags().BoolVar(&_runCmdOpts.logRequests, "log-requests", false, "log local API requests and responses (only in debug mode)")

	errPanic(viper.GetViper().BindPFlag("http.port", runCmd.Flags().Lookup("http-port")))
	errPanic(viper.GetViper().BindPFlag("streaming.csr-file", runCmd.Flags().Lookup("csr-file")))
	errPanic(viper.GetViper().BindPFlag("streaming.key-file", runCmd.Flags().Lookup("key-file")))
	errPanic(viper.GetViper().BindPFlag("vendor.api-timeout", runCmd.Flags().Lookup("api-timeout")))
	errPanic(viper.GetViper().BindPFlag("streaming.reconnect-delay", runCmd.Flags().Lookup("reconnect-delay")))
	errPanic(viper.GetViper().BindPFlag("http.graceful-timeout", runCmd.Flags().Lookup("graceful-timeout")))
	errPanic(viper.GetViper().BindPFlag("logging.log-requests", runCmd.Flags().Lookup("log-requests")))

	rootCmd.AddCommand(runCmd)
}

func checkRequiredFlags(needFlags ...string) error {
	missingFlags := []string{}

	for _, f := range needFlags {
		if !viper.IsSet(f) || viper.GetString(f) == "" {
			missingFlags = append(missingFlags, f)
		}
	}

	if len(missingFlags) > 0 {
		itemPlural := "item"
		if len(missingFlags) > 1 {
			itemPlural = "items"
		}
		return fmt.Errorf("required config %s `%s` not set", itemPlural, strings.Join(missingFlags, "`, `"))
	}

	return nil
}

func doRun() error {
	state, err := loadState()
	if err != nil {
		return err
	}

	csrPEM, err := os.ReadFile(viper.GetString("streaming.csr-file"))
	if err != nil {
		return fmt.Errorf("reading CSR: %w", err)
	}
	keyPEM, err := os.ReadFile(viper.GetString("streaming.key-file"))
	if err != nil {
		return fmt.Errorf("reading private key: %w", err)
	}

	cloud := cloudFor(state)
	reg := registry.New(cloud)
	dispatcher := dispatch.New(cloud, reg)
	certMgr := certs.NewManager(cloud, state)
	sched := scheduler.New(cloud, reg)

	sess := session.New(cloud, certMgr, state, &session.PahoDialer{}, string(csrPEM), string(keyPEM)).
		WithReconnectDelay(viper.GetDuration("streaming.reconnect-delay"))

	// Discovery, selection and snapshot seeding.  Setup-time failures
	// here are surfaced synchronously.
	if _, err := reg.Discover(); err != nil {
		return err
	}
	reg.SyncSelection(state.SelectedDeviceIDs())
	for _, h := range reg.Handles() {
		if snap := state.Snapshot(h.ID()); len(snap) > 0 {
			reg.ApplyUpdate(h.ID(), snap)
		}
	}

	// Persist the last-known snapshot whenever an attribute changes
	reg.SetObserver(func(change registry.AttributeChange) {
		logging.Logger(nil).Debugf("device %s: %s = %v", change.DeviceID, change.Attribute, change.Value)

		if h, ok := reg.Handle(change.DeviceID); ok {
			state.SetSnapshot(h.ID(), h.Snapshot())
			if err := state.Persist(); err != nil {
				logging.Logger(nil).WithError(err).Warn("persisting device snapshot")
			}
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup

	// The streaming session belongs to the primary handle; with no
	// devices selected there is nothing to stream for
	if reg.Primary() != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sess.Run(ctx)
		}()

		wg.Add(1)
		go func() {
			defer wg.Done()
			eventLoop(reg, sess)
		}()
	} else {
		logging.Logger(nil).Warn("no devices selected; streaming session not started")
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		sched.Run(ctx)
	}()

	// one full reconciliation at startup so snapshots are warm
	wg.Add(1)
	go func() {
		defer wg.Done()
		sched.ReconcileAll(ctx)
	}()

	srv := localAPIServer(reg, dispatcher)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Logger(nil).WithError(err).Error("running local API server")
		}
	}()
	logging.Logger(nil).Infof("local hub API serving on port %d", viper.GetUint("http.port"))

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt)

	// Block until we receive a signal
	<-c
	logging.Logger(nil).Info("shutting down")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), viper.GetDuration("http.graceful-timeout"))
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Logger(nil).WithError(err).Error("shutting down local API server")
	}

	wg.Wait()
	logging.Logger(nil).Info("exiting")
	return nil
}

// eventLoop consumes device-status pushes, decodes them through the
// per-type mapping tables and applies the updates
func eventLoop(reg *registry.Registry, sess *session.Manager) {
	for ev := range sess.Events() {
		h, ok := reg.Handle(ev.DeviceID)
		if !ok {
			logging.Logger(nil).Warnf("dropping event for unknown device %s", ev.DeviceID)
			continue
		}

		updates := mapper.Decode(h.Type(), ev.Report)
		reg.ApplyUpdate(ev.DeviceID, updates)
	}

	logging.Logger(nil).Info("event loop: shutting down")
}

func localAPIServer(reg *registry.Registry, dispatcher *dispatch.Dispatcher) *http.Server {
	dh := handlers.NewDevicesHandler(reg, dispatcher)

	var logRequests bool
	if viper.GetBool("logging.log-requests") {
		logRequests = true
	}

	r := mux.NewRouter()
	r.Use(middlewares.NewLoggingMw(logRequests))
	r.Use(middlewares.NewRecoveryMw())
	r.Use(middlewares.NewCorrelationMw("X-Correlation-ID"))
	r.Use(middlewares.NewCorsMw(cors.Options{AllowedMethods: []string{http.MethodGet, http.MethodPost}}))

	r.HandleFunc("/devices", dh.List).Methods(http.MethodGet)
	r.HandleFunc("/devices/{id}", dh.Get).Methods(http.MethodGet)
	r.HandleFunc("/devices/{id}/commands", dh.Command).Methods(http.MethodPost)

	return &http.Server{
		Addr:         fmt.Sprintf(":%d", viper.GetUint("http.port")),
		ReadTimeout:  time.Second * 15,
		WriteTimeout: time.Second * 60,
		IdleTimeout:  time.Second * 60,
		Handler:      r,
	}
}
