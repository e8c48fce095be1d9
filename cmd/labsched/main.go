package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/dutlab/labsched/internal/common"
	commondatabase "github.com/dutlab/labsched/internal/common/database"
	"github.com/dutlab/labsched/internal/scheduler"
	"github.com/dutlab/labsched/internal/scheduler/configuration"
	schedulerdatabase "github.com/dutlab/labsched/internal/scheduler/database"
	"github.com/dutlab/labsched/internal/scheduler/dronemanager"
	"github.com/dutlab/labsched/internal/scheduler/hostscheduler"
)

const CustomConfigLocation string = "config"

func init() {
	pflag.String(CustomConfigLocation, "", "Fully qualified path to application configuration file")
	pflag.Parse()
}

func main() {
	common.ConfigureLogging()
	common.BindCommandlineArguments()

	var config configuration.LabschedConfig
	userSpecifiedConfig := viper.GetString(CustomConfigLocation)
	v := common.LoadConfig(&config, "./config/labsched", userSpecifiedConfig)

	log.Info("Starting labsched...")

	db, err := commondatabase.Open(config.Postgres.Connection)
	if err != nil {
		log.WithError(err).Fatal("Failed to connect to the job database")
	}

	prober, err := hostscheduler.NewSSHProber(config.SSH)
	if err != nil {
		log.WithError(err).Fatal("Failed to set up ssh prober")
	}
	executor, err := dronemanager.NewSSHExecutor(config.SSH)
	if err != nil {
		log.WithError(err).Fatal("Failed to set up drone executor")
	}

	configStore := configuration.NewStore(v)
	jobRepository := schedulerdatabase.NewSQLJobRepository(db)
	hostRepository := schedulerdatabase.NewSQLHostRepository(db)
	hostScheduler := hostscheduler.New(
		hostRepository,
		hostscheduler.NewRepositoryEligibility(hostRepository),
		prober,
	)
	droneManager := dronemanager.New(
		config.Drones,
		executor,
		dronemanager.NewRemoteResultsCopier(executor),
		configStore,
		executor,
	)

	shutdownMetricServer := common.ServeMetrics(config.MetricsPort)
	defer shutdownMetricServer()

	ctx, cancel := context.WithCancel(context.Background())
	stopSignal := make(chan os.Signal, 1)
	signal.Notify(stopSignal, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-stopSignal
		log.Info("Shutdown requested")
		cancel()
	}()

	s := scheduler.New(
		jobRepository,
		hostRepository,
		hostScheduler,
		droneManager,
		configStore,
		scheduler.NewMetrics(prometheus.DefaultRegisterer),
	)
	if err := s.Run(ctx); err != nil {
		log.WithError(err).Fatal("Scheduler exited with error")
	}
}
