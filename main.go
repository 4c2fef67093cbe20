package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/op/go-logging"
	"github.com/robfig/cron/v3"

	"github.com/mmvpn/warden/api"
	"github.com/mmvpn/warden/config"
	"github.com/mmvpn/warden/database"
	"github.com/mmvpn/warden/enforce"
	"github.com/mmvpn/warden/job"
	"github.com/mmvpn/warden/logger"
	"github.com/mmvpn/warden/notify"
	"github.com/mmvpn/warden/provision"
	"github.com/mmvpn/warden/singbox"
	"github.com/mmvpn/warden/storage"
)

func initLogger() {
	switch config.GetLogLevel() {
	case config.Debug:
		logger.InitLogger(logging.DEBUG)
	case config.Info:
		logger.InitLogger(logging.INFO)
	case config.Notice:
		logger.InitLogger(logging.NOTICE)
	case config.Warn:
		logger.InitLogger(logging.WARNING)
	case config.Error:
		logger.InitLogger(logging.ERROR)
	default:
		log.Fatal("unknown log level:", config.GetLogLevel())
	}
}

func newNotifier() notify.Notifier {
	token := config.GetBotToken()
	if token == "" {
		logger.Warning("BOT_TOKEN not set, quota notifications go to the log only")
		return notify.LogNotifier{}
	}
	tg, err := notify.NewTelegram(token)
	if err != nil {
		logger.Error("telegram bot init failed, falling back to log notifier:", err)
		return notify.LogNotifier{}
	}
	return tg
}

func run() error {
	log.Printf("%v %v", config.GetName(), config.GetVersion())
	config.LoadEnv()
	initLogger()
	defer logger.CloseLogger()

	if err := database.InitDB(config.GetDBPath()); err != nil {
		return err
	}
	defer func() {
		if err := database.CloseDB(); err != nil {
			logger.Warning("close database:", err)
		}
	}()

	configStore := singbox.NewConfigStore()
	controller := singbox.NewController(config.GetSingboxService())
	provisioner := provision.NewService(configStore, controller)

	stats, err := singbox.NewStatsClient(config.GetStatsAPIAddr())
	if err != nil {
		return err
	}
	defer stats.Close()

	keyStore := &storage.KeyStore{}
	collector := enforce.NewCollector(keyStore, stats)
	engine := enforce.NewEngine(keyStore, provisioner, newNotifier())

	c := cron.New()
	schedule := fmt.Sprintf("@every %ds", config.GetCheckIntervalSec())
	if _, err := c.AddJob(schedule, job.NewWatchdogJob(collector, engine)); err != nil {
		return err
	}
	c.Start()
	defer c.Stop()
	logger.Infof("watchdog scheduled %s against %s", schedule, config.GetStatsAPIAddr())

	server := api.NewServer()
	if err := server.Start(); err != nil {
		return err
	}
	defer func() {
		if err := server.Stop(); err != nil {
			logger.Warning("stop api server:", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Infof("received %v, shutting down", sig)
	return nil
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}
