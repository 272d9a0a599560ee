package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/laraujo4/chatbot-empresa/internal/bot"
	"github.com/laraujo4/chatbot-empresa/internal/config"
	"github.com/laraujo4/chatbot-empresa/internal/repository"
	"github.com/laraujo4/chatbot-empresa/internal/service"
	"github.com/laraujo4/chatbot-empresa/internal/transport"
	"github.com/laraujo4/chatbot-empresa/internal/transport/whatsapp"
)

func main() {
	// Load .env for local development; real deployments use the environment.
	if err := godotenv.Load(); err != nil {
		log.Println("[info] no .env file found, using environment variables")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	if err := os.MkdirAll(cfg.SessionPath, 0o755); err != nil {
		log.Fatalf("session dir: %v", err)
	}

	loc := cfg.Location()

	ledger, err := repository.NewGreetingLedger(filepath.Join(cfg.SessionPath, "greetings.json"), loc, cfg.SaveDebounce)
	if err != nil {
		log.Fatalf("greeting ledger: %v", err)
	}
	defer ledger.Close()

	hours := service.NewHoursService(cfg.OpenHour, cfg.CloseHour, loc)

	// The operator-facing surface renders and serves the pairing image;
	// here we only track the latest payload bytes for it to pick up.
	pairing := service.NewPairingService(func(payload string) ([]byte, error) {
		return []byte(payload), nil
	}, cfg.QRDebounce)
	defer pairing.Close()

	factory, err := whatsapp.NewFactory(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("whatsapp store: %v", err)
	}

	var chatbot *bot.Bot
	conns := service.NewConnectionService(service.ConnectionOptions{
		Factory: factory,
		Pairing: pairing,
		OnMessage: func(msg transport.Message) {
			chatbot.Dispatch(ctx, msg)
		},
		ReadyWatchdog:  cfg.ReadyWatchdog,
		ReconnectDelay: cfg.ReconnectDelay,
	})
	chatbot = bot.New(conns, ledger, hours, &cfg)

	scheduler := service.NewSchedulerService(loc)
	if _, err := scheduler.ScheduleDailyMidnight(chatbot.CleanupDaily); err != nil {
		log.Fatalf("schedule daily cleanup: %v", err)
	}
	if _, err := scheduler.ScheduleInterval(cfg.LivenessEvery, conns.CheckLiveness); err != nil {
		log.Fatalf("schedule liveness check: %v", err)
	}
	scheduler.Start()
	defer scheduler.Stop()

	if err := conns.EstablishConnection(ctx); err != nil {
		log.Fatalf("whatsapp: %v", err)
	}

	log.Println("[info] chatbot started")
	<-ctx.Done()

	log.Println("Shutting down...")
	conns.Stop()
	ledger.Flush()
	log.Println("Shutdown complete.")
}
