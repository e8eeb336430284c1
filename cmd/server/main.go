package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/topicchat/server/internal/api"
	"github.com/topicchat/server/internal/config"
	"github.com/topicchat/server/internal/events"
	"github.com/topicchat/server/internal/server"
	"github.com/topicchat/server/internal/stats"
	"github.com/topicchat/server/internal/store"
)

var (
	addr      string
	redisAddr string
)

func main() {
	flag.StringVar(&addr, "addr", "", "server address")
	flag.StringVar(&redisAddr, "redis-addr", "", "redis address")
	flag.Parse()

	logger := log.New(os.Stderr, "[topicchat] ", log.LstdFlags)

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logger.Println("load .env:", err)
	}

	cfg, err := config.NewConfig(addr, redisAddr)
	if err != nil {
		logger.Fatal("config: ", err)
	}

	st, err := store.NewStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		logger.Fatal("store: ", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Println("store close:", err)
		}
	}()

	roomRepo := store.NewRoomRepository(st)
	messageRepo := store.NewMessageRepository(st, cfg.MessageRetention)
	userRepo := store.NewUserRepository(st)

	dispatcher := events.NewRedisDispatcher(st.Client(), logger)
	subscriber := events.NewRedisSubscriber(st.Client(), logger)

	statsMux := http.NewServeMux()
	statsUpdater := stats.NewStatsUpdater(statsMux)

	chatServer, err := server.NewChatServer(logger, roomRepo, messageRepo, subscriber, statsUpdater)
	if err != nil {
		logger.Fatal("new chat server: ", err)
	}

	srv := api.NewTopicChatApp(logger, api.AppDeps{
		Rooms:      roomRepo,
		Messages:   messageRepo,
		Users:      userRepo,
		Dispatcher: dispatcher,
		Pinger:     st,
		ChatServer: chatServer,
		StatsMux:   statsMux,
	}, cfg)

	statsUpdater.Run()
	defer statsUpdater.Stop()

	go chatServer.Run()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigs:
		logger.Printf("received signal: %s\n", sig)
	case err := <-errCh:
		logger.Println("server:", err)
	}

	shutDownCtx, cancel := context.WithTimeout(
		context.Background(),
		10*time.Second,
	)
	defer cancel()

	if err := srv.Shutdown(shutDownCtx); err != nil {
		logger.Fatalln("HTTP server shutdown:", err)
	}

	logger.Println("shutting down chat server...")
	chatServer.Shutdown()

	logger.Println("shutdown complete")
}
