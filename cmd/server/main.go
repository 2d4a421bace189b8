// cmd/server/main.go
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"strconv"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"github.com/sirupsen/logrus"

	"github.com/nbv9704/CASI4F-sub001/internal/auth"
	"github.com/nbv9704/CASI4F-sub001/internal/cache"
	"github.com/nbv9704/CASI4F-sub001/internal/database"
	"github.com/nbv9704/CASI4F-sub001/internal/handlers"
	"github.com/nbv9704/CASI4F-sub001/internal/middleware"
	"github.com/nbv9704/CASI4F-sub001/internal/models"
	"github.com/nbv9704/CASI4F-sub001/internal/room"
)

func main() {
	auth.Init()
	database.ConnectDB()
	defer database.DB.Close()

	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel)

	if err := cache.ConnectRedis(); err != nil {
		logger.Warnf("redis unavailable, idempotency cache and result queue disabled: %v", err)
	}

	cfg := room.DefaultConfig()
	cfg.RevealDelay = envDuration("ROOM_REVEAL_DELAY", cfg.RevealDelay)
	cfg.WaitingTTL = envDuration("ROOM_WAITING_TTL", cfg.WaitingTTL)
	cfg.ActiveTTL = envDuration("ROOM_ACTIVE_TTL", cfg.ActiveTTL)
	cfg.HouseEdgeBps = envInt("ROOM_HOUSE_EDGE_BPS", cfg.HouseEdgeBps)

	ctrl := room.NewController(database.NewRoomStore(database.DB), cfg, logger)
	if cache.Rdb != nil {
		ctrl.Cache = cache.NewActionCache(cache.Rdb)
		ctrl.PublishFn = func(ctx context.Context, ev models.RoomEvent) {
			if err := cache.PublishRoomResult(ctx, ev); err != nil {
				logger.Warnf("failed to enqueue result for room %s: %v", ev.Room.Code, err)
			}
		}
	}

	srv := handlers.NewServer(ctrl, logger)

	sweeper := room.NewSweeper(ctrl, envDuration("ROOM_SWEEP_INTERVAL", 30*time.Second), logger)
	go sweeper.Run(context.Background())

	mux := http.NewServeMux()

	// room endpoints
	mux.Handle("/rooms/create", middleware.LogMiddleware(logger)(srv.CreateRoomHandler()))
	mux.Handle("/rooms/list", middleware.LogMiddleware(logger)(srv.ListRoomsHandler()))
	mux.Handle("/rooms/join", middleware.LogMiddleware(logger)(srv.JoinRoomHandler()))
	mux.Handle("/rooms/ready", middleware.LogMiddleware(logger)(srv.ReadyRoomHandler()))
	mux.Handle("/rooms/start", middleware.LogMiddleware(logger)(srv.StartRoomHandler()))
	mux.Handle("/rooms/action", middleware.LogMiddleware(logger)(srv.ActionRoomHandler()))
	mux.Handle("/rooms/delete", middleware.LogMiddleware(logger)(srv.DeleteRoomHandler()))
	mux.Handle("/rooms/verify", middleware.LogMiddleware(logger)(srv.VerifyRoomHandler()))

	// user endpoints
	mux.Handle("/user/balance", middleware.LogMiddleware(logger)(srv.BalanceHandler()))

	// room event feed
	mux.Handle("/rooms/ws/", middleware.LogMiddleware(logger)(srv.RoomWSHandler()))

	addr := ":8080"
	if port := os.Getenv("PORT"); port != "" {
		addr = ":" + port
	}
	logger.Infof("Running on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Fatalf("server exited: %v", err)
	}
}

func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Fatalf("invalid %s: %v", key, err)
	}
	return d
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Fatalf("invalid %s: %v", key, err)
	}
	return n
}
