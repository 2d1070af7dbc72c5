package main

import (
	"log"

	"github.com/prompthub/prompthub/internal/auth"
	"github.com/prompthub/prompthub/internal/config"
	"github.com/prompthub/prompthub/internal/db"
	"github.com/prompthub/prompthub/internal/httpapi"
	"github.com/prompthub/prompthub/internal/httpapi/handlers"
	"github.com/prompthub/prompthub/internal/prompt"
	"github.com/prompthub/prompthub/internal/store/rabbitmq"
	"github.com/prompthub/prompthub/internal/store/redisstore"
)

func main() {
	cfg := config.Load()

	gdb := db.Connect(cfg.DBDSN, cfg.SQLitePath)
	if err := gdb.AutoMigrate(&auth.Session{}, &prompt.ReviewJob{}); err != nil {
		log.Fatalf("migrate: %v", err)
	}

	rds := redisstore.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	defer rds.Close()

	pub, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue)
	if err != nil {
		log.Fatalf("rabbit: %v", err)
	}
	defer pub.Close()

	h, err := handlers.NewHandler(gdb, cfg, rds, pub, nil)
	if err != nil {
		log.Fatalf("handler: %v", err)
	}

	r := httpapi.NewRouter(h)
	log.Printf("api listening on :%s", cfg.Port)
	if err := r.Run(":" + cfg.Port); err != nil {
		log.Fatalf("server: %v", err)
	}
}
