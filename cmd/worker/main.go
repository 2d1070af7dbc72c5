package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/prompthub/prompthub/internal/cache"
	"github.com/prompthub/prompthub/internal/config"
	"github.com/prompthub/prompthub/internal/db"
	"github.com/prompthub/prompthub/internal/github"
	"github.com/prompthub/prompthub/internal/prompt"
	"github.com/prompthub/prompthub/internal/shard"
	"github.com/prompthub/prompthub/internal/store/rabbitmq"
	"github.com/prompthub/prompthub/internal/store/redisstore"
)

func workerConcurrency() int {
	v := os.Getenv("WORKER_CONCURRENCY")
	if v == "" {
		return 2
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 2
	}
	if n > 50 {
		return 50
	}
	return n
}

func main() {
	cfg := config.Load()

	gdb := db.Connect(cfg.DBDSN, cfg.SQLitePath)
	if err := gdb.AutoMigrate(&prompt.ReviewJob{}); err != nil {
		log.Fatalf("migrate: %v", err)
	}
	jobs := prompt.NewJobRepo(gdb)

	rds := redisstore.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	defer rds.Close()

	// the worker mutates with the bot token; the reviewer decided, the bot acts
	botClient, err := github.NewClient(cfg.GitHubOwner, cfg.GitHubRepo, cfg.GitHubToken)
	if err != nil {
		log.Fatalf("github: %v", err)
	}
	repo := &prompt.Repository{
		NewClient:  func(string) (*github.Client, error) { return botClient, nil },
		Store:      shard.NewStore(botClient, cfg.StaticBaseURL, cfg.DataDir, cfg.LegacyPath, cfg.ContentBranch),
		Cache:      cache.NewSnapshot(rds, cfg.CacheTTL()),
		Categories: cfg.Categories,
		ShardCount: cfg.ShardCount,
	}

	conn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		log.Fatalf("rabbit dial: %v", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		log.Fatalf("rabbit channel: %v", err)
	}
	defer ch.Close()

	mainQ := cfg.RabbitQueue
	if err := rabbitmq.DeclareTopology(ch, mainQ); err != nil {
		log.Fatalf("rabbit topology: %v", err)
	}

	concurrency := workerConcurrency()

	if err := ch.Qos(concurrency, 0, false); err != nil {
		log.Fatalf("qos: %v", err)
	}

	msgs, err := ch.Consume(mainQ, "", false, false, false, false, nil)
	if err != nil {
		log.Fatalf("consume: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Printf("worker started, queue=%s concurrency=%d", mainQ, concurrency)

	// worker pool
	pool := make(chan amqp.Delivery, concurrency*2)

	var wg sync.WaitGroup
	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go func(workerID int) {
			defer wg.Done()
			for d := range pool {
				var m rabbitmq.ReviewJobMessage
				if err := json.Unmarshal(d.Body, &m); err != nil || m.JobID == "" {
					log.Printf("worker=%d bad message: %v", workerID, err)
					_ = d.Nack(false, false)
					continue
				}

				start := time.Now()
				if err := handleJob(ctx, repo, jobs, m.JobID); err != nil {
					log.Printf("worker=%d job %s failed cost=%s err=%v", workerID, m.JobID, time.Since(start), err)
					_ = d.Nack(false, false)
					continue
				}

				if err := d.Ack(false); err != nil {
					log.Printf("worker=%d ack failed job=%s err=%v", workerID, m.JobID, err)
				}
			}
		}(i)
	}

	// dispatcher
	for {
		select {
		case <-ctx.Done():
			log.Printf("worker shutting down")
			close(pool)
			wg.Wait()
			return

		case d, ok := <-msgs:
			if !ok {
				log.Printf("delivery channel closed")
				time.Sleep(1 * time.Second)
				continue
			}
			pool <- d
		}
	}
}

// handleJob applies one review decision. An unparseable submission marks the
// job failed but is not retried: a second attempt would hit the same body.
func handleJob(ctx context.Context, repo *prompt.Repository, jobs *prompt.JobRepo, jobID string) error {
	_ = jobs.UpdateJobStatusRunning(ctx, jobID)

	j, err := jobs.GetJobByID(ctx, jobID)
	if err != nil {
		return err
	}
	if j.Status != prompt.JobRunning && j.Status != prompt.JobQueued {
		// redelivered after completion
		return nil
	}

	switch j.Decision {
	case "approve":
		err = repo.Approve(ctx, "", j.TargetType, j.TargetNumber)
	case "reject":
		err = repo.Reject(ctx, "", j.TargetType, j.TargetNumber)
	default:
		err = fmt.Errorf("unknown decision %q", j.Decision)
	}

	if err != nil {
		_ = jobs.MarkJobFailed(ctx, jobID, err.Error())
		if errors.Is(err, prompt.ErrManualMerge) {
			// terminal, do not retry
			return nil
		}
		return err
	}

	result := fmt.Sprintf("%s #%d %sd", j.TargetType, j.TargetNumber, j.Decision)
	return jobs.MarkJobSucceeded(ctx, jobID, result)
}
