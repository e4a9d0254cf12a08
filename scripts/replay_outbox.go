package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"peregovorka/internal/database"

	"github.com/rs/zerolog"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// Возвращает упавшие задачи outbox в очередь; воркер подберет их при следующем опросе.
func run() error {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	var (
		dbPath    = flag.String("db", "./data/peregovorka.db", "path to sqlite db")
		eventType = flag.String("event", "", "replay only this event type")
		dryRun    = flag.Bool("dry-run", false, "list tasks without requeueing")
	)
	flag.Parse()

	db, err := database.NewDB(*dbPath, &logger)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	tasks, err := db.GetFailedOutboxTasks(ctx)
	if err != nil {
		return fmt.Errorf("list failed tasks: %w", err)
	}

	requeued := 0
	skipped := 0
	for _, task := range tasks {
		if *eventType != "" && task.EventType != *eventType {
			skipped++
			continue
		}
		lastError := ""
		if task.LastError != nil {
			lastError = *task.LastError
		}
		fmt.Printf("%d\t%s\t%s\t%s\n", task.ID, task.EventType, task.AggregateID, lastError)
		if *dryRun {
			continue
		}
		if err := db.RequeueOutboxTask(ctx, task.ID); err != nil {
			return fmt.Errorf("requeue %d: %w", task.ID, err)
		}
		requeued++
	}

	fmt.Printf("done: failed=%d requeued=%d skipped=%d\n", len(tasks), requeued, skipped)
	return nil
}
