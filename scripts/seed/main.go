// Seed creates sample tasks through the task API so every consumer sees
// the resulting events. Run from project root: go run ./scripts/seed -n 50
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"taskflow/internal/client"
	"taskflow/internal/config"
	"taskflow/internal/models"
)

var (
	priorities  = []models.Priority{models.PriorityHigh, models.PriorityMedium, models.PriorityLow}
	recurrences = []models.Recurrence{models.RecurrenceNone, models.RecurrenceDaily, models.RecurrenceWeekly, models.RecurrenceMonthly}
)

func main() {
	n := flag.Int("n", 20, "number of tasks")
	owner := flag.String("user", "seed-user", "owner of the seeded tasks")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	c := client.NewHTTP(cfg.TaskServiceURL, cfg.RemoteTimeout)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < *n; i++ {
		in := models.TaskInput{
			Title:             fmt.Sprintf("Seed task %d", i+1),
			Priority:          priorities[i%len(priorities)],
			Tags:              []string{"seed", fmt.Sprintf("batch-%d", i/10)},
			RecurrencePattern: recurrences[i%len(recurrences)],
		}
		if i%2 == 0 {
			due := time.Now().Add(time.Duration(i+1) * time.Hour).UTC()
			in.DueDate = &due
		}
		if _, err := c.CreateTask(ctx, in, *owner); err != nil {
			fmt.Fprintln(os.Stderr, "create failed:", err)
			os.Exit(1)
		}
	}
	fmt.Printf("Seeded %d tasks for %s in %s\n", *n, *owner, time.Since(start).Round(time.Millisecond))
}
