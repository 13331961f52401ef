// Operator tool: pushes cancel/requeue commands onto the daemon's
// control queue.
//
//	admin -redis redis://localhost:6379/0 cancel <job-uuid>
//	admin -redis redis://localhost:6379/0 requeue <job-uuid>
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	redisclient "github.com/petscheit/bankai-sub001/internal/infra/redis"
)

func main() {
	redisURL := flag.String("redis", "redis://localhost:6379/0", "Redis URL")
	flag.Parse()

	_ = godotenv.Load()

	args := flag.Args()
	if len(args) != 2 {
		fmt.Fprintln(os.Stderr, "usage: admin [-redis url] {cancel|requeue} <job-uuid>")
		os.Exit(2)
	}
	name := args[0]
	if name != redisclient.CommandCancel && name != redisclient.CommandRequeue {
		fmt.Fprintf(os.Stderr, "unknown command %q\n", name)
		os.Exit(2)
	}
	jobID, err := uuid.Parse(args[1])
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid job uuid: %v\n", err)
		os.Exit(2)
	}

	client, err := redisclient.NewClient(redisclient.Config{URL: *redisURL})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect to redis: %v\n", err)
		os.Exit(1)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Push(ctx, redisclient.Command{Name: name, JobID: jobID}); err != nil {
		fmt.Fprintf(os.Stderr, "failed to push command: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Queued %s for job %s\n", name, jobID)
}
