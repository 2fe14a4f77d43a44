// Command ember-run loads a serialized task plan, runs it through the
// native bridge, and streams the resulting rows to stdout.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/vexdata/ember/pkg/arrowmem"
	"github.com/vexdata/ember/pkg/bridge"
	"github.com/vexdata/ember/pkg/engine"
	"github.com/vexdata/ember/pkg/interchange"
	"github.com/vexdata/ember/pkg/metrics"
)

func main() {
	var (
		metricsAddr = flag.String("metrics", "", "address to serve Prometheus metrics on (empty = disabled)")
		partition   = flag.Int("partition", 0, "partition index forwarded to the engine")
		stageID     = flag.String("stage", "", "stage identifier forwarded to the engine")
		jobID       = flag.String("job", "", "job identifier forwarded to the engine")
		batchRows   = flag.Int("batch-rows", 0, "max rows per columnar batch (0 = default)")
		budget      = flag.Int64("memory-budget", 0, "root arena byte budget (0 = default)")
	)
	flag.Parse()

	if flag.NArg() < 1 {
		fmt.Fprintf(os.Stderr, "usage: ember-run [flags] <plan.json>\n")
		os.Exit(1)
	}
	planPath := flag.Arg(0)

	planBytes, err := os.ReadFile(planPath)
	if err != nil {
		slog.Error("failed to read plan", "path", planPath, "error", err)
		os.Exit(1)
	}

	if *metricsAddr != "" {
		metrics.ServeMetrics(*metricsAddr)
	}

	cfg := bridge.Config{MaxBatchRows: *batchRows, MemoryBudget: *budget}
	root := arrowmem.NewLimitedAllocator(memory.DefaultAllocator, cfg.RootBudget())
	lb := interchange.NewLoopback()
	eng := engine.NewInProc(lb, root)

	// Teardown on SIGINT/SIGTERM: cancelling the context closes the task.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	info := engine.TaskInfo{Partition: *partition, StageID: *stageID, JobID: *jobID}
	task, err := bridge.StartTask(ctx, eng, lb, root, planBytes, info, cfg)
	if err != nil {
		slog.Error("failed to start task", "error", err)
		os.Exit(1)
	}

	rows := task.Rows()
	defer rows.Close()

	var count int64
	for rows.Next() {
		fmt.Println(rows.Row())
		count++
	}
	if err := rows.Err(); err != nil {
		slog.Error("task failed", "rows", count, "error", err)
		os.Exit(1)
	}
	slog.Info("task complete", "rows", count)
}
