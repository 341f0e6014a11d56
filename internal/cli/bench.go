package cli

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/tutu-network/tutu-infer/internal/domain"
	"github.com/tutu-network/tutu-infer/internal/engine"
	"github.com/tutu-network/tutu-infer/internal/membuf"
	"github.com/tutu-network/tutu-infer/internal/server"
	"github.com/tutu-network/tutu-infer/internal/stage"
)

func init() {
	benchCmd.Flags().IntVar(&benchRequests, "requests", 1000, "number of requests to send")
	benchCmd.Flags().IntVar(&benchConcurrency, "concurrency", 32, "number of concurrent callers")
	benchCmd.Flags().IntVar(&benchBatchSize, "batch-size", 8, "model batch size")
	benchCmd.Flags().StringVar(&benchStrategy, "strategy", "dynamic", "batching strategy: dynamic or static")
	benchCmd.Flags().DurationVar(&benchLatency, "stage-latency", time.Millisecond, "simulated per-batch processing time")
	rootCmd.AddCommand(benchCmd)
}

var (
	benchRequests    int
	benchConcurrency int
	benchBatchSize   int
	benchStrategy    string
	benchLatency     time.Duration
)

var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "Drive synthetic load through the scheduler and report batching/latency stats",
	Long: `bench loads a single synthetic echo model, fires a configurable number of
single-item requests from a pool of concurrent callers, and reports
end-to-end latency percentiles along with the batch sizes the cache
actually assembled.`,
	RunE: runBench,
}

// echoStage simulates a model by sleeping for a configured duration (to
// stand in for real predict work) and returning its input unchanged,
// recording the batch size it was called with.
type echoStage struct {
	latency time.Duration
	mu      *sync.Mutex
	batches *[]int
}

func (e *echoStage) Init(stage.Params) error { return nil }

func (e *echoStage) Process(ctx context.Context, in []membuf.ModelIO) ([]membuf.ModelIO, []domain.Status, error) {
	time.Sleep(e.latency)

	e.mu.Lock()
	*e.batches = append(*e.batches, len(in))
	e.mu.Unlock()

	statuses := make([]domain.Status, len(in))
	for i := range statuses {
		statuses[i] = domain.StatusSuccess
	}
	return in, statuses, nil
}

func (e *echoStage) Fork() stage.Stage { return e }

func runBench(cmd *cobra.Command, args []string) error {
	strategy := domain.Dynamic
	if benchStrategy == "static" {
		strategy = domain.Static
	}

	var mu sync.Mutex
	var batches []int

	srv := server.New(benchConcurrency)
	err := srv.LoadModel("bench", server.LoadConfig{
		Info: domain.ModelInfo{
			Name:        "bench",
			InputShape:  []domain.Shape{{1, 1}},
			OutputShape: []domain.Shape{{1, 1}},
			Strategy:    strategy,
			BatchSize:   benchBatchSize,
		},
		Stages: []engine.NamedStage{
			{Name: "echo", Stage: &echoStage{latency: benchLatency, mu: &mu, batches: &batches}},
		},
		EngineNum:    2,
		EngineDepth:  benchConcurrency,
		BatchTimeout: 5 * time.Millisecond,
	})
	if err != nil {
		return fmt.Errorf("bench: load model: %w", err)
	}
	defer srv.ClearModelCache()

	sessionID, err := srv.CreateSession("bench", nil)
	if err != nil {
		return fmt.Errorf("bench: create session: %w", err)
	}
	defer srv.DestroySession(sessionID, 5*time.Second)

	ctx := context.Background()
	latencies := make([]time.Duration, benchRequests)

	jobs := make(chan int, benchRequests)
	for i := 0; i < benchRequests; i++ {
		jobs <- i
	}
	close(jobs)

	var wg sync.WaitGroup
	for w := 0; w < benchConcurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				buf := membuf.NewBuffer(1, membuf.Host, 0)
				ios := []membuf.ModelIO{{
					Buffers: []*membuf.Buffer{buf},
					Shapes:  []domain.Shape{{1, 1}},
				}}

				start := time.Now()
				out, _, err := srv.RequestSync(ctx, sessionID, 0, ios)
				latencies[i] = time.Since(start)
				if err == nil {
					for _, o := range out {
						o.Release()
					}
				}
			}
		}()
	}
	wg.Wait()

	printReport(latencies, batches)
	return nil
}

func printReport(latencies []time.Duration, batches []int) {
	sorted := append([]time.Duration(nil), latencies...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	pct := func(p float64) time.Duration {
		if len(sorted) == 0 {
			return 0
		}
		idx := int(float64(len(sorted)-1) * p)
		return sorted[idx]
	}

	var batchSum int
	maxBatch := 0
	for _, b := range batches {
		batchSum += b
		if b > maxBatch {
			maxBatch = b
		}
	}
	avgBatch := 0.0
	if len(batches) > 0 {
		avgBatch = float64(batchSum) / float64(len(batches))
	}

	fmt.Printf("requests:     %d\n", len(latencies))
	fmt.Printf("batches run:  %d\n", len(batches))
	fmt.Printf("avg batch:    %.2f (max %d)\n", avgBatch, maxBatch)
	fmt.Printf("latency p50:  %s\n", pct(0.50))
	fmt.Printf("latency p90:  %s\n", pct(0.90))
	fmt.Printf("latency p99:  %s\n", pct(0.99))
}
