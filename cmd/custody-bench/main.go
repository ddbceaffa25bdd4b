package main

import (
	"encoding/csv"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

type WorkflowResult struct {
	Success  bool
	Rejected bool
	Latency  time.Duration
	ErrorMsg string
}

func main() {
	mode := flag.String("mode", "latency", "Benchmark mode: latency, concurrency or contention")
	chainMode := flag.String("chain", "mock", "Chain mode of the target deployment, recorded in the output")
	iterations := flag.Int("n", 100, "Number of iterations (latency mode)")
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	duration := flag.Int("duration", 30, "Test duration in seconds")
	port := flag.String("port", "5000", "Custody API port")
	timeout := flag.Duration("timeout", 30*time.Second, "HTTP client timeout")
	flag.Parse()

	recordsDir := "./records"
	os.MkdirAll(recordsDir, 0755)

	baseURL := fmt.Sprintf("http://127.0.0.1:%s", *port)
	timestamp := time.Now().Format("2006-01-02_15-04-05")

	switch *mode {
	case "latency":
		filename := filepath.Join(recordsDir, fmt.Sprintf("latency_%s_n%d_%s.csv", timestamp, *iterations, *chainMode))
		runLatency(baseURL, *timeout, *iterations, filename)
	case "concurrency":
		filename := filepath.Join(recordsDir, fmt.Sprintf("concurrency_%s_w%d_d%ds_%s.csv", timestamp, *workers, *duration, *chainMode))
		runConcurrency(baseURL, *timeout, *workers, time.Duration(*duration)*time.Second, *chainMode, filename)
	case "contention":
		runContention(baseURL, *timeout, *workers, time.Duration(*duration)*time.Second)
	default:
		fmt.Printf("Unknown mode %q\n", *mode)
		os.Exit(2)
	}
}

func runLatency(baseURL string, timeout time.Duration, iterations int, filename string) {
	file, err := os.Create(filename)
	if err != nil {
		fmt.Printf("Error creating file: %v\n", err)
		return
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()
	writer.Write([]string{"Iteration", "Step", "Latency_ms"})

	client := NewHTTPClient(baseURL, timeout)

	fmt.Println("========================================")
	fmt.Println("   LATENCY BENCHMARK")
	fmt.Println("========================================")
	fmt.Printf("Iterations: %d\n", iterations)
	fmt.Printf("API URL:    %s\n", baseURL)
	fmt.Printf("Output:     %s\n", filename)
	fmt.Println("========================================")

	successCount := 0
	failCount := 0
	for i := 0; i < iterations; i++ {
		fmt.Printf("\r[%d/%d] ", i+1, iterations)

		results, err := runWorkflow(client, fmt.Sprintf("latency-item-%d-%d", time.Now().UnixNano(), i))
		if err != nil {
			failCount++
			fmt.Printf("failed: %v\n", err)
			continue
		}
		successCount++
		for _, r := range results {
			writer.Write([]string{
				strconv.Itoa(i + 1),
				r.Step,
				strconv.FormatInt(r.Latency.Milliseconds(), 10),
			})
		}
		time.Sleep(50 * time.Millisecond)
	}

	fmt.Printf("\n\n========================================\n")
	fmt.Printf("Success: %d/%d\n", successCount, iterations)
	if failCount > 0 {
		fmt.Printf("Failed:  %d\n", failCount)
	}
	fmt.Printf("Results: %s\n", filename)
	fmt.Println("========================================")
}

// latencyStats aggregates worker results
type latencyStats struct {
	total, success, rejected, failed int64
	totalLatency                     int64
	minLatency                       int64
	maxLatency                       int64
}

func newLatencyStats() *latencyStats {
	return &latencyStats{minLatency: 1<<63 - 1}
}

func (s *latencyStats) record(result WorkflowResult) {
	atomic.AddInt64(&s.total, 1)
	switch {
	case result.Rejected:
		atomic.AddInt64(&s.rejected, 1)
	case !result.Success:
		atomic.AddInt64(&s.failed, 1)
	default:
		atomic.AddInt64(&s.success, 1)
		latencyNs := result.Latency.Nanoseconds()
		atomic.AddInt64(&s.totalLatency, latencyNs)
		for {
			old := atomic.LoadInt64(&s.minLatency)
			if latencyNs >= old || atomic.CompareAndSwapInt64(&s.minLatency, old, latencyNs) {
				break
			}
		}
		for {
			old := atomic.LoadInt64(&s.maxLatency)
			if latencyNs <= old || atomic.CompareAndSwapInt64(&s.maxLatency, old, latencyNs) {
				break
			}
		}
	}
}

func (s *latencyStats) avg() time.Duration {
	if s.success == 0 {
		return 0
	}
	return time.Duration(s.totalLatency / s.success)
}

// drive runs op on every worker until the deadline and collects the results
func drive(workers int, duration time.Duration, op func(worker, iteration int) WorkflowResult) (*latencyStats, time.Duration) {
	stats := newLatencyStats()
	stopChan := make(chan struct{})
	resultsChan := make(chan WorkflowResult, workers*10)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for n := 0; ; n++ {
				select {
				case <-stopChan:
					return
				default:
					resultsChan <- op(id, n)
				}
			}
		}(i)
	}

	var collectorWg sync.WaitGroup
	collectorWg.Add(1)
	go func() {
		defer collectorWg.Done()
		for result := range resultsChan {
			stats.record(result)
			if n := atomic.LoadInt64(&stats.total); n%10 == 0 {
				fmt.Printf("\rRequests: %d | Success: %d | Rejected: %d | Failed: %d", n, stats.success, stats.rejected, stats.failed)
			}
		}
	}()

	startTime := time.Now()
	time.Sleep(duration)
	close(stopChan)
	wg.Wait()
	close(resultsChan)
	collectorWg.Wait()
	return stats, time.Since(startTime)
}

func runConcurrency(baseURL string, timeout time.Duration, workers int, duration time.Duration, chainMode, filename string) {
	fmt.Println("========================================")
	fmt.Println("   CONCURRENCY BENCHMARK")
	fmt.Println("========================================")
	fmt.Printf("Workers:    %d\n", workers)
	fmt.Printf("Duration:   %v\n", duration)
	fmt.Printf("API URL:    %s\n", baseURL)
	fmt.Printf("Output:     %s\n", filename)
	fmt.Println("========================================")

	stats, elapsed := drive(workers, duration, func(worker, iteration int) WorkflowResult {
		client := NewHTTPClient(baseURL, timeout)
		start := time.Now()
		_, err := runWorkflow(client, fmt.Sprintf("bench-w%d-i%d-%d", worker, iteration, start.UnixNano()))
		result := WorkflowResult{Success: err == nil, Latency: time.Since(start)}
		if err != nil {
			result.ErrorMsg = err.Error()
		}
		return result
	})

	tps := float64(stats.total) / elapsed.Seconds()
	printSummary(stats, elapsed, tps)

	file, err := os.Create(filename)
	if err != nil {
		fmt.Printf("Error creating file: %v\n", err)
		return
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()
	writer.Write([]string{
		"Chain_Mode", "Workers", "Duration_s",
		"Total_Requests", "Successful", "Failed",
		"TPS", "Avg_Latency_ms", "Min_Latency_ms", "Max_Latency_ms",
	})
	writer.Write([]string{
		chainMode,
		strconv.Itoa(workers),
		strconv.Itoa(int(duration.Seconds())),
		strconv.FormatInt(stats.total, 10),
		strconv.FormatInt(stats.success, 10),
		strconv.FormatInt(stats.failed, 10),
		fmt.Sprintf("%.2f", tps),
		fmt.Sprintf("%.2f", float64(stats.avg().Milliseconds())),
		fmt.Sprintf("%.2f", float64(time.Duration(stats.minLatency).Milliseconds())),
		fmt.Sprintf("%.2f", float64(time.Duration(stats.maxLatency).Milliseconds())),
	})
	fmt.Printf("\nResults saved to: %s\n", filename)
}

// runContention hammers a single product with concurrent transfers between
// the distributor and the retailer, then checks that the resulting event log
// is a contiguous chain of custody.
func runContention(baseURL string, timeout time.Duration, workers int, duration time.Duration) {
	client := NewHTTPClient(baseURL, timeout)
	product, err := createProduct(client, fmt.Sprintf("contended-%d", time.Now().UnixNano()))
	if err != nil {
		fmt.Printf("Create product: %v\n", err)
		os.Exit(1)
	}
	if _, err := transfer(client, product.ID, manufacturerID, distributorID); err != nil {
		fmt.Printf("Initial transfer: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("========================================")
	fmt.Println("   CONTENTION BENCHMARK")
	fmt.Println("========================================")
	fmt.Printf("Product:    %d\n", product.ID)
	fmt.Printf("Workers:    %d\n", workers)
	fmt.Printf("Duration:   %v\n", duration)
	fmt.Println("========================================")

	stats, elapsed := drive(workers, duration, func(_, _ int) WorkflowResult {
		c := NewHTTPClient(baseURL, timeout)
		start := time.Now()
		current, err := getProduct(c, product.ID)
		if err != nil {
			return WorkflowResult{ErrorMsg: err.Error()}
		}
		to := retailerID
		if current.CurrentOwnerID == retailerID {
			to = distributorID
		}
		_, err = transfer(c, product.ID, current.CurrentOwnerID, to)
		result := WorkflowResult{Success: err == nil, Latency: time.Since(start)}
		var httpErr *HTTPError
		if errors.As(err, &httpErr) && httpErr.Code == "NOT_CURRENT_OWNER" {
			// lost the race to another worker
			result.Rejected = true
		} else if err != nil {
			result.ErrorMsg = err.Error()
		}
		return result
	})

	printSummary(stats, elapsed, float64(stats.success)/elapsed.Seconds())

	history, err := getHistory(client, product.ID)
	if err != nil {
		fmt.Printf("Fetch history: %v\n", err)
		os.Exit(1)
	}
	broken := 0
	for i := 1; i < len(history.DatabaseHistory); i++ {
		if history.DatabaseHistory[i].FromID != history.DatabaseHistory[i-1].ToID {
			broken++
		}
	}
	fmt.Printf("Events:            %d\n", len(history.DatabaseHistory))
	fmt.Printf("Broken links:      %d\n", broken)
	if broken > 0 {
		os.Exit(1)
	}
}

func printSummary(stats *latencyStats, elapsed time.Duration, tps float64) {
	fmt.Println("\n\n========================================")
	fmt.Println("   BENCHMARK RESULTS")
	fmt.Println("========================================")
	fmt.Printf("Total Requests:    %d\n", stats.total)
	if stats.total > 0 {
		fmt.Printf("Successful:        %d (%.2f%%)\n", stats.success, float64(stats.success)/float64(stats.total)*100)
		fmt.Printf("Rejected:          %d (%.2f%%)\n", stats.rejected, float64(stats.rejected)/float64(stats.total)*100)
		fmt.Printf("Failed:            %d (%.2f%%)\n", stats.failed, float64(stats.failed)/float64(stats.total)*100)
	}
	fmt.Printf("Duration:          %v\n", elapsed)
	fmt.Printf("Throughput (TPS):  %.2f\n", tps)
	fmt.Printf("Avg Latency:       %v\n", stats.avg())
	fmt.Printf("Min Latency:       %v\n", time.Duration(stats.minLatency))
	fmt.Printf("Max Latency:       %v\n", time.Duration(stats.maxLatency))
	fmt.Println("========================================")
}
