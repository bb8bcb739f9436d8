package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"

	"github.com/hyle-labs/go-mpsc/internal/queue"
	"github.com/hyle-labs/go-mpsc/internal/testbench"
	"github.com/hyle-labs/go-mpsc/pkg/chanq"
	"github.com/hyle-labs/go-mpsc/pkg/config"
	"github.com/hyle-labs/go-mpsc/pkg/mpsc"
)

// BenchmarkResult holds results for one test run.
type BenchmarkResult struct {
	Implementation      string  `json:"implementation"`
	NumProducers        int     `json:"num_producers"`
	QueueCapacity       uint64  `json:"queue_capacity"`
	NumMessages         int64   `json:"num_messages"`          // produced count
	NumMessagesConsumed int64   `json:"num_messages_consumed"` // consumed count
	TestDuration        string  `json:"test_duration"`         // e.g. "5s"
	ActualElapsed       string  `json:"actual_elapsed"`        // measured time
	Throughput          float64 `json:"throughput_msgs_sec"`   // based on consumed count
	Timestamp           int64   `json:"timestamp"`
	GoVersion           string  `json:"go_version"`
}

// SystemInfo holds system information.
type SystemInfo struct {
	NumCPU      int     `json:"num_cpu"`
	CPUModel    string  `json:"cpu_model,omitempty"`
	CPUSpeedMHz float64 `json:"cpu_speed_mhz,omitempty"`
	GOARCH      string  `json:"go_arch"`
	TotalMemory uint64  `json:"total_memory_bytes,omitempty"`
}

// FullReport represents a complete test session.
type FullReport struct {
	SessionTime string            `json:"session_time"`
	SystemInfo  SystemInfo        `json:"system_info"`
	Benchmarks  []BenchmarkResult `json:"benchmarks"`
}

// Implementation represents a queue implementation under test.
type Implementation[T any, Q queue.TryQueue[T]] struct {
	name        string
	description string
	pkgName     string
	features    []string
	newQueue    func(capacity uint64) Q
}

type testQueue = queue.TryQueue[int]

// getImplementations enumerates the queue implementations under test.
func getImplementations() []Implementation[int, testQueue] {
	return []Implementation[int, testQueue]{
		{
			name:        "LockFreeMPSC",
			pkgName:     "mpsc",
			description: "Bounded lock-free multi-producer/single-consumer ring queue with padded indices.",
			features:    []string{"MPSC", "FIFO", "Lock-Free", "Peek"},
			newQueue: func(capacity uint64) testQueue {
				return mpsc.New[int](int(capacity))
			},
		},
		{
			name:        "Buffered Channel",
			pkgName:     "chanq",
			description: "Baseline built on a standard buffered channel with non-blocking try semantics.",
			features:    []string{"MPSC", "FIFO", "Peek"},
			newQueue: func(capacity uint64) testQueue {
				return chanq.New[int](capacity)
			},
		},
	}
}

// outputMarkdownTable loads the JSON file and outputs a Markdown table of the
// last session, sorted by throughput.
func outputMarkdownTable(jsonFile string) error {
	data, err := os.ReadFile(jsonFile)
	if err != nil {
		return errors.Wrapf(err, "reading JSON file %q", jsonFile)
	}
	var sessions []FullReport
	if err := json.Unmarshal(data, &sessions); err != nil {
		return errors.Wrap(err, "unmarshalling JSON")
	}
	if len(sessions) == 0 {
		return errors.New("no sessions found in JSON")
	}
	lastSession := sessions[len(sessions)-1]

	implMetaMap := make(map[string]Implementation[int, testQueue])
	for _, impl := range getImplementations() {
		implMetaMap[impl.name] = impl
	}

	type tableRow struct {
		implementation string
		pkgName        string
		features       string
		producers      int
		throughput     float64
	}
	var rows []tableRow
	for _, bench := range lastSession.Benchmarks {
		meta := implMetaMap[bench.Implementation]
		rows = append(rows, tableRow{
			implementation: bench.Implementation,
			pkgName:        meta.pkgName,
			features:       strings.Join(meta.features, ", "),
			producers:      bench.NumProducers,
			throughput:     bench.Throughput,
		})
	}
	sort.Slice(rows, func(i, j int) bool {
		return rows[i].throughput > rows[j].throughput
	})

	fmt.Println("## Last Session Benchmark Summary")
	fmt.Println()
	fmt.Println("| Implementation   | Package | Features                    | Producers | Throughput (msgs/sec) |")
	fmt.Println("|------------------|---------|-----------------------------|-----------|-----------------------|")
	for _, r := range rows {
		fmt.Printf("| %-16s | %-7s | %-27s | %9d | %21.0f |\n",
			r.implementation, r.pkgName, r.features, r.producers, r.throughput)
	}
	return nil
}

func main() {
	iterFlag := flag.Int("iter", 0, "Override the number of iterations per producer-count setting")
	configFile := flag.String("config", "", "Path to a YAML benchmark configuration file")
	jsonExport := flag.Bool("json", false, "Append results as JSON to the configured results file")
	markdownTable := flag.Bool("markdown-table", false, "Output markdown table from the results file and exit")
	jsonFileForMarkdown := flag.String("jsonfile", "test-results.json", "Path to JSON file for markdown table")
	progressFlag := flag.Bool("progress", false, "Display a progress bar")
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if *markdownTable {
		if err := outputMarkdownTable(*jsonFileForMarkdown); err != nil {
			logger.Fatal("markdown table failed", zap.Error(err))
		}
		return
	}

	cfg := config.Default()
	if *configFile != "" {
		cfg, err = config.Load(*configFile)
		if err != nil {
			logger.Fatal("loading config failed", zap.Error(err))
		}
	}
	if *iterFlag > 0 {
		cfg.Iterations = *iterFlag
	}
	testDuration := time.Duration(cfg.RunDuration)

	sysInfo := gatherSystemInfo()
	logger.Info("starting benchmark session",
		zap.Ints("producer_counts", cfg.ProducerCounts),
		zap.Uint64("queue_capacity", cfg.QueueCapacity),
		zap.Duration("run_duration", testDuration),
		zap.Int("iterations", cfg.Iterations),
		zap.Int("num_cpu", sysInfo.NumCPU),
		zap.String("cpu_model", sysInfo.CPUModel),
	)

	impls := getImplementations()
	totalTests := len(cfg.ProducerCounts) * cfg.Iterations * len(impls)

	var bar *progressbar.ProgressBar
	if *progressFlag {
		bar = progressbar.NewOptions(totalTests,
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionSetDescription("benchmarking"),
			progressbar.OptionShowCount(),
			progressbar.OptionSetPredictTime(true),
		)
	}

	var results []BenchmarkResult
	for _, numProducers := range cfg.ProducerCounts {
		fmt.Printf("\n[Concurrency: producers=%d, consumers=1]\n", numProducers)
		for iteration := 1; iteration <= cfg.Iterations; iteration++ {
			fmt.Printf("  iteration %d/%d\n", iteration, cfg.Iterations)
			for _, impl := range impls {
				runtime.GC()
				q := impl.newQueue(cfg.QueueCapacity)
				time.Sleep(250 * time.Millisecond)

				produced, consumed, actualTime := testbench.RunTimedTest(
					q,
					testbench.Config{NumProducers: numProducers},
					testDuration,
					func(i int) *int {
						v := i
						return &v
					},
				)
				throughput := float64(consumed) / actualTime.Seconds()

				fmt.Printf("  %s => produced=%d, consumed=%d, throughput=%.0f msg/s, took=%v\n",
					impl.name, produced, consumed, throughput, actualTime)
				if produced != consumed {
					logger.Warn("produced/consumed mismatch",
						zap.String("implementation", impl.name),
						zap.Int64("produced", produced),
						zap.Int64("consumed", consumed),
					)
				}

				results = append(results, BenchmarkResult{
					Implementation:      impl.name,
					NumProducers:        numProducers,
					QueueCapacity:       cfg.QueueCapacity,
					NumMessages:         produced,
					NumMessagesConsumed: consumed,
					TestDuration:        testDuration.String(),
					ActualElapsed:       actualTime.String(),
					Throughput:          throughput,
					Timestamp:           time.Now().Unix(),
					GoVersion:           runtime.Version(),
				})

				if bar != nil {
					bar.Add(1)
				}
			}
		}
	}
	if bar != nil {
		fmt.Fprintln(os.Stderr)
	}

	session := FullReport{
		SessionTime: time.Now().Format(time.RFC3339),
		SystemInfo:  sysInfo,
		Benchmarks:  results,
	}

	if *jsonExport {
		if err := appendSession(cfg.ResultsFile, session); err != nil {
			logger.Fatal("writing results failed", zap.Error(err))
		}
		fmt.Printf("\nWrote results to %s\n", cfg.ResultsFile)
	}
}

// appendSession appends the session to the JSON results file, keeping any
// sessions already recorded there.
func appendSession(filename string, session FullReport) error {
	var previous []FullReport
	if data, err := os.ReadFile(filename); err == nil && len(data) > 0 {
		if err := json.Unmarshal(data, &previous); err != nil {
			return errors.Wrapf(err, "parsing existing results file %q", filename)
		}
	}
	updated := append(previous, session)
	data, err := json.MarshalIndent(updated, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshalling results")
	}
	if err := os.WriteFile(filename, data, 0644); err != nil {
		return errors.Wrapf(err, "writing results file %q", filename)
	}
	return nil
}

// gatherSystemInfo collects basic CPU and memory details.
func gatherSystemInfo() SystemInfo {
	numCPU := runtime.NumCPU()
	goArch := runtime.GOARCH

	var cpuModel string
	var cpuSpeed float64
	if infos, err := cpu.Info(); err == nil && len(infos) > 0 {
		cpuModel = infos[0].ModelName
		cpuSpeed = infos[0].Mhz
	}

	var totalMemory uint64
	if vm, err := mem.VirtualMemory(); err == nil {
		totalMemory = vm.Total
	}

	return SystemInfo{
		NumCPU:      numCPU,
		CPUModel:    cpuModel,
		CPUSpeedMHz: cpuSpeed,
		GOARCH:      goArch,
		TotalMemory: totalMemory,
	}
}
