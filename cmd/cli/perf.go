package cli

import (
	"context"
	"encoding/csv"
	"fmt"
	"log"
	"math"
	"os"
	"slices"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ValentinKolb/rKV/cmd/util"
	"github.com/ValentinKolb/rKV/lib/store"
	"github.com/ValentinKolb/rKV/rpc/client"
	"github.com/ValentinKolb/rKV/rpc/common"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	perfTestCmd = &cobra.Command{
		Use:     "perf",
		Short:   "Performance testing tool for rKV servers",
		Args:    cobra.NoArgs,
		RunE:    runPerf,
		PreRunE: processPerfConfig,
	}
	perfKeyPrefix        = "__perf"
	perfLargeValueSizeKB = 100
	perfNumThreads       = 10
	perfKeySpread        = 100
	perfSkip             = make([]string, 0)
)

// benchmark names in execution order
var perfTests = []string{"set", "set-large", "get", "incr", "xadd", "xrange", "mixed"}

func init() {
	key := "skip"
	perfTestCmd.Flags().String(key, "", util.WrapString("Benchmarks to skip (comma separated - e.g. set,get)"))
	key = "threads"
	perfTestCmd.Flags().Int(key, 10, util.WrapString("Number of connections (and goroutines per CPU) to use for the benchmark"))
	key = "large-value-size"
	perfTestCmd.Flags().Int(key, 100, util.WrapString("How large the value for the set-large test should be (in KB)"))
	key = "keys"
	perfTestCmd.Flags().Int(key, 100, util.WrapString("How many different keys to use for the tests"))
	key = "csv"
	perfTestCmd.Flags().String(key, "", util.WrapString("Optional path to save benchmark results as CSV"))
}

func processPerfConfig(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	perfLargeValueSizeKB = viper.GetInt("large-value-size")
	perfKeySpread = max(viper.GetInt("keys"), 1)
	perfNumThreads = max(viper.GetInt("threads"), 1)
	perfSkip = strings.Split(viper.GetString("skip"), ",")

	return nil
}

// clientPool hands every benchmark goroutine one of a fixed set of connections
type clientPool struct {
	clients []*client.Client
	next    atomic.Uint64
}

func dialPool(ctx context.Context, config common.ClientConfig, n int) (*clientPool, error) {
	pool := &clientPool{}
	for range n {
		c, err := client.Dial(ctx, config)
		if err != nil {
			pool.Close()
			return nil, err
		}
		pool.clients = append(pool.clients, c)
	}
	return pool, nil
}

func (p *clientPool) Get() *client.Client {
	return p.clients[p.next.Add(1)%uint64(len(p.clients))]
}

func (p *clientPool) Close() {
	for _, c := range p.clients {
		_ = c.Close()
	}
}

func runPerf(cmd *cobra.Command, _ []string) error {
	config := util.GetClientConfig()

	fmt.Println("Performance testing tool for rKV servers")
	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Println(config.String())
	fmt.Printf("Threads: %d\n", perfNumThreads)
	fmt.Println()

	pool, err := dialPool(cmd.Context(), config, perfNumThreads)
	if err != nil {
		return err
	}
	defer pool.Close()

	fmt.Println("starting tests...")

	results := make(map[string]testing.BenchmarkResult)
	for _, test := range perfTests {
		result := testing.Benchmark(benchmark(pool, test))
		results[test] = result
		printResult(test, result)
	}

	if csvPath := viper.GetString("csv"); csvPath != "" {
		fmt.Printf("\nExporting results to CSV: %s\n", csvPath)
		if err := writeResultsToCSV(csvPath, results, config); err != nil {
			return fmt.Errorf("failed to export results to CSV: %v", err)
		}
		fmt.Println("Export complete")
	}
	return nil
}

// benchmark returns the benchmark function for test
func benchmark(pool *clientPool, test string) func(b *testing.B) {
	return func(b *testing.B) {
		if shouldSkip(test) {
			return
		}

		getKey, iter := getKeys(test)
		seed := pool.Get()

		var op func(c *client.Client, counter int) error
		switch test {
		case "set":
			op = func(c *client.Client, counter int) error {
				return c.Set(getKey(counter), "test", 0)
			}
		case "set-large":
			largeValue := strings.Repeat("x", perfLargeValueSizeKB*1024)
			op = func(c *client.Client, counter int) error {
				return c.Set(getKey(counter), largeValue, 0)
			}
		case "get":
			iter(func(k string) { logErr(test, seed.Set(k, "test", 0)) })
			op = func(c *client.Client, counter int) error {
				_, _, err := c.Get(getKey(counter))
				return err
			}
		case "incr":
			op = func(c *client.Client, counter int) error {
				_, err := c.Incr(getKey(counter))
				return err
			}
		case "xadd":
			fields := []store.Field{{Name: "value", Value: "test"}}
			op = func(c *client.Client, counter int) error {
				_, err := c.XAdd(getKey(counter), "*", fields)
				return err
			}
		case "xrange":
			fields := []store.Field{{Name: "value", Value: "test"}}
			iter(func(k string) {
				for range 10 {
					_, err := seed.XAdd(k, "*", fields)
					logErr(test, err)
				}
			})
			op = func(c *client.Client, counter int) error {
				_, err := c.Do("XRANGE", getKey(counter), "-", "+")
				return err
			}
		case "mixed":
			op = func(c *client.Client, counter int) error {
				key := getKey(counter)
				var err error
				switch counter % 3 {
				case 0:
					err = c.Set(key, strconv.Itoa(counter), 0)
				case 1:
					_, _, err = c.Get(key)
				case 2:
					_, err = c.Incr(key)
				}
				return err
			}
		}

		b.SetParallelism(perfNumThreads)
		b.ResetTimer()

		b.RunParallel(func(pb *testing.PB) {
			c := pool.Get()
			counter := 0
			for pb.Next() {
				logErr(test, op(c, counter))
				counter++
			}
		})
	}
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func shouldSkip(test string) bool {
	return slices.Contains(perfSkip, test)
}

func logErr(test string, err error) {
	if err != nil {
		log.Printf("(%s) - %v\n", test, err)
	}
}

// creates an array of test keys and functions to work with them
func getKeys(prefix string) (func(int) string, func(func(string))) {
	// unique per run, the server has no delete command to clean up with
	runID := time.Now().UnixNano()
	keys := make([]string, perfKeySpread)
	for i := 0; i < perfKeySpread; i++ {
		keys[i] = fmt.Sprintf("%s-%d-%s-%d", perfKeyPrefix, runID, prefix, i)
	}

	getKey := func(i int) string {
		return keys[i%perfKeySpread]
	}

	iterateKeys := func(fn func(string)) {
		for _, key := range keys {
			fn(key)
		}
	}

	return getKey, iterateKeys
}

// printResult prints the result of a benchmark test in a formatted way
func printResult(test string, result testing.BenchmarkResult) {
	if result.NsPerOp() == 0 {
		fmt.Printf("%-20sskipped\n", test)
		return
	}

	nsPerOp := math.Max(float64(result.NsPerOp()), 1)
	opsPerSec := 1.0 / (nsPerOp / 1e9)

	fmt.Printf("%-20s%.0fns/op (%s/op)\t%.0f ops/sec\n", test, nsPerOp, time.Duration(nsPerOp), opsPerSec)
}

// writeResultsToCSV writes benchmark results to a CSV file
func writeResultsToCSV(csvPath string, results map[string]testing.BenchmarkResult, config common.ClientConfig) error {
	file, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %v", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{
		"Test", "NsPerOp", "DurationPerOp", "OpsPerSec", "Skipped",
		"Endpoint", "Transport", "TimeoutSec",
		"Threads", "LargeValueSizeKB", "Keys Count",
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %v", err)
	}

	for _, test := range perfTests {
		result := results[test]
		var nsPerOp, opsPerSec float64
		skipped := "true"
		if result.NsPerOp() != 0 {
			skipped = "false"
			nsPerOp = math.Max(float64(result.NsPerOp()), 1)
			opsPerSec = 1.0 / (nsPerOp / 1e9)
		}

		row := []string{
			test,
			fmt.Sprintf("%.0f", nsPerOp),
			time.Duration(nsPerOp).String(),
			fmt.Sprintf("%.0f", opsPerSec),
			skipped,
			config.Endpoint,
			config.Transport,
			strconv.Itoa(config.TimeoutSecond),
			strconv.Itoa(perfNumThreads),
			strconv.Itoa(perfLargeValueSizeKB),
			strconv.Itoa(perfKeySpread),
		}
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write row for test %s: %v", test, err)
		}
	}
	return nil
}
