// Command outbox-bench measures outbox throughput against PostgreSQL.
//
// Seed mode captures synthetic order aggregates through the interceptor into
// the outbox table; drain mode runs relay poll passes until the table is
// empty, against a discarding bus by default or RabbitMQ when -amqp-url is
// given, and reports throughput and publish-latency percentiles.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/sourcegraph/conc/pool"

	"github.com/relaywire/outbox"
	"github.com/relaywire/outbox/postgres"
	"github.com/relaywire/outbox/rabbitmq"
)

const exitUsage = 2

var currencies = []string{"USD", "EUR", "GBP", "JPY"}

// Order is the synthetic aggregate used for benchmarking. The decimal amount
// keeps the payload representative of real money-moving rows.
type Order struct {
	ID       string          `json:"id"`
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
	Status   string          `json:"status"`
}

type options struct {
	dsn       string
	amqpURL   string
	exchange  string
	table     string
	mode      string
	records   int
	seeders   int
	batchSize int
	setup     bool
}

func main() {
	_ = godotenv.Load()

	var opts options
	flag.StringVar(&opts.dsn, "dsn", os.Getenv("OUTBOX_DB_DSN"), "PostgreSQL DSN")
	flag.StringVar(&opts.amqpURL, "amqp-url", "", "RabbitMQ URL (empty drains into a discarding bus)")
	flag.StringVar(&opts.exchange, "exchange", rabbitmq.DefaultExchange, "RabbitMQ topic exchange")
	flag.StringVar(&opts.table, "table", "outbox_messages", "Outbox table name")
	flag.StringVar(&opts.mode, "mode", "all", "Benchmark mode: seed, drain, or all")
	flag.IntVar(&opts.records, "records", 10000, "Number of records to seed")
	flag.IntVar(&opts.seeders, "seeders", runtime.GOMAXPROCS(0), "Concurrent seeding goroutines")
	flag.IntVar(&opts.batchSize, "batch-size", outbox.DefaultBatchSize, "Relay batch size while draining")
	flag.BoolVar(&opts.setup, "setup", false, "Create the outbox table before running")
	flag.Parse()

	if opts.dsn == "" {
		fmt.Fprintln(os.Stderr, "dsn is required")
		flag.Usage()
		os.Exit(exitUsage)
	}
	if opts.mode != "seed" && opts.mode != "drain" && opts.mode != "all" {
		fmt.Fprintf(os.Stderr, "unknown mode %q\n", opts.mode)
		flag.Usage()
		os.Exit(exitUsage)
	}

	if err := run(context.Background(), opts); err != nil {
		log.Print(err)
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options) error {
	dbpool, err := pgxpool.New(ctx, opts.dsn)
	if err != nil {
		return fmt.Errorf("open pool: %w", err)
	}
	defer dbpool.Close()

	if opts.setup {
		schema, err := postgres.Schema(opts.table)
		if err != nil {
			return fmt.Errorf("build schema: %w", err)
		}
		if _, err := dbpool.Exec(ctx, schema); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}

	store, err := postgres.NewStore(dbpool, postgres.WithTable(opts.table))
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}

	if opts.mode == "seed" || opts.mode == "all" {
		if err := seed(ctx, store, opts.records, opts.seeders); err != nil {
			return err
		}
	}
	if opts.mode == "drain" || opts.mode == "all" {
		if err := drain(ctx, store, opts); err != nil {
			return err
		}
	}

	return nil
}

// seed captures synthetic orders through the full interceptor path so the
// benchmark exercises id extraction, projection, and validation, not just
// INSERT statements.
func seed(ctx context.Context, store *postgres.Store, records, seeders int) error {
	registry := outbox.NewRegistry()
	registry.MustRegister(Order{})

	interceptor, err := outbox.NewInterceptor(outbox.InterceptorConfig{
		Registry: registry,
		Appender: store,
	})
	if err != nil {
		return fmt.Errorf("init interceptor: %w", err)
	}

	if seeders <= 0 {
		seeders = 1
	}

	start := time.Now()
	workers := pool.New().WithErrors().WithMaxGoroutines(seeders)
	for i := 0; i < records; i++ {
		order := newOrder(i)
		workers.Go(func() error {
			return interceptor.OnInsert(ctx, order)
		})
	}
	if err := workers.Wait(); err != nil {
		return fmt.Errorf("seed: %w", err)
	}

	elapsed := time.Since(start)
	fmt.Printf("seeded %d records in %s (%.0f records/s, %d seeders)\n",
		records, elapsed.Round(time.Millisecond), rate(records, elapsed), seeders)

	return nil
}

func drain(ctx context.Context, store *postgres.Store, opts options) error {
	var bus outbox.Bus = outbox.BusFunc(func(context.Context, string, string, []byte) error {
		return nil
	})
	if opts.amqpURL != "" {
		publisher, err := rabbitmq.NewPublisher(opts.amqpURL, rabbitmq.WithExchange(opts.exchange))
		if err != nil {
			return fmt.Errorf("init publisher: %w", err)
		}
		defer publisher.Close()
		bus = publisher
	}

	timed := &timingBus{next: bus}
	relay, err := outbox.NewRelay(store, timed,
		outbox.WithBatchSize(opts.batchSize),
		outbox.WithoutCleanup(),
		outbox.WithGaugeInterval(-1),
	)
	if err != nil {
		return fmt.Errorf("init relay: %w", err)
	}

	total := 0
	start := time.Now()
	for {
		processed, err := relay.ProcessOnce(ctx)
		if err != nil {
			return fmt.Errorf("drain: %w", err)
		}
		if processed == 0 {
			break
		}
		total += processed
	}
	elapsed := time.Since(start)

	latencies := timed.snapshot()
	fmt.Printf("drained %d records in %s (%.0f records/s, batch size %d)\n",
		total, elapsed.Round(time.Millisecond), rate(total, elapsed), opts.batchSize)
	if len(latencies) > 0 {
		fmt.Printf("publish latency p50=%s p95=%s p99=%s\n",
			percentile(latencies, 0.50).Round(time.Microsecond),
			percentile(latencies, 0.95).Round(time.Microsecond),
			percentile(latencies, 0.99).Round(time.Microsecond),
		)
	}

	return nil
}

func newOrder(n int) Order {
	amount := decimal.NewFromInt(int64(rand.Intn(100000))).Div(decimal.NewFromInt(100))

	return Order{
		ID:       fmt.Sprintf("order-%d", n),
		Amount:   amount,
		Currency: currencies[n%len(currencies)],
		Status:   "created",
	}
}

func rate(count int, elapsed time.Duration) float64 {
	if elapsed <= 0 {
		return 0
	}

	return float64(count) / elapsed.Seconds()
}

// timingBus records per-publish latency around the wrapped bus.
type timingBus struct {
	next outbox.Bus

	mu        sync.Mutex
	latencies []time.Duration
}

func (b *timingBus) Publish(ctx context.Context, topic, key string, value []byte) error {
	start := time.Now()
	err := b.next.Publish(ctx, topic, key, value)
	elapsed := time.Since(start)

	b.mu.Lock()
	b.latencies = append(b.latencies, elapsed)
	b.mu.Unlock()

	return err
}

func (b *timingBus) snapshot() []time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]time.Duration, len(b.latencies))
	copy(out, b.latencies)

	return out
}

// percentile returns the p-th percentile (0 < p <= 1) using the
// nearest-rank method. The input slice is not modified.
func percentile(latencies []time.Duration, p float64) time.Duration {
	if len(latencies) == 0 {
		return 0
	}

	sorted := make([]time.Duration, len(latencies))
	copy(sorted, latencies)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	rank := int(p*float64(len(sorted))+0.5) - 1
	if rank < 0 {
		rank = 0
	}
	if rank >= len(sorted) {
		rank = len(sorted) - 1
	}

	return sorted[rank]
}
