// Command loadtest drives concurrent writers against one aggregate and
// reports throughput, conflicts and snapshot activity.
//
// Configuration is read from the environment:
//
//	N         events to write (default 5000)
//	W         concurrent writers (default 8)
//	B         report interval in events (default 500)
//	BACKEND   mem | redis | azure (default mem)
//	REDIS_URL redis server; an embedded miniredis is used when empty
//	AZURE_TABLES_CONNECTION_STRING  storage account for BACKEND=azure
//	SNAPSHOT  enable snapshots (default true)
//	SNAPSHOT_FREQUENCY  (default 100)
//	ENCRYPTION_KEY      encrypt the user's email
//	SERIALIZE run writers through es.Executor instead of racing
//	PUBLISH   publish written events to NATS JetStream (NATS_URL)
//	METRICS_ADDR        serve Prometheus metrics, e.g. :9090
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/codewandler/esrepo-go/adapters/aztables"
	"github.com/codewandler/esrepo-go/adapters/nats"
	"github.com/codewandler/esrepo-go/adapters/prometheus"
	"github.com/codewandler/esrepo-go/adapters/redis"
	"github.com/codewandler/esrepo-go/core/es"
	"github.com/codewandler/esrepo-go/ports/table"
)

// === Config ===

var (
	logLevel      = slog.LevelInfo
	N             = getEnvInt("N", 5_000)
	writers       = getEnvInt("W", 8)
	batchSize     = getEnvInt("B", 500)
	backendType   = getEnv("BACKEND", "mem")
	useSnapshot   = getEnvBool("SNAPSHOT", true)
	snapshotFreq  = getEnvInt("SNAPSHOT_FREQUENCY", es.DefaultSnapshotFrequency)
	encryptionKey = getEnv("ENCRYPTION_KEY", "")
	publish       = getEnvBool("PUBLISH", false)
	serialize     = getEnvBool("SERIALIZE", false)
	metricsAddr   = getEnv("METRICS_ADDR", "")
	tableName     = getEnv("TABLE", "loadtest")
)

func getEnvBool(key string, fallback bool) bool {
	v := getEnv(key, "")
	if v == "" {
		return fallback
	}
	if v == "1" || strings.ToLower(v) == "true" {
		return true
	}
	return false
}

func getEnv(key, fallback string) string {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	return v
}

func getEnvInt(key string, fallback int) int {
	v, err := strconv.Atoi(getEnv(key, fmt.Sprintf("%d", fallback)))
	if err != nil {
		return fallback
	}
	return v
}

func main() {
	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))

	fmt.Printf("Snapshot: %s\n", strconv.FormatBool(useSnapshot))
	fmt.Printf(" Backend: %s\n", backendType)
	fmt.Printf(" Writers: %d (serialized: %t)\n", writers, serialize)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	store, closeStore := createStore(ctx, log)
	defer closeStore()

	reg := promclient.NewRegistry()
	opts := []es.RepositoryOption{
		es.WithLogger(log),
		es.WithMetrics(prometheus.NewESMetrics(reg)),
	}
	if publish {
		p, err := nats.NewPublisher(nats.PublisherConfig{Log: log, SubjectPrefix: "esrepo.loadtest"})
		checkErr(err)
		defer p.Close()
		opts = append(opts, es.WithPublisher(p))
	}
	if metricsAddr != "" {
		go func() {
			err := http.ListenAndServe(metricsAddr, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
			log.Error("metrics server stopped", slog.Any("error", err))
		}()
	}

	repo, err := es.NewRepository(store, NewUser, es.Config{
		TableName:     tableName,
		EncryptionKey: encryptionKey,
		Snapshot: es.SnapshotConfig{
			Enabled:   useSnapshot,
			Frequency: snapshotFreq,
		},
	}, opts...)
	checkErr(err)

	// === START ===

	log.Info("==================================")
	log.Info("Starting ...")

	var (
		userID    = fmt.Sprintf("user-%d", time.Now().UnixNano())
		written   atomic.Int64
		conflicts atomic.Int64
		startAt   = time.Now()
		lastTime  atomic.Int64
	)
	lastTime.Store(startAt.UnixNano())

	u := NewUser()
	checkErr(u.Register(userID, "load@test"))
	checkErr(repo.Write(ctx, u))
	written.Add(1)

	ex := es.NewExecutor(repo)
	defer ex.Close()

	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < writers; w++ {
		g.Go(func() error {
			for {
				i := written.Load()
				if i >= int64(N) {
					return nil
				}
				if serialize {
					email := fmt.Sprintf("user@host-%d.com", i)
					if _, err := ex.Execute(gctx, userID, func(u *User) error { return u.ChangeEmail(email) }); err != nil {
						return err
					}
					if n := written.Add(1); n%int64(batchSize) == 0 {
						report(batchSize, &lastTime)
					}
					continue
				}

				u, ok, err := repo.Read(gctx, userID)
				if err != nil {
					return err
				}
				if !ok {
					return es.ErrAggregateNotFound
				}
				if err := u.ChangeEmail(fmt.Sprintf("user@host-%d.com", i)); err != nil {
					return err
				}
				err = repo.Write(gctx, u)
				if errors.Is(err, es.ErrConcurrencyConflict) {
					conflicts.Add(1)
					continue
				}
				if err != nil {
					return err
				}

				n := written.Add(1)
				if n%int64(batchSize) == 0 {
					report(batchSize, &lastTime)
				}
			}
		})
	}
	checkErr(g.Wait())

	// === stats ===
	println("")
	println("==========================================")

	took := time.Since(startAt)
	runtime.GC()

	version, err := repo.Version(ctx, userID)
	checkErr(err)

	fmt.Printf("total runtime: %.3f seconds\n", took.Seconds())
	fmt.Printf("      version: %d\n", version)
	fmt.Printf("    conflicts: %d\n", conflicts.Load())
	fmt.Printf("avg. writes/s: %d\n", int(float64(written.Load())/took.Seconds()))

	families, err := reg.Gather()
	checkErr(err)
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			switch {
			case m.GetCounter() != nil:
				fmt.Printf("%s: %.0f\n", mf.GetName(), m.GetCounter().GetValue())
			case m.GetHistogram() != nil:
				h := m.GetHistogram()
				if h.GetSampleCount() > 0 {
					fmt.Printf("%s: n=%d avg=%.4f\n", mf.GetName(), h.GetSampleCount(), h.GetSampleSum()/float64(h.GetSampleCount()))
				}
			}
		}
	}
}

func report(batch int, last *atomic.Int64) {
	mu := getMemUsage()
	n := time.Now()
	took := n.Sub(time.Unix(0, last.Swap(n.UnixNano())))
	fmt.Printf(" | %5d events | %6d ms |  %6d events/s | (%d / %d) MiB mem (sys) |\n",
		batch, took.Milliseconds(), int(float64(batch)/took.Seconds()), mu.Alloc/1024/1024, mu.Sys/1024/1024)
}

// === stats helpers ===

type MemUsage struct {
	Alloc      uint64 // bytes allocated and not yet freed (heap)
	TotalAlloc uint64 // cumulative bytes allocated
	Sys        uint64 // total bytes obtained from OS
	NumGC      uint32 // gc cycles
}

func getMemUsage() MemUsage {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return MemUsage{
		Alloc:      m.Alloc,
		TotalAlloc: m.TotalAlloc,
		Sys:        m.Sys,
		NumGC:      m.NumGC,
	}
}

// === Backends ===

func createStore(ctx context.Context, log *slog.Logger) (table.Store, func()) {
	switch backendType {
	case "redis":
		url := getEnv("REDIS_URL", "")
		if url == "" {
			mr, err := miniredis.Run()
			checkErr(err)
			url = "redis://" + mr.Addr()
			log.Info("using embedded redis", slog.String("addr", mr.Addr()))
			client, err := redis.Connect(ctx, url)
			checkErr(err)
			return redis.NewStore(client), func() { _ = client.Close(); mr.Close() }
		}
		client, err := redis.Connect(ctx, url)
		checkErr(err)
		return redis.NewStore(client), func() { _ = client.Close() }
	case "azure":
		s, err := aztables.NewStoreFromConnectionString(getEnv("AZURE_TABLES_CONNECTION_STRING", ""), nil)
		checkErr(err)
		checkErr(s.EnsureTable(ctx, tableName))
		return s, func() {}
	default:
		return table.NewMemStore(), func() {}
	}
}

// === Domain ===

type (
	User struct {
		es.AggregateRoot

		ID    string
		Email string
	}

	UserRegistered struct {
		es.EventBase
		ID    string `json:"id"`
		Email string `json:"email"`
	}

	EmailChanged struct {
		es.EventBase
		Email string `json:"email"`
	}
)

func (UserRegistered) EventType() string { return "UserRegistered" }
func (EmailChanged) EventType() string   { return "UserEmailChanged" }

func NewUser() *User {
	u := &User{}
	es.Handle(u, func(e *UserRegistered) error {
		u.ID, u.Email = e.ID, e.Email
		return nil
	})
	es.Handle(u, func(e *EmailChanged) error {
		u.Email = e.Email
		return nil
	})
	return u
}

func (u *User) GetID() string      { return u.ID }
func (u *User) GetAggType() string { return "user" }

func (u *User) Register(id, email string) error {
	return u.ApplyChange(&UserRegistered{EventBase: es.NewEventBase("email"), ID: id, Email: email})
}

func (u *User) ChangeEmail(email string) error {
	if email == "" {
		return fmt.Errorf("email is empty")
	}
	return u.ApplyChange(&EmailChanged{EventBase: es.NewEventBase("email"), Email: email})
}

var _ es.Aggregate = (*User)(nil)

// === Helpers ===

func checkErr(err error) {
	if err != nil {
		panic(err)
	}
}
