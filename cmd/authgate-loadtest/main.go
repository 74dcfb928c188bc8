// Command authgate-loadtest drives quota checks and session refreshes
// against Redis (or an embedded miniredis) and prints latency percentiles.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/travelmate/authgate"
	"golang.org/x/crypto/bcrypt"
)

const loadPassword = "load-test-password"

func main() {
	var (
		principals  = flag.Int("principals", 2000, "number of principals to log in before the run")
		concurrency = flag.Int("concurrency", 128, "number of concurrent workers")
		ops         = flag.Int("ops", 100000, "operations per phase")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
		prefix      = flag.String("prefix", "authgate-load", "redis key prefix")
	)
	flag.Parse()

	if *principals <= 0 || *concurrency <= 0 || *ops <= 0 {
		fmt.Fprintln(os.Stderr, "principals, concurrency, and ops must be > 0")
		os.Exit(2)
	}

	client, cleanup, err := connect(*redisAddr)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer cleanup()

	hash, err := bcrypt.GenerateFromPassword([]byte(loadPassword), bcrypt.MinCost)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	dir := authgate.NewMemoryPrincipals()
	emails := make([]string, *principals)
	for i := range emails {
		emails[i] = fmt.Sprintf("traveler-%d@load.test", i)
		dir.Put(authgate.Principal{ID: uuid.NewString(), Email: emails[i], Name: "Traveler", PasswordHash: string(hash)})
	}

	cfg := authgate.DefaultConfig()
	cfg.JWT.PrivateKey = []byte(uuid.NewString() + uuid.NewString())
	cfg.KeyPrefix = *prefix
	cfg.Audit.Enabled = false
	engine, err := authgate.New().
		WithConfig(cfg).
		WithRedis(client).
		WithPrincipalProvider(dir).
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))).
		Build()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer engine.Close()

	ctx := context.Background()
	fmt.Printf("logging in %d principals...\n", *principals)
	startSeed := time.Now()
	secrets := make([]string, *principals)
	for i, email := range emails {
		res, err := engine.Login(ctx, authgate.LoginRequest{
			Credential: email,
			Password:   loadPassword,
			DeviceID:   "load",
			OriginIP:   fmt.Sprintf("10.%d.%d.%d", i>>16&0xff, i>>8&0xff, i&0xff),
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "login failed: %v\n", err)
			os.Exit(1)
		}
		secrets[i] = res.RefreshToken
	}
	fmt.Printf("seeded in %s\n", time.Since(startSeed).Round(time.Millisecond))

	quotaStats := runPhase(*ops, *concurrency, func(r *rand.Rand) error {
		ip := fmt.Sprintf("192.0.2.%d", r.Intn(256))
		return engine.ConsumeQuota(ctx, authgate.ScopeIP, ip)
	})
	refreshStats := runPhase(*ops, *concurrency, func(r *rand.Rand) error {
		_, err := engine.Refresh(ctx, secrets[r.Intn(len(secrets))])
		return err
	})

	fmt.Println("---- results ----")
	printStats("quota", quotaStats)
	printStats("refresh", refreshStats)
}

func connect(addr string) (redis.UniversalClient, func(), error) {
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}
	if addr != "" {
		client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		fmt.Printf("using redis at %s\n", addr)
		return client, func() { _ = client.Close() }, nil
	}
	mr, err := miniredis.Run()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to start miniredis: %w", err)
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})
	fmt.Printf("using miniredis at %s\n", mr.Addr())
	return client, func() {
		_ = client.Close()
		mr.Close()
	}, nil
}

type phaseStats struct {
	total    time.Duration
	ops      int
	denied   int64
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
}

// runPhase calls op ops times across concurrency workers. Rate-limit and
// throttle rejections are counted as denials, anything else as a failure.
func runPhase(ops, concurrency int, op func(r *rand.Rand) error) phaseStats {
	var (
		wg       sync.WaitGroup
		cursor   atomic.Int64
		denied   atomic.Int64
		failures atomic.Int64
		mu       sync.Mutex
		samples  = make([]time.Duration, 0, ops)
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*7919))
			local := make([]time.Duration, 0, ops/concurrency+1)
			for cursor.Add(1) <= int64(ops) {
				t0 := time.Now()
				err := op(r)
				local = append(local, time.Since(t0))
				switch {
				case err == nil:
				case errors.Is(err, authgate.ErrRateLimitExceeded), errors.Is(err, authgate.ErrTooManyAttempts):
					denied.Add(1)
				default:
					failures.Add(1)
				}
			}
			mu.Lock()
			samples = append(samples, local...)
			mu.Unlock()
		}(w)
	}
	wg.Wait()

	st := phaseStats{total: time.Since(start), ops: len(samples), denied: denied.Load(), failures: failures.Load()}
	if len(samples) == 0 {
		return st
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	st.p50 = samples[(len(samples)-1)*50/100]
	st.p95 = samples[(len(samples)-1)*95/100]
	st.p99 = samples[(len(samples)-1)*99/100]
	return st
}

func printStats(name string, s phaseStats) {
	var rate float64
	if s.total > 0 {
		rate = float64(s.ops) / s.total.Seconds()
	}
	fmt.Printf("%s: ops=%d denied=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.denied,
		s.failures,
		s.total.Round(time.Millisecond),
		rate,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}
