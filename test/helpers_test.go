//go:build integration
// +build integration

package test

import (
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/travelmate/authgate"
	"golang.org/x/crypto/bcrypt"
)

const (
	testPassword = "correct horse"
	testEmail    = "ana@example.com"
)

var testSigningKey = []byte("integration-signing-key-0123456789")

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// cluster is a set of engines sharing one Redis, standing in for replicas.
type cluster struct {
	mr         *miniredis.Miniredis
	clock      *clock
	principals *authgate.MemoryPrincipals
}

func newCluster(t *testing.T) *cluster {
	t.Helper()
	mr := miniredis.RunT(t)
	hash, err := bcrypt.GenerateFromPassword([]byte(testPassword), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	return &cluster{
		mr:    mr,
		clock: &clock{now: time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)},
		principals: authgate.NewMemoryPrincipals(authgate.Principal{
			ID:           "p-ana",
			Email:        testEmail,
			Name:         "Ana",
			PasswordHash: string(hash),
		}),
	}
}

func (c *cluster) replica(t *testing.T, mutate func(*authgate.Config)) *authgate.Engine {
	t.Helper()
	rdb := redis.NewClient(&redis.Options{Addr: c.mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg := authgate.DefaultConfig()
	cfg.JWT.PrivateKey = testSigningKey
	cfg.Audit.Enabled = false
	if mutate != nil {
		mutate(&cfg)
	}
	e, err := authgate.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithClock(c.clock.Now).
		WithPrincipalProvider(c.principals).
		Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	t.Cleanup(e.Close)
	return e
}

func loginRequest(ip, password, device string) authgate.LoginRequest {
	return authgate.LoginRequest{
		Credential: testEmail,
		Password:   password,
		DeviceID:   device,
		OriginIP:   ip,
		UserAgent:  "integration",
	}
}
