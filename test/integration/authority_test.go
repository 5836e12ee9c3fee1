// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyward Contributors

//go:build integration

package integration

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"golang.org/x/crypto/bcrypt"

	"github.com/keyward/keyward/internal/auth"
	"github.com/keyward/keyward/internal/auth/postgres"
	authredis "github.com/keyward/keyward/internal/auth/redis"
	"github.com/keyward/keyward/internal/httpapi"
	"github.com/keyward/keyward/internal/store"
)

var _ = Describe("Keyward end to end", Ordered, func() {
	var (
		ctx       context.Context
		cancel    context.CancelFunc
		container *tcpostgres.PostgresContainer
		pool      *pgxpool.Pool
		logger    *slog.Logger
	)

	BeforeAll(func() {
		ctx, cancel = context.WithTimeout(context.Background(), 3*time.Minute)
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))

		var err error
		container, err = tcpostgres.Run(ctx,
			"postgres:16-alpine",
			tcpostgres.WithDatabase("keyward_e2e"),
			tcpostgres.WithUsername("keyward"),
			tcpostgres.WithPassword("keyward"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(30*time.Second),
			),
		)
		Expect(err).NotTo(HaveOccurred())

		connStr, err := container.ConnectionString(ctx, "sslmode=disable")
		Expect(err).NotTo(HaveOccurred())

		migrator, err := store.NewMigrator(connStr)
		Expect(err).NotTo(HaveOccurred())
		Expect(migrator.Up()).To(Succeed())
		Expect(migrator.Close()).To(Succeed())

		pool, err = store.Connect(ctx, connStr, store.ConnectOptions{Logger: logger})
		Expect(err).NotTo(HaveOccurred())
	})

	AfterAll(func() {
		if pool != nil {
			pool.Close()
		}
		if container != nil {
			_ = container.Terminate(context.Background())
		}
		cancel()
	})

	BeforeEach(func() {
		_, err := pool.Exec(ctx, "TRUNCATE accounts CASCADE")
		Expect(err).NotTo(HaveOccurred())
	})

	newAPI := func(tokens auth.TokenRepository, opts ...auth.ServiceOption) *httptest.Server {
		creds, err := auth.NewCredentialService(postgres.NewAccountRepository(pool), auth.NewBcryptHasher(bcrypt.MinCost))
		Expect(err).NotTo(HaveOccurred())
		tokenSvc, err := auth.NewTokenService(tokens, auth.NewSHA512TokenGenerator(), opts...)
		Expect(err).NotTo(HaveOccurred())
		authority, err := auth.NewAuthority(creds, tokenSvc, auth.WithLogger(logger))
		Expect(err).NotTo(HaveOccurred())

		srv := httptest.NewServer(httpapi.NewServer("", authority, httpapi.WithLogger(logger)).Handler())
		DeferCleanup(srv.Close)
		return srv
	}

	post := func(url, body string) (int, []byte) {
		resp, err := http.Post(url, "application/json", strings.NewReader(body)) //nolint:noctx // test
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()
		data, err := io.ReadAll(resp.Body)
		Expect(err).NotTo(HaveOccurred())
		return resp.StatusCode, data
	}

	me := func(url, header string) int {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url+"/api/user/me", nil)
		Expect(err).NotTo(HaveOccurred())
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		resp, err := http.DefaultClient.Do(req)
		Expect(err).NotTo(HaveOccurred())
		_ = resp.Body.Close()
		return resp.StatusCode
	}

	login := func(url string) string {
		code, body := post(url+"/api/user/login", `{"email":"a@x.com","password":"pw1"}`)
		Expect(code).To(Equal(http.StatusOK))
		var resp httpapi.LoginResponse
		Expect(json.Unmarshal(body, &resp)).To(Succeed())
		Expect(resp.Token).To(MatchRegexp(`^[0-9A-F]{128}$`))
		return resp.Token
	}

	scenario := func(tokens auth.TokenRepository) {
		srv := newAPI(tokens)

		code, _ := post(srv.URL+"/api/user/register", `{"email":"a@x.com","password":"pw1"}`)
		Expect(code).To(Equal(http.StatusOK))

		code, body := post(srv.URL+"/api/user/register", `{"email":"a@x.com","password":"pw1"}`)
		Expect(code).To(Equal(http.StatusConflict))
		Expect(string(body)).To(ContainSubstring("User email a@x.com already exists!"))

		token := login(srv.URL)
		Expect(login(srv.URL)).To(Equal(token), "second login reuses the live token")

		Expect(me(srv.URL, "Bearer "+token)).To(Equal(http.StatusOK))
		Expect(me(srv.URL, "bearer "+token)).To(Equal(http.StatusOK))
		Expect(me(srv.URL, "Bearer WRONG")).To(Equal(http.StatusUnauthorized))
		Expect(me(srv.URL, "")).To(Equal(http.StatusUnauthorized))

		code, _ = post(srv.URL+"/api/user/login", `{"email":"a@x.com","password":"nope"}`)
		Expect(code).To(Equal(http.StatusUnauthorized))
	}

	It("serves the full flow with PostgreSQL tokens", func() {
		scenario(postgres.NewTokenRepository(pool, auth.TokenStoreOptions{}))
	})

	It("serves the full flow with redis tokens", func() {
		mr, err := miniredis.Run()
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(mr.Close)

		client, err := authredis.Connect(ctx, "redis://"+mr.Addr())
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(client.Close)

		scenario(authredis.NewTokenRepository(client, authredis.Options{}))
	})

	It("lets exactly one concurrent registration win", func() {
		srv := newAPI(postgres.NewTokenRepository(pool, auth.TokenStoreOptions{}))

		const n = 8
		codes := make(chan int, n)
		var wg sync.WaitGroup
		for range n {
			wg.Add(1)
			go func() {
				defer GinkgoRecover()
				defer wg.Done()
				code, _ := post(srv.URL+"/api/user/register", `{"email":"race@x.com","password":"pw1"}`)
				codes <- code
			}()
		}
		wg.Wait()
		close(codes)

		counts := map[int]int{}
		for c := range codes {
			counts[c]++
		}
		Expect(counts).To(Equal(map[int]int{http.StatusOK: 1, http.StatusConflict: n - 1}))
	})

	It("expires tokens after the TTL and sweeps them", func() {
		clock := &manualClock{now: time.Now()}
		tokens := postgres.NewTokenRepository(pool, auth.TokenStoreOptions{Now: clock.Now})
		srv := newAPI(tokens, auth.WithClock(clock.Now))

		code, _ := post(srv.URL+"/api/user/register", `{"email":"a@x.com","password":"pw1"}`)
		Expect(code).To(Equal(http.StatusOK))
		token := login(srv.URL)

		clock.Advance(auth.AccessTokenTTL + time.Second)
		Expect(me(srv.URL, "Bearer "+token)).To(Equal(http.StatusUnauthorized))

		deleted, err := auth.NewSweeper(tokens, time.Minute, logger).RunOnce(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(deleted).To(BeNumerically("==", 1))

		Expect(login(srv.URL)).NotTo(Equal(token))
	})
})

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
