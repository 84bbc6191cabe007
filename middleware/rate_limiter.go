package middleware

import (
	"math"
	"strconv"
	"sync"
	"time"

	"gotmail/config"
	"gotmail/metrics"
	"gotmail/utils"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/time/rate"
)

// idleClientTTL is how long a client's limiter survives without requests
const idleClientTTL = 10 * time.Minute

type limitedClient struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// clientLimiters holds one token bucket per client IP
type clientLimiters struct {
	mu      sync.Mutex
	clients map[string]*limitedClient
	every   rate.Limit
	burst   int
}

func newClientLimiters(cfg config.RateLimitConfig) *clientLimiters {
	requests := cfg.Requests
	if requests <= 0 {
		requests = 1
	}
	return &clientLimiters{
		clients: make(map[string]*limitedClient),
		every:   rate.Every(cfg.Window.Duration / time.Duration(requests)),
		burst:   requests,
	}
}

func (l *clientLimiters) get(ip string, now time.Time) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	cl, ok := l.clients[ip]
	if !ok {
		cl = &limitedClient{limiter: rate.NewLimiter(l.every, l.burst)}
		l.clients[ip] = cl
	}
	cl.lastSeen = now
	return cl.limiter
}

func (l *clientLimiters) sweep(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for ip, cl := range l.clients {
		if now.Sub(cl.lastSeen) > idleClientTTL {
			delete(l.clients, ip)
		}
	}
}

// RateLimiter allows cfg.Requests per cfg.Window for every client IP and
// answers 429 with a Retry-After header beyond that. Idle clients are swept
// until stop is closed.
func RateLimiter(cfg config.RateLimitConfig, stop <-chan struct{}) fiber.Handler {
	limiters := newClientLimiters(cfg)

	go func() {
		ticker := time.NewTicker(idleClientTTL / 2)
		defer ticker.Stop()
		for {
			select {
			case now := <-ticker.C:
				limiters.sweep(now)
			case <-stop:
				return
			}
		}
	}()

	return func(c *fiber.Ctx) error {
		now := time.Now()
		reservation := limiters.get(c.IP(), now).ReserveN(now, 1)

		if delay := reservation.DelayFrom(now); delay > 0 {
			reservation.CancelAt(now)
			metrics.RateLimited.Inc()
			utils.Log.Debug("Rate limited %s on %s %s", c.IP(), c.Method(), c.Path())

			c.Set(fiber.HeaderRetryAfter, strconv.Itoa(int(math.Ceil(delay.Seconds()))))
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "Rate limit exceeded. Please try again later.",
			})
		}

		return c.Next()
	}
}
