package middleware

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/askibill/askibill/internal/handlers/render"
)

const (
	defaultRPM        = 10
	gcThreshold       = 1000
	defaultMaxClients = 10000
	clientIdleTime    = 10 * time.Minute
)

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Per client IP token bucket limiter
// Bucket refills at rpm per minute and holds up to rpm requests
// At most maxClients buckets are kept, the least recently seen one is dropped first
type RateLimiter struct {
	rpm        int
	maxClients int
	mu         sync.Mutex
	clients    map[string]*clientLimiter
}

func NewRateLimiter(rpm int) *RateLimiter {
	if rpm <= 0 {
		rpm = defaultRPM
	}

	return &RateLimiter{
		rpm:        rpm,
		maxClients: defaultMaxClients,
		clients:    map[string]*clientLimiter{},
	}
}

func (m *RateLimiter) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		limiter := m.getLimiter(ClientIP(r))

		reservation := limiter.Reserve()
		if delay := reservation.Delay(); delay > 0 {
			reservation.Cancel()

			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(delay.Seconds()))))
			render.ServiceError(w, "Too many requests", http.StatusTooManyRequests)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (m *RateLimiter) getLimiter(clientIP string) *rate.Limiter {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	if client, exists := m.clients[clientIP]; exists {
		client.lastSeen = now
		return client.limiter
	}

	m.gcLocked(now)

	created := &clientLimiter{
		limiter:  rate.NewLimiter(rate.Every(time.Minute/time.Duration(m.rpm)), m.rpm),
		lastSeen: now,
	}
	m.clients[clientIP] = created

	return created.limiter
}

// Make room for one more client: forget idle ones once the map grows large
// and evict the least recently seen while still at the cap
func (m *RateLimiter) gcLocked(now time.Time) {
	if len(m.clients) >= gcThreshold {
		cutoff := now.Add(-clientIdleTime)
		for ip, client := range m.clients {
			if client.lastSeen.Before(cutoff) {
				delete(m.clients, ip)
			}
		}
	}

	for m.maxClients > 0 && len(m.clients) >= m.maxClients {
		var oldestIP string
		var oldest time.Time
		for ip, client := range m.clients {
			if oldestIP == "" || client.lastSeen.Before(oldest) {
				oldestIP, oldest = ip, client.lastSeen
			}
		}
		delete(m.clients, oldestIP)
	}
}

// Peer address of the request. Behind trusted proxies RealIP has placed the forwarded client here
// Forwarding headers are never read, so clients can't choose their own address
func ClientIP(r *http.Request) string {
	remote := strings.TrimSpace(r.RemoteAddr)
	if remote == "" {
		return "unknown"
	}

	if host, _, err := net.SplitHostPort(remote); err == nil && host != "" {
		return host
	}

	return remote
}
