package discord

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/odysseia/protect/src/logging"
	"github.com/odysseia/protect/src/oops"
	"github.com/odysseia/protect/src/utils"
	"github.com/rs/zerolog"
)

// rateLimiter follows Discord's per-route buckets. Routes learn their bucket
// from the first response; after that, each request takes a token from the
// bucket's channel, and a refiller goroutine tops the channel up whenever the
// bucket resets.
type rateLimiter struct {
	log zerolog.Logger

	buckets     sync.Map // route name -> bucket name
	limiters    sync.Map // bucket name -> *bucketLimiter
	limiterInit sync.Mutex

	// Unix nanos until which every request waits, set on a global 429.
	globalResetAt atomic.Int64
}

type bucketLimiter struct {
	requests chan struct{}
	refills  chan bucketRefill
}

type bucketRefill struct {
	resetAfter  time.Duration
	maxRequests int
}

const bucketCapacity = 1000

func newRateLimiter() *rateLimiter {
	return &rateLimiter{
		log: logging.GlobalLogger().With().
			Str("module", "discord").
			Str("discord actor", "rate limiter").
			Logger(),
	}
}

type rateLimitHeaders struct {
	Bucket     string
	Limit      int
	Remaining  int
	ResetAfter time.Duration
}

// parseRateLimitHeaders reads the X-RateLimit-* headers. It fails if the
// response has no bucket or a header is malformed.
func parseRateLimitHeaders(header http.Header) (rateLimitHeaders, error) {
	h := rateLimitHeaders{Bucket: header.Get("X-RateLimit-Bucket")}
	if h.Bucket == "" {
		return h, oops.New(nil, "response has no rate limit bucket")
	}

	if limitStr := header.Get("X-RateLimit-Limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil {
			return h, oops.New(err, "bad X-RateLimit-Limit header %q", limitStr)
		}
		h.Limit = limit
	}

	if remainingStr := header.Get("X-RateLimit-Remaining"); remainingStr != "" {
		remaining, err := strconv.Atoi(remainingStr)
		if err != nil {
			return h, oops.New(err, "bad X-RateLimit-Remaining header %q", remainingStr)
		}
		h.Remaining = remaining
	}

	if resetAfterStr := header.Get("X-RateLimit-Reset-After"); resetAfterStr != "" {
		seconds, err := strconv.ParseFloat(resetAfterStr, 64)
		if err != nil {
			return h, oops.New(err, "bad X-RateLimit-Reset-After header %q", resetAfterStr)
		}
		h.ResetAfter = time.Duration(math.Ceil(seconds)) * time.Second
	}

	return h, nil
}

// parseRetryAfter reads the Retry-After header, which Discord sends in
// (possibly fractional) seconds.
func parseRetryAfter(header http.Header) (time.Duration, bool) {
	seconds, err := strconv.ParseFloat(header.Get("Retry-After"), 64)
	if err != nil || seconds < 0 {
		return 0, false
	}
	return time.Duration(seconds * float64(time.Second)), true
}

func (rl *rateLimiter) limiterFor(routeName string) (string, *bucketLimiter) {
	ibucket, ok := rl.buckets.Load(routeName)
	if !ok {
		return "", nil
	}
	bucket := ibucket.(string)
	ilimiter, ok := rl.limiters.Load(bucket)
	if !ok {
		return bucket, nil
	}
	return bucket, ilimiter.(*bucketLimiter)
}

func (rl *rateLimiter) createLimiter(headers rateLimitHeaders, routeName string) {
	rl.limiterInit.Lock()
	defer rl.limiterInit.Unlock()

	rl.buckets.Store(routeName, headers.Bucket)
	ilimiter, loaded := rl.limiters.LoadOrStore(headers.Bucket, &bucketLimiter{
		requests: make(chan struct{}, bucketCapacity),
		refills:  make(chan bucketRefill),
	})
	if loaded {
		return
	}

	limiter := ilimiter.(*bucketLimiter)
	log := rl.log.With().Str("bucket", headers.Bucket).Logger()

	limiter.fill(headers.Remaining, log)

	go func() {
		for {
			// Sleep from the first request after a refill until the bucket resets.
			refill := <-limiter.refills
			time.Sleep(refill.resetAfter)
			limiter.drain()
			limiter.fill(refill.maxRequests, log)
		}
	}()

	limiter.refills <- bucketRefill{
		resetAfter:  headers.ResetAfter,
		maxRequests: headers.Limit,
	}
}

func (l *bucketLimiter) fill(n int, log zerolog.Logger) {
	for i := 0; i < n; i++ {
		select {
		case l.requests <- struct{}{}:
		default:
			log.Warn().Int("requests", n).Msg("rate limit bucket is larger than its channel")
			return
		}
	}
}

func (l *bucketLimiter) drain() {
	for {
		select {
		case <-l.requests:
		default:
			return
		}
	}
}

// update tells the refiller when the bucket resets. If it is already
// sleeping toward a reset this does nothing.
func (l *bucketLimiter) update(headers rateLimitHeaders) {
	select {
	case l.refills <- bucketRefill{resetAfter: headers.ResetAfter, maxRequests: headers.Limit}:
	default:
	}
}

func (rl *rateLimiter) waitGlobal(ctx context.Context) error {
	resetAt := time.Unix(0, rl.globalResetAt.Load())
	if wait := time.Until(resetAt); wait > 0 {
		return utils.SleepContext(ctx, wait)
	}
	return nil
}

// do sends the request built by getReq, waiting on the route's bucket first
// and retrying after a 429. getReq is called once per attempt.
func (rl *rateLimiter) do(ctx context.Context, client *http.Client, routeName string, getReq func(ctx context.Context) (*http.Request, error)) (*http.Response, error) {
	for {
		bucket, limiter := rl.limiterFor(routeName)

		if err := rl.waitGlobal(ctx); err != nil {
			return nil, err
		}

		if limiter != nil {
			select {
			case <-limiter.requests:
			case <-ctx.Done():
				return nil, oops.New(ctx.Err(), "request interrupted during rate limiting")
			}
		}

		req, err := getReq(ctx)
		if err != nil {
			return nil, err
		}
		res, err := client.Do(req)
		if err != nil {
			return nil, err
		}

		headers, headersErr := parseRateLimitHeaders(res.Header)
		if headersErr == nil {
			if limiter == nil || headers.Bucket != bucket {
				rl.createLimiter(headers, routeName)
			} else {
				limiter.update(headers)
			}
		}

		if res.StatusCode != http.StatusTooManyRequests {
			return res, nil
		}
		res.Body.Close()

		logger := logging.ExtractLogger(ctx)
		retryAfter, retryOk := parseRetryAfter(res.Header)
		if res.Header.Get("X-RateLimit-Global") != "" {
			logger.Warn().Str("route", routeName).Msg("got globally rate limited by Discord")
			if !retryOk {
				retryAfter = 60 * time.Second
			}
			rl.globalResetAt.Store(time.Now().Add(retryAfter).UnixNano())
			continue
		}

		logger.Warn().Str("route", routeName).Msg("got rate limited by Discord")
		wait := time.Second
		if retryOk {
			wait = retryAfter
		} else if headersErr == nil {
			wait = headers.ResetAfter
		}
		if err := utils.SleepContext(ctx, wait); err != nil {
			return nil, err
		}
	}
}
