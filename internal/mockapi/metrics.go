package mockapi

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpRequestTotals = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_request_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"method", "path"},
	)

	httpRequestInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_request_in_flight",
			Help: "Current in-flight requests",
		},
	)

	sessionsSweptTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sessions_swept_total",
			Help: "Expired auth sessions removed by the background sweep",
		},
	)
)

func init() {
	prometheus.MustRegister(httpRequestTotals)
	prometheus.MustRegister(httpRequestDuration)
	prometheus.MustRegister(httpRequestInFlight)
	prometheus.MustRegister(sessionsSweptTotal)
}

// metricsMiddleware records the request counter, latency histogram and
// in-flight gauge. The route pattern keeps label cardinality bounded;
// raw URLs would explode it on path parameters.
func metricsMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			httpRequestInFlight.Inc()
			start := time.Now()

			err := next(c)

			httpRequestInFlight.Dec()
			path := c.Path()
			if path == "" {
				path = c.Request().URL.Path
			}
			method := c.Request().Method
			httpRequestDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
			httpRequestTotals.WithLabelValues(method, path, strconv.Itoa(c.Response().Status)).Inc()
			return err
		}
	}
}
