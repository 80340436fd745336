package telemetry

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

var defaultRegistry = newRegistry()

type registry struct {
	mu                  sync.Mutex
	toolCalls           map[string]map[string]int64
	toolDurationBuckets map[string][]int64
	apiCalls            map[string]map[int]int64
	apiErrors           map[string]map[int]int64
	apiRetries          int64
	authEvents          map[string]int64
	rateLimitLimit      int64
	rateLimitRemaining  int64
	rateLimitReset      int64
	rateLimitKnown      bool
}

func newRegistry() *registry {
	return &registry{
		toolCalls:           make(map[string]map[string]int64),
		toolDurationBuckets: make(map[string][]int64),
		apiCalls:            make(map[string]map[int]int64),
		apiErrors:           make(map[string]map[int]int64),
		authEvents:          make(map[string]int64),
	}
}

var durationBuckets = []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60}

func IncToolCall(toolName, status string) {
	defaultRegistry.mu.Lock()
	defer defaultRegistry.mu.Unlock()
	if _, ok := defaultRegistry.toolCalls[toolName]; !ok {
		defaultRegistry.toolCalls[toolName] = make(map[string]int64)
	}
	defaultRegistry.toolCalls[toolName][status]++
}

func ObserveToolDuration(toolName string, d time.Duration) {
	sec := d.Seconds()

	defaultRegistry.mu.Lock()
	defer defaultRegistry.mu.Unlock()
	if _, ok := defaultRegistry.toolDurationBuckets[toolName]; !ok {
		defaultRegistry.toolDurationBuckets[toolName] = make([]int64, len(durationBuckets)+1)
	}
	idx := len(durationBuckets)
	for i, b := range durationBuckets {
		if sec <= b {
			idx = i
			break
		}
	}
	defaultRegistry.toolDurationBuckets[toolName][idx]++
}

func IncGitHubAPICall(method string, statusCode int) {
	defaultRegistry.mu.Lock()
	defer defaultRegistry.mu.Unlock()
	if _, ok := defaultRegistry.apiCalls[method]; !ok {
		defaultRegistry.apiCalls[method] = make(map[int]int64)
	}
	defaultRegistry.apiCalls[method][statusCode]++
}

func IncGitHubAPIError(kind string, statusCode int) {
	defaultRegistry.mu.Lock()
	defer defaultRegistry.mu.Unlock()
	if _, ok := defaultRegistry.apiErrors[kind]; !ok {
		defaultRegistry.apiErrors[kind] = make(map[int]int64)
	}
	defaultRegistry.apiErrors[kind][statusCode]++
}

func AddGitHubAPIRetries(n int) {
	if n <= 0 {
		return
	}
	defaultRegistry.mu.Lock()
	defaultRegistry.apiRetries += int64(n)
	defaultRegistry.mu.Unlock()
}

func IncAuthEvent(kind string) {
	defaultRegistry.mu.Lock()
	defaultRegistry.authEvents[kind]++
	defaultRegistry.mu.Unlock()
}

func SetRateLimit(limit, remaining int, reset int64) {
	defaultRegistry.mu.Lock()
	defaultRegistry.rateLimitLimit = int64(limit)
	defaultRegistry.rateLimitRemaining = int64(remaining)
	defaultRegistry.rateLimitReset = reset
	defaultRegistry.rateLimitKnown = true
	defaultRegistry.mu.Unlock()
}

func RenderPrometheus() string {
	defaultRegistry.mu.Lock()
	defer defaultRegistry.mu.Unlock()

	var sb strings.Builder

	sb.WriteString("# TYPE ghmcp_tool_calls_total counter\n")
	for _, tool := range sortedKeys(defaultRegistry.toolCalls) {
		for _, status := range sortedKeys(defaultRegistry.toolCalls[tool]) {
			sb.WriteString(fmt.Sprintf("ghmcp_tool_calls_total{tool=\"%s\",status=\"%s\"} %d\n", tool, status, defaultRegistry.toolCalls[tool][status]))
		}
	}

	sb.WriteString("# TYPE ghmcp_tool_duration_seconds_bucket counter\n")
	bucketLabels := []string{"0.1", "0.5", "1", "2", "5", "10", "30", "60", "+Inf"}
	for _, tool := range sortedKeys(defaultRegistry.toolDurationBuckets) {
		counts := defaultRegistry.toolDurationBuckets[tool]
		for i, v := range counts {
			sb.WriteString(fmt.Sprintf("ghmcp_tool_duration_seconds_bucket{tool=\"%s\",le=\"%s\"} %d\n", tool, bucketLabels[i], v))
		}
	}

	sb.WriteString("# TYPE ghmcp_github_api_calls_total counter\n")
	writeStatusSeries(&sb, "ghmcp_github_api_calls_total", "method", defaultRegistry.apiCalls)

	sb.WriteString("# TYPE ghmcp_github_api_errors_total counter\n")
	writeStatusSeries(&sb, "ghmcp_github_api_errors_total", "kind", defaultRegistry.apiErrors)

	sb.WriteString("# TYPE ghmcp_github_api_retries_total counter\n")
	sb.WriteString(fmt.Sprintf("ghmcp_github_api_retries_total %d\n", defaultRegistry.apiRetries))

	sb.WriteString("# TYPE ghmcp_auth_events_total counter\n")
	for _, kind := range sortedKeys(defaultRegistry.authEvents) {
		sb.WriteString(fmt.Sprintf("ghmcp_auth_events_total{kind=\"%s\"} %d\n", kind, defaultRegistry.authEvents[kind]))
	}

	if defaultRegistry.rateLimitKnown {
		sb.WriteString("# TYPE ghmcp_github_rate_limit_limit gauge\n")
		sb.WriteString(fmt.Sprintf("ghmcp_github_rate_limit_limit %d\n", defaultRegistry.rateLimitLimit))
		sb.WriteString("# TYPE ghmcp_github_rate_limit_remaining gauge\n")
		sb.WriteString(fmt.Sprintf("ghmcp_github_rate_limit_remaining %d\n", defaultRegistry.rateLimitRemaining))
		sb.WriteString("# TYPE ghmcp_github_rate_limit_reset_seconds gauge\n")
		sb.WriteString(fmt.Sprintf("ghmcp_github_rate_limit_reset_seconds %d\n", defaultRegistry.rateLimitReset))
	}

	return sb.String()
}

func writeStatusSeries(sb *strings.Builder, name, label string, series map[string]map[int]int64) {
	for _, key := range sortedKeys(series) {
		statusCodes := make([]int, 0, len(series[key]))
		for sc := range series[key] {
			statusCodes = append(statusCodes, sc)
		}
		sort.Ints(statusCodes)
		for _, sc := range statusCodes {
			sb.WriteString(fmt.Sprintf("%s{%s=\"%s\",status_code=\"%d\"} %d\n", name, label, key, sc, series[key][sc]))
		}
	}
}

func sortedKeys[T any](m map[string]T) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
