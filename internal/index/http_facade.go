package index

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/edrsec/processchain/internal/cache"
	"github.com/edrsec/processchain/internal/config"
	"github.com/edrsec/processchain/internal/errors"
	"github.com/edrsec/processchain/internal/models"
	"golang.org/x/time/rate"
)

// HTTPFacade queries a real search-index backend over HTTP, rate-limited
// and cached. On timeout or transport failure it returns an empty result
// rather than propagating the error, per the facade's swallow-and-degrade
// contract.
type HTTPFacade struct {
	httpClient  *http.Client
	baseURL     string
	apiKey      string
	rateLimiter *rate.Limiter
	cache       cache.Backend
	cacheTTL    time.Duration
	logger      *slog.Logger
}

// NewHTTPFacade builds a facade against cfg.Index, optionally fronted by a
// cache backend (pass nil to disable caching).
func NewHTTPFacade(cfg config.IndexConfig, cacheBackend cache.Backend, cacheTTL time.Duration) *HTTPFacade {
	return &HTTPFacade{
		httpClient:  &http.Client{Timeout: cfg.Timeout},
		baseURL:     cfg.BaseURL,
		apiKey:      cfg.APIKey,
		rateLimiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), 1),
		cache:       cacheBackend,
		cacheTTL:    cacheTTL,
		logger:      slog.Default().With("component", "index.http"),
	}
}

type alarmQueryRequest struct {
	IPs    []string      `json:"ips"`
	Window time.Duration `json:"windowNanos"`
}

// BatchQueryAlarms fetches candidate alarms for each host IP.
func (f *HTTPFacade) BatchQueryAlarms(ctx context.Context, ips []string, window time.Duration) (map[string][]models.RawAlarm, error) {
	if len(ips) == 0 {
		return map[string][]models.RawAlarm{}, nil
	}

	result := make(map[string][]models.RawAlarm, len(ips))
	missing := make([]string, 0, len(ips))

	if f.cache != nil {
		for _, ip := range ips {
			var alarms []models.RawAlarm
			key := cache.BatchKey("alarms", ip, "")
			if found, err := f.cache.Get(ctx, key, &alarms); err == nil && found {
				result[ip] = alarms
				continue
			}
			missing = append(missing, ip)
		}
		if len(missing) == 0 {
			return result, nil
		}
	} else {
		missing = ips
	}

	var body alarmQueryRequest
	body.IPs = missing
	body.Window = window

	fetched, err := f.post(ctx, "/alarms/batch", body, func() map[string][]models.RawAlarm {
		return map[string][]models.RawAlarm{}
	})
	if err != nil {
		f.logger.Warn("alarm batch query failed, degrading to empty result", "error", err)
		for _, ip := range missing {
			result[ip] = nil
		}
		return result, nil
	}

	for ip, alarms := range fetched {
		result[ip] = alarms
		if f.cache != nil {
			_ = f.cache.Set(ctx, cache.BatchKey("alarms", ip, ""), alarms, f.cacheTTL)
		}
	}

	return result, nil
}

type logQueryRequest struct {
	HostToTraceID map[string]string `json:"hostToTraceId"`
	LogTypes      []models.LogType  `json:"logTypes"`
}

// BatchQueryLogs fetches logs for the given (host, traceId) pairs.
func (f *HTTPFacade) BatchQueryLogs(ctx context.Context, hostToTraceID map[string]string) ([]models.RawLog, error) {
	if len(hostToTraceID) == 0 {
		return nil, nil
	}

	body := logQueryRequest{
		HostToTraceID: hostToTraceID,
		LogTypes:      recognizedLogTypes(),
	}

	logs, err := f.postSlice(ctx, "/logs/batch", body)
	if err != nil {
		f.logger.Warn("log batch query failed, degrading to empty result", "error", err)
		return nil, nil
	}

	return filterRecognizedTypes(logs), nil
}

// QueryLogsByProcessGuids follows parentProcessGuid upward from the given
// guids, scoped to host, up to maxLevels.
func (f *HTTPFacade) QueryLogsByProcessGuids(ctx context.Context, host string, processGuids []string, maxLevels int) ([]models.RawLog, error) {
	if len(processGuids) == 0 {
		return nil, nil
	}

	body := map[string]interface{}{
		"host":         host,
		"processGuids": processGuids,
		"maxLevels":    maxLevels,
	}

	logs, err := f.postSlice(ctx, "/logs/extend", body)
	if err != nil {
		f.logger.Warn("extension query failed, degrading to empty result", "error", err, "host", host)
		return nil, nil
	}

	return filterRecognizedTypes(logs), nil
}

func (f *HTTPFacade) post(ctx context.Context, path string, payload interface{}, emptyFn func() map[string][]models.RawAlarm) (map[string][]models.RawAlarm, error) {
	if err := f.rateLimiter.Wait(ctx); err != nil {
		return nil, errors.NewQueryTimeoutError(err, path)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.InternalErrorf("marshal request for %s: %v", path, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, errors.NetworkError(err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")
	if f.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+f.apiKey)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, errors.NewQueryTimeoutError(err, path)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.NetworkErrorf(nil, "facade returned status %d for %s", resp.StatusCode, path)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.NetworkError(err, "read response body")
	}

	var result map[string][]models.RawAlarm
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, errors.InternalErrorf("unmarshal response from %s: %v", path, err)
	}

	return result, nil
}

func (f *HTTPFacade) postSlice(ctx context.Context, path string, payload interface{}) ([]models.RawLog, error) {
	if err := f.rateLimiter.Wait(ctx); err != nil {
		return nil, errors.NewQueryTimeoutError(err, path)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.InternalErrorf("marshal request for %s: %v", path, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, errors.NetworkError(err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")
	if f.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+f.apiKey)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, errors.NewQueryTimeoutError(err, path)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.NetworkErrorf(nil, "facade returned status %d for %s", resp.StatusCode, path)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.NetworkError(err, "read response body")
	}

	var logs []models.RawLog
	if err := json.Unmarshal(raw, &logs); err != nil {
		return nil, errors.InternalErrorf("unmarshal response from %s: %v", path, err)
	}

	return logs, nil
}

func recognizedLogTypes() []models.LogType {
	return []models.LogType{
		models.LogTypeProcess,
		models.LogTypeFile,
		models.LogTypeNetwork,
		models.LogTypeDomain,
		models.LogTypeRegistry,
	}
}

// filterRecognizedTypes is the defensive in-process second check behind the
// index-side logType filter: it costs one pass over an already-small result
// set and catches any backend that doesn't honor the filter.
func filterRecognizedTypes(logs []models.RawLog) []models.RawLog {
	filtered := make([]models.RawLog, 0, len(logs))
	for _, l := range logs {
		if models.BuilderLogTypes[l.LogType] {
			filtered = append(filtered, l)
		}
	}
	return filtered
}
