package api

import (
	"crypto/subtle"
	"errors"
	"net"
	"net/http"
	"strings"

	"prenotazioni/internal/config"
)

const (
	apiKeyHeaderDefault   = "x-api-key"
	apiExtraHeaderDefault = "x-api-extra"
	clientKeyUnknown      = "unknown"

	permReadCatalog   = "read:catalog"
	permWriteCatalog  = "write:catalog"
	permReadBookings  = "read:bookings"
	permWriteBookings = "write:bookings"
	permReadInvoices  = "read:invoices"
	permWriteInvoices = "write:invoices"
	permReadCleaning  = "read:cleaning"
	permWriteCleaning = "write:cleaning"
	permSendMessages  = "write:messages"
)

var (
	errMissingHeaders   = errors.New("missing api key headers")
	errInvalidKey       = errors.New("invalid api key")
	errInvalidExtra     = errors.New("invalid extra header")
	errPermissionDenied = errors.New("permission denied")
	errRateLimited      = errors.New("rate limit exceeded")
)

// HTTPAuth provides API-key auth and per-key rate limiting for HTTP endpoints.
type HTTPAuth struct {
	cfg     config.APIConfig
	clients map[string]config.APIClientKey
	limiter *rateLimiter
}

func NewHTTPAuth(cfg config.APIConfig) *HTTPAuth {
	m := make(map[string]config.APIClientKey, len(cfg.Auth.APIKeys))
	for _, k := range cfg.Auth.APIKeys {
		m[k.Key] = k
	}
	a := &HTTPAuth{cfg: cfg, clients: m}
	a.limiter = newRateLimiter(cfg.RateLimit)
	return a
}

func (a *HTTPAuth) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/healthz" {
			next.ServeHTTP(w, r)
			return
		}

		if a.cfg.Auth.Enabled {
			if err := a.checkAuth(r); err != nil {
				statusCode := http.StatusUnauthorized
				if errors.Is(err, errPermissionDenied) {
					statusCode = http.StatusForbidden
				}
				writeError(w, statusCode, err.Error())
				return
			}
		}

		if !a.limiter.allow(a.clientKey(r)) {
			writeError(w, http.StatusTooManyRequests, errRateLimited.Error())
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (a *HTTPAuth) headerNames() (apiKey, extra string) {
	apiKey = strings.TrimSpace(strings.ToLower(a.cfg.Auth.HeaderAPIKey))
	if apiKey == "" {
		apiKey = apiKeyHeaderDefault
	}
	extra = strings.TrimSpace(strings.ToLower(a.cfg.Auth.HeaderExtra))
	if extra == "" {
		extra = apiExtraHeaderDefault
	}
	return apiKey, extra
}

func (a *HTTPAuth) checkAuth(r *http.Request) error {
	apiKeyHeader, extraHeader := a.headerNames()

	apiKey := strings.TrimSpace(r.Header.Get(apiKeyHeader))
	extra := strings.TrimSpace(r.Header.Get(extraHeader))
	if apiKey == "" || extra == "" {
		return errMissingHeaders
	}

	client, ok := a.clients[apiKey]
	if !ok {
		return errInvalidKey
	}
	if subtle.ConstantTimeCompare([]byte(client.Extra), []byte(extra)) != 1 {
		return errInvalidExtra
	}

	return checkPermissions(client, requiredPermission(r))
}

// checkPermissions treats an empty permission list as allow-all.
func checkPermissions(client config.APIClientKey, required string) error {
	if required == "" || len(client.Permissions) == 0 {
		return nil
	}
	for _, p := range client.Permissions {
		if strings.TrimSpace(p) == required {
			return nil
		}
	}
	return errPermissionDenied
}

func requiredPermission(r *http.Request) string {
	path := r.URL.Path
	read := r.Method == http.MethodGet || r.Method == http.MethodHead

	pick := func(readPerm, writePerm string) string {
		if read {
			return readPerm
		}
		return writePerm
	}

	switch {
	case strings.HasPrefix(path, "/api/v1/messages"):
		return permSendMessages
	case strings.HasPrefix(path, "/api/v1/properties"), strings.HasPrefix(path, "/api/v1/cleaning-services"):
		return pick(permReadCatalog, permWriteCatalog)
	case strings.HasPrefix(path, "/api/v1/bookings") && strings.HasSuffix(path, "/invoice"):
		return pick(permReadInvoices, permWriteInvoices)
	case strings.HasPrefix(path, "/api/v1/bookings"):
		return pick(permReadBookings, permWriteBookings)
	case strings.HasPrefix(path, "/api/v1/invoices"):
		return pick(permReadInvoices, permWriteInvoices)
	case strings.HasPrefix(path, "/api/v1/cleaning-tasks"):
		return pick(permReadCleaning, permWriteCleaning)
	default:
		return ""
	}
}

func (a *HTTPAuth) clientKey(r *http.Request) string {
	apiKeyHeader, _ := a.headerNames()
	if apiKey := strings.TrimSpace(r.Header.Get(apiKeyHeader)); apiKey != "" {
		return apiKey
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	return clientKeyUnknown
}
