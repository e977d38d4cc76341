package fetch

import (
	"crypto/tls"
	"errors"
	"net"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/media-harvester/pkg/config"
)

// NewClient creates the shared HTTP client used for every media download.
// The client has no overall timeout; the Fetcher bounds each fetch with a context deadline.
func NewClient(cfg *config.AppConfig, log *logrus.Entry) *http.Client {
	h := cfg.HTTPClientSettings

	dialer := &net.Dialer{
		Timeout:   h.DialerTimeout,
		KeepAlive: h.DialerKeepAlive,
	}

	transport := &http.Transport{
		Proxy:                  http.ProxyFromEnvironment,
		DialContext:            dialer.DialContext,
		ForceAttemptHTTP2:      true,
		MaxIdleConns:           h.MaxIdleConns,
		MaxIdleConnsPerHost:    h.MaxIdleConnsPerHost,
		MaxConnsPerHost:        cfg.MaxRequestsPerHost,
		IdleConnTimeout:        h.IdleConnTimeout,
		TLSHandshakeTimeout:    h.TLSHandshakeTimeout,
		ExpectContinueTimeout:  h.ExpectContinueTimeout,
		MaxResponseHeaderBytes: 1 << 20,
	}
	if h.ForceAttemptHTTP2 != nil {
		transport.ForceAttemptHTTP2 = *h.ForceAttemptHTTP2
	}
	if cfg.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec
	}

	client := &http.Client{
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 10 {
				return errors.New("stopped after 10 redirects")
			}
			log.Debugf("Redirecting: %s -> %s (hop %d)", via[len(via)-1].URL, req.URL, len(via))
			return nil
		},
	}
	log.WithFields(logrus.Fields{
		"max_conns_per_host":   cfg.MaxRequestsPerHost,
		"insecure_skip_verify": cfg.InsecureSkipVerify,
	}).Info("HTTP client initialized")
	return client
}
