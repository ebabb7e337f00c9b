package utils

import (
	"net"
	"net/http"
	"net/url"
	"syscall"
	"time"
)

type HTTPClientConfig struct {
	Timeout        time.Duration
	KATimeout      time.Duration
	ProxyURL       string
	ProxyUsername  string
	ProxyPassword  string
	UserAgent      string
	Referer        string
	Headers        map[string]string
	HighThreadMode bool // advanced socket options for high concurrency
}

type HiAniHTTPClient struct {
	client *http.Client
	config HTTPClientConfig
}

func NewHiAniHTTPClient(cfg HTTPClientConfig) *HiAniHTTPClient {
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.KATimeout == 0 {
		cfg.KATimeout = 60 * time.Second
	}
	transport := &http.Transport{
		IdleConnTimeout:     cfg.KATimeout,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 100,
		DisableCompression:  true,
		MaxConnsPerHost:     0,
	}
	if cfg.HighThreadMode {
		transport.DialContext = (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
			DualStack: true,
			Control: func(network, address string, c syscall.RawConn) error {
				return c.Control(func(fd uintptr) {
					setSocketOptions(fd)
				})
			},
		}).DialContext
	}
	if cfg.ProxyURL != "" {
		proxyURL, err := url.Parse(cfg.ProxyURL)
		if err == nil {
			if cfg.ProxyUsername != "" {
				if cfg.ProxyPassword != "" {
					proxyURL.User = url.UserPassword(cfg.ProxyUsername, cfg.ProxyPassword)
				} else {
					proxyURL.User = url.User(cfg.ProxyUsername)
				}
			}
			transport.Proxy = http.ProxyURL(proxyURL)
		}
	}
	return &HiAniHTTPClient{
		client: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
		},
		config: cfg,
	}
}

func (h *HiAniHTTPClient) SetHeader(key, value string) {
	if h.config.Headers == nil {
		h.config.Headers = make(map[string]string)
	}
	h.config.Headers[key] = value
}

func (h *HiAniHTTPClient) Do(req *http.Request) (*http.Response, error) {
	if h.config.UserAgent != "" {
		req.Header.Set("User-Agent", h.config.UserAgent)
	} else {
		req.Header.Set("User-Agent", "HiAni-DL")
	}
	if h.config.Referer != "" && req.Header.Get("Referer") == "" {
		req.Header.Set("Referer", h.config.Referer)
	}
	for k, v := range h.config.Headers {
		req.Header.Set(k, v)
	}
	return h.client.Do(req)
}
