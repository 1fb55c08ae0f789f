// Package intel wraps the ip2location.io lookup API used by stage 2 of
// the decision pipeline.
package intel

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ignite/cloak-gateway/internal/pkg/httpretry"
)

const (
	defaultBaseURL = "https://api.ip2location.io/"
	euBaseURL      = "https://api.eu.ip2location.io/"

	// The pipeline fails open after this long; retries must fit inside.
	defaultTimeout = 5 * time.Second
)

// ProxyInfo is the nested proxy block of the lookup response.
type ProxyInfo struct {
	ProxyType                string `json:"proxy_type"`
	IsVPN                    bool   `json:"is_vpn"`
	IsTor                    bool   `json:"is_tor"`
	IsDataCenter             bool   `json:"is_data_center"`
	IsPublicProxy            bool   `json:"is_public_proxy"`
	IsWebProxy               bool   `json:"is_web_proxy"`
	IsWebCrawler             bool   `json:"is_web_crawler"`
	IsResidentialProxy       bool   `json:"is_residential_proxy"`
	IsConsumerPrivacyNetwork bool   `json:"is_consumer_privacy_network"`
	IsScanner                bool   `json:"is_scanner"`
	IsBotnet                 bool   `json:"is_botnet"`
}

// Info is the lookup response. The residential-proxy and consumer-privacy
// flags appear at the top level on some plans and inside the proxy block
// on others, so both shapes are decoded.
type Info struct {
	IP              string  `json:"ip"`
	CountryCode     string  `json:"country_code"`
	CountryName     string  `json:"country_name"`
	RegionName      string  `json:"region_name"`
	CityName        string  `json:"city_name"`
	ISP             string  `json:"isp"`
	Domain          string  `json:"domain"`
	UsageType       string  `json:"usage_type"`
	ASN             string  `json:"asn"`
	AS              string  `json:"as"`
	AdsCategory     string  `json:"ads_category"`
	AdsCategoryName string  `json:"ads_category_name"`
	IsProxy         bool    `json:"is_proxy"`
	FraudScore      float64 `json:"fraud_score"`

	TopResidentialProxy       *bool `json:"is_residential_proxy,omitempty"`
	TopConsumerPrivacyNetwork *bool `json:"is_consumer_privacy_network,omitempty"`

	Proxy *ProxyInfo `json:"proxy,omitempty"`
}

// ResidentialProxy resolves the flag from whichever level the provider
// populated, top level winning.
func (i *Info) ResidentialProxy() bool {
	if i.TopResidentialProxy != nil {
		return *i.TopResidentialProxy
	}
	return i.Proxy != nil && i.Proxy.IsResidentialProxy
}

// ConsumerPrivacyNetwork resolves the consumer privacy flag the same way.
func (i *Info) ConsumerPrivacyNetwork() bool {
	if i.TopConsumerPrivacyNetwork != nil {
		return *i.TopConsumerPrivacyNetwork
	}
	return i.Proxy != nil && i.Proxy.IsConsumerPrivacyNetwork
}

// ProxyType returns the nested proxy type, "" when absent.
func (i *Info) ProxyType() string {
	if i.Proxy == nil {
		return ""
	}
	return strings.ToUpper(i.Proxy.ProxyType)
}

// Client calls the ip2location.io API with retry and a hard deadline.
type Client struct {
	apiKey  string
	baseURL string
	doer    httpretry.HTTPDoer
	timeout time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the API host (tests point this at httptest).
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = u }
}

// WithEURegion switches to the EU data-residency host.
func WithEURegion() Option {
	return func(c *Client) { c.baseURL = euBaseURL }
}

// WithTimeout overrides the per-lookup deadline.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithDoer swaps the underlying HTTP doer.
func WithDoer(d httpretry.HTTPDoer) Option {
	return func(c *Client) { c.doer = d }
}

// New builds a Client. The retry client keeps its backoff small so two
// retries still fit under the lookup deadline.
func New(apiKey string, opts ...Option) *Client {
	c := &Client{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		timeout: defaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.doer == nil {
		base := &http.Client{Timeout: c.timeout}
		c.doer = httpretry.NewRetryClient(base, 2).
			WithBackoff(100*time.Millisecond, 500*time.Millisecond)
	}
	return c
}

// Lookup fetches intelligence for ip. Any failure (transport, non-200,
// malformed body, provider error payload) is returned as an error; the
// caller maps every error to a fail-open HUMAN verdict.
func (c *Client) Lookup(ctx context.Context, ip string) (*Info, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	q := url.Values{}
	q.Set("key", c.apiKey)
	q.Set("ip", ip)
	q.Set("format", "json")

	reqURL := strings.TrimRight(c.baseURL, "/") + "/?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build lookup request: %w", err)
	}

	resp, err := c.doer.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ip lookup %s: %w", ip, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read lookup response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ip lookup %s: status %d", ip, resp.StatusCode)
	}

	var info Info
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("decode lookup response: %w", err)
	}

	// Error payloads come back with HTTP 200 and an "error" object.
	var probe struct {
		Error *struct {
			Code    int    `json:"error_code"`
			Message string `json:"error_message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &probe) == nil && probe.Error != nil {
		return nil, fmt.Errorf("ip lookup %s: provider error %d: %s",
			ip, probe.Error.Code, probe.Error.Message)
	}

	return &info, nil
}
