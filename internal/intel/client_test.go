package intel

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestLookup_ParsesResponse(t *testing.T) {
	var gotQuery map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = map[string]string{
			"key":    r.URL.Query().Get("key"),
			"ip":     r.URL.Query().Get("ip"),
			"format": r.URL.Query().Get("format"),
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"ip": "203.0.113.9",
			"country_name": "United States",
			"region_name": "California",
			"city_name": "Los Angeles",
			"isp": "Example Hosting LLC",
			"usage_type": "DCH",
			"ads_category_name": "Data Centers",
			"is_proxy": true,
			"fraud_score": 87,
			"proxy": {
				"proxy_type": "dch",
				"is_vpn": true,
				"is_data_center": true
			}
		}`))
	}))
	defer srv.Close()

	c := New("test-key", WithBaseURL(srv.URL))
	info, err := c.Lookup(context.Background(), "203.0.113.9")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}

	if gotQuery["key"] != "test-key" || gotQuery["ip"] != "203.0.113.9" || gotQuery["format"] != "json" {
		t.Errorf("query = %v", gotQuery)
	}
	if info.UsageType != "DCH" || info.ISP != "Example Hosting LLC" {
		t.Errorf("info = %+v", info)
	}
	if info.ProxyType() != "DCH" {
		t.Errorf("ProxyType() = %q, want DCH (uppercased)", info.ProxyType())
	}
	if !info.Proxy.IsVPN || !info.Proxy.IsDataCenter {
		t.Error("proxy flags lost in decoding")
	}
	if !info.IsProxy || info.FraudScore != 87 {
		t.Error("recorded-only fields lost in decoding")
	}
}

func TestLookup_FlagLevelPrecedence(t *testing.T) {
	tests := []struct {
		name            string
		body            string
		wantResidential bool
	}{
		{
			name:            "top level wins over nested",
			body:            `{"is_residential_proxy": false, "proxy": {"is_residential_proxy": true}}`,
			wantResidential: false,
		},
		{
			name:            "nested used when top level absent",
			body:            `{"proxy": {"is_residential_proxy": true}}`,
			wantResidential: true,
		},
		{
			name:            "absent everywhere",
			body:            `{"proxy": {}}`,
			wantResidential: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			info, err := New("k", WithBaseURL(srv.URL)).Lookup(context.Background(), "203.0.113.9")
			if err != nil {
				t.Fatalf("Lookup: %v", err)
			}
			if got := info.ResidentialProxy(); got != tt.wantResidential {
				t.Errorf("ResidentialProxy() = %v, want %v", got, tt.wantResidential)
			}
		})
	}
}

func TestRegionHosts(t *testing.T) {
	if c := New("k"); c.baseURL != "https://api.ip2location.io/" {
		t.Errorf("default baseURL = %q", c.baseURL)
	}
	if c := New("k", WithEURegion()); c.baseURL != "https://api.eu.ip2location.io/" {
		t.Errorf("EU baseURL = %q", c.baseURL)
	}
}

func TestLookup_ProviderErrorPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// The provider signals errors with HTTP 200.
		w.Write([]byte(`{"error": {"error_code": 10001, "error_message": "Invalid API key."}}`))
	}))
	defer srv.Close()

	if _, err := New("bad-key", WithBaseURL(srv.URL)).Lookup(context.Background(), "203.0.113.9"); err == nil {
		t.Fatal("provider error payload not surfaced")
	}
}

func TestLookup_Non200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	if _, err := New("k", WithBaseURL(srv.URL)).Lookup(context.Background(), "203.0.113.9"); err == nil {
		t.Fatal("non-200 status not surfaced")
	}
}

func TestLookup_MalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>not json</html>"))
	}))
	defer srv.Close()

	if _, err := New("k", WithBaseURL(srv.URL)).Lookup(context.Background(), "203.0.113.9"); err == nil {
		t.Fatal("malformed body not surfaced")
	}
}
