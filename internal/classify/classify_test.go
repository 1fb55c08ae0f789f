package classify

import (
	"testing"

	"github.com/ignite/cloak-gateway/internal/domain"
)

const (
	uaLinuxChrome  = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	uaMacSafari    = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Safari/605.1.15"
	uaIPhoneSafari = "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Mobile/15E148 Safari/604.1"
)

func TestClassify_BotSignatures(t *testing.T) {
	c := New()

	tests := []struct {
		name   string
		ua     string
		reason string
	}{
		{"empty ua", "", domain.ReasonNoUserAgent},
		{"whitespace ua", "   ", domain.ReasonNoUserAgent},
		{"headless chrome", "Mozilla/5.0 (X11; Linux x86_64) HeadlessChrome/119.0.0.0", domain.ReasonHeadlessBrowser},
		{"phantomjs", "Mozilla/5.0 PhantomJS/2.1.1", domain.ReasonHeadlessBrowser},
		{"curl", "curl/8.5.0", domain.ReasonGenericBot},
		{"python requests", "python-requests/2.31.0", domain.ReasonGenericBot},
		{"go http client", "Go-http-client/2.0", domain.ReasonGenericBot},
		{"bare crawler word", "my-crawler/1.0", domain.ReasonGenericBot},
		{"whatsapp preview", "WhatsApp/2.23.20.0", domain.ReasonSocialPreview},
		{"facebook preview", "facebookexternalhit/1.1 (+http://www.facebook.com/externalhit_uatext.php)", domain.ReasonSocialPreview},
		{"twitterbot goes to social not generic", "Twitterbot/1.0", domain.ReasonSocialPreview},
		{"slack preview", "Slackbot-LinkExpanding 1.0 (+https://api.slack.com/robots)", domain.ReasonSocialPreview},
		{"googlebot", "Mozilla/5.0 (compatible; Googlebot/2.1; +http://www.google.com/bot.html)", domain.ReasonSearchEngine},
		{"bingbot", "Mozilla/5.0 (compatible; bingbot/2.0; +http://www.bing.com/bingbot.htm)", domain.ReasonSearchEngine},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := c.Classify(tt.ua)
			if !res.Bot {
				t.Fatalf("Classify(%q).Bot = false, want true", tt.ua)
			}
			if res.Reason != tt.reason {
				t.Errorf("reason = %q, want %q", res.Reason, tt.reason)
			}
		})
	}
}

func TestClassify_RealBrowsersPass(t *testing.T) {
	c := New()

	tests := []struct {
		name    string
		ua      string
		browser string
		device  string
	}{
		{"linux chrome", uaLinuxChrome, "Chrome", DeviceDesktop},
		{"mac safari", uaMacSafari, "Safari", DeviceDesktop},
		{"iphone safari", uaIPhoneSafari, "Safari", DeviceMobile},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := c.Classify(tt.ua)
			if res.Bot {
				t.Fatalf("Classify(%q) convicted a real browser: %s", tt.ua, res.Reason)
			}
			if res.Browser != tt.browser {
				t.Errorf("browser = %q, want %q", res.Browser, tt.browser)
			}
			if res.Device != tt.device {
				t.Errorf("device = %q, want %q", res.Device, tt.device)
			}
		})
	}
}

func TestClassify_UnknownBrowser(t *testing.T) {
	c := New()

	// Unknown browser string but a recognized OS: allowed through.
	res := c.Classify("ObscureBrowser/3.2 (Windows NT 10.0; Win64; x64)")
	if res.Bot {
		t.Errorf("unknown browser with known OS convicted: %s", res.Reason)
	}

	// Neither browser nor OS recognizable.
	res = c.Classify("TotallyMadeUpAgent 1.0")
	if !res.Bot || res.Reason != domain.ReasonUnknownBrowser {
		t.Errorf("got (%v, %s), want BOT UNKNOWN_BROWSER", res.Bot, res.Reason)
	}
}

func TestClassify_UnknownDevice(t *testing.T) {
	c := New()

	// Known browser token but no OS/device tokens at all.
	res := c.Classify("Chrome/120.0.0.0")
	if !res.Bot || res.Reason != domain.ReasonUnknownDevice {
		t.Errorf("got (%v, %s), want BOT UNKNOWN_DEVICE", res.Bot, res.Reason)
	}
}

func TestClassify_ExtraPatterns(t *testing.T) {
	c := New()

	ua := "SuspiciousAgent/1.0 (Windows NT 10.0)"
	if res := c.Classify(ua); res.Bot {
		t.Fatalf("precondition failed: %q convicted before rule merge", ua)
	}

	c.SetExtraPatterns([]domain.UAPattern{
		{Pattern: `(?i)suspiciousagent`, Category: CategoryGeneric},
		{Pattern: `([invalid`, Category: CategoryGeneric}, // dropped silently
	})

	res := c.Classify(ua)
	if !res.Bot || res.Reason != domain.ReasonGenericBot {
		t.Errorf("got (%v, %s), want BOT GENERIC_BOT from rule table", res.Bot, res.Reason)
	}

	// Replacing the overlay clears previous extras.
	c.SetExtraPatterns(nil)
	if res := c.Classify(ua); res.Bot {
		t.Error("cleared overlay still convicting")
	}
}

func TestParseDevice(t *testing.T) {
	tests := []struct {
		ua   string
		os   string
		want string
	}{
		{"... iPad ...", "iOS", DeviceTablet},
		{"... iPhone ...", "iOS", DeviceMobile},
		{"... Android ... Mobile ...", "Android", DeviceMobile},
		{"... Android ...", "Android", DeviceTablet},
		{"... Windows NT ...", "Windows", DeviceDesktop},
		{"plain", "", DeviceUnknown},
	}
	for _, tt := range tests {
		if got := parseDevice(tt.ua, tt.os); got != tt.want {
			t.Errorf("parseDevice(%q, %q) = %q, want %q", tt.ua, tt.os, got, tt.want)
		}
	}
}
