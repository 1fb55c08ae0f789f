// Package classify implements stage-1 bot detection: pure-function,
// signature-based evaluation of the User-Agent header against five
// ordered lists. No I/O happens here; the whole stage runs in
// microseconds.
package classify

import (
	"regexp"
	"strings"
	"sync"

	"github.com/ignite/cloak-gateway/internal/domain"
)

// Result is the outcome of UA classification.
type Result struct {
	Bot     bool
	Reason  string
	Browser string
	OS      string
	Device  string
}

// Device values.
const (
	DeviceDesktop = "desktop"
	DeviceMobile  = "mobile"
	DeviceTablet  = "tablet"
	DeviceUnknown = "unknown"
)

func compile(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		out = append(out, regexp.MustCompile(p))
	}
	return out
}

// The five signature lists, evaluated in this exact order. Reordering
// them changes verdicts: "Twitterbot" must fall to the social list, not
// the generic one, so the generic word patterns refuse a letter before
// "bot".
var (
	headlessSignatures = compile(
		`(?i)headlesschrome`,
		`(?i)phantomjs`,
		`(?i)slimerjs`,
		`(?i)puppeteer`,
		`(?i)playwright`,
		`(?i)selenium`,
		`(?i)webdriver`,
		`(?i)electron/`,
		`(?i)wkhtmltopdf|wkhtmltoimage`,
		`(?i)splash\b`,
	)

	genericBotSignatures = compile(
		`(?i)curl/`,
		`(?i)wget/`,
		`(?i)python-requests|python-urllib|aiohttp|httpx/`,
		`(?i)go-http-client`,
		`(?i)java/|okhttp|apache-httpclient`,
		`(?i)libwww-perl`,
		`(?i)scrapy`,
		`(?i)node-fetch|axios/|undici`,
		`(?i)httpie/`,
		`(?i)postmanruntime|insomnia`,
		`(?i)ruby\b|faraday`,
		`(?i)php/|guzzlehttp`,
	)

	// Catch-all for self-declared bots. Checked after the named social
	// and search lists: Googlebot's UA carries "/bot.html" and must not
	// land here. Requires a non-letter before the word so brand names
	// like Twitterbot fall through to their own list.
	genericWordSignature = regexp.MustCompile(`(?i)(?:^|[^a-z])(bot|spider|crawler|scraper|fetcher)(?:[^a-z]|$)`)

	socialPreviewSignatures = compile(
		`(?i)facebookexternalhit|facebot|facebookcatalog`,
		`(?i)whatsapp`,
		`(?i)telegrambot`,
		`(?i)twitterbot`,
		`(?i)slackbot|slack-imgproxy`,
		`(?i)linkedinbot`,
		`(?i)discordbot`,
		`(?i)skypeuripreview`,
		`(?i)pinterest(bot)?/`,
		`(?i)vkshare`,
		`(?i)viber`,
		`(?i)snapchat`,
		`(?i)redditbot`,
		`(?i)line-poker|linebot`,
		`(?i)iframely|embedly`,
	)

	searchEngineSignatures = compile(
		`(?i)googlebot|google-inspectiontool|apis-google|adsbot-google|mediapartners-google`,
		`(?i)bingbot|bingpreview|msnbot|adidxbot`,
		`(?i)slurp`,
		`(?i)duckduckbot|duckduckgo`,
		`(?i)baiduspider`,
		`(?i)yandex(bot|images|video|metrika)`,
		`(?i)sogou`,
		`(?i)applebot`,
		`(?i)seznambot`,
		`(?i)semrushbot|ahrefsbot|mj12bot|dotbot|blexbot|petalbot|bytespider`,
		`(?i)ia_archiver|archive\.org_bot`,
	)

	knownBrowserSignatures = []struct {
		name string
		re   *regexp.Regexp
	}{
		{"Edge", regexp.MustCompile(`(?i)edg(e|a|ios)?/`)},
		{"Opera", regexp.MustCompile(`(?i)\bopr/|\bopera`)},
		{"Samsung Internet", regexp.MustCompile(`(?i)samsungbrowser/`)},
		{"UC Browser", regexp.MustCompile(`(?i)ucbrowser/`)},
		{"Vivaldi", regexp.MustCompile(`(?i)vivaldi/`)},
		{"Brave", regexp.MustCompile(`(?i)brave/`)},
		{"Yandex Browser", regexp.MustCompile(`(?i)yabrowser/`)},
		{"Firefox", regexp.MustCompile(`(?i)firefox/|fxios/`)},
		{"Chrome", regexp.MustCompile(`(?i)chrome/|crios/`)},
		{"Safari", regexp.MustCompile(`(?i)safari/`)},
		{"Internet Explorer", regexp.MustCompile(`(?i)msie |trident/`)},
	}

	knownOSSignatures = []struct {
		name string
		re   *regexp.Regexp
	}{
		{"Windows", regexp.MustCompile(`(?i)windows nt`)},
		{"iOS", regexp.MustCompile(`(?i)iphone os|cpu os|ipad`)},
		{"macOS", regexp.MustCompile(`(?i)mac os x|macintosh`)},
		{"Android", regexp.MustCompile(`(?i)android`)},
		{"ChromeOS", regexp.MustCompile(`(?i)cros `)},
		{"Linux", regexp.MustCompile(`(?i)linux|x11|ubuntu|fedora|freebsd|openbsd`)},
	}
)

// Classifier evaluates UAs; extra patterns from the user_agent_patterns
// rule table merge in at refresh and are consulted after the built-in
// list of the same category.
type Classifier struct {
	mu    sync.RWMutex
	extra map[string][]*regexp.Regexp
}

// Rule table category names.
const (
	CategoryHeadless = "headless"
	CategoryGeneric  = "generic_bot"
	CategorySocial   = "social_preview"
	CategorySearch   = "search_engine"
)

// New creates a classifier with the built-in signature lists.
func New() *Classifier {
	return &Classifier{extra: make(map[string][]*regexp.Regexp)}
}

// SetExtraPatterns replaces the rule-table overlay. Patterns that fail
// to compile are dropped; the built-in lists are never affected.
func (c *Classifier) SetExtraPatterns(patterns []domain.UAPattern) {
	extra := make(map[string][]*regexp.Regexp)
	for _, p := range patterns {
		re, err := regexp.Compile(p.Pattern)
		if err != nil {
			continue
		}
		extra[p.Category] = append(extra[p.Category], re)
	}
	c.mu.Lock()
	c.extra = extra
	c.mu.Unlock()
}

func (c *Classifier) matchExtra(category, ua string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, re := range c.extra[category] {
		if re.MatchString(ua) {
			return true
		}
	}
	return false
}

func matchAny(res []*regexp.Regexp, ua string) bool {
	for _, re := range res {
		if re.MatchString(ua) {
			return true
		}
	}
	return false
}

// Classify runs the five lists in order and then the browser/OS/device
// sanity checks. The result's Browser and Device fields are filled even
// for BOT outcomes when parseable, for logging.
func (c *Classifier) Classify(ua string) Result {
	ua = strings.TrimSpace(ua)
	if ua == "" {
		return Result{Bot: true, Reason: domain.ReasonNoUserAgent, Device: DeviceUnknown}
	}

	browser := parseBrowser(ua)
	osName := parseOS(ua)
	device := parseDevice(ua, osName)

	if matchAny(headlessSignatures, ua) || c.matchExtra(CategoryHeadless, ua) {
		return Result{Bot: true, Reason: domain.ReasonHeadlessBrowser, Browser: browser, OS: osName, Device: device}
	}
	if matchAny(genericBotSignatures, ua) || c.matchExtra(CategoryGeneric, ua) {
		return Result{Bot: true, Reason: domain.ReasonGenericBot, Browser: browser, OS: osName, Device: device}
	}
	if matchAny(socialPreviewSignatures, ua) || c.matchExtra(CategorySocial, ua) {
		return Result{Bot: true, Reason: domain.ReasonSocialPreview, Browser: browser, OS: osName, Device: device}
	}
	if matchAny(searchEngineSignatures, ua) || c.matchExtra(CategorySearch, ua) {
		return Result{Bot: true, Reason: domain.ReasonSearchEngine, Browser: browser, OS: osName, Device: device}
	}
	if genericWordSignature.MatchString(ua) {
		return Result{Bot: true, Reason: domain.ReasonGenericBot, Browser: browser, OS: osName, Device: device}
	}

	// An unrecognized browser string is tolerated only when the OS is
	// one we know; a UA with neither is not a real browser.
	if browser == "" && osName == "" {
		return Result{Bot: true, Reason: domain.ReasonUnknownBrowser, Device: device}
	}
	if device == DeviceUnknown {
		return Result{Bot: true, Reason: domain.ReasonUnknownDevice, Browser: browser, OS: osName, Device: device}
	}

	return Result{Browser: browser, OS: osName, Device: device}
}

func parseBrowser(ua string) string {
	for _, b := range knownBrowserSignatures {
		if b.re.MatchString(ua) {
			return b.name
		}
	}
	return ""
}

func parseOS(ua string) string {
	for _, o := range knownOSSignatures {
		if o.re.MatchString(ua) {
			return o.name
		}
	}
	return ""
}

func parseDevice(ua, osName string) string {
	lower := strings.ToLower(ua)
	switch {
	case strings.Contains(lower, "ipad") || strings.Contains(lower, "tablet"):
		return DeviceTablet
	case strings.Contains(lower, "iphone") || strings.Contains(lower, "mobile"):
		return DeviceMobile
	case osName == "Android":
		// Android without "Mobile" is a tablet per UA convention.
		return DeviceTablet
	case osName == "Windows" || osName == "macOS" || osName == "Linux" || osName == "ChromeOS":
		return DeviceDesktop
	case osName == "iOS":
		return DeviceMobile
	default:
		return DeviceUnknown
	}
}
