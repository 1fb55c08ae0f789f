package rewrite

import (
	"testing"
)

func TestSplitID(t *testing.T) {
	tests := []struct {
		raw    string
		id     string
		suffix string
	}{
		{"abc", "abc", ""},
		{"abc?email=x@y.io", "abc", "?email=x@y.io"},
		{"abc$bob@corp.io", "abc", "$bob@corp.io"},
		{"abc*bob@corp.io", "abc", "*bob@corp.io"},
		{"abc#section", "abc", "#section"},
		{"abc$tail?more=1", "abc", "$tail?more=1"},
		{"", "", ""},
	}
	for _, tt := range tests {
		id, suffix := SplitID(tt.raw)
		if id != tt.id || suffix != tt.suffix {
			t.Errorf("SplitID(%q) = (%q, %q), want (%q, %q)", tt.raw, id, suffix, tt.id, tt.suffix)
		}
	}
}

func TestRewrite_HumanKeepsSuffix(t *testing.T) {
	rw := New(false)

	res := rw.Rewrite("https://landing.example.com/", "?email=x@y.io", false)
	if res.Destination != "https://landing.example.com/?email=x@y.io" {
		t.Errorf("Destination = %q", res.Destination)
	}
	if res.CapturedEmail != "x@y.io" {
		t.Errorf("CapturedEmail = %q, want x@y.io", res.CapturedEmail)
	}
	if res.ParameterFormat != FormatQuery {
		t.Errorf("ParameterFormat = %q, want %q", res.ParameterFormat, FormatQuery)
	}
}

func TestRewrite_HumanDecodesOnce(t *testing.T) {
	rw := New(false)

	res := rw.Rewrite("https://landing.example.com/", "?email=x%40y.io", false)
	if res.Destination != "https://landing.example.com/?email=x@y.io" {
		t.Errorf("Destination = %q", res.Destination)
	}
	if res.CapturedEmail != "x@y.io" {
		t.Errorf("CapturedEmail = %q", res.CapturedEmail)
	}
}

func TestRewrite_BotStripsEmails(t *testing.T) {
	rw := New(false)

	tests := []struct {
		name   string
		dest   string
		suffix string
		want   string
	}{
		{
			name:   "single email query",
			dest:   "https://safe.example.com/",
			suffix: "?email=x@y.io",
			want:   "https://safe.example.com/",
		},
		{
			name:   "email between params",
			dest:   "https://safe.example.com/",
			suffix: "?a=1&email=x@y.io&b=2",
			want:   "https://safe.example.com/?a=1&b=2",
		},
		{
			name:   "dollar suffix scrubbed away entirely",
			dest:   "https://safe.example.com",
			suffix: "$bob@corp.io",
			want:   "https://safe.example.com",
		},
		{
			name:   "no email passthrough",
			dest:   "https://safe.example.com/",
			suffix: "?a=1",
			want:   "https://safe.example.com/?a=1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := rw.Rewrite(tt.dest, tt.suffix, true)
			if res.Destination != tt.want {
				t.Errorf("Destination = %q, want %q", res.Destination, tt.want)
			}
			if res.CapturedEmail != "" {
				t.Errorf("BOT result captured an email: %q", res.CapturedEmail)
			}
		})
	}
}

func TestRewrite_BotIdempotent(t *testing.T) {
	rw := New(false)

	first := rw.Rewrite("https://safe.example.com/", "?a=1&email=x@y.io&b=2", true)
	second := rw.Rewrite("https://safe.example.com/", first.Suffix, true)
	if second.Suffix != first.Suffix {
		t.Errorf("second pass changed suffix: %q → %q", first.Suffix, second.Suffix)
	}
}

func TestRewrite_JoinRules(t *testing.T) {
	rw := New(false)

	tests := []struct {
		name   string
		dest   string
		suffix string
		want   string
	}{
		{
			name:   "query merges into existing query",
			dest:   "https://x.example.com/p?keep=1",
			suffix: "?add=2",
			want:   "https://x.example.com/p?keep=1&add=2",
		},
		{
			name:   "fragment replaces existing fragment",
			dest:   "https://x.example.com/p#old",
			suffix: "#new",
			want:   "https://x.example.com/p#new",
		},
		{
			name:   "dollar concatenated after trailing slash",
			dest:   "https://x.example.com/p",
			suffix: "$user@host.io",
			want:   "https://x.example.com/p/$user@host.io",
		},
		{
			name:   "star concatenated after trailing slash",
			dest:   "https://x.example.com/p/",
			suffix: "*token",
			want:   "https://x.example.com/p/*token",
		},
		{
			name:   "empty suffix leaves destination alone",
			dest:   "https://x.example.com/p",
			suffix: "",
			want:   "https://x.example.com/p",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := rw.Rewrite(tt.dest, tt.suffix, false)
			if res.Destination != tt.want {
				t.Errorf("Destination = %q, want %q", res.Destination, tt.want)
			}
		})
	}
}

func TestFindEmails_DedupesAndOrders(t *testing.T) {
	rw := New(false)

	emails := rw.FindEmails("?a=first@x.io&b=second@y.io&c=first@x.io")
	if len(emails) != 2 {
		t.Fatalf("len = %d, want 2", len(emails))
	}
	if emails[0] != "first@x.io" || emails[1] != "second@y.io" {
		t.Errorf("emails = %v", emails)
	}
}

func TestFindEmails_Base64Gated(t *testing.T) {
	// "email=hidden@example.com" base64-encoded, 32 chars.
	const token = "ZW1haWw9aGlkZGVuQGV4YW1wbGUuY29t"

	off := New(false)
	if emails := off.FindEmails("?t=" + token); len(emails) != 0 {
		t.Errorf("base64 decoding ran while disabled: %v", emails)
	}

	on := New(true)
	emails := on.FindEmails("?t=" + token)
	if len(emails) != 1 || emails[0] != "hidden@example.com" {
		t.Errorf("emails = %v, want [hidden@example.com]", emails)
	}
}
