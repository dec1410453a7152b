package urlutil

import "testing"

func TestCanonicalize(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{"lowercase scheme and host", "HTTP://Example.COM/Path", "http://example.com/Path", false},
		{"strip default http port", "http://example.com:80/a", "http://example.com/a", false},
		{"strip default https port", "https://example.com:443/a", "https://example.com/a", false},
		{"keep other port", "https://example.com:8443/a", "https://example.com:8443/a", false},
		{"remove fragment", "http://example.com/a#top", "http://example.com/a", false},
		{"trim trailing slash", "http://example.com/a/", "http://example.com/a", false},
		{"keep root slash", "http://example.com/", "http://example.com/", false},
		{"punycode host", "http://Bücher.example/", "http://xn--bcher-kva.example/", false},
		{"drop user info", "http://user:pw@example.com/", "http://example.com/", false},
		{"ipv6 literal", "http://[::1]:80/x", "http://[::1]/x", false},
		{"relative", "/a/b", "", true},
		{"ftp", "ftp://example.com/", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Canonicalize(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %q", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("Canonicalize(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestHost(t *testing.T) {
	if got := Host("https://example.com:8443/a"); got != "example.com" {
		t.Errorf("Host() = %q", got)
	}
}
