package security

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateOutboundURL(t *testing.T) {
	cases := []struct {
		name    string
		url     string
		opts    OutboundURLOptions
		wantErr bool
	}{
		{name: "https host", url: "https://my-search.search.windows.net"},
		{name: "http rejected", url: "http://api.d-id.com", wantErr: true},
		{name: "http allowed", url: "http://api.d-id.com", opts: OutboundURLOptions{AllowHTTP: true}},
		{name: "ftp", url: "ftp://example.com", wantErr: true},
		{name: "no host", url: "https:///path", wantErr: true},
		{name: "credentials", url: "https://user:pw@example.com", wantErr: true},
		{name: "localhost", url: "https://localhost:8080", wantErr: true},
		{name: "mdns", url: "https://weaviate.local", wantErr: true},
		{name: "localhost allowed", url: "https://localhost:8080", opts: OutboundURLOptions{AllowLocalNetworks: true}},
		{name: "private ip", url: "https://10.0.0.4", wantErr: true},
		{name: "loopback ip", url: "https://127.0.0.1", wantErr: true},
		{name: "mapped loopback", url: "https://[::ffff:127.0.0.1]", wantErr: true},
		{name: "unspecified", url: "https://0.0.0.0", opts: OutboundURLOptions{AllowLocalNetworks: true}, wantErr: true},
		{name: "zoned ipv6", url: "https://[fe80::1%25eth0]/", wantErr: true},
		{name: "zoned ipv6 allowed", url: "https://[fe80::1%25eth0]/", opts: OutboundURLOptions{AllowLocalNetworks: true}},
		{name: "public ip", url: "https://8.8.8.8"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateOutboundURL(tc.url, tc.opts)
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateEndpoints(t *testing.T) {
	require.NoError(t, ValidateEndpoints(map[string]string{
		"search": "https://kb.search.windows.net",
		"render": "",
	}, OutboundURLOptions{}))

	err := ValidateEndpoints(map[string]string{
		"search": "http://kb.search.windows.net",
		"render": "https://127.0.0.1",
		"ok":     "https://api.openai.com/v1",
	}, OutboundURLOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "render: ")
	assert.Contains(t, err.Error(), "search: ")
	assert.NotContains(t, err.Error(), "ok: ")
	assert.Less(t, strings.Index(err.Error(), "render"), strings.Index(err.Error(), "search"))
}
