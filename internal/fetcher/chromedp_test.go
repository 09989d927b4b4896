package fetcher

import (
	"context"
	"net/url"
	"testing"

	"github.com/chromedp/cdproto/fetch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ramkansal/webscout/pkg/plugin"
)

func TestProxyAuthResponse(t *testing.T) {
	proxy := &fetch.AuthChallenge{Source: fetch.AuthChallengeSourceProxy, Origin: "http://p1.test:8080"}
	server := &fetch.AuthChallenge{Source: fetch.AuthChallengeSourceServer, Origin: "https://a.test"}
	user := url.UserPassword("scout", "s3cret")

	tests := []struct {
		name      string
		user      *url.Userinfo
		challenge *fetch.AuthChallenge
		answered  bool
		want      fetch.AuthChallengeResponse
	}{
		{
			name:      "proxy challenge gets credentials",
			user:      user,
			challenge: proxy,
			want: fetch.AuthChallengeResponse{
				Response: fetch.AuthChallengeResponseResponseProvideCredentials,
				Username: "scout",
				Password: "s3cret",
			},
		},
		{
			name:      "username only",
			user:      url.User("scout"),
			challenge: proxy,
			want: fetch.AuthChallengeResponse{
				Response: fetch.AuthChallengeResponseResponseProvideCredentials,
				Username: "scout",
			},
		},
		{
			name:      "rejected credentials are not resent",
			user:      user,
			challenge: proxy,
			answered:  true,
			want:      fetch.AuthChallengeResponse{Response: fetch.AuthChallengeResponseResponseCancelAuth},
		},
		{
			name:      "site login is never answered",
			user:      user,
			challenge: server,
			want:      fetch.AuthChallengeResponse{Response: fetch.AuthChallengeResponseResponseCancelAuth},
		},
		{
			name:      "no credentials",
			challenge: proxy,
			want:      fetch.AuthChallengeResponse{Response: fetch.AuthChallengeResponseResponseCancelAuth},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := proxyAuthResponse(tt.user, tt.challenge, tt.answered)
			assert.Equal(t, tt.want, *got)
		})
	}
}

func TestChromedpFetcherRejectsBadProxy(t *testing.T) {
	f := NewChromedpFetcher(ChromedpConfig{})
	defer f.Close()
	_, err := f.Fetch(context.Background(), "https://a.test", plugin.FetchOptions{Identity: plugin.Identity{Proxy: "http://"}})
	var fe *plugin.FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, plugin.OutcomeFatal, fe.Kind)
}
