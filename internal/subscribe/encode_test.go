package subscribe

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/creamcroissant/clashforge/internal/dedup"
	"github.com/creamcroissant/clashforge/internal/proxy"
)

func TestEncodeCanonicalLinks(t *testing.T) {
	links := []string{
		"ss://YWVzLTI1Ni1nY206cGFzcw==@1.2.3.4:8388#Test",
		"trojan://secret@example.com:443?sni=sni.example&type=ws&path=%2Fws&host=cdn.example#HK",
		"hysteria2://pw@example.com:8443?sni=s.example&insecure=1&up=100&down=200&obfs=salamander&obfs-password=op#Node",
		"vless://uuid-1@example.com:443?security=reality&sni=www.microsoft.com&flow=xtls-rprx-vision&type=grpc&serviceName=svc&pbk=PUBKEY&sid=ab12&fp=chrome#R",
	}
	for _, link := range links {
		d, err := ParseLink(link)
		require.NoError(t, err, link)
		assert.Equal(t, link, Encode(d))
	}
}

func TestEncodeRoundTrip(t *testing.T) {
	aid := 0
	descriptors := []proxy.Descriptor{
		{
			Name: "ss plugin", Kind: proxy.KindShadowsocks, Server: "2001:db8::1", Port: 8388,
			Credential: proxy.ShadowsocksCredential{Cipher: "chacha20-ietf-poly1305", Password: "p@ss:word"},
			Options:    proxy.ShadowsocksOptions{Plugin: "v2ray-plugin", PluginOpts: "mode=websocket;tls"},
		},
		{
			Name: "vmess ws", Kind: proxy.KindVMess, Server: "vm.example", Port: 443,
			Credential: proxy.UUIDCredential{UUID: "b831381d-6324-4d53-ad4f-8cda48b30811"},
			Transport:  &proxy.Transport{Network: proxy.NetworkWebSocket, Path: "/ray", Host: "cdn.example"},
			Security:   &proxy.Security{Mode: proxy.SecurityTLS, SNI: "cdn.example", ALPN: []string{"h2"}, SkipCertVerify: true},
			Options:    proxy.VMessOptions{AlterID: &aid, Cipher: "auto"},
		},
		{
			Name: "vmess h2", Kind: proxy.KindVMess, Server: "vm.example", Port: 8443,
			Credential: proxy.UUIDCredential{UUID: "u-2"},
			Transport:  &proxy.Transport{Network: proxy.NetworkHTTP, Host: "h.example", Paths: []string{"/h2"}},
			Security:   &proxy.Security{Mode: proxy.SecurityTLS, SNI: "h.example"},
		},
		{
			Name: "vless tls", Kind: proxy.KindVLess, Server: "vl.example", Port: 443,
			Credential: proxy.UUIDCredential{UUID: "u-3"},
			Transport:  &proxy.Transport{Network: proxy.NetworkHTTP, Host: "h.example", Paths: []string{"/p"}},
			Security:   &proxy.Security{Mode: proxy.SecurityTLS, SNI: "vl.example", ALPN: []string{"h2", "http/1.1"}, Fingerprint: "firefox", SkipCertVerify: true},
			Options:    proxy.VLessOptions{Encryption: "none"},
		},
		{
			Name: "trojan reality", Kind: proxy.KindTrojan, Server: "t.example", Port: 443,
			Credential: proxy.PasswordCredential{Password: "a:b@c"},
			Security:   &proxy.Security{Mode: proxy.SecurityReality, SNI: "t.example", PublicKey: "K", ShortID: "01"},
		},
		{
			Name: "hy2 anon", Kind: proxy.KindHysteria2, Server: "h.example", Port: 443,
			Credential: proxy.PasswordCredential{},
			Security:   &proxy.Security{Mode: proxy.SecurityTLS},
		},
	}

	for _, want := range descriptors {
		t.Run(want.Name, func(t *testing.T) {
			link := Encode(want)
			got, err := ParseLink(link)
			require.NoError(t, err, link)
			assert.Equal(t, dedup.Fingerprint(want), dedup.Fingerprint(got))

			got.Link = ""
			assert.Equal(t, want, got)
		})
	}
}

func TestLinkOf(t *testing.T) {
	d, err := ParseLink("trojan://pw@example.com:443#X")
	require.NoError(t, err)
	assert.Equal(t, "trojan://pw@example.com:443#X", LinkOf(d))

	d.Link = ""
	assert.Equal(t, "trojan://pw@example.com:443#X", LinkOf(d))
}
