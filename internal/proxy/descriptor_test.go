package proxy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseKind(t *testing.T) {
	cases := map[string]Kind{
		"ss":          KindShadowsocks,
		"Shadowsocks": KindShadowsocks,
		"vmess":       KindVMess,
		"VLESS":       KindVLess,
		"trojan":      KindTrojan,
		"hy2":         KindHysteria2,
		" hysteria2 ": KindHysteria2,
	}
	for in, want := range cases {
		got, ok := ParseKind(in)
		require.True(t, ok, in)
		assert.Equal(t, want, got, in)
	}

	_, ok := ParseKind("socks5")
	assert.False(t, ok)
}

func TestKindSchemes(t *testing.T) {
	assert.Equal(t, []string{"hysteria2", "hy2"}, KindHysteria2.Schemes())
	assert.Equal(t, []string{"ss"}, KindShadowsocks.Schemes())
}

func TestDescriptorValidate(t *testing.T) {
	base := Descriptor{
		Kind:       KindTrojan,
		Server:     "example.com",
		Port:       443,
		Credential: PasswordCredential{Password: "secret"},
	}

	tests := []struct {
		name    string
		mutate  func(d *Descriptor)
		wantErr error
	}{
		{name: "valid", mutate: func(d *Descriptor) {}},
		{name: "unknown kind", mutate: func(d *Descriptor) { d.Kind = "socks" }, wantErr: ErrUnknownKind},
		{name: "blank server", mutate: func(d *Descriptor) { d.Server = "  " }, wantErr: ErrMissingServer},
		{name: "port zero", mutate: func(d *Descriptor) { d.Port = 0 }, wantErr: ErrInvalidPort},
		{name: "port too large", mutate: func(d *Descriptor) { d.Port = 65536 }, wantErr: ErrInvalidPort},
		{name: "nil credential", mutate: func(d *Descriptor) { d.Credential = nil }, wantErr: ErrMissingCredential},
		{name: "empty password", mutate: func(d *Descriptor) { d.Credential = PasswordCredential{} }, wantErr: ErrMissingCredential},
		{
			name: "ss without cipher",
			mutate: func(d *Descriptor) {
				d.Kind = KindShadowsocks
				d.Credential = ShadowsocksCredential{Password: "pw"}
			},
			wantErr: ErrMissingCredential,
		},
		{
			name: "hysteria2 anonymous",
			mutate: func(d *Descriptor) {
				d.Kind = KindHysteria2
				d.Credential = PasswordCredential{}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := base
			tt.mutate(&d)
			err := d.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestDescriptorHelpers(t *testing.T) {
	d := Descriptor{Kind: KindVLess, Server: "2001:db8::1", Port: 8443, Credential: UUIDCredential{UUID: "id-1"}}
	assert.Equal(t, "[2001:db8::1]:8443", d.Address())
	assert.Equal(t, "id-1", d.UUID())
	assert.Empty(t, d.Password())
	assert.Equal(t, NetworkTCP, d.NetworkOrDefault())

	d.Transport = &Transport{Network: NetworkGRPC, ServiceName: "svc"}
	assert.Equal(t, NetworkGRPC, d.NetworkOrDefault())

	ss := Descriptor{Credential: ShadowsocksCredential{Cipher: "aes-128-gcm", Password: "pw"}}
	assert.Equal(t, "pw", ss.Password())
	assert.Equal(t, "aes-128-gcm:pw", ss.Credential.Primary())

	assert.Equal(t, "trojan-example.com:443", DefaultName(KindTrojan, "example.com", 443))
}
