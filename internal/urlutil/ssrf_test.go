package urlutil

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeResolver struct {
	addrs map[string][]net.IPAddr
	err   error
}

func (f *fakeResolver) LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.addrs[host], nil
}

func TestIsInternalLoopbackAndPrivate(t *testing.T) {
	assert.True(t, IsInternal("http://127.0.0.1/"))
	assert.True(t, IsInternal("http://10.0.0.5/"))
	assert.True(t, IsInternal("http://192.168.1.1/"))
	assert.True(t, IsInternal("http://[::1]/"))
}

func TestIsInternalReservedHostPatterns(t *testing.T) {
	assert.True(t, isInternalWithResolver("http://service.local/", &fakeResolver{
		addrs: map[string][]net.IPAddr{"service.local": {{IP: net.ParseIP("93.184.216.34")}}},
	}))
	assert.True(t, isInternalWithResolver("http://api.internal/", &fakeResolver{}))
	assert.True(t, isInternalWithResolver("http://site.test/", &fakeResolver{}))
	assert.True(t, isInternalWithResolver("http://acme.example/", &fakeResolver{}))
}

func TestIsInternalPublicHostResolvesFalse(t *testing.T) {
	got := isInternalWithResolver("http://docs.example-public.org/", &fakeResolver{
		addrs: map[string][]net.IPAddr{
			"docs.example-public.org": {{IP: net.ParseIP("93.184.216.34")}},
		},
	})
	assert.False(t, got)
}

func TestIsInternalUnresolvable(t *testing.T) {
	got := isInternalWithResolver("http://nowhere.invalid-tld/", &fakeResolver{err: assert.AnError})
	assert.True(t, got)
}
