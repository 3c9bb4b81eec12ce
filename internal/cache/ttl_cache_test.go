package cache

import (
	"testing"
	"time"

	organizationdomain "github.com/apexhq/apex/internal/organization/domain"
	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
)

func TestTTLCacheExpiresEntries(t *testing.T) {
	now := time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC)
	c := &ttlCache[string, int]{
		entries: make(map[string]entry[int]),
		now:     func() time.Time { return now },
	}

	c.Set("a", 1, time.Minute)

	got, ok := c.Get("a")
	require.True(t, ok)
	require.Equal(t, 1, got)

	now = now.Add(2 * time.Minute)
	_, ok = c.Get("a")
	require.False(t, ok)

	// The expired read dropped the entry.
	c.mu.RLock()
	_, present := c.entries["a"]
	c.mu.RUnlock()
	require.False(t, present)
}

func TestTTLCacheRejectsNonPositiveTTL(t *testing.T) {
	c := NewTTLCache[string, string]()
	c.Set("a", "x", 0)

	_, ok := c.Get("a")
	require.False(t, ok)
}

func TestCredentialsCacheSkipsEmptyKey(t *testing.T) {
	c := NewCredentialsCache()
	orgID := snowflake.ID(1001)

	c.Set(orgID, organizationdomain.VapiCredentials{})
	_, ok := c.Get(orgID)
	require.False(t, ok)

	c.Set(orgID, organizationdomain.VapiCredentials{APIKey: "vapi_sk_1"})
	creds, ok := c.Get(orgID)
	require.True(t, ok)
	require.Equal(t, "vapi_sk_1", creds.APIKey)

	c.Invalidate(orgID)
	_, ok = c.Get(orgID)
	require.False(t, ok)
}
