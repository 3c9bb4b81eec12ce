package cache

import (
	"time"

	organizationdomain "github.com/apexhq/apex/internal/organization/domain"
	"github.com/bwmarrin/snowflake"
)

const defaultCredentialsTTL = time.Minute

// CredentialsCache stores hot-path Vapi key lookups for the campaign
// executor. The TTL is short so a rotated key takes effect within a tick.
type CredentialsCache interface {
	Get(orgID snowflake.ID) (organizationdomain.VapiCredentials, bool)
	Set(orgID snowflake.ID, creds organizationdomain.VapiCredentials)
	Invalidate(orgID snowflake.ID)
}

type credentialsCache struct {
	entries Cache[snowflake.ID, organizationdomain.VapiCredentials]
	ttl     time.Duration
}

// NewCredentialsCache returns an in-memory cache tuned for executor ticks.
func NewCredentialsCache() CredentialsCache {
	return &credentialsCache{
		entries: NewTTLCache[snowflake.ID, organizationdomain.VapiCredentials](),
		ttl:     defaultCredentialsTTL,
	}
}

func (c *credentialsCache) Get(orgID snowflake.ID) (organizationdomain.VapiCredentials, bool) {
	return c.entries.Get(orgID)
}

func (c *credentialsCache) Set(orgID snowflake.ID, creds organizationdomain.VapiCredentials) {
	if creds.APIKey == "" {
		return
	}
	c.entries.Set(orgID, creds, c.ttl)
}

func (c *credentialsCache) Invalidate(orgID snowflake.ID) {
	c.entries.Delete(orgID)
}
