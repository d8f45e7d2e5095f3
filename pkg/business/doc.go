// Package business serves the owner's view of a business: its profile,
// live team and user counts, subscription and typed settings.
//
// Only the owner of a business account can read or edit it. A caller who
// owns no business receives BUSINESS_NOT_FOUND, the same answer as for a
// business that does not exist.
//
// # Settings
//
// PUT /business accepts a partial settings object. Fields that are sent
// replace the current values and everything else is kept:
//
//	{"name": "Acme Finance", "settings": {"timezone": "Europe/Berlin"}}
//
// The merged settings are validated before they are stored. The default
// currency must be an uppercase ISO 4217 code, fiscalYearStart a
// YYYY-MM-DD date and timezone an IANA zone name.
//
// # Rate Limits
//
// Reads are limited to 50 and writes to 10 requests per user per minute.
// Any middleware.Limiter can be injected, so the Redis-backed limiter can
// share quotas across replicas:
//
//	limits := business.Limits{
//		Read:  middleware.NewDistributedRateLimiter(client, readCfg, "finoly:ratelimit"),
//		Write: middleware.NewDistributedRateLimiter(client, writeCfg, "finoly:ratelimit"),
//	}
//	business.NewHandlers(service, limits, auditLogger, metrics, logger).RegisterRoutes(api)
package business
