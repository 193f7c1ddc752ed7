package cache

import "time"

// Metric helpers are nil-safe so the cache works without a registry in tests

func (c *PermissionCache) countHit(entryType string) {
	if c.metrics != nil {
		c.metrics.CacheHitsTotal.WithLabelValues(entryType).Inc()
	}
}

func (c *PermissionCache) countMiss(entryType string) {
	if c.metrics != nil {
		c.metrics.CacheMissesTotal.WithLabelValues(entryType).Inc()
	}
}

func (c *PermissionCache) countStaleServed(entryType string) {
	if c.metrics != nil {
		c.metrics.CacheStaleServedTotal.WithLabelValues(entryType).Inc()
	}
}

func (c *PermissionCache) countEviction(entryType string) {
	if c.metrics != nil {
		c.metrics.CacheEvictionsTotal.WithLabelValues(entryType).Inc()
	}
}

func (c *PermissionCache) observeFetch(kind string, start time.Time, err error) {
	if c.metrics == nil {
		return
	}
	c.metrics.FetchDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
	if err != nil {
		c.metrics.FetchErrorsTotal.WithLabelValues(kind).Inc()
	}
}

func (c *PermissionCache) updateEntryGauges() {
	if c.metrics == nil {
		return
	}
	c.mu.RLock()
	roleCount := len(c.roles)
	userCount := c.users.Len()
	c.mu.RUnlock()
	c.metrics.CacheEntries.WithLabelValues("role").Set(float64(roleCount))
	c.metrics.CacheEntries.WithLabelValues("user").Set(float64(userCount))
}
