package config

import "github.com/sunshine-walker-93/edge_config_admin/internal/rule"

// SystemOperator stamps versions the store creates on its own.
const SystemOperator = "system"

const defaultDescription = "Baseline edge configuration"

// DefaultRules is the baseline plan written to an empty namespace.
func DefaultRules() []rule.Rule {
	return []rule.Rule{
		{ID: "default-cache-images", Description: "Cache images for a week", Body: rule.Cache{Path: "/images/*", TTL: 604800}},
		{ID: "default-cache-fonts", Description: "Cache fonts for 30 days", Body: rule.Cache{Path: "/fonts/*", TTL: 2592000}},
		{ID: "default-hsts", Description: "Enforce HTTPS", Body: rule.Header{
			Action: "set",
			Name:   "Strict-Transport-Security",
			Value:  "max-age=31536000; includeSubDomains",
		}},
		{ID: "default-compression", Body: rule.Performance{Optimization: "compression", Enabled: true}},
		{ID: "default-api-rate-limit", Description: "Public API rate limit", Body: rule.RateLimit{
			Path:          "/api/public/*",
			Limit:         100,
			WindowSeconds: 60,
		}},
		{ID: "default-nosniff", Body: rule.Header{Action: "set", Name: "X-Content-Type-Options", Value: "nosniff"}},
		{ID: "default-frame-options", Body: rule.Header{Action: "set", Name: "X-Frame-Options", Value: "DENY"}},
		{ID: "default-referrer-policy", Body: rule.Header{Action: "set", Name: "Referrer-Policy", Value: "strict-origin-when-cross-origin"}},
	}
}
