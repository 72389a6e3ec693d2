package app

import (
	"strconv"
	"time"

	"github.com/unrolled/secure"
)

const (
	defaultHSTSMaxAge = 365 * 24 * time.Hour

	contentSecurityPolicy = "default-src 'self'; frame-ancestors 'none'; object-src 'none'; base-uri 'self'; form-action 'self'"
	permissionsPolicy     = "camera=(), microphone=(), geolocation=(), payment=()"
	referrerPolicy        = "strict-origin-when-cross-origin"
	openerPolicy          = "same-origin"
)

// SecurityHeaders returns the response headers every HTTP surface must set.
func SecurityHeaders() map[string]string {
	return securityHeaders(defaultHSTSMaxAge)
}

func securityHeaders(hsts time.Duration) map[string]string {
	return map[string]string{
		"Strict-Transport-Security":  hstsValue(hsts),
		"Content-Security-Policy":    contentSecurityPolicy,
		"X-Frame-Options":            "DENY",
		"X-Content-Type-Options":     "nosniff",
		"Referrer-Policy":            referrerPolicy,
		"Permissions-Policy":         permissionsPolicy,
		"Cross-Origin-Opener-Policy": openerPolicy,
	}
}

func hstsValue(maxAge time.Duration) string {
	return "max-age=" + strconv.FormatInt(int64(maxAge/time.Second), 10) + "; includeSubDomains; preload"
}

// secureOptions renders the same header table for unrolled/secure. Outside
// production HSTS and the HTTPS redirect are disabled so local plain-HTTP works.
func secureOptions(cfg *Config) secure.Options {
	hsts := defaultHSTSMaxAge
	if cfg != nil && cfg.HSTSMaxAge > 0 {
		hsts = cfg.HSTSMaxAge
	}
	return secure.Options{
		FrameDeny:               true,
		ContentTypeNosniff:      true,
		ReferrerPolicy:          referrerPolicy,
		PermissionsPolicy:       permissionsPolicy,
		ContentSecurityPolicy:   contentSecurityPolicy,
		CrossOriginOpenerPolicy: openerPolicy,
		STSSeconds:              int64(hsts / time.Second),
		STSIncludeSubdomains:    true,
		STSPreload:              true,
		SSLRedirect:             cfg.IsProduction(),
		SSLProxyHeaders:         map[string]string{"X-Forwarded-Proto": "https"},
		IsDevelopment:           !cfg.IsProduction(),
	}
}
