package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
)

// scannerPatterns are User-Agent substrings (lowercase) of mail-client link
// scanners and prefetchers. Links land in participant inboxes, and these
// agents fetch every URL before the participant ever clicks. Validation is
// read-only so a scanner hit is harmless; the filter tags the request so
// rejection logs can tell scanner traffic from participants.
var scannerPatterns = []string{
	"googlebot", "bingbot", "slurp", "duckduckbot",
	"baiduspider", "yandexbot", "facebookexternalhit",
	"twitterbot", "linkedinbot", "applebot",
	"semrushbot", "ahrefsbot", "mj12bot", "petalbot", "bytespider",
	"ms-office", "outlook", "barracuda", "proofpoint",
	"mimecast", "symantec", "urldefense",
}

// BotFilter sets c.Set("is_scanner", true) for known scanner user agents so
// downstream logging can tell scanner traffic from participants.
func BotFilter() gin.HandlerFunc {
	return func(c *gin.Context) {
		ua := strings.ToLower(c.Request.UserAgent())
		if ua == "" || isScanner(ua) {
			c.Set("is_scanner", true)
		}
		c.Next()
	}
}

// IsScanner reports whether the bot filter flagged the request.
func IsScanner(c *gin.Context) bool {
	return c.GetBool("is_scanner")
}

func isScanner(ua string) bool {
	for _, pattern := range scannerPatterns {
		if strings.Contains(ua, pattern) {
			return true
		}
	}
	return false
}
