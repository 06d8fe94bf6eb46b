package utils

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// GenerateTrackingPixelURL generates a tracking pixel URL for email opens
func GenerateTrackingPixelURL(baseURL, messageID string) string {
	return fmt.Sprintf("%s/track/open/%s/%s", baseURL, messageID, signToken(messageID))
}

// GenerateClickTrackURL generates a tracked URL for links
func GenerateClickTrackURL(baseURL, messageID, originalURL string) string {
	return fmt.Sprintf("%s/track/click/%s/%s?url=%s", baseURL, messageID, signToken(messageID), url.QueryEscape(originalURL))
}

// GenerateUnsubscribeURL builds the per-enrollment unsubscribe link that
// delivery-event ingestion resolves back to an enrollment id.
func GenerateUnsubscribeURL(baseURL string, enrollmentID uint) string {
	id := strconv.FormatUint(uint64(enrollmentID), 10)
	return fmt.Sprintf("%s/unsubscribe/%s/%s", strings.TrimRight(baseURL, "/"), id, signToken(id))
}

// VerifyUnsubscribeToken checks a token produced by GenerateUnsubscribeURL.
func VerifyUnsubscribeToken(enrollmentID uint, token string) bool {
	want := signToken(strconv.FormatUint(uint64(enrollmentID), 10))
	return hmac.Equal([]byte(want), []byte(token))
}

// InjectTracking injects tracking into email content
func InjectTracking(htmlContent, baseURL, messageID string) string {
	pixelURL := GenerateTrackingPixelURL(baseURL, messageID)
	trackingPixel := fmt.Sprintf(`<img src="%s" alt="" width="1" height="1" style="display:none">`, pixelURL)

	modifiedHTML := injectClickTracking(htmlContent, baseURL, messageID)

	return modifiedHTML + trackingPixel
}

func injectClickTracking(html, baseURL, messageID string) string {
	// This is a simplified version. Consider using an HTML parser for production
	startTag := "<a href=\""
	endTag := "\""
	offset := 0

	for {
		startIdx := strings.Index(html[offset:], startTag)
		if startIdx == -1 {
			break
		}
		startIdx += offset + len(startTag)

		endIdx := strings.Index(html[startIdx:], endTag)
		if endIdx == -1 {
			break
		}
		endIdx += startIdx

		originalURL := html[startIdx:endIdx]
		// unsubscribe links must stay resolvable without the tracker
		if strings.Contains(originalURL, "/unsubscribe/") {
			offset = endIdx
			continue
		}
		trackedURL := GenerateClickTrackURL(baseURL, messageID, originalURL)

		html = html[:startIdx] + trackedURL + html[endIdx:]
		offset = startIdx + len(trackedURL)
	}

	return html
}

func signToken(value string) string {
	mac := hmac.New(sha256.New, []byte(trackingSecret()))
	mac.Write([]byte(value))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))[:20]
}
