package pipeline

import (
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strings"
)

const (
	defaultVoiceExt = ".ogg"
	videoExt        = ".mp4"
)

var safeExt = regexp.MustCompile(`^\.[a-z0-9]{1,5}$`)

// voiceFileName names a downloaded voice clip "{timestamp}_{index}{ext}",
// taking the extension from the URL path when it is short and alphanumeric.
func voiceFileName(rawURL string, timestamp int64, index int) string {
	return fmt.Sprintf("%d_%d%s", timestamp, index, urlExt(rawURL))
}

// videoFileName names a downloaded video clip "{timestamp}_{index}.mp4".
func videoFileName(timestamp int64, index int) string {
	return fmt.Sprintf("%d_%d%s", timestamp, index, videoExt)
}

func urlExt(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return defaultVoiceExt
	}
	ext := strings.ToLower(path.Ext(parsed.Path))
	if !safeExt.MatchString(ext) {
		return defaultVoiceExt
	}
	return ext
}
