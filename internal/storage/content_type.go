package storage

import (
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// Media describes sniffed media bytes.
type Media struct {
	ContentType string
	Extension   string
}

// Sniff detects the type of data from its leading bytes.
func Sniff(data []byte) Media {
	m := mimetype.Detect(data)
	return Media{ContentType: m.String(), Extension: m.Extension()}
}

// IsCapturable reports whether the content type is something a disappearing
// message can carry: a picture, a video, or a voice note.
func IsCapturable(contentType string) bool {
	base := strings.ToLower(strings.TrimSpace(strings.Split(contentType, ";")[0]))
	if base == "application/ogg" {
		return true
	}
	return strings.HasPrefix(base, "image/") ||
		strings.HasPrefix(base, "video/") ||
		strings.HasPrefix(base, "audio/")
}
