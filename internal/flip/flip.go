package flip

import (
	"mime"
	"strings"
	"time"
)

// ContentType is the coarse kind of a flip background, used to pick a renderer.
type ContentType int

const (
	ContentUndefined ContentType = iota
	ContentImage
	ContentVideo
)

func (c ContentType) String() string {
	switch c {
	case ContentImage:
		return "image"
	case ContentVideo:
		return "video"
	default:
		return "undefined"
	}
}

// ParseContentType is the inverse of String; unknown names map to ContentUndefined.
func ParseContentType(s string) ContentType {
	switch s {
	case "image":
		return ContentImage
	case "video":
		return ContentVideo
	default:
		return ContentUndefined
	}
}

// ClassifyContentType maps a Content-Type header value to a ContentType by prefix.
func ClassifyContentType(header string) ContentType {
	header = strings.TrimSpace(header)
	if header == "" {
		return ContentUndefined
	}

	mediaType, _, err := mime.ParseMediaType(header)
	if err != nil {
		mediaType = strings.ToLower(header)
	}

	switch {
	case strings.HasPrefix(mediaType, "image"):
		return ContentImage
	case strings.HasPrefix(mediaType, "video"):
		return ContentVideo
	default:
		return ContentUndefined
	}
}

type Status string

const (
	StatusPending     Status = "pending"
	StatusDownloading Status = "downloading"
	StatusDownloaded  Status = "downloaded"
	StatusFailed      Status = "failed"
)

// Flip is a word-bound media message: a background (image or video) and an optional sound clip.
type Flip struct {
	ID                    string
	Word                  string
	BackgroundURL         string
	SoundURL              string
	BackgroundContentType ContentType
	Status                Status
	UpdatedAt             time.Time
}

// HasBackground reports whether the flip has a background URL to fetch.
func (f *Flip) HasBackground() bool {
	return strings.TrimSpace(f.BackgroundURL) != ""
}

// HasSound reports whether the flip has a sound URL to fetch.
func (f *Flip) HasSound() bool {
	return strings.TrimSpace(f.SoundURL) != ""
}

func (f *Flip) IsDownloadable() bool {
	return f.HasBackground() || f.HasSound()
}
