package source

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// Kind is the origin of a video, which decides how it is opened.
type Kind int

const (
	KindYouTube Kind = iota + 1
	KindTwitch
	KindStremio
)

func (k Kind) String() string {
	switch k {
	case KindYouTube:
		return "youtube"
	case KindTwitch:
		return "twitch"
	case KindStremio:
		return "stremio"
	default:
		return "unknown"
	}
}

var twitchPrefixes = []string{"https://twitch.tv/", "https://www.twitch.tv/"}

// Stremio streams are served by the local stremio server, e.g.
// http://127.0.0.1:11470/9d6bc3eab9687dcfe75b2933e7b46872726580aa/1
const stremioPrefix = "http://127.0.0.1:11470/"

var videoIDPattern = regexp.MustCompile(`^[\w-]+$`)

// Source is a classified video URL.
type Source struct {
	Kind Kind
	URL  string
	// VideoID is set for KindYouTube only.
	VideoID string
}

// Classify maps url to exactly one Source kind.
func Classify(rawURL string) (Source, error) {
	switch {
	case hasAnyPrefix(rawURL, twitchPrefixes):
		return Source{Kind: KindTwitch, URL: rawURL}, nil
	case strings.HasPrefix(rawURL, stremioPrefix):
		return Source{Kind: KindStremio, URL: rawURL}, nil
	}

	u, ok := watchURL(rawURL)
	if !ok {
		return Source{}, fmt.Errorf("%w: %s", ErrUnsupportedURL, rawURL)
	}

	id := u.Query().Get("v")
	if id == "" || !videoIDPattern.MatchString(id) {
		return Source{}, fmt.Errorf("%w: %s", ErrVideoIDNotFound, rawURL)
	}
	return Source{Kind: KindYouTube, URL: rawURL, VideoID: id}, nil
}

// watchURL reports whether rawURL has the shape of a youtube watch page:
// an absolute http(s) URL whose path is /watch.
func watchURL(rawURL string) (*url.URL, bool) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return nil, false
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return nil, false
	}
	return u, strings.TrimSuffix(u.Path, "/") == "/watch"
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}
