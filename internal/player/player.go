package player

import (
	"bytes"
	"embed"
	"encoding/json"
	"net/http"
	"time"
)

//go:embed assets/index.html
var assets embed.FS

const endpointPlaceholder = `"{{STREAM_ENDPOINT}}"`

// Handler serves the player page. streamEndpoint is where the transcoder
// publishes stremio streams.
func Handler(streamEndpoint string) (http.Handler, error) {
	page, err := assets.ReadFile("assets/index.html")
	if err != nil {
		return nil, err
	}
	endpoint, err := json.Marshal(streamEndpoint)
	if err != nil {
		return nil, err
	}
	page = bytes.ReplaceAll(page, []byte(endpointPlaceholder), endpoint)
	modified := time.Now()

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/", "/index.html":
		default:
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Cache-Control", "no-store")
		http.ServeContent(w, r, "index.html", modified, bytes.NewReader(page))
	}), nil
}
