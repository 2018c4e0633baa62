package session

import (
	"encoding/json"
	"fmt"
	"time"
)

const pageLoadedScript = `document.readyState === "complete"`

// injectTokenScript keeps writing the token into the page's localStorage
// through a fresh iframe, since the app removes window.localStorage.
func injectTokenScript(token string, interval time.Duration) string {
	return fmt.Sprintf(`(() => {
  const token = %s;
  if (window.__watchpartyLogin) {
    clearInterval(window.__watchpartyLogin);
  }
  window.__watchpartyLogin = setInterval(() => {
    document.body.appendChild(document.createElement("iframe")).contentWindow.localStorage.token = JSON.stringify(token);
  }, %d);
  return true;
})()`, jsString(token), interval.Milliseconds())
}

// tokenStoredScript reports whether the injected token is visible in storage.
func tokenStoredScript(token string) string {
	return fmt.Sprintf(`(() => {
  const frame = document.body.appendChild(document.createElement("iframe"));
  const stored = frame.contentWindow.localStorage.token;
  frame.remove();
  return stored === JSON.stringify(%s);
})()`, jsString(token))
}

func jsString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
