package api

import (
	"embed"
	"io"
	"net/http"
)

//go:embed static/*
var scoreboardFS embed.FS

// showScoreboard serves the embedded scoreboard page at the site root.
// The page is static; everything live arrives over /api/events.
func (s *Server) showScoreboard(w http.ResponseWriter, r *http.Request) {
	// The "/" pattern catches every path no other route claims.
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	f, err := scoreboardFS.Open("static/scoreboard.html")
	if err != nil {
		http.Error(w, "Failed to open scoreboard page", http.StatusInternalServerError)
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	io.Copy(w, f)
}
