package handler

import (
	"net/http"
	"time"

	"github.com/familyportal/devicelink/internal/httputil"
)

func writeJSON(w http.ResponseWriter, status int, data any) {
	httputil.WriteJSON(w, status, data)
}

func writeError(w http.ResponseWriter, err error) {
	httputil.WriteError(w, err)
}

// epochMillis is the timestamp format the dashboard clients compare against Date.now().
func epochMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func seconds(d time.Duration) int64 {
	return int64(d / time.Second)
}
