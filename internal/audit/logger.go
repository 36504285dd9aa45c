package audit

import (
	"context"
	"net"
	"net/http"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type EventType string

const (
	EventCodeCreate      EventType = "code_create"
	EventLinkSuccess     EventType = "link_success"
	EventLinkFailure     EventType = "link_failure"
	EventLinkRejected    EventType = "link_rejected"
	EventRateLimitExceed EventType = "rate_limit_exceeded"
)

// Event never carries raw codes or tokens. Codes go through util.MaskCode
// before they get here.
type Event struct {
	Type      EventType
	CodeID    string
	Code      string
	Subject   string
	IP        string
	UserAgent string
	Details   map[string]interface{}
}

func Log(ctx context.Context, event Event) {
	logger := log.With().
		Str("audit", "pairing").
		Str("event_type", string(event.Type)).
		Time("timestamp", time.Now()).
		Logger()

	if reqID := chimiddleware.GetReqID(ctx); reqID != "" {
		logger = logger.With().Str("request_id", reqID).Logger()
	}
	if event.CodeID != "" {
		logger = logger.With().Str("code_id", event.CodeID).Logger()
	}
	if event.Code != "" {
		logger = logger.With().Str("code", event.Code).Logger()
	}
	if event.Subject != "" {
		logger = logger.With().Str("sub", event.Subject).Logger()
	}
	if event.IP != "" {
		logger = logger.With().Str("ip", event.IP).Logger()
	}
	if event.UserAgent != "" {
		logger = logger.With().Str("user_agent", event.UserAgent).Logger()
	}

	logEvent := logger.Info()
	if event.Type == EventLinkFailure || event.Type == EventRateLimitExceed {
		logEvent = logger.Warn()
	}
	for k, v := range event.Details {
		logEvent = addField(logEvent, k, v)
	}
	logEvent.Msg("pairing audit event")
}

func addField(e *zerolog.Event, key string, value interface{}) *zerolog.Event {
	switch v := value.(type) {
	case string:
		return e.Str(key, v)
	case int:
		return e.Int(key, v)
	case int64:
		return e.Int64(key, v)
	case bool:
		return e.Bool(key, v)
	case error:
		return e.AnErr(key, v)
	default:
		return e.Interface(key, v)
	}
}

func LogFromRequest(r *http.Request, event Event) {
	event.IP = ClientIP(r)
	event.UserAgent = r.UserAgent()
	Log(r.Context(), event)
}

// ClientIP expects chi's RealIP middleware to have rewritten RemoteAddr.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
