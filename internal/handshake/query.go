package handshake

import (
	"log/slog"
	"net/url"
	"strconv"
	"strings"
)

// DefaultMaxMessageSizeBytes is used when a client sends no
// maxMessageSizeBytes query parameter.
const DefaultMaxMessageSizeBytes = 0 // 0 means unbounded

// ClientConfig is the set of subscription options a client may request via
// query parameters on the /subscribe upgrade request.
type ClientConfig struct {
	Cursor              uint64 // meaningful only when HasCursor is set; without a cursor the client starts at the live tail
	HasCursor           bool
	WantedCollections   []string
	WantedDIDs          []string
	MaxMessageSizeBytes int64
	Compress            bool
	RequireHello        bool
}

// ParseClientConfig extracts a ClientConfig from an upgrade request's raw
// path (path plus query string). Unknown parameters are logged and ignored
// rather than rejected, so clients written against newer relay versions
// still connect.
func ParseClientConfig(log *slog.Logger, rawPath string) (ClientConfig, error) {
	var cfg ClientConfig
	cfg.MaxMessageSizeBytes = DefaultMaxMessageSizeBytes

	u, err := url.Parse(rawPath)
	if err != nil {
		return cfg, err
	}
	q := u.Query()

	if raw, ok := q["cursor"]; ok && len(raw) > 0 && raw[0] != "" {
		v, err := strconv.ParseUint(raw[0], 10, 64)
		if err != nil {
			return cfg, err
		}
		cfg.Cursor = v
		cfg.HasCursor = true
	}

	cfg.WantedCollections = q["wantedCollections"]
	cfg.WantedDIDs = q["wantedDids"]

	// maxMessageSizeBytes may be repeated; the smallest value across all
	// occurrences wins, matching a conservative client-imposed cap.
	if raw, ok := q["maxMessageSizeBytes"]; ok {
		for _, s := range raw {
			v, err := strconv.ParseInt(s, 10, 64)
			if err != nil {
				return cfg, err
			}
			if cfg.MaxMessageSizeBytes == 0 || v < cfg.MaxMessageSizeBytes {
				cfg.MaxMessageSizeBytes = v
			}
		}
	}

	cfg.Compress = parseBoolParam(q.Get("compress"))
	cfg.RequireHello = parseBoolParam(q.Get("requireHello"))

	for key := range q {
		switch key {
		case "cursor", "wantedCollections", "wantedDids", "maxMessageSizeBytes", "compress", "requireHello":
		default:
			if log != nil {
				log.Warn("ignoring unknown subscribe query parameter", "param", key)
			}
		}
	}

	return cfg, nil
}

func parseBoolParam(s string) bool {
	switch strings.ToLower(s) {
	case "1", "true", "yes":
		return true
	default:
		return false
	}
}
