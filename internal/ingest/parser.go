package ingest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"golang.org/x/text/encoding/htmlindex"

	"error-tracker/internal/jobs"
	"error-tracker/internal/models"
)

// decodeBody reverses the transfer encoding and charset declared on the
// post, bounding decompressed size at maxBytes.
func decodeBody(body []byte, contentEncoding, charSet string, maxBytes int64) ([]byte, error) {
	if maxBytes <= 0 {
		maxBytes = 1 << 20
	}

	var reader io.Reader = bytes.NewReader(body)
	switch strings.ToLower(contentEncoding) {
	case "", "identity":
	case "gzip":
		gz, err := gzip.NewReader(reader)
		if err != nil {
			return nil, jobs.Validation(fmt.Errorf("gzip: %w", err))
		}
		defer gz.Close()
		reader = gz
	case "deflate":
		fl := flate.NewReader(reader)
		defer fl.Close()
		reader = fl
	default:
		return nil, jobs.Validationf("unsupported content encoding %q", contentEncoding)
	}

	limited := io.LimitReader(reader, maxBytes+1)
	decoded, err := io.ReadAll(limited)
	if err != nil {
		return nil, jobs.Validation(fmt.Errorf("decompress: %w", err))
	}
	if int64(len(decoded)) > maxBytes {
		return nil, jobs.Validationf("post body too large (>%d bytes)", maxBytes)
	}

	if charSet != "" && !strings.EqualFold(charSet, "utf-8") {
		enc, err := htmlindex.Get(charSet)
		if err != nil {
			return nil, jobs.Validationf("unknown charset %q", charSet)
		}
		decoded, err = enc.NewDecoder().Bytes(decoded)
		if err != nil {
			return nil, jobs.Validation(fmt.Errorf("decode charset %s: %w", charSet, err))
		}
	}
	return decoded, nil
}

// parseEvents parses a post body into zero or more events. Bodies may hold
// a single event object or an array of them.
func parseEvents(body []byte) ([]*models.Event, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, jobs.Validationf("empty post body")
	}

	var events []*models.Event
	if trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &events); err != nil {
			return nil, jobs.Validation(fmt.Errorf("parse event array: %w", err))
		}
	} else {
		var ev models.Event
		if err := json.Unmarshal(trimmed, &ev); err != nil {
			return nil, jobs.Validation(fmt.Errorf("parse event: %w", err))
		}
		events = append(events, &ev)
	}

	out := events[:0]
	for _, ev := range events {
		if ev == nil {
			continue
		}
		if ev.Type == "" {
			ev.Type = models.TypeLog
		}
		out = append(out, ev)
	}
	if len(out) == 0 {
		return nil, jobs.Validationf("post contained no events")
	}
	return out, nil
}

// stamp applies server-side fields. Client-supplied ids are discarded;
// ids are server-assigned.
func stamp(events []*models.Event, project *models.Project, newID func() string, now time.Time) {
	for _, ev := range events {
		ev.ID = newID()
		ev.ProjectID = project.ID
		ev.OrganizationID = project.OrganizationID
		ev.StackID = ""
		ev.CreatedAt = now
		if ev.Date.IsZero() {
			ev.Date = now
		}
	}
}
