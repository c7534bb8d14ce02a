package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"keypool/internal/utils"
)

// maxBodyBytes bounds request bodies; batch imports are the largest
const maxBodyBytes = 8 << 20

// timestampLayout is the console's wall-clock format, read in the service timezone
const timestampLayout = time.DateTime

// decodeJSON reads an optional JSON body into v. An empty body leaves v untouched.
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	if r.Body == nil {
		return nil
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return utils.Errorf(utils.ErrInvalidArgument, "invalid request payload: %w", err)
	}
	return nil
}

// parseTimestamp accepts "YYYY-MM-DD HH:mm:ss" in loc or RFC 3339
func parseTimestamp(field, value string, loc *time.Location) (*time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	if t, err := time.ParseInLocation(timestampLayout, value, loc); err == nil {
		return &t, nil
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return &t, nil
	}
	return nil, utils.Errorf(utils.ErrInvalidArgument, "%s must be YYYY-MM-DD HH:mm:ss: %q", field, value)
}

func (d *Dependencies) location() *time.Location {
	if d.Config.Timezone != nil {
		return d.Config.Timezone
	}
	return time.Local
}
