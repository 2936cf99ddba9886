package gateway

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/lexconsult/client/internal/model"
)

// Field priority orders for loosely shaped gateway responses. Earlier paths win.
var (
	TokenPaths     = []string{"token", "access_token", "jwt"}
	RequestIDPaths = []string{"id", "request_id", "data.id", "result.id", "request.id"}
	UserIDPaths    = []string{"user.id"}
	UserPhonePaths = []string{"user.phone", "user.phone_number"}
)

// Decode parses a JSON body into generic values, keeping numbers as json.Number
func Decode(body []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

// Extract returns the first scalar found at one of the dot-separated paths.
// Strings are returned as-is, numbers in their JSON text form. Missing, null,
// empty-string and non-scalar values are skipped.
func Extract(v any, paths ...string) (string, bool) {
	id, ok := ExtractID(v, paths...)
	return id.Value, ok
}

// ExtractID is Extract that also remembers whether the value was a JSON number
func ExtractID(v any, paths ...string) (model.ID, bool) {
	for _, path := range paths {
		if id, ok := scalarAt(v, path); ok {
			return id, true
		}
	}
	return model.ID{}, false
}

func scalarAt(v any, path string) (model.ID, bool) {
	cur := v
	for _, part := range strings.Split(path, ".") {
		obj, ok := cur.(map[string]any)
		if !ok {
			return model.ID{}, false
		}
		if cur, ok = obj[part]; !ok {
			return model.ID{}, false
		}
	}
	switch x := cur.(type) {
	case string:
		return model.StringID(x), x != ""
	case json.Number:
		return model.ID{Value: x.String(), Numeric: true}, true
	case float64:
		return model.ID{Value: strconv.FormatFloat(x, 'f', -1, 64), Numeric: true}, true
	default:
		return model.ID{}, false
	}
}
