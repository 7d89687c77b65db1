package parsing

import "github.com/rpattn/eventingest/internal/domain"

// reservedKeys collide with object prototype members of the JSON consumers
// that read stored rows; headers carrying them are never written.
var reservedKeys = map[string]struct{}{
	"__proto__":            {},
	"constructor":          {},
	"prototype":            {},
	"__defineGetter__":     {},
	"__defineSetter__":     {},
	"__lookupGetter__":     {},
	"__lookupSetter__":     {},
	"hasOwnProperty":       {},
	"isPrototypeOf":        {},
	"propertyIsEnumerable": {},
	"toLocaleString":       {},
	"toString":             {},
	"valueOf":              {},
}

// IsReservedKey reports whether key is rejected by SafeSet.
func IsReservedKey(key string) bool {
	_, reserved := reservedKeys[key]
	return reserved
}

// SafeSet writes value under key unless key is reserved. It reports whether the write happened.
func SafeSet(row domain.Row, key string, value any) bool {
	if row == nil || IsReservedKey(key) {
		return false
	}
	row[key] = value
	return true
}

// SafeGet reads key from row, treating reserved keys as absent.
func SafeGet(row domain.Row, key string) (any, bool) {
	if row == nil || IsReservedKey(key) {
		return nil, false
	}
	value, ok := row[key]
	return value, ok
}
