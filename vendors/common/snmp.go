// Package common holds decoding helpers shared by the vendor drivers:
// SNMP value coercion and the serial/MAC/optical-power codecs that every
// PON vendor mangles in its own way.
package common

import "strings"

// InvalidValue is the magic integer many PON OLTs return for an attribute
// of an offline ONU, instead of an SNMP error.
const InvalidValue int64 = 2147483647

// ToInt64 extracts an int64 from the numeric types an SNMP walk may yield.
func ToInt64(value interface{}) (int64, bool) {
	switch v := value.(type) {
	case int:
		return int64(v), true
	case int32:
		return int64(v), true
	case int64:
		return v, true
	case uint:
		return int64(v), true
	case uint32:
		return int64(v), true
	case uint64:
		return int64(v), true
	default:
		return 0, false
	}
}

// ToString extracts a string from an SNMP result, accepting both string
// and raw byte values.
func ToString(value interface{}) (string, bool) {
	switch v := value.(type) {
	case string:
		return v, true
	case []byte:
		return string(v), true
	default:
		return "", false
	}
}

// Lookup finds an OID in walk results regardless of the leading-dot
// convention: gosnmp reports names with a leading dot, OID constants are
// usually written without one.
func Lookup(results map[string]interface{}, oid string) (interface{}, bool) {
	if results == nil {
		return nil, false
	}
	if v, ok := results[oid]; ok {
		return v, true
	}
	if strings.HasPrefix(oid, ".") {
		if v, ok := results[strings.TrimPrefix(oid, ".")]; ok {
			return v, true
		}
		return nil, false
	}
	v, ok := results["."+oid]
	return v, ok
}
