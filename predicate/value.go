package predicate

import (
	"cmp"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var valueTypes = map[string]bool{
	"bool": true, "boolean": true,
	"int": true, "long": true,
	"float": true, "double": true,
	"string": true,
	"date": true, "timestamp": true,
}

func checkType(t string) error {
	if !valueTypes[strings.ToLower(t)] {
		return fmt.Errorf("unsupported value type %q", t)
	}
	return nil
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
}

// compare orders two raw values of the given type. It returns false if
// either value does not parse.
func compare(valueType, a, b string) (int, bool) {
	switch strings.ToLower(valueType) {
	case "bool", "boolean":
		x, errA := strconv.ParseBool(a)
		y, errB := strconv.ParseBool(b)
		if errA != nil || errB != nil {
			return 0, false
		}
		return boolOrder(x) - boolOrder(y), true
	case "int", "long":
		x, errA := strconv.ParseInt(a, 10, 64)
		y, errB := strconv.ParseInt(b, 10, 64)
		if errA != nil || errB != nil {
			return 0, false
		}
		return cmp.Compare(x, y), true
	case "float", "double":
		x, errA := strconv.ParseFloat(a, 64)
		y, errB := strconv.ParseFloat(b, 64)
		if errA != nil || errB != nil {
			return 0, false
		}
		return cmp.Compare(x, y), true
	case "date":
		x, errA := time.Parse(time.DateOnly, a)
		y, errB := time.Parse(time.DateOnly, b)
		if errA != nil || errB != nil {
			return 0, false
		}
		return x.Compare(y), true
	case "timestamp":
		x, okA := parseTimestamp(a)
		y, okB := parseTimestamp(b)
		if !okA || !okB {
			return 0, false
		}
		return x.Compare(y), true
	case "string":
		return strings.Compare(a, b), true
	}
	return 0, false
}

func boolOrder(b bool) int {
	if b {
		return 1
	}
	return 0
}

func parseTimestamp(s string) (time.Time, bool) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
