package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"
)

// GenerateKey creates a cache key with prefix and ID.
func GenerateKey(prefix string, id string) string {
	return fmt.Sprintf("%s:%s", prefix, id)
}

// Key builds "operation:hash(params)". Params are hashed in sorted key
// order, so two logically identical requests produce the same key no matter
// how the arguments were assembled.
func Key(operation string, params map[string]interface{}) string {
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		fmt.Fprintf(&b, "%s=%v;", name, params[name])
	}

	sum := sha256.Sum256([]byte(b.String()))
	return operation + ":" + hex.EncodeToString(sum[:])[:16]
}

const sizeBase = 64

// EstimateSize returns a heuristic byte size for a value: a fixed base cost
// plus a recursive estimate for composite values. Only monotonicity matters,
// not exactness.
func EstimateSize(value interface{}) int64 {
	if value == nil {
		return sizeBase
	}
	if _, ok := value.(time.Time); ok {
		return sizeBase
	}
	return estimateValue(reflect.ValueOf(value))
}

func estimateValue(rv reflect.Value) int64 {
	if !rv.IsValid() {
		return sizeBase
	}

	switch rv.Kind() {
	case reflect.String:
		return sizeBase + int64(rv.Len())
	case reflect.Slice, reflect.Array:
		size := int64(sizeBase)
		for i := 0; i < rv.Len(); i++ {
			size += estimateValue(rv.Index(i))
		}
		return size
	case reflect.Map:
		size := int64(sizeBase)
		iter := rv.MapRange()
		for iter.Next() {
			size += estimateValue(iter.Key()) + estimateValue(iter.Value())
		}
		return size
	case reflect.Struct:
		if rv.Type() == reflect.TypeOf(time.Time{}) {
			return sizeBase
		}
		size := int64(sizeBase)
		for i := 0; i < rv.NumField(); i++ {
			size += estimateValue(rv.Field(i))
		}
		return size
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return sizeBase
		}
		return sizeBase + estimateValue(rv.Elem())
	default:
		return sizeBase
	}
}
