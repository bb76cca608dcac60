// Package identity derives build fingerprints: stable hashes of the subset of
// a build configuration that affects compiled output. Fingerprints key both
// the persistent transform cache and the bundler instance pool, so the same
// logical configuration must hash identically across process restarts.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"reflect"
	"regexp"
	"runtime"
	"sort"
	"strconv"
)

// Target is the platform half of a build request.
type Target struct {
	Platform string `json:"platform"`
	Dev      bool   `json:"dev"`
}

// Options are the fingerprinted inputs of a build.
type Options struct {
	Version   string
	Target    Target
	Transform any
	// Plugins is ordered; only name and position take part in the identity.
	Plugins []string
}

// Fingerprint returns the fingerprint of o.
func (o Options) Fingerprint() string {
	return Fingerprint(o.Version, o.Target, o.Transform, o.Plugins)
}

// PoolKey returns the pool key for bundleName under these options.
func (o Options) PoolKey(bundleName string) string {
	return bundleName + "-" + o.Fingerprint()
}

// Fingerprint hashes the tool version, target, transform configuration and
// ordered plugin names. Plugins are identified by "index:name", so reordering
// the same set yields a different fingerprint.
func Fingerprint(version string, target Target, transform any, plugins []string) string {
	pluginIDs := make([]string, len(plugins))
	for i, name := range plugins {
		pluginIDs[i] = strconv.Itoa(i) + ":" + name
	}

	doc := map[string]any{
		"version":   version,
		"target":    target,
		"transform": newNormalizer().normalize(reflect.ValueOf(transform)),
		"plugins":   pluginIDs,
	}

	// encoding/json sorts map keys, which makes the encoding canonical once
	// every value has been normalized to plain data.
	data, err := json.Marshal(doc)
	if err != nil {
		data = []byte(fmt.Sprintf("%#v", doc))
	}

	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:16])
}

var (
	regexpType   = reflect.TypeOf((*regexp.Regexp)(nil))
	stringerType = reflect.TypeOf((*fmt.Stringer)(nil)).Elem()
)

// cycleMarker stands in for a reference back to a value that is still being
// normalized.
const cycleMarker = "[cycle]"

type visit struct {
	ptr uintptr
	typ reflect.Type
}

// normalizer tracks the references on the current path so self-referencing
// configurations terminate.
type normalizer struct {
	active map[visit]bool
}

func newNormalizer() *normalizer {
	return &normalizer{active: make(map[visit]bool)}
}

// enter marks v as being normalized. It reports false when v is already on
// the current path.
func (n *normalizer) enter(v reflect.Value) (visit, bool) {
	key := visit{ptr: v.Pointer(), typ: v.Type()}
	if n.active[key] {
		return key, false
	}
	n.active[key] = true
	return key, true
}

// normalize converts v into JSON-safe plain data. Regexps and functions are
// stringified; maps become key-sorted slices of pairs when their keys are not
// strings.
func (n *normalizer) normalize(v reflect.Value) any {
	if !v.IsValid() {
		return nil
	}

	if v.Type() == regexpType {
		if v.IsNil() {
			return nil
		}
		return "/" + v.Interface().(*regexp.Regexp).String() + "/"
	}

	switch v.Kind() {
	case reflect.Interface:
		if v.IsNil() {
			return nil
		}
		return n.normalize(v.Elem())
	case reflect.Func:
		if v.IsNil() {
			return nil
		}
		if fn := runtime.FuncForPC(v.Pointer()); fn != nil {
			return "func:" + fn.Name()
		}
		return "func"
	case reflect.Pointer:
		if v.IsNil() {
			return nil
		}
		if v.Type().Implements(stringerType) {
			return v.Interface().(fmt.Stringer).String()
		}
		key, ok := n.enter(v)
		if !ok {
			return cycleMarker
		}
		defer delete(n.active, key)
		return n.normalize(v.Elem())
	case reflect.Map:
		if v.IsNil() {
			return nil
		}
		key, ok := n.enter(v)
		if !ok {
			return cycleMarker
		}
		defer delete(n.active, key)
		return n.normalizeMap(v)
	case reflect.Slice:
		if v.IsNil() {
			return nil
		}
		key, ok := n.enter(v)
		if !ok {
			return cycleMarker
		}
		defer delete(n.active, key)
		return n.normalizeList(v)
	case reflect.Array:
		return n.normalizeList(v)
	case reflect.Struct:
		if v.Type().Implements(stringerType) {
			return v.Interface().(fmt.Stringer).String()
		}
		out := make(map[string]any, v.NumField())
		t := v.Type()
		for i := 0; i < v.NumField(); i++ {
			field := t.Field(i)
			if !field.IsExported() {
				continue
			}
			out[field.Name] = n.normalize(v.Field(i))
		}
		return out
	case reflect.Chan, reflect.UnsafePointer:
		return v.Type().String()
	default:
		return v.Interface()
	}
}

func (n *normalizer) normalizeList(v reflect.Value) any {
	out := make([]any, v.Len())
	for i := range out {
		out[i] = n.normalize(v.Index(i))
	}
	return out
}

func (n *normalizer) normalizeMap(v reflect.Value) any {
	if v.Type().Key().Kind() == reflect.String {
		out := make(map[string]any, v.Len())
		iter := v.MapRange()
		for iter.Next() {
			out[iter.Key().String()] = n.normalize(iter.Value())
		}
		return out
	}

	type pair struct {
		Key   string `json:"k"`
		Value any    `json:"v"`
	}
	pairs := make([]pair, 0, v.Len())
	iter := v.MapRange()
	for iter.Next() {
		pairs = append(pairs, pair{
			Key:   fmt.Sprint(n.normalize(iter.Key())),
			Value: n.normalize(iter.Value()),
		})
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].Key < pairs[j].Key })
	return pairs
}
