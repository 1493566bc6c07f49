// Package credentials resolves connector connection parameters from explicit
// arguments, falling back to the process environment and documented defaults.
// Resolution never performs network I/O.
package credentials

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/open-sspm/opsdash/internal/connectors/connerr"
)

// Lookup returns the raw value for an environment-style key.
type Lookup func(key string) (string, bool)

// EnvLookup reads from the process environment. Blank values count as absent.
func EnvLookup(key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return v, true
}

// MapLookup serves values from a fixed map, e.g. secrets fetched at startup.
func MapLookup(values map[string]string) Lookup {
	return func(key string) (string, bool) {
		v, ok := values[key]
		if !ok || strings.TrimSpace(v) == "" {
			return "", false
		}
		return v, true
	}
}

// Chain consults each lookup in order and returns the first hit.
func Chain(lookups ...Lookup) Lookup {
	return func(key string) (string, bool) {
		for _, l := range lookups {
			if l == nil {
				continue
			}
			if v, ok := l(key); ok {
				return v, true
			}
		}
		return "", false
	}
}

type Kind int

const (
	KindString Kind = iota
	KindInt
)

// Field describes one recognized connection parameter.
type Field struct {
	Name     string
	Env      string
	Required bool
	Default  string
	Kind     Kind
}

// Resolver resolves a fixed field list for a single vendor.
type Resolver struct {
	Vendor string
	Fields []Field
	Lookup Lookup
}

// Values is the resolved, immutable parameter set.
type Values struct {
	strs map[string]string
	ints map[string]int64
}

// String returns the resolved value for name, or "".
func (v Values) String(name string) string {
	return v.strs[name]
}

// Int returns the parsed value of a KindInt field.
func (v Values) Int(name string) (int64, bool) {
	n, ok := v.ints[name]
	return n, ok
}

// Resolve applies explicit > environment > default precedence and reports every
// missing required field and every malformed numeric field in one error.
func (r Resolver) Resolve(explicit map[string]string) (Values, error) {
	lookup := r.Lookup
	if lookup == nil {
		lookup = EnvLookup
	}

	out := Values{
		strs: make(map[string]string, len(r.Fields)),
		ints: make(map[string]int64),
	}
	cfgErr := &connerr.ConfigurationError{Vendor: r.Vendor}

	for _, f := range r.Fields {
		raw, source := r.raw(f, explicit, lookup)
		if raw == "" {
			if f.Required {
				cfgErr.Missing = append(cfgErr.Missing, f.Name)
			}
			continue
		}

		if f.Kind == KindInt {
			n, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				if cfgErr.Invalid == nil {
					cfgErr.Invalid = make(map[string]string)
				}
				cfgErr.Invalid[f.Name] = fmt.Sprintf("%s value %q is not an integer", source, raw)
				continue
			}
			out.ints[f.Name] = n
		}
		out.strs[f.Name] = raw
	}

	if !cfgErr.Empty() {
		return Values{}, cfgErr
	}
	return out, nil
}

func (r Resolver) raw(f Field, explicit map[string]string, lookup Lookup) (string, string) {
	if v := strings.TrimSpace(explicit[f.Name]); v != "" {
		return v, "argument"
	}
	if f.Env != "" {
		if v, ok := lookup(f.Env); ok {
			return strings.TrimSpace(v), f.Env
		}
	}
	return strings.TrimSpace(f.Default), "default"
}

// Explicit builds an explicit-argument map, dropping blank values so they fall
// through to the environment.
func Explicit(pairs ...string) map[string]string {
	out := make(map[string]string, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		if v := strings.TrimSpace(pairs[i+1]); v != "" {
			out[pairs[i]] = v
		}
	}
	return out
}
