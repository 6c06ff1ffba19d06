package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
)

// tree renders cfg as the generic JSON tree that dot paths address.
func tree(cfg *Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// GetByPath retrieves a value by dot path, e.g. "server.port" or
// "textGeneration.failover.0".
func GetByPath(cfg *Config, path string) (any, error) {
	m, err := tree(cfg)
	if err != nil {
		return nil, err
	}

	var cur any = m
	for _, key := range strings.Split(path, ".") {
		switch v := cur.(type) {
		case map[string]any:
			next, ok := v[key]
			if !ok {
				return nil, fmt.Errorf("key not found: %s", path)
			}
			cur = next
		case []any:
			i, err := strconv.Atoi(key)
			if err != nil || i < 0 || i >= len(v) {
				return nil, fmt.Errorf("invalid index %q in %s", key, path)
			}
			cur = v[i]
		default:
			return nil, fmt.Errorf("%s: %q is not an object", path, key)
		}
	}
	return cur, nil
}

// SetByPath sets the value at a dot path. value is read as JSON when it parses
// ("false", "640", `["ollama"]`) and as a plain string otherwise. Paths that do
// not name a config field are rejected; map entries such as
// textGeneration.backends.<name> may be created.
func SetByPath(cfg *Config, path string, value string) error {
	if path == "" {
		return fmt.Errorf("empty path")
	}
	m, err := tree(cfg)
	if err != nil {
		return err
	}

	keys := strings.Split(path, ".")
	parent := m
	for _, key := range keys[:len(keys)-1] {
		child, ok := parent[key]
		if !ok || child == nil {
			created := make(map[string]any)
			parent[key] = created
			parent = created
			continue
		}
		next, ok := child.(map[string]any)
		if !ok {
			return fmt.Errorf("%s: %q is not an object", path, key)
		}
		parent = next
	}
	leaf := keys[len(keys)-1]

	// A JSON-looking value may still be meant as a string ("verifyToken 1234").
	parent[leaf] = parseValue(value)
	updated, err := decodeStrict(m)
	if err != nil {
		if _, isString := parent[leaf].(string); isString {
			return fmt.Errorf("set %s: %w", path, err)
		}
		parent[leaf] = value
		if updated, err = decodeStrict(m); err != nil {
			return fmt.Errorf("set %s: %w", path, err)
		}
	}
	*cfg = *updated
	return nil
}

// decodeStrict converts the tree back into a Config, rejecting unknown keys.
func decodeStrict(m map[string]any) (*Config, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	var c Config
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&c); err != nil {
		return nil, err
	}
	return &c, nil
}

func parseValue(s string) any {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err == nil {
		return v
	}
	return s
}

// ListPaths flattens cfg into path/value pairs, sorted by path. Lists are
// kept whole.
func ListPaths(cfg *Config) ([]PathValue, error) {
	m, err := tree(cfg)
	if err != nil {
		return nil, err
	}
	var out []PathValue
	flatten("", m, &out)
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

// PathValue is one leaf of the config tree.
type PathValue struct {
	Path  string
	Value any
}

func flatten(prefix string, m map[string]any, out *[]PathValue) {
	for k, v := range m {
		path := k
		if prefix != "" {
			path = prefix + "." + k
		}
		if sub, ok := v.(map[string]any); ok && len(sub) > 0 {
			flatten(path, sub, out)
			continue
		}
		*out = append(*out, PathValue{Path: path, Value: v})
	}
}

// Sanitize returns a copy of cfg with secrets masked.
func Sanitize(cfg *Config) *Config {
	data, err := json.Marshal(cfg)
	if err != nil {
		return cfg
	}
	var c Config
	if err := json.Unmarshal(data, &c); err != nil {
		return cfg
	}

	for _, secret := range []*string{
		&c.Messenger.PageAccessToken,
		&c.Messenger.AppSecret,
		&c.Channels.Telegram.Token,
	} {
		*secret = maskString(*secret)
	}
	for name, bc := range c.TextGeneration.Backends {
		bc.APIKey = maskString(bc.APIKey)
		c.TextGeneration.Backends[name] = bc
	}
	c.Dedupe.RedisURL = maskURL(c.Dedupe.RedisURL)
	return &c
}

// maskURL hides the userinfo of a connection URL.
func maskURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	u.User = url.User("***")
	return u.String()
}

// maskString keeps the first and last four characters of long secrets.
func maskString(s string) string {
	switch {
	case s == "":
		return ""
	case len(s) <= 8:
		return "***"
	}
	return s[:4] + "****" + s[len(s)-4:]
}
