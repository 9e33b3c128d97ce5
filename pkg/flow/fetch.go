package flow

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	defaultHTTPTimeout = 30 * time.Second
	maxResponseBytes   = 1 << 20
)

// newHTTPAction returns an action calling "url" with the optional "method",
// "body" and "headers" ("Key: value; Key: value") templates. The body and
// status land under "response_key" and "status_key", which default to
// <id>_body and <id>_status.
func newHTTPAction(client *http.Client) action {
	if client == nil {
		client = http.DefaultClient
	}
	return func(ctx context.Context, n *Node, st *State) error {
		snap := st.Snapshot()
		url, err := renderTemplate(n.Attrs["url"], snap)
		if err != nil {
			return fmt.Errorf("url template: %w", err)
		}
		var body io.Reader
		if tpl := n.Attrs["body"]; tpl != "" {
			rendered, err := renderTemplate(tpl, snap)
			if err != nil {
				return fmt.Errorf("body template: %w", err)
			}
			body = strings.NewReader(rendered)
		}

		timeout := defaultHTTPTimeout
		if ts := n.Attrs["timeout"]; ts != "" {
			if timeout, err = time.ParseDuration(ts); err != nil {
				return fmt.Errorf("invalid timeout %q: %w", ts, err)
			}
		}
		reqCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		method := strings.ToUpper(cmp.Or(n.Attrs["method"], http.MethodGet))
		req, err := http.NewRequestWithContext(reqCtx, method, url, body)
		if err != nil {
			return fmt.Errorf("build request: %w", err)
		}
		if tpl := n.Attrs["headers"]; tpl != "" {
			rendered, err := renderTemplate(tpl, snap)
			if err != nil {
				return fmt.Errorf("headers template: %w", err)
			}
			if err := setHeaders(req.Header, rendered); err != nil {
				return err
			}
		}

		resp, err := client.Do(req)
		if err != nil {
			if ctx.Err() == nil && errors.Is(reqCtx.Err(), context.DeadlineExceeded) {
				return fmt.Errorf("request timed out after %s", timeout)
			}
			return fmt.Errorf("request failed: %w", err)
		}
		defer func() { _ = resp.Body.Close() }()

		data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		if err != nil {
			return fmt.Errorf("read response body: %w", err)
		}
		st.Set(cmp.Or(n.Attrs["response_key"], n.ID+"_body"), string(data))
		st.Set(cmp.Or(n.Attrs["status_key"], n.ID+"_status"), resp.StatusCode)

		if n.Attrs["fail_non2xx"] == "true" && (resp.StatusCode < 200 || resp.StatusCode > 299) {
			return fmt.Errorf("non-2xx status %d", resp.StatusCode)
		}
		return nil
	}
}

func setHeaders(h http.Header, raw string) error {
	for _, pair := range strings.Split(raw, ";") {
		if pair = strings.TrimSpace(pair); pair == "" {
			continue
		}
		k, v, ok := strings.Cut(pair, ":")
		if !ok {
			return fmt.Errorf("header %q missing ':' separator", pair)
		}
		h.Set(strings.TrimSpace(k), strings.TrimSpace(v))
	}
	return nil
}

// jsonAction reads the JSON document under "source", follows the dot
// separated "path" (numeric segments index arrays) and stores the value
// under "key". A missing source or path falls back to "default" when one is
// given.
func jsonAction(_ context.Context, n *Node, st *State) error {
	key, fallback := n.Attrs["key"], n.Attrs["default"]
	_, hasDefault := n.Attrs["default"]

	raw := st.GetString(n.Attrs["source"])
	if raw == "" {
		st.Set(key, fallback)
		return nil
	}
	var doc any
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return fmt.Errorf("decode %q: %w", n.Attrs["source"], err)
	}
	val, err := lookupPath(doc, n.Attrs["path"])
	if err != nil {
		if hasDefault {
			st.Set(key, fallback)
			return nil
		}
		return fmt.Errorf("path %q: %w", n.Attrs["path"], err)
	}
	st.Set(key, jsonString(val))
	return nil
}

func lookupPath(doc any, path string) (any, error) {
	cur := doc
	for _, seg := range strings.Split(strings.TrimPrefix(path, "."), ".") {
		if seg == "" {
			continue
		}
		switch v := cur.(type) {
		case map[string]any:
			next, ok := v[seg]
			if !ok {
				return nil, fmt.Errorf("key %q not found", seg)
			}
			cur = next
		case []any:
			i, err := strconv.Atoi(seg)
			if err != nil || i < 0 || i >= len(v) {
				return nil, fmt.Errorf("index %q out of range (len=%d)", seg, len(v))
			}
			cur = v[i]
		default:
			return nil, fmt.Errorf("cannot index %T with %q", cur, seg)
		}
	}
	return cur, nil
}

// jsonString renders scalars plainly and objects or arrays as compact JSON.
func jsonString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	}
}
