package aws

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/open-sspm/opsdash/internal/connectors/connerr"
	"github.com/open-sspm/opsdash/internal/connectors/restapi"
)

// Execute dispatches a raw call addressed by a service URL:
//
//	GET    s3://bucket/prefix/   list objects (max_keys)
//	GET    s3://bucket/key       fetch object content
//	PUT    s3://bucket/key       write payload (content_type)
//	DELETE s3://bucket/key       delete object
//	POST   lambda://function     invoke (invocation_type)
//	POST   glue://job            start run, payload is the argument map
//	GET    glue://job/run        run status
//	GET    logs://group          filter events (stream, pattern, start_ms, end_ms, limit)
//
// Log group names keep everything after the scheme, so /aws/lambda/fn is
// addressed as logs:///aws/lambda/fn. Any other combination is unsupported and fails before I/O.
func (c *Client) Execute(ctx context.Context, method, target string, payload any, query url.Values) (restapi.Decoded, error) {
	m, err := restapi.CheckMethod(Kind, method)
	if err != nil {
		return restapi.Decoded{}, err
	}
	scheme, rest, ok := strings.Cut(strings.TrimSpace(target), "://")
	if !ok {
		return restapi.Decoded{}, unsupported(m, target)
	}
	host, path, _ := strings.Cut(rest, "/")
	if host == "" && scheme != "logs" {
		return restapi.Decoded{}, unsupported(m, target)
	}

	switch {
	case scheme == "s3" && m == http.MethodGet && (path == "" || strings.HasSuffix(path, "/")):
		maxKeys, err := intParam(query, "max_keys", maxKeysPerPage)
		if err != nil {
			return restapi.Decoded{}, err
		}
		objects, err := c.ListObjects(ctx, host, path, maxKeys)
		if err != nil {
			return restapi.Decoded{}, err
		}
		return restapi.JSONValue(objects)
	case scheme == "s3" && m == http.MethodGet:
		obj, err := c.GetObject(ctx, host, path)
		if err != nil {
			return restapi.Decoded{}, err
		}
		return obj.Content, nil
	case scheme == "s3" && (m == http.MethodPut || m == http.MethodPost) && path != "":
		res, err := c.PutObject(ctx, host, path, payload, query.Get("content_type"))
		if err != nil {
			return restapi.Decoded{}, err
		}
		return restapi.JSONValue(res)
	case scheme == "s3" && m == http.MethodDelete && path != "":
		if err := c.DeleteObject(ctx, host, path); err != nil {
			return restapi.Decoded{}, err
		}
		return restapi.JSONValue(map[string]any{"bucket": host, "key": path, "deleted": true})
	case scheme == "lambda" && m == http.MethodPost && path == "":
		res, err := c.Invoke(ctx, host, payload, query.Get("invocation_type"))
		if err != nil {
			return restapi.Decoded{}, err
		}
		return restapi.JSONValue(res)
	case scheme == "glue" && m == http.MethodPost && path == "":
		args, err := glueArguments(m, target, payload)
		if err != nil {
			return restapi.Decoded{}, err
		}
		runID, err := c.StartJobRun(ctx, host, args)
		if err != nil {
			return restapi.Decoded{}, err
		}
		return restapi.JSONValue(map[string]string{"job_name": host, "job_run_id": runID})
	case scheme == "glue" && m == http.MethodGet && path != "":
		st, err := c.JobRunStatus(ctx, host, path)
		if err != nil {
			return restapi.Decoded{}, err
		}
		return restapi.JSONValue(st)
	case scheme == "logs" && m == http.MethodGet && rest != "":
		lq := LogQuery{Group: rest, Stream: query.Get("stream"), Pattern: query.Get("pattern")}
		start, err := intParam(query, "start_ms", 0)
		if err != nil {
			return restapi.Decoded{}, err
		}
		end, err := intParam(query, "end_ms", 0)
		if err != nil {
			return restapi.Decoded{}, err
		}
		if lq.Limit, err = intParam(query, "limit", 100); err != nil {
			return restapi.Decoded{}, err
		}
		lq.StartMs, lq.EndMs = int64(start), int64(end)
		events, err := c.FilterLogEvents(ctx, lq)
		if err != nil {
			return restapi.Decoded{}, err
		}
		return restapi.JSONValue(events)
	}
	return restapi.Decoded{}, unsupported(m, target)
}

func unsupported(method, target string) error {
	return &connerr.UnsupportedOperationError{Vendor: Kind, Operation: method + " " + target}
}

func intParam(q url.Values, key string, def int) (int, error) {
	raw := strings.TrimSpace(q.Get(key))
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, &connerr.ConfigurationError{Vendor: Kind, Invalid: map[string]string{key: fmt.Sprintf("query value %q is not an integer", raw)}}
	}
	return n, nil
}

// glueArguments accepts a string map or a decoded JSON object whose values
// are scalars. Scalars are passed to Glue in their JSON text form.
func glueArguments(method, target string, payload any) (map[string]string, error) {
	switch p := payload.(type) {
	case nil:
		return nil, nil
	case map[string]string:
		return p, nil
	case map[string]any:
		args := make(map[string]string, len(p))
		var invalid map[string]string
		for k, v := range p {
			s, ok := scalarString(v)
			if !ok {
				if invalid == nil {
					invalid = make(map[string]string)
				}
				invalid[k] = fmt.Sprintf("job argument must be a string, number or boolean, got %T", v)
				continue
			}
			args[k] = s
		}
		if invalid != nil {
			return nil, &connerr.ConfigurationError{Vendor: Kind, Invalid: invalid}
		}
		return args, nil
	}
	return nil, &connerr.UnsupportedOperationError{Vendor: Kind, Operation: fmt.Sprintf("%s %s with %T payload", method, target, payload)}
}

func scalarString(v any) (string, bool) {
	switch x := v.(type) {
	case string:
		return x, true
	case bool:
		return strconv.FormatBool(x), true
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), true
	case json.Number:
		return x.String(), true
	case int:
		return strconv.Itoa(x), true
	case int64:
		return strconv.FormatInt(x, 10), true
	}
	return "", false
}
