package mvc

import (
	"encoding/binary"
	"fmt"
	"net"
	"strconv"
	"strings"

	"appfuel/datastructure"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
)

// Input methods
const (
	MethodGet    = "get"
	MethodPost   = "post"
	MethodPut    = "put"
	MethodDelete = "delete"
	MethodCli    = "cli"
)

// Param buckets
const (
	ParamPost   = "post"
	ParamGet    = "get"
	ParamFiles  = "files"
	ParamCookie = "cookie"
	ParamArgv   = "argv"
)

// Server variables consulted by IP, in order of precedence
const (
	ServerClientIP     = "client-ip"
	ServerForwardedFor = "x-forwarded-for"
	ServerRemoteAddr   = "remote-addr"
)

// BindTag is the struct tag Bind decodes params by
const BindTag = "param"

var paramTypes = []string{ParamPost, ParamGet, ParamFiles, ParamCookie, ParamArgv}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Input holds the request method and its params, one bucket per param type
type Input struct {
	method string
	params map[string]map[string]interface{}
	server map[string]string
}

// NewInput creates an input. Missing buckets are created empty.
func NewInput(method string, params map[string]map[string]interface{}) (*Input, error) {
	method = strings.ToLower(strings.TrimSpace(method))
	if method == "" {
		return nil, ErrInvalidMethod
	}

	in := &Input{
		method: method,
		params: make(map[string]map[string]interface{}, len(paramTypes)),
		server: make(map[string]string),
	}
	for _, t := range paramTypes {
		bucket := make(map[string]interface{}, len(params[t]))
		for k, v := range params[t] {
			if k == "" {
				return nil, fmt.Errorf("%w: %s", ErrInvalidParamKey, t)
			}
			bucket[k] = v
		}
		in.params[t] = bucket
	}
	return in, nil
}

// SetServer records the server variables IP reads
func (in *Input) SetServer(vars map[string]string) *Input {
	for k, v := range vars {
		in.server[strings.ToLower(k)] = v
	}
	return in
}

func (in *Input) Method() string { return in.method }
func (in *Input) IsPost() bool   { return in.method == MethodPost }
func (in *Input) IsGet() bool    { return in.method == MethodGet }
func (in *Input) IsCli() bool    { return in.method == MethodCli }

// bucketFor maps a method to its param type. cli reads argv; methods with
// a body read post.
func bucketFor(method string) string {
	switch method {
	case MethodCli:
		return ParamArgv
	case MethodPut, "patch":
		return ParamPost
	}
	return method
}

// Param returns key from the bucket of the input's method
func (in *Input) Param(key string, def interface{}) interface{} {
	return in.Get(bucketFor(in.method), key, def)
}

// Get returns key from the paramType bucket, or def
func (in *Input) Get(paramType, key string, def interface{}) interface{} {
	bucket, ok := in.params[strings.ToLower(paramType)]
	if !ok {
		return def
	}
	v, ok := bucket[key]
	if !ok {
		return def
	}
	return v
}

// GetString is Get for string values
func (in *Input) GetString(paramType, key, def string) string {
	if s, ok := in.Get(paramType, key, nil).(string); ok {
		return s
	}
	return def
}

// Collect returns the keys that exist in the paramType bucket
func (in *Input) Collect(paramType string, keys []string) *datastructure.Dictionary {
	out := make(map[string]interface{}, len(keys))
	bucket := in.params[strings.ToLower(paramType)]
	for _, k := range keys {
		if v, ok := bucket[k]; ok {
			out[k] = v
		}
	}
	return datastructure.NewDictionary(out)
}

// All returns a copy of the paramType bucket. ok is false for unknown types.
func (in *Input) All(paramType string) (map[string]interface{}, bool) {
	bucket, ok := in.params[strings.ToLower(paramType)]
	if !ok {
		return nil, false
	}
	out := make(map[string]interface{}, len(bucket))
	for k, v := range bucket {
		out[k] = v
	}
	return out, true
}

// AllParams returns a copy of every bucket
func (in *Input) AllParams() map[string]map[string]interface{} {
	out := make(map[string]map[string]interface{}, len(in.params))
	for t := range in.params {
		out[t], _ = in.All(t)
	}
	return out
}

func (in *Input) IsValidParamType(paramType string) bool {
	if paramType == "" {
		return false
	}
	_, ok := in.params[strings.ToLower(paramType)]
	return ok
}

// IP returns the client address from client-ip, then x-forwarded-for, then
// remote-addr. With asInt the IPv4 address is given as its unsigned decimal.
func (in *Input) IP(asInt bool) (string, bool) {
	var ip string
	for _, key := range []string{ServerClientIP, ServerForwardedFor, ServerRemoteAddr} {
		if v := strings.TrimSpace(in.server[key]); v != "" {
			ip = v
			break
		}
	}
	if ip == "" {
		return "", false
	}
	if first, _, found := strings.Cut(ip, ","); found {
		ip = strings.TrimSpace(first)
	}
	if !asInt {
		return ip, true
	}

	v4 := net.ParseIP(ip).To4()
	if v4 == nil {
		return "", false
	}
	return strconv.FormatUint(uint64(binary.BigEndian.Uint32(v4)), 10), true
}

// Bind decodes the paramType bucket into dst, a pointer to a struct tagged
// with `param`, and validates it with its `validate` tags
func (in *Input) Bind(paramType string, dst interface{}) error {
	bucket, ok := in.params[strings.ToLower(paramType)]
	if !ok {
		return fmt.Errorf("bind: unknown param type %q", paramType)
	}

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          BindTag,
		WeaklyTypedInput: true,
		Result:           dst,
	})
	if err != nil {
		return fmt.Errorf("bind %s: %w", paramType, err)
	}
	if err := dec.Decode(bucket); err != nil {
		return fmt.Errorf("bind %s: %w: %w", paramType, ErrBadInput, err)
	}
	if err := validate.Struct(dst); err != nil {
		return fmt.Errorf("bind %s: %w: %w", paramType, ErrBadInput, err)
	}
	return nil
}
