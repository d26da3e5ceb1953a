package core

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// ResultType hints what a command is expected to return.
type ResultType string

const (
	ResultTypeAny      ResultType = ""
	ResultTypeNone     ResultType = "none"
	ResultTypeScalar   ResultType = "scalar"
	ResultTypeRows     ResultType = "rows"
	ResultTypeAffected ResultType = "affected"
	ResultTypeDocument ResultType = "document"
	ResultTypeBytes    ResultType = "bytes"
)

// Values is a small insertion-ordered string map. Writes return a new Values
// and never touch the receiver.
type Values struct {
	keys  []string
	items map[string]any
}

// NewValues builds Values from alternating key, value arguments. A trailing
// key without a value is stored as nil.
func NewValues(pairs ...any) Values {
	out := Values{}
	for i := 0; i < len(pairs); i += 2 {
		key := fmt.Sprint(pairs[i])
		var value any
		if i+1 < len(pairs) {
			value = pairs[i+1]
		}
		out = out.With(key, value)
	}
	return out
}

// ValuesFromMap copies in with keys in sorted order.
func ValuesFromMap(in map[string]any) Values {
	keys := make([]string, 0, len(in))
	for key := range in {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	out := Values{keys: keys, items: make(map[string]any, len(in))}
	for _, key := range keys {
		out.items[key] = in[key]
	}
	return out
}

func (v Values) Len() int {
	return len(v.keys)
}

func (v Values) Get(key string) (any, bool) {
	value, ok := v.items[key]
	return value, ok
}

// Keys returns the keys in insertion order.
func (v Values) Keys() []string {
	return append([]string(nil), v.keys...)
}

// With sets key. An existing key keeps its position.
func (v Values) With(key string, value any) Values {
	next := v.clone(1)
	if _, exists := next.items[key]; !exists {
		next.keys = append(next.keys, key)
	}
	next.items[key] = value
	return next
}

// Merge applies other on top of v, in other's order.
func (v Values) Merge(other Values) Values {
	if other.Len() == 0 {
		return v
	}
	next := v.clone(other.Len())
	for _, key := range other.keys {
		if _, exists := next.items[key]; !exists {
			next.keys = append(next.keys, key)
		}
		next.items[key] = other.items[key]
	}
	return next
}

func (v Values) Without(key string) Values {
	if _, exists := v.items[key]; !exists {
		return v
	}
	next := Values{keys: make([]string, 0, len(v.keys)-1), items: make(map[string]any, len(v.items)-1)}
	for _, existing := range v.keys {
		if existing == key {
			continue
		}
		next.keys = append(next.keys, existing)
		next.items[existing] = v.items[existing]
	}
	return next
}

// Range calls fn in insertion order until fn returns false.
func (v Values) Range(fn func(key string, value any) bool) {
	for _, key := range v.keys {
		if !fn(key, v.items[key]) {
			return
		}
	}
}

// Map returns a plain map copy.
func (v Values) Map() map[string]any {
	out := make(map[string]any, len(v.items))
	for key, value := range v.items {
		out[key] = value
	}
	return out
}

// Slice returns the values in insertion order.
func (v Values) Slice() []any {
	out := make([]any, 0, len(v.keys))
	for _, key := range v.keys {
		out = append(out, v.items[key])
	}
	return out
}

func (v Values) clone(extra int) Values {
	next := Values{
		keys:  make([]string, len(v.keys), len(v.keys)+extra),
		items: make(map[string]any, len(v.items)+extra),
	}
	copy(next.keys, v.keys)
	for key, value := range v.items {
		next.items[key] = value
	}
	return next
}

// Command describes one requested operation against an instance. It is a
// value: every With method returns a modified copy.
type Command struct {
	kind       string
	target     string
	parameters Values
	filters    Values
	metadata   Values
	expected   ResultType
	mutating   bool
	timeout    time.Duration
}

type CommandOption func(*Command)

func NewCommand(kind, target string, opts ...CommandOption) Command {
	cmd := Command{
		kind:   strings.TrimSpace(kind),
		target: strings.TrimSpace(target),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cmd)
		}
	}
	return cmd
}

func Param(key string, value any) CommandOption {
	return func(c *Command) { c.parameters = c.parameters.With(key, value) }
}

func Filter(key string, value any) CommandOption {
	return func(c *Command) { c.filters = c.filters.With(key, value) }
}

func Meta(key string, value any) CommandOption {
	return func(c *Command) { c.metadata = c.metadata.With(key, value) }
}

func Expect(resultType ResultType) CommandOption {
	return func(c *Command) { c.expected = resultType }
}

func Mutating() CommandOption {
	return func(c *Command) { c.mutating = true }
}

func Timeout(timeout time.Duration) CommandOption {
	return func(c *Command) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

func (c Command) Kind() string                   { return c.kind }
func (c Command) Target() string                 { return c.target }
func (c Command) Parameters() Values             { return c.parameters.clone(0) }
func (c Command) Filters() Values                { return c.filters.clone(0) }
func (c Command) Metadata() Values               { return c.metadata.clone(0) }
func (c Command) ExpectedResultType() ResultType { return c.expected }
func (c Command) IsMutating() bool               { return c.mutating }
func (c Command) Timeout() time.Duration         { return c.timeout }

// Parameter returns one parameter.
func (c Command) Parameter(key string) (any, bool) {
	return c.parameters.Get(key)
}

func (c Command) IsZero() bool {
	return c.kind == "" && c.target == "" && c.parameters.Len() == 0 && c.filters.Len() == 0
}

// WithParameters merges values into the parameters.
func (c Command) WithParameters(values Values) Command {
	c.parameters = c.parameters.Merge(values)
	return c
}

func (c Command) WithParameter(key string, value any) Command {
	c.parameters = c.parameters.With(key, value)
	return c
}

func (c Command) WithFilters(values Values) Command {
	c.filters = c.filters.Merge(values)
	return c
}

func (c Command) WithMetadata(key string, value any) Command {
	c.metadata = c.metadata.With(key, value)
	return c
}

func (c Command) WithTimeout(timeout time.Duration) Command {
	if timeout < 0 {
		timeout = 0
	}
	c.timeout = timeout
	return c
}

func (c Command) WithExpectedResult(resultType ResultType) Command {
	c.expected = resultType
	return c
}

func (c Command) WithMutating(mutating bool) Command {
	c.mutating = mutating
	return c
}

func (c Command) Validate() error {
	if c.kind == "" {
		return NewError(
			ErrorKindValidation,
			"core: command kind is required",
			map[string]any{"command_target": c.target},
		)
	}
	if c.timeout < 0 {
		return NewError(
			ErrorKindValidation,
			fmt.Sprintf("core: command %q has negative timeout", c.kind),
			c.errorMetadata(),
		)
	}
	return nil
}

func (c Command) String() string {
	if c.target == "" {
		return c.kind
	}
	return c.kind + " " + c.target
}

func (c Command) errorMetadata() map[string]any {
	return map[string]any{
		"command_kind":   c.kind,
		"command_target": c.target,
	}
}
