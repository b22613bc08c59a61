package linerpc

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-json-experiment/json"
	"github.com/go-json-experiment/json/jsontext"
	"github.com/go-playground/validator/v10"
	"github.com/invopop/jsonschema"
)

// ParamKind tells the binder where a parameter's value comes from.
type ParamKind int

const (
	// KindPrimitive values are bound verbatim from the params object.
	KindPrimitive ParamKind = iota
	// KindStructured values are decoded from a nested object and validated.
	KindStructured
	// KindStream parameters receive the session's Stream and are never read
	// from params.
	KindStream
)

func (k ParamKind) String() string {
	switch k {
	case KindPrimitive:
		return "primitive"
	case KindStructured:
		return "structured"
	case KindStream:
		return "stream"
	default:
		return fmt.Sprintf("ParamKind(%d)", int(k))
	}
}

// Param describes one declared handler input.
type Param struct {
	Name    string
	Kind    ParamKind
	Type    string
	Doc     string
	Default jsontext.Value
	Schema  *jsonschema.Schema

	build func(raw jsontext.Value) (any, []FieldError)
}

// Required reports whether the parameter has no default. Missing required
// parameters are still bound (to the zero value); the flag is informational.
func (p Param) Required() bool {
	return p.Kind != KindStream && len(p.Default) == 0
}

// WithDefault returns a copy of p whose value is v when the key is absent.
// It panics if v cannot be marshaled; defaults are part of static wiring.
func (p Param) WithDefault(v any) Param {
	data, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("linerpc: default for %q: %v", p.Name, err))
	}
	p.Default = data
	return p
}

// Describe returns a copy of p with a documentation string.
func (p Param) Describe(doc string) Param {
	p.Doc = doc
	return p
}

// Primitive declares a parameter bound verbatim from params[name].
// T is used for documentation and by Arg when the value is read.
func Primitive[T any](name string) Param {
	return Param{Name: name, Kind: KindPrimitive, Type: typeName(reflect.TypeFor[T]())}
}

// StructParam declares a structured parameter decoded from the nested object
// params[name] into a *T and validated with `validate` struct tags.
func StructParam[T any](name string) Param {
	return Param{
		Name:   name,
		Kind:   KindStructured,
		Type:   typeName(reflect.TypeFor[T]()),
		Schema: reflectSchema[T](),
		build: func(raw jsontext.Value) (any, []FieldError) {
			v := new(T)
			if err := json.Unmarshal(raw, v); err != nil {
				return nil, decodeFailures(name, err)
			}
			if err := validate.Struct(v); err != nil {
				if failures := validationFailures(name, err); len(failures) > 0 {
					return nil, failures
				}
			}
			return v, nil
		},
	}
}

// StreamParam declares the stream capability parameter.
func StreamParam(name string) Param {
	return Param{Name: name, Kind: KindStream, Type: "Stream"}
}

// Func is the signature of every method implementation.
type Func func(ctx context.Context, args *Args) (any, error)

// Method is a handler together with its parameter table.
type Method struct {
	Func   Func
	Params []Param
	Doc    string
	Result *TypeInfo
}

// NewMethod creates a method descriptor. Parameters are bound in the order
// given.
func NewMethod(fn Func, params ...Param) *Method {
	return &Method{Func: fn, Params: params}
}

// Describe sets the free-text description shown in documentation.
func (m *Method) Describe(doc string) *Method {
	m.Doc = doc
	return m
}

// Returns sets the result type shown in documentation. It has no effect on
// the value sent to the peer.
func (m *Method) Returns(t TypeInfo) *Method {
	m.Result = &t
	return m
}

func (m *Method) validate() error {
	if m == nil || m.Func == nil {
		return errors.New("linerpc: method has no implementation")
	}
	seen := make(map[string]bool, len(m.Params))
	for _, p := range m.Params {
		if p.Name == "" {
			return errors.New("linerpc: parameter without a name")
		}
		if seen[p.Name] {
			return fmt.Errorf("linerpc: parameter %q declared twice", p.Name)
		}
		seen[p.Name] = true
		if p.Kind == KindStructured && p.build == nil {
			return fmt.Errorf("linerpc: structured parameter %q has no decoder; use StructParam", p.Name)
		}
	}
	return nil
}

// TypeInfo documents a result type.
type TypeInfo struct {
	Name   string
	Doc    string
	Schema *jsonschema.Schema
}

// TypeOf documents T. Struct types get a JSON schema.
func TypeOf[T any](doc string) TypeInfo {
	t := reflect.TypeFor[T]()
	info := TypeInfo{Name: typeName(t), Doc: doc}
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() == reflect.Struct {
		info.Schema = reflectSchema[T]()
	}
	return info
}

// Args holds the bound arguments of one call.
type Args struct {
	params []Param
	values []boundValue
}

type boundValue struct {
	raw   jsontext.Value
	value any
}

func (a *Args) index(name string) int {
	for i, p := range a.params {
		if p.Name == name {
			return i
		}
	}
	return -1
}

// Raw returns the JSON bound to a primitive parameter, or its default.
// ok is false when neither was available.
func (a *Args) Raw(name string) (raw jsontext.Value, ok bool) {
	i := a.index(name)
	if i < 0 || len(a.values[i].raw) == 0 {
		return nil, false
	}
	return a.values[i].raw, true
}

// Stream returns the injected stream for a stream parameter.
func (a *Args) Stream(name string) *Stream {
	i := a.index(name)
	if i < 0 {
		return nil
	}
	s, _ := a.values[i].value.(*Stream)
	return s
}

// Arg returns the value bound to name as a T.
//
// Structured parameters are read as *T of the declared type. Primitive
// values are decoded on access; a value of the wrong JSON type yields an
// invalid params error. An absent value with no default yields the zero T.
func Arg[T any](a *Args, name string) (T, error) {
	var zero T
	i := a.index(name)
	if i < 0 {
		return zero, ErrInternal(fmt.Errorf("parameter %q is not declared", name))
	}
	bound := a.values[i]
	if bound.value != nil {
		v, ok := bound.value.(T)
		if !ok {
			return zero, ErrInternal(fmt.Errorf("parameter %q holds %T", name, bound.value))
		}
		return v, nil
	}
	if len(bound.raw) == 0 {
		return zero, nil
	}
	var v T
	if err := json.Unmarshal(bound.raw, &v); err != nil {
		return zero, ErrInvalidParams(fmt.Sprintf("parameter %q", name), decodeFailures(name, err)...)
	}
	return v, nil
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		if name == "" {
			return f.Name
		}
		return name
	})
	return v
}

func validationFailures(param string, err error) []FieldError {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil
	}
	failures := make([]FieldError, 0, len(verrs))
	for _, fe := range verrs {
		loc := []string{param}
		// Namespace is "Type.field.sub"; the leading type name is dropped.
		if _, rest, ok := strings.Cut(fe.Namespace(), "."); ok {
			loc = append(loc, strings.Split(rest, ".")...)
		}
		failures = append(failures, FieldError{Loc: loc, Msg: ruleMessage(fe), Type: fe.Tag()})
	}
	return failures
}

func ruleMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "field required"
	case "min", "gte":
		return "must be at least " + fe.Param()
	case "max", "lte":
		return "must be at most " + fe.Param()
	case "oneof":
		return "must be one of: " + fe.Param()
	}
	if fe.Param() != "" {
		return fmt.Sprintf("failed %s=%s", fe.Tag(), fe.Param())
	}
	return "failed " + fe.Tag()
}

func decodeFailures(param string, err error) []FieldError {
	loc := []string{param}
	var serr *json.SemanticError
	if errors.As(err, &serr) {
		for _, tok := range strings.Split(string(serr.JSONPointer), "/") {
			if tok != "" {
				loc = append(loc, tok)
			}
		}
		msg := "invalid value"
		if serr.Err != nil {
			msg = serr.Err.Error()
		} else if serr.GoType != nil {
			msg = "expected " + typeName(serr.GoType)
		}
		return []FieldError{{Loc: loc, Msg: msg, Type: "type_error"}}
	}
	return []FieldError{{Loc: loc, Msg: err.Error(), Type: "value_error"}}
}

var schemaReflector = &jsonschema.Reflector{
	ExpandedStruct: true,
	DoNotReference: true,
}

func reflectSchema[T any]() *jsonschema.Schema {
	return schemaReflector.Reflect(new(T))
}

func typeName(t reflect.Type) string {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Name() != "" {
		return t.Name()
	}
	return t.String()
}
