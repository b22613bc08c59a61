package linerpc

import (
	"github.com/go-json-experiment/json"
	"github.com/go-json-experiment/json/jsontext"
)

// bind maps a request's params onto the declared parameters.
//
// For each parameter, in order: a stream parameter receives stream; a
// structured parameter whose key holds an object is decoded and validated;
// otherwise a present key is bound verbatim; otherwise the default is used,
// or nothing at all. Validation failures of every structured parameter are
// collected into a single invalid params error.
func bind(params []Param, raw jsontext.Value, stream *Stream) (*Args, error) {
	var fields map[string]jsontext.Value
	if raw.Kind() == '{' {
		if err := json.Unmarshal(raw, &fields); err != nil {
			return nil, ErrInvalidParams(err.Error())
		}
	}

	args := &Args{params: params, values: make([]boundValue, len(params))}
	var failures []FieldError
	for i, p := range params {
		value, present := fields[p.Name]
		switch {
		case p.Kind == KindStream:
			args.values[i] = boundValue{value: stream}
		case p.Kind == KindStructured && present && value.Kind() == '{':
			v, errs := p.build(value)
			if len(errs) > 0 {
				failures = append(failures, errs...)
				continue
			}
			args.values[i] = boundValue{value: v}
		case present:
			args.values[i] = boundValue{raw: value}
		default:
			args.values[i] = boundValue{raw: p.Default}
		}
	}
	if len(failures) > 0 {
		return nil, ErrInvalidParams("validation failed", failures...)
	}
	return args, nil
}
