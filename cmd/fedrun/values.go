package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/federation/engine"
	"github.com/wippyai/federation/jsengine"
)

// describe renders an export without invoking it.
func describe(v any) string {
	switch x := v.(type) {
	case *engine.Function:
		return signature(x)
	case *engine.Library:
		return "library " + x.Name + "@" + x.Version + " {" + strings.Join(x.Names(), ", ") + "}"
	case *jsengine.Value:
		if x.IsFunction() {
			return "function"
		}
		return render(x.Export())
	default:
		return render(v)
	}
}

func signature(f *engine.Function) string {
	return fmt.Sprintf("%s(%s) -> (%s)", f.Name(), typeNames(f.ParamTypes()), typeNames(f.ResultTypes()))
}

func typeNames(types []api.ValueType) string {
	names := make([]string, len(types))
	for i, t := range types {
		names[i] = api.ValueTypeName(t)
	}
	return strings.Join(names, ", ")
}

// callable reports whether invoke can call v.
func callable(v any) bool {
	switch x := v.(type) {
	case *engine.Function:
		return true
	case *jsengine.Value:
		return x.IsFunction()
	}
	return false
}

// arity returns the number of arguments to prompt for, or -1 when the
// callee accepts any number.
func arity(v any) int {
	if f, ok := v.(*engine.Function); ok {
		return len(f.ParamTypes())
	}
	return -1
}

// invoke calls an exported function with textual arguments and renders
// the result.
func invoke(ctx context.Context, v any, args []string) (string, error) {
	switch x := v.(type) {
	case *engine.Function:
		params, err := encodeParams(x.ParamTypes(), args)
		if err != nil {
			return "", err
		}
		results, err := x.Call(ctx, params...)
		if err != nil {
			return "", err
		}
		return decodeResults(x.ResultTypes(), results), nil
	case *jsengine.Value:
		if !x.IsFunction() {
			return "", fmt.Errorf("export is not a function")
		}
		jsArgs := make([]any, len(args))
		for i, a := range args {
			jsArgs[i] = scriptArg(a)
		}
		res, err := x.Call(ctx, jsArgs...)
		if err != nil {
			return "", err
		}
		return render(res.Export()), nil
	default:
		return "", fmt.Errorf("export of type %T is not callable", v)
	}
}

func encodeParams(types []api.ValueType, args []string) ([]uint64, error) {
	if len(args) != len(types) {
		return nil, fmt.Errorf("expected %d arguments, got %d", len(types), len(args))
	}
	params := make([]uint64, len(args))
	for i, a := range args {
		switch types[i] {
		case api.ValueTypeI32:
			n, err := strconv.ParseInt(a, 10, 32)
			if err != nil {
				return nil, fmt.Errorf("argument %d: %w", i, err)
			}
			params[i] = api.EncodeI32(int32(n))
		case api.ValueTypeI64:
			n, err := strconv.ParseInt(a, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("argument %d: %w", i, err)
			}
			params[i] = api.EncodeI64(n)
		case api.ValueTypeF32:
			f, err := strconv.ParseFloat(a, 32)
			if err != nil {
				return nil, fmt.Errorf("argument %d: %w", i, err)
			}
			params[i] = api.EncodeF32(float32(f))
		case api.ValueTypeF64:
			f, err := strconv.ParseFloat(a, 64)
			if err != nil {
				return nil, fmt.Errorf("argument %d: %w", i, err)
			}
			params[i] = api.EncodeF64(f)
		default:
			return nil, fmt.Errorf("argument %d: unsupported type %s", i, api.ValueTypeName(types[i]))
		}
	}
	return params, nil
}

func decodeResults(types []api.ValueType, results []uint64) string {
	out := make([]string, len(results))
	for i, r := range results {
		t := api.ValueTypeI64
		if i < len(types) {
			t = types[i]
		}
		switch t {
		case api.ValueTypeI32:
			out[i] = strconv.FormatInt(int64(api.DecodeI32(r)), 10)
		case api.ValueTypeF32:
			out[i] = strconv.FormatFloat(float64(api.DecodeF32(r)), 'g', -1, 32)
		case api.ValueTypeF64:
			out[i] = strconv.FormatFloat(api.DecodeF64(r), 'g', -1, 64)
		default:
			out[i] = strconv.FormatInt(int64(r), 10)
		}
	}
	return strings.Join(out, " ")
}

// scriptArg passes numbers and booleans through as such, everything else
// as a string.
func scriptArg(s string) any {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	return s
}

func render(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}
