package engine

import (
	"context"
	"fmt"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/wippyai/federation/manifest"
	"github.com/wippyai/federation/resource"
)

// HostModule is the only import module a container may use.
const HostModule = "federation"

// hostFuncs lists the functions HostModule exports.
var hostFuncs = map[string]bool{
	"register": true,
	"shared":   true,
	"log":      true,
}

// Guest log levels accepted by federation.log.
const (
	LogDebug = 0
	LogInfo  = 1
	LogWarn  = 2
	LogError = 3
)

type sessionKey struct{}

func withSession(ctx context.Context, s *session) context.Context {
	return context.WithValue(ctx, sessionKey{}, s)
}

func sessionFrom(ctx context.Context) *session {
	s, _ := ctx.Value(sessionKey{}).(*session)
	return s
}

// instantiateHost registers the federation host module in r. Host functions
// find the calling container through the session stored in the call context.
func instantiateHost(ctx context.Context, r wazero.Runtime) (api.Module, error) {
	i32 := api.ValueTypeI32

	builder := r.NewHostModuleBuilder(HostModule)

	builder = builder.NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(hostRegister), []api.ValueType{i32, i32}, nil).
		Export("register")

	builder = builder.NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(hostShared), []api.ValueType{i32, i32}, []api.ValueType{i32}).
		Export("shared")

	builder = builder.NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(hostLog), []api.ValueType{i32, i32, i32}, nil).
		Export("log")

	return builder.Instantiate(ctx)
}

func readString(mod api.Module, ptr, length uint32) ([]byte, bool) {
	if mod.Memory() == nil {
		return nil, false
	}
	buf, ok := mod.Memory().Read(ptr, length)
	if !ok {
		return nil, false
	}
	out := make([]byte, len(buf))
	copy(out, buf)
	return out, true
}

// hostRegister receives the container manifest. Failures are recorded on
// the session and reported once instantiation returns.
func hostRegister(ctx context.Context, mod api.Module, stack []uint64) {
	s := sessionFrom(ctx)
	if s == nil {
		return
	}
	if s.manifest != nil {
		s.regErr = fmt.Errorf("federation.register called more than once")
		return
	}
	data, ok := readString(mod, api.DecodeU32(stack[0]), api.DecodeU32(stack[1]))
	if !ok {
		s.regErr = fmt.Errorf("federation.register: manifest out of memory bounds")
		return
	}
	m, err := manifest.Parse(data)
	if err != nil {
		s.regErr = err
		return
	}
	s.manifest = m
}

// hostShared returns a handle for the instance bound to a shared name, or 0
// when nothing is bound. Handles are stable per name and carry identity
// only; no import accepts one back.
func hostShared(ctx context.Context, mod api.Module, stack []uint64) {
	ptr, length := api.DecodeU32(stack[0]), api.DecodeU32(stack[1])
	stack[0] = 0
	s := sessionFrom(ctx)
	if s == nil {
		return
	}
	name, ok := readString(mod, ptr, length)
	if !ok {
		return
	}
	inst, ok := s.lookup(string(name))
	if !ok {
		return
	}
	stack[0] = api.EncodeU32(uint32(s.table.Intern(resource.KindShared, string(name), inst)))
}

func hostLog(ctx context.Context, mod api.Module, stack []uint64) {
	level := api.DecodeU32(stack[0])
	msg, ok := readString(mod, api.DecodeU32(stack[1]), api.DecodeU32(stack[2]))
	if !ok {
		return
	}
	fields := []zap.Field{zap.String("source", "guest")}
	if s := sessionFrom(ctx); s != nil {
		fields = append(fields, zap.String("script_id", s.id))
	}
	l := Logger()
	switch level {
	case LogDebug:
		l.Debug(string(msg), fields...)
	case LogWarn:
		l.Warn(string(msg), fields...)
	case LogError:
		l.Error(string(msg), fields...)
	default:
		l.Info(string(msg), fields...)
	}
}
