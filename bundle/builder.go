package bundle

import (
	"sort"
)

const (
	valI32   = 0x7f
	funcType = 0x60

	opUnreachable = 0x00
	opCall        = 0x10
	opI32Const    = 0x41
	opEnd         = 0x0b

	exportFunc   = 0x00
	exportMemory = 0x02

	// DataOffset is where the builder places its data segment.
	DataOffset = 1024
)

// Import is an extra function import of type () -> ().
type Import struct {
	Module string
	Name   string
}

// Builder emits small federation containers without an external toolchain.
// The module exports "memory" and an "_initialize" function that passes the
// manifest to federation.register.
type Builder struct {
	// Manifest is the JSON manifest passed to federation.register.
	Manifest []byte
	// Constants are exported functions () -> i32 returning a fixed value.
	Constants map[string]int32
	// Traps are exported functions () -> i32 that trap when called.
	Traps []string
	// Inits are exported functions () -> () with an empty body, used as
	// module init hooks.
	Inits []string
	// Probes are exported functions () -> i32 returning
	// federation.shared(name) for the mapped dependency name.
	Probes map[string]string
	// Imports adds arbitrary () -> () imports, for isolation tests.
	Imports []Import
	// LogMessage, when set, is passed to federation.log at level 1 during
	// initialization.
	LogMessage string
	// SkipRegister omits the register call; with EmbedManifest the host
	// falls back to the custom section.
	SkipRegister bool
	// EmbedManifest also stores the manifest in the "federation" custom
	// section.
	EmbedManifest bool
	// TrapOnInit makes _initialize trap before registering.
	TrapOnInit bool
}

type fn struct {
	name string
	typ  uint32
	body []byte
}

// Build encodes the module.
func (b *Builder) Build() []byte {
	// Types.
	const (
		tRegister = iota // (i32, i32) -> ()
		tVoid            // () -> ()
		tConst           // () -> i32
		tShared          // (i32, i32) -> i32
		tLog             // (i32, i32, i32) -> ()
	)
	var types []byte
	types = AppendU32(types, 5)
	types = append(types, funcType, 2, valI32, valI32, 0)
	types = append(types, funcType, 0, 0)
	types = append(types, funcType, 0, 1, valI32)
	types = append(types, funcType, 2, valI32, valI32, 1, valI32)
	types = append(types, funcType, 3, valI32, valI32, valI32, 0)

	// Data layout: manifest, log message, then probe names.
	data := append([]byte(nil), b.Manifest...)
	logOff := DataOffset + len(data)
	data = append(data, b.LogMessage...)
	probeNames := sortedKeys(b.Probes)
	probeOff := make(map[string]int, len(probeNames))
	for _, export := range probeNames {
		probeOff[export] = DataOffset + len(data)
		data = append(data, b.Probes[export]...)
	}

	// Imports, in function index order.
	type imp struct {
		module, name string
		typ          uint32
	}
	var imports []imp
	idxRegister, idxShared, idxLog := -1, -1, -1
	if !b.SkipRegister {
		idxRegister = len(imports)
		imports = append(imports, imp{"federation", "register", tRegister})
	}
	if len(probeNames) > 0 {
		idxShared = len(imports)
		imports = append(imports, imp{"federation", "shared", tShared})
	}
	if b.LogMessage != "" {
		idxLog = len(imports)
		imports = append(imports, imp{"federation", "log", tLog})
	}
	for _, i := range b.Imports {
		imports = append(imports, imp{i.Module, i.Name, tVoid})
	}

	// Defined functions.
	var fns []fn

	var init []byte
	if b.TrapOnInit {
		init = append(init, opUnreachable)
	}
	if idxLog >= 0 {
		init = append(init, opI32Const)
		init = AppendS32(init, 1)
		init = append(init, opI32Const)
		init = AppendS32(init, int32(logOff))
		init = append(init, opI32Const)
		init = AppendS32(init, int32(len(b.LogMessage)))
		init = append(init, opCall)
		init = AppendU32(init, uint32(idxLog))
	}
	if idxRegister >= 0 {
		init = append(init, opI32Const)
		init = AppendS32(init, DataOffset)
		init = append(init, opI32Const)
		init = AppendS32(init, int32(len(b.Manifest)))
		init = append(init, opCall)
		init = AppendU32(init, uint32(idxRegister))
	}
	fns = append(fns, fn{name: "_initialize", typ: tVoid, body: init})

	for _, name := range sortedKeys(b.Constants) {
		body := append([]byte{opI32Const}, AppendS32(nil, b.Constants[name])...)
		fns = append(fns, fn{name: name, typ: tConst, body: body})
	}
	for _, name := range b.Traps {
		fns = append(fns, fn{name: name, typ: tConst, body: []byte{opUnreachable}})
	}
	for _, name := range b.Inits {
		fns = append(fns, fn{name: name, typ: tVoid})
	}
	for _, export := range probeNames {
		var body []byte
		body = append(body, opI32Const)
		body = AppendS32(body, int32(probeOff[export]))
		body = append(body, opI32Const)
		body = AppendS32(body, int32(len(b.Probes[export])))
		body = append(body, opCall)
		body = AppendU32(body, uint32(idxShared))
		fns = append(fns, fn{name: export, typ: tConst, body: body})
	}

	out := append([]byte(nil), header...)
	out = appendSection(out, 1, types)

	var importSec []byte
	importSec = AppendU32(importSec, uint32(len(imports)))
	for _, i := range imports {
		importSec = appendName(importSec, i.module)
		importSec = appendName(importSec, i.name)
		importSec = append(importSec, exportFunc)
		importSec = AppendU32(importSec, i.typ)
	}
	if len(imports) > 0 {
		out = appendSection(out, 2, importSec)
	}

	var funcSec []byte
	funcSec = AppendU32(funcSec, uint32(len(fns)))
	for _, f := range fns {
		funcSec = AppendU32(funcSec, f.typ)
	}
	out = appendSection(out, 3, funcSec)

	// One page of memory, no maximum.
	out = appendSection(out, 5, []byte{1, 0x00, 1})

	var exportSec []byte
	exportSec = AppendU32(exportSec, uint32(len(fns)+1))
	exportSec = appendName(exportSec, "memory")
	exportSec = append(exportSec, exportMemory, 0)
	for i, f := range fns {
		exportSec = appendName(exportSec, f.name)
		exportSec = append(exportSec, exportFunc)
		exportSec = AppendU32(exportSec, uint32(len(imports)+i))
	}
	out = appendSection(out, 7, exportSec)

	var codeSec []byte
	codeSec = AppendU32(codeSec, uint32(len(fns)))
	for _, f := range fns {
		body := append([]byte{0}, f.body...) // no locals
		body = append(body, opEnd)
		codeSec = AppendU32(codeSec, uint32(len(body)))
		codeSec = append(codeSec, body...)
	}
	out = appendSection(out, 10, codeSec)

	if len(data) > 0 {
		var dataSec []byte
		dataSec = AppendU32(dataSec, 1)
		dataSec = append(dataSec, 0x00, opI32Const)
		dataSec = AppendS32(dataSec, DataOffset)
		dataSec = append(dataSec, opEnd)
		dataSec = AppendU32(dataSec, uint32(len(data)))
		dataSec = append(dataSec, data...)
		out = appendSection(out, 11, dataSec)
	}

	if b.EmbedManifest {
		out = appendCustom(out, ManifestSection, b.Manifest)
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
