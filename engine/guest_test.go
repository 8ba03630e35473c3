package engine

// testGuest assembles a minimal guest module:
//
//	(import "opcore" "op_call" (func (param i32 x9) (result i32)))
//	(memory (export "memory") 1)
//	(global $heap (mut i32) (i32.const 1024))
//	(func (export "alloc") (param i32) (result i32)
//	  global.get $heap  global.get $heap  local.get 0  i32.add  global.set $heap)
//	(func (export "call") (param i32 x9) (result i32)
//	  local.get 0 ... local.get 8  call $op_call)
//	(func (export "op_resolve") (param i64 i32 i32)
//	  mem[16] = pid (i64)  mem[24] = ptr  mem[28] = len  mem[32] += 1)
//
// Every section stays below 128 bytes so sizes fit a single LEB128 byte.
func testGuest(withResolve bool) []byte {
	const (
		i32 = 0x7f
		i64 = 0x7e
	)

	mod := []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}

	types := []byte{3,
		0x60, 9, i32, i32, i32, i32, i32, i32, i32, i32, i32, 1, i32,
		0x60, 1, i32, 1, i32,
		0x60, 3, i64, i32, i32, 0,
	}
	mod = append(mod, section(1, types)...)

	imports := []byte{1}
	imports = append(imports, name("opcore")...)
	imports = append(imports, name("op_call")...)
	imports = append(imports, 0x00, 0)
	mod = append(mod, section(2, imports)...)

	funcs := []byte{2, 1, 0}
	if withResolve {
		funcs = []byte{3, 1, 0, 2}
	}
	mod = append(mod, section(3, funcs)...)

	mod = append(mod, section(5, []byte{1, 0x00, 1})...)
	mod = append(mod, section(6, []byte{1, i32, 1, 0x41, 0x80, 0x08, 0x0b})...)

	exports := []byte{3}
	if withResolve {
		exports[0] = 4
	}
	exports = append(exports, export("memory", 0x02, 0)...)
	exports = append(exports, export("alloc", 0x00, 1)...)
	exports = append(exports, export("call", 0x00, 2)...)
	if withResolve {
		exports = append(exports, export("op_resolve", 0x00, 3)...)
	}
	mod = append(mod, section(7, exports)...)

	alloc := body(0x23, 0, 0x23, 0, 0x20, 0, 0x6a, 0x24, 0)

	var fwd []byte
	for i := byte(0); i < 9; i++ {
		fwd = append(fwd, 0x20, i)
	}
	call := body(append(fwd, 0x10, 0)...)

	resolve := body(
		0x41, 16, 0x20, 0, 0x37, 3, 0, // i64.store pid
		0x41, 24, 0x20, 1, 0x36, 2, 0, // i32.store ptr
		0x41, 28, 0x20, 2, 0x36, 2, 0, // i32.store len
		0x41, 32, 0x41, 32, 0x28, 2, 0, 0x41, 1, 0x6a, 0x36, 2, 0, // count++
	)

	code := []byte{2}
	code = append(code, alloc...)
	code = append(code, call...)
	if withResolve {
		code[0] = 3
		code = append(code, resolve...)
	}
	return append(mod, section(10, code)...)
}

func section(id byte, content []byte) []byte {
	return append([]byte{id, byte(len(content))}, content...)
}

func name(s string) []byte {
	return append([]byte{byte(len(s))}, s...)
}

func export(n string, kind, idx byte) []byte {
	return append(name(n), kind, idx)
}

// body wraps instructions into a function body with no locals.
func body(instrs ...byte) []byte {
	b := append([]byte{0}, instrs...)
	b = append(b, 0x0b)
	return append([]byte{byte(len(b))}, b...)
}
