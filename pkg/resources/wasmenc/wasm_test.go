package wasmenc

import "encoding/binary"

// wasiModule assembles a WASI command whose _start writes out to stdout
// and then calls proc_exit(exitCode).
func wasiModule(out []byte, exitCode byte) []byte {
	const (
		i32  = 0x7f
		fn   = 0x60
		wasi = "wasi_snapshot_preview1"
	)

	var m []byte
	m = append(m, 0x00, 'a', 's', 'm', 0x01, 0x00, 0x00, 0x00)

	// types: 0 fd_write, 1 _start, 2 proc_exit
	m = section(m, 1, vec(3,
		[]byte{fn, 4, i32, i32, i32, i32, 1, i32},
		[]byte{fn, 0, 0},
		[]byte{fn, 1, i32, 0},
	))

	m = section(m, 2, vec(2,
		cat(name(wasi), name("fd_write"), []byte{0x00, 0}),
		cat(name(wasi), name("proc_exit"), []byte{0x00, 2}),
	))

	m = section(m, 3, vec(1, []byte{1}))
	m = section(m, 5, vec(1, []byte{0x00, 1}))
	m = section(m, 7, vec(2,
		cat(name("memory"), []byte{0x02, 0}),
		cat(name("_start"), []byte{0x00, 2}),
	))

	body := []byte{
		0x00,    // no locals
		0x41, 1, // fd
		0x41, 0, // iovs
		0x41, 1, // iovs_len
		0x41, 8, // nwritten
		0x10, 0, // call fd_write
		0x1a, // drop
		0x41, exitCode,
		0x10, 1, // call proc_exit
		0x0b,
	}
	m = section(m, 10, vec(1, cat(uleb(uint32(len(body))), body)))

	iov := make([]byte, 8)
	binary.LittleEndian.PutUint32(iov[0:], 16)
	binary.LittleEndian.PutUint32(iov[4:], uint32(len(out)))
	m = section(m, 11, vec(2,
		cat([]byte{0x00, 0x41, 0, 0x0b}, uleb(uint32(len(iov))), iov),
		cat([]byte{0x00, 0x41, 16, 0x0b}, uleb(uint32(len(out))), out),
	))
	return m
}

func section(m []byte, id byte, content []byte) []byte {
	m = append(m, id)
	m = append(m, uleb(uint32(len(content)))...)
	return append(m, content...)
}

func vec(n uint32, items ...[]byte) []byte {
	return cat(append([][]byte{uleb(n)}, items...)...)
}

func name(s string) []byte {
	return cat(uleb(uint32(len(s))), []byte(s))
}

func cat(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func uleb(v uint32) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			out = append(out, b|0x80)
			continue
		}
		return append(out, b)
	}
}
