// Package programs holds small guest programs that drive the runtime: they
// print, read input, use the heap and terminate.
package programs

import (
	"sort"

	"github.com/Joe-Degs/svcrt/internal/machine"
	"github.com/Joe-Degs/svcrt/internal/mmu"
)

var registry = map[string]machine.Program{
	"hello":     Hello,
	"factorial": Factorial,
	"fibonacci": Fibonacci,
	"login":     Login,
	"matmul":    MatMul,
}

// Lookup finds a program by name.
func Lookup(name string) (machine.Program, bool) {
	p, ok := registry[name]
	return p, ok
}

// Names lists the registered programs.
func Names() []string {
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// fail stops the program on a failed heap or memory operation. The message
// is a flash literal, it prints even when the heap is exhausted.
func fail(p *machine.Process) {
	p.Puts("out of memory\n")
	p.Terminate(2)
}

func cstring(p *machine.Process, s string) mmu.Slice {
	buf, err := p.CString(s)
	if err != nil {
		fail(p)
	}
	return buf
}

func buffer(p *machine.Process, n uint32) mmu.Slice {
	buf, err := p.Buffer(n)
	if err != nil {
		fail(p)
	}
	return buf
}

func text(p *machine.Process, s mmu.Slice) string {
	str, err := p.ReadString(s)
	if err != nil {
		fail(p)
	}
	return str
}

func store(p *machine.Process, addr mmu.VirtAddr, v uint32) {
	if err := p.Mmu.WriteUint32(addr, v); err != nil {
		fail(p)
	}
}

func load(p *machine.Process, addr mmu.VirtAddr) uint32 {
	v, err := p.Mmu.ReadUint32(addr)
	if err != nil {
		fail(p)
	}
	return v
}

// Hello prints a greeting twice and exits with 1 when both copies match.
func Hello(p *machine.Process) {
	a := cstring(p, "Hello, World!\n")
	b := cstring(p, "Hello, World!\n")
	p.WriteText(a)
	p.WriteText(b)

	if text(p, a) == text(p, b) {
		p.Terminate(1)
	}
	p.Terminate(0)
}

func factorial(n uint32) uint32 {
	if n <= 1 {
		return 1
	}
	return n * factorial(n-1)
}

// Factorial exits with 0 when 10! comes out right.
func Factorial(p *machine.Process) {
	if factorial(10) == 3628800 {
		p.Terminate(0)
	}
	p.Terminate(1)
}

const fibCount = 40

// Fibonacci fills a table on the heap and prints its last entry.
func Fibonacci(p *machine.Process) {
	table := buffer(p, fibCount*4)
	word := func(i uint32) mmu.VirtAddr { return table.Addr + mmu.VirtAddr(i*4) }

	a, b := uint32(0), uint32(1)
	for i := uint32(0); i < fibCount; i++ {
		store(p, word(i), b)
		a, b = b, a+b
	}
	p.WriteInt(int32(load(p, word(fibCount-1))))
	p.Puts("\n")
	p.Terminate(0)
}

// Login asks for a password until it gets the right one. The loop reuses
// one line buffer, so it can run for as long as there is input.
func Login(p *machine.Process) {
	buf := buffer(p, 20)
	for {
		p.Puts("Enter password: ")
		p.ReadLine(buf)
		p.Puts("You entered: ")
		p.WriteText(buf)
		p.Puts("\n")
		if text(p, buf) == "password" {
			p.Puts("Correct password!\n")
			p.Terminate(0)
		}
		p.Puts("Incorrect password!\n")
	}
}

// MatMul multiplies a 2x3 by a 3x2 matrix into heap memory and prints the
// result row by row.
func MatMul(p *machine.Process) {
	m1 := [2][3]int32{{1, 2, 3}, {4, 5, 6}}
	m2 := [3][2]int32{{7, 8}, {9, 10}, {11, 12}}

	result := buffer(p, 2*2*4)
	cell := func(i, j int) mmu.VirtAddr { return result.Addr + mmu.VirtAddr((i*2+j)*4) }
	for i := 0; i < 2; i++ {
		for j := 0; j < 2; j++ {
			var sum int32
			for k := 0; k < 3; k++ {
				sum += m1[i][k] * m2[k][j]
			}
			store(p, cell(i, j), uint32(sum))
		}
	}
	for i := 0; i < 2; i++ {
		for j := 0; j < 2; j++ {
			p.WriteInt(int32(load(p, cell(i, j))))
			if j == 0 {
				p.Puts(" ")
			}
		}
		p.Puts("\n")
	}
	p.Terminate(0)
}
