// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package seccomp synthesizes the syscall filter program enforced on
// every sandboxed process.
//
// The policy is deny-by-default: a baseline list covers what any
// program needs to run at all, and each enabled service contributes
// its own syscall group through the serviceSyscalls table. A kind with
// no table entry contributes nothing: a new service gets extra
// syscall access only by an explicit entry here, never implicitly.
//
// Namespace-creation syscalls are restricted by argument, not just by
// number: unless a namespaces service with allow_nested is resolved,
// clone and unshare with any CLONE_NEW* flag fail with EPERM and
// clone3 fails with ENOSYS (its flags live behind a pointer BPF cannot
// follow, so callers are pushed to the filterable clone). These
// argument rules are emitted ahead of the name-based allow list:
// first-match filters require the more specific rule first.
//
// The assembled program is exported as a memfd for the containment
// primitive's --seccomp descriptor.
package seccomp

import (
	"encoding/binary"
	"fmt"
	"os"
	"sort"

	libseccomp "github.com/elastic/go-seccomp-bpf"
	"github.com/elastic/go-seccomp-bpf/arch"
	"golang.org/x/net/bpf"
	"golang.org/x/sys/unix"

	"github.com/bureau-foundation/burrow/service"
)

// Program is a compiled syscall filter specification. Built fresh per
// launch from the resolved configuration; assembling the same Program
// twice yields identical instructions.
type Program struct {
	names       []string // sorted, de-duplicated allow list
	allowNested bool
}

// Synthesize builds the filter specification for a resolved
// configuration.
func Synthesize(resolved *service.Resolved) (*Program, error) {
	allow := make(map[string]bool, len(baselineSyscalls))
	for _, name := range baselineSyscalls {
		allow[name] = true
	}
	for _, svc := range resolved.Services() {
		for _, name := range serviceSyscalls[svc.Kind()] {
			allow[name] = true
		}
	}

	allowNested := false
	if svc := resolved.Lookup(service.KindNamespaces); svc != nil {
		if ns, ok := svc.(*service.Namespaces); ok && ns.AllowNested {
			allowNested = true
		}
	}
	if allowNested {
		for _, name := range nestedNamespaceSyscalls {
			allow[name] = true
		}
	}

	// The syscall tables are written as a superset across
	// architectures. The assembler rejects names the target does not
	// define (mmap2 on x86_64, fork on arm64), so restrict the allow
	// list to the target's table before building the policy.
	info, err := arch.GetInfo("")
	if err != nil {
		return nil, fmt.Errorf("resolve syscall table: %w", err)
	}

	names := make([]string, 0, len(allow))
	for name := range allow {
		if _, known := info.SyscallNames[name]; known {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	return &Program{names: names, allowNested: allowNested}, nil
}

// Names returns the sorted allow list. Inspection only.
func (p *Program) Names() []string {
	names := make([]string, len(p.names))
	copy(names, p.names)
	return names
}

// AllowsNestedNamespaces reports whether the clone-family argument
// restriction is lifted.
func (p *Program) AllowsNestedNamespaces() bool { return p.allowNested }

// Assemble compiles the filter to a BPF program.
func (p *Program) Assemble() ([]bpf.RawInstruction, error) {
	policy := libseccomp.Policy{
		// Unmatched syscalls fail with an errno rather than killing
		// the process; nothing outside the allow list ever succeeds.
		DefaultAction: libseccomp.ActionErrno,
		Syscalls: []libseccomp.SyscallGroup{
			{Action: libseccomp.ActionAllow, Names: p.names},
		},
	}
	instructions, err := policy.Assemble()
	if err != nil {
		return nil, fmt.Errorf("assemble syscall policy: %w", err)
	}
	if !p.allowNested {
		instructions = append(namespaceGuard(), instructions...)
	}
	raw, err := bpf.Assemble(instructions)
	if err != nil {
		return nil, fmt.Errorf("assemble BPF: %w", err)
	}
	return raw, nil
}

// Export assembles the program into a sealed-content memfd positioned
// at offset zero, ready to be inherited by the containment primitive.
func (p *Program) Export() (*os.File, error) {
	raw, err := p.Assemble()
	if err != nil {
		return nil, err
	}

	fd, err := unix.MemfdCreate("burrow-seccomp", unix.MFD_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("memfd_create: %w", err)
	}
	file := os.NewFile(uintptr(fd), "burrow-seccomp")

	// struct sock_filter layout, native byte order.
	buf := make([]byte, 0, len(raw)*8)
	for _, insn := range raw {
		buf = binary.NativeEndian.AppendUint16(buf, insn.Op)
		buf = append(buf, insn.Jt, insn.Jf)
		buf = binary.NativeEndian.AppendUint32(buf, insn.K)
	}
	if _, err := file.Write(buf); err != nil {
		file.Close()
		return nil, fmt.Errorf("write filter: %w", err)
	}
	if _, err := file.Seek(0, 0); err != nil {
		file.Close()
		return nil, fmt.Errorf("rewind filter: %w", err)
	}
	return file, nil
}

// seccomp_data field offsets for BPF absolute loads. The low word of
// an argument is at the field offset on little-endian architectures.
const (
	seccompDataNr   = 0
	seccompDataArg0 = 16
)

// cloneNamespaceFlags are the CLONE_NEW* bits that create namespaces,
// for both clone(2) and unshare(2) argument checks.
const cloneNamespaceFlags = unix.CLONE_NEWUSER |
	unix.CLONE_NEWNS |
	unix.CLONE_NEWNET |
	unix.CLONE_NEWPID |
	unix.CLONE_NEWIPC |
	unix.CLONE_NEWUTS |
	unix.CLONE_NEWCGROUP

func retErrno(errno unix.Errno) uint32 {
	return unix.SECCOMP_RET_ERRNO | (uint32(errno) & unix.SECCOMP_RET_DATA)
}

// namespaceGuard emits the argument-level restriction on the clone
// family. It runs before the allow list so the specific rule wins:
// clone/unshare stay allowed for threads and process creation, but any
// CLONE_NEW* flag fails with EPERM, and clone3 fails with ENOSYS to
// force callers onto the filterable clone entry point.
func namespaceGuard() []bpf.Instruction {
	return []bpf.Instruction{
		bpf.LoadAbsolute{Off: seccompDataNr, Size: 4},
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: uint32(unix.SYS_CLONE3), SkipTrue: 0, SkipFalse: 1},
		bpf.RetConstant{Val: retErrno(unix.ENOSYS)},
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: uint32(unix.SYS_CLONE), SkipTrue: 1, SkipFalse: 0},
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: uint32(unix.SYS_UNSHARE), SkipTrue: 0, SkipFalse: 3},
		bpf.LoadAbsolute{Off: seccompDataArg0, Size: 4},
		bpf.JumpIf{Cond: bpf.JumpBitsSet, Val: uint32(cloneNamespaceFlags), SkipTrue: 0, SkipFalse: 1},
		bpf.RetConstant{Val: retErrno(unix.EPERM)},
	}
}
