// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package seccomp

import "github.com/bureau-foundation/burrow/service"

// baselineSyscalls is what every sandboxed program gets regardless of
// configuration: file access inside the already-restricted mount tree,
// memory, threads, signals, timers, polling, and message transfer on
// the inherited supervisor channel. Socket creation is not here;
// opening new sockets is granted per service.
//
// The list is a superset across architectures; Synthesize drops names
// the target architecture does not define.
var baselineSyscalls = []string{
	// Process and thread lifecycle.
	"clone", "execve", "execveat", "exit", "exit_group", "fork", "vfork",
	"wait4", "waitid", "kill", "tgkill", "tkill",
	"getpid", "getppid", "gettid", "getpgid", "getpgrp", "setpgid",
	"getsid", "setsid",
	"prctl", "arch_prctl", "set_tid_address", "set_robust_list",
	"get_robust_list", "rseq", "sched_yield", "sched_getaffinity",
	"sched_setaffinity", "sched_getparam", "sched_getscheduler",
	"sched_setscheduler", "getpriority", "setpriority",
	"capget", "capset", "personality",

	// Credentials, read-only identity.
	"getuid", "geteuid", "getgid", "getegid", "getgroups",
	"getresuid", "getresgid", "setuid", "setgid", "setgroups",
	"setresuid", "setresgid", "setreuid", "setregid", "setfsuid",
	"setfsgid", "umask",

	// Memory.
	"brk", "mmap", "munmap", "mremap", "mprotect", "madvise",
	"mlock", "munlock", "mlock2", "membarrier", "mincore", "msync",
	"memfd_create", "process_vm_readv",

	// Files and directories.
	"open", "openat", "openat2", "creat", "close", "close_range",
	"read", "write", "readv", "writev", "pread64", "pwrite64",
	"preadv", "pwritev", "preadv2", "pwritev2", "lseek",
	"copy_file_range", "sendfile", "splice", "tee", "vmsplice",
	"truncate", "ftruncate", "fallocate", "fadvise64",
	"stat", "fstat", "lstat", "newfstatat", "statx", "statfs",
	"fstatfs", "access", "faccessat", "faccessat2",
	"getdents", "getdents64", "readlink", "readlinkat",
	"rename", "renameat", "renameat2", "link", "linkat", "unlink",
	"unlinkat", "symlink", "symlinkat", "mkdir", "mkdirat", "rmdir",
	"chdir", "fchdir", "getcwd", "chmod", "fchmod", "fchmodat",
	"chown", "fchown", "lchown", "fchownat", "utime", "utimes",
	"utimensat", "futimesat", "flock", "fsync", "fdatasync",
	"sync", "syncfs", "sync_file_range",
	"getxattr", "lgetxattr", "fgetxattr", "setxattr", "lsetxattr",
	"fsetxattr", "listxattr", "llistxattr", "flistxattr",
	"removexattr", "lremovexattr", "fremovexattr",
	"fcntl", "dup", "dup2", "dup3", "ioctl", "pipe", "pipe2",
	"inotify_init", "inotify_init1", "inotify_add_watch",
	"inotify_rm_watch", "fanotify_init",

	// Polling and events.
	"poll", "ppoll", "select", "pselect6",
	"epoll_create", "epoll_create1", "epoll_ctl", "epoll_wait",
	"epoll_pwait", "epoll_pwait2",
	"eventfd", "eventfd2", "signalfd", "signalfd4", "timerfd_create",
	"timerfd_settime", "timerfd_gettime", "pidfd_open",
	"pidfd_send_signal",

	// Signals.
	"rt_sigaction", "rt_sigprocmask", "rt_sigreturn", "rt_sigpending",
	"rt_sigsuspend", "rt_sigtimedwait", "rt_sigqueueinfo",
	"sigaltstack", "restart_syscall", "pause",

	// Futexes and time.
	"futex", "futex_waitv", "get_thread_area", "set_thread_area",
	"clock_gettime", "clock_getres", "clock_nanosleep", "nanosleep",
	"gettimeofday", "time", "times",
	"timer_create", "timer_settime", "timer_gettime", "timer_delete",
	"timer_getoverrun", "getitimer", "setitimer", "alarm",

	// Resources and system queries.
	"getrlimit", "setrlimit", "prlimit64", "getrusage", "sysinfo",
	"uname", "getrandom", "getcpu", "ioprio_get", "ioprio_set",

	// The supervisor channel. Every sandbox inherits a connected
	// SEQPACKET socket, so transferring messages on it and the
	// introspection the runtime performs when adopting the inherited
	// descriptor must always work. Creating or connecting sockets
	// stays a per-service grant.
	"sendmsg", "recvmsg", "getsockname", "getsockopt",
}

// socketSyscalls is the socket family, granted to every service that
// talks to a host socket (network or unix).
var socketSyscalls = []string{
	"socket", "socketpair", "connect", "bind", "listen",
	"accept", "accept4", "shutdown",
	"getsockname", "getpeername", "getsockopt", "setsockopt",
	"sendto", "recvfrom", "sendmsg", "recvmsg", "sendmmsg", "recvmmsg",
}

// nestedNamespaceSyscalls is added only when a namespaces service with
// allow_nested is resolved: the sandboxed program runs its own
// sandbox, so it needs to create and join namespaces and manage its
// private mount tree.
var nestedNamespaceSyscalls = []string{
	"clone3", "unshare", "setns", "mount", "umount2", "pivot_root",
}

// serviceSyscalls maps a service kind to the syscalls it grants beyond
// the baseline. A kind with no entry grants nothing extra.
var serviceSyscalls = map[service.Kind][]string{
	service.KindNetwork:      socketSyscalls,
	service.KindWayland:      socketSyscalls,
	service.KindDBus:         socketSyscalls,
	service.KindNotification: socketSyscalls,
	service.KindSystray:      socketSyscalls,

	// X11 clients use MIT-SHM segments alongside the display socket.
	service.KindX11: append([]string{
		"shmget", "shmat", "shmdt", "shmctl",
	}, socketSyscalls...),

	// Audio clients pass buffers over the socket as memfds and signal
	// realtime needs through scheduler queries already in the baseline.
	service.KindSound: socketSyscalls,

	// DRM render nodes are driven through ioctl (baseline); kcmp is
	// used by Mesa to de-duplicate device file descriptions.
	service.KindGPU: {"kcmp"},
}
