//go:build linux

package liburing

import (
	"strings"
)

const (
	// IORING_SETUP_IOPOLL
	// busy-wait for I/O completion instead of IRQ notifications, O_DIRECT files only.
	IORING_SETUP_IOPOLL uint32 = 1 << iota
	// IORING_SETUP_SQPOLL
	// a kernel thread polls the submission queue.
	IORING_SETUP_SQPOLL
	// IORING_SETUP_SQ_AFF
	// bind the poll thread to sq_thread_cpu, only with IORING_SETUP_SQPOLL.
	IORING_SETUP_SQ_AFF
	IORING_SETUP_CQSIZE
	IORING_SETUP_CLAMP
	IORING_SETUP_ATTACH_WQ
	IORING_SETUP_R_DISABLED
	IORING_SETUP_SUBMIT_ALL
	// IORING_SETUP_COOP_TASKRUN
	// do not interrupt the task in user space on completions, since 5.19.
	IORING_SETUP_COOP_TASKRUN
	IORING_SETUP_TASKRUN_FLAG
	IORING_SETUP_SQE128
	IORING_SETUP_CQE32
	// IORING_SETUP_SINGLE_ISSUER
	// only one task submits, since 6.0. An event loop is such a task.
	IORING_SETUP_SINGLE_ISSUER
	// IORING_SETUP_DEFER_TASKRUN
	// defer work to io_uring_enter with GETEVENTS, requires IORING_SETUP_SINGLE_ISSUER, since 6.1.
	IORING_SETUP_DEFER_TASKRUN
	IORING_SETUP_NO_MMAP
	IORING_SETUP_REGISTERED_FD_ONLY
	IORING_SETUP_NO_SQARRAY
	IORING_SETUP_HYBRID_IOPOLL
)

const (
	IORING_FEAT_SINGLE_MMAP uint32 = 1 << iota
	IORING_FEAT_NODROP
	IORING_FEAT_SUBMIT_STABLE
	IORING_FEAT_RW_CUR_POS
	IORING_FEAT_CUR_PERSONALITY
	IORING_FEAT_FAST_POLL
	IORING_FEAT_POLL_32BITS
	IORING_FEAT_SQPOLL_NONFIXED
	IORING_FEAT_EXT_ARG
	IORING_FEAT_NATIVE_WORKERS
	IORING_FEAT_RSRC_TAGS
	IORING_FEAT_CQE_SKIP
	IORING_FEAT_LINKED_FILE
	IORING_FEAT_REG_REG_RING
)

var setupFlagNames = map[string]uint32{
	"IOPOLL":             IORING_SETUP_IOPOLL,
	"SQPOLL":             IORING_SETUP_SQPOLL,
	"SQ_AFF":             IORING_SETUP_SQ_AFF,
	"CQSIZE":             IORING_SETUP_CQSIZE,
	"CLAMP":              IORING_SETUP_CLAMP,
	"ATTACH_WQ":          IORING_SETUP_ATTACH_WQ,
	"R_DISABLED":         IORING_SETUP_R_DISABLED,
	"SUBMIT_ALL":         IORING_SETUP_SUBMIT_ALL,
	"COOP_TASKRUN":       IORING_SETUP_COOP_TASKRUN,
	"TASKRUN_FLAG":       IORING_SETUP_TASKRUN_FLAG,
	"SQE128":             IORING_SETUP_SQE128,
	"CQE32":              IORING_SETUP_CQE32,
	"SINGLE_ISSUER":      IORING_SETUP_SINGLE_ISSUER,
	"DEFER_TASKRUN":      IORING_SETUP_DEFER_TASKRUN,
	"NO_MMAP":            IORING_SETUP_NO_MMAP,
	"REGISTERED_FD_ONLY": IORING_SETUP_REGISTERED_FD_ONLY,
	"NO_SQARRAY":         IORING_SETUP_NO_SQARRAY,
	"HYBRID_IOPOLL":      IORING_SETUP_HYBRID_IOPOLL,
}

// ParseSetupFlags
// parses a list of setup flags separated by '|' or ',', such as "SINGLE_ISSUER|COOP_TASKRUN".
// The IORING_SETUP_ prefix is optional and unknown names are ignored.
func ParseSetupFlags(s string) (flags uint32) {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == '|' || r == ','
	})
	for _, field := range fields {
		name := strings.ToUpper(strings.TrimSpace(field))
		name = strings.TrimPrefix(name, "IORING_SETUP_")
		flags |= setupFlagNames[name]
	}
	return
}
