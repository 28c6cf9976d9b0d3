package defs

// Err_t is the kernel-wide error type: syscall leaves negate it to form
// the negative-errno convention of spec.md §6.
type Err_t int

// Errno values named per spec.md §7's taxonomy. Values follow the
// classical Linux numbering so a Err_t can be negated directly into a
// userspace-recognizable errno.
const (
	EPERM        Err_t = 1
	ENOENT       Err_t = 2
	EIO          Err_t = 5
	EBADF        Err_t = 9
	EBUSY        Err_t = 16
	ENOMEM       Err_t = 12
	EACCES       Err_t = 13
	EFAULT       Err_t = 14
	EEXIST       Err_t = 17
	EXDEV        Err_t = 18
	ENODEV       Err_t = 19
	ENOTDIR      Err_t = 20
	EISDIR       Err_t = 21
	EINVAL       Err_t = 22
	ENOSPC       Err_t = 28
	ENOTEMPTY    Err_t = 39
	ENAMETOOLONG Err_t = 36
	ELOOP        Err_t = 40
	ENOTSUP      Err_t = 95
	ENOHEAP      Err_t = 96 // kernel-internal: resource-reservation exhausted
	EAFNOSUPPORT Err_t = 97
	EPROTONOSUPPORT Err_t = 93
	EMSGSIZE     Err_t = 90
	ENOSYS       Err_t = 38
)

// Name returns a short human-readable label, used only for diagnostics.
func (e Err_t) Name() string {
	switch e {
	case EPERM:
		return "EPERM"
	case ENOENT:
		return "ENOENT"
	case EIO:
		return "EIO"
	case EBADF:
		return "EBADF"
	case EBUSY:
		return "EBUSY"
	case ENOMEM:
		return "ENOMEM"
	case EACCES:
		return "EACCES"
	case EFAULT:
		return "EFAULT"
	case EEXIST:
		return "EEXIST"
	case EXDEV:
		return "EXDEV"
	case ENODEV:
		return "ENODEV"
	case ENOTDIR:
		return "ENOTDIR"
	case EISDIR:
		return "EISDIR"
	case EINVAL:
		return "EINVAL"
	case ENOSPC:
		return "ENOSPC"
	case ENOTEMPTY:
		return "ENOTEMPTY"
	case ENAMETOOLONG:
		return "ENAMETOOLONG"
	case ELOOP:
		return "ELOOP"
	case ENOTSUP:
		return "ENOTSUP"
	case ENOHEAP:
		return "ENOHEAP"
	case EAFNOSUPPORT:
		return "EAFNOSUPPORT"
	case EPROTONOSUPPORT:
		return "EPROTONOSUPPORT"
	case EMSGSIZE:
		return "EMSGSIZE"
	case ENOSYS:
		return "ENOSYS"
	case 0:
		return "OK"
	default:
		return "EUNKNOWN"
	}
}

func (e Err_t) Error() string {
	return e.Name()
}

// Tid_t identifies a kernel thread for page-fault attribution.
type Tid_t int
