package device

import "runtime"

// Arch is the CPU architecture tag of a target device.
type Arch string

// Supported target architectures.
const (
	Amd64       Arch = "amd64"
	Arm64       Arch = "arm64"
	LoongArch64 Arch = "loongarch64"
	Ppc64el     Arch = "ppc64el"
	Loongson3   Arch = "loongson3"
	Riscv64     Arch = "riscv64"
	Mips64r6el  Arch = "mips64r6el"
)

// ValidArch reports whether a names a supported architecture.
func ValidArch(a Arch) bool {
	switch a {
	case Amd64, Arm64, LoongArch64, Ppc64el, Loongson3, Riscv64, Mips64r6el:
		return true
	}
	return false
}

// NativeArch returns the device architecture matching the build host, if the
// host architecture is supported at all.
func NativeArch() (Arch, bool) {
	switch runtime.GOARCH {
	case "amd64":
		return Amd64, true
	case "arm64":
		return Arm64, true
	case "loong64":
		return LoongArch64, true
	case "riscv64":
		return Riscv64, true
	case "ppc64le":
		return Ppc64el, true
	case "mips64le":
		// mips64r6el hosts are indistinguishable at this level; loongson3
		// is by far the more common case
		return Loongson3, true
	}
	return "", false
}

// IsNative reports whether a matches the build host's architecture.
func (a Arch) IsNative() bool {
	native, ok := NativeArch()
	return ok && native == a
}

// QEMUBinfmtName returns the binfmt_misc interpreter name needed to run
// binaries of this architecture on a foreign host.
func (a Arch) QEMUBinfmtName() string {
	switch a {
	case Amd64:
		return "qemu-x86_64"
	case Arm64:
		return "qemu-aarch64"
	case LoongArch64:
		return "qemu-loongarch64"
	case Ppc64el:
		return "qemu-ppc64le"
	case Loongson3, Mips64r6el:
		return "qemu-mips64el"
	case Riscv64:
		return "qemu-riscv64"
	}
	return ""
}
