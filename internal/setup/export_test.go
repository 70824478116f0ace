package setup

func MockIsPrivileged(f func() bool) (restore func()) {
	saved := isPrivileged
	isPrivileged = f
	return func() {
		isPrivileged = saved
	}
}
