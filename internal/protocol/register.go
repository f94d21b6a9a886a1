package protocol

var defaultDialer Dialer

// RegisterDialer installs the process-wide dialer. The wire library
// integration calls this from its init; tests install a FakeDialer directly
// on the components they build.
func RegisterDialer(d Dialer) {
	defaultDialer = d
}

// RegisteredDialer returns the installed dialer, if any.
func RegisteredDialer() (Dialer, bool) {
	return defaultDialer, defaultDialer != nil
}
