package daemon

// WithSystemdSdNotifier overrides the systemd notifier used by the daemon.
func WithSystemdSdNotifier(f func(unsetEnvironment bool, state string) (bool, error)) Option {
	return func(o *options) {
		o.systemdSdNotifier = f
	}
}
