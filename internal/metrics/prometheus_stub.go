//go:build noprom

package metrics

import "github.com/sirupsen/logrus"

// enablePrometheus keeps the noop recorder in binaries built with -tags noprom
func enablePrometheus(addr string) error {
	logrus.WithField("addr", addr).Warn("prometheus metrics requested but the binary was built with noprom")
	return nil
}
