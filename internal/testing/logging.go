package kwtesting

import (
	"io"
	"os"

	klog "k8s.io/klog/v2"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"
)

// SetupLogging points controller-runtime and klog at one shared logr. Output
// is discarded unless KWATCH_DEBUG is set, keeping test runs quiet.
func SetupLogging() {
	logger := zap.New(zap.WriteTo(io.Discard))
	if os.Getenv("KWATCH_DEBUG") != "" {
		logger = zap.New(zap.UseDevMode(true))
	}
	ctrl.SetLogger(logger)
	klog.SetLogger(logger)
}
