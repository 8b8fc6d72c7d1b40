package mumble

import (
	"runtime"
)

func hostOSName() string {
	return runtime.GOOS
}

func hostOSVersion() string {
	return runtime.GOARCH
}
