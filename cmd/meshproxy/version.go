package main

import (
	"fmt"
	"runtime"
)

var Version = "dev"

func versionStr() string {
	return fmt.Sprintf("meshproxy %s (%s %s/%s)", Version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
}
