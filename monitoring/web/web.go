// Package web holds the dashboard of the monitor.
package web

import (
	"embed"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

//go:embed dist/*
var staticAssets embed.FS

// DevModeEnv names the environment variable that makes Assets serve the
// dashboard from the source tree, so that it can be edited without
// rebuilding.
const DevModeEnv = "VMSIM_MONITOR_DEV"

// Assets returns the dashboard files.
func Assets() http.FileSystem {
	if isDevelopmentMode() {
		_, thisFile, _, ok := runtime.Caller(0)
		if !ok {
			panic("error getting path")
		}

		assetPath := filepath.Join(filepath.Dir(thisFile), "dist")
		fmt.Fprintf(os.Stderr,
			"In monitor development mode, serving assets from %s\n", assetPath)

		return http.Dir(assetPath)
	}

	subFS, err := fs.Sub(staticAssets, "dist")
	if err != nil {
		panic(err)
	}

	return http.FS(subFS)
}

func isDevelopmentMode() bool {
	v, ok := os.LookupEnv(DevModeEnv)
	if !ok {
		return false
	}

	return strings.EqualFold(v, "true") || v == "1"
}
