package version

import (
	"bytes"
	"fmt"
	"runtime/debug"
	"text/tabwriter"
)

func init() {
	buildInfo = moduleBuildInfo
}

// moduleBuildInfo lists the main module and every dependency linked into
// the binary, one per line.
func moduleBuildInfo() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "not built in module mode"
	}

	buf := new(bytes.Buffer)
	w := tabwriter.NewWriter(buf, 0, 8, 1, ' ', 0)
	fmt.Fprintf(w, " mod\t%s\t%s\n", info.Main.Path, info.Main.Version)
	for _, dep := range info.Deps {
		path, ver := dep.Path, dep.Version
		if dep.Replace != nil {
			path, ver = path+" => "+dep.Replace.Path, dep.Replace.Version
		}
		fmt.Fprintf(w, " dep\t%s\t%s\n", path, ver)
	}
	w.Flush()
	return buf.String()
}
