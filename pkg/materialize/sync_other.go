//go:build !unix

package materialize

func syncDir(dir string) error {
	return nil
}
