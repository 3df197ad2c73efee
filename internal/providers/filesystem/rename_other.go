//go:build !linux

package filesystem

func renameNoReplace(oldpath, newpath string) error {
	return renameCheckExisting(oldpath, newpath)
}
