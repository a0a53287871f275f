package afc

import (
	"errors"
	"io"
	"io/fs"
	"os"
	pathpkg "path"
	"path/filepath"
	"sort"
)

// ReadDir lists the entry names of dir, without "." and "..", sorted.
func (c *Channel) ReadDir(dir string) ([]string, error) {
	d, err := c.OpenDirectory(dir)
	if err != nil {
		return nil, err
	}
	defer d.Close()

	var names []string
	for {
		name, err := d.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if name == "." || name == ".." {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Walk walks the tree rooted at root in lexical order, like filepath.Walk.
func (c *Channel) Walk(root string, walkFn filepath.WalkFunc) error {
	info, err := c.Stat(root)
	if err != nil {
		return walkFn(root, nil, err)
	}
	err = c.walk(root, info, walkFn)
	if errors.Is(err, filepath.SkipDir) || errors.Is(err, filepath.SkipAll) {
		return nil
	}
	return err
}

func (c *Channel) walk(path string, info fs.FileInfo, walkFn filepath.WalkFunc) error {
	if !info.IsDir() {
		return walkFn(path, info, nil)
	}

	names, err := c.ReadDir(path)
	err1 := walkFn(path, info, err)
	// walkFn decides whether a listing error stops the walk
	if err != nil || err1 != nil {
		return err1
	}

	for _, name := range names {
		filename := pathpkg.Join(path, name)
		fileInfo, err := c.Stat(filename)
		if err != nil {
			if err := walkFn(filename, fileInfo, err); err != nil && !errors.Is(err, filepath.SkipDir) {
				return err
			}
			continue
		}
		if err := c.walk(filename, fileInfo, walkFn); err != nil {
			if !fileInfo.IsDir() || !errors.Is(err, filepath.SkipDir) {
				return err
			}
		}
	}
	return nil
}

// CopyCallbackFunc is called after each file is copied.
type CopyCallbackFunc func(dst, src string, info fs.FileInfo)

// PushFile copies a local file to dst on the device, truncating dst.
func (c *Channel) PushFile(dst, src string) error {
	srcFile, err := os.Open(src)
	if err != nil {
		return err
	}
	defer srcFile.Close()

	dstFile, err := c.OpenFile(dst, WriteOnly, 0)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dstFile, srcFile); err != nil {
		dstFile.Close()
		return err
	}
	return dstFile.Close()
}

// PullFile copies the device file src to the local path dst.
func (c *Channel) PullFile(dst, src string) error {
	srcFile, err := c.OpenFile(src, ReadOnly, 0)
	if err != nil {
		return err
	}
	defer srcFile.Close()

	dstFile, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dstFile, srcFile); err != nil {
		dstFile.Close()
		return err
	}
	return dstFile.Close()
}

// Push copies a local file or directory tree to dst on the device. A
// directory src is recreated under dst with its base name.
func (c *Channel) Push(dst, src string, cb CopyCallbackFunc) error {
	srcInfo, err := os.Stat(src)
	if err != nil {
		return err
	}
	if srcInfo.IsDir() {
		base := filepath.Dir(src)
		return filepath.Walk(src, func(path string, info fs.FileInfo, err error) error {
			if err != nil {
				return err
			}
			rel, err := filepath.Rel(base, path)
			if err != nil {
				return err
			}
			target := pathpkg.Join(dst, filepath.ToSlash(rel))
			if info.IsDir() {
				return c.CreateDirectory(target)
			}
			if err := c.PushFile(target, path); err != nil {
				return err
			}
			if cb != nil {
				cb(target, path, info)
			}
			return nil
		})
	}

	target := dst
	if dstInfo, err := c.Stat(dst); err == nil && dstInfo.IsDir() {
		target = pathpkg.Join(dst, filepath.Base(src))
	}
	if err := c.PushFile(target, src); err != nil {
		return err
	}
	if cb != nil {
		cb(target, src, srcInfo)
	}
	return nil
}

// Pull copies a device file or directory tree to the local path dst.
func (c *Channel) Pull(dst, src string, cb CopyCallbackFunc) error {
	srcInfo, err := c.Stat(src)
	if err != nil {
		return err
	}
	if srcInfo.IsDir() {
		base := pathpkg.Dir(pathpkg.Clean(src))
		return c.Walk(src, func(path string, info fs.FileInfo, err error) error {
			if err != nil {
				return err
			}
			rel := path
			if base != "/" && base != "." {
				rel = path[len(base):]
			}
			target := filepath.Join(dst, filepath.FromSlash(rel))
			if info.IsDir() {
				return os.MkdirAll(target, 0o755)
			}
			if err := c.PullFile(target, path); err != nil {
				return err
			}
			if cb != nil {
				cb(target, path, info)
			}
			return nil
		})
	}

	target := dst
	if dstInfo, err := os.Stat(dst); err == nil && dstInfo.IsDir() {
		target = filepath.Join(dst, pathpkg.Base(src))
	}
	if err := c.PullFile(target, src); err != nil {
		return err
	}
	if cb != nil {
		cb(target, src, srcInfo)
	}
	return nil
}

// RemoveAll deletes path and everything below it.
func (c *Channel) RemoveAll(path string) error {
	var dirs []string
	err := c.Walk(path, func(p string, info fs.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			dirs = append(dirs, p)
			return nil
		}
		return c.Remove(p)
	})
	if err != nil {
		return err
	}
	for i := len(dirs) - 1; i >= 0; i-- {
		if err := c.Remove(dirs[i]); err != nil {
			return err
		}
	}
	return nil
}
