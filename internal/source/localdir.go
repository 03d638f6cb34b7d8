package source

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
)

// LocalDir offers media files from a directory tree. Fetch is free: items
// are already local, so the path itself is returned with a no-op cleanup.
type LocalDir struct {
	root string
}

// NewLocalDir creates a directory source.
func NewLocalDir(root string) *LocalDir {
	return &LocalDir{root: root}
}

func (l *LocalDir) Name() string {
	return l.root
}

func (l *LocalDir) List(ctx context.Context) ([]Item, error) {
	var items []Item
	err := filepath.WalkDir(l.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() || !IsMedia(path) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		items = append(items, Item{Path: path, Size: info.Size()})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list directory %s: %w", l.root, err)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Path < items[j].Path })
	return items, nil
}

func (l *LocalDir) Fetch(ctx context.Context, item Item) (string, func(), error) {
	if _, err := os.Stat(item.Path); err != nil {
		return "", func() {}, fmt.Errorf("fetch %s: %w", item.Path, err)
	}
	return item.Path, func() {}, nil
}

func (l *LocalDir) Delete(ctx context.Context, item Item) error {
	if err := os.Remove(item.Path); err != nil {
		return fmt.Errorf("delete %s: %w", item.Path, err)
	}
	return nil
}
