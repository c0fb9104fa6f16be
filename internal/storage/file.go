package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// fileStore 把状态保存为单个 JSON 文件：{"source": ["fingerprint", ...]}
type fileStore struct {
	path string
}

func NewFileStore(path string) (Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("state path is required for file driver")
	}
	return &fileStore{path: path}, nil
}

func (s *fileStore) Load(ctx context.Context) (State, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			// 首次运行：没有状态文件
			return NewState(), nil
		}
		return nil, fmt.Errorf("read state %s: %w", s.path, err)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	var lists map[string][]string
	if err := dec.Decode(&lists); err != nil {
		return nil, corruptf("%s: %v", s.path, err)
	}
	if lists == nil {
		return nil, corruptf("%s: not a json object", s.path)
	}
	if dec.More() {
		return nil, corruptf("%s: trailing data", s.path)
	}
	return fromLists(lists)
}

// Save 先写同目录下的临时文件并 fsync，再 rename 覆盖，读者只会看到旧文件或新文件
func (s *fileStore) Save(ctx context.Context, st State) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.MarshalIndent(st.toLists(), "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpPath) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return err
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		cleanup()
		return err
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		cleanup()
		return err
	}
	syncDir(dir)
	return nil
}

func (s *fileStore) Close() error { return nil }

// syncDir 尽力刷新目录项，保证 rename 落盘
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}
