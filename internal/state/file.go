package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"autopost/pkg/logx"
)

// fileStore keeps one <target>.publish.json and <target>.engage.json pair
// per target. Writes go to a temp file in the same directory followed by a
// rename, so readers never see a partial ledger.
type fileStore struct {
	dir string
	log logx.Logger
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, err
	}
	return &fileStore{dir: cfg.Dir, log: log}, nil
}

func (f *fileStore) Close() error { return nil }

func (f *fileStore) path(target, kind string) string {
	name := sanitizeTarget(target) + "." + kind + ".json"
	return filepath.Join(f.dir, name)
}

func sanitizeTarget(target string) string {
	s := strings.TrimSpace(strings.ToLower(target))
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	if b.Len() == 0 {
		return "default"
	}
	return b.String()
}

func (f *fileStore) LoadPublish(target string) (*PublishState, error) {
	st := NewPublishState()
	if err := f.load(f.path(target, "publish"), st); err != nil {
		return nil, err
	}
	st.Normalize()
	return st, nil
}

func (f *fileStore) SavePublish(target string, st *PublishState) error {
	return f.save(f.path(target, "publish"), st)
}

func (f *fileStore) LoadEngage(target string) (*EngageState, error) {
	st := NewEngageState()
	if err := f.load(f.path(target, "engage"), st); err != nil {
		return nil, err
	}
	st.Normalize()
	return st, nil
}

func (f *fileStore) SaveEngage(target string, st *EngageState) error {
	return f.save(f.path(target, "engage"), st)
}

// load decodes into dst if the file exists. A corrupt file is reported and
// left untouched on disk; the caller starts from the pre-filled empty ledger.
func (f *fileStore) load(path string, dst any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("state: read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		f.log.Warn("ledger unreadable, starting fresh",
			logx.String("path", path), logx.Err(err))
		return nil
	}
	return nil
}

func (f *fileStore) save(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("state: marshal %s: %w", path, err)
	}
	data = append(data, '\n')

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("state: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("state: rename %s: %w", path, err)
	}
	return nil
}
