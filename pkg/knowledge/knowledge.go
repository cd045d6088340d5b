// Package knowledge manages the knowledge-base index at
// <knowledge>/index.json and the topic directories it points to.
package knowledge

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/natefinch/atomic"
)

var (
	// ErrTopicNotFound reports an id absent from the index or archive.
	ErrTopicNotFound = errors.New("topic not found")
	// ErrTopicExists reports a restore or archive target that already exists.
	ErrTopicExists = errors.New("topic already exists")
)

// DocNames are the per-topic documents, in display order.
var DocNames = []string{"overview", "sources", "plan", "backlog"} //nolint:gochecknoglobals // static table

// Topic is one index entry. Document fields hold paths relative to the
// knowledge dir.
type Topic struct {
	ID       string   `json:"id"`
	Title    string   `json:"title"`
	Keywords []string `json:"keywords,omitempty"`
	Overview string   `json:"overview,omitempty"`
	Sources  string   `json:"sources,omitempty"`
	Plan     string   `json:"plan,omitempty"`
	Backlog  string   `json:"backlog,omitempty"`
}

// Index is the on-disk index document.
type Index struct {
	Topics []Topic `json:"topics"`
}

// Find returns the position of id, or -1.
func (idx *Index) Find(id string) int {
	for i, t := range idx.Topics {
		if t.ID == id {
			return i
		}
	}
	return -1
}

// KB is a knowledge base rooted at Dir.
type KB struct {
	Dir string
}

// IndexPath is <dir>/index.json.
func (k KB) IndexPath() string { return filepath.Join(k.Dir, "index.json") }

func (k KB) archiveIndexPath() string { return filepath.Join(k.Dir, "archive", "index.json") }

// TopicDir is <dir>/topics/<id>.
func (k KB) TopicDir(id string) string { return filepath.Join(k.Dir, "topics", id) }

// ArchivedTopicDir is <dir>/archive/topics/<id>.
func (k KB) ArchivedTopicDir(id string) string { return filepath.Join(k.Dir, "archive", "topics", id) }

// Load reads the index. A missing file is an empty index; the legacy form,
// a bare array of topics, is accepted.
func (k KB) Load() (*Index, error) {
	return loadIndex(k.IndexPath())
}

func loadIndex(path string) (*Index, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path built from knowledge dir
	if err != nil {
		if os.IsNotExist(err) {
			return &Index{Topics: []Topic{}}, nil
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return &Index{Topics: []Topic{}}, nil
	}

	var idx Index
	if trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &idx.Topics); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	} else if err := json.Unmarshal(trimmed, &idx); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if idx.Topics == nil {
		idx.Topics = []Topic{}
	}
	return &idx, nil
}

// Save writes the index atomically in the object form.
func (k KB) Save(idx *Index) error {
	return saveIndex(k.IndexPath(), idx)
}

func saveIndex(path string, idx *Index) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil { //nolint:gosec // knowledge dir is user-readable
		return fmt.Errorf("create %s: %w", filepath.Dir(path), err)
	}
	if idx.Topics == nil {
		idx.Topics = []Topic{}
	}
	data, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal index: %w", err)
	}
	data = append(data, '\n')
	if err := atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// Get returns the topic with id.
func (k KB) Get(id string) (*Topic, error) {
	idx, err := k.Load()
	if err != nil {
		return nil, err
	}
	i := idx.Find(id)
	if i < 0 {
		return nil, fmt.Errorf("%s: %w", id, ErrTopicNotFound)
	}
	t := idx.Topics[i]
	return &t, nil
}

// Doc is one topic document read from disk.
type Doc struct {
	Name    string
	Path    string
	Content string
}

// Docs reads the documents of a topic that exist on disk.
func (k KB) Docs(t *Topic) []Doc {
	var out []Doc
	for _, name := range DocNames {
		rel := t.docRef(name)
		if rel == "" {
			rel = filepath.Join("topics", t.ID, name+".md")
		}
		path := filepath.Join(k.Dir, rel)
		data, err := os.ReadFile(path) //nolint:gosec // path built from knowledge dir
		if err != nil {
			continue
		}
		out = append(out, Doc{Name: name, Path: path, Content: string(data)})
	}
	return out
}

func (t *Topic) docRef(name string) string {
	switch name {
	case "overview":
		return t.Overview
	case "sources":
		return t.Sources
	case "plan":
		return t.Plan
	case "backlog":
		return t.Backlog
	}
	return ""
}

func (t *Topic) setDocRef(name, rel string) {
	switch name {
	case "overview":
		t.Overview = rel
	case "sources":
		t.Sources = rel
	case "plan":
		t.Plan = rel
	case "backlog":
		t.Backlog = rel
	}
}

// ReindexResult summarises a Reindex run.
type ReindexResult struct {
	Added   []string
	Removed []string
	Total   int
}

// Reindex reconciles the index with topics/ on disk: directories without an
// entry are added (titled from the first heading of overview.md), entries
// whose directory is gone are dropped, and document references are
// refreshed.
func (k KB) Reindex() (*ReindexResult, error) {
	idx, err := k.Load()
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(filepath.Join(k.Dir, "topics"))
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("list topics: %w", err)
	}
	onDisk := map[string]bool{}
	for _, e := range entries {
		if e.IsDir() {
			onDisk[e.Name()] = true
		}
	}

	res := &ReindexResult{}
	kept := idx.Topics[:0]
	for _, t := range idx.Topics {
		if !onDisk[t.ID] {
			res.Removed = append(res.Removed, t.ID)
			continue
		}
		kept = append(kept, t)
	}
	idx.Topics = kept

	ids := make([]string, 0, len(onDisk))
	for id := range onDisk {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if idx.Find(id) >= 0 {
			continue
		}
		idx.Topics = append(idx.Topics, Topic{ID: id, Title: k.guessTitle(id)})
		res.Added = append(res.Added, id)
	}

	for i := range idx.Topics {
		t := &idx.Topics[i]
		for _, name := range DocNames {
			rel := filepath.Join("topics", t.ID, name+".md")
			if _, err := os.Stat(filepath.Join(k.Dir, rel)); err == nil {
				t.setDocRef(name, filepath.ToSlash(rel))
			} else {
				t.setDocRef(name, "")
			}
		}
	}

	res.Total = len(idx.Topics)
	return res, k.Save(idx)
}

func (k KB) guessTitle(id string) string {
	data, err := os.ReadFile(filepath.Join(k.TopicDir(id), "overview.md"))
	if err == nil {
		for _, line := range strings.Split(string(data), "\n") {
			if strings.HasPrefix(line, "# ") {
				return strings.TrimSpace(line[2:])
			}
		}
	}
	return id
}

// Archive moves topics/<id> to archive/topics/<id> and moves its index entry
// into archive/index.json.
func (k KB) Archive(id string) error {
	idx, err := k.Load()
	if err != nil {
		return err
	}
	i := idx.Find(id)
	if i < 0 {
		return fmt.Errorf("archive %s: %w", id, ErrTopicNotFound)
	}
	if _, err := os.Stat(k.ArchivedTopicDir(id)); err == nil {
		return fmt.Errorf("archive %s: %w in archive", id, ErrTopicExists)
	}

	if err := moveDir(k.TopicDir(id), k.ArchivedTopicDir(id)); err != nil {
		return fmt.Errorf("archive %s: %w", id, err)
	}

	arch, err := loadIndex(k.archiveIndexPath())
	if err != nil {
		return err
	}
	entry := idx.Topics[i]
	if j := arch.Find(id); j >= 0 {
		arch.Topics[j] = entry
	} else {
		arch.Topics = append(arch.Topics, entry)
	}
	if err := saveIndex(k.archiveIndexPath(), arch); err != nil {
		return err
	}

	idx.Topics = append(idx.Topics[:i], idx.Topics[i+1:]...)
	return k.Save(idx)
}

// Restore reverses Archive. A topic archived without an archive index entry
// is restored with its id as title.
func (k KB) Restore(id string) error {
	idx, err := k.Load()
	if err != nil {
		return err
	}
	if idx.Find(id) >= 0 {
		return fmt.Errorf("restore %s: %w in index", id, ErrTopicExists)
	}
	if _, err := os.Stat(k.ArchivedTopicDir(id)); err != nil {
		return fmt.Errorf("restore %s: %w in archive", id, ErrTopicNotFound)
	}
	if _, err := os.Stat(k.TopicDir(id)); err == nil {
		return fmt.Errorf("restore %s: %w", id, ErrTopicExists)
	}

	if err := moveDir(k.ArchivedTopicDir(id), k.TopicDir(id)); err != nil {
		return fmt.Errorf("restore %s: %w", id, err)
	}

	arch, err := loadIndex(k.archiveIndexPath())
	if err != nil {
		return err
	}
	entry := Topic{ID: id, Title: id}
	if j := arch.Find(id); j >= 0 {
		entry = arch.Topics[j]
		arch.Topics = append(arch.Topics[:j], arch.Topics[j+1:]...)
		if err := saveIndex(k.archiveIndexPath(), arch); err != nil {
			return err
		}
	}
	idx.Topics = append(idx.Topics, entry)
	return k.Save(idx)
}

func moveDir(src, dst string) error {
	if _, err := os.Stat(src); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil { //nolint:gosec // knowledge dir is user-readable
		return err
	}
	return os.Rename(src, dst)
}
