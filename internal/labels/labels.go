package labels

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/kikiluvv/deepfake-detection/internal/errs"
)

// Class names and their integer ids. The set is closed.
const (
	Real = "REAL"
	Fake = "FAKE"
)

// ClassIDs maps every known class name to its integer label.
var ClassIDs = map[string]int{
	Real: 0,
	Fake: 1,
}

// NumClasses is the size of the closed label set.
var NumClasses = len(ClassIDs)

// ClassName returns the name for id, or "" if id is unknown.
func ClassName(id int) string {
	for name, v := range ClassIDs {
		if v == id {
			return name
		}
	}
	return ""
}

// entry is one value of the metadata object. Only label is required; the
// rest of the record is carried through untouched.
type entry struct {
	Label    string `json:"label"`
	Split    string `json:"split,omitempty"`
	Original string `json:"original,omitempty"`
}

// Index maps a video filename to its integer label.
type Index struct {
	path   string
	labels map[string]int
}

// Load reads a metadata file of the form {"a.mp4": {"label": "REAL"}, ...}.
// Unknown class names are rejected here, not at lookup time.
func Load(path string) (*Index, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &errs.ConfigurationError{Op: "read metadata", Path: path, Err: err}
	}
	return Parse(path, data)
}

// Parse builds an Index from raw metadata JSON. path is used for error
// messages only.
func Parse(path string, data []byte) (*Index, error) {
	var raw map[string]entry
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, &errs.ConfigurationError{Op: "parse metadata", Path: path, Err: err}
	}

	idx := &Index{path: path, labels: make(map[string]int, len(raw))}
	for name, e := range raw {
		id, ok := ClassIDs[e.Label]
		if !ok {
			return nil, &errs.ConfigurationError{
				Op:   "parse metadata",
				Path: path,
				Err:  fmt.Errorf("unknown label %q for %q", e.Label, name),
			}
		}
		idx.labels[name] = id
	}
	return idx, nil
}

// Lookup returns the label for filename. A filename absent from the
// metadata is a ConfigurationError.
func (x *Index) Lookup(filename string) (int, error) {
	id, ok := x.labels[filename]
	if !ok {
		return 0, &errs.ConfigurationError{
			Op:   "lookup label",
			Path: x.path,
			Err:  fmt.Errorf("no label for %q", filename),
		}
	}
	return id, nil
}

// Len returns the number of labelled files.
func (x *Index) Len() int { return len(x.labels) }

// Names returns every labelled filename in sorted order.
func (x *Index) Names() []string {
	out := make([]string, 0, len(x.labels))
	for k := range x.labels {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
