// Package manifest defines the export request model and its decoding rules.
package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"mediadump/internal/services"
)

// Kind distinguishes the two media categories a manifest carries.
type Kind string

const (
	KindVoice Kind = "voice"
	KindVideo Kind = "video"
)

// MediaReference points at one remote file. Timestamp is used only to name
// the file inside the archive.
type MediaReference struct {
	URL       string `json:"url"`
	Timestamp int64  `json:"date"`
}

// errMissingDate marks a wire reference without a "date" field.
var errMissingDate = errors.New(`reference is missing required field "date"`)

// UnmarshalJSON requires "date" to be present; a missing value would
// otherwise name the archive entry after the zero timestamp.
func (r *MediaReference) UnmarshalJSON(data []byte) error {
	var wire struct {
		URL  string `json:"url"`
		Date *int64 `json:"date"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	if wire.Date == nil {
		return errMissingDate
	}
	r.URL, r.Timestamp = wire.URL, *wire.Date
	return nil
}

// Manifest is the export request: voice clips and video clips.
type Manifest struct {
	Voices []MediaReference `json:"voices"`
	Videos []MediaReference `json:"videos"`
}

// Total returns the number of references across both lists.
func (m Manifest) Total() int {
	return len(m.Voices) + len(m.Videos)
}

// Empty reports whether the manifest carries no references.
func (m Manifest) Empty() bool {
	return m.Total() == 0
}

// Decode reads a JSON manifest. Unknown fields are ignored. Missing lists
// decode as empty.
func Decode(r io.Reader) (Manifest, error) {
	var m Manifest
	dec := json.NewDecoder(r)
	if err := dec.Decode(&m); err != nil {
		if errors.Is(err, io.EOF) {
			return Manifest{}, services.Wrap(services.ErrEmptyManifest, "manifest", "decode", "request body is empty", nil)
		}
		if errors.Is(err, errMissingDate) {
			return Manifest{}, services.Wrap(services.ErrInvalidManifest, "manifest", "decode", "invalid reference", err)
		}
		return Manifest{}, services.Wrap(services.ErrInvalidManifest, "manifest", "decode", "malformed JSON", err)
	}
	return m, nil
}

// Validate enforces the manifest invariants: at least one reference, no more
// than maxReferences (when positive), and absolute http(s) URLs throughout.
func (m Manifest) Validate(maxReferences int) error {
	if m.Empty() {
		return services.Wrap(services.ErrEmptyManifest, "manifest", "validate", "manifest has no voices or videos", nil)
	}
	if maxReferences > 0 && m.Total() > maxReferences {
		return services.Wrap(services.ErrInvalidManifest, "manifest", "validate",
			fmt.Sprintf("manifest has %d references; limit is %d", m.Total(), maxReferences), nil)
	}
	if err := validateList(KindVoice, m.Voices); err != nil {
		return err
	}
	return validateList(KindVideo, m.Videos)
}

func validateList(kind Kind, refs []MediaReference) error {
	for i, ref := range refs {
		if err := validateURL(ref.URL); err != nil {
			return services.Wrap(services.ErrInvalidManifest, "manifest", "validate",
				fmt.Sprintf("%s %d: %v", kind, i, err), nil)
		}
	}
	return nil
}

func validateURL(raw string) error {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return errors.New("url is empty")
	}
	parsed, err := url.Parse(trimmed)
	if err != nil {
		return fmt.Errorf("url %q is not valid", raw)
	}
	switch strings.ToLower(parsed.Scheme) {
	case "http", "https":
	default:
		return fmt.Errorf("url %q must use http or https", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("url %q has no host", raw)
	}
	return nil
}
