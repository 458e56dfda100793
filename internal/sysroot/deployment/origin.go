package deployment

import (
	"bytes"
	"fmt"

	"gopkg.in/ini.v1"

	"github.com/bootwright/bootwright/internal/sysroot/errors"
)

const (
	originSection = "origin"

	originKeyRefspec        = "refspec"
	originKeyOverrideCommit = "override-commit"
	originKeyUnconfigured   = "unconfigured-state"
	originKeyUnlocked       = "unlocked"
	originKeyPinned         = "pinned"
)

// Origin records where a deployment came from. The engine treats it as
// opaque apart from the unlocked and pinned markers; higher layers own
// the refspec semantics.
type Origin struct {
	file *ini.File
}

// NewOrigin constructs an origin for a refspec (`<remote>:<ref>`).
func NewOrigin(refspec string) *Origin {
	f := ini.Empty()
	f.Section(originSection).Key(originKeyRefspec).SetValue(refspec)
	return &Origin{file: f}
}

// ParseOrigin loads an origin from its INI serialization.
func ParseOrigin(data []byte) (*Origin, error) {
	f, err := ini.Load(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errors.ErrInvalidOrigin, err)
	}
	if !f.HasSection(originSection) {
		return nil, fmt.Errorf("%w: missing [origin] section", errors.ErrInvalidOrigin)
	}
	return &Origin{file: f}, nil
}

// Bytes serializes the origin.
func (o *Origin) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	if _, err := o.file.WriteTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (o *Origin) Refspec() string {
	return o.value(originKeyRefspec)
}

func (o *Origin) OverrideCommit() string {
	return o.value(originKeyOverrideCommit)
}

func (o *Origin) SetOverrideCommit(csum string) {
	o.file.Section(originSection).Key(originKeyOverrideCommit).SetValue(csum)
}

func (o *Origin) UnconfiguredState() string {
	return o.value(originKeyUnconfigured)
}

// Unlocked reports the unlock state recorded in the origin.
func (o *Origin) Unlocked() Unlocked {
	switch Unlocked(o.value(originKeyUnlocked)) {
	case UnlockedDevelopment:
		return UnlockedDevelopment
	case UnlockedHotfix:
		return UnlockedHotfix
	case UnlockedTransient:
		return UnlockedTransient
	default:
		return UnlockedNone
	}
}

func (o *Origin) SetUnlocked(state Unlocked) {
	if state == UnlockedNone {
		o.file.Section(originSection).DeleteKey(originKeyUnlocked)
		return
	}
	o.file.Section(originSection).Key(originKeyUnlocked).SetValue(string(state))
}

// Pinned reports whether the deployment is protected from pruning by
// the vector-construction helpers.
func (o *Origin) Pinned() bool {
	v, err := o.file.Section(originSection).Key(originKeyPinned).Bool()
	return err == nil && v
}

func (o *Origin) SetPinned(pinned bool) {
	if !pinned {
		o.file.Section(originSection).DeleteKey(originKeyPinned)
		return
	}
	o.file.Section(originSection).Key(originKeyPinned).SetValue("true")
}

// Clone returns an independent copy.
func (o *Origin) Clone() *Origin {
	data, err := o.Bytes()
	if err != nil {
		return NewOrigin(o.Refspec())
	}
	clone, err := ParseOrigin(data)
	if err != nil {
		return NewOrigin(o.Refspec())
	}
	return clone
}

func (o *Origin) value(key string) string {
	return o.file.Section(originSection).Key(key).String()
}
