// internal/delta/types.go
package delta

import (
	"bytes"
	"context"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Revnum is a revision number. InvalidRevnum means "no meaningful revision",
// e.g. for a node added in the current edit.
type Revnum int64

const InvalidRevnum Revnum = -1

func (r Revnum) IsValid() bool {
	return r >= 0
}

func (r Revnum) String() string {
	if !r.IsValid() {
		return "INVALID"
	}
	return "r" + strconv.FormatInt(int64(r), 10)
}

// ParseRevnum accepts "12", "r12" and "HEAD" (returned as InvalidRevnum).
func ParseRevnum(s string) (Revnum, error) {
	s = strings.TrimSpace(s)
	if strings.EqualFold(s, "HEAD") || s == "" {
		return InvalidRevnum, nil
	}
	n, err := strconv.ParseInt(strings.TrimPrefix(s, "r"), 10, 64)
	if err != nil || n < 0 {
		return InvalidRevnum, fmt.Errorf("invalid revision %q", s)
	}
	return Revnum(n), nil
}

// Kind is the kind of a node in a tree delta.
type Kind int

const (
	KindNone Kind = iota
	KindFile
	KindDir
	KindSymlink
	KindUnknown
)

var kindNames = map[Kind]string{
	KindNone:    "none",
	KindFile:    "file",
	KindDir:     "dir",
	KindSymlink: "symlink",
	KindUnknown: "unknown",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

func ParseKind(s string) (Kind, error) {
	for k, name := range kindNames {
		if name == s {
			return k, nil
		}
	}
	if s == "directory" {
		return KindDir, nil
	}
	return KindUnknown, fmt.Errorf("unknown node kind %q", s)
}

func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(text []byte) error {
	parsed, err := ParseKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Depth is the granularity of a working-copy or operation scope.
type Depth int

const (
	DepthUnknown Depth = iota
	DepthExclude
	DepthEmpty
	DepthFiles
	DepthImmediates
	DepthInfinity
)

var depthNames = map[Depth]string{
	DepthUnknown:    "unknown",
	DepthExclude:    "exclude",
	DepthEmpty:      "empty",
	DepthFiles:      "files",
	DepthImmediates: "immediates",
	DepthInfinity:   "infinity",
}

func (d Depth) String() string {
	if name, ok := depthNames[d]; ok {
		return name
	}
	return "unknown"
}

func ParseDepth(s string) (Depth, error) {
	for d, name := range depthNames {
		if name == s {
			return d, nil
		}
	}
	return DepthUnknown, fmt.Errorf("unknown depth %q", s)
}

func (d Depth) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Depth) UnmarshalText(text []byte) error {
	parsed, err := ParseDepth(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// ChildDepth is the depth a child directory of a node at depth d is
// covered with.
func (d Depth) ChildDepth() Depth {
	switch d {
	case DepthInfinity:
		return DepthInfinity
	case DepthImmediates, DepthFiles:
		return DepthEmpty
	default:
		return DepthExclude
	}
}

// Covers reports whether an entry of the given kind directly inside a
// directory at depth d is within scope.
func (d Depth) Covers(kind Kind) bool {
	switch d {
	case DepthInfinity, DepthImmediates:
		return true
	case DepthFiles:
		return kind != KindDir
	default:
		return false
	}
}

// Props maps property names to opaque values.
type Props map[string][]byte

func (p Props) Clone() Props {
	if p == nil {
		return nil
	}
	c := make(Props, len(p))
	for k, v := range p {
		c[k] = append([]byte(nil), v...)
	}
	return c
}

// Equal treats nil and empty maps as equal.
func (p Props) Equal(other Props) bool {
	if len(p) != len(other) {
		return false
	}
	for k, v := range p {
		ov, ok := other[k]
		if !ok || !bytes.Equal(v, ov) {
			return false
		}
	}
	return true
}

func (p Props) Names() []string {
	names := make([]string, 0, len(p))
	for k := range p {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

type ChecksumKind string

const (
	ChecksumMD5    ChecksumKind = "md5"
	ChecksumSHA1   ChecksumKind = "sha1"
	ChecksumSHA256 ChecksumKind = "sha256"
)

// Checksum identifies file contents.
type Checksum struct {
	Kind   ChecksumKind `json:"kind" yaml:"kind"`
	Digest string       `json:"digest" yaml:"digest"`
}

func (c Checksum) IsZero() bool {
	return c.Kind == "" && c.Digest == ""
}

func (c Checksum) String() string {
	return string(c.Kind) + ":" + c.Digest
}

func ParseChecksum(s string) (Checksum, error) {
	kind, digest, ok := strings.Cut(s, ":")
	if !ok {
		return Checksum{}, fmt.Errorf("malformed checksum %q", s)
	}
	c := Checksum{Kind: ChecksumKind(kind), Digest: strings.ToLower(digest)}
	if _, err := c.NewHash(); err != nil {
		return Checksum{}, err
	}
	return c, nil
}

func (c Checksum) NewHash() (hash.Hash, error) {
	return NewHash(c.Kind)
}

func NewHash(kind ChecksumKind) (hash.Hash, error) {
	switch kind {
	case ChecksumMD5:
		return md5.New(), nil
	case ChecksumSHA1:
		return sha1.New(), nil
	case ChecksumSHA256:
		return sha256.New(), nil
	default:
		return nil, fmt.Errorf("unsupported checksum kind %q", kind)
	}
}

// ChecksumBytes computes a checksum of data. It panics on an unsupported
// kind.
func ChecksumBytes(kind ChecksumKind, data []byte) Checksum {
	h, err := NewHash(kind)
	if err != nil {
		panic(err)
	}
	h.Write(data)
	return Checksum{Kind: kind, Digest: hex.EncodeToString(h.Sum(nil))}
}

// Matches reports whether h has consumed data with this checksum.
func (c Checksum) Matches(h hash.Hash) bool {
	return strings.EqualFold(hex.EncodeToString(h.Sum(nil)), c.Digest)
}

// CommitInfo describes a revision produced by a commit.
type CommitInfo struct {
	Revision      Revnum    `json:"revision"`
	Author        string    `json:"author"`
	Date          time.Time `json:"date"`
	PostCommitErr string    `json:"post_commit_err,omitempty"`
}

// CommitCallback is invoked at most once, after a commit that produced a
// revision.
type CommitCallback func(ctx context.Context, info CommitInfo) error
