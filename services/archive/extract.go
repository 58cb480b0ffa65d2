// Package archive unpacks downloaded map archives into their typed parts.
package archive

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"unicode/utf8"

	"bundle-cache-go/logcolors"
	"bundle-cache-go/utils"

	"github.com/klauspost/compress/zip"
	log "github.com/sirupsen/logrus"
)

const descriptorName = "info.dat"

var errInvalidText = errors.New("not valid UTF-8")

// Kind classifies an extraction failure
type Kind string

const (
	KindMissingAudio      Kind = "missing_audio"
	KindMissingDescriptor Kind = "missing_descriptor"
	KindCorruptContainer  Kind = "corrupt_container"
)

// Error is returned by Extract. errors.Is matches on Kind, so the Err* values work
// as sentinels whatever cause they carry.
type Error struct {
	Kind  Kind
	Entry string
	Err   error
}

func (e *Error) Error() string {
	msg := messages[e.Kind]
	if e.Entry != "" {
		msg += ": " + e.Entry
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

var messages = map[Kind]string{
	KindMissingAudio:      "no audio file found in archive",
	KindMissingDescriptor: "no Info.dat found in archive",
	KindCorruptContainer:  "corrupt archive",
}

var (
	ErrMissingAudio      = &Error{Kind: KindMissingAudio}
	ErrMissingDescriptor = &Error{Kind: KindMissingDescriptor}
	ErrCorruptContainer  = &Error{Kind: KindCorruptContainer}
)

func corrupt(entry string, err error) *Error {
	return &Error{Kind: KindCorruptContainer, Entry: entry, Err: err}
}

// Bundle is an extracted map: the Info.dat descriptor, every difficulty file keyed by
// its original file name, and base64 encoded audio and cover payloads.
type Bundle struct {
	InfoDat     string            `json:"info_dat"`
	Beatmaps    map[string]string `json:"beatmaps"`
	AudioBase64 string            `json:"audio_base64"`
	CoverBase64 *string           `json:"cover_base64,omitempty"`
}

type entryKind int

const (
	entryIgnored entryKind = iota
	entryDescriptor
	entryBeatmap
	entryAudio
	entryCover
)

func classify(name string) entryKind {
	lower := strings.ToLower(name)
	switch {
	case lower == descriptorName:
		return entryDescriptor
	case strings.HasSuffix(lower, ".dat"):
		return entryBeatmap
	case strings.HasSuffix(lower, ".ogg"), strings.HasSuffix(lower, ".egg"):
		return entryAudio
	case strings.HasSuffix(lower, ".jpg"), strings.HasSuffix(lower, ".jpeg"), strings.HasSuffix(lower, ".png"):
		return entryCover
	default:
		return entryIgnored
	}
}

// Extract parses a zip container into a Bundle.
func Extract(data []byte) (*Bundle, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, corrupt("", err)
	}

	var (
		infoDat  string
		haveInfo bool
		audio    []byte
		cover    []byte
	)
	beatmaps := make(map[string]string)

	for _, f := range zr.File {
		kind := classify(f.Name)
		if kind == entryIgnored {
			continue
		}

		content, err := readEntry(f)
		if err != nil {
			return nil, corrupt(f.Name, err)
		}

		switch kind {
		case entryDescriptor:
			if haveInfo {
				log.Debugf("%s Ignoring duplicate descriptor %s", logcolors.LogArchive, f.Name)
				continue
			}
			if !utf8.Valid(content) {
				return nil, corrupt(f.Name, errInvalidText)
			}
			infoDat = string(content)
			haveInfo = true
		case entryBeatmap:
			if !utf8.Valid(content) {
				return nil, corrupt(f.Name, errInvalidText)
			}
			beatmaps[f.Name] = string(content)
		case entryAudio:
			audio = content
		case entryCover:
			cover = content
		}
	}

	if audio == nil {
		return nil, &Error{Kind: KindMissingAudio}
	}
	if infoDat == "" {
		return nil, &Error{Kind: KindMissingDescriptor}
	}

	bundle := &Bundle{
		InfoDat:     infoDat,
		Beatmaps:    beatmaps,
		AudioBase64: utils.EncodeBase64(audio),
	}
	if cover != nil {
		encoded := utils.EncodeBase64(cover)
		bundle.CoverBase64 = &encoded
	}

	log.Debugf("%s Extracted %d difficulty file(s), audio %d bytes, cover: %v",
		logcolors.LogArchive, len(beatmaps), len(audio), cover != nil)
	return bundle, nil
}

func readEntry(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}
