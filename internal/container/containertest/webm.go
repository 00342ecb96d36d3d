package containertest

import (
	"fmt"
	"os"
	"time"

	"github.com/at-wat/ebml-go"
	"github.com/at-wat/ebml-go/webm"
)

// WebMFile is the decoded content of a finalized WebM output.
type WebMFile struct {
	Tracks   []webm.TrackEntry
	Clusters int
	Blocks   []WebMBlock
}

// WebMBlock is one SimpleBlock with its absolute segment time.
type WebMBlock struct {
	Track    uint64
	At       time.Duration
	Keyframe bool
	Data     []byte
}

// ReadWebM parses the file at path.
func ReadWebM(path string) (*WebMFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var doc struct {
		Header  webm.EBMLHeader    `ebml:"EBML"`
		Segment webm.SegmentStream `ebml:"Segment,size=unknown"`
	}
	if err := ebml.Unmarshal(f, &doc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if doc.Header.DocType != "webm" {
		return nil, fmt.Errorf("%s: doctype %q", path, doc.Header.DocType)
	}

	scale := time.Duration(doc.Segment.Info.TimecodeScale)
	if scale == 0 {
		scale = time.Millisecond
	}
	out := &WebMFile{
		Tracks:   doc.Segment.Tracks.TrackEntry,
		Clusters: len(doc.Segment.Cluster),
	}
	for _, cl := range doc.Segment.Cluster {
		for _, b := range cl.SimpleBlock {
			var data []byte
			for _, frame := range b.Data {
				data = append(data, frame...)
			}
			out.Blocks = append(out.Blocks, WebMBlock{
				Track:    b.TrackNumber,
				At:       time.Duration(int64(cl.Timecode)+int64(b.Timecode)) * scale,
				Keyframe: b.Keyframe,
				Data:     data,
			})
		}
	}
	return out, nil
}

// TrackNamed returns the track entry with the given name.
func (f *WebMFile) TrackNamed(name string) (webm.TrackEntry, bool) {
	for _, t := range f.Tracks {
		if t.Name == name {
			return t, true
		}
	}
	return webm.TrackEntry{}, false
}

// BlocksFor returns the blocks of one track in file order.
func (f *WebMFile) BlocksFor(track uint64) []WebMBlock {
	var out []WebMBlock
	for _, b := range f.Blocks {
		if b.Track == track {
			out = append(out, b)
		}
	}
	return out
}
