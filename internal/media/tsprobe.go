package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/asticode/go-astits"
)

// ErrNoPTS indicates the transport stream carried no presentation timestamp.
var ErrNoPTS = errors.New("no PTS found in transport stream")

// maxProbePackets bounds how far into a segment the PTS probe reads. A PES
// header shows up within the first few packets of any well-formed segment.
const maxProbePackets = 2048

// FirstPTS scans a MPEG-TS stream for the first PES presentation timestamp.
// The value anchors a segment's frames on the stream's media timeline, which
// wall-clock capture times cannot do once events are replayed from the queue.
func FirstPTS(ctx context.Context, r io.Reader) (time.Duration, error) {
	demuxer := astits.NewDemuxer(ctx, r)

	for i := 0; i < maxProbePackets; i++ {
		data, err := demuxer.NextData()
		if err != nil {
			if errors.Is(err, astits.ErrNoMorePackets) || errors.Is(err, io.EOF) ||
				errors.Is(err, io.ErrUnexpectedEOF) {
				return 0, ErrNoPTS
			}
			return 0, fmt.Errorf("demuxing transport stream: %w", err)
		}

		if data.PES == nil || data.PES.Header == nil || data.PES.Header.OptionalHeader == nil {
			continue
		}
		if pts := data.PES.Header.OptionalHeader.PTS; pts != nil {
			return pts.Duration(), nil
		}
	}
	return 0, ErrNoPTS
}

// SegmentStartPTS opens a segment file and returns its first PES PTS.
func SegmentStartPTS(ctx context.Context, segmentPath string) (time.Duration, error) {
	f, err := os.Open(segmentPath)
	if err != nil {
		return 0, fmt.Errorf("opening segment: %w", err)
	}
	defer f.Close()

	return FirstPTS(ctx, f)
}
