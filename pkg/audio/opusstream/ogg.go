package opusstream

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/MrWong99/voxrelay/pkg/audio"
)

const (
	pageHeaderSize = 27
	maxPacketSize  = 1 << 16

	headerTypeContinued = 0x01
)

var (
	capturePattern = []byte("OggS")

	// errNeedMore reports that the buffered bytes end in the middle of a page.
	errNeedMore = errors.New("opusstream: need more data")
)

// demuxer splits an Ogg byte stream into packets. Pages may arrive in any
// slicing; a packet may span pages and a page may carry several packets.
// Checksums are not verified: the transport already guarantees integrity.
type demuxer struct {
	buf     []byte
	partial []byte
}

// write appends raw stream bytes.
func (d *demuxer) write(b []byte) {
	d.buf = append(d.buf, b...)
}

// packets returns every packet completed by the bytes written so far. Garbage
// between pages is skipped and reported as [audio.ErrMalformed]; complete
// packets found around it are still returned.
func (d *demuxer) packets() ([][]byte, error) {
	var (
		out  [][]byte
		errs []error
	)
	for {
		page, err := d.nextPage()
		if errors.Is(err, errNeedMore) {
			break
		}
		if err != nil {
			errs = append(errs, err)
			continue
		}
		pkts, err := d.split(page)
		out = append(out, pkts...)
		if err != nil {
			errs = append(errs, err)
		}
	}
	return out, errors.Join(errs...)
}

type page struct {
	headerType byte
	segments   []byte
	body       []byte
}

// nextPage consumes one page from the buffer.
func (d *demuxer) nextPage() (page, error) {
	idx := bytes.Index(d.buf, capturePattern)
	if idx < 0 {
		// Keep a tail that might be the start of a split capture pattern.
		keep := len(capturePattern) - 1
		if len(d.buf) <= keep {
			return page{}, errNeedMore
		}
		idx = len(d.buf) - keep
	}
	if idx > 0 {
		d.buf = append(d.buf[:0], d.buf[idx:]...)
		return page{}, fmt.Errorf("%w: skipped %d bytes before page", audio.ErrMalformed, idx)
	}
	if len(d.buf) < pageHeaderSize {
		return page{}, errNeedMore
	}
	if version := d.buf[4]; version != 0 {
		d.buf = d.buf[1:]
		return page{}, fmt.Errorf("%w: unsupported ogg version %d", audio.ErrMalformed, version)
	}
	nsegs := int(d.buf[26])
	if len(d.buf) < pageHeaderSize+nsegs {
		return page{}, errNeedMore
	}
	segments := d.buf[pageHeaderSize : pageHeaderSize+nsegs]
	bodyLen := 0
	for _, s := range segments {
		bodyLen += int(s)
	}
	total := pageHeaderSize + nsegs + bodyLen
	if len(d.buf) < total {
		return page{}, errNeedMore
	}

	p := page{
		headerType: d.buf[5],
		segments:   bytes.Clone(segments),
		body:       bytes.Clone(d.buf[pageHeaderSize+nsegs : total]),
	}
	d.buf = append(d.buf[:0], d.buf[total:]...)
	return p, nil
}

// split cuts a page body into packets using its lacing values.
func (d *demuxer) split(p page) ([][]byte, error) {
	var err error
	if p.headerType&headerTypeContinued == 0 && len(d.partial) > 0 {
		err = fmt.Errorf("%w: dropped %d bytes of unterminated packet", audio.ErrMalformed, len(d.partial))
		d.partial = nil
	}

	var out [][]byte
	off := 0
	for _, lace := range p.segments {
		d.partial = append(d.partial, p.body[off:off+int(lace)]...)
		off += int(lace)
		if lace < 255 {
			out = append(out, d.partial)
			d.partial = nil
		}
	}
	if len(d.partial) > maxPacketSize {
		err = fmt.Errorf("%w: packet exceeds %d bytes", audio.ErrMalformed, maxPacketSize)
		d.partial = nil
	}
	return out, err
}

// isOpusHeader reports whether pkt is an OpusHead or OpusTags header packet.
func isOpusHeader(pkt []byte) bool {
	return bytes.HasPrefix(pkt, []byte("OpusHead")) || bytes.HasPrefix(pkt, []byte("OpusTags"))
}
