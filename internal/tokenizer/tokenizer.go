// Package tokenizer maps text-token ids produced by the model back to the
// SentencePiece pieces they stand for.
//
// Two vocabulary formats are accepted: the binary SentencePiece ".model"
// protobuf, and the tab-separated ".vocab" listing written alongside it. In
// both, a piece's id is its position in the file.
package tokenizer

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"google.golang.org/protobuf/encoding/protowire"
)

// WordBoundary is the marker SentencePiece puts in front of word-initial
// pieces.
const WordBoundary = "▁"

// PieceType mirrors SentencePiece's piece type enum.
type PieceType int32

const (
	PieceNormal      PieceType = 1
	PieceUnknown     PieceType = 2
	PieceControl     PieceType = 3
	PieceUserDefined PieceType = 4
	PieceUnused      PieceType = 5
	PieceByte        PieceType = 6
)

// Piece is one vocabulary entry.
type Piece struct {
	Text  string
	Score float32
	Type  PieceType
}

// Tokenizer is an immutable id-to-piece table. It is safe for concurrent use.
type Tokenizer struct {
	pieces []Piece
}

// New returns a Tokenizer over pieces, with ids assigned by position.
func New(pieces []Piece) *Tokenizer {
	return &Tokenizer{pieces: pieces}
}

// Load reads a vocabulary file. Files ending in ".vocab" are parsed as TSV;
// everything else as a SentencePiece model protobuf.
func Load(path string) (*Tokenizer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("tokenizer: open %q: %w", path, err)
	}
	defer f.Close()

	var t *Tokenizer
	if strings.EqualFold(filepath.Ext(path), ".vocab") {
		t, err = ParseVocab(f)
	} else {
		var data []byte
		if data, err = io.ReadAll(f); err == nil {
			t, err = ParseModel(data)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("tokenizer: load %q: %w", path, err)
	}
	if t.Len() == 0 {
		return nil, fmt.Errorf("tokenizer: load %q: vocabulary is empty", path)
	}
	return t, nil
}

// Len returns the vocabulary size.
func (t *Tokenizer) Len() int { return len(t.pieces) }

// IDToPiece returns the piece text for id. ok is false for ids outside the
// vocabulary.
func (t *Tokenizer) IDToPiece(id int32) (piece string, ok bool) {
	if id < 0 || int(id) >= len(t.pieces) {
		return "", false
	}
	return t.pieces[id].Text, true
}

// Piece returns the full entry for id.
func (t *Tokenizer) Piece(id int32) (Piece, bool) {
	if id < 0 || int(id) >= len(t.pieces) {
		return Piece{}, false
	}
	return t.pieces[id], true
}

// ParseVocab reads "piece<TAB>score" lines. The score column is optional.
func ParseVocab(r io.Reader) (*Tokenizer, error) {
	var pieces []Piece
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for line := 1; sc.Scan(); line++ {
		text, scoreStr, _ := strings.Cut(sc.Text(), "\t")
		p := Piece{Text: text, Type: PieceNormal}
		if scoreStr != "" {
			var score float32
			if _, err := fmt.Sscan(scoreStr, &score); err != nil {
				return nil, fmt.Errorf("line %d: bad score %q: %w", line, scoreStr, err)
			}
			p.Score = score
		}
		pieces = append(pieces, p)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return New(pieces), nil
}

// ParseModel decodes the pieces of a serialized SentencePiece ModelProto.
// Fields other than the piece list are ignored.
func ParseModel(data []byte) (*Tokenizer, error) {
	var pieces []Piece
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		data = data[n:]

		if num == 1 && typ == protowire.BytesType {
			msg, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			p, err := parsePiece(msg)
			if err != nil {
				return nil, fmt.Errorf("piece %d: %w", len(pieces), err)
			}
			pieces = append(pieces, p)
			data = data[n:]
			continue
		}

		n = protowire.ConsumeFieldValue(num, typ, data)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		data = data[n:]
	}
	return New(pieces), nil
}

func parsePiece(data []byte) (Piece, error) {
	p := Piece{Type: PieceNormal}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return Piece{}, protowire.ParseError(n)
		}
		data = data[n:]

		switch {
		case num == 1 && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return Piece{}, protowire.ParseError(n)
			}
			p.Text = string(v)
			data = data[n:]
		case num == 2 && typ == protowire.Fixed32Type:
			v, n := protowire.ConsumeFixed32(data)
			if n < 0 {
				return Piece{}, protowire.ParseError(n)
			}
			p.Score = math.Float32frombits(v)
			data = data[n:]
		case num == 3 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return Piece{}, protowire.ParseError(n)
			}
			p.Type = PieceType(v)
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return Piece{}, protowire.ParseError(n)
			}
			data = data[n:]
		}
	}
	return p, nil
}
