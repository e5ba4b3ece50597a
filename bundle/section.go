package bundle

import (
	"bytes"
	"errors"
	"fmt"
	"io"
)

// ManifestSection is the custom section carrying a container manifest.
const ManifestSection = "federation"

// Magic and version prefix every core WebAssembly module.
var header = []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}

const sectionCustom = 0

var ErrNotWasm = errors.New("not a WebAssembly module")

// Section is one raw top-level section.
type Section struct {
	Name    string // custom sections only
	Payload []byte // contents after the name for custom sections
	Start   int    // offset of the id byte
	End     int    // offset past the section
	ID      byte
}

// Sections splits a module into its top-level sections.
func Sections(module []byte) ([]Section, error) {
	if !bytes.HasPrefix(module, header) {
		return nil, ErrNotWasm
	}
	r := bytes.NewReader(module[len(header):])
	var out []Section
	for r.Len() > 0 {
		start := len(module) - r.Len()
		id, _ := r.ReadByte()
		size, err := ReadU32(r)
		if err != nil {
			return nil, fmt.Errorf("section at %d: %w", start, err)
		}
		bodyStart := len(module) - r.Len()
		end := bodyStart + int(size)
		if end > len(module) {
			return nil, fmt.Errorf("section at %d: %w", start, io.ErrUnexpectedEOF)
		}
		s := Section{ID: id, Start: start, End: end, Payload: module[bodyStart:end]}
		if id == sectionCustom {
			br := bytes.NewReader(s.Payload)
			n, err := ReadU32(br)
			if err != nil {
				return nil, fmt.Errorf("custom section name: %w", err)
			}
			off := len(s.Payload) - br.Len()
			if off+int(n) > len(s.Payload) {
				return nil, fmt.Errorf("custom section name: %w", io.ErrUnexpectedEOF)
			}
			s.Name = string(s.Payload[off : off+int(n)])
			s.Payload = s.Payload[off+int(n):]
		}
		out = append(out, s)
		if _, err := r.Seek(int64(end-len(header)), io.SeekStart); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// ReadCustomSection returns the payload of the first custom section named
// name.
func ReadCustomSection(module []byte, name string) ([]byte, bool, error) {
	sections, err := Sections(module)
	if err != nil {
		return nil, false, err
	}
	for _, s := range sections {
		if s.ID == sectionCustom && s.Name == name {
			return s.Payload, true, nil
		}
	}
	return nil, false, nil
}

// SetCustomSection returns a copy of module whose custom sections named
// name are replaced by a single section holding data, appended at the end.
func SetCustomSection(module []byte, name string, data []byte) ([]byte, error) {
	sections, err := Sections(module)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(module)+len(data)+len(name)+10)
	out = append(out, header...)
	for _, s := range sections {
		if s.ID == sectionCustom && s.Name == name {
			continue
		}
		out = append(out, module[s.Start:s.End]...)
	}
	return appendCustom(out, name, data), nil
}

func appendCustom(buf []byte, name string, data []byte) []byte {
	body := appendName(nil, name)
	body = append(body, data...)
	return appendSection(buf, sectionCustom, body)
}

func appendSection(buf []byte, id byte, body []byte) []byte {
	buf = append(buf, id)
	buf = AppendU32(buf, uint32(len(body)))
	return append(buf, body...)
}
