package unibuild

import (
	"bytes"
	"debug/macho"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// Alignment wanted for each slice. amd64 needs 12 bits, arm64 needs 14;
// we use the max of all requirements.
const (
	alignBits  = 14
	sliceAlign = 1 << alignBits
)

var arMagic = []byte("!<arch>\n")

// WriteUniversal merges single-architecture files (Mach-O objects or ar
// static libraries of Mach-O objects) into one universal file. A single
// input degenerates to a byte-for-byte copy, which is still a valid
// single-architecture library.
func WriteUniversal(outputFilename string, inputFilenames ...string) error {
	if len(inputFilenames) == 0 {
		return errors.New("universal merge requires at least one input")
	}
	if len(inputFilenames) == 1 {
		return copyFile(inputFilenames[0], outputFilename)
	}

	type slice struct {
		data   []byte
		cpu    uint32
		subcpu uint32
		offset int64
	}
	var slices []slice
	offset := int64(sliceAlign)
	for _, name := range inputFilenames {
		data, err := os.ReadFile(name)
		if err != nil {
			return err
		}
		cpu, subcpu, err := sliceCPU(name, data)
		if err != nil {
			return err
		}
		slices = append(slices, slice{data: data, cpu: cpu, subcpu: subcpu, offset: offset})
		offset += int64(len(data))
		offset = (offset + sliceAlign - 1) / sliceAlign * sliceAlign
	}

	last := slices[len(slices)-1]
	if last.offset >= 1<<32 || len(last.data) >= 1<<32 {
		// fat64 outputs are not reliably consumed by Apple's own tools.
		return errors.New("inputs too large to fit into a fat binary")
	}

	out, err := os.Create(outputFilename)
	if err != nil {
		return err
	}
	defer out.Close()
	if err := out.Chmod(0o644); err != nil {
		return err
	}

	// The fat header is big-endian regardless of slice endianness.
	hdr := []uint32{macho.MagicFat, uint32(len(slices))}
	for _, s := range slices {
		hdr = append(hdr, s.cpu, s.subcpu, uint32(s.offset), uint32(len(s.data)), alignBits)
	}
	if err := binary.Write(out, binary.BigEndian, hdr); err != nil {
		return err
	}

	offset = int64(4 * len(hdr))
	for _, s := range slices {
		if offset < s.offset {
			if _, err := out.Write(make([]byte, s.offset-offset)); err != nil {
				return err
			}
			offset = s.offset
		}
		if _, err := out.Write(s.data); err != nil {
			return err
		}
		offset += int64(len(s.data))
	}
	return out.Close()
}

// sliceCPU extracts the cpu type and subtype of a thin input. Mach-O
// files carry it in their header; for ar archives we take it from the
// first Mach-O member.
func sliceCPU(name string, data []byte) (cpu, subcpu uint32, err error) {
	if len(data) >= 12 {
		// Every Apple-supported arch is little endian.
		magic := binary.LittleEndian.Uint32(data[0:4])
		if magic == macho.Magic32 || magic == macho.Magic64 {
			return binary.LittleEndian.Uint32(data[4:8]), binary.LittleEndian.Uint32(data[8:12]), nil
		}
		if magic == macho.MagicFat || binary.BigEndian.Uint32(data[0:4]) == macho.MagicFat {
			return 0, 0, fmt.Errorf("%s: already a universal file", name)
		}
	}
	if bytes.HasPrefix(data, arMagic) {
		return archiveCPU(name, data)
	}
	return 0, 0, fmt.Errorf("%s: not a Mach-O file or static library", name)
}

// archiveCPU walks ar members until one starts with a Mach-O magic.
// Symbol tables and extended name tables are skipped.
func archiveCPU(name string, data []byte) (uint32, uint32, error) {
	const memberHdrLen = 60
	pos := len(arMagic)
	for pos+memberHdrLen <= len(data) {
		hdr := data[pos : pos+memberHdrLen]
		sizeStr := strings.TrimSpace(string(hdr[48:58]))
		size, err := strconv.Atoi(sizeStr)
		if err != nil || size < 0 {
			return 0, 0, fmt.Errorf("%s: malformed archive member header", name)
		}
		body := data[pos+memberHdrLen:]
		if size > len(body) {
			return 0, 0, fmt.Errorf("%s: truncated archive", name)
		}
		body = body[:size]

		// BSD ar stores long names as "#1/<len>" with the name prepended
		// to the member body.
		memberName := strings.TrimSpace(string(hdr[0:16]))
		obj := body
		if strings.HasPrefix(memberName, "#1/") {
			if n, err := strconv.Atoi(memberName[3:]); err == nil && n <= len(obj) {
				obj = obj[n:]
			}
		}
		if len(obj) >= 12 {
			magic := binary.LittleEndian.Uint32(obj[0:4])
			if magic == macho.Magic32 || magic == macho.Magic64 {
				return binary.LittleEndian.Uint32(obj[4:8]), binary.LittleEndian.Uint32(obj[8:12]), nil
			}
		}

		pos += memberHdrLen + size
		if size%2 == 1 { // members are 2-byte aligned
			pos++
		}
	}
	return 0, 0, fmt.Errorf("%s: no Mach-O members found in archive", name)
}

// UniversalArchCount reports how many slices a file holds: 1 for a thin
// file, the fat header count otherwise.
func UniversalArchCount(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	var head [8]byte
	if _, err := io.ReadFull(f, head[:]); err != nil {
		return 0, err
	}
	if binary.BigEndian.Uint32(head[0:4]) == macho.MagicFat {
		n := binary.BigEndian.Uint32(head[4:8])
		return int(n), nil
	}
	return 1, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if err := out.Chmod(0o644); err != nil {
		out.Close()
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
