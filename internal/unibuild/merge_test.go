package unibuild

import (
	"bytes"
	"debug/macho"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	cpuArm64  = 0x0100000c
	cpuX86_64 = 0x01000007
)

// machoBlob fabricates a minimal thin 64-bit Mach-O file.
func machoBlob(cpu, subcpu uint32, payload []byte) []byte {
	buf := new(bytes.Buffer)
	for _, v := range []uint32{macho.Magic64, cpu, subcpu, 1 /* MH_OBJECT */, 0, 0, 0, 0} {
		binary.Write(buf, binary.LittleEndian, v)
	}
	buf.Write(payload)
	return buf.Bytes()
}

// arBlob wraps members into a BSD ar archive.
func arBlob(members ...[]byte) []byte {
	buf := new(bytes.Buffer)
	buf.Write(arMagic)
	for i, m := range members {
		buf.WriteString(fmt.Sprintf("%-16s%-12s%-6s%-6s%-8s%-10d`\n",
			fmt.Sprintf("m%d.o", i), "0", "0", "0", "100644", len(m)))
		buf.Write(m)
		if len(m)%2 == 1 {
			buf.WriteByte('\n')
		}
	}
	return buf.Bytes()
}

func writeTemp(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestWriteUniversalSingleInputIsIdentity(t *testing.T) {
	in := machoBlob(cpuArm64, 0, []byte("arm64 payload"))
	inPath := writeTemp(t, "thin.a", in)
	outPath := filepath.Join(t.TempDir(), "universal.a")

	require.NoError(t, WriteUniversal(outPath, inPath))

	out, err := os.ReadFile(outPath)
	require.NoError(t, err)
	assert.Equal(t, in, out, "degenerate merge must reproduce the input")

	n, err := UniversalArchCount(outPath)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// Both merge paths produce the same output mode.
	stat, err := os.Stat(outPath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o644), stat.Mode().Perm())
}

func TestWriteUniversalTwoSlices(t *testing.T) {
	armData := machoBlob(cpuArm64, 0, []byte("arm"))
	x86Data := machoBlob(cpuX86_64, 3, []byte("intel"))
	armPath := writeTemp(t, "arm64.a", armData)
	x86Path := writeTemp(t, "x86_64.a", x86Data)
	outPath := filepath.Join(t.TempDir(), "universal.a")

	require.NoError(t, WriteUniversal(outPath, armPath, x86Path))

	out, err := os.ReadFile(outPath)
	require.NoError(t, err)

	// Big-endian fat header with two entries.
	require.GreaterOrEqual(t, len(out), 8+2*20)
	assert.Equal(t, uint32(macho.MagicFat), binary.BigEndian.Uint32(out[0:4]))
	assert.Equal(t, uint32(2), binary.BigEndian.Uint32(out[4:8]))

	type entry struct{ cpu, subcpu, offset, size, align uint32 }
	readEntry := func(i int) entry {
		base := 8 + i*20
		return entry{
			cpu:    binary.BigEndian.Uint32(out[base : base+4]),
			subcpu: binary.BigEndian.Uint32(out[base+4 : base+8]),
			offset: binary.BigEndian.Uint32(out[base+8 : base+12]),
			size:   binary.BigEndian.Uint32(out[base+12 : base+16]),
			align:  binary.BigEndian.Uint32(out[base+16 : base+20]),
		}
	}

	first, second := readEntry(0), readEntry(1)
	assert.Equal(t, uint32(cpuArm64), first.cpu)
	assert.Equal(t, uint32(cpuX86_64), second.cpu)
	assert.Equal(t, uint32(3), second.subcpu)
	assert.Equal(t, uint32(alignBits), first.align)

	// Slices sit at their recorded offsets, byte for byte.
	assert.Equal(t, armData, out[first.offset:int(first.offset)+len(armData)])
	assert.Equal(t, x86Data, out[second.offset:int(second.offset)+len(x86Data)])
	assert.Zero(t, first.offset%sliceAlign)
	assert.Zero(t, second.offset%sliceAlign)

	n, err := UniversalArchCount(outPath)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestWriteUniversalReadsCPUFromArchive(t *testing.T) {
	obj := machoBlob(cpuArm64, 0, []byte("obj"))
	lib := arBlob(obj)
	libPath := writeTemp(t, "libfoo.a", lib)
	otherPath := writeTemp(t, "libbar.a", machoBlob(cpuX86_64, 3, nil))
	outPath := filepath.Join(t.TempDir(), "out.a")

	require.NoError(t, WriteUniversal(outPath, libPath, otherPath))

	out, err := os.ReadFile(outPath)
	require.NoError(t, err)
	assert.Equal(t, uint32(cpuArm64), binary.BigEndian.Uint32(out[8:12]))
}

func TestWriteUniversalRejectsBadInput(t *testing.T) {
	err := WriteUniversal(filepath.Join(t.TempDir(), "out.a"))
	require.Error(t, err)

	textPath := writeTemp(t, "not-a-lib.txt", []byte("definitely not mach-o content"))
	other := writeTemp(t, "ok.a", machoBlob(cpuArm64, 0, nil))
	err = WriteUniversal(filepath.Join(t.TempDir(), "out.a"), textPath, other)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a Mach-O file")

	// Merging an already-universal file is refused rather than nested.
	fatPath := filepath.Join(t.TempDir(), "fat.a")
	require.NoError(t, WriteUniversal(fatPath, other, writeTemp(t, "x.a", machoBlob(cpuX86_64, 3, nil))))
	err = WriteUniversal(filepath.Join(t.TempDir(), "out2.a"), fatPath, other)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already a universal file")
}

func TestWriteUniversalRejectsArchiveWithoutObjects(t *testing.T) {
	lib := arBlob([]byte("plain text member"))
	libPath := writeTemp(t, "libempty.a", lib)
	other := writeTemp(t, "ok.a", machoBlob(cpuArm64, 0, nil))

	err := WriteUniversal(filepath.Join(t.TempDir(), "out.a"), libPath, other)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no Mach-O members")
}
