// Package rpmtest builds minimal binary RPM packages and packed-header
// archives for tests.
package rpmtest

import (
	"bytes"
	"compress/gzip"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"sort"
	"strings"

	"github.com/ProtonMail/go-crypto/openpgp/packet"
	"github.com/cavaliergopher/cpio"
	rpmutils "github.com/sassoftware/go-rpmutils"
)

const (
	typeInt32       = 4
	typeString      = 6
	typeStringArray = 8

	tagName          = 1000
	tagVersion       = 1001
	tagRelease       = 1002
	tagArch          = 1022
	tagOldFilenames  = 1027
	tagFileSizes     = 1028
	tagFileModes     = 1030
	tagFileMtimes    = 1034
	tagFileDigests   = 1035
	tagFileLinkTos   = 1036
	tagFileFlags     = 1037
	tagFileUserName  = 1039
	tagFileGroupName = 1040
	tagSourceRPM     = 1044
	tagSourcePackage = 1106
	tagDistURL       = 1123
	tagPayloadFormat = 1124
	tagPayloadComp   = 1125
	tagPayloadDigest = 5092
	tagPayloadAlgo   = 5093

	hashSHA256 = 8
)

// File is a payload member. Name is absolute ("/usr/lib64/libfoo.so.1").
// A non-empty Link makes the member a symlink.
type File struct {
	Name string
	Body []byte
	Link string
}

// Package describes the RPM to build.
type Package struct {
	Name      string
	Version   string
	Release   string
	Arch      string
	DistURL   string
	SourceRPM string
	Source    bool
	Files     []File
	// SignWith signs the package with an OpenPGP key when set.
	SignWith *packet.PrivateKey
}

// Build returns a complete RPM: lead, signature header, general header and a
// gzip-compressed newc payload. The general header carries the SHA-256 of the
// payload; the signature header is empty unless SignWith is set.
func Build(p Package) []byte {
	var payload bytes.Buffer
	zw := gzip.NewWriter(&payload)
	cw := cpio.NewWriter(zw)
	for _, f := range p.Files {
		hdr := &cpio.Header{Name: "." + f.Name, Mode: 0o644, Size: int64(len(f.Body))}
		body := f.Body
		if f.Link != "" {
			hdr.Mode = cpio.TypeSymlink | 0o777
			hdr.Size = int64(len(f.Link))
			body = []byte(f.Link)
		}
		must(cw.WriteHeader(hdr))
		_, err := cw.Write(body)
		must(err)
	}
	must(cw.Close())
	must(zw.Close())

	sum := sha256.Sum256(payload.Bytes())
	var buf bytes.Buffer
	buf.Write(header(p, hex.EncodeToString(sum[:])))
	buf.Write(payload.Bytes())
	if p.SignWith == nil {
		return buf.Bytes()
	}
	signed, err := Sign(buf.Bytes(), p.SignWith)
	must(err)
	return signed
}

// Sign replaces the signature header of rpm with one holding header and
// header+payload signatures made with key.
func Sign(rpm []byte, key *packet.PrivateKey) ([]byte, error) {
	hdr, err := rpmutils.SignRpmStream(bytes.NewReader(rpm), key, nil)
	if err != nil {
		return nil, err
	}
	sig, err := hdr.DumpSignatureHeader(false)
	if err != nil {
		return nil, err
	}
	return append(sig, rpm[hdr.OriginalSignatureHeaderSize():]...), nil
}

// Header returns the lead, signature header and general header of p, which
// is what the build service ships in a packed header archive.
func Header(p Package) []byte {
	return header(p, "")
}

func header(p Package, payloadDigest string) []byte {
	var buf bytes.Buffer
	buf.Write(lead(p))
	buf.Write(encodeHeader(nil))

	h := map[int]any{
		tagName:          p.Name,
		tagVersion:       p.Version,
		tagRelease:       p.Release,
		tagArch:          p.Arch,
		tagPayloadFormat: "cpio",
		tagPayloadComp:   "gzip",
	}
	if payloadDigest != "" {
		h[tagPayloadDigest] = []string{payloadDigest}
		h[tagPayloadAlgo] = []uint32{hashSHA256}
	}
	if p.DistURL != "" {
		h[tagDistURL] = p.DistURL
	}
	if p.Source {
		h[tagSourcePackage] = []uint32{1}
	} else {
		src := p.SourceRPM
		if src == "" {
			src = p.Name + "-" + p.Version + "-" + p.Release + ".src.rpm"
		}
		h[tagSourceRPM] = src
	}
	if len(p.Files) > 0 {
		n := len(p.Files)
		names := make([]string, n)
		links := make([]string, n)
		modes := make([]uint32, n)
		sizes := make([]uint32, n)
		empty := make([]string, n)
		owners := make([]string, n)
		for i, f := range p.Files {
			names[i] = f.Name
			owners[i] = "root"
			if f.Link != "" {
				links[i] = f.Link
				modes[i] = 0o120777
				sizes[i] = uint32(len(f.Link))
				continue
			}
			modes[i] = 0o100755
			sizes[i] = uint32(len(f.Body))
		}
		h[tagOldFilenames] = names
		h[tagFileLinkTos] = links
		h[tagFileModes] = modes
		h[tagFileSizes] = sizes
		h[tagFileDigests] = empty
		h[tagFileUserName] = owners
		h[tagFileGroupName] = owners
		h[tagFileFlags] = make([]uint32, n)
		h[tagFileMtimes] = make([]uint32, n)
	}
	buf.Write(encodeHeader(h))
	return buf.Bytes()
}

// HeaderArchive packs entries (member name to content) into a newc archive
// in name order, the way packed header listings are delivered.
func HeaderArchive(entries map[string][]byte) []byte {
	names := make([]string, 0, len(entries))
	for name := range entries {
		names = append(names, name)
	}
	sort.Strings(names)

	var buf bytes.Buffer
	w := cpio.NewWriter(&buf)
	for _, name := range names {
		must(w.WriteHeader(&cpio.Header{Name: name, Mode: 0o644, Size: int64(len(entries[name]))}))
		_, err := w.Write(entries[name])
		must(err)
	}
	must(w.Close())
	return buf.Bytes()
}

func lead(p Package) []byte {
	b := make([]byte, 96)
	binary.BigEndian.PutUint32(b[0:4], 0xedabeedb)
	b[4], b[5] = 3, 0
	if p.Source {
		binary.BigEndian.PutUint16(b[6:8], 1)
	}
	binary.BigEndian.PutUint16(b[8:10], 1)
	copy(b[10:76], p.Name+"-"+p.Version+"-"+p.Release)
	binary.BigEndian.PutUint16(b[76:78], 1)
	binary.BigEndian.PutUint16(b[78:80], 5)
	return b
}

func encodeHeader(tags map[int]any) []byte {
	keys := make([]int, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Ints(keys)

	var index, data bytes.Buffer
	for _, tag := range keys {
		var typ, count int32
		switch v := tags[tag].(type) {
		case string:
			typ, count = typeString, 1
			writeEntry(&index, tag, typ, data.Len(), count)
			data.WriteString(v + "\x00")
		case []string:
			typ, count = typeStringArray, int32(len(v))
			writeEntry(&index, tag, typ, data.Len(), count)
			data.WriteString(strings.Join(v, "\x00") + "\x00")
		case []uint32:
			for data.Len()%4 != 0 {
				data.WriteByte(0)
			}
			typ, count = typeInt32, int32(len(v))
			writeEntry(&index, tag, typ, data.Len(), count)
			must(binary.Write(&data, binary.BigEndian, v))
		default:
			panic("rpmtest: unsupported tag value")
		}
	}

	var out bytes.Buffer
	must(binary.Write(&out, binary.BigEndian, []uint32{0x8eade801, 0, uint32(len(keys)), uint32(data.Len())}))
	out.Write(index.Bytes())
	out.Write(data.Bytes())
	return out.Bytes()
}

func writeEntry(w *bytes.Buffer, tag int, typ int32, offset int, count int32) {
	must(binary.Write(w, binary.BigEndian, []int32{int32(tag), typ, int32(offset), count}))
}

func must(err error) {
	if err != nil {
		panic(err)
	}
}
