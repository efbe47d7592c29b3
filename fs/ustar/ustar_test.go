package ustar

import "testing"

func buildArchive(files map[string]string) []byte {
	var buf []byte
	for name, content := range files {
		hdr := make([]byte, blockSize)
		copy(hdr[nameOffset:], name)
		octal := []byte(padOctal(len(content), sizeSize))
		copy(hdr[sizeOffset:], octal)
		hdr[typeOffset] = typeRegular

		buf = append(buf, hdr...)
		data := make([]byte, roundUp512(len(content)))
		copy(data, content)
		buf = append(buf, data...)
	}
	// Two zero-filled blocks terminate a well-formed archive; one is
	// enough to make parseArchive stop.
	buf = append(buf, make([]byte, blockSize)...)
	return buf
}

func padOctal(n, width int) string {
	digits := make([]byte, width-1)
	for i := width - 2; i >= 0; i-- {
		digits[i] = byte('0' + n&0x7)
		n >>= 3
	}
	return string(digits) + "\x00"
}

func TestParseArchiveAndOpen(t *testing.T) {
	blob := buildArchive(map[string]string{
		"hello.txt": "hello, ustar",
		"dir/nested.txt": "nested content",
	})

	var ops Ops
	ctx, err := ops.Mount(blob)
	if err != nil {
		t.Fatalf("unexpected mount error: %v", err)
	}

	fh, err := ops.Open(ctx, "hello.txt")
	if err != nil {
		t.Fatalf("unexpected open error: %v", err)
	}
	buf := make([]byte, 32)
	n, rerr := fh.ReadAt(buf, 0)
	if rerr != nil {
		t.Fatalf("unexpected read error: %v", rerr)
	}
	if string(buf[:n]) != "hello, ustar" {
		t.Fatalf("unexpected content: %q", buf[:n])
	}

	if fh.Size() != int64(len("hello, ustar")) {
		t.Fatalf("unexpected size: %d", fh.Size())
	}

	fh2, err := ops.Open(ctx, "dir/nested.txt")
	if err != nil {
		t.Fatalf("unexpected open error for nested file: %v", err)
	}
	n, rerr = fh2.ReadAt(buf, 0)
	if rerr != nil {
		t.Fatalf("unexpected read error: %v", rerr)
	}
	if string(buf[:n]) != "nested content" {
		t.Fatalf("unexpected nested content: %q", buf[:n])
	}
}

func TestOpenMissingFile(t *testing.T) {
	blob := buildArchive(map[string]string{"a.txt": "x"})
	var ops Ops
	ctx, err := ops.Mount(blob)
	if err != nil {
		t.Fatalf("unexpected mount error: %v", err)
	}

	if _, err := ops.Open(ctx, "missing.txt"); err != errNoSuchFile {
		t.Fatalf("expected errNoSuchFile; got %v", err)
	}
}

func TestParseOctal(t *testing.T) {
	n, ok := parseOctal([]byte("00000001234\x00"))
	if !ok {
		t.Fatal("expected valid octal parse")
	}
	if n != 0o1234 {
		t.Fatalf("expected 0o1234 (%d); got %d", 0o1234, n)
	}
}

func TestNormalizeName(t *testing.T) {
	cases := map[string]string{
		"./foo.txt": "foo.txt",
		"/foo.txt":  "foo.txt",
		"foo.txt":   "foo.txt",
	}
	for in, want := range cases {
		if got := normalizeName(in); got != want {
			t.Fatalf("normalizeName(%q) = %q; want %q", in, got, want)
		}
	}
}
