package extract

import (
	"archive/zip"
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryExtractPlain(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("first line\nsecond line"), 0644))

	text, err := NewRegistry().Extract(path)

	require.NoError(t, err)
	assert.Equal(t, "first line\nsecond line", text)
}

func TestRegistryRejectsUnsupportedExtension(t *testing.T) {
	_, err := NewRegistry().Extract("/corpus/slides.pptx")

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestPlainRejectsBinaryContent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "corrupt.txt")
	require.NoError(t, os.WriteFile(path, []byte{0x00, 0x01, 0xFF, 0x00, 'a'}, 0644))

	_, err := NewRegistry().Extract(path)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "not valid text")
}

func TestPDFRejectsNonPDFContent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fake.pdf")
	require.NoError(t, os.WriteFile(path, []byte("just text"), 0644))

	_, err := NewRegistry().Extract(path)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a valid pdf")
}

func TestDOCXExtract(t *testing.T) {
	document := `<?xml version="1.0" encoding="UTF-8"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">
  <w:body>
    <w:p><w:r><w:t>Operation overview</w:t></w:r></w:p>
    <w:p><w:r><w:t>Phase one begins at dawn.</w:t></w:r></w:p>
  </w:body>
</w:document>`

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	part, err := zw.Create("word/document.xml")
	require.NoError(t, err)
	_, err = part.Write([]byte(document))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	dir := t.TempDir()
	path := filepath.Join(dir, "plan.docx")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0644))

	text, err := NewRegistry().Extract(path)

	require.NoError(t, err)
	assert.Equal(t, "Operation overview\nPhase one begins at dawn.", text)
}

func TestDOCXRejectsNonZip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "broken.docx")
	require.NoError(t, os.WriteFile(path, []byte("not a zip"), 0644))

	_, err := NewRegistry().Extract(path)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a valid docx")
}

func TestHTMLExtractStripsScripts(t *testing.T) {
	page := `<html><head><script>alert("x")</script><style>p{}</style></head>
<body><nav>menu</nav><p>Visible paragraph.</p><footer>foot</footer></body></html>`

	dir := t.TempDir()
	path := filepath.Join(dir, "page.html")
	require.NoError(t, os.WriteFile(path, []byte(page), 0644))

	text, err := NewRegistry().Extract(path)

	require.NoError(t, err)
	assert.Contains(t, text, "Visible paragraph.")
	assert.NotContains(t, text, "alert")
	assert.NotContains(t, text, "menu")
	assert.NotContains(t, text, "foot")
}
