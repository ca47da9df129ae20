package tarball

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// File — артефакт внутри бандла.
type File struct {
	Name string // путь внутри tar: "wg0/peers/alice.conf"
	Data []byte
	Mode int // 0600 для конфигов с ключами
}

// Build собирает детерминированный tar.gz из артефактов.
// Возвращает архив и sha256 в hex: одинаковый набор файлов —
// одинаковый checksum, удобно для сверки на стороне клиента.
func Build(files []File) ([]byte, string, error) {
	var buf bytes.Buffer

	gz := gzip.NewWriter(&buf)
	// детерминируем gzip-заголовок
	gz.Name = ""
	gz.Comment = ""
	gz.ModTime = time.Unix(0, 0)

	tw := tar.NewWriter(gz)

	sorted := make([]File, len(files))
	copy(sorted, files)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	for _, f := range sorted {
		// sanitize path: no leading slash, clean, unix slashes
		name := strings.TrimLeft(f.Name, "/")
		name = filepath.ToSlash(filepath.Clean(name))
		if name == "" || name == "." {
			continue
		}
		mode := int64(f.Mode)
		if mode == 0 {
			mode = 0o600
		}
		hdr := &tar.Header{
			Name:    name,
			Mode:    mode,
			Size:    int64(len(f.Data)),
			ModTime: time.Unix(0, 0), // фиксируем время в tar-заголовке
			Uid:     0, Gid: 0,
		}
		if err := tw.WriteHeader(hdr); err != nil {
			_ = tw.Close()
			_ = gz.Close()
			return nil, "", err
		}
		if _, err := tw.Write(f.Data); err != nil {
			_ = tw.Close()
			_ = gz.Close()
			return nil, "", err
		}
	}

	_ = tw.Close()
	_ = gz.Close()

	sum := sha256.Sum256(buf.Bytes())
	return buf.Bytes(), hex.EncodeToString(sum[:]), nil
}
