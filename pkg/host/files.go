package host

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/huanghuoguoguo/langbot-plugin-sdk/pkg/rag"
)

// LocalFileService 从本地磁盘目录提供存储路径。
// 路径是根目录下的相对键,逃逸根目录的一律拒绝。
type LocalFileService struct {
	root string
}

func NewLocalFileService(root string) *LocalFileService {
	return &LocalFileService{root: root}
}

// Open 在根目录下解析 storagePath 并以只读方式打开。
func (s *LocalFileService) Open(ctx context.Context, storagePath string) (io.ReadCloser, error) {
	full, err := s.resolve(storagePath)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(full)
	if err != nil {
		return nil, rag.WrapError(rag.ErrFileService, err, fmt.Sprintf("open %q", storagePath))
	}
	return f, nil
}

func (s *LocalFileService) resolve(storagePath string) (string, error) {
	cleaned := filepath.Clean("/" + storagePath)
	full := filepath.Join(s.root, cleaned)
	rootAbs, err := filepath.Abs(s.root)
	if err != nil {
		return "", rag.WrapError(rag.ErrFileService, err, "resolve storage root")
	}
	fullAbs, err := filepath.Abs(full)
	if err != nil {
		return "", rag.WrapError(rag.ErrFileService, err, fmt.Sprintf("resolve %q", storagePath))
	}
	if fullAbs != rootAbs && !strings.HasPrefix(fullAbs, rootAbs+string(os.PathSeparator)) {
		return "", rag.WrapError(rag.ErrFileService, nil, fmt.Sprintf("storage path %q escapes root", storagePath))
	}
	return fullAbs, nil
}
