package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"

	"stage-ai-go/internal/types"
)

var (
	// ErrStorageNotConfigured 存储端点或凭证缺失
	ErrStorageNotConfigured = errors.New("armazenamento não configurado")
	// ErrInvalidObjectRef 无法从引用中解析出 bucket 和对象路径
	ErrInvalidObjectRef = errors.New("referência de arquivo inválida")
	// ErrObjectNotFound 对象不存在
	ErrObjectNotFound = errors.New("arquivo não encontrado no armazenamento")
)

// ObjectFetcher 按引用下载对象，返回内容与对象名（用于判断扩展名）
type ObjectFetcher interface {
	Download(ctx context.Context, ref types.StorageRef) (io.ReadCloser, string, error)
}

// ObjectLocation bucket 内的对象
type ObjectLocation struct {
	Bucket string
	Key    string
}

func (l ObjectLocation) String() string {
	return l.Bucket + "/" + l.Key
}

// 存储 URL 中 /object/ 之后可能出现的访问方式段
var objectAccessSegments = map[string]bool{
	"public":        true,
	"sign":          true,
	"authenticated": true,
}

// ResolveObject 把引用解析为 bucket + key。
//   - 完整 URL: 取 /object/ 之后的部分，并去掉 public/sign/authenticated
//   - 给出 bucket: 路径按原样使用，若以 "bucket/" 开头则去掉该前缀
//   - 未给 bucket: 在第一个 "/" 处切分
func ResolveObject(ref types.StorageRef) (ObjectLocation, error) {
	p := strings.TrimSpace(ref.Path)
	if strings.HasPrefix(p, "http://") || strings.HasPrefix(p, "https://") {
		u, err := url.Parse(p)
		if err != nil {
			return ObjectLocation{}, fmt.Errorf("%w: %v", ErrInvalidObjectRef, err)
		}
		p = objectPathFromURL(u.Path)
	}
	p = strings.TrimLeft(p, "/")

	bucket := strings.Trim(strings.TrimSpace(ref.Bucket), "/")
	var loc ObjectLocation
	if bucket != "" {
		loc = ObjectLocation{Bucket: bucket, Key: strings.TrimPrefix(p, bucket+"/")}
	} else {
		parts := strings.SplitN(p, "/", 2)
		if len(parts) != 2 {
			return ObjectLocation{}, fmt.Errorf("%w: %q não contém bucket", ErrInvalidObjectRef, ref.Path)
		}
		loc = ObjectLocation{Bucket: parts[0], Key: parts[1]}
	}

	if loc.Bucket == "" || loc.Key == "" {
		return ObjectLocation{}, fmt.Errorf("%w: %q", ErrInvalidObjectRef, ref.Path)
	}
	return loc, nil
}

func objectPathFromURL(urlPath string) string {
	idx := strings.Index(urlPath, "/object/")
	if idx == -1 {
		return urlPath
	}
	rest := urlPath[idx+len("/object/"):]
	if parts := strings.SplitN(rest, "/", 2); len(parts) == 2 && objectAccessSegments[parts[0]] {
		rest = parts[1]
	}
	return rest
}

// objectName 下载结果的对象名：优先使用路径，其次签名 URL；URL 只取路径的最后一段
func objectName(ref types.StorageRef) string {
	name := strings.TrimSpace(ref.Path)
	if name == "" {
		name = ref.SignedURL
	}
	if strings.HasPrefix(name, "http://") || strings.HasPrefix(name, "https://") {
		if u, err := url.Parse(name); err == nil {
			return path.Base(u.Path)
		}
	}
	return name
}
