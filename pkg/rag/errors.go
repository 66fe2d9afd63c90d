package rag

import (
	"errors"
	"fmt"
)

// 插件边界两侧共享的错误分类。
//
// 宿主能力错误源自 HostServices 之下，插件域错误源自插件逻辑。
// 契约层内部不从任何一类中恢复：所有失败都上浮给宿主调用方，
// 由宿主决定重试、通知或回滚。契约强制的唯一恢复动作是资源释放
// （文件流、部分写入的向量），由插件在错误上浮前完成。
var (
	// 宿主能力错误
	ErrEmbedding = errors.New("embedding failed")
	// ErrVectorStore 标记瞬时或运维性的向量存储失败，宿主可重试
	ErrVectorStore = errors.New("vector store operation failed")
	// ErrCollectionNotFound 表示绑定的集合本身不可访问，
	// 宿主侧不重新配置则不可重试
	ErrCollectionNotFound = errors.New("collection not found")
	ErrFileService        = errors.New("file service failed")
	// ErrHostService 是插件上浮以上任一错误时套的包装，
	// 宿主据此区分"我的基础设施坏了"和"插件逻辑坏了"
	ErrHostService = errors.New("host service failed")

	// 插件域错误
	ErrParsing   = errors.New("document parsing failed")
	ErrChunking  = errors.New("chunking failed")
	ErrIngestion = errors.New("ingestion failed")
	ErrRetrieval = errors.New("retrieval failed")
)

// WrapError 给 err 附加分类哨兵并保留原始错误链，
// errors.Is 对哨兵和 err 已包装的任何错误都能匹配
func WrapError(sentinel error, err error, msg string) error {
	if err == nil {
		return fmt.Errorf("%w: %s", sentinel, msg)
	}
	if msg == "" {
		return fmt.Errorf("%w: %w", sentinel, err)
	}
	return fmt.Errorf("%w: %s: %w", sentinel, msg, err)
}

// WrapHostService 从插件代码上浮宿主能力失败。
// 对 nil 为空操作，且不会重复包装。
func WrapHostService(err error, msg string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrHostService) {
		return err
	}
	return WrapError(ErrHostService, err, msg)
}

// IsHostServiceError 判断 err 是否源自 HostServices 边界或其之下
func IsHostServiceError(err error) bool {
	return errors.Is(err, ErrHostService) ||
		errors.Is(err, ErrEmbedding) ||
		errors.Is(err, ErrVectorStore) ||
		errors.Is(err, ErrCollectionNotFound) ||
		errors.Is(err, ErrFileService)
}
