package rag

import (
	"fmt"
	"sync"
)

// EngineFactory 构建绑定到给定 HostServices 的 RAGEngine 实例
//（每个知识库一个实例）
type EngineFactory func(services HostServices) (RAGEngine, error)

// RetrieverFactory 构建旧式 KnowledgeRetriever 实例
type RetrieverFactory func(services HostServices) (KnowledgeRetriever, error)

// Registry 宿主已知的插件组件表，按组件名索引。两类组件存放在
// 互不相交的表中，分发只看类别标签，从不依赖具体类型。
type Registry struct {
	mu         sync.RWMutex
	engines    map[string]EngineFactory
	retrievers map[string]RetrieverFactory
}

func NewRegistry() *Registry {
	return &Registry{
		engines:    make(map[string]EngineFactory),
		retrievers: make(map[string]RetrieverFactory),
	}
}

// RegisterEngine 以 name 注册一个 RAGEngine 工厂。
// 名称不得与任何一类已注册组件冲突。
func (r *Registry) RegisterEngine(name string, factory EngineFactory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, taken := r.kindLocked(name); taken {
		return fmt.Errorf("component %q already registered", name)
	}
	r.engines[name] = factory
	return nil
}

// RegisterRetriever 注册旧式 KnowledgeRetriever 工厂
func (r *Registry) RegisterRetriever(name string, factory RetrieverFactory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, taken := r.kindLocked(name); taken {
		return fmt.Errorf("component %q already registered", name)
	}
	r.retrievers[name] = factory
	return nil
}

// Kind 返回已注册组件名对应的类别标签
func (r *Registry) Kind(name string) (ComponentKind, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.kindLocked(name)
}

func (r *Registry) kindLocked(name string) (ComponentKind, bool) {
	if _, ok := r.engines[name]; ok {
		return KindRAGEngine, true
	}
	if _, ok := r.retrievers[name]; ok {
		return KindKnowledgeRetriever, true
	}
	return "", false
}

// NewEngine 实例化指定名称的 RAGEngine 并绑定到 services
func (r *Registry) NewEngine(name string, services HostServices) (RAGEngine, error) {
	r.mu.RLock()
	factory, ok := r.engines[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown RAG engine %q", name)
	}
	return factory(services)
}

// NewRetriever 实例化指定名称的旧式检索器并绑定到 services
func (r *Registry) NewRetriever(name string, services HostServices) (KnowledgeRetriever, error) {
	r.mu.RLock()
	factory, ok := r.retrievers[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown knowledge retriever %q", name)
	}
	return factory(services)
}

// Names 列出所有已注册的组件名
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.engines)+len(r.retrievers))
	for name := range r.engines {
		names = append(names, name)
	}
	for name := range r.retrievers {
		names = append(names, name)
	}
	return names
}
