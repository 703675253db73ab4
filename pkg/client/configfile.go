package client

import (
	"sync"
	"sync/atomic"

	"github.com/go-logr/logr"

	"github.com/configwatch/configd/pkg/model"
)

// ConfigFileView is the rendered-content counterpart to NamespaceConfig:
// Content returns the release body in the namespace's format
// (properties, json, yaml, ...), rendered on the client from the
// fetched or cached items via configrender, rather than a parsed
// key-value map.
type ConfigFileView struct {
	namespace string
	log       logr.Logger

	content atomic.Pointer[configFileState]

	mu   sync.RWMutex
	regs []*fileRegistration
}

type configFileState struct {
	content     string
	source      model.SourceType
	hasContent  bool
}

// FileListener receives ConfigFile-level change events: the whole
// content string rather than per-key changes.
type FileListener func(event model.Change)

type fileRegistration struct {
	id       uint64
	listener FileListener
}

// NewConfigFileView constructs an empty ConfigFileView for namespace.
func NewConfigFileView(namespace string, log logr.Logger) *ConfigFileView {
	v := &ConfigFileView{namespace: namespace, log: log}
	v.content.Store(&configFileState{source: model.SourceNone})
	return v
}

// Content returns {content, sourceType, namespace, hasContent}.
func (v *ConfigFileView) Content() (content string, source model.SourceType, namespace string, hasContent bool) {
	s := v.content.Load()
	return s.content, s.source, v.namespace, s.hasContent
}

// AddChangeListener registers listener for whole-file change events.
func (v *ConfigFileView) AddChangeListener(listener FileListener) *fileRegistration {
	v.mu.Lock()
	defer v.mu.Unlock()
	reg := &fileRegistration{listener: listener}
	v.regs = append(append([]*fileRegistration{}, v.regs...), reg)
	return reg
}

// RemoveChangeListener removes reg, reporting whether it was present.
func (v *ConfigFileView) RemoveChangeListener(reg *fileRegistration) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	for i, r := range v.regs {
		if r == reg {
			v.regs = append(v.regs[:i], v.regs[i+1:]...)
			return true
		}
	}
	return false
}

// adopt installs newContent as the current body, dispatching ADDED on
// first content, MODIFIED on a content change, and DELETED when
// newContent is absent (ok=false) after previously having content.
func (v *ConfigFileView) adopt(newContent string, ok bool, source model.SourceType) {
	prev := v.content.Load()

	var kind model.ChangeKind
	var oldPtr, newPtr *string
	switch {
	case !prev.hasContent && ok:
		kind = model.Added
		c := newContent
		newPtr = &c
	case prev.hasContent && !ok:
		kind = model.Deleted
		c := prev.content
		oldPtr = &c
	case prev.hasContent && ok && prev.content != newContent:
		kind = model.Modified
		o, n := prev.content, newContent
		oldPtr, newPtr = &o, &n
	default:
		// No observable change (including the "remained absent" case);
		// still refresh the stored source type, but skip dispatch.
		v.content.Store(&configFileState{content: newContent, source: source, hasContent: ok})
		return
	}

	v.content.Store(&configFileState{content: newContent, source: source, hasContent: ok})

	change := model.Change{Key: v.namespace, OldValue: oldPtr, NewValue: newPtr, Kind: kind}
	v.mu.RLock()
	regs := make([]*fileRegistration, len(v.regs))
	copy(regs, v.regs)
	v.mu.RUnlock()

	for _, reg := range regs {
		v.invoke(reg, change)
	}
}

func (v *ConfigFileView) invoke(reg *fileRegistration, change model.Change) {
	defer func() {
		if r := recover(); r != nil {
			v.log.Info("file change listener panicked", "namespace", v.namespace, "registrationId", reg.id, "panic", r)
		}
	}()
	reg.listener(change)
}
