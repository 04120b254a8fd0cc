package paramstore

import (
	"context"
	"errors"
	"strings"

	"github.com/knadh/koanf/maps"
)

type pathLister interface {
	GetParametersByPath(ctx context.Context, path string) (map[string]string, error)
}

// Provider is a koanf provider over every parameter below a path.
// /guesthouse/config/llm/model becomes the key llm.model.
type Provider struct {
	ctx    context.Context
	lister pathLister
	path   string
}

func NewProvider(ctx context.Context, lister pathLister, path string) *Provider {
	return &Provider{
		ctx:    ctx,
		lister: lister,
		path:   strings.TrimRight(strings.TrimSpace(path), "/"),
	}
}

// ReadBytes is not supported; parameters are read as a map.
func (p *Provider) ReadBytes() ([]byte, error) {
	return nil, errors.New("paramstore: provider does not support ReadBytes")
}

func (p *Provider) Read() (map[string]any, error) {
	if p.lister == nil {
		return nil, errors.New("paramstore: provider lister must not be nil")
	}
	if p.path == "" {
		return nil, errors.New("paramstore: provider path is required")
	}
	params, err := p.lister.GetParametersByPath(p.ctx, p.path)
	if err != nil {
		return nil, err
	}

	flat := make(map[string]any, len(params))
	for name, value := range params {
		key := strings.Trim(strings.TrimPrefix(name, p.path), "/")
		if key == "" {
			continue
		}
		flat[strings.ToLower(strings.ReplaceAll(key, "/", "."))] = value
	}
	return maps.Unflatten(flat, "."), nil
}
