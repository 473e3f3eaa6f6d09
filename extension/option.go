package extension

import "github.com/luxera/rungate/model"

type Option func(*Types)

func WithImports(imports model.Imports) Option {
	return func(t *Types) {
		t.imports = imports
	}
}
