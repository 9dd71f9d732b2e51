package languages

import (
	"errors"
	"sync"
)

var ErrLanguageNotFound = errors.New("language not found")

// Registry maps each supported language to its recipe.
type Registry struct {
	mu      sync.RWMutex
	recipes map[Language]Recipe
}

func NewRegistry() *Registry {
	r := &Registry{
		recipes: make(map[Language]Recipe),
	}
	r.registerDefaults()
	return r
}

func (r *Registry) Register(lang Language, recipe Recipe) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recipes[lang] = recipe
}

func (r *Registry) Get(lang Language) (Recipe, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	recipe, ok := r.recipes[lang]
	if !ok {
		return Recipe{}, ErrLanguageNotFound
	}
	return recipe, nil
}

// Supported reports whether lang is registered. Used for edge validation
// before a request reaches the dispatcher.
func (r *Registry) Supported(lang Language) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.recipes[lang]
	return ok
}

func (r *Registry) List() []Language {
	r.mu.RLock()
	defer r.mu.RUnlock()
	langs := make([]Language, 0, len(r.recipes))
	for l := range r.recipes {
		langs = append(langs, l)
	}
	return langs
}

func (r *Registry) registerDefaults() {
	r.Register(Python, Recipe{
		SourceFile: "main.py",
		RunCommand: "python3 main.py",
	})

	r.Register(CPP, Recipe{
		SourceFile:     "main.cpp",
		CompileCommand: "g++ -O2 -o main main.cpp",
		RunCommand:     "./main",
	})

	r.Register(NodeJS, Recipe{
		SourceFile: "main.js",
		RunCommand: "node main.js",
	})

	r.Register(TypeScript, Recipe{
		SourceFile:     "main.ts",
		CompileCommand: "tsc main.ts",
		RunCommand:     "node main.js",
	})

	r.Register(Go, Recipe{
		SourceFile:     "main.go",
		CompileCommand: "go build -o main main.go",
		RunCommand:     "./main",
	})

	r.Register(Bash, Recipe{
		SourceFile: "main.sh",
		RunCommand: "bash main.sh",
	})
}
