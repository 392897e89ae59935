package benchmark

import (
	"io"
	"log/slog"

	"github.com/danpasecinic/rewire"
)

type Config struct {
	Host string
	Port int
}

type Logger struct {
	Level string
}

type Database struct {
	Config *Config
	Logger *Logger
}

type Cache struct {
	Logger *Logger
}

type Repository struct {
	DB    *Database
	Cache *Cache
}

type Service struct {
	Repo   *Repository
	Logger *Logger
}

func newConfig() *Config { return &Config{Host: "localhost", Port: 8080} }
func newLogger() *Logger { return &Logger{Level: "info"} }
func newCache(l *Logger) *Cache {
	return &Cache{Logger: l}
}
func newDatabase(cfg *Config, l *Logger) *Database {
	return &Database{Config: cfg, Logger: l}
}
func newRepository(db *Database, cache *Cache) *Repository {
	return &Repository{DB: db, Cache: cache}
}
func newService(repo *Repository, l *Logger) *Service {
	return &Service{Repo: repo, Logger: l}
}

// chain is the six-constructor graph shared by every framework.
var chain = []any{newConfig, newLogger, newDatabase, newCache, newRepository, newService}

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func rewireChain(opts ...rewire.Option) *rewire.Container {
	c := rewire.New(append([]rewire.Option{rewire.WithLogger(quiet)}, opts...)...)
	for _, fn := range chain {
		c.Bind(rewire.MustInjectAll(fn))
	}
	return c
}
