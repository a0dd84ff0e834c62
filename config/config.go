// Package config resolves the server configuration from the embedded
// defaults, an optional override file and JERRYMOUSE_* environment variables.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/joeshaw/envdecode"
	"gopkg.in/yaml.v3"
)

//go:embed server.yml
var defaultYAML []byte

// Server is the resolved configuration. It is immutable once Load returns.
type Server struct {
	Host                string
	Port                int
	Backlog             int
	RequestEncoding     string
	ResponseEncoding    string
	Name                string
	MimeDefault         string
	ThreadPoolSize      int
	EnableVirtualThread bool
	// MimeTypes maps an extension including the leading dot to a media type.
	MimeTypes        map[string]string
	WebApp           WebApp
	ForwardedHeaders ForwardedHeaders
}

type WebApp struct {
	Name              string
	FileListings      bool
	VirtualServerName string
	SessionCookieName string
	SessionTimeout    time.Duration
}

// ForwardedHeaders names request headers set by a reverse proxy. Empty names
// are ignored.
type ForwardedHeaders struct {
	Proto string
	Host  string
	For   string
}

// Addr is the host:port the connector binds.
func (s *Server) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// Default returns the embedded configuration.
func Default() (*Server, error) {
	doc, err := Parse(defaultYAML)
	if err != nil {
		return nil, fmt.Errorf("default config: %w", err)
	}
	return doc.resolve(), nil
}

// Load resolves the configuration. overridePath may be empty. Environment
// overrides are applied last.
func Load(overridePath string) (*Server, error) {
	doc, err := Parse(defaultYAML)
	if err != nil {
		return nil, fmt.Errorf("default config: %w", err)
	}

	if overridePath != "" {
		b, err := os.ReadFile(overridePath)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", overridePath, err)
		}
		override, err := Parse(b)
		if err != nil {
			return nil, fmt.Errorf("config %s: %w", overridePath, err)
		}
		doc = Merge(doc, override)
	}

	srv := doc.resolve()
	if err := applyEnv(srv); err != nil {
		return nil, err
	}
	return srv, nil
}

// env lists the settings that may be overridden from the environment.
type env struct {
	Host           string `env:"JERRYMOUSE_HOST"`
	Port           int    `env:"JERRYMOUSE_PORT"`
	Backlog        int    `env:"JERRYMOUSE_BACKLOG"`
	ThreadPoolSize int    `env:"JERRYMOUSE_THREAD_POOL_SIZE"`
	Name           string `env:"JERRYMOUSE_NAME"`
	// Booleans are read as strings so an unset variable can be told apart
	// from "false".
	FileListings   string `env:"JERRYMOUSE_FILE_LISTINGS"`
	SessionTimeout int    `env:"JERRYMOUSE_SESSION_TIMEOUT"`
}

func applyEnv(s *Server) error {
	var e env
	if err := envdecode.Decode(&e); err != nil {
		if errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
			return nil
		}
		return fmt.Errorf("environment: %w", err)
	}

	if e.Host != "" {
		s.Host = e.Host
	}
	if e.Port != 0 {
		s.Port = e.Port
	}
	if e.Backlog != 0 {
		s.Backlog = e.Backlog
	}
	if e.ThreadPoolSize != 0 {
		s.ThreadPoolSize = e.ThreadPoolSize
	}
	if e.Name != "" {
		s.Name = e.Name
	}
	if e.FileListings != "" {
		v, err := strconv.ParseBool(e.FileListings)
		if err != nil {
			return fmt.Errorf("environment: JERRYMOUSE_FILE_LISTINGS: %w", err)
		}
		s.WebApp.FileListings = v
	}
	if e.SessionTimeout != 0 {
		s.WebApp.SessionTimeout = time.Duration(e.SessionTimeout) * time.Second
	}
	return nil
}

// Document is the YAML shape of a configuration file. Absent keys decode to
// nil so that an override only replaces what it names.
type Document struct {
	Server *ServerDoc `yaml:"server"`
}

type ServerDoc struct {
	Host                *string           `yaml:"host"`
	Port                *int              `yaml:"port"`
	Backlog             *int              `yaml:"backlog"`
	RequestEncoding     *string           `yaml:"request-encoding"`
	ResponseEncoding    *string           `yaml:"response-encoding"`
	Name                *string           `yaml:"name"`
	MimeDefault         *string           `yaml:"mime-default"`
	ThreadPoolSize      *int              `yaml:"thread-pool-size"`
	EnableVirtualThread *bool             `yaml:"enable-virtual-thread"`
	MimeTypes           map[string]string `yaml:"mime-types"`
	WebApp              *WebAppDoc        `yaml:"web-app"`
	ForwardedHeaders    *ForwardedDoc     `yaml:"forwarded-headers"`
}

type WebAppDoc struct {
	Name              *string `yaml:"name"`
	FileListings      *bool   `yaml:"file-listings"`
	VirtualServerName *string `yaml:"virtual-server-name"`
	SessionCookieName *string `yaml:"session-cookie-name"`
	// SessionTimeout is in seconds.
	SessionTimeout *int `yaml:"session-timeout"`
}

type ForwardedDoc struct {
	Proto *string `yaml:"forwarded-proto"`
	Host  *string `yaml:"forwarded-host"`
	For   *string `yaml:"forwarded-for"`
}

// Parse decodes a configuration document. Unknown keys are ignored.
func Parse(b []byte) (*Document, error) {
	var doc Document
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	return &doc, nil
}

func (d *Document) resolve() *Server {
	s := &Server{MimeTypes: map[string]string{}}
	sd := d.Server
	if sd == nil {
		sd = &ServerDoc{}
	}
	s.Host = deref(sd.Host)
	s.Port = deref(sd.Port)
	s.Backlog = deref(sd.Backlog)
	s.RequestEncoding = deref(sd.RequestEncoding)
	s.ResponseEncoding = deref(sd.ResponseEncoding)
	s.Name = deref(sd.Name)
	s.MimeDefault = deref(sd.MimeDefault)
	s.ThreadPoolSize = deref(sd.ThreadPoolSize)
	s.EnableVirtualThread = deref(sd.EnableVirtualThread)
	for k, v := range sd.MimeTypes {
		s.MimeTypes[k] = v
	}
	if wa := sd.WebApp; wa != nil {
		s.WebApp = WebApp{
			Name:              deref(wa.Name),
			FileListings:      deref(wa.FileListings),
			VirtualServerName: deref(wa.VirtualServerName),
			SessionCookieName: deref(wa.SessionCookieName),
			SessionTimeout:    time.Duration(deref(wa.SessionTimeout)) * time.Second,
		}
	}
	if fh := sd.ForwardedHeaders; fh != nil {
		s.ForwardedHeaders = ForwardedHeaders{
			Proto: deref(fh.Proto),
			Host:  deref(fh.Host),
			For:   deref(fh.For),
		}
	}
	if s.WebApp.SessionCookieName == "" {
		s.WebApp.SessionCookieName = "JSESSIONID"
	}
	return s
}

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}
