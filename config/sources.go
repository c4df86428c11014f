package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/erlorenz/memvault/config/internal/casing"
)

const (
	dockerPath    = "/run/secrets"
	maxSecretSize = 1 << 20 // 1MB
)

var durationType = reflect.TypeOf(time.Duration(0))

// setField parses raw into field according to its type.
func setField(field Field, raw string) error {
	if field.Value.Type() == durationType {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("cannot parse duration %s: %w", field.Path, err)
		}
		field.Value.SetInt(int64(d))
		return nil
	}

	switch field.Kind {
	case reflect.String:
		field.Value.SetString(raw)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(raw, 10, field.Value.Type().Bits())
		if err != nil {
			return fmt.Errorf("cannot set %s: %w", field.Path, err)
		}
		field.Value.SetInt(n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(raw, 10, field.Value.Type().Bits())
		if err != nil {
			return fmt.Errorf("cannot set %s: %w", field.Path, err)
		}
		field.Value.SetUint(n)
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(raw, field.Value.Type().Bits())
		if err != nil {
			return fmt.Errorf("cannot set %s: %w", field.Path, err)
		}
		field.Value.SetFloat(f)
	case reflect.Bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return fmt.Errorf("cannot set %s: %w", field.Path, err)
		}
		field.Value.SetBool(b)
	default:
		return fmt.Errorf("cannot set %s: unsupported kind %s", field.Path, field.Kind)
	}
	return nil
}

// Defaults ==================================================================

type defaultSource struct{}

func (s *defaultSource) Priority() int { return PriorityDefault }

func (s *defaultSource) Process(fields map[string]Field) error {
	var errs []error
	for _, field := range fields {
		if def, ok := field.Tag.Lookup(tagDefault); ok {
			errs = append(errs, setField(field, def))
		}
	}
	return join(errs...)
}

// Environment ===============================================================

type envSource struct {
	prefix string
}

func (s *envSource) Priority() int { return PriorityEnv }

func (s *envSource) Process(fields map[string]Field) error {
	var errs []error
	for _, field := range fields {
		if v, ok := os.LookupEnv(envName(field, s.prefix)); ok {
			errs = append(errs, setField(field, v))
		}
	}
	return join(errs...)
}

// envName returns the environment variable consulted for field.
func envName(field Field, prefix string) string {
	if name, ok := field.Tag.Lookup(tagEnv); ok {
		return name
	}
	name := casing.ToScreamingSnake(field.Path)
	if prefix != "" {
		name = prefix + "_" + name
	}
	return name
}

// Flags =====================================================================

type flagSource struct {
	programName   string
	args          []string
	errorHandling flag.ErrorHandling
}

func (s *flagSource) Priority() int { return PriorityFlags }

// stringFlag records whether a flag was given so an explicit
// "-storage-sync-writes=false" still overrides a lower source.
type stringFlag struct {
	value  string
	set    bool
	isBool bool
}

func (f *stringFlag) String() string   { return f.value }
func (f *stringFlag) IsBoolFlag() bool { return f.isBool }

func (f *stringFlag) Set(v string) error {
	f.value, f.set = v, true
	return nil
}

// Process registers a flag per field (kebab-case path, or the flag tag) plus
// an optional short alias. The tag flag:"-" keeps a field off the command
// line.
func (s *flagSource) Process(fields map[string]Field) error {
	flags := flag.NewFlagSet(s.programName, s.errorHandling)

	values := map[string][]*stringFlag{}
	for path, field := range fields {
		name := casing.ToKebab(path)
		if tag, ok := field.Tag.Lookup(tagFlag); ok {
			if tag == "-" {
				continue
			}
			name = tag
		}

		names := []string{name}
		if short := field.Tag.Get(tagShort); short != "" {
			names = append(names, short)
		}

		for _, n := range names {
			f := &stringFlag{isBool: field.Kind == reflect.Bool}
			flags.Var(f, n, field.Description)
			values[path] = append(values[path], f)
		}
	}

	if err := flags.Parse(s.args); err != nil {
		return fmt.Errorf("parse flags: %w", err)
	}

	var errs []error
	for path, given := range values {
		for _, f := range given {
			if f.set {
				errs = append(errs, setField(fields[path], f.value))
			}
		}
	}
	return join(errs...)
}

// YAML file =================================================================

// YAMLFileSource reads a YAML document whose nesting mirrors the struct.
// Keys are the snake_case field names ("storage: {sync_writes: true}")
// unless overridden with the yaml tag.
type YAMLFileSource struct {
	Path string
	// Optional skips a missing file instead of failing.
	Optional bool
	// PriorityLevel defaults to PriorityFile.
	PriorityLevel int
}

// NewYAMLFileSource returns a source for the file at path with priority
// PriorityFile.
func NewYAMLFileSource(path string) *YAMLFileSource {
	return &YAMLFileSource{Path: path, PriorityLevel: PriorityFile}
}

// Priority implements Source.
func (s *YAMLFileSource) Priority() int {
	return s.PriorityLevel
}

// Process implements Source.
func (s *YAMLFileSource) Process(fields map[string]Field) error {
	b, err := os.ReadFile(s.Path)
	if err != nil {
		if s.Optional && errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", s.Path, err)
	}

	var doc map[string]any
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return fmt.Errorf("parse %s: %w", s.Path, err)
	}

	var errs []error
	for path, field := range fields {
		v, ok := lookupYAML(doc, path, field)
		if !ok {
			continue
		}
		errs = append(errs, setField(field, fmt.Sprint(v)))
	}
	return join(errs...)
}

func lookupYAML(doc map[string]any, path string, field Field) (any, bool) {
	segments := strings.Split(path, ".")
	if tag, ok := field.Tag.Lookup(tagYAML); ok {
		segments[len(segments)-1] = tag
	} else {
		segments[len(segments)-1] = casing.ToSnake(segments[len(segments)-1])
	}

	var cur any = doc
	for i, seg := range segments {
		if i < len(segments)-1 {
			seg = casing.ToSnake(seg)
		}
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		if cur, ok = m[seg]; !ok {
			return nil, false
		}
	}

	switch cur.(type) {
	case nil, map[string]any, []any:
		return nil, false
	}
	return cur, true
}

// File contents =============================================================

// FileContentSource sets each field from the file named after it inside
// FS: the snake_case path, or the value of the field's Tag.
type FileContentSource struct {
	PriorityLevel int
	Tag           string
	FS            fs.FS
}

// Priority implements Source.
func (s *FileContentSource) Priority() int {
	return s.PriorityLevel
}

// Process implements Source.
func (s *FileContentSource) Process(fields map[string]Field) error {
	if s.FS == nil {
		return errors.New("file content source: fs.FS cannot be nil")
	}

	var errs []error
	for path, field := range fields {
		name := casing.ToSnake(path)
		if tag, ok := field.Tag.Lookup(s.Tag); ok {
			name = tag
		}

		raw, err := readLimited(s.FS, name)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			errs = append(errs, err)
			continue
		}
		errs = append(errs, setField(field, raw))
	}
	return join(errs...)
}

func readLimited(fsys fs.FS, name string) (string, error) {
	f, err := fsys.Open(name)
	if err != nil {
		return "", err
	}
	defer f.Close()

	b, err := io.ReadAll(io.LimitReader(f, maxSecretSize+1))
	if err != nil {
		return "", fmt.Errorf("cannot read file %s: %w", name, err)
	}
	if len(b) > maxSecretSize {
		return "", fmt.Errorf("file %s exceeds max size of %d bytes", name, maxSecretSize)
	}
	return strings.TrimSpace(string(b)), nil
}

// DockerSecretsSource reads docker secrets from /run/secrets/<name>, where
// name is the snake_case field path or the dsec tag. A missing secrets
// directory is not an error.
type DockerSecretsSource struct {
	SecretsPath string
	FileContentSource
}

// NewDockerSecretsSource returns a source with priority PrioritySecrets
// reading /run/secrets.
func NewDockerSecretsSource() *DockerSecretsSource {
	return &DockerSecretsSource{
		SecretsPath: dockerPath,
		FileContentSource: FileContentSource{
			PriorityLevel: PrioritySecrets,
			Tag:           tagDockerSecret,
		},
	}
}

// Process opens SecretsPath as an os.Root so secret names cannot escape it.
func (s *DockerSecretsSource) Process(fields map[string]Field) error {
	root, err := os.OpenRoot(s.SecretsPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open docker secrets: %w", err)
	}
	defer root.Close()

	s.FileContentSource.FS = root.FS()
	return s.FileContentSource.Process(fields)
}
