package config

import (
	"cmp"
	"flag"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"reflect"
	"runtime/debug"
	"slices"
)

const (
	tagEnv         = "env"
	tagFlag        = "flag"
	tagDefault     = "default"
	tagDescription = "desc"     // help text for flags
	tagOptional    = "optional" // zero value is allowed
	tagShort       = "short"    // additional one-letter flag
	tagYAML        = "yaml"     // key override in YAML files

	tagDockerSecret = "dsec"
)

// Source priorities. Higher priorities are applied later and win.
const (
	PriorityDefault = 0
	PriorityFile    = 25
	PriorityEnv     = 50
	PrioritySecrets = 75
	PriorityFlags   = 100
)

// Source applies values to the fields of the struct being parsed.
type Source interface {
	Priority() int
	Process(fields map[string]Field) error
}

// Options holds options for Parse.
type Options struct {
	// ProgramName is used in flag usage messages (defaults to os.Args[0]).
	ProgramName string
	// EnvPrefix is prepended to derived environment variable names. Names
	// given with the env tag are used as is.
	EnvPrefix string
	// SkipFlags ignores command line flags.
	SkipFlags bool
	// SkipEnv ignores environment variables.
	SkipEnv bool
	// Args are the command line arguments (defaults to os.Args[1:]).
	Args []string
	// ErrorHandling determines how parsing errors are handled.
	ErrorHandling flag.ErrorHandling
	// Sources adds sources such as YAMLFileSource or DockerSecretsSource.
	Sources []Source
}

func (o Options) withDefaults() Options {
	if o.ProgramName == "" && len(os.Args) > 0 {
		o.ProgramName = os.Args[0]
	}
	if o.Args == nil && len(os.Args) > 0 {
		o.Args = os.Args[1:]
	}
	return o
}

// Field is one settable leaf of the struct being parsed.
type Field struct {
	// Path is the dotted Go field path, e.g. "Storage.Driver".
	Path        string
	Value       reflect.Value
	Kind        reflect.Kind
	Tag         reflect.StructTag
	Description string
}

// Parse populates cfg, a pointer to a struct, from its sources in priority
// order (lowest first):
//
//	defaults from struct tags - 0
//	additional sources, e.g. YAML file (25), docker secrets (75)
//	environment variables - 50
//	command line flags - 100
//
// Fields that are already non-zero are left alone. A top-level string field
// named Version receives the module version from the build info.
// Every source runs even when an earlier one fails; all errors are returned
// together as a *MultiError.
func Parse(cfg any, options Options) error {
	opts := options.withDefaults()

	v := reflect.ValueOf(cfg)
	if v.Kind() != reflect.Pointer || v.Elem().Kind() != reflect.Struct {
		return handleError(opts.ErrorHandling, ErrNotPointerToStruct)
	}

	fields := walkStruct(v.Elem(), "")

	sources := []Source{&defaultSource{}}
	if !opts.SkipEnv {
		sources = append(sources, &envSource{prefix: opts.EnvPrefix})
	}
	if !opts.SkipFlags {
		sources = append(sources, &flagSource{
			programName:   opts.ProgramName,
			args:          opts.Args,
			errorHandling: opts.ErrorHandling,
		})
	}
	sources = append(sources, opts.Sources...)

	if version, ok := fields["Version"]; ok && version.Kind == reflect.String {
		version.Value.SetString(buildVersion())
	}

	slices.SortStableFunc(sources, func(a, b Source) int {
		return cmp.Compare(a.Priority(), b.Priority())
	})

	var errs []error
	for _, source := range sources {
		errs = append(errs, source.Process(fields))
	}
	errs = append(errs, validateRequired(fields))

	if err := join(errs...); err != nil {
		return handleError(opts.ErrorHandling, err)
	}
	return nil
}

func buildVersion() string {
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return "(devel)"
	}
	return cmp.Or(bi.Main.Version, "(devel)")
}

// walkStruct maps dotted paths to the zero-valued leaf fields of v.
func walkStruct(v reflect.Value, prefix string) map[string]Field {
	fields := map[string]Field{}
	t := v.Type()

	for i := range v.NumField() {
		sf := t.Field(i)
		fv := v.Field(i)

		if !sf.IsExported() || !fv.IsZero() {
			continue
		}

		path := sf.Name
		if prefix != "" {
			path = prefix + "." + sf.Name
		}

		if fv.Kind() == reflect.Struct && fv.Type() != durationType {
			maps.Copy(fields, walkStruct(fv, path))
			continue
		}

		fields[path] = Field{
			Path:        path,
			Value:       fv,
			Kind:        fv.Kind(),
			Tag:         sf.Tag,
			Description: cmp.Or(sf.Tag.Get(tagDescription), path),
		}
	}
	return fields
}

func validateRequired(fields map[string]Field) error {
	var errs []error

	for _, path := range slices.Sorted(maps.Keys(fields)) {
		field := fields[path]
		if v, ok := field.Tag.Lookup(tagOptional); ok && v != "false" {
			continue
		}
		if field.Value.IsZero() {
			errs = append(errs, fmt.Errorf("%s is required", path))
		}
	}

	return join(errs...)
}

func handleError(errHandling flag.ErrorHandling, err error) error {
	switch errHandling {
	case flag.ExitOnError:
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	case flag.PanicOnError:
		panic(err)
	}
	return err
}
